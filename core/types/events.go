package types

// Event is the wire representation of a state change broadcast to RPC
// subscribers and indexers. Attributes are flat string pairs so downstream
// consumers never need module-specific decoding.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
