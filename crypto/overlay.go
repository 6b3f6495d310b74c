package crypto

import (
	"encoding/binary"
	"encoding/hex"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// OverlayLength is the byte length of an overlay address.
const OverlayLength = 32

// MaxProximity is the deepest meaningful proximity order between two overlay
// addresses. Identical overlays agree on all 256 bits, but orders are carried
// as uint8 throughout, so the value saturates at 255; no depth in use gets
// anywhere near it.
const MaxProximity = uint8(255)

// Overlay is the pseudo-random 32-byte network address an operator occupies.
// It is derived once from the operator identity and never chosen freely, so
// operators cannot position themselves inside a neighbourhood of their choice.
type Overlay [OverlayLength]byte

func (o Overlay) String() string {
	return hex.EncodeToString(o[:])
}

// OverlayFromBytes copies raw bytes into an Overlay. Short input is
// zero-padded on the right, long input truncated.
func OverlayFromBytes(b []byte) Overlay {
	var o Overlay
	copy(o[:], b)
	return o
}

// NewOverlay derives the overlay address for an operator identity on the
// given network: keccak256(owner || networkID little-endian || nonce).
func NewOverlay(owner Address, networkID uint64, nonce [32]byte) Overlay {
	data := make([]byte, 0, AddressLength+8+32)
	data = append(data, owner.Bytes()...)
	data = binary.LittleEndian.AppendUint64(data, networkID)
	data = append(data, nonce[:]...)
	return OverlayFromBytes(ethcrypto.Keccak256(data))
}

// Proximity returns the proximity order of two overlays: the number of
// leading bits on which they agree, capped at MaxProximity.
func Proximity(a, b Overlay) uint8 {
	for i := 0; i < OverlayLength; i++ {
		x := a[i] ^ b[i]
		if x == 0 {
			continue
		}
		order := uint8(i * 8)
		for mask := byte(0x80); mask > 0 && x&mask == 0; mask >>= 1 {
			order++
		}
		return order
	}
	return MaxProximity
}

// InProximity reports whether two overlays agree on at least minBits leading
// bits. minBits of zero is always satisfied.
func InProximity(a, b Overlay, minBits uint8) bool {
	if minBits == 0 {
		return true
	}
	return Proximity(a, b) >= minBits
}

// Keccak256 exposes the hash used for overlay, batch and commitment
// derivations so every module shares one digest.
func Keccak256(data ...[]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(data...))
	return out
}
