package postage

import (
	"math/big"
	"sort"
)

type indexEntry struct {
	balance *big.Int
	id      BatchID
}

// expiryIndex orders live batches by (normalised balance asc, id asc) so the
// soonest-to-expire batch is always at the front. It is an in-memory mirror
// of the persisted batch set, rebuilt from the store at startup.
type expiryIndex struct {
	entries []indexEntry
}

func newExpiryIndex() *expiryIndex {
	return &expiryIndex{}
}

func (x *expiryIndex) len() int { return len(x.entries) }

// first returns the entry with the smallest normalised balance.
func (x *expiryIndex) first() (indexEntry, bool) {
	if len(x.entries) == 0 {
		return indexEntry{}, false
	}
	return x.entries[0], true
}

func (x *expiryIndex) search(balance *big.Int, id BatchID) int {
	return sort.Search(len(x.entries), func(i int) bool {
		switch x.entries[i].balance.Cmp(balance) {
		case -1:
			return false
		case 1:
			return true
		default:
			return !x.entries[i].id.lessThan(id)
		}
	})
}

func (x *expiryIndex) insert(balance *big.Int, id BatchID) {
	entry := indexEntry{balance: new(big.Int).Set(balance), id: id}
	i := x.search(balance, id)
	x.entries = append(x.entries, indexEntry{})
	copy(x.entries[i+1:], x.entries[i:])
	x.entries[i] = entry
}

func (x *expiryIndex) remove(balance *big.Int, id BatchID) {
	i := x.search(balance, id)
	if i >= len(x.entries) || x.entries[i].id != id || x.entries[i].balance.Cmp(balance) != 0 {
		return
	}
	x.entries = append(x.entries[:i], x.entries[i+1:]...)
}

func (x *expiryIndex) reset() {
	x.entries = nil
}
