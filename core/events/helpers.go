package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"swarmchain/crypto"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func formatAddress(addr [20]byte) string {
	return crypto.MustNewAddress(crypto.SWMPrefix, addr[:]).String()
}

func formatHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
