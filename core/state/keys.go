package state

var (
	stakeRecordPrefix  = []byte("stake/record/")
	postageBatchPrefix = []byte("postage/batch/")
	postageGlobalsKey  = []byte("postage/globals")
	oracleStateKey     = []byte("oracle/state")
	gameRoundStateKey  = []byte("game/round")
	chainHeightKey     = []byte("chain/height")
	tokenAccountPrefix = []byte("token/account/")
)

func stakeKey(addr [20]byte) []byte {
	return append(append([]byte{}, stakeRecordPrefix...), addr[:]...)
}

func batchKey(id [32]byte) []byte {
	return append(append([]byte{}, postageBatchPrefix...), id[:]...)
}

func accountKey(addr [20]byte) []byte {
	return append(append([]byte{}, tokenAccountPrefix...), addr[:]...)
}
