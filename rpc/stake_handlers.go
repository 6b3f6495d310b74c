package rpc

import (
	"net/http"
)

type stakeManageParams struct {
	Caller string `json:"caller"`
	Nonce  string `json:"nonce"`
	Amount string `json:"amount"`
	Height uint8  `json:"height"`
}

type stakeRecordResult struct {
	Owner           string `json:"owner"`
	Overlay         string `json:"overlay"`
	Collateral      string `json:"collateral"`
	Height          uint8  `json:"height"`
	LastUpdateBlock uint64 `json:"lastUpdateBlock"`
	FrozenUntil     uint64 `json:"frozenUntil,omitempty"`
}

func (s *Server) handleStakeManage(w http.ResponseWriter, req *rpcRequest) {
	var params stakeManageParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	nonce, err := decodeHex32(params.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid nonce", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	record, err := s.node.Stake().ManageStake(caller, nonce, amount, params.Height)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stakeRecordResult{
		Owner:           formatAddress(record.Owner),
		Overlay:         record.Overlay.String(),
		Collateral:      formatAmount(record.Collateral),
		Height:          record.DeclaredHeight,
		LastUpdateBlock: record.LastUpdateBlock,
		FrozenUntil:     record.FrozenUntil,
	})
}

type stakeIdentityParams struct {
	Identity string `json:"identity"`
}

func (s *Server) handleStakeGet(w http.ResponseWriter, req *rpcRequest) {
	var params stakeIdentityParams
	if !decodeParams(w, req, &params) {
		return
	}
	identity, err := decodeBech32(params.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid identity", err.Error())
		return
	}
	record, err := s.node.Stake().GetStake(identity)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if record == nil {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, stakeRecordResult{
		Owner:           formatAddress(record.Owner),
		Overlay:         record.Overlay.String(),
		Collateral:      formatAmount(record.Collateral),
		Height:          record.DeclaredHeight,
		LastUpdateBlock: record.LastUpdateBlock,
		FrozenUntil:     record.FrozenUntil,
	})
}

func (s *Server) handleStakeEffective(w http.ResponseWriter, req *rpcRequest) {
	var params stakeIdentityParams
	if !decodeParams(w, req, &params) {
		return
	}
	identity, err := decodeBech32(params.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid identity", err.Error())
		return
	}
	effective, err := s.node.Stake().EffectiveStake(identity)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"effectiveStake": formatAmount(effective)})
}

type stakeMigrateParams struct {
	Caller string `json:"caller"`
}

func (s *Server) handleStakeMigrate(w http.ResponseWriter, req *rpcRequest) {
	var params stakeMigrateParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	amount, err := s.node.Stake().MigrateStake(caller)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"withdrawn": formatAmount(amount)})
}
