package rpc

import (
	"net/http"

	"swarmchain/native/postage"
)

type postageCreateParams struct {
	Caller                 string `json:"caller"`
	Owner                  string `json:"owner"`
	InitialBalancePerChunk string `json:"initialBalancePerChunk"`
	Depth                  uint8  `json:"depth"`
	BucketDepth            uint8  `json:"bucketDepth"`
	Nonce                  string `json:"nonce"`
	Immutable              bool   `json:"immutable"`
}

func (s *Server) handlePostageCreate(w http.ResponseWriter, req *rpcRequest) {
	var params postageCreateParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	owner, err := decodeBech32(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner", err.Error())
		return
	}
	nonce, err := decodeHex32(params.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid nonce", err.Error())
		return
	}
	balance, err := parseAmount(params.InitialBalancePerChunk)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid balance", err.Error())
		return
	}
	id, err := s.node.Postage().CreateBatch(caller, owner, balance, params.Depth, params.BucketDepth, nonce, params.Immutable)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"batchId": formatHash(id)})
}

type postageBatchParams struct {
	BatchID string `json:"batchId"`
}

type postageBatchResult struct {
	BatchID           string `json:"batchId"`
	Owner             string `json:"owner"`
	Depth             uint8  `json:"depth"`
	BucketDepth       uint8  `json:"bucketDepth"`
	Immutable         bool   `json:"immutable"`
	NormalisedBalance string `json:"normalisedBalance"`
}

func batchID(w http.ResponseWriter, req *rpcRequest, value string) (postage.BatchID, bool) {
	raw, err := decodeHex32(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid batch id", err.Error())
		return postage.BatchID{}, false
	}
	return postage.BatchID(raw), true
}

func (s *Server) handlePostageGet(w http.ResponseWriter, req *rpcRequest) {
	var params postageBatchParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, ok := batchID(w, req, params.BatchID)
	if !ok {
		return
	}
	batch, err := s.node.Postage().GetBatch(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if batch == nil {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, postageBatchResult{
		BatchID:           formatHash(id),
		Owner:             formatAddress(batch.Owner),
		Depth:             batch.Depth,
		BucketDepth:       batch.BucketDepth,
		Immutable:         batch.Immutable,
		NormalisedBalance: formatAmount(batch.NormalisedBalance),
	})
}

func (s *Server) handlePostageRemainingBalance(w http.ResponseWriter, req *rpcRequest) {
	var params postageBatchParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, ok := batchID(w, req, params.BatchID)
	if !ok {
		return
	}
	remaining, err := s.node.Postage().RemainingBalance(id)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"remainingBalancePerChunk": formatAmount(remaining)})
}

func (s *Server) handlePostagePot(w http.ResponseWriter, req *rpcRequest) {
	pot, err := s.node.Postage().Pot()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	chunks, err := s.node.Postage().ValidChunkCount()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"pot":             formatAmount(pot),
		"validChunkCount": formatAmount(chunks),
	})
}

type postageTopUpParams struct {
	Caller         string `json:"caller"`
	BatchID        string `json:"batchId"`
	AmountPerChunk string `json:"amountPerChunk"`
}

func (s *Server) handlePostageTopUp(w http.ResponseWriter, req *rpcRequest) {
	var params postageTopUpParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	id, ok := batchID(w, req, params.BatchID)
	if !ok {
		return
	}
	amount, err := parseAmount(params.AmountPerChunk)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid amount", err.Error())
		return
	}
	if err := s.node.Postage().TopUp(caller, id, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type postageIncreaseDepthParams struct {
	Caller   string `json:"caller"`
	BatchID  string `json:"batchId"`
	NewDepth uint8  `json:"newDepth"`
}

func (s *Server) handlePostageIncreaseDepth(w http.ResponseWriter, req *rpcRequest) {
	var params postageIncreaseDepthParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	id, ok := batchID(w, req, params.BatchID)
	if !ok {
		return
	}
	if err := s.node.Postage().IncreaseDepth(caller, id, params.NewDepth); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type postageExpireParams struct {
	MaxIterations uint64 `json:"maxIterations"`
}

func (s *Server) handlePostageExpire(w http.ResponseWriter, req *rpcRequest) {
	var params postageExpireParams
	if !decodeParams(w, req, &params) {
		return
	}
	if params.MaxIterations == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "maxIterations must be positive", nil)
		return
	}
	if err := s.node.Postage().ExpireLimited(params.MaxIterations); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
