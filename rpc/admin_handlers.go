package rpc

import (
	"net/http"
)

type oracleAdjustParams struct {
	Caller     string `json:"caller"`
	Redundancy uint64 `json:"redundancy"`
}

func (s *Server) handleOracleAdjust(w http.ResponseWriter, req *rpcRequest) {
	var params oracleAdjustParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	price, err := s.node.Oracle().AdjustPrice(caller, params.Redundancy)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"price": formatAmount(price)})
}

func (s *Server) handleOraclePrice(w http.ResponseWriter, req *rpcRequest) {
	price, err := s.node.Oracle().CurrentPrice()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	ledgerPrice, err := s.node.Postage().CurrentPrice()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"oraclePrice": formatAmount(price),
		"ledgerPrice": formatAmount(ledgerPrice),
	})
}

type adminSetPriceParams struct {
	Caller string `json:"caller"`
	Price  string `json:"price"`
}

func (s *Server) handleAdminSetPrice(w http.ResponseWriter, req *rpcRequest) {
	var params adminSetPriceParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid price", err.Error())
		return
	}
	applied, err := s.node.Oracle().SetPrice(caller, price)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"price": formatAmount(applied)})
}

type adminPauseParams struct {
	Caller string `json:"caller"`
	Module string `json:"module"`
}

func (s *Server) handleAdminPause(w http.ResponseWriter, req *rpcRequest) {
	var params adminPauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if err := s.node.Pause(caller, params.Module); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleAdminUnpause(w http.ResponseWriter, req *rpcRequest) {
	var params adminPauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	if err := s.node.Unpause(caller, params.Module); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type adminRoleParams struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

func (s *Server) handleAdminGrantRole(w http.ResponseWriter, req *rpcRequest) {
	var params adminRoleParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if err := s.node.GrantRole(caller, params.Role, addr); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleAdminRevokeRole(w http.ResponseWriter, req *rpcRequest) {
	var params adminRoleParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	if err := s.node.RevokeRole(caller, params.Role, addr); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}
