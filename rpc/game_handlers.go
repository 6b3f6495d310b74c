package rpc

import (
	"net/http"

	"swarmchain/crypto"
)

type gameCommitParams struct {
	Caller         string `json:"caller"`
	ObfuscatedHash string `json:"obfuscatedHash"`
	Round          uint64 `json:"round"`
}

func (s *Server) handleGameCommit(w http.ResponseWriter, req *rpcRequest) {
	var params gameCommitParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	obfuscated, err := decodeHex32(params.ObfuscatedHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid obfuscated hash", err.Error())
		return
	}
	if err := s.node.Game().Commit(caller, obfuscated, params.Round); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type gameRevealParams struct {
	Caller      string `json:"caller"`
	Depth       uint8  `json:"depth"`
	ReserveHash string `json:"reserveHash"`
	RevealNonce string `json:"revealNonce"`
}

func (s *Server) handleGameReveal(w http.ResponseWriter, req *rpcRequest) {
	var params gameRevealParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	hash, err := decodeHex32(params.ReserveHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid reserve hash", err.Error())
		return
	}
	nonce, err := decodeHex32(params.RevealNonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid reveal nonce", err.Error())
		return
	}
	if err := s.node.Game().Reveal(caller, params.Depth, hash, nonce); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

type gameClaimParams struct {
	Caller string `json:"caller"`
	Proof  string `json:"proof"`
}

func (s *Server) handleGameClaim(w http.ResponseWriter, req *rpcRequest) {
	var params gameClaimParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller", err.Error())
		return
	}
	proof, err := decodeHexBytes(params.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid proof", err.Error())
		return
	}
	amount, err := s.node.Game().Claim(caller, proof)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"amount": formatAmount(amount)})
}

func (s *Server) handleGamePhase(w http.ResponseWriter, req *rpcRequest) {
	anchor, err := s.node.Game().CurrentRoundAnchor()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"phase":  s.node.Game().CurrentPhase().String(),
		"round":  s.node.Game().CurrentRound(),
		"block":  s.node.Height(),
		"anchor": formatHash(anchor),
	})
}

func (s *Server) handleGameRound(w http.ResponseWriter, req *rpcRequest) {
	rs, err := s.node.Game().RoundStateView()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"round":               s.node.Game().CurrentRound(),
		"seed":                formatHash(rs.Seed),
		"currentMinimumDepth": rs.CurrentMinimumDepth,
		"lastClaimedRound":    rs.LastClaimedRound,
		"claimed":             rs.Claimed,
	})
}

type gameRevealResult struct {
	Overlay      string `json:"overlay"`
	Owner        string `json:"owner"`
	Depth        uint8  `json:"depth"`
	Hash         string `json:"hash"`
	Stake        string `json:"stake"`
	StakeDensity string `json:"stakeDensity"`
}

func (s *Server) handleGameReveals(w http.ResponseWriter, req *rpcRequest) {
	reveals, err := s.node.Game().CurrentRoundReveals()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	out := make([]gameRevealResult, 0, len(reveals))
	for _, r := range reveals {
		out = append(out, gameRevealResult{
			Overlay:      r.Overlay.String(),
			Owner:        formatAddress(r.Owner),
			Depth:        r.Depth,
			Hash:         formatHash(r.Hash),
			Stake:        formatAmount(r.Stake),
			StakeDensity: formatAmount(r.StakeDensity),
		})
	}
	writeResult(w, req.ID, out)
}

type gameIsWinnerParams struct {
	Overlay string `json:"overlay"`
}

func (s *Server) handleGameIsWinner(w http.ResponseWriter, req *rpcRequest) {
	var params gameIsWinnerParams
	if !decodeParams(w, req, &params) {
		return
	}
	raw, err := decodeHex32(params.Overlay)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid overlay", err.Error())
		return
	}
	won, err := s.node.Game().IsWinner(crypto.OverlayFromBytes(raw[:]))
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"isWinner": won})
}

type gameIsParticipatingParams struct {
	Identity string `json:"identity"`
	Depth    uint8  `json:"depth"`
}

func (s *Server) handleGameIsParticipating(w http.ResponseWriter, req *rpcRequest) {
	var params gameIsParticipatingParams
	if !decodeParams(w, req, &params) {
		return
	}
	identity, err := decodeBech32(params.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid identity", err.Error())
		return
	}
	participating, err := s.node.Game().IsParticipatingInUpcomingRound(identity, params.Depth)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"isParticipating": participating})
}
