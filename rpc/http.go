package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"swarmchain/core"
	nativecommon "swarmchain/native/common"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
	codeModulePaused   = -32030
)

// Config controls the server's auth and rate-limit behaviour.
type Config struct {
	// AuthToken gates mutating methods; empty disables them entirely.
	AuthToken string
	// RequestsPerMinute throttles each source address; zero disables.
	RequestsPerMinute float64
	// Burst allows short spikes above the sustained rate.
	Burst int
}

// Server exposes the node over JSON-RPC 2.0.
type Server struct {
	node *core.Node
	log  *slog.Logger
	cfg  Config

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewServer builds an RPC server over the node.
func NewServer(node *core.Node, cfg Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		node:     node,
		log:      log,
		cfg:      cfg,
		visitors: make(map[string]*rate.Limiter),
	}
}

// Router assembles the HTTP surface: the JSON-RPC endpoint, health and
// prometheus metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &rpcError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// writeEngineError maps module sentinel errors onto JSON-RPC error codes so
// clients can branch without string matching.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused), errors.Is(err, nativecommon.ErrModuleNotPaused):
		writeError(w, http.StatusConflict, id, codeModulePaused, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	default:
		writeError(w, http.StatusBadRequest, id, codeServerError, err.Error(), nil)
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(clientSource(r)) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() { _ = reader.Close() }()
	body, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidRequest, "failed to read request body", err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &rpcRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, mutating := s.route(req.Method)
	if handler == nil {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	handler(w, req)
}

type methodHandler func(http.ResponseWriter, *rpcRequest)

// route returns the handler for a method plus whether it mutates state and
// thus requires the bearer token.
func (s *Server) route(method string) (methodHandler, bool) {
	switch method {
	case "stake_get":
		return s.handleStakeGet, false
	case "stake_effective":
		return s.handleStakeEffective, false
	case "postage_get":
		return s.handlePostageGet, false
	case "postage_remainingBalance":
		return s.handlePostageRemainingBalance, false
	case "postage_pot":
		return s.handlePostagePot, false
	case "oracle_price":
		return s.handleOraclePrice, false
	case "game_phase":
		return s.handleGamePhase, false
	case "game_round":
		return s.handleGameRound, false
	case "game_reveals":
		return s.handleGameReveals, false
	case "game_isWinner":
		return s.handleGameIsWinner, false
	case "game_isParticipating":
		return s.handleGameIsParticipating, false

	case "stake_manage":
		return s.handleStakeManage, true
	case "stake_migrate":
		return s.handleStakeMigrate, true
	case "postage_create":
		return s.handlePostageCreate, true
	case "postage_topUp":
		return s.handlePostageTopUp, true
	case "postage_increaseDepth":
		return s.handlePostageIncreaseDepth, true
	case "postage_expire":
		return s.handlePostageExpire, true
	case "oracle_adjust":
		return s.handleOracleAdjust, true
	case "game_commit":
		return s.handleGameCommit, true
	case "game_reveal":
		return s.handleGameReveal, true
	case "game_claim":
		return s.handleGameClaim, true
	case "admin_pause":
		return s.handleAdminPause, true
	case "admin_unpause":
		return s.handleAdminUnpause, true
	case "admin_setPrice":
		return s.handleAdminSetPrice, true
	case "admin_grantRole":
		return s.handleAdminGrantRole, true
	case "admin_revokeRole":
		return s.handleAdminRevokeRole, true
	}
	return nil, false
}

func (s *Server) requireAuth(r *http.Request) *rpcError {
	if s.cfg.AuthToken == "" {
		return &rpcError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return &rpcError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &rpcError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		return &rpcError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if s.cfg.RequestsPerMinute <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[source]
	if !ok {
		burst := s.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.cfg.RequestsPerMinute/60.0), burst)
		s.visitors[source] = limiter
	}
	return limiter.Allow()
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if comma := strings.IndexByte(forwarded, ','); comma > 0 {
			forwarded = forwarded[:comma]
		}
		if candidate := strings.TrimSpace(forwarded); candidate != "" {
			return candidate
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
