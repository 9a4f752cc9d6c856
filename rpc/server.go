package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"tradevault/audit"
	"tradevault/core"
	"tradevault/crypto"
	"tradevault/native/vault"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	ratePerSecond   = 10
	rateBurst       = 20
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// Vault module error range. Rejections map onto it by kind so clients can
// distinguish retryable refusals from hard failures without parsing messages.
const (
	codeVaultUnauthorized  = -32051
	codeVaultPolicy        = -32052
	codeVaultPrecondition  = -32053
	codeVaultExternal      = -32054
	codeVaultPostcondition = -32055
	codeVaultNotFound      = -32056
	codeVaultExists        = -32057
)

// Server exposes the vault node over JSON-RPC with a websocket event stream.
type Server struct {
	node   *core.Node
	aud    *audit.Store
	hub    *Hub
	secret []byte
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Config carries server wiring. Secret is the HMAC key for bearer tokens;
// when empty, mutating methods are rejected outright.
type Config struct {
	Node   *core.Node
	Audit  *audit.Store
	Hub    *Hub
	Secret []byte
	Logger *slog.Logger
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		node:     cfg.Node,
		aud:      cfg.Audit,
		hub:      cfg.Hub,
		secret:   cfg.Secret,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Router mounts the JSON-RPC endpoint, the websocket event stream, and the
// Prometheus scrape endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/", s.handle)
	r.Get("/ws/events", s.handleEventStream)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
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
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeVaultError translates engine failures into the module error range.
func writeVaultError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, vault.ErrVaultNotFound):
		writeError(w, http.StatusOK, id, codeVaultNotFound, "vault not found", nil)
		return
	case errors.Is(err, vault.ErrVaultExists):
		writeError(w, http.StatusOK, id, codeVaultExists, "vault already exists", nil)
		return
	}
	if rej, ok := vault.AsRejection(err); ok {
		code := codeVaultPrecondition
		switch rej.Kind {
		case vault.KindUnauthorized:
			code = codeVaultUnauthorized
		case vault.KindPolicy:
			code = codeVaultPolicy
		case vault.KindPrecondition:
			code = codeVaultPrecondition
		case vault.KindExternal:
			code = codeVaultExternal
		case vault.KindPostcondition:
			code = codeVaultPostcondition
		}
		writeError(w, http.StatusOK, id, code, rej.Message, map[string]string{
			"code": string(rej.Code),
			"kind": rej.Kind.String(),
		})
		return
	}
	writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(ratePerSecond), rateBurst)
		s.limiters[ip] = lim
	}
	return lim
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// caller extracts the authenticated acting identity from the bearer token.
// The token subject must be a bech32 address; it names the key the gateway
// verified out of band, and every mutating method uses it as the caller.
func (s *Server) caller(r *http.Request) (crypto.Address, *RPCError) {
	if len(s.secret) == 0 {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "server has no auth secret configured"}
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "authorization header must use Bearer scheme"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "invalid bearer token"}
	}
	addr, err := crypto.DecodeAddress(claims.Subject)
	if err != nil {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "token subject is not a valid address"}
	}
	return addr, nil
}

// IssueToken mints a bearer token for the given identity. Used by the CLI and
// by tests; expiry guards against indefinitely valid credentials.
func IssueToken(secret []byte, subject crypto.Address, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("rpc: auth secret required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiterFor(clientIP(r)).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
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

	switch req.Method {
	case "vault_initialize":
		s.authenticated(w, r, req, s.handleInitialize)
	case "vault_pause":
		s.authenticated(w, r, req, s.handlePause)
	case "vault_unpause":
		s.authenticated(w, r, req, s.handleUnpause)
	case "vault_setParams":
		s.authenticated(w, r, req, s.handleSetParams)
	case "vault_addMint":
		s.authenticated(w, r, req, s.handleAddMint)
	case "vault_removeMint":
		s.authenticated(w, r, req, s.handleRemoveMint)
	case "vault_setExecutor":
		s.authenticated(w, r, req, s.handleSetExecutor)
	case "vault_deposit":
		s.authenticated(w, r, req, s.handleDeposit)
	case "vault_withdraw":
		s.authenticated(w, r, req, s.handleWithdraw)
	case "vault_executeSwap":
		s.authenticated(w, r, req, s.handleExecuteSwap)
	case "vault_openPosition":
		s.authenticated(w, r, req, s.handleOpenPosition)
	case "vault_closePosition":
		s.authenticated(w, r, req, s.handleClosePosition)
	case "vault_get":
		s.handleGetVault(w, req)
	case "vault_getExecutor":
		s.handleGetExecutor(w, req)
	case "vault_getPosition":
		s.handleGetPosition(w, req)
	case "vault_getBalance":
		s.handleGetBalance(w, req)
	case "vault_getWhitelist":
		s.handleGetWhitelist(w, req)
	case "vault_getEvents":
		s.handleGetEvents(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address)

func (s *Server) authenticated(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn authedHandler) {
	caller, authErr := s.caller(r)
	if authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	fn(w, r, req, caller)
}
