package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/btcmap/btcmap-api/internal/access"
	"github.com/btcmap/btcmap-api/internal/apperr"
	"github.com/btcmap/btcmap-api/internal/logging"
	"github.com/btcmap/btcmap-api/internal/types"
)

// Call carries one resolved request through a Handler: the raw params, and
// (when authenticated) the caller's token and user.
type Call struct {
	Method string
	Params json.RawMessage
	Token  *types.AccessToken
	User   *types.User
	IP     string
}

// Handler executes one RPC method against typed params extracted from
// call.Params, returning the value serialized into the reply's "result".
type Handler func(ctx context.Context, call *Call) (any, error)

// AccessTokenRepo is the subset of AccessTokenRepo the dispatcher needs.
type AccessTokenRepo interface {
	SelectAllLive(ctx context.Context) ([]*types.AccessToken, error)
}

// UserRepo is the subset of UserRepo the dispatcher needs.
type UserRepo interface {
	SelectByID(ctx context.Context, id int64) (*types.User, error)
}

// BanRepo is the subset of BanRepo the dispatcher needs.
type BanRepo interface {
	SelectActiveByIP(ctx context.Context, ip string) ([]*types.Ban, error)
}

// RpcCallRepo is the subset of RpcCallRepo the audit trail needs. It is
// always constructed over the log database, never primary.
type RpcCallRepo interface {
	Insert(ctx context.Context, method, params string, userID *int64, ip string) (int64, error)
	MarkProcessed(ctx context.Context, id int64, durationMS int64) error
}

// publicMethods may be called without a bearer token (spec §4.11 step 2).
var publicMethods = map[string]bool{
	"get_area":    true,
	"get_element": true,
	"search":      true,
}

// Server dispatches JSON-RPC 2.0 requests to a registered method table,
// enforcing bans, bearer auth, and allowed-methods per spec §4.11–§4.12.
// Concurrency is bounded by a buffered-channel semaphore, mirroring the
// teacher's connSemaphore in internal/rpc/server_core.go; the stdlib
// net/http server already schedules each request on its own goroutine, so
// that goroutine pool doubles as the "task pool" spec.md §4.11 describes.
type Server struct {
	handlers      map[string]Handler
	tokens        AccessTokenRepo
	users         UserRepo
	bans          BanRepo
	calls         RpcCallRepo
	log           logging.Logger
	connSemaphore chan struct{}
	activeConns   atomic.Int32
}

// NewServer builds a Server with maxConns concurrent in-flight requests.
func NewServer(tokens AccessTokenRepo, users UserRepo, bans BanRepo, calls RpcCallRepo, log logging.Logger, maxConns int) *Server {
	if maxConns <= 0 {
		maxConns = 100
	}
	return &Server{
		handlers:      make(map[string]Handler),
		tokens:        tokens,
		users:         users,
		bans:          bans,
		calls:         calls,
		log:           log,
		connSemaphore: make(chan struct{}, maxConns),
	}
}

// Register adds method to the dispatch table. Intended to be called once
// per method at boot, before the server starts accepting requests.
func (s *Server) Register(method string, h Handler) {
	s.handlers[method] = h
}

// ActiveConns reports the number of requests currently being dispatched.
func (s *Server) ActiveConns() int32 { return s.activeConns.Load() }

func realIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// ServeHTTP implements the POST /rpc endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case s.connSemaphore <- struct{}{}:
		defer func() { <-s.connSemaphore }()
	default:
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	w.Header().Set("Content-Type", "application/json")

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, errorResponse(nil, CodeParseError, "malformed request envelope"))
		return
	}

	resp := s.dispatch(r.Context(), &req, realIP(r), bearerSecret(r))
	writeResponse(w, resp)
}

func bearerSecret(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimPrefix(h, prefix)
	}
	return ""
}

func (s *Server) dispatch(ctx context.Context, req *Request, ip, secret string) Response {
	if err := access.CheckBan(ctx, s.bans, ip, time.Now().UTC()); err != nil {
		return errorResponse(req.ID, CodeForbidden, err.Error())
	}

	handler, ok := s.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	authRequired := !(publicMethods[req.Method] && secret == "")

	var tok *types.AccessToken
	var user *types.User
	if authRequired {
		t, err := access.ResolveSecret(ctx, s.tokens, secret)
		if err != nil {
			return errorResponse(req.ID, CodeUnauthorized, err.Error())
		}
		tok = t
		u, err := s.users.SelectByID(ctx, tok.UserID)
		if err != nil {
			return errorResponse(req.ID, CodeUnauthorized, "resolving token owner: "+err.Error())
		}
		user = u

		if !tok.Allows(req.Method) {
			return errorResponse(req.ID, CodeForbidden, fmt.Sprintf("token not authorized for method %q", req.Method))
		}
	}

	var userID *int64
	if user != nil {
		userID = &user.ID
	}
	callID, auditErr := s.calls.Insert(ctx, req.Method, string(req.Params), userID, ip)
	if auditErr != nil {
		s.log.Error("recording rpc_call audit row failed", "method", req.Method, "error", auditErr)
	}

	start := time.Now()
	result, err := handler(ctx, &Call{Method: req.Method, Params: req.Params, Token: tok, User: user, IP: ip})
	if auditErr == nil {
		if markErr := s.calls.MarkProcessed(ctx, callID, time.Since(start).Milliseconds()); markErr != nil {
			s.log.Error("marking rpc_call processed failed", "call_id", callID, "error", markErr)
		}
	}

	if err != nil {
		return errorResponse(req.ID, codeForKind(apperr.KindOf(err)), err.Error())
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func codeForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindNotFound:
		return CodeNotFound
	case apperr.KindUnauthorized:
		return CodeUnauthorized
	case apperr.KindForbidden:
		return CodeForbidden
	case apperr.KindBadRequest:
		return CodeInvalidParams
	default:
		return CodeInternal
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	if resp.JSONRPC == "" {
		resp.JSONRPC = "2.0"
	}
	_ = json.NewEncoder(w).Encode(resp)
}
