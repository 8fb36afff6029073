// Package server is the HTTP shell around the Dispatcher: a single JSON-RPC
// 2.0 POST route plus a request-logging middleware, grounded in the
// teacher's walletserver/main.go and walletserver/middleware/Logger.
// gorilla/mux and chi (both present in the teacher/pack dependency set) are
// not reused here — JSON-RPC dispatch needs exactly one path with no
// per-method routing, so a mux adds nothing net/http doesn't already give.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gensim/rpc"
	"gensim/rpcerr"
)

// Config bundles the HTTP shell's construction-time dependencies.
type Config struct {
	Dispatcher *rpc.Dispatcher
	Logger     *logrus.Logger
}

// Server owns the single /api JSON-RPC route.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New builds a Server with its route already registered.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.mux.Handle("/api", logMiddleware(cfg.Logger, http.HandlerFunc(s.handleRPC)))
	return s
}

// ListenAndServe starts the HTTP server on addr, blocking until it exits.
func (s *Server) ListenAndServe(addr string) error {
	s.cfg.Logger.WithField("addr", addr).Info("server: listening")
	return http.ListenAndServe(addr, s.mux)
}

// Handler exposes the underlying mux, mainly for tests that want to drive
// requests with httptest without opening a real socket.
func (s *Server) Handler() http.Handler { return s.mux }

// logMiddleware tags every request with a trace id, logged at Debug so it
// only shows up under --verbose (spec §6.3), and mirrors the teacher's
// middleware.Logger shape (method/path/duration).
func logMiddleware(logger *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := uuid.NewString()
		ctx := context.WithValue(r.Context(), traceIDKey{}, traceID)
		next.ServeHTTP(w, r.WithContext(ctx))
		logger.WithFields(logrus.Fields{
			"trace_id": traceID,
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("server: request handled")
	})
}

type traceIDKey struct{}

// request is a single JSON-RPC 2.0 request object (spec §4.7).
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// response is a single JSON-RPC 2.0 response object.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// submissionTimeout bounds a single JSON-RPC call (spec "Cancellation /
// timeouts": the Server is free to impose a deadline since submissions
// carry none in-protocol).
const submissionTimeout = 30 * time.Second

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), submissionTimeout)
	defer cancel()
	r = r.WithContext(ctx)

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, response{JSONRPC: "2.0", Error: &wireError{Code: int(rpcerr.CodeParseError), Message: "parse error"}})
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(raw, &batch); err == nil {
		out := make([]response, len(batch))
		for i, item := range batch {
			out[i] = s.handleOne(r.Context(), item)
		}
		writeJSON(w, out)
		return
	}

	writeJSON(w, s.handleOne(r.Context(), raw))
}

func (s *Server) handleOne(ctx context.Context, raw json.RawMessage) response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return response{JSONRPC: "2.0", Error: &wireError{Code: int(rpcerr.CodeInvalidRequest), Message: "invalid request"}}
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return response{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: int(rpcerr.CodeInvalidRequest), Message: "missing jsonrpc version or method"}}
	}

	result, rerr := s.cfg.Dispatcher.Dispatch(ctx, req.Method, req.Params)
	if rerr != nil {
		s.cfg.Logger.WithError(rerr).WithField("method", req.Method).Debug("server: rpc error")
		return response{JSONRPC: "2.0", ID: req.ID, Error: &wireError{Code: int(rpcerr.CodeOf(rerr)), Message: rerr.Error()}}
	}
	return response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":-32603,"message":%q}}`, err.Error())
	}
}
