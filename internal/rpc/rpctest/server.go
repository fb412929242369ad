// Package rpctest provides an in-process fake Solana JSON-RPC endpoint for tests.
package rpctest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/aman-zulfiqar/solana-bundler/internal/rpc"
)

// Handler answers one JSON-RPC method. Returning a non-nil *rpc.RPCError
// produces an error envelope instead of a result.
type Handler func(params json.RawMessage) (any, *rpc.RPCError)

// Server is a fake JSON-RPC endpoint. Unknown methods answer with -32601.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
}

func NewServer() *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Handle registers h for method, replacing any previous handler.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Result registers a handler that always returns v.
func (s *Server) Result(method string, v any) {
	s.Handle(method, func(json.RawMessage) (any, *rpc.RPCError) { return v, nil })
}

// Calls reports how many times method was invoked.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     any             `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Method]++
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()

	out := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if !ok {
		out["error"] = rpc.RPCError{Code: -32601, Message: "method not found"}
	} else if res, rpcErr := h(req.Params); rpcErr != nil {
		out["error"] = rpcErr
	} else {
		out["result"] = res
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Down returns a URL that refuses connections.
func Down() string {
	s := httptest.NewServer(http.NotFoundHandler())
	url := s.URL
	s.Close()
	return url
}
