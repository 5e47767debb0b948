// Package rpc implements a read-only JSON-RPC 2.0 server over the local
// ledger, the deployed programs and committed mapping state.
//
// Supported methods:
//   - Chain: getLatestHeight, getLatestHash, getLatestBlock
//   - Block: getBlock, getBlocks, getTransactions
//   - Transaction: getTransaction
//   - Program: getProgram, getPrograms
//   - State: getMappingValue, getMappingEntries
//   - Node: getHealth, getVersion
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortiblox/X1-Strata/pkg/vm"
)

// MaxBlockRange is the widest range getBlocks serves.
const MaxBlockRange = 50

// Config holds RPC server configuration.
type Config struct {
	// Addr is the listen address (host:port).
	Addr string `yaml:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxRequestSize bounds the request body in bytes.
	MaxRequestSize int64 `yaml:"max_request_size"`

	// EnableCORS enables CORS headers for browser access.
	EnableCORS bool `yaml:"enable_cors"`

	// AllowedOrigins lists the allowed CORS origins. Empty allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Version is reported by getVersion.
	Version string `yaml:"-"`

	Logger zerolog.Logger `yaml:"-"`
}

// DefaultConfig returns a default RPC server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:3030",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxRequestSize: 50 * 1024,
		EnableCORS:     true,
		Logger:         zerolog.Nop(),
	}
}

// Server is the JSON-RPC 2.0 server.
type Server struct {
	config Config
	vm     *vm.VM
	log    zerolog.Logger

	handlers map[string]handlerFunc

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// handlerFunc is a JSON-RPC method handler.
type handlerFunc func(params json.RawMessage) (interface{}, *RPCError)

// New creates a server that answers from machine.
func New(config Config, machine *vm.VM) *Server {
	s := &Server{
		config:   config,
		vm:       machine,
		log:      config.Logger.With().Str("component", "rpc").Logger(),
		handlers: make(map[string]handlerFunc),
	}
	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.handlers["getLatestHeight"] = s.getLatestHeight
	s.handlers["getLatestHash"] = s.getLatestHash
	s.handlers["getLatestBlock"] = s.getLatestBlock

	s.handlers["getBlock"] = s.getBlock
	s.handlers["getBlocks"] = s.getBlocks
	s.handlers["getTransactions"] = s.getTransactions
	s.handlers["getTransaction"] = s.getTransaction

	s.handlers["getProgram"] = s.getProgram
	s.handlers["getPrograms"] = s.getPrograms

	s.handlers["getMappingValue"] = s.getMappingValue
	s.handlers["getMappingEntries"] = s.getMappingEntries

	s.handlers["getHealth"] = s.getHealth
	s.handlers["getVersion"] = s.getVersion
}

// Handler returns the HTTP handler serving JSON-RPC on every path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	return s.corsMiddleware(mux)
}

// Start serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.server = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.server
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.log.Info().Str("addr", s.config.Addr).Msg("rpc server starting")
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers if enabled.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	if !s.config.EnableCORS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, o := range s.config.AllowedOrigins {
				if o == origin || o == "*" {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleRPC handles single and batch JSON-RPC requests.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}

	if len(body) > 0 && body[0] == '[' {
		s.handleBatchRequest(w, body)
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}
	resp := s.serve(req)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleBatchRequest(w http.ResponseWriter, body []byte) {
	var reqs []Request
	if err := json.Unmarshal(body, &reqs); err != nil {
		s.writeError(w, nil, ErrParseError)
		return
	}
	if len(reqs) == 0 {
		s.writeError(w, nil, ErrInvalidRequest)
		return
	}
	resps := make([]Response, len(reqs))
	for i, req := range reqs {
		resps[i] = s.serve(req)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resps)
}

func (s *Server) serve(req Request) Response {
	resp := Response{JSONRPC: JSONRPCVersion, ID: req.ID}
	if req.JSONRPC != JSONRPCVersion {
		resp.Error = ErrInvalidRequest
		return resp
	}
	s.log.Debug().Str("method", req.Method).Interface("id", req.ID).Msg("request")
	resp.Result, resp.Error = s.dispatch(req.Method, req.Params)
	return resp
}

// dispatch routes a method to its handler.
func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *RPCError) {
	handler, ok := s.handlers[method]
	if !ok {
		return nil, NewRPCError(MethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}
	return handler(params)
}

func (s *Server) writeError(w http.ResponseWriter, id interface{}, err *RPCError) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Response{JSONRPC: JSONRPCVersion, ID: id, Error: err})
}
