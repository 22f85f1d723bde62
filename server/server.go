package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/history"
	"github.com/chazu/mote/vm"
)

var log = commonlog.GetLogger("mote.server")

// Session sweeping defaults.
const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultSessionTTL    = 30 * time.Minute
)

// MoteServer is the evaluation server. It serves the Connect protocol
// (JSON or CBOR over HTTP) on one listener and gRPC (CBOR) on another.
type MoteServer struct {
	sessions *SessionStore
	eval     *EvalService
	mux      *http.ServeMux

	grpc   *grpc.Server
	health *health.Server
	http   *http.Server

	stopSweeper func()
}

// ServerOption configures a MoteServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	history       *history.Store
	compileOpts   []compiler.Option
	vmOpts        []vm.Option
	sweepInterval time.Duration
	sessionTTL    time.Duration
}

// WithHistory records every evaluation in store.
func WithHistory(store *history.Store) ServerOption {
	return func(c *serverConfig) { c.history = store }
}

// WithCompilerOptions configures the compiler used by every session.
func WithCompilerOptions(opts ...compiler.Option) ServerOption {
	return func(c *serverConfig) { c.compileOpts = append(c.compileOpts, opts...) }
}

// WithVMOptions configures every session VM.
func WithVMOptions(opts ...vm.Option) ServerOption {
	return func(c *serverConfig) { c.vmOpts = append(c.vmOpts, opts...) }
}

// WithSessionTTL destroys sessions idle for longer than ttl, checking every
// interval. A zero ttl disables sweeping.
func WithSessionTTL(interval, ttl time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.sweepInterval = interval
		c.sessionTTL = ttl
	}
}

// New creates a MoteServer.
func New(opts ...ServerOption) *MoteServer {
	cfg := &serverConfig{
		sweepInterval: DefaultSweepInterval,
		sessionTTL:    DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sessions := NewSessionStore(compiler.Func(cfg.compileOpts...), cfg.vmOpts...)
	evalSvc := NewEvalService(sessions, cfg.history, cfg.compileOpts...)

	s := &MoteServer{
		sessions: sessions,
		eval:     evalSvc,
		mux:      http.NewServeMux(),
	}
	s.http = &http.Server{Handler: s.mux}

	// Register Connect handlers under the service prefix
	s.mux.Handle("/"+EvaluationServiceName+"/", evalSvc.Handler())

	s.grpc, s.health = NewGRPCServer(evalSvc)

	if cfg.sessionTTL > 0 && cfg.sweepInterval > 0 {
		s.stopSweeper = sessions.StartSweeper(cfg.sweepInterval, cfg.sessionTTL)
	}

	return s
}

// Handler returns the Connect HTTP handler.
func (s *MoteServer) Handler() http.Handler {
	return s.mux
}

// Sessions returns the server's session store.
func (s *MoteServer) Sessions() *SessionStore {
	return s.sessions
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *MoteServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves the Connect protocol on lis until Stop is called.
func (s *MoteServer) Serve(lis net.Listener) error {
	fmt.Printf("Mote server listening on %s\n", lis.Addr())
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", lis.Addr(), EvaluateProcedure)
	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ServeGRPC serves gRPC on lis until Stop is called.
func (s *MoteServer) ServeGRPC(lis net.Listener) error {
	fmt.Printf("  gRPC (CBOR):         grpc://%s\n", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServeGRPC listens on addr and serves gRPC.
func (s *MoteServer) ListenAndServeGRPC(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeGRPC(lis)
}

// Stop shuts down both transports and every session.
func (s *MoteServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.health.Shutdown()
	s.grpc.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		log.Warningf("http shutdown: %s", err)
	}
	s.sessions.Close()
}
