package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"connectrpc.com/connect"

	"github.com/chazu/mote/compiler"
	"github.com/chazu/mote/history"
	"github.com/chazu/mote/vm"
)

// EvaluationServiceName is the fully-qualified service name shared by the
// Connect and gRPC transports.
const EvaluationServiceName = "mote.v1.EvaluationService"

// Procedure paths.
const (
	EvaluateProcedure       = "/" + EvaluationServiceName + "/Evaluate"
	CreateSessionProcedure  = "/" + EvaluationServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + EvaluationServiceName + "/DestroySession"
	ForkSessionProcedure    = "/" + EvaluationServiceName + "/ForkSession"
	ListSessionsProcedure   = "/" + EvaluationServiceName + "/ListSessions"
	DisassembleProcedure    = "/" + EvaluationServiceName + "/Disassemble"
	HistoryProcedure        = "/" + EvaluationServiceName + "/History"
)

// EvalService implements the evaluation service. Its methods take and
// return plain messages; the Connect and gRPC layers adapt them.
type EvalService struct {
	sessions *SessionStore
	history  *history.Store // nil disables recording
	compile  []compiler.Option
}

// NewEvalService creates an EvalService. hist may be nil.
func NewEvalService(sessions *SessionStore, hist *history.Store, compileOpts ...compiler.Option) *EvalService {
	return &EvalService{
		sessions: sessions,
		history:  hist,
		compile:  compileOpts,
	}
}

// serviceError carries a status code shared by both transports. Connect
// codes and gRPC codes have the same numeric values.
type serviceError struct {
	code connect.Code
	err  error
}

func (e *serviceError) Error() string { return e.err.Error() }
func (e *serviceError) Unwrap() error { return e.err }

func invalidArgument(format string, args ...any) error {
	return &serviceError{connect.CodeInvalidArgument, fmt.Errorf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &serviceError{connect.CodeNotFound, fmt.Errorf(format, args...)}
}

func internal(err error) error {
	return &serviceError{connect.CodeInternal, err}
}

func (s *EvalService) session(id string) (*Session, error) {
	if id == "" {
		return s.sessions.Default(), nil
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, notFound("session %q not found", id)
	}
	return session, nil
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func statusName(r vm.InterpretResult) string {
	switch r {
	case vm.InterpretOK:
		return StatusOK
	case vm.InterpretCompileError:
		return StatusCompileError
	default:
		return StatusRuntimeError
	}
}

// Evaluate interprets source in a session.
func (s *EvalService) Evaluate(ctx context.Context, req *EvaluateRequest) (*EvaluateResponse, error) {
	session, err := s.session(req.SessionID)
	if err != nil {
		return nil, err
	}

	ev, err := session.Evaluate(ctx, req.Source)
	if err != nil {
		return nil, internal(err)
	}

	if s.history != nil {
		if _, err := s.history.Record(ctx, session.ID, req.Source, int(ev.Result)); err != nil {
			log.Warningf("recording history for %s: %s", session.ID, err)
		}
	}

	resp := &EvaluateResponse{
		SessionID:   session.ID,
		Status:      statusName(ev.Result),
		Output:      ev.Output,
		Diagnostics: ev.Diagnostics,
	}
	if ev.Err != nil {
		resp.Error = ev.Err.Message
		resp.Line = ev.Err.Line
	}
	return resp, nil
}

// CreateSession creates a session with fresh globals.
func (s *EvalService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	session := s.sessions.Create(req.Name)
	return &CreateSessionResponse{SessionID: session.ID}, nil
}

// DestroySession removes a session.
func (s *EvalService) DestroySession(ctx context.Context, req *DestroySessionRequest) (*DestroySessionResponse, error) {
	if req.SessionID == "" {
		return nil, invalidArgument("session_id is required")
	}
	if !s.sessions.Destroy(req.SessionID) {
		return nil, notFound("session %q not found", req.SessionID)
	}
	return &DestroySessionResponse{}, nil
}

// ForkSession copies a session's globals into a new session.
func (s *EvalService) ForkSession(ctx context.Context, req *ForkSessionRequest) (*ForkSessionResponse, error) {
	if req.SessionID == "" {
		return nil, invalidArgument("session_id is required")
	}
	if _, ok := s.sessions.Get(req.SessionID); !ok {
		return nil, notFound("session %q not found", req.SessionID)
	}
	child, err := s.sessions.Fork(ctx, req.SessionID, req.Name)
	if err != nil {
		return nil, internal(err)
	}
	return &ForkSessionResponse{SessionID: child.ID}, nil
}

// ListSessions describes every session.
func (s *EvalService) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	resp := &ListSessionsResponse{Sessions: []SessionInfo{}}
	for _, session := range s.sessions.List() {
		globals, err := session.Globals(ctx)
		if err != nil {
			// Destroyed while listing.
			if errors.Is(err, ErrWorkerStopped) {
				continue
			}
			return nil, internal(err)
		}
		info := SessionInfo{
			SessionID: session.ID,
			Name:      session.Name,
			CreatedAt: session.CreatedAt.UnixMilli(),
		}
		for name := range globals {
			info.Globals = append(info.Globals, name)
		}
		sort.Strings(info.Globals)
		resp.Sessions = append(resp.Sessions, info)
	}
	return resp, nil
}

// Disassemble compiles source into a scratch chunk and lists it.
func (s *EvalService) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	chunk := vm.NewChunk()
	opts := append(append([]compiler.Option(nil), s.compile...), compiler.WithDiagnostics(io.Discard))
	c := compiler.New(req.Source, chunk, opts...)
	if c.Compile() {
		resp := &DisassembleResponse{}
		for _, d := range c.Diagnostics() {
			resp.Diagnostics = append(resp.Diagnostics, d.Error())
		}
		return resp, nil
	}
	return &DisassembleResponse{Listing: chunk.Disassemble("code")}, nil
}

// History returns a session's most recent inputs.
func (s *EvalService) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if s.history == nil {
		return nil, &serviceError{connect.CodeUnimplemented, errors.New("history is disabled")}
	}
	session, err := s.session(req.SessionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.history.Recent(ctx, session.ID, req.Limit)
	if err != nil {
		return nil, internal(err)
	}
	resp := &HistoryResponse{Entries: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, HistoryEntry{
			ID:        e.ID,
			Source:    e.Source,
			Status:    statusName(vm.InterpretResult(e.Status)),
			CreatedAt: e.CreatedAt.UnixMilli(),
		})
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Connect transport
// ---------------------------------------------------------------------------

// toConnectError converts a service error into a *connect.Error.
func toConnectError(err error) error {
	var se *serviceError
	if errors.As(err, &se) {
		return connect.NewError(se.code, se.err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// connectUnary adapts a plain service method to a Connect unary function.
func connectUnary[Req, Res any](fn func(context.Context, *Req) (*Res, error)) func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error) {
	return func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
		res, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, toConnectError(err)
		}
		return connect.NewResponse(res), nil
	}
}

// Handler returns an http.Handler serving every procedure over the Connect
// protocol with JSON and CBOR codecs.
func (s *EvalService) Handler(opts ...connect.HandlerOption) http.Handler {
	opts = append([]connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithCodec(cborCodec{}),
	}, opts...)

	mux := http.NewServeMux()
	mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, connectUnary(s.Evaluate), opts...))
	mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, connectUnary(s.CreateSession), opts...))
	mux.Handle(DestroySessionProcedure, connect.NewUnaryHandler(DestroySessionProcedure, connectUnary(s.DestroySession), opts...))
	mux.Handle(ForkSessionProcedure, connect.NewUnaryHandler(ForkSessionProcedure, connectUnary(s.ForkSession), opts...))
	mux.Handle(ListSessionsProcedure, connect.NewUnaryHandler(ListSessionsProcedure, connectUnary(s.ListSessions), opts...))
	mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, connectUnary(s.Disassemble), opts...))
	mux.Handle(HistoryProcedure, connect.NewUnaryHandler(HistoryProcedure, connectUnary(s.History), opts...))
	return mux
}
