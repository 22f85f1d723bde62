package server

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// evaluationServer is the handler type named by the service descriptor.
type evaluationServer interface {
	Evaluate(context.Context, *EvaluateRequest) (*EvaluateResponse, error)
	CreateSession(context.Context, *CreateSessionRequest) (*CreateSessionResponse, error)
	DestroySession(context.Context, *DestroySessionRequest) (*DestroySessionResponse, error)
	ForkSession(context.Context, *ForkSessionRequest) (*ForkSessionResponse, error)
	ListSessions(context.Context, *ListSessionsRequest) (*ListSessionsResponse, error)
	Disassemble(context.Context, *DisassembleRequest) (*DisassembleResponse, error)
	History(context.Context, *HistoryRequest) (*HistoryResponse, error)
}

var _ evaluationServer = (*EvalService)(nil)

// toStatusError converts a service error into a gRPC status error.
func toStatusError(err error) error {
	var se *serviceError
	if errors.As(err, &se) {
		return status.Error(codes.Code(se.code), se.err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// grpcUnary builds a method handler that decodes Req with the negotiated
// codec and dispatches to call.
func grpcUnary[Req, Res any](fullMethod string, call func(evaluationServer, context.Context, *Req) (*Res, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		invoke := func(ctx context.Context, req any) (any, error) {
			res, err := call(srv.(evaluationServer), ctx, req.(*Req))
			if err != nil {
				return nil, toStatusError(err)
			}
			return res, nil
		}
		if interceptor == nil {
			return invoke(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, invoke)
	}
}

// evaluationServiceDesc declares the evaluation service for gRPC without
// generated stubs. Messages travel with the "cbor" content subtype.
var evaluationServiceDesc = grpc.ServiceDesc{
	ServiceName: EvaluationServiceName,
	HandlerType: (*evaluationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: grpcUnary(EvaluateProcedure, evaluationServer.Evaluate)},
		{MethodName: "CreateSession", Handler: grpcUnary(CreateSessionProcedure, evaluationServer.CreateSession)},
		{MethodName: "DestroySession", Handler: grpcUnary(DestroySessionProcedure, evaluationServer.DestroySession)},
		{MethodName: "ForkSession", Handler: grpcUnary(ForkSessionProcedure, evaluationServer.ForkSession)},
		{MethodName: "ListSessions", Handler: grpcUnary(ListSessionsProcedure, evaluationServer.ListSessions)},
		{MethodName: "Disassemble", Handler: grpcUnary(DisassembleProcedure, evaluationServer.Disassemble)},
		{MethodName: "History", Handler: grpcUnary(HistoryProcedure, evaluationServer.History)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mote/v1/evaluation",
}

// NewGRPCServer creates a gRPC server exposing svc and the standard health
// service.
func NewGRPCServer(svc *EvalService, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(opts...)
	s.RegisterService(&evaluationServiceDesc, svc)

	hs := health.NewServer()
	hs.SetServingStatus(EvaluationServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	return s, hs
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// EvaluationClient calls the evaluation service over a gRPC connection.
type EvaluationClient struct {
	cc grpc.ClientConnInterface
}

// NewEvaluationClient wraps a gRPC connection.
func NewEvaluationClient(cc grpc.ClientConnInterface) *EvaluationClient {
	return &EvaluationClient{cc: cc}
}

func invoke[Res any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts []grpc.CallOption) (*Res, error) {
	out := new(Res)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecCBOR)}, opts...)
	if err := cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EvaluationClient) Evaluate(ctx context.Context, req *EvaluateRequest, opts ...grpc.CallOption) (*EvaluateResponse, error) {
	return invoke[EvaluateResponse](ctx, c.cc, EvaluateProcedure, req, opts)
}

func (c *EvaluationClient) CreateSession(ctx context.Context, req *CreateSessionRequest, opts ...grpc.CallOption) (*CreateSessionResponse, error) {
	return invoke[CreateSessionResponse](ctx, c.cc, CreateSessionProcedure, req, opts)
}

func (c *EvaluationClient) DestroySession(ctx context.Context, req *DestroySessionRequest, opts ...grpc.CallOption) (*DestroySessionResponse, error) {
	return invoke[DestroySessionResponse](ctx, c.cc, DestroySessionProcedure, req, opts)
}

func (c *EvaluationClient) ForkSession(ctx context.Context, req *ForkSessionRequest, opts ...grpc.CallOption) (*ForkSessionResponse, error) {
	return invoke[ForkSessionResponse](ctx, c.cc, ForkSessionProcedure, req, opts)
}

func (c *EvaluationClient) ListSessions(ctx context.Context, req *ListSessionsRequest, opts ...grpc.CallOption) (*ListSessionsResponse, error) {
	return invoke[ListSessionsResponse](ctx, c.cc, ListSessionsProcedure, req, opts)
}

func (c *EvaluationClient) Disassemble(ctx context.Context, req *DisassembleRequest, opts ...grpc.CallOption) (*DisassembleResponse, error) {
	return invoke[DisassembleResponse](ctx, c.cc, DisassembleProcedure, req, opts)
}

func (c *EvaluationClient) History(ctx context.Context, req *HistoryRequest, opts ...grpc.CallOption) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c.cc, HistoryProcedure, req, opts)
}
