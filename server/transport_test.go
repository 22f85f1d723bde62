package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// ---------------------------------------------------------------------------
// Connect
// ---------------------------------------------------------------------------

func newTestHTTPServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := New(WithHistory(newTestHistory(t)), WithSessionTTL(0, 0))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return ts
}

func TestConnect_Codecs(t *testing.T) {
	ts := newTestHTTPServer(t)

	for _, codec := range []connect.Codec{jsonCodec{}, cborCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			client := connect.NewClient[EvaluateRequest, EvaluateResponse](
				http.DefaultClient, ts.URL+EvaluateProcedure, connect.WithCodec(codec))

			resp, err := client.CallUnary(bg(), connect.NewRequest(&EvaluateRequest{
				Source: `print "over " + "` + codec.Name() + `";`,
			}))
			if err != nil {
				t.Fatalf("CallUnary: %v", err)
			}
			if resp.Msg.Status != StatusOK {
				t.Fatalf("Status = %q (%q)", resp.Msg.Status, resp.Msg.Diagnostics)
			}
			if want := "over " + codec.Name() + "\n"; resp.Msg.Output != want {
				t.Errorf("Output = %q, want %q", resp.Msg.Output, want)
			}
		})
	}
}

func TestConnect_ErrorCodes(t *testing.T) {
	ts := newTestHTTPServer(t)

	client := connect.NewClient[DestroySessionRequest, DestroySessionResponse](
		http.DefaultClient, ts.URL+DestroySessionProcedure, connect.WithCodec(jsonCodec{}))

	_, err := client.CallUnary(bg(), connect.NewRequest(&DestroySessionRequest{SessionID: "missing"}))
	if got := connect.CodeOf(err); got != connect.CodeNotFound {
		t.Errorf("code = %s, want %s", got, connect.CodeNotFound)
	}

	_, err = client.CallUnary(bg(), connect.NewRequest(&DestroySessionRequest{}))
	if got := connect.CodeOf(err); got != connect.CodeInvalidArgument {
		t.Errorf("code = %s, want %s", got, connect.CodeInvalidArgument)
	}
}

func TestMoteServer_ServeAndStop(t *testing.T) {
	srv := New(WithSessionTTL(0, 0))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	client := connect.NewClient[EvaluateRequest, EvaluateResponse](
		http.DefaultClient, "http://"+lis.Addr().String()+EvaluateProcedure, connect.WithCodec(jsonCodec{}))
	resp, err := client.CallUnary(bg(), connect.NewRequest(&EvaluateRequest{Source: "print 1;"}))
	if err != nil {
		t.Fatalf("CallUnary: %v", err)
	}
	if resp.Msg.Output != "1\n" {
		t.Errorf("Output = %q", resp.Msg.Output)
	}

	srv.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil after Stop", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve still running after Stop")
	}
}

func TestMoteServer_StopBeforeServe(t *testing.T) {
	srv := New(WithSessionTTL(0, 0))
	srv.Stop()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := srv.Serve(lis); err != nil {
		t.Errorf("Serve after Stop = %v, want nil", err)
	}
}

// ---------------------------------------------------------------------------
// gRPC
// ---------------------------------------------------------------------------

func newTestGRPCConn(t *testing.T) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	svc := newTestEvalService(t)
	srv, hs := NewGRPCServer(svc)
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		hs.Shutdown()
		srv.Stop()
	})
	return conn
}

func TestGRPC_EvaluateAndFork(t *testing.T) {
	client := NewEvaluationClient(newTestGRPCConn(t))

	created, err := client.CreateSession(bg(), &CreateSessionRequest{Name: "rpc"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := client.Evaluate(bg(), &EvaluateRequest{SessionID: created.SessionID, Source: "var v = 10;"}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	forked, err := client.ForkSession(bg(), &ForkSessionRequest{SessionID: created.SessionID})
	if err != nil {
		t.Fatalf("ForkSession: %v", err)
	}
	resp, err := client.Evaluate(bg(), &EvaluateRequest{SessionID: forked.SessionID, Source: "print v / 4;"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Output != "2.5\n" {
		t.Errorf("Output = %q, want %q", resp.Output, "2.5\n")
	}

	list, err := client.ListSessions(bg(), &ListSessionsRequest{})
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list.Sessions) != 2 {
		t.Errorf("ListSessions returned %d sessions, want 2", len(list.Sessions))
	}

	hist, err := client.History(bg(), &HistoryRequest{SessionID: forked.SessionID})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist.Entries) != 1 || hist.Entries[0].Source != "print v / 4;" {
		t.Errorf("History = %+v", hist.Entries)
	}

	dis, err := client.Disassemble(bg(), &DisassembleRequest{Source: "nil;"})
	if err != nil {
		t.Fatalf("Disassemble: %v", err)
	}
	if dis.Listing == "" {
		t.Error("Disassemble returned empty listing")
	}

	if _, err := client.DestroySession(bg(), &DestroySessionRequest{SessionID: forked.SessionID}); err != nil {
		t.Fatalf("DestroySession: %v", err)
	}
}

func TestGRPC_StatusCodes(t *testing.T) {
	client := NewEvaluationClient(newTestGRPCConn(t))

	_, err := client.Evaluate(bg(), &EvaluateRequest{SessionID: "missing", Source: "print 1;"})
	if got := status.Code(err); got != codes.NotFound {
		t.Errorf("code = %s, want %s", got, codes.NotFound)
	}

	_, err = client.ForkSession(bg(), &ForkSessionRequest{})
	if got := status.Code(err); got != codes.InvalidArgument {
		t.Errorf("code = %s, want %s", got, codes.InvalidArgument)
	}
}

func TestGRPC_Health(t *testing.T) {
	conn := newTestGRPCConn(t)
	health := healthpb.NewHealthClient(conn)

	resp, err := health.Check(bg(), &healthpb.HealthCheckRequest{Service: EvaluationServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Status = %s, want SERVING", resp.Status)
	}
}
