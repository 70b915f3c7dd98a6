package server_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ocvrouter/hostif/internal/server"
)

// setupServerWithInterceptors creates a test server with the given
// ConnectRPC handler options wired in.
func setupServerWithInterceptors(t *testing.T, opts ...connect.HandlerOption) testClient {
	t.Helper()
	return setupTestServer(t, opts...)
}

// -------------------------------------------------------------------------
// TestLoggingInterceptor
// -------------------------------------------------------------------------

func TestLoggingInterceptorSuccess(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t, server.LoggingInterceptorOption(logger))

	resp, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 10, "virtual")))
	require.NoError(t, err)
	if resp == nil {
		t.Fatal("response is nil")
	}
}

func TestLoggingInterceptorError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t, server.LoggingInterceptorOption(logger))

	_, err := client.deleteVif.CallUnary(context.Background(), connect.NewRequest(wrapperspb.Int32(9999)))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeNotFound {
		t.Errorf("code = %s, want NotFound", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestRecoveryInterceptor
// -------------------------------------------------------------------------

func TestRecoveryInterceptorNoPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t, server.RecoveryInterceptorOption(logger))

	resp, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 11, "virtual")))
	require.NoError(t, err)
	if resp == nil {
		t.Fatal("response is nil")
	}
}

// panicHandler is a bare connect unary handler that always panics, used
// to test the RecoveryInterceptor in isolation from HostIfServer.
func panicHandler(_ context.Context, _ *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	panic("intentional test panic")
}

func TestRecoveryInterceptorPanic(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	const procedure = "/vrouter.hostif.v1.test/Panic"

	handler := connect.NewUnaryHandler(procedure, panicHandler, server.RecoveryInterceptorOption(logger))
	mux := http.NewServeMux()
	mux.Handle(procedure, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := connect.NewClient[structpb.Struct, structpb.Struct](srv.Client(), srv.URL+procedure)

	req, err := structpb.NewStruct(map[string]any{})
	require.NoError(t, err)

	_, err = client.CallUnary(context.Background(), connect.NewRequest(req))
	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInternal {
		t.Errorf("code = %s, want Internal", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestBothInterceptors
// -------------------------------------------------------------------------

func TestBothInterceptors(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)
	client := setupServerWithInterceptors(t,
		server.LoggingInterceptorOption(logger),
		server.RecoveryInterceptorOption(logger),
	)

	resp, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 12, "virtual")))
	require.NoError(t, err)
	if resp == nil {
		t.Fatal("response is nil")
	}
}
