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
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ocvrouter/hostif/internal/hostif"
	"github.com/ocvrouter/hostif/internal/lcore"
	"github.com/ocvrouter/hostif/internal/server"
)

// -------------------------------------------------------------------------
// Test fakes
// -------------------------------------------------------------------------

type fakeEthdev struct{}

func (fakeEthdev) ResolvePCI(_ hostif.DBDF) (uint16, error) { return 0, nil }
func (fakeEthdev) Open(_ uint16, _, _ int) (bool, bool, hostif.MAC, error) {
	return true, true, hostif.MAC{0xaa}, nil
}
func (fakeEthdev) Start(_ uint16) error                  { return nil }
func (fakeEthdev) Stop(_ uint16) error                   { return nil }
func (fakeEthdev) SetPromiscuous(_ uint16, _ bool) error { return nil }
func (fakeEthdev) MTU(_ uint16) int                      { return 1500 }
func (fakeEthdev) Settings(_ uint16) (int, bool)         { return 10000, true }

type fakeKNI struct{}

func (fakeKNI) Create(_ uint16) error  { return nil }
func (fakeKNI) Destroy(_ uint16) error { return nil }

// -------------------------------------------------------------------------
// Test harness
// -------------------------------------------------------------------------

// testClient wraps raw connect clients over each procedure this server
// exposes, since there is no protoc-generated connect client package
// (see DESIGN.md).
type testClient struct {
	addVif      *connect.Client[structpb.Struct, structpb.Struct]
	deleteVif   *connect.Client[wrapperspb.Int32Value, emptypb.Empty]
	getVif      *connect.Client[wrapperspb.Int32Value, structpb.Struct]
	getSettings *connect.Client[wrapperspb.Int32Value, structpb.Struct]
	getMTU      *connect.Client[wrapperspb.Int32Value, wrapperspb.Int32Value]
	getEncap    *connect.Client[wrapperspb.Int32Value, wrapperspb.StringValue]
	statsUpdate *connect.Client[structpb.Struct, structpb.Struct]
}

func setupTestServer(t *testing.T, opts ...connect.HandlerOption) testClient {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	sched := lcore.NewScheduler(2, 1, logger)
	monitors := hostif.NewMonitorTable()
	reg := hostif.NewRegistry(sched, monitors, fakeEthdev{}, fakeKNI{}, nil, nil, logger)
	stats := hostif.NewStatsAggregator()
	pools := &hostif.FragmentPools{Alloc: func(_, size int) []byte { return make([]byte, size) }}
	pipe := hostif.NewTXPipeline(sched, monitors, stats, hostif.GlobalConfig{FragPools: pools}, logger)
	facade := hostif.NewFacade(reg, pipe, stats, fakeEthdev{})

	path, handler := server.New(facade, reg, logger, opts...)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	httpClient := srv.Client()
	url := srv.URL

	return testClient{
		addVif:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, url+server.ProcedureAddVif),
		deleteVif:   connect.NewClient[wrapperspb.Int32Value, emptypb.Empty](httpClient, url+server.ProcedureDeleteVif),
		getVif:      connect.NewClient[wrapperspb.Int32Value, structpb.Struct](httpClient, url+server.ProcedureGetVif),
		getSettings: connect.NewClient[wrapperspb.Int32Value, structpb.Struct](httpClient, url+server.ProcedureGetSettings),
		getMTU:      connect.NewClient[wrapperspb.Int32Value, wrapperspb.Int32Value](httpClient, url+server.ProcedureGetMTU),
		getEncap:    connect.NewClient[wrapperspb.Int32Value, wrapperspb.StringValue](httpClient, url+server.ProcedureGetEncap),
		statsUpdate: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, url+server.ProcedureStatsUpdate),
	}
}

func addVifRequest(t *testing.T, idx int32, kind string) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]any{
		"idx":  float64(idx),
		"kind": kind,
		"mtu":  float64(1500),
	})
	require.NoError(t, err)
	return s
}

// -------------------------------------------------------------------------
// TestAddVif
// -------------------------------------------------------------------------

func TestAddVif(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	resp, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 1, "virtual")))
	require.NoError(t, err)

	fields := resp.Msg.GetFields()
	if fields["kind"].GetStringValue() != "virtual" {
		t.Errorf("kind = %q, want %q", fields["kind"].GetStringValue(), "virtual")
	}
	if !fields["bound"].GetBoolValue() {
		t.Error("bound = false, want true")
	}
}

func TestAddVifInvalidKind(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	_, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 1, "bogus")))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", connectErr.Code())
	}
}

func TestAddVifDuplicate(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	_, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 2, "virtual")))
	require.NoError(t, err)

	_, err = client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 2, "virtual")))
	if err == nil {
		t.Fatal("expected error for re-add of bound vif, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeAlreadyExists {
		t.Errorf("code = %s, want AlreadyExists", connectErr.Code())
	}
}

// -------------------------------------------------------------------------
// TestDeleteVif / TestGetVif
// -------------------------------------------------------------------------

func TestDeleteVifRoundTrip(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	_, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 4, "virtual")))
	require.NoError(t, err)

	_, err = client.deleteVif.CallUnary(context.Background(), connect.NewRequest(wrapperspb.Int32(4)))
	require.NoError(t, err)

	_, err = client.getVif.CallUnary(context.Background(), connect.NewRequest(wrapperspb.Int32(4)))
	if err == nil {
		t.Fatal("expected NotFound after delete, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeNotFound {
		t.Errorf("code = %s, want NotFound", connectErr.Code())
	}
}

func TestGetVifNotFound(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	_, err := client.getVif.CallUnary(context.Background(), connect.NewRequest(wrapperspb.Int32(99)))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// -------------------------------------------------------------------------
// TestGetSettings / TestGetMTU / TestGetEncap
// -------------------------------------------------------------------------

func TestGetSettingsDefaults(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	_, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 5, "virtual")))
	require.NoError(t, err)

	resp, err := client.getSettings.CallUnary(context.Background(), connect.NewRequest(wrapperspb.Int32(5)))
	require.NoError(t, err)

	fields := resp.Msg.GetFields()
	if fields["speed_mbs"].GetNumberValue() != 1000 {
		t.Errorf("speed_mbs = %v, want 1000", fields["speed_mbs"].GetNumberValue())
	}
	if !fields["full_duplex"].GetBoolValue() {
		t.Error("full_duplex = false, want true")
	}
}

func TestGetMTUAndEncap(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	_, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 6, "virtual")))
	require.NoError(t, err)

	mtuResp, err := client.getMTU.CallUnary(context.Background(), connect.NewRequest(wrapperspb.Int32(6)))
	require.NoError(t, err)
	if mtuResp.Msg.GetValue() != 1500 {
		t.Errorf("MTU = %d, want 1500", mtuResp.Msg.GetValue())
	}

	encapResp, err := client.getEncap.CallUnary(context.Background(), connect.NewRequest(wrapperspb.Int32(6)))
	require.NoError(t, err)
	if encapResp.Msg.GetValue() != hostif.EncapEthernet {
		t.Errorf("Encap = %q, want %q", encapResp.Msg.GetValue(), hostif.EncapEthernet)
	}
}

// -------------------------------------------------------------------------
// TestStatsUpdate
// -------------------------------------------------------------------------

func TestStatsUpdateAllCores(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	_, err := client.addVif.CallUnary(context.Background(), connect.NewRequest(addVifRequest(t, 7, "virtual")))
	require.NoError(t, err)

	req, err := structpb.NewStruct(map[string]any{"idx": float64(7)})
	require.NoError(t, err)

	resp, err := client.statsUpdate.CallUnary(context.Background(), connect.NewRequest(req))
	require.NoError(t, err)

	fields := resp.Msg.GetFields()
	if fields["queue_opackets"] == nil {
		t.Error("missing queue_opackets field")
	}
}

func TestStatsUpdateMissingIdx(t *testing.T) {
	t.Parallel()

	client := setupTestServer(t)

	req, err := structpb.NewStruct(map[string]any{})
	require.NoError(t, err)

	_, err = client.statsUpdate.CallUnary(context.Background(), connect.NewRequest(req))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var connectErr *connect.Error
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected connect.Error, got %T: %v", err, err)
	}
	if connectErr.Code() != connect.CodeInvalidArgument {
		t.Errorf("code = %s, want InvalidArgument", connectErr.Code())
	}
}
