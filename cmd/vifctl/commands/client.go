package commands

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ocvrouter/hostif/internal/server"
)

// hostIfClient groups one connect.Client per procedure exposed by
// internal/server.HostIfServer. There is no protoc-generated
// bfdv1connect-style client package to reuse here (see DESIGN.md): every
// procedure is wired by hand against the well-known protobuf types the
// server itself uses, with connect.NewClient taking the place of
// codegen'd constructors like bfdv1connect.NewBfdServiceClient.
type hostIfClient struct {
	addVif      *connect.Client[structpb.Struct, structpb.Struct]
	deleteVif   *connect.Client[wrapperspb.Int32Value, emptypb.Empty]
	getVif      *connect.Client[wrapperspb.Int32Value, structpb.Struct]
	listVifs    *connect.Client[emptypb.Empty, structpb.Struct]
	getSettings *connect.Client[wrapperspb.Int32Value, structpb.Struct]
	getMTU      *connect.Client[wrapperspb.Int32Value, wrapperspb.Int32Value]
	getEncap    *connect.Client[wrapperspb.Int32Value, wrapperspb.StringValue]
	statsUpdate *connect.Client[structpb.Struct, structpb.Struct]
}

// newHostIfClient builds every per-procedure client against baseURL
// (e.g. "http://localhost:50051"), mirroring gobfdctl's single
// PersistentPreRunE-time client construction.
func newHostIfClient(baseURL string) *hostIfClient {
	httpClient := http.DefaultClient

	return &hostIfClient{
		addVif:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+server.ProcedureAddVif),
		deleteVif:   connect.NewClient[wrapperspb.Int32Value, emptypb.Empty](httpClient, baseURL+server.ProcedureDeleteVif),
		getVif:      connect.NewClient[wrapperspb.Int32Value, structpb.Struct](httpClient, baseURL+server.ProcedureGetVif),
		listVifs:    connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+server.ProcedureListVifs),
		getSettings: connect.NewClient[wrapperspb.Int32Value, structpb.Struct](httpClient, baseURL+server.ProcedureGetSettings),
		getMTU:      connect.NewClient[wrapperspb.Int32Value, wrapperspb.Int32Value](httpClient, baseURL+server.ProcedureGetMTU),
		getEncap:    connect.NewClient[wrapperspb.Int32Value, wrapperspb.StringValue](httpClient, baseURL+server.ProcedureGetEncap),
		statsUpdate: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+server.ProcedureStatsUpdate),
	}
}

func (c *hostIfClient) AddVif(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}

	resp, err := c.addVif.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}

	return resp.Msg, nil
}

func (c *hostIfClient) DeleteVif(ctx context.Context, idx int32) error {
	_, err := c.deleteVif.CallUnary(ctx, connect.NewRequest(wrapperspb.Int32(idx)))
	return err
}

func (c *hostIfClient) GetVif(ctx context.Context, idx int32) (*structpb.Struct, error) {
	resp, err := c.getVif.CallUnary(ctx, connect.NewRequest(wrapperspb.Int32(idx)))
	if err != nil {
		return nil, err
	}

	return resp.Msg, nil
}

func (c *hostIfClient) ListVifs(ctx context.Context) (*structpb.Struct, error) {
	resp, err := c.listVifs.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		return nil, err
	}

	return resp.Msg, nil
}

func (c *hostIfClient) GetSettings(ctx context.Context, idx int32) (*structpb.Struct, error) {
	resp, err := c.getSettings.CallUnary(ctx, connect.NewRequest(wrapperspb.Int32(idx)))
	if err != nil {
		return nil, err
	}

	return resp.Msg, nil
}

func (c *hostIfClient) GetMTU(ctx context.Context, idx int32) (int32, error) {
	resp, err := c.getMTU.CallUnary(ctx, connect.NewRequest(wrapperspb.Int32(idx)))
	if err != nil {
		return 0, err
	}

	return resp.Msg.GetValue(), nil
}

func (c *hostIfClient) GetEncap(ctx context.Context, idx int32) (string, error) {
	resp, err := c.getEncap.CallUnary(ctx, connect.NewRequest(wrapperspb.Int32(idx)))
	if err != nil {
		return "", err
	}

	return resp.Msg.GetValue(), nil
}

// StatsUpdate aggregates stats for idx on the given core. Pass
// hostif.AllCores (-1) to aggregate across every core.
func (c *hostIfClient) StatsUpdate(ctx context.Context, idx int32, core int32) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{
		"idx":  float64(idx),
		"core": float64(core),
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.statsUpdate.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}

	return resp.Msg, nil
}
