// Package server implements the ConnectRPC server fronting the
// host-interface facade.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ocvrouter/hostif/internal/hostif"
	"github.com/ocvrouter/hostif/internal/lcore"
)

// ServiceName is the ConnectRPC service name exposed by this package.
const ServiceName = "vrouter.hostif.v1.HostIfService"

// Procedure paths for every RPC this server exposes. There is no
// protoc-generated connect package backing these (see DESIGN.md): every
// request/response is a well-known protobuf type, and each handler is
// wired directly with connect.NewUnaryHandler.
const (
	ProcedureAddVif      = "/" + ServiceName + "/AddVif"
	ProcedureDeleteVif   = "/" + ServiceName + "/DeleteVif"
	ProcedureGetVif      = "/" + ServiceName + "/GetVif"
	ProcedureListVifs    = "/" + ServiceName + "/ListVifs"
	ProcedureGetSettings = "/" + ServiceName + "/GetSettings"
	ProcedureGetMTU      = "/" + ServiceName + "/GetMTU"
	ProcedureGetEncap    = "/" + ServiceName + "/GetEncap"
	ProcedureStatsUpdate = "/" + ServiceName + "/StatsUpdate"
)

// Sentinel errors for the server package.
var (
	// ErrMissingIdx indicates a request omitted the required "idx" field.
	ErrMissingIdx = errors.New("request must set idx")

	// ErrMissingKind indicates an AddVif request omitted the "kind" field.
	ErrMissingKind = errors.New("request must set kind")
)

// HostIfServer is a thin ConnectRPC adapter over a hostif.Facade and its
// backing hostif.Registry. Each RPC delegates to the facade for actual
// datapath operations, mirroring the teacher's BFDServer shape.
type HostIfServer struct {
	facade   *hostif.Facade
	registry *hostif.Registry
	logger   *slog.Logger
}

// New creates a new HostIfServer and returns the mux path prefix and the
// aggregated HTTP handler serving every procedure above.
func New(facade *hostif.Facade, registry *hostif.Registry, logger *slog.Logger, opts ...connect.HandlerOption) (string, http.Handler) {
	srv := &HostIfServer{
		facade:   facade,
		registry: registry,
		logger:   logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.Handle(ProcedureAddVif, connect.NewUnaryHandler(ProcedureAddVif, srv.addVif, opts...))
	mux.Handle(ProcedureDeleteVif, connect.NewUnaryHandler(ProcedureDeleteVif, srv.deleteVif, opts...))
	mux.Handle(ProcedureGetVif, connect.NewUnaryHandler(ProcedureGetVif, srv.getVif, opts...))
	mux.Handle(ProcedureListVifs, connect.NewUnaryHandler(ProcedureListVifs, srv.listVifs, opts...))
	mux.Handle(ProcedureGetSettings, connect.NewUnaryHandler(ProcedureGetSettings, srv.getSettings, opts...))
	mux.Handle(ProcedureGetMTU, connect.NewUnaryHandler(ProcedureGetMTU, srv.getMTU, opts...))
	mux.Handle(ProcedureGetEncap, connect.NewUnaryHandler(ProcedureGetEncap, srv.getEncap, opts...))
	mux.Handle(ProcedureStatsUpdate, connect.NewUnaryHandler(ProcedureStatsUpdate, srv.statsUpdate, opts...))

	return "/" + ServiceName + "/", mux
}

// -------------------------------------------------------------------------
// RPC handlers
// -------------------------------------------------------------------------

// addVif creates a new vif from a request struct. It reads idx, kind,
// os_index and mtu; any other field (such as pci or mac) is ignored.
func (s *HostIfServer) addVif(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()

	s.logger.InfoContext(ctx, "AddVif called", slog.String("kind", fields["kind"].GetStringValue()))

	v, err := vifFromStruct(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.facade.Add(v); err != nil {
		return nil, mapHostifError(err, "add vif")
	}

	return connect.NewResponse(vifToStruct(v)), nil
}

// deleteVif removes a vif by idx.
func (s *HostIfServer) deleteVif(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[emptypb.Empty], error) {
	idx := req.Msg.GetValue()
	s.logger.InfoContext(ctx, "DeleteVif called", slog.Int("idx", int(idx)))

	if err := s.facade.Del(idx); err != nil {
		return nil, mapHostifError(err, "delete vif")
	}

	return connect.NewResponse(&emptypb.Empty{}), nil
}

// getVif returns a single vif's declarative fields by idx.
func (s *HostIfServer) getVif(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[structpb.Struct], error) {
	idx := req.Msg.GetValue()
	s.logger.InfoContext(ctx, "GetVif called", slog.Int("idx", int(idx)))

	v, ok := s.registry.Lookup(idx)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("vif %d: %w", idx, hostif.ErrMonitoredVifMissing))
	}

	return connect.NewResponse(vifToStruct(v)), nil
}

// listVifs always returns an empty "vifs" list: the registry exposes no
// walk over its vifs (§4.E only names Lookup/Add/Del).
func (s *HostIfServer) listVifs(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	s.logger.InfoContext(ctx, "ListVifs called")
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"vifs": structpb.NewListValue(&structpb.ListValue{}),
	}}), nil
}

// getSettings returns NIC speed/duplex for the named vif.
func (s *HostIfServer) getSettings(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[structpb.Struct], error) {
	idx := req.Msg.GetValue()

	v, ok := s.registry.Lookup(idx)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("vif %d: %w", idx, hostif.ErrMonitoredVifMissing))
	}

	settings := s.facade.GetSettings(v)
	out, err := structpb.NewStruct(map[string]any{
		"speed_mbs":   float64(settings.SpeedMbs),
		"full_duplex": settings.FullDuplex,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(out), nil
}

// getMTU returns the MTU for the named vif.
func (s *HostIfServer) getMTU(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[wrapperspb.Int32Value], error) {
	idx := req.Msg.GetValue()

	v, ok := s.registry.Lookup(idx)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("vif %d: %w", idx, hostif.ErrMonitoredVifMissing))
	}

	return connect.NewResponse(wrapperspb.Int32(int32(s.facade.GetMTU(v)))), nil
}

// getEncap returns the constant Ethernet encapsulation string (§4.H).
func (s *HostIfServer) getEncap(ctx context.Context, req *connect.Request[wrapperspb.Int32Value]) (*connect.Response[wrapperspb.StringValue], error) {
	idx := req.Msg.GetValue()

	v, ok := s.registry.Lookup(idx)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("vif %d: %w", idx, hostif.ErrMonitoredVifMissing))
	}

	return connect.NewResponse(wrapperspb.String(s.facade.GetEncap(v))), nil
}

// statsUpdate aggregates stats for a vif, scoped to a core or every core.
// A negative core value in the request maps to hostif.AllCores.
func (s *HostIfServer) statsUpdate(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	fields := req.Msg.GetFields()

	idxVal, ok := fields["idx"]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrMissingIdx)
	}
	idx := int32(idxVal.GetNumberValue())

	core := hostif.AllCores
	if cv, ok := fields["core"]; ok {
		core = lcore.CoreID(int(cv.GetNumberValue()))
	}

	stats := s.facade.StatsUpdate(core, idx)

	out, err := structpb.NewStruct(map[string]any{
		"queue_ipackets": float64(stats.QueueIPackets),
		"queue_opackets": float64(stats.QueueOPackets),
		"queue_ierrors":  float64(stats.QueueIErrors),
		"queue_oerrors":  float64(stats.QueueOErrors),
		"port_ipackets":  float64(stats.PortIPackets),
		"port_opackets":  float64(stats.PortOPackets),
		"port_ierrors":   float64(stats.PortIErrors),
		"port_oerrors":   float64(stats.PortOErrors),
		"dev_ierrors":    float64(stats.DevIErrors),
		"dev_oerrors":    float64(stats.DevOErrors),
		"dev_inombufs":   float64(stats.DevINoMbufs),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(out), nil
}

// -------------------------------------------------------------------------
// Conversion helpers
// -------------------------------------------------------------------------

// vifFromStruct decodes an AddVif request's fields into a *hostif.Vif.
func vifFromStruct(fields map[string]*structpb.Value) (*hostif.Vif, error) {
	idxVal, ok := fields["idx"]
	if !ok {
		return nil, ErrMissingIdx
	}
	kindVal, ok := fields["kind"]
	if !ok {
		return nil, ErrMissingKind
	}

	kind, err := kindFromString(kindVal.GetStringValue())
	if err != nil {
		return nil, err
	}

	v := &hostif.Vif{
		Idx:     int32(idxVal.GetNumberValue()),
		Kind:    kind,
		OSIndex: uint32(fields["os_index"].GetNumberValue()),
		MTU:     int(fields["mtu"].GetNumberValue()),
	}

	return v, nil
}

// vifToStruct encodes a *hostif.Vif into a response struct.
func vifToStruct(v *hostif.Vif) *structpb.Struct {
	s, _ := structpb.NewStruct(map[string]any{
		"idx":      float64(v.Idx),
		"kind":     v.Kind.String(),
		"os_index": float64(v.OSIndex),
		"mtu":      float64(v.MTU),
		"bound":    v.IsBound(),
	})
	return s
}

// kindFromString maps a request's kind string onto hostif.Kind.
func kindFromString(s string) (hostif.Kind, error) {
	switch s {
	case "fabric":
		return hostif.KindFabric, nil
	case "virtual":
		return hostif.KindVirtual, nil
	case "vhost":
		return hostif.KindVhost, nil
	case "agent":
		return hostif.KindAgent, nil
	case "monitoring":
		return hostif.KindMonitoring, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, hostif.ErrUnknownKind)
	}
}

// mapHostifError translates a *hostif.Error's ErrorKind into the
// corresponding ConnectRPC status code, per §7 Error Handling Design.
func mapHostifError(err error, operation string) *connect.Error {
	var herr *hostif.Error
	if !errors.As(err, &herr) {
		return connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", operation, err))
	}

	wrapped := fmt.Errorf("%s: %w", operation, err)

	switch herr.Kind {
	case hostif.ErrKindInvalidArgument:
		return connect.NewError(connect.CodeInvalidArgument, wrapped)
	case hostif.ErrKindNotFound:
		return connect.NewError(connect.CodeNotFound, wrapped)
	case hostif.ErrKindAlreadyExists:
		return connect.NewError(connect.CodeAlreadyExists, wrapped)
	case hostif.ErrKindBusy:
		return connect.NewError(connect.CodeUnavailable, wrapped)
	case hostif.ErrKindResourceExhausted:
		return connect.NewError(connect.CodeResourceExhausted, wrapped)
	case hostif.ErrKindConflict:
		return connect.NewError(connect.CodeFailedPrecondition, wrapped)
	default:
		return connect.NewError(connect.CodeInternal, wrapped)
	}
}
