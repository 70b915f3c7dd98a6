// Package dbusapi exposes a read-only D-Bus introspection surface over
// the host-interface registry and stats aggregator, supplementing the
// ConnectRPC facade (internal/server) for operators already using D-Bus
// tooling (busctl, systemd-analyze-style units) to inspect host state.
package dbusapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/ocvrouter/hostif/internal/hostif"
	"github.com/ocvrouter/hostif/internal/lcore"
)

// ObjectPath is the D-Bus object path this service exports.
const ObjectPath = dbus.ObjectPath("/org/vrouter/HostIf1")

// InterfaceName is the D-Bus interface name this service exports.
const InterfaceName = "org.vrouter.HostIf1"

// ErrNameTaken indicates another process already owns InterfaceName on
// the bus.
var ErrNameTaken = errors.New("dbusapi: bus name already owned")

// Service owns the D-Bus connection and the exported hostIfObject.
type Service struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

// NewService exports a read-only view of registry/stats at ObjectPath on
// conn, a session or system bus connection the caller has already opened.
func NewService(conn *dbus.Conn, registry *hostif.Registry, stats *hostif.StatsAggregator, logger *slog.Logger) (*Service, error) {
	obj := &hostIfObject{registry: registry, stats: stats}

	if err := conn.Export(obj, ObjectPath, InterfaceName); err != nil {
		return nil, fmt.Errorf("dbusapi: export object: %w", err)
	}

	node := &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name: InterfaceName,
				Methods: []introspect.Method{
					{Name: "GetVif", Args: []introspect.Arg{
						{Name: "idx", Type: "i", Direction: "in"},
						{Name: "json", Type: "s", Direction: "out"},
					}},
					{Name: "GetStats", Args: []introspect.Arg{
						{Name: "idx", Type: "i", Direction: "in"},
						{Name: "core", Type: "i", Direction: "in"},
						{Name: "json", Type: "s", Direction: "out"},
					}},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("dbusapi: export introspectable: %w", err)
	}

	reply, err := conn.RequestName(InterfaceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("dbusapi: request name %s: %w", InterfaceName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, InterfaceName)
	}

	return &Service{conn: conn, logger: logger.With(slog.String("component", "dbusapi"))}, nil
}

// Close releases the bus name and closes the connection.
func (s *Service) Close() error {
	if _, err := s.conn.ReleaseName(InterfaceName); err != nil {
		s.logger.Warn("release bus name failed", slog.String("error", err.Error()))
	}

	return s.conn.Close()
}

// hostIfObject is the exported D-Bus object. Every exported method must
// return (..., *dbus.Error) per godbus's calling convention.
type hostIfObject struct {
	registry *hostif.Registry
	stats    *hostif.StatsAggregator
}

// vifView is the JSON projection returned by GetVif, mirroring
// internal/server.vifToStruct's field set.
type vifView struct {
	Idx     int32  `json:"idx"`
	Kind    string `json:"kind"`
	OSIndex uint32 `json:"os_index"`
	MTU     int    `json:"mtu"`
	Bound   bool   `json:"bound"`
}

// GetVif returns a vif's declarative fields as a JSON string.
func (o *hostIfObject) GetVif(idx int32) (string, *dbus.Error) {
	v, ok := o.registry.Lookup(idx)
	if !ok {
		return "", dbus.NewError(InterfaceName+".NotFound", []any{fmt.Sprintf("vif %d not found", idx)})
	}

	data, err := json.Marshal(vifView{
		Idx:     v.Idx,
		Kind:    v.Kind.String(),
		OSIndex: v.OSIndex,
		MTU:     v.MTU,
		Bound:   v.IsBound(),
	})
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}

	return string(data), nil
}

// statsView is the JSON projection returned by GetStats.
type statsView struct {
	QueueIPackets uint64 `json:"queue_ipackets"`
	QueueOPackets uint64 `json:"queue_opackets"`
	QueueIErrors  uint64 `json:"queue_ierrors"`
	QueueOErrors  uint64 `json:"queue_oerrors"`
	PortIPackets  uint64 `json:"port_ipackets"`
	PortOPackets  uint64 `json:"port_opackets"`
	PortIErrors   uint64 `json:"port_ierrors"`
	PortOErrors   uint64 `json:"port_oerrors"`
	DevIErrors    uint64 `json:"dev_ierrors"`
	DevOErrors    uint64 `json:"dev_oerrors"`
	DevINoMbufs   uint64 `json:"dev_inombufs"`
}

// GetStats aggregates a vif's counters, scoped to core (pass -1 for
// hostif.AllCores), as a JSON string.
func (o *hostIfObject) GetStats(idx int32, core int32) (string, *dbus.Error) {
	if _, ok := o.registry.Lookup(idx); !ok {
		return "", dbus.NewError(InterfaceName+".NotFound", []any{fmt.Sprintf("vif %d not found", idx)})
	}

	coreID := hostif.AllCores
	if core >= 0 {
		coreID = lcore.CoreID(core)
	}

	s := o.stats.Aggregate(coreID, idx)

	data, err := json.Marshal(statsView{
		QueueIPackets: s.QueueIPackets,
		QueueOPackets: s.QueueOPackets,
		QueueIErrors:  s.QueueIErrors,
		QueueOErrors:  s.QueueOErrors,
		PortIPackets:  s.PortIPackets,
		PortOPackets:  s.PortOPackets,
		PortIErrors:   s.PortIErrors,
		PortOErrors:   s.PortOErrors,
		DevIErrors:    s.DevIErrors,
		DevOErrors:    s.DevOErrors,
		DevINoMbufs:   s.DevINoMbufs,
	})
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}

	return string(data), nil
}
