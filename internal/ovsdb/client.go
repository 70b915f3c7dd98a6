package ovsdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"
)

// Sentinel errors for this package.
var (
	// ErrBridgeNotFound indicates the configured integration bridge has
	// no matching row in the connected database.
	ErrBridgeNotFound = errors.New("ovsdb: integration bridge not found")

	// ErrPortNotFound indicates NotifyDel was called for a vif with no
	// matching Port row, most likely because NotifyAdd was never called
	// for it or already removed it.
	ErrPortNotFound = errors.New("ovsdb: port not found")
)

const defaultTransactTimeout = 5 * time.Second

// PortRegistrar implements hostif.VhostUserNotifier against a live Open
// vSwitch database connection, standing in for the OVSDB control path
// the working spec documents as out of scope (§6 "vhost-user agent").
type PortRegistrar struct {
	ovs    client.Client
	bridge string
	logger *slog.Logger
}

// NewPortRegistrar connects to the OVSDB server at endpoint (e.g.
// "unix:/var/run/openvswitch/db.sock") and monitors the Bridge/Port/
// Interface tables needed to register vhost-user ports on bridgeName.
func NewPortRegistrar(ctx context.Context, endpoint, bridgeName string, logger *slog.Logger) (*PortRegistrar, error) {
	dbModel, err := model.NewClientDBModel("Open_vSwitch", map[string]model.Model{
		"Bridge":    &Bridge{},
		"Port":      &Port{},
		"Interface": &Interface{},
	})
	if err != nil {
		return nil, fmt.Errorf("ovsdb: build client db model: %w", err)
	}

	ovs, err := client.NewOVSDBClient(dbModel, client.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("ovsdb: new client: %w", err)
	}

	if err := ovs.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ovsdb: connect %s: %w", endpoint, err)
	}

	if _, err := ovs.MonitorAll(ctx); err != nil {
		ovs.Disconnect()
		return nil, fmt.Errorf("ovsdb: monitor all: %w", err)
	}

	return &PortRegistrar{
		ovs:    ovs,
		bridge: bridgeName,
		logger: logger.With(slog.String("component", "ovsdb")),
	}, nil
}

// Close disconnects from the database.
func (r *PortRegistrar) Close() error {
	r.ovs.Disconnect()
	return nil
}

// NotifyAdd creates a dpdkvhostuserclient Interface and its owning Port,
// then attaches the Port to the integration bridge. name is the vif's
// socket-facing port name (e.g. "vif3"); nrxqs/ntxqs are recorded as
// options for OVS-DPDK's multiqueue negotiation.
func (r *PortRegistrar) NotifyAdd(name string, idx int32, nrxqs, ntxqs int) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTransactTimeout)
	defer cancel()

	iface := &Interface{
		Name: name,
		Type: "dpdkvhostuserclient",
		Options: map[string]string{
			"vhost-server-path": fmt.Sprintf("/var/run/vrouter/%s.sock", name),
			"n_rxq":             fmt.Sprintf("%d", nrxqs),
			"n_txq":             fmt.Sprintf("%d", ntxqs),
		},
	}
	ifaceOps, err := r.ovs.Create(iface)
	if err != nil {
		return fmt.Errorf("ovsdb: build create interface ops for vif %d: %w", idx, err)
	}

	port := &Port{Name: name, Interfaces: []string{iface.UUID}}
	portOps, err := r.ovs.Create(port)
	if err != nil {
		return fmt.Errorf("ovsdb: build create port ops for vif %d: %w", idx, err)
	}

	bridge, err := r.lookupBridge(ctx)
	if err != nil {
		return err
	}

	mutateOps, err := r.ovs.Where(bridge).Mutate(bridge, model.Mutation{
		Field:   &bridge.Ports,
		Mutator: ovsdb.MutateOperationInsert,
		Value:   []string{port.UUID},
	})
	if err != nil {
		return fmt.Errorf("ovsdb: build bridge mutate ops for vif %d: %w", idx, err)
	}

	ops := append(append(ifaceOps, portOps...), mutateOps...)

	results, err := r.ovs.Transact(ctx, ops...)
	if err != nil {
		return fmt.Errorf("ovsdb: transact add vif %d: %w", idx, err)
	}
	if _, err := ovsdb.CheckOperationResults(results, ops); err != nil {
		return fmt.Errorf("ovsdb: add vif %d: %w", idx, err)
	}

	r.logger.Info("vhost-user port registered", slog.String("name", name), slog.Int("idx", int(idx)))

	return nil
}

// NotifyDel removes the Port named "vifN" and its Interface from the
// bridge. Interface rows are garbage collected by OVSDB once no Port
// references them; deleting the Port is sufficient.
func (r *PortRegistrar) NotifyDel(idx int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTransactTimeout)
	defer cancel()

	name := fmt.Sprintf("vif%d", idx)

	port := &Port{Name: name}
	if err := r.ovs.Get(ctx, port); err != nil {
		return fmt.Errorf("%w: vif %d (%s): %v", ErrPortNotFound, idx, name, err)
	}

	bridge, err := r.lookupBridge(ctx)
	if err != nil {
		return err
	}

	deleteOps, err := r.ovs.Where(&Port{Name: name}).Delete()
	if err != nil {
		return fmt.Errorf("ovsdb: build delete port ops for vif %d: %w", idx, err)
	}

	mutateOps, err := r.ovs.Where(bridge).Mutate(bridge, model.Mutation{
		Field:   &bridge.Ports,
		Mutator: ovsdb.MutateOperationDelete,
		Value:   []string{port.UUID},
	})
	if err != nil {
		return fmt.Errorf("ovsdb: build bridge mutate ops for vif %d: %w", idx, err)
	}

	ops := append(deleteOps, mutateOps...)

	results, err := r.ovs.Transact(ctx, ops...)
	if err != nil {
		return fmt.Errorf("ovsdb: transact delete vif %d: %w", idx, err)
	}
	if _, err := ovsdb.CheckOperationResults(results, ops); err != nil {
		return fmt.Errorf("ovsdb: delete vif %d: %w", idx, err)
	}

	r.logger.Info("vhost-user port removed", slog.String("name", name), slog.Int("idx", int(idx)))

	return nil
}

func (r *PortRegistrar) lookupBridge(ctx context.Context) (*Bridge, error) {
	bridge := &Bridge{Name: r.bridge}
	if err := r.ovs.Get(ctx, bridge); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBridgeNotFound, r.bridge, err)
	}

	return bridge, nil
}
