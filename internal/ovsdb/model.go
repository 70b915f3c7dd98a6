// Package ovsdb registers vhost-user ports against an Open vSwitch
// database, fronting hostif.VhostUserNotifier the way a real OVS-DPDK
// deployment would: a virtual vif's underlying transport is a
// dpdkvhostuserclient Interface row on a Port attached to the
// integration bridge, not a bare socket path.
package ovsdb

// Bridge mirrors the Open_vSwitch database's Bridge table, trimmed to
// the columns this package reads or mutates.
type Bridge struct {
	UUID  string   `ovsdb:"_uuid"`
	Name  string   `ovsdb:"name"`
	Ports []string `ovsdb:"ports"`
}

// Port mirrors the Port table. One Port row per vif, holding exactly one
// Interface (vhost-user ports are never bonded).
type Port struct {
	UUID       string   `ovsdb:"_uuid"`
	Name       string   `ovsdb:"name"`
	Interfaces []string `ovsdb:"interfaces"`
}

// Interface mirrors the Interface table. Type is always
// "dpdkvhostuserclient": the vrouter datapath is the vhost-user client,
// OVS-DPDK is the server listening on the socket named in Options["vhost-server-path"].
type Interface struct {
	UUID    string            `ovsdb:"_uuid"`
	Name    string            `ovsdb:"name"`
	Type    string            `ovsdb:"type"`
	Options map[string]string `ovsdb:"options"`
}
