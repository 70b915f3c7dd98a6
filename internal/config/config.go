// Package config manages the vrouterd daemon configuration using
// koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete vrouterd configuration.
type Config struct {
	GRPC      GRPCConfig      `koanf:"grpc"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Lcore     LcoreConfig     `koanf:"lcore"`
	Datapath  DatapathConfig  `koanf:"datapath"`
	LinkState LinkStateConfig `koanf:"linkstate"`
	OVSDB     OVSDBConfig     `koanf:"ovsdb"`
	DBus      DBusConfig      `koanf:"dbus"`
	Vifs      []VifConfig     `koanf:"vifs"`
}

// GRPCConfig holds the ConnectRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC listen address (e.g., ":50051").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// LcoreConfig holds the poll-mode scheduler configuration (§5, §6).
type LcoreConfig struct {
	// NumCores is the total number of lcore workers the scheduler
	// supervises.
	NumCores int `koanf:"num_cores"`

	// ForwardingThreshold is the lowest core id considered a forwarding
	// core (§5: "forwarding cores have a core id >= a ... threshold").
	// Cores below the threshold are service cores, which flush queues
	// immediately after every enqueue.
	ForwardingThreshold int `koanf:"forwarding_threshold"`
}

// DatapathConfig holds the process-wide datapath knobs described in §3
// Data Model under "Global".
type DatapathConfig struct {
	// VlanTag is the global VLAN tag to insert on fabric TX, or 0 to
	// disable VLAN insertion ("none" sentinel in §3).
	VlanTag uint16 `koanf:"vlan_tag"`

	// MSSAdjust toggles TCP MSS clamping on virtual-vif TX (§4.D step 5).
	MSSAdjust bool `koanf:"mss_adjust"`

	// AgentSocketPath is the Unix domain socket path the agent control
	// plane connects on (§6 "Agent socket").
	AgentSocketPath string `koanf:"agent_socket_path"`

	// AgentRingCapacity is the depth of the single global packet-socket
	// ring for the agent interface (§3 Data Model "Global").
	AgentRingCapacity int `koanf:"agent_ring_capacity"`

	// FragmentQueueDepth is loaded and defaulted but not read by the
	// datapath; fragment buffer allocation is not bounded by it.
	FragmentQueueDepth int `koanf:"fragment_queue_depth"`
}

// VifConfig describes a declaratively configured interface. Each entry
// creates a vif via Registry.Add on daemon startup, mirroring the
// upper vrouter's external add message (§3 Data Model "Interface").
type VifConfig struct {
	// Idx is the dense numeric vif index (§3: "numeric index (dense,
	// <= MaxInterfaces)").
	Idx int32 `koanf:"idx"`

	// Kind is one of "fabric", "virtual", "vhost", "agent", "monitoring".
	Kind string `koanf:"kind"`

	// PCI is the PCI DBDF string (e.g. "0000:03:00.0") for a fabric vif
	// not using the PMD-port-id addressing mode.
	PCI string `koanf:"pci"`

	// PMDPort is the direct PMD port id for a fabric vif with the PMD
	// flag set, or the backing/monitored vif index for vhost/monitoring
	// vifs (§3: "OS-index whose meaning is kind-dependent").
	PMDPort uint32 `koanf:"pmd_port"`

	// MAC is the vif's MAC address in "aa:bb:cc:dd:ee:ff" form. Left
	// empty, the core adopts the NIC's MAC on fabric add.
	MAC string `koanf:"mac"`

	// MTU is the vif's maximum transmission unit.
	MTU int `koanf:"mtu"`
}

// LinkStateConfig configures the fabric link-state-to-BGP bridge
// (internal/linkstate).
type LinkStateConfig struct {
	// Enabled controls whether the link-state handler and GoBGP client
	// are started at all.
	Enabled bool `koanf:"enabled"`

	// GoBGPAddr is the GoBGP gRPC listen address (e.g., "127.0.0.1:50051").
	GoBGPAddr string `koanf:"gobgp_addr"`

	// Strategy is "disable-peer" or "withdraw-routes" (the latter is
	// reserved, see internal/linkstate.StrategyWithdrawRoutes).
	Strategy string `koanf:"strategy"`

	// DampeningEnabled toggles RFC 5882 Section 3.2-style flap dampening.
	DampeningEnabled bool `koanf:"dampening_enabled"`

	// DampeningSuppressThreshold is the penalty at or above which a flapping
	// interface's events are suppressed.
	DampeningSuppressThreshold float64 `koanf:"dampening_suppress_threshold"`

	// DampeningReuseThreshold is the penalty below which suppression lifts.
	DampeningReuseThreshold float64 `koanf:"dampening_reuse_threshold"`

	// DampeningMaxSuppressSeconds bounds how long an interface can stay
	// suppressed regardless of penalty decay.
	DampeningMaxSuppressSeconds int `koanf:"dampening_max_suppress_seconds"`

	// DampeningHalfLifeSeconds is the penalty decay half-life.
	DampeningHalfLifeSeconds int `koanf:"dampening_half_life_seconds"`

	// Bindings maps a fabric interface name to the BGP peer addresses
	// reachable through it.
	Bindings []LinkStateBinding `koanf:"bindings"`
}

// LinkStateBinding binds one fabric interface name to the BGP peer
// addresses that should be disabled/enabled when its link state changes.
type LinkStateBinding struct {
	// IfName is the fabric interface name (e.g., "eth0").
	IfName string `koanf:"ifname"`

	// Peers lists the BGP peer addresses reachable over IfName.
	Peers []string `koanf:"peers"`
}

// OVSDBConfig configures the Open vSwitch database connection backing
// vhost-user port registration (internal/ovsdb), an out-of-scope
// collaborator (§6) given a real implementation here.
type OVSDBConfig struct {
	// Enabled toggles whether virtual-vif adds register a real OVSDB
	// port. When false, vrouterd falls back to an in-process simulated
	// vhost-user notifier.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OVSDB server address, e.g.
	// "unix:/var/run/openvswitch/db.sock" or "tcp:127.0.0.1:6640".
	Endpoint string `koanf:"endpoint"`

	// Bridge is the integration bridge name vhost-user ports attach to.
	Bridge string `koanf:"bridge"`
}

// DBusConfig configures the read-only D-Bus introspection surface
// (internal/dbusapi).
type DBusConfig struct {
	// Enabled toggles whether vrouterd exports org.vrouter.HostIf1 on
	// the system bus.
	Enabled bool `koanf:"enabled"`
}

// VifKindValues lists the recognized vif kind strings (§3 Data Model).
var VifKindValues = map[string]bool{
	"fabric":     true,
	"virtual":    true,
	"vhost":      true,
	"agent":      true,
	"monitoring": true,
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GRPC: GRPCConfig{
			Addr: ":50051",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Lcore: LcoreConfig{
			NumCores:            4,
			ForwardingThreshold: 1,
		},
		Datapath: DatapathConfig{
			AgentSocketPath:    "/run/vrouterd/agent.sock",
			AgentRingCapacity:  1024,
			FragmentQueueDepth: 64,
		},
		LinkState: LinkStateConfig{
			Enabled:                     false,
			GoBGPAddr:                   "127.0.0.1:50051",
			Strategy:                    "disable-peer",
			DampeningEnabled:            false,
			DampeningSuppressThreshold:  3,
			DampeningReuseThreshold:     2,
			DampeningMaxSuppressSeconds: 60,
			DampeningHalfLifeSeconds:    15,
		},
		OVSDB: OVSDBConfig{
			Enabled:  false,
			Endpoint: "unix:/var/run/openvswitch/db.sock",
			Bridge:   "br-int",
		},
		DBus: DBusConfig{
			Enabled: false,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for vrouterd configuration.
// Variables are named VROUTERD_<section>_<key>, e.g., VROUTERD_GRPC_ADDR.
const envPrefix = "VROUTERD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (VROUTERD_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	VROUTERD_GRPC_ADDR    -> grpc.addr
//	VROUTERD_METRICS_ADDR -> metrics.addr
//	VROUTERD_METRICS_PATH -> metrics.path
//	VROUTERD_LOG_LEVEL    -> log.level
//	VROUTERD_LOG_FORMAT   -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms VROUTERD_GRPC_ADDR -> grpc.addr.
// Strips the VROUTERD_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"grpc.addr":                                 defaults.GRPC.Addr,
		"metrics.addr":                               defaults.Metrics.Addr,
		"metrics.path":                               defaults.Metrics.Path,
		"log.level":                                  defaults.Log.Level,
		"log.format":                                 defaults.Log.Format,
		"lcore.num_cores":                            defaults.Lcore.NumCores,
		"lcore.forwarding_threshold":                 defaults.Lcore.ForwardingThreshold,
		"datapath.agent_socket_path":                 defaults.Datapath.AgentSocketPath,
		"datapath.agent_ring_capacity":                defaults.Datapath.AgentRingCapacity,
		"datapath.fragment_queue_depth":               defaults.Datapath.FragmentQueueDepth,
		"linkstate.enabled":                           defaults.LinkState.Enabled,
		"linkstate.gobgp_addr":                        defaults.LinkState.GoBGPAddr,
		"linkstate.strategy":                          defaults.LinkState.Strategy,
		"linkstate.dampening_enabled":                 defaults.LinkState.DampeningEnabled,
		"linkstate.dampening_suppress_threshold":       defaults.LinkState.DampeningSuppressThreshold,
		"linkstate.dampening_reuse_threshold":          defaults.LinkState.DampeningReuseThreshold,
		"linkstate.dampening_max_suppress_seconds":     defaults.LinkState.DampeningMaxSuppressSeconds,
		"linkstate.dampening_half_life_seconds":        defaults.LinkState.DampeningHalfLifeSeconds,
		"ovsdb.enabled":                                defaults.OVSDB.Enabled,
		"ovsdb.endpoint":                               defaults.OVSDB.Endpoint,
		"ovsdb.bridge":                                 defaults.OVSDB.Bridge,
		"dbus.enabled":                                 defaults.DBus.Enabled,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyGRPCAddr indicates the gRPC listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	// ErrInvalidNumCores indicates the lcore count is not positive.
	ErrInvalidNumCores = errors.New("lcore.num_cores must be >= 1")

	// ErrInvalidForwardingThreshold indicates the forwarding threshold
	// falls outside [0, num_cores].
	ErrInvalidForwardingThreshold = errors.New("lcore.forwarding_threshold must be within [0, num_cores]")

	// ErrInvalidVifKind indicates a declarative vif entry named an
	// unrecognized kind.
	ErrInvalidVifKind = errors.New("vif kind must be one of fabric, virtual, vhost, agent, monitoring")

	// ErrDuplicateVifIdx indicates two declarative vif entries share the
	// same idx.
	ErrDuplicateVifIdx = errors.New("duplicate vif idx")

	// ErrMissingPCIOrPort indicates a fabric vif entry specified neither
	// a PCI DBDF string nor a PMD port id.
	ErrMissingPCIOrPort = errors.New("fabric vif requires either pci or pmd_port")

	// ErrEmptyGoBGPAddr indicates linkstate is enabled but no GoBGP
	// address was configured.
	ErrEmptyGoBGPAddr = errors.New("linkstate.gobgp_addr must not be empty when linkstate.enabled")

	// ErrInvalidLinkStateStrategy indicates an unrecognized linkstate strategy.
	ErrInvalidLinkStateStrategy = errors.New("linkstate.strategy must be one of disable-peer, withdraw-routes")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.GRPC.Addr == "" {
		return ErrEmptyGRPCAddr
	}

	if cfg.Lcore.NumCores < 1 {
		return ErrInvalidNumCores
	}

	if cfg.Lcore.ForwardingThreshold < 0 || cfg.Lcore.ForwardingThreshold > cfg.Lcore.NumCores {
		return ErrInvalidForwardingThreshold
	}

	if err := validateLinkState(cfg.LinkState); err != nil {
		return err
	}

	return validateVifs(cfg.Vifs)
}

// validateLinkState checks the fabric link-state-to-BGP bridge configuration.
func validateLinkState(cfg LinkStateConfig) error {
	if !cfg.Enabled {
		return nil
	}

	if cfg.GoBGPAddr == "" {
		return ErrEmptyGoBGPAddr
	}

	switch cfg.Strategy {
	case "disable-peer", "withdraw-routes":
	default:
		return fmt.Errorf("linkstate.strategy %q: %w", cfg.Strategy, ErrInvalidLinkStateStrategy)
	}

	return nil
}

// validateVifs checks each declarative vif entry for correctness.
func validateVifs(vifs []VifConfig) error {
	seen := make(map[int32]struct{}, len(vifs))

	for i, v := range vifs {
		if !VifKindValues[v.Kind] {
			return fmt.Errorf("vifs[%d] kind %q: %w", i, v.Kind, ErrInvalidVifKind)
		}
		if v.Kind == "fabric" && v.PCI == "" && v.PMDPort == 0 {
			return fmt.Errorf("vifs[%d]: %w", i, ErrMissingPCIOrPort)
		}
		if _, dup := seen[v.Idx]; dup {
			return fmt.Errorf("vifs[%d] idx %d: %w", i, v.Idx, ErrDuplicateVifIdx)
		}
		seen[v.Idx] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
