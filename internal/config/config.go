// Package config manages govxland configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/govxlan/internal/evpn"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete govxland configuration.
type Config struct {
	Overlay   OverlayConfig    `koanf:"overlay"`
	FDB       FDBConfig        `koanf:"fdb"`
	GRPC      GRPCConfig       `koanf:"grpc"`
	Metrics   MetricsConfig    `koanf:"metrics"`
	Log       LogConfig        `koanf:"log"`
	EVPN      EVPNConfig       `koanf:"evpn"`
	Instances []InstanceConfig `koanf:"instances"`
}

// OverlayConfig describes the shared UDP multicast socket.
type OverlayConfig struct {
	// Group is the daemon-wide multicast group, an IPv4 or IPv6 literal or
	// a host name that resolves to one.
	Group string `koanf:"group"`

	// Interface is the local NIC for multicast membership and sends.
	// Empty lets the kernel choose.
	Interface string `koanf:"interface"`

	// Port is the UDP port for both listening and sending.
	Port int `koanf:"port"`

	// TTL is the multicast TTL (IPv4) or hop limit (IPv6).
	TTL int `koanf:"ttl"`
}

// FDBConfig controls learning and aging.
type FDBConfig struct {
	// AgingTime is how long an entry may go unrefreshed before removal.
	AgingTime time.Duration `koanf:"aging_time"`

	// SweepInterval is how often the aging sweep runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// MaxEntries bounds each instance's FDB.
	MaxEntries int `koanf:"max_entries"`
}

// GRPCConfig holds the ConnectRPC control listener configuration.
type GRPCConfig struct {
	// Addr is the listen address (e.g., "127.0.0.1:50052").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address. Empty disables the endpoint.
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
	// Output is "stderr", "syslog" or "file".
	Output string `koanf:"output"`
	// File is the log path when Output is "file".
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// EVPNConfig controls advertisement of locally learned MACs to GoBGP.
type EVPNConfig struct {
	Enabled bool `koanf:"enabled"`

	// GoBGPAddr is the gobgpd gRPC API address (e.g., "127.0.0.1:50051").
	GoBGPAddr string `koanf:"gobgp_addr"`

	// RouteDistinguisher is "ASN:NN" or "IP:NN". Empty derives
	// "<next_hop>:<vni>" per instance.
	RouteDistinguisher string `koanf:"route_distinguisher"`

	// NextHop is this VTEP's tunnel address.
	NextHop string `koanf:"next_hop"`
}

// InstanceConfig describes a declarative instance. Each entry is created on
// startup and reconciled on SIGHUP.
type InstanceConfig struct {
	VNI      uint32 `koanf:"vni"`
	Group    string `koanf:"group"`
	PortName string `koanf:"port_name"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// Defaults for values the configuration may omit.
const (
	DefaultPort          = 4789
	DefaultTTL           = 16
	DefaultAgingTime     = 300 * time.Second
	DefaultSweepInterval = 10 * time.Second
	DefaultMaxEntries    = 4096
)

// Log outputs.
const (
	OutputStderr = "stderr"
	OutputSyslog = "syslog"
	OutputFile   = "file"
)

// DefaultConfig returns a Config populated with defaults. Overlay.Group has
// no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		Overlay: OverlayConfig{
			Port: DefaultPort,
			TTL:  DefaultTTL,
		},
		FDB: FDBConfig{
			AgingTime:     DefaultAgingTime,
			SweepInterval: DefaultSweepInterval,
			MaxEntries:    DefaultMaxEntries,
		},
		GRPC: GRPCConfig{
			Addr: "127.0.0.1:50052",
		},
		Metrics: MetricsConfig{
			Addr: ":9101",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     OutputSyslog,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for govxland configuration.
const envPrefix = "GOVXLAN_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (GOVXLAN_ prefix), and merges on top of DefaultConfig().
// An empty path skips the file. The result is not validated; callers apply
// flag overrides first and then call Validate.
//
// Environment variable mapping uses a double underscore between section
// and key, so keys may contain single underscores:
//
//	GOVXLAN_OVERLAY__GROUP      -> overlay.group
//	GOVXLAN_FDB__AGING_TIME     -> fdb.aging_time
//	GOVXLAN_GRPC__ADDR          -> grpc.addr
//	GOVXLAN_LOG__LEVEL          -> log.level
//	GOVXLAN_EVPN__GOBGP_ADDR    -> evpn.gobgp_addr
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms GOVXLAN_FDB__AGING_TIME -> fdb.aging_time.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// loadDefaults sets the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"overlay.port":       defaults.Overlay.Port,
		"overlay.ttl":        defaults.Overlay.TTL,
		"fdb.aging_time":     defaults.FDB.AgingTime.String(),
		"fdb.sweep_interval": defaults.FDB.SweepInterval.String(),
		"fdb.max_entries":    defaults.FDB.MaxEntries,
		"grpc.addr":          defaults.GRPC.Addr,
		"metrics.addr":       defaults.Metrics.Addr,
		"metrics.path":       defaults.Metrics.Path,
		"log.level":          defaults.Log.Level,
		"log.format":         defaults.Log.Format,
		"log.output":         defaults.Log.Output,
		"log.max_size_mb":    defaults.Log.MaxSizeMB,
		"log.max_backups":    defaults.Log.MaxBackups,
		"log.max_age_days":   defaults.Log.MaxAgeDays,
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
	// ErrEmptyGroup indicates overlay.group is missing.
	ErrEmptyGroup = errors.New("overlay.group must not be empty")

	// ErrNotMulticast indicates a group literal is not a multicast address.
	ErrNotMulticast = errors.New("group is not a multicast address")

	// ErrInvalidPort indicates overlay.port is outside 1..65535.
	ErrInvalidPort = errors.New("overlay.port must be in 1..65535")

	// ErrInvalidTTL indicates overlay.ttl is outside 1..255.
	ErrInvalidTTL = errors.New("overlay.ttl must be in 1..255")

	// ErrInvalidAgingTime indicates fdb.aging_time is not positive.
	ErrInvalidAgingTime = errors.New("fdb.aging_time must be > 0")

	// ErrInvalidSweepInterval indicates fdb.sweep_interval is not positive.
	ErrInvalidSweepInterval = errors.New("fdb.sweep_interval must be > 0")

	// ErrInvalidMaxEntries indicates fdb.max_entries is below one.
	ErrInvalidMaxEntries = errors.New("fdb.max_entries must be >= 1")

	// ErrEmptyGRPCAddr indicates the control listen address is empty.
	ErrEmptyGRPCAddr = errors.New("grpc.addr must not be empty")

	ErrInvalidLogLevel  = errors.New("log.level must be debug, info, warn or error")
	ErrInvalidLogFormat = errors.New("log.format must be json or text")
	ErrInvalidLogOutput = errors.New("log.output must be stderr, syslog or file")

	// ErrEmptyLogFile indicates log.output is "file" without log.file.
	ErrEmptyLogFile = errors.New("log.file must be set when log.output is file")

	// ErrInvalidInstanceVNI indicates an instance VNI outside 0..2^24-1.
	ErrInvalidInstanceVNI = errors.New("instance vni must be < 16777216")

	// ErrDuplicateInstanceVNI indicates two instances share a VNI.
	ErrDuplicateInstanceVNI = errors.New("duplicate instance vni")

	// ErrEmptyGoBGPAddr indicates EVPN is enabled without a GoBGP address.
	ErrEmptyGoBGPAddr = errors.New("evpn.gobgp_addr must be set when evpn is enabled")

	// ErrInvalidNextHop indicates EVPN is enabled without a valid next hop.
	ErrInvalidNextHop = errors.New("evpn.next_hop must be an IP address")
)

// maxVNI is the largest 24-bit VNI.
const maxVNI = 1<<24 - 1

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
	validLogOutputs = map[string]bool{OutputStderr: true, OutputSyslog: true, OutputFile: true}
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if err := validateOverlay(cfg.Overlay); err != nil {
		return err
	}

	switch {
	case cfg.FDB.AgingTime <= 0:
		return ErrInvalidAgingTime
	case cfg.FDB.SweepInterval <= 0:
		return ErrInvalidSweepInterval
	case cfg.FDB.MaxEntries < 1:
		return ErrInvalidMaxEntries
	case cfg.GRPC.Addr == "":
		return ErrEmptyGRPCAddr
	}

	if err := validateLog(cfg.Log); err != nil {
		return err
	}

	if cfg.EVPN.Enabled {
		if cfg.EVPN.GoBGPAddr == "" {
			return ErrEmptyGoBGPAddr
		}
		if err := validateEVPN(cfg.EVPN); err != nil {
			return err
		}
	}

	return validateInstances(cfg.Instances)
}

func validateOverlay(o OverlayConfig) error {
	if o.Group == "" {
		return ErrEmptyGroup
	}
	if err := checkGroupLiteral(o.Group); err != nil {
		return fmt.Errorf("overlay.group: %w", err)
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, o.Port)
	}
	if o.TTL < 1 || o.TTL > 255 {
		return fmt.Errorf("%w: %d", ErrInvalidTTL, o.TTL)
	}
	return nil
}

func validateLog(l LogConfig) error {
	if !validLogLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, l.Level)
	}
	if !validLogFormats[l.Format] {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, l.Format)
	}
	if !validLogOutputs[l.Output] {
		return fmt.Errorf("%w: %q", ErrInvalidLogOutput, l.Output)
	}
	if l.Output == OutputFile && l.File == "" {
		return ErrEmptyLogFile
	}
	return nil
}

// validateEVPN checks the next hop and the route distinguisher. Without a
// configured RD one is derived per VNI from the next hop, which only
// works for IPv4.
func validateEVPN(e EVPNConfig) error {
	nextHop, err := netip.ParseAddr(e.NextHop)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidNextHop, e.NextHop)
	}

	if e.RouteDistinguisher != "" {
		if _, err := evpn.ParseRouteDistinguisher(e.RouteDistinguisher); err != nil {
			return fmt.Errorf("evpn.route_distinguisher: %w", err)
		}
		return nil
	}

	if err := evpn.CheckAutoRouteDistinguisher(nextHop); err != nil {
		return fmt.Errorf("evpn.route_distinguisher must be set: %w", err)
	}
	return nil
}

// validateInstances checks each declarative instance entry.
func validateInstances(instances []InstanceConfig) error {
	seen := make(map[uint32]struct{}, len(instances))

	for i, ic := range instances {
		if ic.VNI > maxVNI {
			return fmt.Errorf("instances[%d] vni %d: %w", i, ic.VNI, ErrInvalidInstanceVNI)
		}
		if ic.Group != "" {
			if err := checkGroupLiteral(ic.Group); err != nil {
				return fmt.Errorf("instances[%d] group: %w", i, err)
			}
		}
		if _, dup := seen[ic.VNI]; dup {
			return fmt.Errorf("instances[%d] vni %d: %w", i, ic.VNI, ErrDuplicateInstanceVNI)
		}
		seen[ic.VNI] = struct{}{}
	}

	return nil
}

// checkGroupLiteral rejects address literals that are not multicast. Host
// names pass; they are resolved when the socket is opened.
func checkGroupLiteral(s string) error {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil //nolint:nilerr // not a literal, resolved later
	}
	if !addr.Unmap().IsMulticast() {
		return fmt.Errorf("%w: %s", ErrNotMulticast, s)
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
