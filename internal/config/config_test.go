package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dantte-lp/govxlan/internal/config"
	"github.com/dantte-lp/govxlan/internal/evpn"
)

// validConfig returns DefaultConfig with the one required field set.
func validConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Overlay.Group = "239.1.1.1"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Overlay.Port != 4789 {
		t.Errorf("Overlay.Port = %d, want %d", cfg.Overlay.Port, 4789)
	}

	if cfg.Overlay.TTL != 16 {
		t.Errorf("Overlay.TTL = %d, want %d", cfg.Overlay.TTL, 16)
	}

	if cfg.FDB.AgingTime != 300*time.Second {
		t.Errorf("FDB.AgingTime = %v, want %v", cfg.FDB.AgingTime, 300*time.Second)
	}

	if cfg.FDB.SweepInterval != 10*time.Second {
		t.Errorf("FDB.SweepInterval = %v, want %v", cfg.FDB.SweepInterval, 10*time.Second)
	}

	if cfg.FDB.MaxEntries != 4096 {
		t.Errorf("FDB.MaxEntries = %d, want %d", cfg.FDB.MaxEntries, 4096)
	}

	if cfg.GRPC.Addr != "127.0.0.1:50052" {
		t.Errorf("GRPC.Addr = %q, want %q", cfg.GRPC.Addr, "127.0.0.1:50052")
	}

	if cfg.Log.Output != config.OutputSyslog {
		t.Errorf("Log.Output = %q, want %q", cfg.Log.Output, config.OutputSyslog)
	}

	// The group has no default.
	if err := config.Validate(cfg); !errors.Is(err, config.ErrEmptyGroup) {
		t.Errorf("Validate(DefaultConfig()) = %v, want %v", err, config.ErrEmptyGroup)
	}

	if err := config.Validate(validConfig()); err != nil {
		t.Errorf("DefaultConfig() with group failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
overlay:
  group: "ff05::100"
  interface: "eth1"
  port: 8472
  ttl: 4
fdb:
  aging_time: "2m"
  sweep_interval: "5s"
  max_entries: 128
grpc:
  addr: ":60000"
log:
  level: "debug"
  format: "text"
  output: "file"
  file: "/var/log/govxland.log"
evpn:
  enabled: true
  gobgp_addr: "127.0.0.1:50051"
  next_hop: "192.0.2.1"
instances:
  - vni: 100
  - vni: 200
    group: "ff05::200"
    port_name: "tap200"
`

	cfg, err := config.Load(writeTemp(t, yamlContent))
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))

	assert.Equal(t, "ff05::100", cfg.Overlay.Group)
	assert.Equal(t, "eth1", cfg.Overlay.Interface)
	assert.Equal(t, 8472, cfg.Overlay.Port)
	assert.Equal(t, 4, cfg.Overlay.TTL)
	assert.Equal(t, 2*time.Minute, cfg.FDB.AgingTime)
	assert.Equal(t, 5*time.Second, cfg.FDB.SweepInterval)
	assert.Equal(t, 128, cfg.FDB.MaxEntries)
	assert.Equal(t, ":60000", cfg.GRPC.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.OutputFile, cfg.Log.Output)
	assert.True(t, cfg.EVPN.Enabled)
	assert.Equal(t, "192.0.2.1", cfg.EVPN.NextHop)

	require.Len(t, cfg.Instances, 2)
	assert.Equal(t, config.InstanceConfig{VNI: 100}, cfg.Instances[0])
	assert.Equal(t, config.InstanceConfig{VNI: 200, Group: "ff05::200", PortName: "tap200"}, cfg.Instances[1])
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
overlay:
  group: "239.1.1.1"
log:
  level: "warn"
`

	cfg, err := config.Load(writeTemp(t, yamlContent))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Overlay.Port != config.DefaultPort {
		t.Errorf("Overlay.Port = %d, want default %d", cfg.Overlay.Port, config.DefaultPort)
	}

	if cfg.FDB.AgingTime != config.DefaultAgingTime {
		t.Errorf("FDB.AgingTime = %v, want default %v", cfg.FDB.AgingTime, config.DefaultAgingTime)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMaxEntries, cfg.FDB.MaxEntries)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GOVXLAN_OVERLAY__GROUP", "239.5.5.5")
	t.Setenv("GOVXLAN_FDB__AGING_TIME", "45s")
	t.Setenv("GOVXLAN_LOG__OUTPUT", "stderr")

	cfg, err := config.Load(writeTemp(t, "overlay:\n  group: \"239.1.1.1\"\n"))
	require.NoError(t, err)

	assert.Equal(t, "239.5.5.5", cfg.Overlay.Group)
	assert.Equal(t, 45*time.Second, cfg.FDB.AgingTime)
	assert.Equal(t, config.OutputStderr, cfg.Log.Output)
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name:    "empty group",
			modify:  func(cfg *config.Config) { cfg.Overlay.Group = "" },
			wantErr: config.ErrEmptyGroup,
		},
		{
			name:    "unicast group",
			modify:  func(cfg *config.Config) { cfg.Overlay.Group = "192.0.2.1" },
			wantErr: config.ErrNotMulticast,
		},
		{
			name:    "zero port",
			modify:  func(cfg *config.Config) { cfg.Overlay.Port = 0 },
			wantErr: config.ErrInvalidPort,
		},
		{
			name:    "ttl too large",
			modify:  func(cfg *config.Config) { cfg.Overlay.TTL = 256 },
			wantErr: config.ErrInvalidTTL,
		},
		{
			name:    "zero aging time",
			modify:  func(cfg *config.Config) { cfg.FDB.AgingTime = 0 },
			wantErr: config.ErrInvalidAgingTime,
		},
		{
			name:    "negative sweep interval",
			modify:  func(cfg *config.Config) { cfg.FDB.SweepInterval = -time.Second },
			wantErr: config.ErrInvalidSweepInterval,
		},
		{
			name:    "zero max entries",
			modify:  func(cfg *config.Config) { cfg.FDB.MaxEntries = 0 },
			wantErr: config.ErrInvalidMaxEntries,
		},
		{
			name:    "empty grpc addr",
			modify:  func(cfg *config.Config) { cfg.GRPC.Addr = "" },
			wantErr: config.ErrEmptyGRPCAddr,
		},
		{
			name:    "unknown log level",
			modify:  func(cfg *config.Config) { cfg.Log.Level = "trace" },
			wantErr: config.ErrInvalidLogLevel,
		},
		{
			name:    "unknown log format",
			modify:  func(cfg *config.Config) { cfg.Log.Format = "xml" },
			wantErr: config.ErrInvalidLogFormat,
		},
		{
			name:    "unknown log output",
			modify:  func(cfg *config.Config) { cfg.Log.Output = "kafka" },
			wantErr: config.ErrInvalidLogOutput,
		},
		{
			name:    "file output without path",
			modify:  func(cfg *config.Config) { cfg.Log.Output = config.OutputFile },
			wantErr: config.ErrEmptyLogFile,
		},
		{
			name: "vni out of range",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{VNI: 1 << 24}}
			},
			wantErr: config.ErrInvalidInstanceVNI,
		},
		{
			name: "duplicate vni",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{VNI: 7}, {VNI: 7, PortName: "other"}}
			},
			wantErr: config.ErrDuplicateInstanceVNI,
		},
		{
			name: "unicast instance group",
			modify: func(cfg *config.Config) {
				cfg.Instances = []config.InstanceConfig{{VNI: 7, Group: "10.0.0.1"}}
			},
			wantErr: config.ErrNotMulticast,
		},
		{
			name: "evpn without gobgp addr",
			modify: func(cfg *config.Config) {
				cfg.EVPN = config.EVPNConfig{Enabled: true, NextHop: "192.0.2.1"}
			},
			wantErr: config.ErrEmptyGoBGPAddr,
		},
		{
			name: "evpn with bad next hop",
			modify: func(cfg *config.Config) {
				cfg.EVPN = config.EVPNConfig{Enabled: true, GoBGPAddr: "127.0.0.1:50051", NextHop: "vtep1"}
			},
			wantErr: config.ErrInvalidNextHop,
		},
		{
			name: "evpn ipv6 next hop without rd",
			modify: func(cfg *config.Config) {
				cfg.EVPN = config.EVPNConfig{Enabled: true, GoBGPAddr: "127.0.0.1:50051", NextHop: "2001:db8::1"}
			},
			wantErr: evpn.ErrAutoRouteDistinguisher,
		},
		{
			name: "evpn malformed rd",
			modify: func(cfg *config.Config) {
				cfg.EVPN = config.EVPNConfig{
					Enabled:            true,
					GoBGPAddr:          "127.0.0.1:50051",
					NextHop:            "192.0.2.1",
					RouteDistinguisher: "2001:db8::1:100",
				}
			},
			wantErr: evpn.ErrInvalidRouteDistinguisher,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEVPNIPv6WithRouteDistinguisher(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.EVPN = config.EVPNConfig{
		Enabled:            true,
		GoBGPAddr:          "127.0.0.1:50051",
		NextHop:            "2001:db8::1",
		RouteDistinguisher: "65000:100",
	}

	require.NoError(t, config.Validate(cfg))
}

func TestValidateAcceptsHostnameGroup(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Overlay.Group = "vxlan-group.example.net"

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "govxland.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
