package config

import (
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"firestige.xyz/lowpan/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
lowpan:
  contexts:
    - index: 0
      prefix: "2001:db8:1::/64"
    - index: 5
      prefix: "fd00:aaaa::/64"
  reassembly:
    timeout: "500ms"
    max_contexts: 8
    max_datagram_size: 2047
    max_frags_per_source: 100
    rate_limit_window: "1s"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "127.0.0.1:9100"
    path: "/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if len(cfg.Contexts) != 2 {
		t.Fatalf("Expected 2 contexts, got %d", len(cfg.Contexts))
	}
	if cfg.Contexts[1].Index != 5 || cfg.Contexts[1].Prefix != netip.MustParsePrefix("fd00:aaaa::/64") {
		t.Errorf("Unexpected context %+v", cfg.Contexts[1])
	}
	if cfg.Reassembly.Timeout != 500*time.Millisecond {
		t.Errorf("Expected timeout 500ms, got %s", cfg.Reassembly.Timeout)
	}
	if cfg.Reassembly.MaxContexts != 8 {
		t.Errorf("Expected max_contexts 8, got %d", cfg.Reassembly.MaxContexts)
	}
	if cfg.Reassembly.MaxDatagramSize != 2047 {
		t.Errorf("Expected max_datagram_size 2047, got %d", cfg.Reassembly.MaxDatagramSize)
	}
	if cfg.Reassembly.RateLimitWindow != time.Second {
		t.Errorf("Expected rate_limit_window 1s, got %s", cfg.Reassembly.RateLimitWindow)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Expected debug/json logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9100" {
		t.Errorf("Unexpected metrics config %+v", cfg.Metrics)
	}

	table, err := cfg.ContextTable()
	if err != nil {
		t.Fatalf("ContextTable failed: %v", err)
	}
	prefix, ok := table.Get(5)
	if !ok || prefix != [8]byte{0xfd, 0x00, 0xaa, 0xaa} {
		t.Errorf("Unexpected context 5: %x %v", prefix, ok)
	}
	if _, ok := table.Get(1); ok {
		t.Error("Expected context 1 to be empty")
	}

	rc := cfg.ReassemblyConfig()
	if rc.MaxFragsPerSource != 100 || rc.Timeout != 500*time.Millisecond {
		t.Errorf("Unexpected reassembly config %+v", rc)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "lowpan: {}\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Reassembly.Timeout != 2*time.Second {
		t.Errorf("Expected default timeout 2s, got %s", cfg.Reassembly.Timeout)
	}
	if cfg.Reassembly.MaxContexts != 64 {
		t.Errorf("Expected default max_contexts 64, got %d", cfg.Reassembly.MaxContexts)
	}
	if cfg.Reassembly.MaxDatagramSize != 1280 {
		t.Errorf("Expected default max_datagram_size 1280, got %d", cfg.Reassembly.MaxDatagramSize)
	}
	if cfg.Reassembly.MaxFragsPerSource != 0 {
		t.Errorf("Expected rate limiting disabled, got %d", cfg.Reassembly.MaxFragsPerSource)
	}
	if cfg.Reassembly.RateLimitWindow != 10*time.Second {
		t.Errorf("Expected default rate_limit_window 10s, got %s", cfg.Reassembly.RateLimitWindow)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "pattern" {
		t.Errorf("Expected info/pattern logging, got %s/%s", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Expected default metrics path /metrics, got %s", cfg.Metrics.Path)
	}
	if len(cfg.Contexts) != 0 {
		t.Errorf("Expected no contexts, got %v", cfg.Contexts)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}
	if cfg.Reassembly.Timeout != 2*time.Second {
		t.Errorf("Expected default timeout 2s, got %s", cfg.Reassembly.Timeout)
	}

	if d := Default(); d.Reassembly.MaxContexts != 64 {
		t.Errorf("Expected default max_contexts 64, got %d", d.Reassembly.MaxContexts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
lowpan:
  log:
    level: "info"
`)

	t.Setenv("LOWPAN_LOG_LEVEL", "debug")
	t.Setenv("LOWPAN_REASSEMBLY_TIMEOUT", "750ms")
	t.Setenv("LOWPAN_REASSEMBLY_MAX_CONTEXTS", "4")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Log.Level)
	}
	if cfg.Reassembly.Timeout != 750*time.Millisecond {
		t.Errorf("Expected timeout 750ms from env var, got %s", cfg.Reassembly.Timeout)
	}
	if cfg.Reassembly.MaxContexts != 4 {
		t.Errorf("Expected max_contexts 4 from env var, got %d", cfg.Reassembly.MaxContexts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Expected error for missing config file, got nil")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name: "duplicate context index",
			content: `
lowpan:
  contexts:
    - {index: 1, prefix: "2001:db8::/64"}
    - {index: 1, prefix: "2001:db8:1::/64"}
`,
			wantMsg: "duplicate context index 1",
		},
		{
			name: "context index out of range",
			content: `
lowpan:
  contexts:
    - {index: 16, prefix: "2001:db8::/64"}
`,
			wantMsg: "out of range",
		},
		{
			name: "prefix not a /64",
			content: `
lowpan:
  contexts:
    - {index: 0, prefix: "2001:db8::/48"}
`,
			wantMsg: "must be an IPv6 /64",
		},
		{
			name: "IPv4 prefix",
			content: `
lowpan:
  contexts:
    - {index: 0, prefix: "10.0.0.0/8"}
`,
			wantMsg: "must be an IPv6 /64",
		},
		{
			name: "unparsable prefix",
			content: `
lowpan:
  contexts:
    - {index: 0, prefix: "not-a-prefix"}
`,
			wantMsg: "not-a-prefix",
		},
		{
			name: "datagram size above 11 bits",
			content: `
lowpan:
  reassembly:
    max_datagram_size: 4096
`,
			wantMsg: "max_datagram_size 4096",
		},
		{
			name: "zero timeout",
			content: `
lowpan:
  reassembly:
    timeout: "0s"
`,
			wantMsg: "reassembly.timeout",
		},
		{
			name: "bad duration",
			content: `
lowpan:
  reassembly:
    timeout: "soon"
`,
			wantMsg: "soon",
		},
		{
			name: "log level",
			content: `
lowpan:
  log:
    level: "verbose"
`,
			wantMsg: "invalid log level",
		},
		{
			name: "log format",
			content: `
lowpan:
  log:
    format: "xml"
`,
			wantMsg: "invalid log format",
		},
		{
			name: "metrics path",
			content: `
lowpan:
  metrics:
    enabled: true
    path: "metrics"
`,
			wantMsg: "metrics.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, core.ErrConfigInvalid) {
				t.Errorf("Expected ErrConfigInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Reassembly.MaxContexts = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	msg := err.Error()
	if !strings.Contains(msg, "max_contexts") || !strings.Contains(msg, "invalid log level") {
		t.Errorf("Expected both problems reported, got %v", err)
	}
}

func TestStringToPrefixHook(t *testing.T) {
	root := configRoot{}
	if err := decode(map[string]interface{}{
		"lowpan": map[string]interface{}{
			"contexts": []interface{}{
				map[string]interface{}{"index": "3", "prefix": " 2001:db8:0:1::/64 "},
			},
		},
	}, &root); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(root.Lowpan.Contexts) != 1 {
		t.Fatalf("Expected 1 context, got %d", len(root.Lowpan.Contexts))
	}
	got := root.Lowpan.Contexts[0]
	if got.Index != 3 || got.Prefix != netip.MustParsePrefix("2001:db8:0:1::/64") {
		t.Errorf("Unexpected context %+v", got)
	}
}
