package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/imgdl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadReceiverConfigDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadReceiverConfig(writeConfig(t, "websocket = true\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != DefaultReceiverName || cfg.Listen != DefaultListen || cfg.StatusAddr != DefaultStatusAddr {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Websocket || cfg.WSPath != DefaultWSPath {
		t.Fatalf("unexpected websocket settings: %+v", cfg)
	}
	w, h := cfg.Dimensions()
	if w != DefaultWidth || h != DefaultHeight {
		t.Fatalf("unexpected dimensions %dx%d", w, h)
	}
	tc := cfg.TransportConfig()
	if tc.InboxSize != 8200 || tc.OutboxSize != 64 || tc.AckTimeout != 5*time.Second {
		t.Fatalf("unexpected transport config: %+v", tc)
	}
}

func TestLoadReceiverConfigOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadReceiverConfig(writeConfig(t, `
name = "desk"
listen = "127.0.0.1:9999"
width = 200
height = 228
inbox_size = 1024
ack_timeout = "750ms"
cors_origins = ["http://a", "http://b"]
output_dir = "/tmp/imgdl"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Name != "desk" || cfg.Listen != "127.0.0.1:9999" || cfg.OutputDir != "/tmp/imgdl" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.CorsOrigins) != 2 {
		t.Fatalf("unexpected cors origins: %+v", cfg.CorsOrigins)
	}
	tc := cfg.TransportConfig()
	if tc.InboxSize != 1024 || tc.AckTimeout != 750*time.Millisecond {
		t.Fatalf("unexpected transport config: %+v", tc)
	}
}

func TestValidateReceiverConfigRejects(t *testing.T) {
	testlog.Start(t)
	base := withReceiverDefaults(ReceiverConfig{})
	if err := ValidateReceiverConfig(base); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ReceiverConfig)
		want   string
	}{
		{"blank name", func(c *ReceiverConfig) { c.Name = "  " }, "missing name"},
		{"ws path", func(c *ReceiverConfig) { c.Websocket = true; c.WSPath = "ws" }, "ws_path"},
		{"width", func(c *ReceiverConfig) { c.Width = 70000 }, "width"},
		{"height", func(c *ReceiverConfig) { c.Height = -1 }, "height"},
		{"small inbox", func(c *ReceiverConfig) { c.InboxSize = 10 }, "inbox_size"},
		{"large inbox", func(c *ReceiverConfig) { c.InboxSize = 9000 }, "inbox_size"},
		{"timeout", func(c *ReceiverConfig) { c.AckTimeout = "soon" }, "ack_timeout"},
		{"zero timeout", func(c *ReceiverConfig) { c.AckTimeout = "0s" }, "ack_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := ValidateReceiverConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadReceiverConfigParseError(t *testing.T) {
	testlog.Start(t)
	if _, err := LoadReceiverConfig(writeConfig(t, "width = \"wide\"\n")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := LoadReceiverConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "recv.toml")
	if err := WriteTemplate(path, "recv", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "recv", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, err := LoadReceiverConfig(path); err != nil {
		t.Fatalf("template does not validate: %v", err)
	}
	if _, err := Template("send"); err != nil {
		t.Fatalf("send template: %v", err)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
