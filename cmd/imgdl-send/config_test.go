package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSenderConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "send.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSenderConfigDefaultsAndOverrides(t *testing.T) {
	path := writeSenderConfig(t, `
addr = "pebble.local:9000"
websocket = true
ack_timeout = "2s"
dither = false

[backoff]
max_attempts = 9
jitter = false
`)
	cfg, err := loadSenderConfig(path, defaultSenderConfig())
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Addr != "pebble.local:9000" || !cfg.Websocket || cfg.Dither {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.WSPath != "/ws" || cfg.HandshakeTimeout != 10*time.Second {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Transport.AckTimeout != 2*time.Second {
		t.Fatalf("unexpected ack timeout: %v", cfg.Transport.AckTimeout)
	}
	b := cfg.Transport.Backoff
	if b.MaxAttempts != 9 || b.Jitter || b.InitialDelay != 250*time.Millisecond {
		t.Fatalf("unexpected backoff: %+v", b)
	}
}

func TestLoadSenderConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"duration": "ack_timeout = \"soon\"\n",
		"negative": "handshake_timeout = \"-1s\"\n",
		"unknown":  "adress = \"typo\"\n",
		"syntax":   "addr = \n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadSenderConfig(writeSenderConfig(t, body), defaultSenderConfig()); err == nil {
				t.Fatalf("expected error for %q", body)
			}
		})
	}
}
