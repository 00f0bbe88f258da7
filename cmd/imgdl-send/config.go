package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/imgdl/internal/transport"
)

type senderConfig struct {
	Addr             string
	Websocket        bool
	WSPath           string
	HandshakeTimeout time.Duration
	Dither           bool
	Transport        transport.Config
	TLS              transport.TLSConfig
}

func defaultSenderConfig() senderConfig {
	return senderConfig{
		Addr:             "localhost:7070",
		WSPath:           "/ws",
		HandshakeTimeout: 10 * time.Second,
		Dither:           true,
		Transport:        transport.CompanionConfig(),
	}
}

type fileConfig struct {
	Addr             string              `toml:"addr"`
	Websocket        bool                `toml:"websocket"`
	WSPath           string              `toml:"ws_path"`
	AckTimeout       string              `toml:"ack_timeout"`
	HandshakeTimeout string              `toml:"handshake_timeout"`
	Dither           bool                `toml:"dither"`
	Backoff          fileBackoffConfig   `toml:"backoff"`
	TLS              transport.TLSConfig `toml:"tls"`
}

type fileBackoffConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	MaxAttempts  int     `toml:"max_attempts"`
	Jitter       bool    `toml:"jitter"`
}

// loadSenderConfig overlays the keys present in path onto cfg.
func loadSenderConfig(path string, cfg senderConfig) (senderConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return senderConfig{}, fmt.Errorf("load sender config: %w", err)
	}

	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Addr = addr
		}
	}
	if meta.IsDefined("websocket") {
		cfg.Websocket = raw.Websocket
	}
	if meta.IsDefined("ws_path") {
		cfg.WSPath = strings.TrimSpace(raw.WSPath)
	}
	if meta.IsDefined("ack_timeout") {
		if cfg.Transport.AckTimeout, err = parseDuration("ack_timeout", raw.AckTimeout); err != nil {
			return senderConfig{}, err
		}
	}
	if meta.IsDefined("handshake_timeout") {
		if cfg.HandshakeTimeout, err = parseDuration("handshake_timeout", raw.HandshakeTimeout); err != nil {
			return senderConfig{}, err
		}
	}
	if meta.IsDefined("dither") {
		cfg.Dither = raw.Dither
	}

	b := &cfg.Transport.Backoff
	if meta.IsDefined("backoff", "initial_delay") {
		if b.InitialDelay, err = parseDuration("backoff.initial_delay", raw.Backoff.InitialDelay); err != nil {
			return senderConfig{}, err
		}
	}
	if meta.IsDefined("backoff", "multiplier") {
		b.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "max_delay") {
		if b.MaxDelay, err = parseDuration("backoff.max_delay", raw.Backoff.MaxDelay); err != nil {
			return senderConfig{}, err
		}
	}
	if meta.IsDefined("backoff", "max_attempts") {
		b.MaxAttempts = raw.Backoff.MaxAttempts
	}
	if meta.IsDefined("backoff", "jitter") {
		b.Jitter = raw.Backoff.Jitter
	}

	if meta.IsDefined("tls") {
		cfg.TLS = raw.TLS
		if err := cfg.TLS.ValidateClient(); err != nil {
			return senderConfig{}, fmt.Errorf("sender config tls: %w", err)
		}
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return senderConfig{}, fmt.Errorf("unknown sender config key %q", undecoded[0].String())
	}
	return cfg, nil
}

func parseDuration(key, v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse %s: must be positive", key)
	}
	return d, nil
}
