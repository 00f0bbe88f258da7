package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/imgdl/internal/transport"
	"github.com/pelletier/go-toml/v2"
)

// ReceiverConfig is the on-disk configuration of imgdl-recv.
type ReceiverConfig struct {
	Name        string   `toml:"name"`
	Listen      string   `toml:"listen"`
	Websocket   bool     `toml:"websocket"`
	WSPath      string   `toml:"ws_path"`
	Width       int      `toml:"width"`
	Height      int      `toml:"height"`
	InboxSize   uint32   `toml:"inbox_size"`
	OutboxSize  uint32   `toml:"outbox_size"`
	AckTimeout  string   `toml:"ack_timeout"`
	StatusAddr  string   `toml:"status_addr"`
	CorsOrigins []string `toml:"cors_origins"`
	OutputDir   string   `toml:"output_dir"`

	TLS transport.TLSConfig `toml:"tls"`
}

const (
	DefaultReceiverName = "imgdl-recv"
	DefaultListen       = ":7070"
	DefaultWSPath       = "/ws"
	DefaultStatusAddr   = ":7071"
	// Pebble classic display.
	DefaultWidth  = 144
	DefaultHeight = 168
)

func LoadReceiverConfig(path string) (ReceiverConfig, error) {
	var cfg ReceiverConfig
	if err := loadToml(path, &cfg); err != nil {
		return ReceiverConfig{}, err
	}
	cfg = withReceiverDefaults(cfg)
	if err := ValidateReceiverConfig(cfg); err != nil {
		return ReceiverConfig{}, err
	}
	return cfg, nil
}

func withReceiverDefaults(cfg ReceiverConfig) ReceiverConfig {
	defaults := transport.DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = DefaultReceiverName
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.WSPath == "" {
		cfg.WSPath = DefaultWSPath
	}
	if cfg.Width == 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height == 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.InboxSize == 0 {
		cfg.InboxSize = defaults.InboxSize
	}
	if cfg.OutboxSize == 0 {
		cfg.OutboxSize = defaults.OutboxSize
	}
	if cfg.AckTimeout == "" {
		cfg.AckTimeout = defaults.AckTimeout.String()
	}
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = DefaultStatusAddr
	}
	return cfg
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateReceiverConfig(cfg ReceiverConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("receiver config missing name")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("receiver config missing listen")
	}
	if cfg.Websocket && !strings.HasPrefix(cfg.WSPath, "/") {
		return fmt.Errorf("receiver config ws_path must start with /")
	}
	if err := validateDimension("width", cfg.Width); err != nil {
		return err
	}
	if err := validateDimension("height", cfg.Height); err != nil {
		return err
	}
	if cfg.InboxSize < transport.InboxSizeMinimum || cfg.InboxSize > transport.InboxSizeMaximum {
		return fmt.Errorf("receiver config inbox_size %d outside [%d, %d]",
			cfg.InboxSize, transport.InboxSizeMinimum, transport.InboxSizeMaximum)
	}
	if cfg.OutboxSize == 0 {
		return fmt.Errorf("receiver config outbox_size must be positive")
	}
	d, err := time.ParseDuration(strings.TrimSpace(cfg.AckTimeout))
	if err != nil {
		return fmt.Errorf("receiver config ack_timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("receiver config ack_timeout must be positive")
	}
	if err := cfg.TLS.ValidateServer(); err != nil {
		return fmt.Errorf("receiver config tls: %w", err)
	}
	return nil
}

func validateDimension(name string, v int) error {
	if v <= 0 || v > 0xFFFF {
		return fmt.Errorf("receiver config %s %d outside [1, 65535]", name, v)
	}
	return nil
}
