package config

import (
	"strings"
	"time"

	"github.com/danmuck/imgdl/internal/transport"
)

// TransportConfig maps a validated receiver config onto endpoint settings.
func (cfg ReceiverConfig) TransportConfig() transport.Config {
	out := transport.DefaultConfig()
	out.InboxSize = cfg.InboxSize
	out.OutboxSize = cfg.OutboxSize
	if d, err := time.ParseDuration(strings.TrimSpace(cfg.AckTimeout)); err == nil {
		out.AckTimeout = d
	}
	return out.Normalize()
}

// Dimensions returns the display size as the session expects it.
func (cfg ReceiverConfig) Dimensions() (width, height uint16) {
	return uint16(cfg.Width), uint16(cfg.Height)
}
