package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/imgdl/internal/config"
	"github.com/danmuck/imgdl/internal/observability"
	"github.com/danmuck/imgdl/internal/receiver"
)

func main() {
	path := flag.String("config", "cmd/imgdl-recv/config.toml", "receiver config path")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "imgdl-recv: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.LoadReceiverConfig(path)
	if err != nil {
		return err
	}
	logger := observability.InitLogger(cfg.Name)
	logger.Info().
		Str("listen", cfg.Listen).
		Bool("websocket", cfg.Websocket).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Uint32("inbox", cfg.InboxSize).
		Str("status", cfg.StatusAddr).
		Msg("starting receiver")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return receiver.New(cfg, nil).Run(ctx)
}
