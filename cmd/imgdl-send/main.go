package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/imgdl/internal/companion"
	"github.com/danmuck/imgdl/internal/logging"
	"github.com/danmuck/imgdl/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "imgdl-send",
		Usage: "Send an image to an imgdl receiver",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Optional sender TOML file; command line flags take precedence",
			},
			&cli.StringFlag{
				Name:  "env",
				Value: ".env",
				Usage: "Environment file loaded before logging is configured",
			},
			&cli.StringFlag{
				Name:  "addr",
				Value: "localhost:7070",
				Usage: "Receiver address (host:port)",
			},
			&cli.BoolFlag{
				Name:  "ws",
				Usage: "Connect over websocket instead of raw tcp",
			},
			&cli.StringFlag{
				Name:  "ws-path",
				Value: "/ws",
				Usage: "Websocket path on the receiver",
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Image to send (png, jpeg or gif)",
			},
			&cli.StringFlag{
				Name:  "error",
				Usage: "Report this error message to the device instead of sending an image",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 5 * time.Second,
				Usage: "How long to wait for each acknowledgement",
			},
			&cli.BoolFlag{
				Name:  "no-dither",
				Usage: "Quantize colours without error diffusion",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "imgdl-send: %v\n", err)
		os.Exit(1)
	}
}

func run(cCtx *cli.Context) error {
	if err := godotenv.Load(cCtx.String("env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	logging.ConfigureRuntime()

	cfg, err := resolveConfig(cCtx)
	if err != nil {
		return err
	}
	if cCtx.String("file") == "" && cCtx.String("error") == "" {
		return errors.New("one of --file or --error is required")
	}

	ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	link, err := dial(ctx, cfg)
	if err != nil {
		return err
	}
	ep := transport.NewEndpoint(link, cfg.Transport)
	runDone := make(chan error, 1)
	go func() { runDone <- ep.Run(ctx) }()
	defer func() {
		_ = ep.Close()
		<-runDone
	}()

	sender, err := companion.NewSender(ep, cfg.Transport.Backoff,
		companion.WithProgress(func(sent, total int) {
			log.Info().Int("sent", sent).Int("total", total).Msg("progress")
		}),
	)
	if err != nil {
		return err
	}
	defer sender.Close()

	if err := sender.Open(ctx); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	hsCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	hs, err := sender.WaitHandshake(hsCtx)
	cancel()
	if err != nil {
		return err
	}

	if msg := cCtx.String("error"); msg != "" {
		return sender.SendError(ctx, msg)
	}

	img, err := decodeImage(cCtx.String("file"))
	if err != nil {
		if sendErr := sender.SendError(ctx, "image decode failed"); sendErr != nil {
			log.Warn().Err(sendErr).Msg("could not report error to device")
		}
		return err
	}
	packed, err := companion.Prepare(img, int(hs.Width), int(hs.Height), cfg.Dither)
	if err != nil {
		return err
	}
	log.Info().
		Str("file", cCtx.String("file")).
		Uint16("width", hs.Width).
		Uint16("height", hs.Height).
		Int("packed", len(packed)).
		Msg("prepared image")
	return sender.Transfer(ctx, packed)
}

func resolveConfig(cCtx *cli.Context) (senderConfig, error) {
	cfg := defaultSenderConfig()
	if path := cCtx.String("config"); path != "" {
		var err error
		if cfg, err = loadSenderConfig(path, cfg); err != nil {
			return senderConfig{}, err
		}
	}
	if cCtx.IsSet("addr") {
		cfg.Addr = cCtx.String("addr")
	}
	if cCtx.IsSet("ws") {
		cfg.Websocket = cCtx.Bool("ws")
	}
	if cCtx.IsSet("ws-path") {
		cfg.WSPath = cCtx.String("ws-path")
	}
	if cCtx.IsSet("timeout") {
		cfg.Transport.AckTimeout = cCtx.Duration("timeout")
	}
	if cCtx.IsSet("no-dither") {
		cfg.Dither = !cCtx.Bool("no-dither")
	}
	cfg.Transport = cfg.Transport.Normalize()
	return cfg, nil
}

func dial(ctx context.Context, cfg senderConfig) (transport.Link, error) {
	tlsCfg, err := cfg.TLS.ClientTLS()
	if err != nil {
		return nil, err
	}
	if cfg.Websocket {
		u := url.URL{Scheme: "ws", Host: cfg.Addr, Path: cfg.WSPath}
		if tlsCfg != nil {
			u.Scheme = "wss"
		}
		dialer := websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  tlsCfg,
		}
		conn, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.String(), err)
		}
		return transport.NewWebsocketLink(conn, cfg.Transport.WriteTimeout), nil
	}
	var conn net.Conn
	if tlsCfg != nil {
		d := tls.Dialer{Config: tlsCfg}
		conn, err = d.DialContext(ctx, "tcp", cfg.Addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}
	return transport.NewStreamLink(conn, cfg.Transport.WriteTimeout), nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	log.Debug().Str("format", format).Stringer("bounds", img.Bounds()).Msg("decoded image")
	return img, nil
}
