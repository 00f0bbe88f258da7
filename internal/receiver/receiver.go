// Package receiver runs the device side as a network daemon: every accepted
// connection gets its own transfer session.
package receiver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/imgdl/internal/config"
	"github.com/danmuck/imgdl/internal/logging"
	"github.com/danmuck/imgdl/internal/observability"
	"github.com/danmuck/imgdl/internal/status"
	"github.com/danmuck/imgdl/internal/transfer"
	"github.com/danmuck/imgdl/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Receiver struct {
	cfg      config.ReceiverConfig
	board    *status.Board
	observer *observability.TransferObserver
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.ReceiverConfig, board *status.Board) *Receiver {
	if board == nil {
		board = status.NewBoard()
	}
	return &Receiver{
		cfg:      cfg,
		board:    board,
		observer: observability.NewTransferObserver(cfg.Name),
		log:      logging.Component("receiver").With().Str("node", cfg.Name).Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (r *Receiver) Board() *status.Board {
	return r.board
}

// Run serves the transfer listener and the status server until ctx ends.
func (r *Receiver) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return status.Appear(r.cfg.Name, r.cfg.StatusAddr, r.cfg.CorsOrigins, r.board).Serve(ctx)
	})
	if r.cfg.Websocket {
		g.Go(func() error { return r.serveWebsocket(ctx) })
	} else {
		g.Go(func() error { return r.serveTCP(ctx) })
	}
	return g.Wait()
}

func (r *Receiver) serveTCP(ctx context.Context) error {
	ln, err := r.Listen(ctx)
	if err != nil {
		return err
	}
	return r.Accept(ctx, ln)
}

// Listen opens the tcp listener, wrapped in TLS when configured.
func (r *Receiver) Listen(ctx context.Context) (net.Listener, error) {
	tlsCfg, err := r.cfg.TLS.ServerTLS()
	if err != nil {
		return nil, err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", r.cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("receiver: listen %s: %w", r.cfg.Listen, err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return ln, nil
}

// Accept serves every connection from ln until ctx ends or ln fails.
func (r *Receiver) Accept(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	r.log.Info().Str("addr", ln.Addr().String()).Msg("accepting tcp")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiver: accept: %w", err)
		}
		go func() {
			link := transport.NewStreamLink(conn, r.cfg.TransportConfig().WriteTimeout)
			if err := r.ServeLink(ctx, link, conn.RemoteAddr().String()); err != nil {
				r.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection ended")
			}
		}()
	}
}

func (r *Receiver) serveWebsocket(ctx context.Context) error {
	tlsCfg, err := r.cfg.TLS.ServerTLS()
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(r.cfg.WSPath, r.WebsocketHandler(ctx))
	srv := &http.Server{
		Addr:              r.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         tlsCfg,
	}
	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			errCh <- srv.ListenAndServeTLS("", "")
			return
		}
		errCh <- srv.ListenAndServe()
	}()
	r.log.Info().
		Str("addr", r.cfg.Listen).
		Str("path", r.cfg.WSPath).
		Bool("tls", tlsCfg != nil).
		Msg("accepting websocket")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// WebsocketHandler upgrades each request and serves it until ctx ends or the
// peer goes away.
func (r *Receiver) WebsocketHandler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			r.log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		link := transport.NewWebsocketLink(conn, r.cfg.TransportConfig().WriteTimeout)
		if err := r.ServeLink(ctx, link, req.RemoteAddr); err != nil {
			r.log.Warn().Err(err).Str("remote", req.RemoteAddr).Msg("connection ended")
		}
	})
}

// ServeLink runs one transfer session over link and blocks until the link
// closes.
func (r *Receiver) ServeLink(ctx context.Context, link transport.Link, remote string) error {
	ep := transport.NewEndpoint(link, r.cfg.TransportConfig())
	width, height := r.cfg.Dimensions()
	sess, err := transfer.New(width, height, transfer.HandlerFunc(r.handleEvent), ep,
		transfer.WithObserver(r.observer),
		transfer.WithLogger(r.log.With().Str("remote", remote).Logger()),
	)
	if err != nil {
		_ = ep.Close()
		return err
	}
	r.board.Track(sess, remote)
	r.log.Info().Str("remote", remote).Str("session", sess.ID()).Msg("companion connected")
	defer func() {
		r.board.Forget(sess.ID())
		_ = sess.Close()
		r.log.Info().Str("remote", remote).Str("session", sess.ID()).Msg("companion disconnected")
	}()
	return ep.Run(ctx)
}

func (r *Receiver) handleEvent(s *transfer.Session, ev transfer.Event) {
	switch ev.Kind {
	case transfer.EventReady:
		r.log.Info().Str("session", s.ID()).Msg("companion ready")
	case transfer.EventStart:
		r.log.Info().Str("session", s.ID()).Msg("download started")
	case transfer.EventError:
		r.log.Warn().Str("session", s.ID()).Str("msg", ev.Message).Err(ev.Err).Msg("download error")
	case transfer.EventComplete:
		r.board.Publish(s, ev.Size)
		if r.cfg.OutputDir != "" {
			if err := r.save(); err != nil {
				r.log.Error().Err(err).Msg("save image failed")
			}
		}
	}
}

func (r *Receiver) save() error {
	img, at := r.board.Last()
	if img == nil {
		return nil
	}
	if err := os.MkdirAll(r.cfg.OutputDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.cfg.OutputDir, "imgdl-"+at.UTC().Format("20060102T150405.000")+".png")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	r.log.Info().Str("path", path).Msg("image saved")
	return f.Close()
}
