// Package companion is the phone side of an image download: it prepares
// images and streams them to a device in acknowledged chunks.
package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/danmuck/imgdl/internal/logging"
	"github.com/danmuck/imgdl/internal/pixel"
	"github.com/danmuck/imgdl/internal/protocol/dict"
	"github.com/danmuck/imgdl/internal/protocol/schema"
	"github.com/danmuck/imgdl/internal/transport"
	"github.com/rs/zerolog"
)

var (
	ErrNilTransport     = errors.New("companion: nil transport")
	ErrNoHandshake      = errors.New("companion: device handshake not received")
	ErrTransferBusy     = errors.New("companion: transfer already in progress")
	ErrEmptyImage       = errors.New("companion: nothing to send")
	ErrChunkUnavailable = errors.New("companion: no room for image data in a message")
)

// Transport is the message channel towards the device.
type Transport interface {
	Subscribe(h transport.Handlers) (func(), error)
	SendWait(ctx context.Context, d dict.Dictionary) error
	OutboxSizeMaximum() uint32
}

// Progress is reported after every acknowledged chunk.
type Progress func(sent, total int)

type Option func(*Sender)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sender) {
		s.log = l
	}
}

func WithProgress(p Progress) Option {
	return func(s *Sender) {
		s.progress = p
	}
}

type Sender struct {
	tr       Transport
	retry    transport.BackoffConfig
	log      zerolog.Logger
	progress Progress

	mu          sync.Mutex
	hs          schema.Handshake
	haveHS      bool
	hsReady     chan struct{}
	busy        bool
	unsubscribe func()
}

var _ transport.Handlers = (*Sender)(nil)

func NewSender(tr Transport, retry transport.BackoffConfig, opts ...Option) (*Sender, error) {
	if tr == nil {
		return nil, ErrNilTransport
	}
	s := &Sender{
		tr:      tr,
		retry:   retry,
		log:     logging.Component("companion"),
		hsReady: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	unsubscribe, err := tr.Subscribe(s)
	if err != nil {
		return nil, fmt.Errorf("companion: subscribe: %w", err)
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

func (s *Sender) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

// Open announces the companion to the device.
func (s *Sender) Open(ctx context.Context) error {
	s.log.Info().Msg("ready")
	return s.send(ctx, dict.Dictionary{dict.NewUint8(schema.KeyReady, 1)})
}

// WaitHandshake blocks until the device has replied to Open.
func (s *Sender) WaitHandshake(ctx context.Context) (schema.Handshake, error) {
	select {
	case <-s.hsReady:
		return s.Handshake()
	case <-ctx.Done():
		return schema.Handshake{}, fmt.Errorf("%w: %w", ErrNoHandshake, ctx.Err())
	}
}

// Handshake returns the most recent device parameters.
func (s *Sender) Handshake() (schema.Handshake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveHS {
		return schema.Handshake{}, ErrNoHandshake
	}
	return s.hs, nil
}

func (s *Sender) chunkSize(hs schema.Handshake) uint32 {
	chunk := hs.ChunkSize
	overhead := dict.CalcBufferSize(1, 0)
	if outbox := s.tr.OutboxSizeMaximum(); outbox > overhead && outbox-overhead < chunk {
		chunk = outbox - overhead
	}
	return chunk
}

// Transfer streams packed image bytes: BEGIN, DATA chunks, END. Every message
// waits for the device ack before the next is sent.
func (s *Sender) Transfer(ctx context.Context, packed []byte) error {
	if len(packed) == 0 {
		return ErrEmptyImage
	}
	if len(packed)%3 != 0 {
		return pixel.ErrPackedLength
	}
	hs, err := s.Handshake()
	if err != nil {
		return err
	}
	chunk := int(s.chunkSize(hs))
	if chunk == 0 {
		return ErrChunkUnavailable
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrTransferBusy
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	start := time.Now()
	s.log.Info().Int("bytes", len(packed)).Int("chunk", chunk).Msg("sending BEGIN")
	if err := s.send(ctx, dict.Dictionary{dict.NewUint32(schema.KeyBegin, uint32(len(packed)))}); err != nil {
		return fmt.Errorf("companion: begin: %w", err)
	}
	for off := 0; off < len(packed); off += chunk {
		end := min(off+chunk, len(packed))
		s.log.Debug().Int("offset", off).Int("len", end-off).Msg("sending chunk")
		if err := s.send(ctx, dict.Dictionary{dict.NewByteArray(schema.KeyData, packed[off:end])}); err != nil {
			return fmt.Errorf("companion: data at %d: %w", off, err)
		}
		if s.progress != nil {
			s.progress(end, len(packed))
		}
	}
	if err := s.send(ctx, dict.Dictionary{dict.NewUint8(schema.KeyEnd, 1)}); err != nil {
		return fmt.Errorf("companion: end: %w", err)
	}
	s.log.Info().Int("bytes", len(packed)).Dur("elapsed", time.Since(start)).Msg("transfer done")
	return nil
}

// SendError reports a companion-side failure to the device.
func (s *Sender) SendError(ctx context.Context, msg string) error {
	return s.send(ctx, dict.Dictionary{dict.NewCString(schema.KeyError, msg)})
}

func (s *Sender) send(ctx context.Context, d dict.Dictionary) error {
	op := func() error {
		err := s.tr.SendWait(ctx, d)
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Err(err).Dur("retry_in", wait).Msg("send rejected")
	}
	return backoff.RetryNotify(op, newBackOff(ctx, s.retry), notify)
}

// retryable reports whether the device explicitly refused a message without
// applying it. Timeouts are not retried: the device may have applied the
// message and only the ack was lost.
func retryable(err error) bool {
	var re *transport.ResultError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Result {
	case transport.ResultBusy, transport.ResultSendRejected, transport.ResultAppNotRunning:
		return true
	default:
		return false
	}
}

func newBackOff(ctx context.Context, cfg transport.BackoffConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if cfg.InitialDelay > 0 {
		eb.InitialInterval = cfg.InitialDelay
	}
	if cfg.Multiplier >= 1 {
		eb.Multiplier = cfg.Multiplier
	}
	if cfg.MaxDelay > 0 {
		eb.MaxInterval = cfg.MaxDelay
	}
	if !cfg.Jitter {
		eb.RandomizationFactor = 0
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	var b backoff.BackOff = eb
	if cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Received implements transport.Handlers. Handshake keys may arrive more than
// once; the latest values win.
func (s *Sender) Received(d dict.Dictionary) {
	hs, ok, err := schema.ParseHandshake(d)
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed handshake")
		return
	}
	if !ok {
		s.log.Debug().Int("tuples", len(d)).Msg("ignoring message")
		return
	}
	s.mu.Lock()
	if s.haveHS {
		if hs.ChunkSize == 0 {
			hs.ChunkSize = s.hs.ChunkSize
		}
		if hs.Width == 0 {
			hs.Width = s.hs.Width
		}
		if hs.Height == 0 {
			hs.Height = s.hs.Height
		}
	}
	first := !s.haveHS
	s.hs = hs
	s.haveHS = true
	s.mu.Unlock()

	s.log.Info().
		Uint32("chunk_size", hs.ChunkSize).
		Uint16("width", hs.Width).
		Uint16("height", hs.Height).
		Msg("device handshake")
	if first {
		close(s.hsReady)
	}
}

func (s *Sender) Dropped(reason transport.Result) {
	s.log.Error().Stringer("reason", reason).Msg("dropped message")
}

func (s *Sender) Sent(txn uint32) {
	s.log.Trace().Uint32("txn", txn).Msg("delivered")
}

func (s *Sender) SendFailed(txn uint32, reason transport.Result) {
	s.log.Debug().Uint32("txn", txn).Stringer("reason", reason).Msg("cannot deliver")
}
