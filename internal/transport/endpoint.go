package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danmuck/imgdl/internal/logging"
	"github.com/danmuck/imgdl/internal/protocol/dict"
	"github.com/danmuck/imgdl/internal/protocol/frame"
	"github.com/rs/zerolog"
)

var (
	ErrAlreadySubscribed = errors.New("transport: handlers already subscribed")
	ErrNilHandlers       = errors.New("transport: nil handlers")
)

var replyLimits = frame.Limits{MaxPayloadBytes: 2}

// Handlers receive inbound messages and delivery outcomes. Received and
// Dropped run on the Run goroutine; Sent and SendFailed may also run on an
// ack-timeout timer goroutine.
type Handlers interface {
	Received(d dict.Dictionary)
	Dropped(reason Result)
	Sent(txn uint32)
	SendFailed(txn uint32, reason Result)
}

// Endpoint is one side of a message link. Inbound frames are acked and
// handed to the single subscribed Handlers in arrival order.
type Endpoint struct {
	link    Link
	cfg     Config
	log     zerolog.Logger
	pending *PendingTable

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers Handlers
	subID    uint64
	nextTxn  uint32
	closed   bool
}

func NewEndpoint(link Link, cfg Config) *Endpoint {
	return &Endpoint{
		link:    link,
		cfg:     cfg.Normalize(),
		log:     logging.Component("transport"),
		pending: NewPendingTable(),
	}
}

// InboxSizeMaximum is the largest dictionary this endpoint accepts.
func (e *Endpoint) InboxSizeMaximum() uint32 {
	return e.cfg.InboxSize
}

// OutboxSizeMaximum is the largest dictionary this endpoint sends.
func (e *Endpoint) OutboxSizeMaximum() uint32 {
	return e.cfg.OutboxSize
}

// Subscribe registers h and returns a function that removes it.
func (e *Endpoint) Subscribe(h Handlers) (func(), error) {
	if h == nil {
		return nil, ErrNilHandlers
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers != nil {
		return nil, ErrAlreadySubscribed
	}
	e.handlers = h
	e.subID++
	id := e.subID
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.subID == id {
				e.handlers = nil
			}
		})
	}, nil
}

func (e *Endpoint) currentHandlers() Handlers {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers
}

// Send writes d and returns its transaction id. The outcome is reported
// later through Sent or SendFailed.
func (e *Endpoint) Send(d dict.Dictionary) (uint32, error) {
	return e.send(d, nil)
}

// SendWait writes d and blocks until the peer acks it, rejects it, or the ack
// deadline passes.
func (e *Endpoint) SendWait(ctx context.Context, d dict.Dictionary) error {
	done := make(chan Result, 1)
	txn, err := e.send(d, done)
	if err != nil {
		return err
	}
	select {
	case res := <-done:
		if res != ResultOK {
			return &ResultError{Txn: txn, Result: res}
		}
		return nil
	case <-ctx.Done():
		e.pending.Take(txn)
		return ctx.Err()
	}
}

func (e *Endpoint) send(d dict.Dictionary, done chan Result) (uint32, error) {
	payload, err := dict.Encode(d)
	if err != nil {
		return 0, &ResultError{Result: ResultInvalidArgs, Err: err}
	}
	if uint32(len(payload)) > e.cfg.OutboxSize {
		return 0, &ResultError{
			Result: ResultBufferOverflow,
			Err:    fmt.Errorf("dictionary %d bytes exceeds outbox %d", len(payload), e.cfg.OutboxSize),
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, &ResultError{Result: ResultClosed}
	}
	e.nextTxn++
	txn := e.nextTxn
	e.mu.Unlock()

	e.pending.Add(txn, time.Now(), e.cfg.AckTimeout, done, func() {
		e.resolve(txn, ResultSendTimeout)
	})

	e.writeMu.Lock()
	err = e.link.WriteFrame(
		frame.Frame{Header: frame.Header{Txn: txn}, Payload: payload},
		frame.Limits{MaxPayloadBytes: e.cfg.OutboxSize},
	)
	e.writeMu.Unlock()
	if err != nil {
		e.pending.Take(txn)
		e.log.Debug().Err(err).Uint32("txn", txn).Msg("write failed")
		return txn, &ResultError{Txn: txn, Result: ResultNotConnected, Err: err}
	}
	e.log.Trace().Uint32("txn", txn).Int("bytes", len(payload)).Msg("sent")
	return txn, nil
}

func (e *Endpoint) resolve(txn uint32, res Result) {
	item, ok := e.pending.Take(txn)
	if !ok {
		e.log.Debug().Uint32("txn", txn).Stringer("result", res).Msg("reply for unknown txn")
		return
	}
	if h := e.currentHandlers(); h != nil {
		if res == ResultOK {
			h.Sent(txn)
		} else {
			h.SendFailed(txn, res)
		}
	}
	if item.done != nil {
		item.done <- res
	}
}

func (e *Endpoint) reply(f frame.Frame) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.link.WriteFrame(f, replyLimits); err != nil {
		e.log.Debug().Err(err).Uint32("txn", f.Header.Txn).Msg("reply write failed")
	}
}

func (e *Endpoint) dropped(res Result) {
	if h := e.currentHandlers(); h != nil {
		h.Dropped(res)
	}
}

// Run reads frames until the link closes or ctx is cancelled. It is the only
// goroutine that delivers Received and Dropped.
func (e *Endpoint) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = e.Close() })
	defer stop()

	inLimits := frame.Limits{MaxPayloadBytes: e.cfg.InboxSize}
	for {
		f, err := e.link.ReadFrame(inLimits)
		if errors.Is(err, frame.ErrPayloadTooLarge) {
			e.log.Warn().
				Uint32("txn", f.Header.Txn).
				Uint32("len", f.Header.PayloadLen).
				Uint32("inbox", e.cfg.InboxSize).
				Msg("inbound message exceeds inbox")
			e.reply(frame.Nack(f.Header.Txn, uint16(ResultBufferOverflow)))
			e.dropped(ResultBufferOverflow)
			continue
		}
		if err != nil {
			_ = e.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}

		switch {
		case f.IsAck():
			e.resolve(f.Header.Txn, ResultOK)
		case f.IsNack():
			res, ok := f.NackResult()
			if !ok {
				res = uint16(ResultInternalError)
			}
			e.resolve(f.Header.Txn, Result(res))
		default:
			e.deliver(f)
		}
	}
}

func (e *Endpoint) deliver(f frame.Frame) {
	d, err := dict.Decode(f.Payload)
	if err != nil {
		e.log.Warn().Err(err).Uint32("txn", f.Header.Txn).Msg("undecodable message")
		e.reply(frame.Nack(f.Header.Txn, uint16(ResultInvalidArgs)))
		e.dropped(ResultInvalidArgs)
		return
	}
	h := e.currentHandlers()
	if h == nil {
		e.log.Warn().Uint32("txn", f.Header.Txn).Msg("no handlers subscribed")
		e.reply(frame.Nack(f.Header.Txn, uint16(ResultAppNotRunning)))
		return
	}
	e.reply(frame.Ack(f.Header.Txn))
	h.Received(d)
}

// Close shuts the link and fails every pending transaction with
// ResultNotConnected. Safe to call more than once.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.link.Close()
	h := e.currentHandlers()
	for _, item := range e.pending.Drain() {
		if h != nil {
			h.SendFailed(item.Txn, ResultNotConnected)
		}
		if item.done != nil {
			item.done <- ResultNotConnected
		}
	}
	return err
}
