package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/imgdl/internal/logging"
	"github.com/danmuck/imgdl/internal/pixel"
	"github.com/danmuck/imgdl/internal/protocol/dict"
	"github.com/danmuck/imgdl/internal/protocol/schema"
	"github.com/danmuck/imgdl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidSize  = errors.New("transfer: width and height must be non-zero")
	ErrNilHandler   = errors.New("transfer: nil handler")
	ErrNilTransport = errors.New("transfer: nil transport")
)

const (
	msgBadPackedLength = "bad packed length"
	msgImageTooLarge   = "image exceeds buffer"
)

// Transport is the message channel a session listens on.
type Transport interface {
	Subscribe(h transport.Handlers) (func(), error)
	Send(d dict.Dictionary) (uint32, error)
	InboxSizeMaximum() uint32
}

type State int

const (
	StateIdle State = iota
	StateTransferring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransferring:
		return "transferring"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stats is a snapshot of session progress.
type Stats struct {
	State    State
	Declared uint32
	Cursor   uint32
	Capacity uint32
}

type Option func(*Session)

func WithObserver(o Observer) Option {
	return func(s *Session) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// Session receives one image at a time into a fixed width*height buffer.
type Session struct {
	id       string
	width    uint16
	height   uint16
	handler  Handler
	tr       Transport
	observer Observer
	log      zerolog.Logger

	mu          sync.Mutex
	buf         []byte
	declared    uint32
	cursor      uint32
	state       State
	unsubscribe func()
	closed      bool
}

var _ transport.Handlers = (*Session)(nil)

// New allocates the pixel buffer and starts listening on tr.
func New(width, height uint16, handler Handler, tr Transport, opts ...Option) (*Session, error) {
	if width == 0 || height == 0 {
		return nil, ErrInvalidSize
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if tr == nil {
		return nil, ErrNilTransport
	}
	s := &Session{
		id:       uuid.NewString(),
		width:    width,
		height:   height,
		handler:  handler,
		tr:       tr,
		observer: nopObserver{},
		log:      logging.Component("transfer"),
		buf:      make([]byte, int(width)*int(height)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("session", s.id).Logger()

	unsubscribe, err := tr.Subscribe(s)
	if err != nil {
		return nil, fmt.Errorf("transfer: subscribe: %w", err)
	}
	s.unsubscribe = unsubscribe
	s.log.Debug().
		Uint16("width", width).
		Uint16("height", height).
		Uint32("inbox", tr.InboxSizeMaximum()).
		Msg("session created")
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Width() uint16 { return s.width }

func (s *Session) Height() uint16 { return s.height }

// Bitmap returns the pixel buffer without copying. Only the extent reported
// by the last EventComplete holds decoded pixels. Nil after Close.
func (s *Session) Bitmap() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

// Image views the pixel buffer as an image. Nil after Close.
func (s *Session) Image() *pixel.Bitmap {
	buf := s.Bitmap()
	if buf == nil {
		return nil
	}
	return pixel.NewBitmap(buf, int(s.width), int(s.height))
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:    s.state,
		Declared: s.declared,
		Cursor:   s.cursor,
		Capacity: uint32(len(s.buf)),
	}
}

// Close unsubscribes from the transport and releases the buffer. An
// in-flight transfer is abandoned without an event.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.state == StateTransferring {
		s.log.Debug().Uint32("cursor", s.cursor).Uint32("declared", s.declared).Msg("closing mid-transfer")
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.buf = nil
	s.declared, s.cursor, s.state = 0, 0, StateIdle
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) emit(ev Event) {
	s.handler.HandleEvent(s, ev)
}

// Received processes every tuple of d in order.
func (s *Session) Received(d dict.Dictionary) {
	if len(d) == 0 {
		s.log.Error().Msg("got a message with no first key")
		return
	}
	for _, t := range d {
		if s.isClosed() {
			return
		}
		if err := schema.Validate(t); err != nil {
			s.log.Warn().Err(err).Msg("ignoring malformed tuple")
			continue
		}
		switch t.Key {
		case schema.KeyReady:
			s.ready()
		case schema.KeyBegin:
			total, err := t.Uint32()
			if err != nil {
				s.log.Warn().Err(err).Msg("ignoring unreadable begin length")
				continue
			}
			s.begin(total)
		case schema.KeyData:
			chunk, _ := t.Bytes()
			s.data(chunk)
		case schema.KeyEnd:
			s.end()
		case schema.KeyError:
			msg, _ := t.CString()
			s.remoteError(msg)
		default:
			s.log.Debug().Str("key", schema.KeyName(t.Key)).Msg("ignoring key")
		}
	}
}

func (s *Session) chunkSize() uint32 {
	inbox := s.tr.InboxSizeMaximum()
	overhead := dict.CalcBufferSize(1, 0)
	if inbox <= overhead {
		return 0
	}
	return inbox - overhead
}

func (s *Session) ready() {
	hs := schema.Handshake{ChunkSize: s.chunkSize(), Width: s.width, Height: s.height}
	s.log.Debug().
		Uint32("inbox_max", s.tr.InboxSizeMaximum()).
		Uint32("dict", dict.CalcBufferSize(1, 0)).
		Uint32("chunk", hs.ChunkSize).
		Msg("ready, sending handshake")
	if _, err := s.tr.Send(hs.Dictionary()); err != nil {
		s.log.Error().Err(err).Msg("handshake send failed")
	}
	s.emit(Event{Kind: EventReady})
}

func (s *Session) begin(total uint32) {
	s.mu.Lock()
	capacity := uint32(len(s.buf))
	restart := s.state == StateTransferring
	prevCursor := s.cursor
	declared := min(total, capacity)
	s.declared, s.cursor, s.state = declared, 0, StateTransferring
	s.mu.Unlock()

	if restart {
		s.log.Warn().Uint32("abandoned_at", prevCursor).Msg("begin during transfer, restarting")
	}
	s.log.Debug().Uint32("size", total).Uint32("declared", declared).Msg("start transmission")
	s.observer.TransferStarted(declared, total > capacity)
	s.emit(Event{Kind: EventStart})
}

func (s *Session) data(chunk []byte) {
	n := uint32(len(chunk))
	s.mu.Lock()
	if uint64(s.cursor)+uint64(n) > uint64(s.declared) {
		declared, cursor := s.declared, s.cursor
		s.mu.Unlock()
		s.log.Warn().
			Uint32("bufsize", declared).
			Uint32("index", cursor).
			Uint32("len", n).
			Msg("not overriding rx buffer")
		s.observer.ChunkRejected(len(chunk))
		return
	}
	copy(s.buf[s.cursor:], chunk)
	s.cursor += n
	s.mu.Unlock()
	s.observer.ChunkAccepted(len(chunk))
}

func (s *Session) end() {
	s.mu.Lock()
	if s.declared == 0 || s.cursor == 0 {
		s.mu.Unlock()
		s.log.Debug().Msg("got end message but we have no image")
		return
	}
	declared, cursor := s.declared, s.cursor
	size, err := pixel.Unpack(s.buf, int(declared))
	s.declared, s.cursor, s.state = 0, 0, StateIdle
	s.mu.Unlock()

	if cursor != declared {
		s.log.Warn().Uint32("received", cursor).Uint32("declared", declared).Msg("transfer ended short")
	}
	if err != nil {
		msg := msgImageTooLarge
		if errors.Is(err, pixel.ErrPackedLength) {
			msg = msgBadPackedLength
		}
		s.log.Error().Err(err).Uint32("declared", declared).Msg("rejecting transfer")
		s.observer.TransferFailed(msg)
		s.emit(Event{Kind: EventError, Message: msg, Err: err})
		return
	}
	s.log.Info().Uint32("packed", declared).Int("size", size).Msg("received complete image")
	s.observer.TransferCompleted(size)
	s.emit(Event{Kind: EventComplete, Size: size})
}

func (s *Session) remoteError(msg string) {
	s.log.Error().Str("msg", msg).Msg("error received")
	s.observer.RemoteError()
	s.emit(Event{Kind: EventError, Message: boundMessage(msg)})
}

// Dropped implements transport.Handlers.
func (s *Session) Dropped(reason transport.Result) {
	s.log.Error().Stringer("reason", reason).Msg("dropped message")
	s.observer.MessageDropped(reason)
}

// Sent implements transport.Handlers.
func (s *Session) Sent(txn uint32) {
	s.log.Debug().Uint32("txn", txn).Msg("message sent")
}

// SendFailed implements transport.Handlers.
func (s *Session) SendFailed(txn uint32, reason transport.Result) {
	s.log.Debug().Uint32("txn", txn).Stringer("reason", reason).Msg("failed to send message")
}
