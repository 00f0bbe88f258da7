package companion

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/imgdl/internal/pixel"
	"github.com/danmuck/imgdl/internal/protocol/dict"
	"github.com/danmuck/imgdl/internal/protocol/schema"
	"github.com/danmuck/imgdl/internal/testutil/testlog"
	"github.com/danmuck/imgdl/internal/transfer"
	"github.com/danmuck/imgdl/internal/transport"
)

var fastRetry = transport.BackoffConfig{
	InitialDelay: time.Millisecond,
	Multiplier:   2,
	MaxDelay:     5 * time.Millisecond,
	MaxAttempts:  3,
}

type link struct {
	device    *transfer.Session
	sender    *Sender
	events    chan transfer.Event
	companion *transport.Endpoint
}

func connect(t *testing.T, width, height uint16, deviceCfg transport.Config) *link {
	t.Helper()
	a, b := net.Pipe()
	dev := transport.NewEndpoint(transport.NewStreamLink(a, time.Second), deviceCfg)
	comp := transport.NewEndpoint(transport.NewStreamLink(b, time.Second), transport.CompanionConfig())

	events := make(chan transfer.Event, 16)
	sess, err := transfer.New(width, height, transfer.HandlerFunc(func(_ *transfer.Session, ev transfer.Event) {
		events <- ev
	}), dev)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	sender, err := NewSender(comp, fastRetry)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = dev.Run(ctx) }()
	go func() { defer wg.Done(); _ = comp.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		_ = sess.Close()
		sender.Close()
	})
	return &link{device: sess, sender: sender, events: events, companion: comp}
}

func (l *link) next(t *testing.T) transfer.Event {
	t.Helper()
	select {
	case ev := <-l.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for device event")
		return transfer.Event{}
	}
}

func handshake(t *testing.T, l *link) schema.Handshake {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.sender.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	hs, err := l.sender.WaitHandshake(ctx)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if ev := l.next(t); ev.Kind != transfer.EventReady {
		t.Fatalf("expected ready, got %v", ev.Kind)
	}
	return hs
}

func TestHandshakeReportsDeviceParameters(t *testing.T) {
	testlog.Start(t)
	cfg := transport.DefaultConfig()
	cfg.InboxSize = 124
	l := connect(t, 144, 168, cfg)

	hs := handshake(t, l)
	if hs.ChunkSize != 116 || hs.Width != 144 || hs.Height != 168 {
		t.Fatalf("unexpected handshake: %+v", hs)
	}
}

func TestTransferEndToEndInChunks(t *testing.T) {
	testlog.Start(t)
	cfg := transport.DefaultConfig()
	cfg.InboxSize = 124
	l := connect(t, 16, 12, cfg)
	handshake(t, l)

	src := make([]byte, 16*12)
	for i := range src {
		src[i] = pixel.Tag | byte(i*7)&0x3F
	}
	packed := make([]byte, pixel.PackedLen(len(src)))
	if _, err := pixel.Pack(packed, src); err != nil {
		t.Fatalf("pack: %v", err)
	}

	var progress []int
	l.sender.progress = func(sent, total int) { progress = append(progress, sent) }

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.sender.Transfer(ctx, packed); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if ev := l.next(t); ev.Kind != transfer.EventStart {
		t.Fatalf("expected start, got %v", ev.Kind)
	}
	ev := l.next(t)
	if ev.Kind != transfer.EventComplete || ev.Size != len(src) {
		t.Fatalf("expected complete with %d bytes, got %+v", len(src), ev)
	}
	if !bytes.Equal(l.device.Bitmap()[:ev.Size], src) {
		t.Fatalf("device bitmap differs from source")
	}
	if len(progress) != 2 || progress[0] != 116 || progress[1] != len(packed) {
		t.Fatalf("unexpected progress: %v", progress)
	}
}

func TestSendErrorReachesDevice(t *testing.T) {
	testlog.Start(t)
	l := connect(t, 8, 8, transport.DefaultConfig())
	handshake(t, l)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.sender.SendError(ctx, "JPEG Decoder failed"); err != nil {
		t.Fatalf("send error: %v", err)
	}
	ev := l.next(t)
	if ev.Kind != transfer.EventError || ev.Message != "JPEG Decoder failed" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestTransferRequiresHandshake(t *testing.T) {
	testlog.Start(t)
	l := connect(t, 8, 8, transport.DefaultConfig())
	err := l.sender.Transfer(context.Background(), []byte{1, 2, 3})
	if !errors.Is(err, ErrNoHandshake) {
		t.Fatalf("expected ErrNoHandshake, got %v", err)
	}
	if err := l.sender.Transfer(context.Background(), []byte{1, 2}); !errors.Is(err, pixel.ErrPackedLength) {
		t.Fatalf("expected ErrPackedLength, got %v", err)
	}
	if err := l.sender.Transfer(context.Background(), nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

type flakyTransport struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (f *flakyTransport) Subscribe(transport.Handlers) (func(), error) { return func() {}, nil }

func (f *flakyTransport) OutboxSizeMaximum() uint32 { return 64 }

func (f *flakyTransport) SendWait(context.Context, dict.Dictionary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.results) == 0 {
		return nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	return err
}

func TestSendRetriesOnlyRefusals(t *testing.T) {
	testlog.Start(t)
	busy := &transport.ResultError{Result: transport.ResultBusy}
	tr := &flakyTransport{results: []error{busy, busy}}
	s, err := NewSender(tr, fastRetry)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if tr.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", tr.calls)
	}

	timeout := &transport.ResultError{Result: transport.ResultSendTimeout}
	tr = &flakyTransport{results: []error{timeout}}
	s, _ = NewSender(tr, fastRetry)
	err = s.Open(context.Background())
	var re *transport.ResultError
	if !errors.As(err, &re) || re.Result != transport.ResultSendTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if tr.calls != 1 {
		t.Fatalf("timeouts must not be retried, got %d attempts", tr.calls)
	}

	tr = &flakyTransport{results: []error{busy, busy, busy, busy}}
	s, _ = NewSender(tr, fastRetry)
	if err := s.Open(context.Background()); !errors.As(err, &re) || re.Result != transport.ResultBusy {
		t.Fatalf("expected busy after max attempts, got %v", err)
	}
	if tr.calls != 3 {
		t.Fatalf("expected attempts capped at 3, got %d", tr.calls)
	}
}

func TestChunkSizeCappedByOutbox(t *testing.T) {
	testlog.Start(t)
	tr := &flakyTransport{}
	s, _ := NewSender(tr, fastRetry)
	s.Received(schema.Handshake{ChunkSize: 8192, Width: 4, Height: 4}.Dictionary())
	hs, err := s.Handshake()
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if got := s.chunkSize(hs); got != 56 {
		t.Fatalf("expected chunk 56, got %d", got)
	}

	// partial update keeps earlier values
	s.Received(dict.Dictionary{dict.NewUint16(schema.KeyWidth, 180)})
	hs, _ = s.Handshake()
	if hs.Width != 180 || hs.Height != 4 || hs.ChunkSize != 8192 {
		t.Fatalf("unexpected merged handshake %+v", hs)
	}
}

func TestPrepareSolidColours(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		c    color.Color
		want byte
	}{
		{"white", color.White, 0xFF},
		{"black", color.Black, 0xC0},
		{"red", color.NRGBA{R: 0xFF, A: 0xFF}, 0xF0},
		{"mid", color.NRGBA{R: 0x55, G: 0xAA, B: 0x00, A: 0xFF}, 0xC0 | 1<<4 | 2<<2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := image.NewNRGBA(image.Rect(0, 0, 20, 10))
			for y := 0; y < 10; y++ {
				for x := 0; x < 20; x++ {
					src.Set(x, y, tc.c)
				}
			}
			for _, dither := range []bool{false, true} {
				packed, err := Prepare(src, 8, 4, dither)
				if err != nil {
					t.Fatalf("prepare: %v", err)
				}
				if len(packed) != 24 {
					t.Fatalf("expected 24 packed bytes, got %d", len(packed))
				}
				buf := make([]byte, 32)
				copy(buf, packed)
				if _, err := pixel.Unpack(buf, len(packed)); err != nil {
					t.Fatalf("unpack: %v", err)
				}
				for i, b := range buf {
					if b != tc.want {
						t.Fatalf("dither=%v pixel %d = %#x want %#x", dither, i, b, tc.want)
					}
				}
			}
		})
	}
}

func TestDitherPreservesAverage(t *testing.T) {
	testlog.Start(t)
	src := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 0x80, 0x80, 0x80, 0xFF
	}
	flat := Downsample(src)
	dithered := Dither(src)

	var sum int
	levels := map[byte]bool{}
	for i, b := range dithered {
		if flat[i] != flat[0] {
			t.Fatalf("downsample should be uniform")
		}
		r := int((b >> 4) & 0x03)
		levels[byte(r)] = true
		sum += r * 0x55
	}
	avg := sum / len(dithered)
	if avg < 0x70 || avg > 0x90 {
		t.Fatalf("dithered average %#x too far from 0x80", avg)
	}
	if len(levels) < 2 {
		t.Fatalf("expected dithering to mix levels, got %v", levels)
	}
	if _, err := Prepare(src, 0, 4, true); !errors.Is(err, ErrInvalidDimensions) {
		t.Fatalf("expected ErrInvalidDimensions, got %v", err)
	}
}
