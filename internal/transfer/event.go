package transfer

import (
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/imgdl/internal/transport"
)

// EventKind is the transition reported to a Handler.
type EventKind int

const (
	// EventReady: the companion can now send images.
	EventReady EventKind = iota
	// EventError: the transfer failed or the companion reported an error.
	// Event.Message holds the text.
	EventError
	// EventStart: a download is starting. Do not read the bitmap until
	// EventComplete.
	EventStart
	// EventComplete: the bitmap holds the decoded image.
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventError:
		return "error"
	case EventStart:
		return "start"
	case EventComplete:
		return "complete"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// MaxErrorLen bounds Event.Message for errors reported by the companion.
const MaxErrorLen = 31

// Event is one observable transition. The event owns its message.
type Event struct {
	Kind    EventKind
	Message string
	// Size is the decoded extent of the bitmap for EventComplete.
	Size int
	// Err is set when the error was detected locally rather than reported
	// by the companion.
	Err error
}

// Handler is invoked synchronously on the goroutine delivering the message.
// The session lock is not held, so a handler may call Bitmap, Stats or Close.
type Handler interface {
	HandleEvent(s *Session, ev Event)
}

type HandlerFunc func(s *Session, ev Event)

func (f HandlerFunc) HandleEvent(s *Session, ev Event) {
	f(s, ev)
}

// Observer receives counters for every session operation, including the
// ones that are silent towards the Handler.
type Observer interface {
	TransferStarted(declared uint32, clamped bool)
	ChunkAccepted(n int)
	ChunkRejected(n int)
	TransferCompleted(size int)
	TransferFailed(reason string)
	RemoteError()
	MessageDropped(reason transport.Result)
}

type nopObserver struct{}

func (nopObserver) TransferStarted(uint32, bool) {}
func (nopObserver) ChunkAccepted(int) {}
func (nopObserver) ChunkRejected(int) {}
func (nopObserver) TransferCompleted(int) {}
func (nopObserver) TransferFailed(string) {}
func (nopObserver) RemoteError() {}
func (nopObserver) MessageDropped(transport.Result) {}

// boundMessage cuts msg to MaxErrorLen bytes without splitting a rune.
func boundMessage(msg string) string {
	if len(msg) <= MaxErrorLen {
		return msg
	}
	cut := MaxErrorLen
	for i := 0; cut > 0 && i < utf8.UTFMax-1 && !utf8.RuneStart(msg[cut]); i++ {
		cut--
	}
	return msg[:cut]
}
