package status

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/imgdl/internal/pixel"
	"github.com/danmuck/imgdl/internal/transfer"
)

// Board tracks live sessions and keeps a copy of the last completed image.
type Board struct {
	mu        sync.Mutex
	sessions  map[string]*transfer.Session
	remotes   map[string]string
	last      *pixel.Bitmap
	lastFrom  string
	updatedAt time.Time
	completed uint64
}

func NewBoard() *Board {
	return &Board{
		sessions: make(map[string]*transfer.Session),
		remotes:  make(map[string]string),
	}
}

func (b *Board) Track(s *transfer.Session, remote string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID()] = s
	b.remotes[s.ID()] = remote
}

func (b *Board) Forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
	delete(b.remotes, id)
}

// Publish copies the decoded extent of s so later transfers cannot change it.
func (b *Board) Publish(s *transfer.Session, size int) {
	buf := s.Bitmap()
	if buf == nil || size <= 0 || size > len(buf) {
		return
	}
	pix := make([]byte, int(s.Width())*int(s.Height()))
	copy(pix, buf[:size])
	img := pixel.NewBitmap(pix, int(s.Width()), int(s.Height()))

	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = img
	b.lastFrom = s.ID()
	b.updatedAt = time.Now()
	b.completed++
}

// Last returns the last published image, or nil.
func (b *Board) Last() (*pixel.Bitmap, time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.updatedAt
}

type SessionInfo struct {
	ID       string `json:"id"`
	Remote   string `json:"remote"`
	Width    uint16 `json:"width"`
	Height   uint16 `json:"height"`
	State    string `json:"state"`
	Declared uint32 `json:"declared"`
	Cursor   uint32 `json:"cursor"`
	Capacity uint32 `json:"capacity"`
}

type Snapshot struct {
	Sessions  []SessionInfo `json:"sessions"`
	Completed uint64        `json:"completed"`
	LastFrom  string        `json:"last_from,omitempty"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
}

func (b *Board) Snapshot() Snapshot {
	b.mu.Lock()
	sessions := make([]*transfer.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	remotes := make(map[string]string, len(b.remotes))
	for k, v := range b.remotes {
		remotes[k] = v
	}
	snap := Snapshot{Completed: b.completed, LastFrom: b.lastFrom}
	if !b.updatedAt.IsZero() {
		at := b.updatedAt
		snap.UpdatedAt = &at
	}
	b.mu.Unlock()

	snap.Sessions = make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		st := s.Stats()
		snap.Sessions = append(snap.Sessions, SessionInfo{
			ID:       s.ID(),
			Remote:   remotes[s.ID()],
			Width:    s.Width(),
			Height:   s.Height(),
			State:    st.State.String(),
			Declared: st.Declared,
			Cursor:   st.Cursor,
			Capacity: st.Capacity,
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].ID < snap.Sessions[j].ID
	})
	return snap
}
