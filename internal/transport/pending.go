package transport

import (
	"sort"
	"sync"
	"time"
)

// PendingTxn tracks one sent message awaiting ack or nack.
type PendingTxn struct {
	Txn           uint32
	QueuedAt      time.Time
	AckDeadlineAt time.Time

	timer *time.Timer
	done  chan Result
}

// PendingTable stores pending transactions by txn id.
type PendingTable struct {
	mu    sync.Mutex
	items map[uint32]PendingTxn
}

func NewPendingTable() *PendingTable {
	return &PendingTable{items: make(map[uint32]PendingTxn)}
}

// Add registers txn and arms its ack deadline. onExpire runs on the timer's
// goroutine once the deadline passes.
func (p *PendingTable) Add(txn uint32, now time.Time, timeout time.Duration, done chan Result, onExpire func()) PendingTxn {
	p.mu.Lock()
	defer p.mu.Unlock()
	item := PendingTxn{
		Txn:           txn,
		QueuedAt:      now,
		AckDeadlineAt: now.Add(timeout),
		done:          done,
	}
	item.timer = time.AfterFunc(timeout, onExpire)
	p.items[txn] = item
	return item
}

// Take removes and returns txn. Only the first caller for a txn gets ok=true,
// which makes ack, nack and timeout mutually exclusive.
func (p *PendingTable) Take(txn uint32) (PendingTxn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[txn]
	if !ok {
		return PendingTxn{}, false
	}
	delete(p.items, txn)
	if item.timer != nil {
		item.timer.Stop()
	}
	return item, true
}

func (p *PendingTable) Get(txn uint32) (PendingTxn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[txn]
	return item, ok
}

func (p *PendingTable) List() []PendingTxn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PendingTxn, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Txn < out[j].Txn
	})
	return out
}

// Drain removes every pending transaction.
func (p *PendingTable) Drain() []PendingTxn {
	p.mu.Lock()
	items := p.items
	p.items = make(map[uint32]PendingTxn)
	p.mu.Unlock()

	out := make([]PendingTxn, 0, len(items))
	for _, item := range items {
		if item.timer != nil {
			item.timer.Stop()
		}
		out = append(out, item)
	}
	return out
}
