package capture

import (
	"sync"
	"sync/atomic"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/frame"
)

// Mailbox is a single-slot, latest-wins frame buffer between an acquisition
// goroutine and the processing loop.
//
// Put always returns immediately: a new frame overwrites an unconsumed one
// and the overwrite is counted as a drop. This bounds end-to-end latency
// growth when the consumer is slower than the producer - the loop always
// sees the newest frame, never a backlog.
type Mailbox struct {
	mu    sync.Mutex
	slot  *frame.Frame
	seq   uint64
	drops atomic.Uint64
}

// Put deposits a frame, stamping it with the next sequence number.
func (m *Mailbox) Put(f *frame.Frame) {
	m.mu.Lock()
	if m.slot != nil {
		m.drops.Add(1)
	}
	m.seq++
	f.Seq = m.seq
	m.slot = f
	m.mu.Unlock()
}

// Take removes and returns the deposited frame, or nil when the slot is
// empty.
func (m *Mailbox) Take() *frame.Frame {
	m.mu.Lock()
	f := m.slot
	m.slot = nil
	m.mu.Unlock()
	return f
}

// Drops returns how many frames were overwritten before consumption.
func (m *Mailbox) Drops() uint64 {
	return m.drops.Load()
}
