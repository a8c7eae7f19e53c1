package capture

import (
	"testing"
	"time"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/frame"
)

func newTestFrame() *frame.Frame {
	return &frame.Frame{
		Data:      []byte{0, 0, 0},
		Width:     1,
		Height:    1,
		Stride:    3,
		Format:    frame.RGB24,
		Timestamp: time.Now(),
	}
}

func TestMailboxLatestWins(t *testing.T) {
	var m Mailbox

	first := newTestFrame()
	second := newTestFrame()
	m.Put(first)
	m.Put(second)

	got := m.Take()
	if got != second {
		t.Errorf("Take() returned the older frame")
	}
	if m.Take() != nil {
		t.Errorf("Take() returned a frame from an empty slot")
	}
	if m.Drops() != 1 {
		t.Errorf("Drops() = %d, want 1", m.Drops())
	}
}

func TestMailboxSequenceNumbers(t *testing.T) {
	var m Mailbox
	for i := 1; i <= 3; i++ {
		f := newTestFrame()
		m.Put(f)
		if f.Seq != uint64(i) {
			t.Errorf("frame %d assigned seq %d", i, f.Seq)
		}
		m.Take()
	}
}

func TestMailboxPutNeverBlocks(t *testing.T) {
	var m Mailbox

	// No consumer at all: 10k puts must finish quickly.
	start := time.Now()
	for i := 0; i < 10000; i++ {
		m.Put(newTestFrame())
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("10000 Put() calls took %v, producer must never block", elapsed)
	}
	if m.Drops() != 9999 {
		t.Errorf("Drops() = %d, want 9999", m.Drops())
	}
}
