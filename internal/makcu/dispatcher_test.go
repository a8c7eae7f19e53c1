package makcu

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/trigger"
)

// fakeChannel records writes and can simulate a dead port.
type fakeChannel struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	dead   bool
	writes int
}

func (c *fakeChannel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dead {
		return 0, errors.New("port gone")
	}
	c.writes++
	return c.buf.Write(p)
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) contents() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// blockingChannel stalls the first release write so the busy window can be
// observed deterministically.
type blockingChannel struct {
	fakeChannel
	releaseGate chan struct{}
	once        sync.Once
}

func (c *blockingChannel) Write(p []byte) (int, error) {
	if bytes.Equal(p, cmdRelease) {
		c.once.Do(func() { <-c.releaseGate })
	}
	return c.fakeChannel.Write(p)
}

// ackChannel is a fakeChannel whose reads deliver acknowledgement bytes
// fed through ackBytes and block otherwise, like a real serial port.
type ackChannel struct {
	fakeChannel
	ackBytes  chan byte
	closeOnce sync.Once
}

func (c *ackChannel) Read(p []byte) (int, error) {
	b, ok := <-c.ackBytes
	if !ok {
		return 0, io.EOF
	}
	p[0] = b
	return 1, nil
}

func (c *ackChannel) Close() error {
	c.closeOnce.Do(func() { close(c.ackBytes) })
	return nil
}

// captureSink records sink callbacks for inspection.
type captureSink struct {
	mu        sync.Mutex
	transmits map[uint64]time.Time
	acks      map[uint64]time.Time
}

func newCaptureSink() *captureSink {
	return &captureSink{
		transmits: make(map[uint64]time.Time),
		acks:      make(map[uint64]time.Time),
	}
}

func (s *captureSink) RecordTransmit(seq uint64, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transmits[seq] = t
}

func (s *captureSink) RecordAck(seq uint64, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[seq] = t
}

func (s *captureSink) transmit(seq uint64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transmits[seq]
	return t, ok
}

func (s *captureSink) ackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acks)
}

func noSleep(time.Duration) {}

func event(seq uint64) *trigger.Event {
	now := time.Now()
	return &trigger.Event{FrameTime: now, DecisionTime: now, Seq: seq}
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for d.busy.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("dispatcher still busy after 1s")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatchWritesClickCommands(t *testing.T) {
	ch := &fakeChannel{}
	d := NewDispatcher(ch, Timing{}, WithSleep(noSleep))

	res, err := d.Dispatch(event(1))
	if err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if res.TransmitTime.IsZero() || res.TransmitTime.Before(res.DispatchStart) {
		t.Errorf("transmit timing not recorded: %+v", res)
	}

	waitIdle(t, d)
	if got, want := ch.contents(), "km.left(1)\rkm.left(0)\r"; got != want {
		t.Errorf("channel received %q, want %q", got, want)
	}
	total, failed := d.Stats()
	if total != 1 || failed != 0 {
		t.Errorf("stats = (%d,%d), want (1,0)", total, failed)
	}
}

func TestDispatchBusyFailsFast(t *testing.T) {
	ch := &blockingChannel{releaseGate: make(chan struct{})}
	d := NewDispatcher(ch, Timing{}, WithSleep(noSleep))

	if _, err := d.Dispatch(event(1)); err != nil {
		t.Fatalf("first Dispatch() failed: %v", err)
	}

	// The release tail is stalled, so the channel is busy.
	if _, err := d.Dispatch(event(2)); !errors.Is(err, ErrChannelBusy) {
		t.Errorf("second Dispatch() = %v, want ErrChannelBusy", err)
	}

	close(ch.releaseGate)
	waitIdle(t, d)

	// Once the tail completes the dispatcher accepts triggers again.
	if _, err := d.Dispatch(event(3)); err != nil {
		t.Errorf("Dispatch() after release = %v, want nil", err)
	}
	waitIdle(t, d)

	_, failed := d.Stats()
	if failed != 1 {
		t.Errorf("failed clicks = %d, want 1", failed)
	}
}

func TestDispatchClosedChannel(t *testing.T) {
	ch := &fakeChannel{dead: true}
	d := NewDispatcher(ch, Timing{}, WithSleep(noSleep))

	if _, err := d.Dispatch(event(1)); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Dispatch() on dead port = %v, want ErrChannelClosed", err)
	}
	if !d.Closed() {
		t.Errorf("dispatcher not marked closed after write failure")
	}

	// Subsequent dispatches stay suspended.
	if _, err := d.Dispatch(event(2)); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Dispatch() after close = %v, want ErrChannelClosed", err)
	}
}

func TestDispatchAppliesDelays(t *testing.T) {
	ch := &fakeChannel{}
	var slept []time.Duration
	var mu sync.Mutex
	sleep := func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}

	timing := Timing{
		PressDelayMin:   2 * time.Millisecond,
		PressDelayMax:   2 * time.Millisecond,
		ReleaseDelayMin: 50 * time.Millisecond,
		ReleaseDelayMax: 50 * time.Millisecond,
	}
	d := NewDispatcher(ch, timing, WithSleep(sleep))

	res, err := d.Dispatch(event(1))
	if err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	// With a press delay the click runs on the tail goroutine, so the
	// transmit timestamp is not known at return.
	if !res.TransmitTime.IsZero() {
		t.Errorf("TransmitTime = %v, want zero for a delayed press", res.TransmitTime)
	}
	waitIdle(t, d)

	mu.Lock()
	defer mu.Unlock()
	if len(slept) != 2 || slept[0] != 2*time.Millisecond || slept[1] != 50*time.Millisecond {
		t.Errorf("delays = %v, want [2ms 50ms]", slept)
	}
}

func TestDelayedPressRunsOffHotPath(t *testing.T) {
	ch := &fakeChannel{}
	sink := newCaptureSink()
	timing := Timing{
		PressDelayMin: 50 * time.Millisecond,
		PressDelayMax: 50 * time.Millisecond,
	}
	// Real sleeps: the press delay must burn on the tail goroutine, never
	// on the caller.
	d := NewDispatcher(ch, timing, WithSink(sink))

	start := time.Now()
	if _, err := d.Dispatch(event(1)); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 25*time.Millisecond {
		t.Errorf("Dispatch() blocked for %v with a 50ms press delay", elapsed)
	}

	waitIdle(t, d)
	if got, want := ch.contents(), "km.left(1)\rkm.left(0)\r"; got != want {
		t.Errorf("channel received %q, want %q", got, want)
	}

	// The transmit timestamp arrives through the sink instead.
	transmit, ok := sink.transmit(1)
	if !ok {
		t.Fatalf("transmit never reported for the delayed press")
	}
	if transmit.Before(start.Add(50 * time.Millisecond)) {
		t.Errorf("transmit %v precedes the press delay", transmit.Sub(start))
	}
}

func TestAckReadDoesNotAccumulateGoroutines(t *testing.T) {
	ch := &ackChannel{ackBytes: make(chan byte)}
	d := NewDispatcher(ch, Timing{}, WithSleep(noSleep), WithSink(newCaptureSink()))
	defer d.Close()

	// The single ack reader is already running and counted here.
	before := runtime.NumGoroutine()

	for i := 1; i <= 20; i++ {
		if _, err := d.Dispatch(event(uint64(i))); err != nil {
			t.Fatalf("Dispatch(%d) failed: %v", i, err)
		}
		waitIdle(t, d)
	}

	// Click tails are transient; a silent device must not park one
	// goroutine per click.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines grew from %d to %d after 20 unacknowledged clicks",
				before, runtime.NumGoroutine())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAckAttributedToPendingClick(t *testing.T) {
	ch := &ackChannel{ackBytes: make(chan byte, 1)}
	sink := newCaptureSink()
	d := NewDispatcher(ch, Timing{}, WithSleep(noSleep), WithSink(sink))
	defer d.Close()

	if _, err := d.Dispatch(event(3)); err != nil {
		t.Fatalf("Dispatch() failed: %v", err)
	}
	waitIdle(t, d)

	ch.ackBytes <- 'k'
	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		_, ok := sink.acks[3]
		sink.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ack never attributed to click 3")
		}
		time.Sleep(time.Millisecond)
	}

	// A stray byte with no click pending is discarded, not attributed to
	// an old sequence number.
	ch.ackBytes <- 'k'
	time.Sleep(20 * time.Millisecond)
	if n := sink.ackCount(); n != 1 {
		t.Errorf("ack count = %d after a stray byte, want 1", n)
	}
}

func TestDrawRange(t *testing.T) {
	d := NewDispatcher(&fakeChannel{}, Timing{})
	for i := 0; i < 100; i++ {
		v := d.draw(5*time.Millisecond, 9*time.Millisecond)
		if v < 5*time.Millisecond || v > 9*time.Millisecond {
			t.Fatalf("draw() = %v outside [5ms,9ms]", v)
		}
	}
	if d.draw(7*time.Millisecond, 7*time.Millisecond) != 7*time.Millisecond {
		t.Errorf("equal bounds must be deterministic")
	}
}
