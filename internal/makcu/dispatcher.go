package makcu

import (
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/logger"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/trigger"
)

// Timing holds the click timing ranges. Each click draws uniform values
// from [min, max]; equal bounds give deterministic timing.
type Timing struct {
	PressDelayMin   time.Duration
	PressDelayMax   time.Duration
	ReleaseDelayMin time.Duration
	ReleaseDelayMax time.Duration
}

// Result reports the dispatch timing of one accepted click.
type Result struct {
	// DispatchStart is when Dispatch accepted the event.
	DispatchStart time.Time
	// TransmitTime is when the press command hit the serial channel. Zero
	// when a press delay moved transmission off the hot path; the sink
	// receives the timestamp instead.
	TransmitTime time.Time
}

// Sink receives stage timestamps that only become known after Dispatch has
// returned, keyed by the trigger event sequence number. The latency
// recorder implements it.
type Sink interface {
	RecordTransmit(seq uint64, t time.Time)
	RecordAck(seq uint64, t time.Time)
}

// Dispatcher converts trigger events into click commands on an exclusively
// owned serial channel.
//
// With a zero press delay (the default) Dispatch transmits the press
// immediately and runs only the hold/release tail on a separate goroutine.
// A configured press delay moves the whole click onto that goroutine, so
// the capture loop never sleeps either delay. While a click is executing
// the channel is busy and further triggers fail fast with ErrChannelBusy.
//
// Acknowledgement bytes are consumed by a single reader goroutine, started
// once per dispatcher; it exits when the channel closes.
type Dispatcher struct {
	ch     Channel
	timing Timing
	sink   Sink

	busy   atomic.Bool
	closed atomic.Bool

	// ackSeq is the click awaiting acknowledgement; 0 means none.
	ackSeq atomic.Uint64

	totalClicks  atomic.Uint64
	failedClicks atomic.Uint64

	now   func() time.Time
	sleep func(time.Duration)
	rand  *rand.Rand
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSink wires asynchronous stage timestamps into a sink.
func WithSink(s Sink) DispatcherOption {
	return func(d *Dispatcher) { d.sink = s }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// WithSleep replaces the delay function, for tests.
func WithSleep(sleep func(time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = sleep }
}

// NewDispatcher wraps an already-open channel. The dispatcher owns the
// channel from here on and closes it on Close.
func NewDispatcher(ch Channel, timing Timing, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		ch:     ch,
		timing: timing,
		now:    time.Now,
		sleep:  time.Sleep,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sink != nil {
		if r, ok := ch.(io.Reader); ok {
			go d.ackLoop(r)
		}
	}
	return d
}

// Dispatch transmits a click for the event. It returns ErrChannelBusy when
// a previous click is still executing and ErrChannelClosed once the device
// is gone; neither error stops the processing loop.
func (d *Dispatcher) Dispatch(ev *trigger.Event) (Result, error) {
	if d.closed.Load() {
		return Result{}, ErrChannelClosed
	}
	if !d.busy.CompareAndSwap(false, true) {
		d.failedClicks.Add(1)
		return Result{}, ErrChannelBusy
	}

	res := Result{DispatchStart: d.now()}

	// A configured press delay must not stall the frame loop, so the
	// whole click runs on the tail goroutine and transmit is reported
	// through the sink.
	if delay := d.draw(d.timing.PressDelayMin, d.timing.PressDelayMax); delay > 0 {
		go d.executeClick(ev.Seq, delay)
		return res, nil
	}

	res.TransmitTime = d.now()
	if err := d.press(ev.Seq); err != nil {
		return Result{}, err
	}
	go d.finishClick()
	return res, nil
}

// press writes the press command and marks the click as awaiting its
// acknowledgement. On failure the channel is released and marked closed.
func (d *Dispatcher) press(seq uint64) error {
	if _, err := d.ch.Write(cmdPress); err != nil {
		d.busy.Store(false)
		d.failedClicks.Add(1)
		d.markClosed(err)
		return ErrChannelClosed
	}
	d.ackSeq.Store(seq)
	return nil
}

// executeClick runs a delayed press plus the release tail off the hot path.
func (d *Dispatcher) executeClick(seq uint64, pressDelay time.Duration) {
	d.sleep(pressDelay)

	transmit := d.now()
	if err := d.press(seq); err != nil {
		return
	}
	if d.sink != nil {
		d.sink.RecordTransmit(seq, transmit)
	}
	d.finishClick()
}

// finishClick holds the button for the release delay and releases it.
func (d *Dispatcher) finishClick() {
	if delay := d.draw(d.timing.ReleaseDelayMin, d.timing.ReleaseDelayMax); delay > 0 {
		d.sleep(delay)
	}

	if _, err := d.ch.Write(cmdRelease); err != nil {
		d.busy.Store(false)
		d.failedClicks.Add(1)
		d.markClosed(err)
		return
	}
	d.totalClicks.Add(1)
	d.busy.Store(false)
}

// ackLoop is the only reader of the channel. Each acknowledgement is
// attributed to the click that is waiting for one; bytes arriving with no
// click pending are discarded. Devices that never acknowledge simply leave
// the loop parked in a single Read until Close.
func (d *Dispatcher) ackLoop(r io.Reader) {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if seq := d.ackSeq.Swap(0); seq != 0 {
			d.sink.RecordAck(seq, d.now())
		}
	}
}

func (d *Dispatcher) markClosed(err error) {
	if d.closed.CompareAndSwap(false, true) {
		logger.WithComponent("makcu").Error().
			Err(err).
			Msg("Serial channel lost, suspending triggers")
	}
}

func (d *Dispatcher) draw(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(d.rand.Int63n(int64(max-min)+1))
}

// Closed reports whether the channel has been lost or shut down.
func (d *Dispatcher) Closed() bool { return d.closed.Load() }

// Stats returns the total successful and failed click counts.
func (d *Dispatcher) Stats() (total, failed uint64) {
	return d.totalClicks.Load(), d.failedClicks.Load()
}

// Close shuts the dispatcher down and releases the channel, which also
// terminates the acknowledgement reader.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return d.ch.Close()
}
