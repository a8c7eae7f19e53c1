// Package latency timestamps the pipeline stages around each trigger and
// exposes the deltas. It never fails a measurement: stages that did not
// happen (no acknowledgement channel, dispatch dropped) simply leave their
// delta at zero.
package latency

import (
	"sync"
	"time"
)

// Record is the measurement of one triggered event.
type Record struct {
	Seq uint64 `json:"seq"`

	// Stage timestamps, monotonic. Zero means the stage did not happen.
	FrameArrival    time.Time `json:"frame_arrival"`
	DetectDone      time.Time `json:"detect_done"`
	TriggerDecision time.Time `json:"trigger_decision"`
	DispatchStart   time.Time `json:"dispatch_start"`
	Transmit        time.Time `json:"transmit"`
	Ack             time.Time `json:"ack,omitempty"`

	// Dispatched is false when the trigger was dropped (busy/closed
	// channel); the stage deltas up to the decision are still valid.
	Dispatched bool `json:"dispatched"`
}

// Deltas holds the per-stage intervals of a record. Missing stages yield
// zero durations.
type Deltas struct {
	Detect   time.Duration `json:"detect"`
	Decide   time.Duration `json:"decide"`
	Dispatch time.Duration `json:"dispatch"`
	Transmit time.Duration `json:"transmit"`
	Ack      time.Duration `json:"ack"`
	// Total is frame arrival to transmit, the headline number.
	Total time.Duration `json:"total"`
}

// Deltas computes the stage intervals.
func (r Record) Deltas() Deltas {
	d := Deltas{}
	if !r.DetectDone.IsZero() {
		d.Detect = r.DetectDone.Sub(r.FrameArrival)
	}
	if !r.TriggerDecision.IsZero() && !r.DetectDone.IsZero() {
		d.Decide = r.TriggerDecision.Sub(r.DetectDone)
	}
	if !r.DispatchStart.IsZero() && !r.TriggerDecision.IsZero() {
		d.Dispatch = r.DispatchStart.Sub(r.TriggerDecision)
	}
	if !r.Transmit.IsZero() && !r.DispatchStart.IsZero() {
		d.Transmit = r.Transmit.Sub(r.DispatchStart)
	}
	if !r.Ack.IsZero() && !r.Transmit.IsZero() {
		d.Ack = r.Ack.Sub(r.Transmit)
	}
	if !r.Transmit.IsZero() {
		d.Total = r.Transmit.Sub(r.FrameArrival)
	}
	return d
}

// Stats aggregates the frame-arrival-to-transmit interval over all
// dispatched records.
type Stats struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Mean  time.Duration `json:"mean"`
}

// Recorder keeps a bounded history of per-trigger records. Safe for
// concurrent use: the processing loop appends, the acknowledgement
// goroutine back-fills, the reporting server reads.
type Recorder struct {
	mu      sync.RWMutex
	records []Record
	limit   int

	count uint64
	min   time.Duration
	max   time.Duration
	sum   time.Duration

	subs []chan Record
}

// NewRecorder creates a recorder holding at most limit records.
func NewRecorder(limit int) *Recorder {
	if limit < 1 {
		limit = 256
	}
	return &Recorder{limit: limit}
}

// Add stores one record, updates the aggregates and notifies subscribers.
// Records whose transmit timestamp is still pending (delayed press) enter
// the aggregates later, when RecordTransmit back-fills them.
func (r *Recorder) Add(rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	if len(r.records) > r.limit {
		r.records = r.records[len(r.records)-r.limit:]
	}

	if rec.Dispatched && !rec.Transmit.IsZero() {
		r.aggregate(rec.Deltas().Total)
	}
	subs := r.subs
	r.mu.Unlock()

	r.notify(subs, rec)
}

// aggregate folds one total into the running stats. Callers hold r.mu.
func (r *Recorder) aggregate(total time.Duration) {
	r.count++
	r.sum += total
	if r.count == 1 || total < r.min {
		r.min = total
	}
	if total > r.max {
		r.max = total
	}
}

func (r *Recorder) notify(subs []chan Record, rec Record) {
	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
			// Slow subscriber; measurement delivery is best-effort.
		}
	}
}

// RecordTransmit back-fills the transmit timestamp of a click whose press
// ran off the hot path, folds it into the aggregates and re-notifies
// subscribers with the completed record. Implements the dispatcher's sink.
func (r *Recorder) RecordTransmit(seq uint64, t time.Time) {
	r.mu.Lock()
	var rec Record
	found := false
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Seq == seq {
			if r.records[i].Transmit.IsZero() {
				r.records[i].Transmit = t
				if r.records[i].Dispatched {
					r.aggregate(r.records[i].Deltas().Total)
				}
			}
			rec = r.records[i]
			found = true
			break
		}
	}
	subs := r.subs
	r.mu.Unlock()

	if found {
		r.notify(subs, rec)
	}
}

// RecordAck back-fills the acknowledgement timestamp of the record with the
// given trigger sequence number. Implements the dispatcher's sink.
func (r *Recorder) RecordAck(seq uint64, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Seq == seq {
			r.records[i].Ack = t
			return
		}
	}
}

// Recent returns up to n most recent records, newest last.
func (r *Recorder) Recent(n int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n <= 0 || n > len(r.records) {
		n = len(r.records)
	}
	out := make([]Record, n)
	copy(out, r.records[len(r.records)-n:])
	return out
}

// Stats returns the running aggregate over dispatched records.
func (r *Recorder) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Count: r.count, Min: r.min, Max: r.max}
	if r.count > 0 {
		s.Mean = r.sum / time.Duration(r.count)
	}
	return s
}

// Subscribe returns a channel that receives every new record. The channel
// is buffered; records are dropped for subscribers that fall behind.
func (r *Recorder) Subscribe() chan Record {
	ch := make(chan Record, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (r *Recorder) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Unsubscribe removes a subscription channel.
func (r *Recorder) Unsubscribe(ch chan Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s == ch {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}
