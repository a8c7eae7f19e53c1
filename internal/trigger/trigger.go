// Package trigger turns per-frame presence decisions into single-shot
// trigger events.
//
// The machine guarantees at most one event per presence episode: a marker
// that appears fires once, then nothing fires again until the cooldown has
// elapsed AND the marker has been absent for at least one sampled frame.
// A marker that never leaves the frame therefore fires exactly once no
// matter how long it stays, which is the anti-flood policy a latency
// instrument needs - every click must correspond to a fresh appearance.
package trigger

import (
	"math/rand"
	"time"
)

// State is the machine's current phase.
type State int

const (
	// Idle: no marker seen, armed. An absent-to-present edge here fires
	// and moves straight to Cooling within the same Observe call, so
	// presence itself is never a resting state.
	Idle State = iota
	// Cooling: an event fired, further presence suppressed until the
	// cooldown deadline.
	Cooling
	// ArmedWaitingForAbsence: cooldown elapsed but the marker never left;
	// waiting for one absent sample before re-arming.
	ArmedWaitingForAbsence
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cooling:
		return "cooling"
	case ArmedWaitingForAbsence:
		return "armed-waiting-for-absence"
	default:
		return "unknown"
	}
}

// Event is one materialized decision to fire. Consumed exactly once by the
// dispatcher.
type Event struct {
	// FrameTime is the capture timestamp of the frame whose detection
	// produced the event.
	FrameTime time.Time
	// DecisionTime is when the machine decided to fire.
	DecisionTime time.Time
	// Seq numbers events within a session, starting at 1.
	Seq uint64
}

// Machine is the trigger state machine. It is driven from the single
// processing goroutine; transitions are defined only under the source's
// arrival order.
type Machine struct {
	state    State
	deadline time.Time
	seq      uint64

	cooldownMin time.Duration
	cooldownMax time.Duration

	now  func() time.Time
	rand *rand.Rand
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithRand replaces the cooldown randomness source, for tests.
func WithRand(r *rand.Rand) Option {
	return func(m *Machine) { m.rand = r }
}

// New creates a machine whose cooldown is drawn uniformly from
// [cooldownMin, cooldownMax] on every trigger. Equal bounds give a fixed
// cooldown; zero means no suppression beyond the absence requirement.
func New(cooldownMin, cooldownMax time.Duration, opts ...Option) *Machine {
	if cooldownMin < 0 {
		cooldownMin = 0
	}
	if cooldownMax < cooldownMin {
		cooldownMax = cooldownMin
	}
	m := &Machine{
		state:       Idle,
		cooldownMin: cooldownMin,
		cooldownMax: cooldownMax,
		now:         time.Now,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current phase.
func (m *Machine) State() State { return m.state }

// Observe feeds one frame's presence decision into the machine and returns
// an event if this frame fires a trigger, nil otherwise. Detection and
// trigger are evaluated atomically per frame: an absent-to-present edge in
// an armed state emits immediately and moves to Cooling in the same step.
func (m *Machine) Observe(present bool, frameTime time.Time) *Event {
	now := m.now()

	switch m.state {
	case Idle:
		if !present {
			return nil
		}
		return m.fire(frameTime, now)

	case Cooling:
		if now.Before(m.deadline) {
			return nil
		}
		// Deadline reached; what happens next depends on whether the
		// marker ever went away.
		if present {
			m.state = ArmedWaitingForAbsence
			return nil
		}
		m.state = Idle
		return nil

	case ArmedWaitingForAbsence:
		if !present {
			m.state = Idle
		}
		return nil

	default:
		return nil
	}
}

// fire emits one event and enters Cooling with a freshly drawn deadline.
func (m *Machine) fire(frameTime, now time.Time) *Event {
	m.seq++
	m.state = Cooling
	m.deadline = now.Add(m.drawCooldown())
	return &Event{
		FrameTime:    frameTime,
		DecisionTime: now,
		Seq:          m.seq,
	}
}

func (m *Machine) drawCooldown() time.Duration {
	if m.cooldownMax == m.cooldownMin {
		return m.cooldownMin
	}
	span := int64(m.cooldownMax - m.cooldownMin)
	return m.cooldownMin + time.Duration(m.rand.Int63n(span+1))
}

// SetCooldown updates the cooldown range for subsequent triggers. A
// cooldown already in progress keeps its drawn deadline.
func (m *Machine) SetCooldown(cooldownMin, cooldownMax time.Duration) {
	if cooldownMin < 0 {
		cooldownMin = 0
	}
	if cooldownMax < cooldownMin {
		cooldownMax = cooldownMin
	}
	m.cooldownMin = cooldownMin
	m.cooldownMax = cooldownMax
}

// Reset returns the machine to Idle without emitting anything. Used when a
// session restarts.
func (m *Machine) Reset() {
	m.state = Idle
	m.deadline = time.Time{}
}
