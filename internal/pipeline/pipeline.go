// Package pipeline runs the measurement session: frames from the capture
// source flow through region extraction, color detection and the trigger
// machine into the click dispatcher, with a latency record written around
// every trigger.
//
// The whole chain runs on a single goroutine so detection and trigger are
// evaluated atomically per frame. Concurrency lives at the edges: the
// capture source produces into its mailbox, the dispatcher finishes clicks
// on its own goroutine, and the reporting server reads the recorder.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/capture"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/config"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/detect"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/frame"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/latency"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/logger"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/makcu"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/trigger"
)

// Status is a point-in-time view of the session counters for the reporting
// server.
type Status struct {
	Source          string `json:"source"`
	FramesProcessed uint64 `json:"frames_processed"`
	FramesSkipped   uint64 `json:"frames_skipped"`
	Triggers        uint64 `json:"triggers"`
	DroppedTriggers uint64 `json:"dropped_triggers"`
	SourceStalls    uint64 `json:"source_stalls"`
}

// Pipeline owns one measurement session.
type Pipeline struct {
	source     capture.Source
	store      *config.Store
	dispatcher *makcu.Dispatcher
	recorder   *latency.Recorder

	detector *detect.Detector
	machine  *trigger.Machine

	// lastCfg tracks the snapshot pointer so a config replacement is
	// picked up exactly once, on the next frame boundary.
	lastCfg *config.Config

	// lastRegion holds the most recently extracted region for the preview
	// endpoint. Regions are immutable once published.
	lastRegion atomic.Pointer[frame.Frame]

	framesProcessed atomic.Uint64
	framesSkipped   atomic.Uint64
	triggers        atomic.Uint64
	dropped         atomic.Uint64
	stalls          atomic.Uint64

	now          func() time.Time
	pollInterval time.Duration
	stallTimeout time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithPollInterval sets the sleep used when the mailbox is empty.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.pollInterval = d }
}

// WithStallTimeout sets how long the source may stay silent before the
// session logs a stall warning.
func WithStallTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stallTimeout = d }
}

// New assembles a pipeline over an already-started source and an open
// dispatcher. Detector and trigger machine are built from the current
// config snapshot and rebuilt whenever the snapshot is replaced.
func New(source capture.Source, store *config.Store, dispatcher *makcu.Dispatcher,
	recorder *latency.Recorder, opts ...Option) *Pipeline {

	p := &Pipeline{
		source:       source,
		store:        store,
		dispatcher:   dispatcher,
		recorder:     recorder,
		now:          time.Now,
		pollInterval: 200 * time.Microsecond,
		stallTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.refresh(store.Snapshot())
	return p
}

// refresh applies a new config snapshot. Called at most once per frame;
// pointer equality makes the common no-change case free.
func (p *Pipeline) refresh(cfg *config.Config) {
	if cfg == p.lastCfg {
		return
	}
	p.lastCfg = cfg
	p.detector = detect.New(cfg.DetectionMode, detect.TargetFromConfig(cfg))
	cooldownMin := time.Duration(cfg.TriggerCooldownMin) * time.Millisecond
	cooldownMax := time.Duration(cfg.TriggerCooldownMax) * time.Millisecond
	if p.machine == nil {
		p.machine = trigger.New(cooldownMin, cooldownMax)
	} else {
		p.machine.SetCooldown(cooldownMin, cooldownMax)
	}
}

// regionFor resolves the detection region for a frame. Explicit roi_*
// settings are applied as-is and may fail extraction on a smaller frame;
// the centered region is clamped and always fits.
func regionFor(cfg *config.Config, f *frame.Frame) frame.ROI {
	if cfg.ROIWidth > 0 && cfg.ROIHeight > 0 {
		return frame.ROI{X: cfg.ROIX, Y: cfg.ROIY, Width: cfg.ROIWidth, Height: cfg.ROIHeight}
	}
	size := cfg.RegionSize
	if size <= 0 {
		size = 200
	}
	return frame.CenteredROI(f.Width, f.Height, size, cfg.CaptureOffsetX, cfg.CaptureOffsetY)
}

// Run drives the session until the context is cancelled or a terminal
// condition surfaces. A cancelled context returns nil; a lost source or
// serial channel returns the terminal error.
func (p *Pipeline) Run(ctx context.Context) error {
	log := logger.WithComponent("pipeline")
	log.Info().Str("source", p.source.Name()).Msg("Session started")

	lastFrame := p.now()
	stallWarned := false

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Uint64("frames", p.framesProcessed.Load()).
				Uint64("triggers", p.triggers.Load()).
				Msg("Session stopped")
			return nil
		default:
		}

		p.refresh(p.store.Snapshot())

		f, err := p.source.NextFrame()
		switch {
		case errors.Is(err, capture.ErrNoFrame):
			// A source that stays silent without closing is worth one
			// warning per stall, not one per poll.
			if !stallWarned && p.now().Sub(lastFrame) > p.stallTimeout {
				stallWarned = true
				p.stalls.Add(1)
				log.Warn().
					Str("source", p.source.Name()).
					Dur("silent_for", p.now().Sub(lastFrame)).
					Msg("No frames from source")
			}
			time.Sleep(p.pollInterval)
			continue
		case errors.Is(err, capture.ErrSourceClosed):
			return fmt.Errorf("capture source %q: %w", p.source.Name(), err)
		case err != nil:
			return err
		}
		lastFrame = p.now()
		if stallWarned {
			stallWarned = false
			log.Info().Str("source", p.source.Name()).Msg("Source resumed")
		}

		if err := p.step(f, log); err != nil {
			return err
		}
	}
}

// step processes one frame. Only terminal errors are returned; per-frame
// recoverables are absorbed here.
func (p *Pipeline) step(f *frame.Frame, log *zerolog.Logger) error {
	region, err := frame.Extract(f, regionFor(p.lastCfg, f))
	if err != nil {
		// Frame geometry does not match the configured region, e.g. the
		// stream resolution changed mid-session. Skip it and keep going.
		p.framesSkipped.Add(1)
		log.Debug().
			Err(err).
			Int("frame_width", f.Width).
			Int("frame_height", f.Height).
			Msg("Frame skipped")
		return nil
	}
	p.lastRegion.Store(region)

	res := p.detector.Detect(region)
	detectDone := p.now()

	ev := p.machine.Observe(res.Present, f.Timestamp)
	p.framesProcessed.Add(1)
	if ev == nil {
		return nil
	}
	p.triggers.Add(1)

	dres, derr := p.dispatcher.Dispatch(ev)

	rec := latency.Record{
		Seq:             ev.Seq,
		FrameArrival:    f.Timestamp,
		DetectDone:      detectDone,
		TriggerDecision: ev.DecisionTime,
	}
	if derr == nil {
		rec.DispatchStart = dres.DispatchStart
		rec.Transmit = dres.TransmitTime
		rec.Dispatched = true
	}
	p.recorder.Add(rec)

	switch {
	case derr == nil:
		d := rec.Deltas()
		log.Info().
			Uint64("seq", ev.Seq).
			Dur("total", d.Total).
			Dur("detect", d.Detect).
			Int("matches", res.MatchCount).
			Msg("Trigger dispatched")
	case errors.Is(derr, makcu.ErrChannelBusy):
		p.dropped.Add(1)
		log.Warn().Uint64("seq", ev.Seq).Msg("Trigger dropped, channel busy")
	case errors.Is(derr, makcu.ErrChannelClosed):
		return fmt.Errorf("trigger %d: %w", ev.Seq, derr)
	default:
		return derr
	}
	return nil
}

// Status reports the session counters.
func (p *Pipeline) Status() Status {
	return Status{
		Source:          p.source.Name(),
		FramesProcessed: p.framesProcessed.Load(),
		FramesSkipped:   p.framesSkipped.Load(),
		Triggers:        p.triggers.Load(),
		DroppedTriggers: p.dropped.Load(),
		SourceStalls:    p.stalls.Load(),
	}
}

// LastRegion returns the most recently extracted detection region, or nil
// before the first frame. The returned frame is immutable.
func (p *Pipeline) LastRegion() *frame.Frame {
	return p.lastRegion.Load()
}
