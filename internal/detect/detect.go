// Package detect scans an extracted frame region for a color marker.
//
// The matching metric is per-channel absolute difference: a pixel matches
// the target when every channel lies within the configured tolerance. The
// metric is fixed so measurements stay comparable across sessions.
package detect

import (
	"time"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/config"
	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/frame"
)

// Color is an RGB triple.
type Color struct {
	R, G, B uint8
}

// Target describes what the detector looks for.
type Target struct {
	// Color is the marker color (count and average modes).
	Color Color
	// From and To bound the transition mode: presence is the observed
	// change of the mean region color from From to To.
	From Color
	To   Color
	// Tolerance is the per-channel allowance, >= 0.
	Tolerance int
	// MinMatches is the minimum matching-pixel footprint for count mode.
	// A region with fewer matches is treated as noise, not a marker.
	MinMatches int
}

// Result is the outcome of one detection pass. Produced and consumed within
// a single pipeline iteration.
type Result struct {
	// Present reports whether the marker was detected.
	Present bool
	// MatchCount is the number of matching pixels (count mode only).
	MatchCount int
	// CentroidX and CentroidY locate the mean position of matching pixels
	// in region coordinates. Valid only when MatchCount > 0.
	CentroidX float64
	CentroidY float64
	// FrameTime is the capture timestamp of the frame the result was
	// computed from.
	FrameTime time.Time
}

// Detector evaluates regions against a target. Only the transition mode
// carries state (the last observed color phase); the detector is used from
// a single goroutine.
type Detector struct {
	mode   config.DetectionMode
	target Target

	// transition mode phase: 0 unknown, 1 saw from-color, 2 saw to-color
	lastPhase int
}

// New creates a detector for the given mode and target.
func New(mode config.DetectionMode, target Target) *Detector {
	if target.MinMatches < 1 {
		target.MinMatches = 1
	}
	return &Detector{mode: mode, target: target}
}

// Reset clears transition-mode state, e.g. between sessions.
func (d *Detector) Reset() {
	d.lastPhase = 0
}

// Detect scans the region and reports marker presence. Runtime is bounded
// by the region area; there is no I/O or retry on this path.
func (d *Detector) Detect(region *frame.Frame) Result {
	switch d.mode {
	case config.ModeAverage:
		return d.detectAverage(region)
	case config.ModeTransition:
		return d.detectTransition(region)
	default:
		return d.detectCount(region)
	}
}

// detectCount counts pixels within tolerance of the target color. The
// marker is present when the count reaches the minimum footprint, not at
// the first matching pixel, so single-pixel noise never fires.
func (d *Detector) detectCount(region *frame.Frame) Result {
	res := Result{FrameTime: region.Timestamp}
	tol := d.target.Tolerance
	tr, tg, tb := int(d.target.Color.R), int(d.target.Color.G), int(d.target.Color.B)

	var sumX, sumY int
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			r, g, b := region.At(x, y)
			if absDiff(int(r), tr) <= tol &&
				absDiff(int(g), tg) <= tol &&
				absDiff(int(b), tb) <= tol {
				res.MatchCount++
				sumX += x
				sumY += y
			}
		}
	}

	if res.MatchCount > 0 {
		res.CentroidX = float64(sumX) / float64(res.MatchCount)
		res.CentroidY = float64(sumY) / float64(res.MatchCount)
	}
	res.Present = res.MatchCount >= d.target.MinMatches
	return res
}

// detectAverage compares the mean region color against the target.
func (d *Detector) detectAverage(region *frame.Frame) Result {
	res := Result{FrameTime: region.Timestamp}
	avg := meanColor(region)
	res.Present = withinTolerance(avg, d.target.Color, d.target.Tolerance)
	if res.Present {
		res.MatchCount = region.Width * region.Height
		res.CentroidX = float64(region.Width-1) / 2
		res.CentroidY = float64(region.Height-1) / 2
	}
	return res
}

// detectTransition reports presence only on the frame where the mean region
// color changes from the from-color to the to-color.
func (d *Detector) detectTransition(region *frame.Frame) Result {
	res := Result{FrameTime: region.Timestamp}
	avg := meanColor(region)

	phase := 0
	if withinTolerance(avg, d.target.From, d.target.Tolerance) {
		phase = 1
	} else if withinTolerance(avg, d.target.To, d.target.Tolerance) {
		phase = 2
	}

	if d.lastPhase == 1 && phase == 2 {
		res.Present = true
		res.MatchCount = region.Width * region.Height
	}
	d.lastPhase = phase
	return res
}

func meanColor(region *frame.Frame) Color {
	n := region.Width * region.Height
	if n == 0 {
		return Color{}
	}
	var sr, sg, sb int
	for y := 0; y < region.Height; y++ {
		for x := 0; x < region.Width; x++ {
			r, g, b := region.At(x, y)
			sr += int(r)
			sg += int(g)
			sb += int(b)
		}
	}
	return Color{
		R: uint8(sr / n),
		G: uint8(sg / n),
		B: uint8(sb / n),
	}
}

func withinTolerance(c, target Color, tol int) bool {
	return absDiff(int(c.R), int(target.R)) <= tol &&
		absDiff(int(c.G), int(target.G)) <= tol &&
		absDiff(int(c.B), int(target.B)) <= tol
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// TargetFromConfig builds the detection target out of a config snapshot.
func TargetFromConfig(cfg *config.Config) Target {
	return Target{
		Color: Color{
			R: uint8(cfg.TargetColorR),
			G: uint8(cfg.TargetColorG),
			B: uint8(cfg.TargetColorB),
		},
		From: Color{
			R: uint8(cfg.ColorFromR),
			G: uint8(cfg.ColorFromG),
			B: uint8(cfg.ColorFromB),
		},
		To: Color{
			R: uint8(cfg.ColorToR),
			G: uint8(cfg.ColorToG),
			B: uint8(cfg.ColorToB),
		},
		Tolerance:  cfg.Tolerance,
		MinMatches: cfg.DetectionSize,
	}
}
