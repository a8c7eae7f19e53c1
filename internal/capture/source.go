// Package capture normalizes heterogeneous frame backends into one pull
// contract the processing loop consumes.
package capture

import (
	"errors"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/frame"
)

var (
	// ErrNoFrame means the source has nothing new yet. Callers poll again;
	// the source never blocks them.
	ErrNoFrame = errors.New("no frame available")

	// ErrSourceClosed means the source terminated (disconnect, shutdown).
	// Distinguishable from ErrNoFrame so the loop can end the session.
	ErrSourceClosed = errors.New("frame source closed")

	// ErrSourceUnavailable means the configured backend could not start at
	// all. Fatal to the session, surfaced immediately, never retried here.
	ErrSourceUnavailable = errors.New("capture source unavailable")
)

// Source delivers frames in arrival order, each stamped with the monotonic
// time the adapter received it from the underlying transport.
//
// NextFrame never blocks indefinitely: it returns ErrNoFrame when nothing
// is ready and ErrSourceClosed once the source has terminated. Backends
// that produce faster than the consumer drains keep only the newest frame
// (drop oldest - latency must not accumulate in queues).
type Source interface {
	// Start begins frame acquisition.
	Start() error

	// NextFrame returns the newest unconsumed frame.
	NextFrame() (*frame.Frame, error)

	// Stop terminates acquisition and releases the transport. After Stop,
	// NextFrame returns ErrSourceClosed.
	Stop() error

	// Name returns a human-readable backend name.
	Name() string
}
