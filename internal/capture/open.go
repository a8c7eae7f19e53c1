package capture

import (
	"fmt"

	"github.com/asenyeroao-ct/Eventuri-MAKCU-LatencyScope/internal/config"
)

// Open builds the Source selected by capture_mode. The backend is chosen
// once per session; the processing loop never branches on it again.
func Open(cfg *config.Config) (Source, error) {
	switch cfg.CaptureMode {
	case "udp":
		return NewUDPSource(cfg.UDPIP, cfg.UDPPort), nil

	case "mss", "bettercam", "dxgi":
		// The screen-capture family maps onto the X11 region grabber on
		// this platform.
		return NewScreenSource(ScreenConfig{
			Width:   cfg.CaptureWidth,
			Height:  cfg.CaptureHeight,
			OffsetX: cfg.CaptureOffsetX,
			OffsetY: cfg.CaptureOffsetY,
			FPS:     cfg.TargetFPS,
		})

	case "capture_card":
		return nil, fmt.Errorf("%w: capture_card requires external DirectShow/MSMF driver glue", ErrSourceUnavailable)

	case "ndi":
		return nil, fmt.Errorf("%w: ndi requires the external NDI SDK adapter", ErrSourceUnavailable)

	default:
		return nil, fmt.Errorf("%w: unknown capture_mode %q", ErrSourceUnavailable, cfg.CaptureMode)
	}
}
