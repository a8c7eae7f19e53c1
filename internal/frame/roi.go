package frame

import (
	"errors"
	"fmt"
)

// ErrInvalidRegion reports an ROI that does not fit inside the frame it was
// applied to. Frame dimensions can change between capture reconfigurations,
// so callers treat this as a per-frame skip, not a session failure.
var ErrInvalidRegion = errors.New("region outside frame bounds")

// ROI is a rectangular region of interest in source-frame coordinates.
type ROI struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// CenteredROI builds a size×size region centered on a frame of the given
// dimensions, shifted by the configured offsets and clamped to the frame.
// This mirrors how the detection window is positioned on the capture: the
// marker sits at screen center, offsets compensate for stream letterboxing.
func CenteredROI(frameW, frameH, size, offX, offY int) ROI {
	if size <= 0 {
		size = 1
	}
	left := (frameW-size)/2 + offX
	top := (frameH-size)/2 + offY

	left = clamp(left, 0, frameW)
	top = clamp(top, 0, frameH)
	right := clamp(left+size, left, frameW)
	bottom := clamp(top+size, top, frameH)

	return ROI{X: left, Y: top, Width: right - left, Height: bottom - top}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Extract crops the ROI out of the frame into a newly allocated frame.
// The source frame is never modified. Cost is proportional to the ROI area,
// not the source resolution.
func Extract(f *Frame, roi ROI) (*Frame, error) {
	if roi.Width <= 0 || roi.Height <= 0 ||
		roi.X < 0 || roi.Y < 0 ||
		roi.X+roi.Width > f.Width || roi.Y+roi.Height > f.Height {
		return nil, fmt.Errorf("%w: roi %dx%d@(%d,%d) in frame %dx%d",
			ErrInvalidRegion, roi.Width, roi.Height, roi.X, roi.Y, f.Width, f.Height)
	}

	stride := roi.Width * 3
	data := make([]byte, stride*roi.Height)
	for row := 0; row < roi.Height; row++ {
		src := (roi.Y+row)*f.Stride + roi.X*3
		copy(data[row*stride:(row+1)*stride], f.Data[src:src+stride])
	}

	return &Frame{
		Data:      data,
		Width:     roi.Width,
		Height:    roi.Height,
		Stride:    stride,
		Format:    f.Format,
		Timestamp: f.Timestamp,
		Seq:       f.Seq,
	}, nil
}
