package frame

import "time"

// Format identifies the pixel layout of a frame buffer.
type Format int

const (
	// RGB24 is 3 bytes per pixel, R then G then B.
	RGB24 Format = iota
	// BGR24 is 3 bytes per pixel, B then G then R. Capture-card and
	// OpenCV-style sources deliver this order.
	BGR24
)

// BytesPerPixel returns the per-pixel byte width of the format.
func (f Format) BytesPerPixel() int { return 3 }

// Frame is an immutable snapshot of one captured video frame.
//
// Data is contiguous and row-major; row y starts at y*Stride. Once a source
// hands a frame to the pipeline it must not be modified again — stages that
// need a different buffer (region crops) allocate a new one. Sharing is by
// reference, enforcement is by contract.
type Frame struct {
	// Data holds the raw pixel bytes.
	Data []byte

	// Width and Height in pixels.
	Width  int
	Height int

	// Stride is the byte distance between the starts of consecutive rows.
	// Stride >= Width*3.
	Stride int

	// Format is the pixel layout of Data.
	Format Format

	// Timestamp is the monotonic time the adapter received the frame from
	// the underlying transport (not the processing time).
	Timestamp time.Time

	// Seq is assigned by the source in arrival order. Used for drop
	// accounting and ordering checks.
	Seq uint64
}

// At returns the three channel values of the pixel at (x, y) in RGB order,
// regardless of the underlying format. Callers must keep x and y in bounds.
func (f *Frame) At(x, y int) (r, g, b uint8) {
	i := y*f.Stride + x*3
	if f.Format == BGR24 {
		return f.Data[i+2], f.Data[i+1], f.Data[i]
	}
	return f.Data[i], f.Data[i+1], f.Data[i+2]
}
