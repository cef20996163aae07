package types

import "time"

// Frame represents a single camera frame with metadata
type Frame struct {
	Data      []byte    // Encoded image data
	Format    Format    // Encoding of Data
	Timestamp time.Time // Frame capture timestamp
	FrameNum  uint64    // Sequential frame number
	Width     int       // Frame width
	Height    int       // Frame height
}

// Format identifies the pixel encoding of a frame.
// Values match the capture daemon's shared memory layout.
type Format int

const (
	FormatJPEG Format = 0
	FormatNV12 Format = 1
	FormatRGB  Format = 2
	FormatH264 Format = 3
)

func (f Format) String() string {
	switch f {
	case FormatJPEG:
		return "jpeg"
	case FormatNV12:
		return "nv12"
	case FormatRGB:
		return "rgb"
	case FormatH264:
		return "h264"
	default:
		return "unknown"
	}
}
