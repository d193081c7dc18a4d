// Package camera provides frame acquisition for the lock controller.
// It supports a remote MJPEG network camera read by a detached goroutine
// and a local V4L2 device polled through ffmpeg, behind one Source interface.
package camera

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"time"
)

// Frame represents a single JPEG-encoded camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    string // "JPEG"
	Timestamp time.Time
}

// Clone returns a deep copy of the frame.
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = append([]byte(nil), f.Data...)
	}
	return c
}

// ToImage decodes the frame data.
func (f Frame) ToImage() (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(f.Data))
}

// newFrame wraps JPEG bytes, filling in dimensions from the JPEG header.
func newFrame(data []byte) Frame {
	frame := Frame{
		Data:      data,
		Format:    "JPEG",
		Timestamp: time.Now(),
	}
	if cfg, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		frame.Width = cfg.Width
		frame.Height = cfg.Height
	}
	return frame
}

// Source is a camera that can be started, read without waiting for a fresh
// frame, and stopped.
type Source interface {
	Start(ctx context.Context) error
	Read() (Frame, bool)
	Stop() error
	Name() string
}

// ErrNoCamera is returned when neither the remote nor the local camera works.
var ErrNoCamera = errors.New("no camera available")

// ErrCameraNotOpen is returned when reading from a camera that is not started.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")
