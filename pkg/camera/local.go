package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// execCommand is swapped in tests.
var execCommand = exec.Command

// LocalCamera captures single frames from a V4L2 device through ffmpeg.
// Every Read runs one capture.
type LocalCamera struct {
	device string
	width  int
	height int
	log    *logrus.Entry

	mu      sync.Mutex
	started bool
}

// NewLocalCamera creates a local camera for device at the given resolution.
func NewLocalCamera(device string, width, height int) *LocalCamera {
	return &LocalCamera{
		device: device,
		width:  width,
		height: height,
		log:    logging.Component("camera").WithField("source", "local"),
	}
}

// Start validates the device by capturing one frame.
func (c *LocalCamera) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := c.capture(); err != nil {
		return fmt.Errorf("failed to open %s: %w", c.device, err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.log.WithField("device", c.device).Info("local camera opened")
	return nil
}

// Read captures a fresh frame. It returns false when the camera is not
// started or the capture failed.
func (c *LocalCamera) Read() (Frame, bool) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return Frame{}, false
	}

	frame, err := c.capture()
	if err != nil {
		c.log.WithError(err).Debug("capture failed")
		return Frame{}, false
	}
	return frame, true
}

// capture runs ffmpeg for one frame and returns the JPEG it wrote.
func (c *LocalCamera) capture() (Frame, error) {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
		"-i", c.device,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	}

	cmd := execCommand("ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Frame{}, fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return Frame{}, fmt.Errorf("ffmpeg: %w", err)
	}

	scanner := newFrameScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return Frame{}, ErrNoFrame
	}
	return newFrame(append([]byte(nil), scanner.Bytes()...)), nil
}

// Stop releases the camera. Calling Stop again is a no-op.
func (c *LocalCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	c.log.Info("local camera closed")
	return nil
}

// Name identifies the source in status output.
func (c *LocalCamera) Name() string {
	return "local"
}
