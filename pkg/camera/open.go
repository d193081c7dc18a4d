package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/config"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// ErrUnreachable is returned by Probe when the camera does not answer 200.
var ErrUnreachable = errors.New("camera unreachable")

// Probe issues a single GET against url and reports whether it answered
// HTTP 200 within timeout.
func Probe(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s answered %s", ErrUnreachable, url, resp.Status)
	}
	return nil
}

// Open selects a frame source: the remote camera when it is enabled,
// reachable and delivers a first frame, otherwise the local device.
// ErrNoCamera is returned when neither works.
func Open(ctx context.Context, cfg config.CameraConfig) (Source, error) {
	log := logging.Component("camera")

	if cfg.Remote.Enabled {
		if err := Probe(ctx, cfg.Remote.CaptureURL(), cfg.Remote.ProbeTimeout); err != nil {
			log.WithError(err).Warn("remote camera not reachable, using local camera")
		} else {
			remote := NewRemoteStream(cfg.Remote)
			if err := remote.Start(ctx); err != nil {
				log.WithError(err).Warn("remote camera stream failed, using local camera")
			} else {
				return remote, nil
			}
		}
	}

	local := NewLocalCamera(cfg.Device, cfg.Width, cfg.Height)
	if err := local.Start(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCamera, err)
	}
	return local, nil
}
