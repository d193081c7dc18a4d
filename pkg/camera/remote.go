package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/config"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// ErrStopTimeout is returned when the stream reader does not exit in time.
var ErrStopTimeout = errors.New("stream reader did not stop in time")

// RemoteStream reads an MJPEG stream from a network camera. A detached
// reader goroutine keeps the latest frame in a Mailbox and reconnects
// forever after transient failures, so Read never blocks on the network.
// A stream that stays open without delivering a frame for the frame timeout
// counts as failed. While the stream is down Read reports no frame.
type RemoteStream struct {
	url            string
	connectTimeout time.Duration
	frameTimeout   time.Duration
	retryBackoff   time.Duration
	stopTimeout    time.Duration
	client         *http.Client
	mailbox        Mailbox
	connected      atomic.Bool
	log            *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRemoteStream creates a stream reader for the configured camera.
func NewRemoteStream(cfg config.RemoteConfig) *RemoteStream {
	return &RemoteStream{
		url:            cfg.StreamURL(),
		connectTimeout: cfg.ConnectTimeout,
		frameTimeout:   cfg.FrameTimeout,
		retryBackoff:   cfg.RetryBackoff,
		stopTimeout:    cfg.StopTimeout,
		client:         &http.Client{},
		log:            logging.Component("camera").WithField("source", "remote"),
	}
}

// streamConn is one open stream response.
type streamConn struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
}

func (c *streamConn) close() {
	c.cancel()
	_ = c.body.Close()
}

// Start connects and waits for the first frame, bounded by the connect
// timeout and ctx. On success the reader goroutine takes over the connection.
func (r *RemoteStream) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	conn, first, err := r.dial(workerCtx, ctx)
	if err != nil {
		cancel()
		return err
	}

	r.mailbox.Put(newFrame(first))
	r.connected.Store(true)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(workerCtx, conn, r.done)

	r.log.WithField("url", r.url).Info("remote camera stream started")
	return nil
}

// dial opens the stream and reads the first frame. The attempt is aborted
// when the connect timeout expires or either context ends.
func (r *RemoteStream) dial(workerCtx, callerCtx context.Context) (*streamConn, []byte, error) {
	ctx, cancel := context.WithCancel(workerCtx)
	expired := time.AfterFunc(r.connectTimeout, cancel)
	stopWatch := context.AfterFunc(callerCtx, cancel)
	defer stopWatch()

	fail := func(err error) (*streamConn, []byte, error) {
		expired.Stop()
		cancel()
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fail(err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if !expired.Stop() {
			cancel()
			return nil, nil, fmt.Errorf("%w: no response within %s", ErrNoFrame, r.connectTimeout)
		}
		return fail(fmt.Errorf("failed to connect to %s: %w", r.url, err))
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return fail(fmt.Errorf("%w: stream returned %s", ErrNoFrame, resp.Status))
	}

	scanner := newFrameScanner(resp.Body)
	if !scanner.Scan() {
		_ = resp.Body.Close()
		cause := scanner.Err()
		if cause == nil {
			cause = io.ErrUnexpectedEOF
		}
		return fail(fmt.Errorf("%w: %v", ErrNoFrame, cause))
	}

	if !expired.Stop() {
		_ = resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("%w: no frame within %s", ErrNoFrame, r.connectTimeout)
	}

	first := append([]byte(nil), scanner.Bytes()...)
	return &streamConn{body: resp.Body, scanner: scanner, cancel: cancel}, first, nil
}

// run is the reader loop. It exits only when ctx is cancelled.
func (r *RemoteStream) run(ctx context.Context, conn *streamConn, done chan struct{}) {
	defer close(done)
	defer r.connected.Store(false)

	for {
		if conn != nil {
			err := r.readFrames(conn)
			conn.close()
			conn = nil
			r.connected.Store(false)
			r.mailbox.Clear()

			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Warn("stream interrupted, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.retryBackoff):
		}

		next, first, err := r.dial(ctx, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).Debug("reconnect failed")
			continue
		}

		r.mailbox.Put(newFrame(first))
		r.connected.Store(true)
		r.log.Info("remote camera stream reconnected")
		conn = next
	}
}

// readFrames copies frames into the mailbox until the stream ends or the
// watchdog cancels a stalled connection. It always returns the cause.
func (r *RemoteStream) readFrames(conn *streamConn) error {
	var stalled atomic.Bool
	var watchdog *time.Timer
	if r.frameTimeout > 0 {
		watchdog = time.AfterFunc(r.frameTimeout, func() {
			stalled.Store(true)
			conn.cancel()
		})
		defer watchdog.Stop()
	}

	for conn.scanner.Scan() {
		r.mailbox.Put(newFrame(append([]byte(nil), conn.scanner.Bytes()...)))
		if watchdog != nil {
			watchdog.Reset(r.frameTimeout)
		}
	}

	if stalled.Load() {
		return fmt.Errorf("%w: stream stalled for %s", ErrNoFrame, r.frameTimeout)
	}
	if err := conn.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Read returns the latest frame without blocking.
func (r *RemoteStream) Read() (Frame, bool) {
	return r.mailbox.Get()
}

// Connected reports whether the reader currently holds an open stream.
func (r *RemoteStream) Connected() bool {
	return r.connected.Load()
}

// Stop cancels the reader and waits for it to exit, at most the stop
// timeout. Calling Stop again is a no-op.
func (r *RemoteStream) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		r.log.Info("remote camera stream stopped")
		return nil
	case <-time.After(r.stopTimeout):
		return fmt.Errorf("%w (%s)", ErrStopTimeout, r.stopTimeout)
	}
}

// Name identifies the source in status output.
func (r *RemoteStream) Name() string {
	return "remote"
}
