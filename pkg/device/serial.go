package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/config"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// readPoll is the serial read timeout, the granularity of the ack wait.
const readPoll = 50 * time.Millisecond

// Port is the subset of serial.Port used by SerialLink.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// SerialLink sends commands over a serial port. Sends are serialised.
type SerialLink struct {
	port       Port
	name       string
	ackTimeout time.Duration
	idleWait   time.Duration
	log        *logrus.Entry

	mu sync.Mutex
}

// Open opens the configured serial port and waits for the board to settle
// after the reset triggered by opening it.
func Open(cfg config.DeviceConfig) (*SerialLink, error) {
	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to configure %s: %w", cfg.Port, err)
	}

	if cfg.SettleTime > 0 {
		time.Sleep(cfg.SettleTime)
	}

	logging.Component("device").WithFields(logging.Fields{
		"port": cfg.Port,
		"baud": cfg.BaudRate,
	}).Info("serial port opened")

	return NewSerialLink(port, cfg.Port, cfg.AckTimeout), nil
}

// NewSerialLink wraps an open port.
func NewSerialLink(port Port, name string, ackTimeout time.Duration) *SerialLink {
	return &SerialLink{
		port:       port,
		name:       name,
		ackTimeout: ackTimeout,
		idleWait:   10 * time.Millisecond,
		log:        logging.Component("device").WithField("port", name),
	}
}

// Send writes cmd followed by a newline, then waits up to the ack timeout
// for a non-empty response line. There is no retry.
func (l *SerialLink) Send(ctx context.Context, cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.port.ResetInputBuffer(); err != nil {
		l.log.WithError(err).Debug("failed to discard stale input")
	}

	if _, err := l.port.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	deadline := time.Now().Add(l.ackTimeout)
	buf := make([]byte, 128)
	var pending []byte

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := l.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("failed to read response to %q: %w", cmd, err)
		}
		if n == 0 {
			time.Sleep(l.idleWait)
			continue
		}

		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(pending[:i]))
			pending = pending[i+1:]
			if line != "" {
				l.log.WithFields(logging.Fields{"command": cmd, "response": line}).Debug("command acknowledged")
				return line, nil
			}
		}
	}

	// A device that answers without a line terminator still answered.
	if line := strings.TrimSpace(string(pending)); line != "" {
		l.log.WithFields(logging.Fields{"command": cmd, "response": line}).Debug("unterminated response accepted")
		return line, nil
	}

	l.log.WithField("command", cmd).Warn("no response from device")
	return "", fmt.Errorf("%w: %q after %s", ErrTimeout, cmd, l.ackTimeout)
}

// Close closes the port.
func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port.Close()
}

// Name identifies the link in status output.
func (l *SerialLink) Name() string {
	return l.name
}
