// Package device talks to the lock microcontroller over a line-oriented
// serial protocol. Every command is one text line; the device answers with
// one non-empty line to acknowledge it.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/config"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// Commands understood by the lock firmware.
const (
	CmdPing    = "ping"
	CmdUnlock  = "unlock"
	CmdLock    = "lock"
	CmdLockOn  = "lock_on"
	CmdLockOff = "lock_off"
	CmdReset   = "reset"
)

// ReadyResponse is the handshake answer to CmdPing.
const ReadyResponse = "READY"

// ErrTimeout is returned when no acknowledgement arrives in time.
var ErrTimeout = errors.New("no acknowledgement from device")

// ErrDisconnected is returned by a link whose port could not be opened.
var ErrDisconnected = errors.New("device not connected")

// ErrNotReady is returned when the handshake answer is not READY.
var ErrNotReady = errors.New("device not ready")

// Link sends commands to the lock device.
type Link interface {
	// Send transmits cmd and returns the acknowledgement line.
	Send(ctx context.Context, cmd string) (string, error)
	Close() error
	Name() string
}

// Ping performs the start-up handshake.
func Ping(ctx context.Context, link Link) error {
	resp, err := link.Send(ctx, CmdPing)
	if err != nil {
		return err
	}
	if !strings.Contains(resp, ReadyResponse) {
		return fmt.Errorf("%w: got %q", ErrNotReady, resp)
	}
	return nil
}

// Connect returns the link for cfg: a loopback link when no port is
// configured, a disconnected link when the port cannot be opened, and a
// serial link otherwise. A failed handshake is logged, not returned.
func Connect(ctx context.Context, cfg config.DeviceConfig) Link {
	log := logging.Component("device")

	if cfg.Port == "" {
		log.Info("no serial port configured, using loopback link")
		return NewLoopback()
	}

	link, err := Open(cfg)
	if err != nil {
		log.WithError(err).Warn("serial port unavailable, lock commands will fail")
		return NewDisconnected(cfg.Port)
	}

	if err := Ping(ctx, link); err != nil {
		log.WithError(err).Warn("device handshake failed")
	} else {
		log.WithField("port", cfg.Port).Info("device ready")
	}
	return link
}

// Loopback acknowledges every command without hardware.
type Loopback struct{}

// NewLoopback creates a loopback link.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Send logs cmd and acknowledges it.
func (l *Loopback) Send(ctx context.Context, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	logging.Component("device").WithField("command", cmd).Info("loopback command")
	if cmd == CmdPing {
		return ReadyResponse, nil
	}
	return "OK", nil
}

// Close is a no-op.
func (l *Loopback) Close() error { return nil }

// Name identifies the link in status output.
func (l *Loopback) Name() string { return "loopback" }

// Disconnected fails every command. It stands in for a configured port
// that could not be opened.
type Disconnected struct {
	port string
}

// NewDisconnected creates a link that always fails.
func NewDisconnected(port string) *Disconnected {
	return &Disconnected{port: port}
}

// Send always fails with ErrDisconnected.
func (d *Disconnected) Send(ctx context.Context, cmd string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrDisconnected, d.port)
}

// Close is a no-op.
func (d *Disconnected) Close() error { return nil }

// Name identifies the link in status output.
func (d *Disconnected) Name() string { return "disconnected" }
