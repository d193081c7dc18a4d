// Package lock tracks the physical lock state and issues device commands
// only when the wanted state differs from the acknowledged one.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/device"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// State is the lock position.
type State int

const (
	Locked State = iota
	Unlocked
)

func (s State) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// Controller drives the lock through a device link. The state only changes
// when the device acknowledges a command; until the first acknowledgement
// it is unknown, so the first Apply always sends.
type Controller struct {
	link device.Link
	log  *logrus.Entry

	mu    sync.Mutex
	state State
	known bool
}

// NewController creates a controller with an unknown lock state.
func NewController(link device.Link) *Controller {
	return &Controller{
		link: link,
		log:  logging.Component("lock"),
	}
}

// State returns the last acknowledged state and whether there is one.
func (c *Controller) State() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.known
}

// Apply moves the lock to target, sending lock_off (unlock) or lock_on
// (lock) when target differs from the acknowledged state. It reports
// whether a command was sent.
func (c *Controller) Apply(ctx context.Context, target State) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.known && c.state == target {
		return false, nil
	}

	cmd := device.CmdLockOn
	if target == Unlocked {
		cmd = device.CmdLockOff
	}
	return true, c.send(ctx, cmd, target)
}

// Unlock opens the lock unconditionally (enrollment courtesy).
func (c *Controller) Unlock(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, device.CmdUnlock, Unlocked)
}

// Reset resets the device after a store reset; the lock ends locked.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, device.CmdReset, Locked)
}

// Secure locks the door on shutdown.
func (c *Controller) Secure(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, device.CmdLock, Locked)
}

// send must be called with c.mu held.
func (c *Controller) send(ctx context.Context, cmd string, next State) error {
	if _, err := c.link.Send(ctx, cmd); err != nil {
		c.log.WithError(err).WithField("command", cmd).Warn("lock command not acknowledged")
		return fmt.Errorf("lock command %s: %w", cmd, err)
	}

	if !c.known || c.state != next {
		c.log.WithFields(logging.Fields{"command": cmd, "state": next}).Info("lock state changed")
	}
	c.state = next
	c.known = true
	return nil
}
