// Package control runs the periodic verification loop, dispatches operator
// intents and owns the state shown by the front end.
package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/camera"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/enrollment"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/lock"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/verification"
)

// Intent is an operator request.
type Intent int

const (
	IntentEnroll Intent = iota
	IntentCount
	IntentReset
	IntentQuit
)

func (i Intent) String() string {
	switch i {
	case IntentEnroll:
		return "enroll"
	case IntentCount:
		return "count"
	case IntentReset:
		return "reset"
	case IntentQuit:
		return "quit"
	default:
		return fmt.Sprintf("Intent(%d)", int(i))
	}
}

// ParseIntent maps a command word or its first letter to an intent.
func ParseIntent(s string) (Intent, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "e", "enroll", "register":
		return IntentEnroll, true
	case "c", "count":
		return IntentCount, true
	case "r", "reset":
		return IntentReset, true
	case "q", "quit", "exit":
		return IntentQuit, true
	}
	return 0, false
}

// ErrQueueFull is returned by Submit when intents are not being consumed.
var ErrQueueFull = errors.New("intent queue full")

// Status messages.
const (
	StatusStarting        = "Starting..."
	StatusEnrollStarted   = "Starting registration..."
	StatusEnrollBusy      = "Registration already in progress"
	StatusResetBusy       = "Cannot reset during registration"
	StatusResetCompleted  = "System reset completed"
	statusCountFormat     = "Total registered faces: %d"
	statusResetFailFormat = "Reset failed: %v"
)

// State is a snapshot of what the front end displays.
type State struct {
	Lock          lock.State
	LockKnown     bool
	Status        string
	Confidence    float64
	HasConfidence bool
	Box           *recognition.Rectangle
	Camera        string
	Connected     bool
	Enrolling     bool
}

// Verifier decides on single frames against a replaceable gallery.
type Verifier interface {
	Verify(frame camera.Frame) verification.Result
	SetGallery(entries []recognition.Entry)
}

// Enroller runs registration sessions.
type Enroller interface {
	Enroll(ctx context.Context, progress func(enrollment.Progress)) (enrollment.Result, error)
}

// Store is the part of the identity store the loop needs.
type Store interface {
	Entries() ([]recognition.Entry, error)
	Count() int
	ResetAll() error
}

// LockDriver moves the physical lock.
type LockDriver interface {
	State() (lock.State, bool)
	Apply(ctx context.Context, target lock.State) (bool, error)
	Reset(ctx context.Context) error
	Secure(ctx context.Context) error
}

// Components are the collaborators of a Loop.
type Components struct {
	Source   camera.Source
	Verifier Verifier
	Enroller Enroller
	Store    Store
	Lock     LockDriver
}

type enrollOutcome struct {
	result enrollment.Result
	err    error
}

const shutdownTimeout = 3 * time.Second

// Loop verifies the latest frame every interval and drives the lock from
// the decision. Verification is skipped while a registration is running.
type Loop struct {
	c        Components
	interval time.Duration
	log      *logrus.Entry

	intents    chan Intent
	enrollDone chan enrollOutcome
	cancelEnr  context.CancelFunc
	enrolling  bool
	wg         sync.WaitGroup

	mu       sync.Mutex
	state    State
	onChange func(State)
}

// NewLoop creates a loop. The source must already be started.
func NewLoop(c Components, interval time.Duration) *Loop {
	return &Loop{
		c:          c,
		interval:   interval,
		log:        logging.Component("control"),
		intents:    make(chan Intent, 8),
		enrollDone: make(chan enrollOutcome, 1),
		state: State{
			Status: StatusStarting,
			Camera: c.Source.Name(),
		},
	}
}

// OnChange registers a callback invoked with a snapshot after every state
// update. It may be called from the enrollment goroutine.
func (l *Loop) OnChange(fn func(State)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Snapshot returns the current state.
func (l *Loop) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Submit queues an intent for the loop.
func (l *Loop) Submit(in Intent) error {
	select {
	case l.intents <- in:
		return nil
	default:
		return ErrQueueFull
	}
}

func (l *Loop) update(fn func(*State)) {
	l.mu.Lock()
	fn(&l.state)
	snap := l.state
	notify := l.onChange
	l.mu.Unlock()

	if notify != nil {
		notify(snap)
	}
}

func (l *Loop) setStatus(status string) {
	l.update(func(s *State) { s.Status = status })
}

// Run blocks until ctx is cancelled or a quit intent arrives. On exit the
// lock is secured and the camera stopped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.shutdown(ctx)

	l.reloadGallery()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Debug("context cancelled, stopping")
			return nil
		case in := <-l.intents:
			if quit := l.handle(ctx, in); quit {
				l.log.Info("quit requested")
				return nil
			}
		case out := <-l.enrollDone:
			l.finishEnrollment(out)
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if l.enrolling {
		return
	}

	frame, ok := l.c.Source.Read()
	if !ok {
		l.update(func(s *State) { s.Connected = l.connected() })
		return
	}

	res := l.c.Verifier.Verify(frame)

	target := lock.Locked
	if res.Decision == verification.Accept {
		target = lock.Unlocked
	}
	if _, err := l.c.Lock.Apply(ctx, target); err != nil {
		l.log.WithError(err).Debug("lock update will be retried")
	}

	lockState, known := l.c.Lock.State()
	l.update(func(s *State) {
		s.Status = res.Status
		s.Confidence = res.Confidence
		s.HasConfidence = res.HasConfidence
		s.Box = res.Box
		s.Lock = lockState
		s.LockKnown = known
		s.Connected = l.connected()
	})
}

func (l *Loop) connected() bool {
	if r, ok := l.c.Source.(interface{ Connected() bool }); ok {
		return r.Connected()
	}
	return true
}

// handle dispatches an intent and reports whether the loop should exit.
func (l *Loop) handle(ctx context.Context, in Intent) bool {
	l.log.WithField("intent", in).Debug("intent received")

	switch in {
	case IntentEnroll:
		l.startEnrollment(ctx)
	case IntentCount:
		l.setStatus(fmt.Sprintf(statusCountFormat, l.c.Store.Count()))
	case IntentReset:
		l.reset(ctx)
	case IntentQuit:
		return true
	}
	return false
}

func (l *Loop) startEnrollment(ctx context.Context) {
	if l.enrolling {
		l.setStatus(StatusEnrollBusy)
		return
	}

	ectx, cancel := context.WithCancel(ctx)
	l.cancelEnr = cancel
	l.enrolling = true
	l.update(func(s *State) {
		s.Enrolling = true
		s.Status = StatusEnrollStarted
		s.Box = nil
		s.HasConfidence = false
	})

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		res, err := l.c.Enroller.Enroll(ectx, func(p enrollment.Progress) {
			l.setStatus(p.Status)
		})
		l.enrollDone <- enrollOutcome{result: res, err: err}
	}()
}

func (l *Loop) finishEnrollment(out enrollOutcome) {
	l.enrolling = false
	if l.cancelEnr != nil {
		l.cancelEnr()
		l.cancelEnr = nil
	}

	status := out.result.Status
	switch {
	case errors.Is(out.err, enrollment.ErrSessionActive):
		status = StatusEnrollBusy
	case out.err != nil:
		l.log.WithError(out.err).Error("registration failed")
		if status == "" {
			status = "Registration failed - error occurred"
		}
	}

	if out.result.Outcome == enrollment.Committed {
		l.reloadGallery()
	}

	lockState, known := l.c.Lock.State()
	l.update(func(s *State) {
		s.Enrolling = false
		s.Status = status
		s.Lock = lockState
		s.LockKnown = known
	})
}

func (l *Loop) reset(ctx context.Context) {
	if l.enrolling {
		l.setStatus(StatusResetBusy)
		return
	}

	if err := l.c.Store.ResetAll(); err != nil {
		l.log.WithError(err).Error("store reset failed")
		l.setStatus(fmt.Sprintf(statusResetFailFormat, err))
		return
	}

	if err := l.c.Lock.Reset(ctx); err != nil {
		l.log.WithError(err).Warn("device reset not acknowledged")
	}
	l.reloadGallery()

	lockState, known := l.c.Lock.State()
	l.update(func(s *State) {
		s.Status = StatusResetCompleted
		s.Box = nil
		s.HasConfidence = false
		s.Lock = lockState
		s.LockKnown = known
	})
	l.log.Info("system reset completed")
}

func (l *Loop) reloadGallery() {
	entries, err := l.c.Store.Entries()
	if err != nil {
		l.log.WithError(err).Warn("could not load registered faces")
		entries = nil
	}
	l.c.Verifier.SetGallery(entries)
	l.log.Infof("Loaded %d embeddings", len(entries))
}

func (l *Loop) shutdown(ctx context.Context) {
	if l.cancelEnr != nil {
		l.cancelEnr()
	}
	l.wg.Wait()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := l.c.Lock.Secure(sctx); err != nil {
		l.log.WithError(err).Warn("could not secure lock on shutdown")
	}

	if err := l.c.Source.Stop(); err != nil {
		l.log.WithError(err).Warn("camera did not stop cleanly")
	}
	l.log.Info("control loop stopped")
}
