// Package enrollment runs registration sessions: it collects spaced, valid
// face samples from the camera for a bounded time and commits them as a new
// identity when enough were captured.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/camera"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/config"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/storage"
)

// State is the session state.
type State int

const (
	Idle State = iota
	Capturing
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrSessionActive is returned when a session is already capturing.
var ErrSessionActive = errors.New("enrollment already in progress")

// FrameReader yields the latest camera frame without blocking.
type FrameReader interface {
	Read() (camera.Frame, bool)
}

// FaceAnalyzer locates faces and extracts embeddings.
type FaceAnalyzer interface {
	Locate(frame camera.Frame) (recognition.Observation, recognition.Status)
	Extract(obs recognition.Observation) (recognition.Embedding, error)
}

// Store is the part of the identity store used by a session.
type Store interface {
	Reserve() (handle, name string, err error)
	SaveSample(handle string, img image.Image) (string, error)
	Save(id storage.Identity) error
	Discard(handle string) error
}

// Unlocker opens the lock after a successful registration.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// Progress is reported after every accepted sample.
type Progress struct {
	Captured  int
	Max       int
	Remaining time.Duration
	Status    string
}

// Result is the outcome of a session.
type Result struct {
	Outcome  State
	Identity string
	Captured int
	Reason   string
	Status   string
}

// Engine runs one session at a time.
type Engine struct {
	source   FrameReader
	analyzer FaceAnalyzer
	store    Store
	unlocker Unlocker
	cfg      config.EnrollmentConfig
	log      *logrus.Entry

	now          func() time.Time
	pollInterval time.Duration

	mu    sync.Mutex
	state State
}

// NewEngine creates an enrollment engine.
func NewEngine(source FrameReader, analyzer FaceAnalyzer, store Store, unlocker Unlocker, cfg config.EnrollmentConfig) *Engine {
	return &Engine{
		source:       source,
		analyzer:     analyzer,
		store:        store,
		unlocker:     unlocker,
		cfg:          cfg,
		log:          logging.Component("enrollment"),
		now:          time.Now,
		pollInterval: 30 * time.Millisecond,
	}
}

// State returns the state of the current or last session.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Active reports whether a session is capturing.
func (e *Engine) Active() bool {
	return e.State() == Capturing
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Enroll runs a session until the time window closes, the sample cap is
// reached or ctx is cancelled. progress may be nil.
func (e *Engine) Enroll(ctx context.Context, progress func(Progress)) (Result, error) {
	e.mu.Lock()
	if e.state == Capturing {
		e.mu.Unlock()
		return Result{}, ErrSessionActive
	}
	e.state = Capturing
	e.mu.Unlock()

	handle, name, err := e.store.Reserve()
	if err != nil {
		e.setState(Aborted)
		return Result{
			Outcome: Aborted,
			Reason:  "could not reserve identity",
			Status:  "Registration failed - error occurred",
		}, err
	}

	log := e.log.WithField("handle", handle)
	log.Infof("Starting registration for %s", name)

	embeddings := e.capture(ctx, handle, log, progress)
	n := len(embeddings)

	if n < e.cfg.MinSamples {
		e.discard(handle, log)
		reason := "too few samples"
		if ctx.Err() != nil {
			reason = "cancelled"
		}
		log.WithField("captured", n).Warn("registration failed: insufficient faces")
		e.setState(Aborted)
		return Result{
			Outcome:  Aborted,
			Captured: n,
			Reason:   reason,
			Status:   fmt.Sprintf("Registration failed - only %d faces captured", n),
		}, nil
	}

	id := storage.Identity{Handle: handle, Name: name, Embeddings: embeddings, EnrolledAt: e.now()}
	if err := e.store.Save(id); err != nil {
		e.discard(handle, log)
		log.WithError(err).Error("error saving registration")
		e.setState(Aborted)
		return Result{
			Outcome:  Aborted,
			Captured: n,
			Reason:   "save failed",
			Status:   "Registration failed - save error",
		}, err
	}

	if e.unlocker != nil {
		if err := e.unlocker.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("courtesy unlock failed")
		}
	}

	log.WithField("captured", n).Infof("Registration successful: %s", name)
	e.setState(Committed)
	return Result{
		Outcome:  Committed,
		Identity: name,
		Captured: n,
		Status:   fmt.Sprintf("Successfully registered %s", name),
	}, nil
}

// capture collects embeddings in acceptance order and persists every
// accepted crop immediately.
func (e *Engine) capture(ctx context.Context, handle string, log *logrus.Entry, progress func(Progress)) []recognition.Embedding {
	var (
		embeddings  []recognition.Embedding
		lastCapture time.Time
		captured    bool
	)
	start := e.now()

	for {
		if ctx.Err() != nil {
			return embeddings
		}
		elapsed := e.now().Sub(start)
		if elapsed >= e.cfg.Duration || len(embeddings) >= e.cfg.MaxSamples {
			return embeddings
		}

		frame, ok := e.source.Read()
		if !ok {
			e.wait(ctx)
			continue
		}

		obs, status := e.analyzer.Locate(frame)
		if status != recognition.StatusUsable {
			e.wait(ctx)
			continue
		}

		at := e.now()
		if captured && at.Sub(lastCapture) < e.cfg.Spacing {
			e.wait(ctx)
			continue
		}

		emb, err := e.analyzer.Extract(obs)
		if err != nil {
			log.WithError(err).Debug("sample skipped")
			e.wait(ctx)
			continue
		}

		if _, err := e.store.SaveSample(handle, obs.Crop); err != nil {
			log.WithError(err).Warn("failed to save sample image")
			e.wait(ctx)
			continue
		}

		embeddings = append(embeddings, emb)
		lastCapture = at
		captured = true

		p := Progress{
			Captured:  len(embeddings),
			Max:       e.cfg.MaxSamples,
			Remaining: e.cfg.Duration - e.now().Sub(start),
			Status:    fmt.Sprintf("Capturing... %d/%d", len(embeddings), e.cfg.MaxSamples),
		}
		log.Debugf("Captured face %d/%d", p.Captured, p.Max)
		if progress != nil {
			progress(p)
		}
	}
}

func (e *Engine) discard(handle string, log *logrus.Entry) {
	if err := e.store.Discard(handle); err != nil {
		log.WithError(err).Warn("failed to discard session namespace")
	}
}

func (e *Engine) wait(ctx context.Context) {
	if e.pollInterval <= 0 {
		return
	}
	t := time.NewTimer(e.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
