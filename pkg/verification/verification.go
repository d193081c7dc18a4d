// Package verification decides whether the face in a frame belongs to an
// enrolled identity.
package verification

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/camera"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
)

// Decision is the outcome of a verification.
type Decision int

const (
	Reject Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// User-facing status messages.
const (
	MsgShowOneFace  = "Please show only one face clearly"
	MsgFaceNotClear = "Face not clear enough"
	MsgNoEmbedding  = "Could not process face"
)

// Result describes one verification. Confidence is the best score in
// percent and is only meaningful when HasConfidence is set.
type Result struct {
	Decision      Decision
	Box           *recognition.Rectangle
	Confidence    float64
	HasConfidence bool
	Identity      string
	Score         float64
	Status        string
}

// FaceAnalyzer locates faces and extracts embeddings.
type FaceAnalyzer interface {
	Locate(frame camera.Frame) (recognition.Observation, recognition.Status)
	Extract(obs recognition.Observation) (recognition.Embedding, error)
}

// Engine verifies frames against the current gallery.
type Engine struct {
	analyzer  FaceAnalyzer
	threshold float64
	index     string
	log       *logrus.Entry

	mu      sync.RWMutex
	matcher Matcher
}

// NewEngine creates an engine with an empty gallery. A score must exceed
// threshold to be accepted.
func NewEngine(analyzer FaceAnalyzer, threshold float64, index string) *Engine {
	return &Engine{
		analyzer:  analyzer,
		threshold: threshold,
		index:     index,
		log:       logging.Component("verification"),
		matcher:   NewMatcher(index, nil),
	}
}

// SetGallery replaces the stored embeddings matched against.
func (e *Engine) SetGallery(entries []recognition.Entry) {
	m := NewMatcher(e.index, entries)

	e.mu.Lock()
	e.matcher = m
	e.mu.Unlock()

	e.log.WithField("embeddings", len(entries)).Debug("gallery updated")
}

// GallerySize returns the number of stored embeddings.
func (e *Engine) GallerySize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.matcher.Len()
}

// Verify evaluates a single frame. It never fails; problems are reported
// as a Reject with an explanatory status.
func (e *Engine) Verify(frame camera.Frame) Result {
	obs, status := e.analyzer.Locate(frame)

	switch status {
	case recognition.StatusAmbiguous:
		return Result{Decision: Reject, Status: MsgShowOneFace}
	case recognition.StatusInvalid:
		box := obs.Box
		return Result{Decision: Reject, Box: &box, Status: MsgFaceNotClear}
	}

	box := obs.Box
	probe, err := e.analyzer.Extract(obs)
	if err != nil {
		e.log.WithError(err).Debug("embedding extraction failed")
		return Result{Decision: Reject, Box: &box, HasConfidence: true, Status: MsgNoEmbedding}
	}

	e.mu.RLock()
	match := e.matcher.Best(probe)
	e.mu.RUnlock()

	result := Result{
		Decision:      Reject,
		Box:           &box,
		Confidence:    match.Score * 100,
		HasConfidence: true,
		Score:         match.Score,
	}

	if match.Found && match.Score > e.threshold {
		result.Decision = Accept
		result.Identity = match.Entry.Name
		result.Status = fmt.Sprintf("Welcome %s! (%.1f%%)", match.Entry.Name, result.Confidence)
	} else {
		result.Status = fmt.Sprintf("Access denied (%.1f%%)", result.Confidence)
	}

	e.log.WithFields(logging.Fields{
		"decision": result.Decision,
		"identity": match.Entry.Name,
		"score":    fmt.Sprintf("%.3f", match.Score),
	}).Debug("verification")
	return result
}
