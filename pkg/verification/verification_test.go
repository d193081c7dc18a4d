package verification

import (
	"math"
	"math/rand"
	"testing"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/camera"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
)

type MockAnalyzer struct {
	LocateFunc  func(frame camera.Frame) (recognition.Observation, recognition.Status)
	ExtractFunc func(obs recognition.Observation) (recognition.Embedding, error)
}

func (m *MockAnalyzer) Locate(frame camera.Frame) (recognition.Observation, recognition.Status) {
	if m.LocateFunc != nil {
		return m.LocateFunc(frame)
	}
	return recognition.Observation{}, recognition.StatusAmbiguous
}

func (m *MockAnalyzer) Extract(obs recognition.Observation) (recognition.Embedding, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(obs)
	}
	return nil, recognition.ErrExtraction
}

var testBox = recognition.Rectangle{X: 10, Y: 20, Width: 100, Height: 100}

func usableFace(probe recognition.Embedding) *MockAnalyzer {
	return &MockAnalyzer{
		LocateFunc: func(camera.Frame) (recognition.Observation, recognition.Status) {
			return recognition.Observation{Box: testBox}, recognition.StatusUsable
		},
		ExtractFunc: func(recognition.Observation) (recognition.Embedding, error) {
			return probe, nil
		},
	}
}

func entry(name string, v ...float32) recognition.Entry {
	return recognition.Entry{Handle: "h_" + name, Name: name, Embedding: v}
}

func TestVerify_RejectionPaths(t *testing.T) {
	tests := []struct {
		name           string
		analyzer       *MockAnalyzer
		wantBox        bool
		wantConfidence bool
		wantStatus     string
	}{
		{
			name:       "no or many faces",
			analyzer:   &MockAnalyzer{},
			wantStatus: MsgShowOneFace,
		},
		{
			name: "invalid crop",
			analyzer: &MockAnalyzer{LocateFunc: func(camera.Frame) (recognition.Observation, recognition.Status) {
				return recognition.Observation{Box: testBox}, recognition.StatusInvalid
			}},
			wantBox:    true,
			wantStatus: MsgFaceNotClear,
		},
		{
			name: "extraction failure",
			analyzer: &MockAnalyzer{LocateFunc: func(camera.Frame) (recognition.Observation, recognition.Status) {
				return recognition.Observation{Box: testBox}, recognition.StatusUsable
			}},
			wantBox:        true,
			wantConfidence: true,
			wantStatus:     MsgNoEmbedding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(tt.analyzer, 0.4, "linear")
			e.SetGallery([]recognition.Entry{entry("Person_1", 1, 0)})

			r := e.Verify(camera.Frame{})
			if r.Decision != Reject {
				t.Errorf("expected Reject, got %s", r.Decision)
			}
			if (r.Box != nil) != tt.wantBox {
				t.Errorf("box present = %v, want %v", r.Box != nil, tt.wantBox)
			}
			if tt.wantBox && *r.Box != testBox {
				t.Errorf("unexpected box %+v", *r.Box)
			}
			if r.HasConfidence != tt.wantConfidence {
				t.Errorf("HasConfidence = %v, want %v", r.HasConfidence, tt.wantConfidence)
			}
			if r.Confidence != 0 {
				t.Errorf("expected zero confidence, got %f", r.Confidence)
			}
			if r.Status != tt.wantStatus {
				t.Errorf("expected status %q, got %q", tt.wantStatus, r.Status)
			}
		})
	}
}

func TestVerify_EmptyGallery(t *testing.T) {
	e := NewEngine(usableFace(recognition.Embedding{1, 0, 0}), 0.4, "linear")

	r := e.Verify(camera.Frame{})
	if r.Decision != Reject || !r.HasConfidence || r.Confidence != 0 {
		t.Errorf("expected Reject with 0%% confidence, got %+v", r)
	}
	if r.Status != "Access denied (0.0%)" {
		t.Errorf("unexpected status %q", r.Status)
	}
}

func TestVerify_AcceptAndThreshold(t *testing.T) {
	gallery := []recognition.Entry{
		entry("Person_1", 1, 0, 0),
		entry("Person_1", 0.9, 0.1, 0),
		entry("Person_2", 0, 1, 0),
	}

	tests := []struct {
		name         string
		probe        recognition.Embedding
		wantDecision Decision
		wantIdentity string
		wantStatus   string
	}{
		{"exact match", recognition.Embedding{1, 0, 0}, Accept, "Person_1", "Welcome Person_1! (100.0%)"},
		{"second identity", recognition.Embedding{0.1, 1, 0}, Accept, "Person_2", ""},
		{"below threshold", recognition.Embedding{0.3, 0, 1}, Reject, "", ""},
		{"opposite", recognition.Embedding{-1, -1, 0}, Reject, "", "Access denied (0.0%)"},
	}

	for _, index := range []string{"linear", "hnsw"} {
		for _, tt := range tests {
			t.Run(index+"/"+tt.name, func(t *testing.T) {
				e := NewEngine(usableFace(tt.probe), 0.4, index)
				e.SetGallery(gallery)

				r := e.Verify(camera.Frame{})
				if r.Decision != tt.wantDecision {
					t.Fatalf("expected %s, got %s (score %f)", tt.wantDecision, r.Decision, r.Score)
				}
				if r.Identity != tt.wantIdentity {
					t.Errorf("expected identity %q, got %q", tt.wantIdentity, r.Identity)
				}
				if tt.wantStatus != "" && r.Status != tt.wantStatus {
					t.Errorf("expected status %q, got %q", tt.wantStatus, r.Status)
				}
				if math.Abs(r.Confidence-r.Score*100) > 1e-9 {
					t.Errorf("confidence %f does not match score %f", r.Confidence, r.Score)
				}
				if r.Box == nil {
					t.Error("expected a box")
				}
			})
		}
	}
}

func TestVerify_ThresholdIsStrict(t *testing.T) {
	probe := recognition.Embedding{0.4, 0.9}
	stored := entry("Person_1", 1, 0)
	score := recognition.CosineSimilarity(probe, stored.Embedding)

	atThreshold := NewEngine(usableFace(probe), score, "linear")
	atThreshold.SetGallery([]recognition.Entry{stored})
	if r := atThreshold.Verify(camera.Frame{}); r.Decision != Reject {
		t.Errorf("a score equal to the threshold must be rejected, got %s", r.Decision)
	}

	below := NewEngine(usableFace(probe), score-1e-6, "linear")
	below.SetGallery([]recognition.Entry{stored})
	if r := below.Verify(camera.Frame{}); r.Decision != Accept {
		t.Errorf("a score above the threshold must be accepted, got %s", r.Decision)
	}
}

func TestLinearMatcher_TieKeepsFirst(t *testing.T) {
	m := NewLinearMatcher([]recognition.Entry{
		entry("Person_1", 1, 0),
		entry("Person_2", 2, 0),
		entry("Person_3", 0, 1),
	})

	best := m.Best(recognition.Embedding{1, 0})
	if !best.Found || best.Entry.Name != "Person_1" {
		t.Errorf("expected first of tied entries, got %+v", best)
	}
}

func TestLinearMatcher_NegativeNeverWins(t *testing.T) {
	m := NewLinearMatcher([]recognition.Entry{entry("Person_1", -1, 0)})

	best := m.Best(recognition.Embedding{1, 0})
	if best.Found || best.Score != 0 {
		t.Errorf("negative score must not match, got %+v", best)
	}
}

func TestLinearMatcher_DimensionMismatchScoresZero(t *testing.T) {
	m := NewLinearMatcher([]recognition.Entry{entry("Person_1", 1, 0, 0)})

	if best := m.Best(recognition.Embedding{1, 0}); best.Found {
		t.Errorf("mismatched dimensions must not match, got %+v", best)
	}
}

func TestHNSWMatcher_AgreesWithLinear(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	randomVec := func() recognition.Embedding {
		v := make(recognition.Embedding, 16)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}

	var gallery []recognition.Entry
	for i := 0; i < 20; i++ {
		gallery = append(gallery, recognition.Entry{Handle: "h", Name: "Person", Embedding: randomVec()})
	}

	linear := NewLinearMatcher(gallery)
	graph := NewHNSWMatcher(gallery)

	for i := 0; i < 10; i++ {
		probe := randomVec()
		want := linear.Best(probe)
		got := graph.Best(probe)
		if math.Abs(want.Score-got.Score) > 1e-6 {
			t.Errorf("probe %d: linear %f, hnsw %f", i, want.Score, got.Score)
		}
	}
}

func TestHNSWMatcher_EdgeCases(t *testing.T) {
	empty := NewHNSWMatcher(nil)
	if best := empty.Best(recognition.Embedding{1, 0}); best.Found {
		t.Error("empty matcher must not match")
	}

	m := NewHNSWMatcher([]recognition.Entry{entry("Person_1", 1, 0), entry("Odd", 1, 0, 0)})
	if m.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", m.Len())
	}
	if best := m.Best(recognition.Embedding{1, 0, 0}); best.Found {
		t.Error("probe with other dimension must not match")
	}
	if best := m.Best(recognition.Embedding{0, 0}); best.Found {
		t.Error("zero probe must not match")
	}
	if best := m.Best(recognition.Embedding{1, 0}); !best.Found || best.Entry.Name != "Person_1" {
		t.Errorf("expected Person_1, got %+v", best)
	}
}

func TestEngine_GallerySize(t *testing.T) {
	e := NewEngine(&MockAnalyzer{}, 0.4, "linear")
	if e.GallerySize() != 0 {
		t.Error("new engine should have an empty gallery")
	}
	e.SetGallery([]recognition.Entry{entry("a", 1), entry("b", 1)})
	if e.GallerySize() != 2 {
		t.Errorf("expected 2, got %d", e.GallerySize())
	}
}

func TestDecision_String(t *testing.T) {
	if Accept.String() != "accept" || Reject.String() != "reject" {
		t.Error("unexpected decision names")
	}
}
