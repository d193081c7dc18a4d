package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"
	"golang.org/x/image/draw"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// embedSize is the shortest crop side handed to the embedding network.
// Smaller crops are upscaled first.
const embedSize = 150

// FaceEngine is the subset of *face.Recognizer used by DlibProvider.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	RecognizeSingle(imgData []byte) (*face.Face, error)
	Close()
}

func newDlibEngine(modelPath string) (FaceEngine, error) {
	return face.NewRecognizer(modelPath)
}

// DlibProvider implements Provider using dlib via go-face.
type DlibProvider struct {
	factory     func(modelPath string) (FaceEngine, error)
	engine      FaceEngine
	modelPath   string
	minFaceSize int
	loaded      bool
	mu          sync.Mutex
}

// NewDlibProvider creates a provider that ignores detections smaller than
// minFaceSize pixels on either side.
func NewDlibProvider(minFaceSize int) *DlibProvider {
	return &DlibProvider{
		factory:     newDlibEngine,
		minFaceSize: minFaceSize,
	}
}

// LoadModels loads the dlib models from modelPath. The directory must hold
// shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat.
func (p *DlibProvider) LoadModels(modelPath string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	engine, err := p.factory(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	p.engine = engine
	p.modelPath = modelPath
	p.loaded = true

	logging.Infof("Face recognition models loaded")
	return nil
}

// IsLoaded returns true if models are loaded.
func (p *DlibProvider) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// Close releases the recognizer resources.
func (p *DlibProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.engine != nil {
		p.engine.Close()
		p.engine = nil
	}
	p.loaded = false
	return nil
}

// DetectFaces returns all faces of at least the minimum size together with
// the descriptors dlib computed for them on the full image.
func (p *DlibProvider) DetectFaces(imageData []byte) ([]Detection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return nil, ErrModelNotLoaded
	}

	faces, err := p.engine.Recognize(imageData)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	detections := make([]Detection, 0, len(faces))
	for _, f := range faces {
		box := rectangleFrom(f.Rectangle)
		if box.Width < p.minFaceSize || box.Height < p.minFaceSize {
			continue
		}
		detections = append(detections, Detection{
			Box:        box,
			Descriptor: Embedding(f.Descriptor[:]).Clone(),
		})
	}

	logging.Debugf("Detected %d face(s), %d above minimum size", len(faces), len(detections))
	return detections, nil
}

// Embed computes the descriptor of the single face in crop. It runs the
// detector again on the crop, so it is only used when detection did not
// yield a descriptor.
func (p *DlibProvider) Embed(crop image.Image) (Embedding, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, upscale(crop, embedSize), &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.loaded {
		return nil, ErrModelNotLoaded
	}

	f, err := p.engine.RecognizeSingle(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, ErrNoFaceDetected)
	}

	return Embedding(f.Descriptor[:]).Clone(), nil
}

// upscale enlarges img so its shorter side is at least minSide.
func upscale(img image.Image, minSide int) image.Image {
	b := img.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	if short <= 0 || short >= minSide {
		return img
	}

	w := b.Dx() * minSide / short
	h := b.Dy() * minSide / short
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
