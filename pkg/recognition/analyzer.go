package recognition

import (
	"fmt"
	"image"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/camera"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/config"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

// Status classifies the outcome of locating a face in a frame.
type Status int

const (
	// StatusUsable means exactly one face with a valid crop.
	StatusUsable Status = iota
	// StatusAmbiguous means zero or several faces.
	StatusAmbiguous
	// StatusInvalid means one face whose crop failed validation.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusUsable:
		return "usable"
	case StatusAmbiguous:
		return "ambiguous"
	case StatusInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// CropLimits bounds what counts as a usable face crop.
type CropLimits struct {
	MinSize     int
	MinVariance float64
	MaxVariance float64
}

// ValidateCrop accepts crops of at least MinSize on both sides whose pixel
// variance lies strictly between MinVariance and MaxVariance.
func (l CropLimits) ValidateCrop(crop image.Image) error {
	if crop == nil {
		return fmt.Errorf("%w: empty crop", ErrInvalidCrop)
	}
	b := crop.Bounds()
	if b.Dx() < l.MinSize || b.Dy() < l.MinSize {
		return fmt.Errorf("%w: %dx%d below %dx%d", ErrInvalidCrop, b.Dx(), b.Dy(), l.MinSize, l.MinSize)
	}
	v := PixelVariance(crop)
	if v <= l.MinVariance || v >= l.MaxVariance {
		return fmt.Errorf("%w: variance %.1f outside (%g, %g)", ErrInvalidCrop, v, l.MinVariance, l.MaxVariance)
	}
	return nil
}

// Analyzer turns frames into face observations and embeddings. It is shared
// by enrollment and verification so both apply identical rules.
type Analyzer struct {
	provider Provider
	limits   CropLimits
	log      *logrus.Entry
}

// NewAnalyzer creates an analyzer using the crop limits from cfg.
func NewAnalyzer(provider Provider, cfg config.RecognitionConfig) *Analyzer {
	return &Analyzer{
		provider: provider,
		limits: CropLimits{
			MinSize:     cfg.MinCropSize,
			MinVariance: cfg.MinVariance,
			MaxVariance: cfg.MaxVariance,
		},
		log: logging.Component("recognition"),
	}
}

// Locate detects faces in frame. Only StatusUsable observations carry a
// crop; StatusInvalid ones carry the box.
func (a *Analyzer) Locate(frame camera.Frame) (Observation, Status) {
	detections, err := a.provider.DetectFaces(frame.Data)
	if err != nil {
		a.log.WithError(err).Debug("detection failed")
		return Observation{}, StatusAmbiguous
	}
	if len(detections) != 1 {
		return Observation{}, StatusAmbiguous
	}

	obs := Observation{Box: detections[0].Box}

	img, err := frame.ToImage()
	if err != nil {
		a.log.WithError(err).Debug("frame decode failed")
		return obs, StatusInvalid
	}

	crop := cropImage(img, obs.Box.Bounds())
	if err := a.limits.ValidateCrop(crop); err != nil {
		a.log.WithError(err).Debug("crop rejected")
		return obs, StatusInvalid
	}

	obs.Crop = crop
	obs.Descriptor = detections[0].Descriptor
	return obs, StatusUsable
}

// Extract returns the embedding of a usable observation. The descriptor from
// detection is preferred; the crop is only embedded when there is none.
func (a *Analyzer) Extract(obs Observation) (Embedding, error) {
	if obs.Crop == nil {
		return nil, fmt.Errorf("%w: no crop", ErrExtraction)
	}
	if len(obs.Descriptor) > 0 {
		return obs.Descriptor.Clone(), nil
	}
	emb, err := a.provider.Embed(obs.Crop)
	if err != nil {
		return nil, err
	}
	if len(emb) == 0 {
		return nil, ErrExtraction
	}
	return emb, nil
}

// cropImage copies the part of img inside r, clipped to the image bounds.
func cropImage(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}
