// Package recognition provides face detection, embedding extraction and
// similarity scoring. The production provider uses dlib via go-face.
package recognition

import (
	"errors"
	"image"
)

// Rectangle represents a bounding box in frame coordinates.
type Rectangle struct {
	X, Y          int
	Width, Height int
}

// Bounds converts the box to an image.Rectangle.
func (r Rectangle) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func rectangleFrom(b image.Rectangle) Rectangle {
	return Rectangle{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()}
}

// Embedding is a face descriptor. Embeddings are only comparable when they
// have the same length.
type Embedding []float32

// Clone returns a copy of the embedding.
func (e Embedding) Clone() Embedding {
	return append(Embedding(nil), e...)
}

// Entry is one stored embedding labelled with its identity.
type Entry struct {
	Handle    string
	Name      string
	Embedding Embedding
}

// Detection is a face found by a provider. Descriptor is set when the
// detector computes the embedding as part of detection.
type Detection struct {
	Box        Rectangle
	Descriptor Embedding
}

// Observation is a single located face: its box, the cropped pixels and the
// descriptor computed on the full frame, if any.
type Observation struct {
	Box        Rectangle
	Crop       image.Image
	Descriptor Embedding
}

// Provider detects faces in encoded images and turns face crops into
// embeddings.
type Provider interface {
	DetectFaces(imageData []byte) ([]Detection, error)
	Embed(crop image.Image) (Embedding, error)
}

// ErrNoFaceDetected is returned when no face is found in the image.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// ErrInvalidCrop is returned when a crop is too small or has implausible contrast.
var ErrInvalidCrop = errors.New("face crop not usable")

// ErrExtraction is returned when no embedding could be computed for a crop.
var ErrExtraction = errors.New("could not extract face embedding")
