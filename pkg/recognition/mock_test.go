package recognition

import (
	"image"

	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc       func(data []byte) ([]face.Face, error)
	RecognizeSingleFunc func(data []byte) (*face.Face, error)
	CloseFunc           func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) RecognizeSingle(data []byte) (*face.Face, error) {
	if m.RecognizeSingleFunc != nil {
		return m.RecognizeSingleFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

type MockProvider struct {
	DetectFacesFunc func(data []byte) ([]Detection, error)
	EmbedFunc       func(crop image.Image) (Embedding, error)
}

func (m *MockProvider) DetectFaces(data []byte) ([]Detection, error) {
	if m.DetectFacesFunc != nil {
		return m.DetectFacesFunc(data)
	}
	return nil, nil
}

func (m *MockProvider) Embed(crop image.Image) (Embedding, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(crop)
	}
	return Embedding{1, 0, 0}, nil
}
