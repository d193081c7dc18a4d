package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/camera"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/device"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/lock"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/storage"
)

// app holds the components shared by the run and enroll commands.
type app struct {
	provider *recognition.DlibProvider
	analyzer *recognition.Analyzer
	source   camera.Source
	store    *storage.FileStore
	link     device.Link
	lock     *lock.Controller
}

func openStore() (*storage.FileStore, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return storage.NewFileStore(cfg.FacesDir(), cfg.Storage.EncryptionEnabled)
}

// openApp loads the models, opens the store, the camera and the device
// link. Model and camera failures are fatal.
func openApp(ctx context.Context) (*app, error) {
	a := &app{}

	store, err := openStore()
	if err != nil {
		return nil, err
	}
	a.store = store

	a.provider = recognition.NewDlibProvider(cfg.Recognition.MinFaceSize)
	if err := a.provider.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return nil, fmt.Errorf("%w (run 'facelock download-models' first)", err)
	}
	a.analyzer = recognition.NewAnalyzer(a.provider, cfg.Recognition)

	source, err := camera.Open(ctx, cfg.Camera)
	if err != nil {
		a.Close()
		if errors.Is(err, camera.ErrNoCamera) {
			return nil, fmt.Errorf("no camera found: %w", err)
		}
		return nil, err
	}
	a.source = source
	logging.Infof("Using %s camera", source.Name())

	a.link = device.Connect(ctx, cfg.Device)
	a.lock = lock.NewController(a.link)
	return a, nil
}

// Close releases everything openApp acquired. Stopping the camera twice is
// harmless.
func (a *app) Close() {
	if a.source != nil {
		if err := a.source.Stop(); err != nil {
			logging.WithError(err).Warn("camera stop failed")
		}
	}
	if a.link != nil {
		if err := a.link.Close(); err != nil {
			logging.WithError(err).Warn("device link close failed")
		}
	}
	if a.provider != nil {
		_ = a.provider.Close()
	}
}
