// Package config provides configuration management for facelock.
// It loads configuration from YAML files with sensible defaults and lets
// FACELOCK_* environment variables (optionally from a .env file) override
// the settings that usually differ per installation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all facelock configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Device      DeviceConfig      `yaml:"device"`
	Control     ControlConfig     `yaml:"control"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds local and remote camera settings.
type CameraConfig struct {
	Device string       `yaml:"device"`
	Width  int          `yaml:"width"`
	Height int          `yaml:"height"`
	Remote RemoteConfig `yaml:"remote"`
}

// RemoteConfig describes the ESP32-CAM style network camera.
type RemoteConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	StreamPath     string        `yaml:"stream_path"`
	CapturePath    string        `yaml:"capture_path"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	FrameTimeout   time.Duration `yaml:"frame_timeout"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
}

// StreamURL returns the MJPEG stream endpoint.
func (r RemoteConfig) StreamURL() string {
	return "http://" + r.Host + r.StreamPath
}

// CaptureURL returns the single-shot endpoint used as reachability probe.
func (r RemoteConfig) CaptureURL() string {
	return "http://" + r.Host + r.CapturePath
}

// DlibConfidenceThreshold is the default cosine acceptance threshold. dlib
// descriptors are unit length and the model's Euclidean match distance of
// 0.6 corresponds to a cosine similarity of 1 - 0.6²/2 = 0.82. Different
// people commonly score between 0.5 and 0.75, so thresholds tuned for other
// embedding models (such as 0.4) accept strangers.
const DlibConfidenceThreshold = 0.82

// RecognitionConfig holds detection, validation and matching settings.
type RecognitionConfig struct {
	ModelPath           string  `yaml:"model_path"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	MinFaceSize         int     `yaml:"min_face_size"`
	MinCropSize         int     `yaml:"min_crop_size"`
	MinVariance         float64 `yaml:"min_variance"`
	MaxVariance         float64 `yaml:"max_variance"`
	Index               string  `yaml:"index"`
}

// EnrollmentConfig bounds a registration session.
type EnrollmentConfig struct {
	Duration   time.Duration `yaml:"duration"`
	MaxSamples int           `yaml:"max_samples"`
	MinSamples int           `yaml:"min_samples"`
	Spacing    time.Duration `yaml:"spacing"`
}

// DeviceConfig holds the serial link to the lock microcontroller.
// An empty port selects the loopback link.
type DeviceConfig struct {
	Port       string        `yaml:"port"`
	BaudRate   int           `yaml:"baud_rate"`
	AckTimeout time.Duration `yaml:"ack_timeout"`
	SettleTime time.Duration `yaml:"settle_time"`
}

// ControlConfig holds the verification cadence.
type ControlConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Camera: CameraConfig{
			Device: "/dev/video0",
			Width:  640,
			Height: 480,
			Remote: RemoteConfig{
				Enabled:        true,
				Host:           "192.168.4.1",
				StreamPath:     "/stream",
				CapturePath:    "/capture",
				ProbeTimeout:   5 * time.Second,
				ConnectTimeout: 5 * time.Second,
				FrameTimeout:   3 * time.Second,
				RetryBackoff:   100 * time.Millisecond,
				StopTimeout:    time.Second,
			},
		},
		Recognition: RecognitionConfig{
			ModelPath:           filepath.Join(homeDir, ".local/share/facelock/models"),
			ConfidenceThreshold: DlibConfidenceThreshold,
			MinFaceSize:         80,
			MinCropSize:         50,
			MinVariance:         10,
			MaxVariance:         50000,
			Index:               "linear",
		},
		Enrollment: EnrollmentConfig{
			Duration:   7 * time.Second,
			MaxSamples: 10,
			MinSamples: 3,
			Spacing:    500 * time.Millisecond,
		},
		Device: DeviceConfig{
			Port:       "/dev/ttyUSB0",
			BaudRate:   115200,
			AckTimeout: time.Second,
			SettleTime: 2 * time.Second,
		},
		Control: ControlConfig{
			Interval: time.Second,
		},
		Storage: StorageConfig{
			DataDir:           filepath.Join(homeDir, ".local/share/facelock"),
			EncryptionEnabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   filepath.Join(homeDir, ".local/share/facelock/facelock.log"),
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}

// LoadDefault tries the system config, then the user config, then defaults.
// Environment overrides are applied in every case.
func LoadDefault() (*Config, error) {
	candidates := []string{"/etc/facelock/facelock.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config/facelock/facelock.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			if err != nil {
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
	}

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from FACELOCK_* environment variables. A .env
// file in the working directory is loaded first; variables already set in
// the environment win over it.
func (c *Config) ApplyEnv() {
	// .env is optional
	_ = godotenv.Load()

	if v, ok := os.LookupEnv("FACELOCK_SERIAL_PORT"); ok {
		c.Device.Port = v
	}
	c.Device.BaudRate = envInt("FACELOCK_BAUD_RATE", c.Device.BaudRate)
	if v := os.Getenv("FACELOCK_CAMERA_HOST"); v != "" {
		c.Camera.Remote.Host = v
	}
	if v := os.Getenv("FACELOCK_CAMERA_DEVICE"); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv("FACELOCK_REMOTE_CAMERA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Camera.Remote.Enabled = b
		}
	}
	if v := os.Getenv("FACELOCK_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("FACELOCK_MODEL_PATH"); v != "" {
		c.Recognition.ModelPath = v
	}
	if v := os.Getenv("FACELOCK_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// envInt reads an environment variable as a positive integer, keeping
// defaultVal when it is unset or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("invalid camera resolution: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Remote.Enabled && c.Camera.Remote.Host == "" {
		return fmt.Errorf("remote camera enabled without host")
	}
	if c.Camera.Remote.Enabled && c.Camera.Remote.FrameTimeout <= 0 {
		return fmt.Errorf("frame_timeout must be positive, got %s", c.Camera.Remote.FrameTimeout)
	}

	r := c.Recognition
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", r.ConfidenceThreshold)
	}
	if r.MinFaceSize < 0 || r.MinCropSize < 0 {
		return fmt.Errorf("face and crop sizes must not be negative")
	}
	if r.MinVariance >= r.MaxVariance {
		return fmt.Errorf("min_variance (%g) must be below max_variance (%g)", r.MinVariance, r.MaxVariance)
	}
	if r.Index != "linear" && r.Index != "hnsw" {
		return fmt.Errorf("invalid index: %s (must be linear or hnsw)", r.Index)
	}

	e := c.Enrollment
	if e.Duration <= 0 {
		return fmt.Errorf("enrollment duration must be positive, got %s", e.Duration)
	}
	if e.MinSamples <= 0 || e.MaxSamples < e.MinSamples {
		return fmt.Errorf("enrollment samples must satisfy 0 < min (%d) <= max (%d)", e.MinSamples, e.MaxSamples)
	}
	if e.Spacing < 0 {
		return fmt.Errorf("enrollment spacing must not be negative, got %s", e.Spacing)
	}

	if c.Device.Port != "" && c.Device.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate: %d", c.Device.BaudRate)
	}
	if c.Device.AckTimeout <= 0 {
		return fmt.Errorf("ack_timeout must be positive, got %s", c.Device.AckTimeout)
	}
	if c.Control.Interval <= 0 {
		return fmt.Errorf("control interval must be positive, got %s", c.Control.Interval)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the storage, model and log directories.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.FacesDir(), 0700); err != nil {
		return fmt.Errorf("failed to create faces directory: %w", err)
	}

	if err := os.MkdirAll(c.Recognition.ModelPath, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// FacesDir returns the identity store root.
func (c *Config) FacesDir() string {
	return filepath.Join(c.Storage.DataDir, "registered_faces")
}
