package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func captureLogger(level logrus.Level) *bytes.Buffer {
	var buf bytes.Buffer
	Logger = logrus.New()
	Logger.SetOutput(&buf)
	Logger.SetLevel(level)
	Logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return &buf
}

func TestInit(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected logrus.Level
	}{
		{"debug level", "debug", logrus.DebugLevel},
		{"info level", "info", logrus.InfoLevel},
		{"warn level", "warn", logrus.WarnLevel},
		{"error level", "error", logrus.ErrorLevel},
		{"unknown level defaults to info", "loud", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Logger = logrus.New()
			if err := Init(tt.level, "", "text"); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if Logger.GetLevel() != tt.expected {
				t.Errorf("expected level %v, got %v", tt.expected, Logger.GetLevel())
			}
		})
	}
}

func TestInit_WithNestedLogFile(t *testing.T) {
	Logger = logrus.New()
	logFile := filepath.Join(t.TempDir(), "subdir", "nested", "facelock.log")

	if err := Init("info", logFile, "text"); err != nil {
		t.Fatalf("Init with log file failed: %v", err)
	}
	defer Close()

	Infof("door %s", "locked")

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}
	if !strings.Contains(string(data), "door locked") {
		t.Errorf("log file missing message, got %q", string(data))
	}
}

func TestInit_JSONFormat(t *testing.T) {
	Logger = logrus.New()
	if err := Init("info", "", "json"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	var buf bytes.Buffer
	Logger.SetOutput(&buf)

	Component("device").Info("ack")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["component"] != "device" {
		t.Errorf("expected component=device, got %v", entry["component"])
	}
	if entry["msg"] != "ack" {
		t.Errorf("expected msg=ack, got %v", entry["msg"])
	}
}

func TestFormattedHelpers(t *testing.T) {
	buf := captureLogger(logrus.DebugLevel)

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{"debugf", func() { Debugf("debug %s", "formatted") }, "debug formatted"},
		{"infof", func() { Infof("info %d", 42) }, "info 42"},
		{"warnf", func() { Warnf("warn %s", "test") }, "warn test"},
		{"errorf", func() { Errorf("error %s", "occurred") }, "error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in output, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestWithFieldsAndError(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	WithFields(Fields{"identity": "Person_1", "score": 0.87}).Info("match")
	WithError(&testError{msg: "port closed"}).Error("send failed")

	output := buf.String()
	for _, want := range []string{"identity=Person_1", "score=0.87", "port closed", "send failed"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output %q", want, output)
		}
	}
}

func TestComponent(t *testing.T) {
	buf := captureLogger(logrus.InfoLevel)

	Component("storage").Info("initialized")

	output := buf.String()
	if !strings.Contains(output, "component=storage") {
		t.Error("component field not in output")
	}
}

func TestLogLevel_Filtering(t *testing.T) {
	buf := captureLogger(logrus.ErrorLevel)

	Debugf("debug")
	Infof("info")
	Warnf("warn")
	if buf.Len() > 0 {
		t.Errorf("nothing below error should be logged, got %q", buf.String())
	}

	Errorf("error")
	if buf.Len() == 0 {
		t.Error("Error should be logged at Error level")
	}
}

type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
