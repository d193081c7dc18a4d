package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/control"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/lock"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/recognition"
)

// bzip2 stream of "dlib model data"
var modelArchive = []byte{
	0x42, 0x5a, 0x68, 0x39, 0x31, 0x41, 0x59, 0x26, 0x53, 0x59, 0x9e, 0xb7, 0xf0, 0x03, 0x00, 0x00,
	0x03, 0x91, 0x80, 0x40, 0x00, 0x36, 0x26, 0x84, 0x00, 0x20, 0x00, 0x22, 0x98, 0x7a, 0x9a, 0x68,
	0x40, 0x0c, 0x32, 0x98, 0x86, 0xad, 0x6c, 0x8c, 0xe1, 0x77, 0x24, 0x53, 0x85, 0x09, 0x09, 0xeb,
	0x7f, 0x00, 0x30,
}

func TestFormatState(t *testing.T) {
	tests := []struct {
		name  string
		state control.State
		want  string
	}{
		{
			name:  "startup",
			state: control.State{Status: "Starting...", Camera: "remote"},
			want:  "[unknown] camera: remote (disconnected) | Starting...",
		},
		{
			name: "accepted",
			state: control.State{
				Lock: lock.Unlocked, LockKnown: true, Camera: "local", Connected: true,
				Box:    &recognition.Rectangle{X: 1, Y: 2, Width: 90, Height: 95},
				Status: "Welcome Person_1! (92.0%)",
			},
			want: "[unlocked] camera: local | face at 1,2 90x95 | Welcome Person_1! (92.0%)",
		},
		{
			name:  "registering",
			state: control.State{Lock: lock.Locked, LockKnown: true, Camera: "remote", Connected: true, Enrolling: true, Status: "Capturing... 3/10"},
			want:  "[locked] camera: remote | registering | Capturing... 3/10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatState(tt.state); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusPrinter_PrintsChangesOnly(t *testing.T) {
	var buf bytes.Buffer
	p := newStatusPrinter(&buf)

	s := control.State{Status: "Access denied (10.0%)", Camera: "local", Connected: true}
	p.Print(s)
	p.Print(s)
	s.Status = "Access denied (12.0%)"
	p.Print(s)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 lines, got %q", buf.String())
	}
}

func TestReadIntents(t *testing.T) {
	input := "e\n\nhello\ncount\nq\nr\n"
	var out bytes.Buffer
	var got []control.Intent

	readIntents(context.Background(), strings.NewReader(input), &out, func(in control.Intent) error {
		got = append(got, in)
		return nil
	})

	want := []control.Intent{control.IntentEnroll, control.IntentCount, control.IntentQuit}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("intent %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if !strings.Contains(out.String(), intentHelp) {
		t.Error("unknown input should print help")
	}
}

func TestReadIntents_SubmitErrorContinues(t *testing.T) {
	calls := 0
	readIntents(context.Background(), strings.NewReader("c\nc\n"), &bytes.Buffer{}, func(control.Intent) error {
		calls++
		return errors.New("queue full")
	})
	if calls != 2 {
		t.Errorf("expected 2 submissions, got %d", calls)
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if got := confirm(bufio.NewReader(strings.NewReader(tt.input)), &out, "Sure?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
		if !strings.Contains(out.String(), "Sure? [y/N]") {
			t.Errorf("prompt not shown: %q", out.String())
		}
	}
}

func TestDownloadModels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing.dat.bz2" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(modelArchive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.dat")
	if err := os.WriteFile(existing, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	models := []dlibModel{
		{Name: "existing.dat", URL: srv.URL + "/existing.dat.bz2"},
		{Name: "fresh.dat", URL: srv.URL + "/fresh.dat.bz2"},
	}
	if err := downloadModels(context.Background(), dir, models); err != nil {
		t.Fatalf("downloadModels failed: %v", err)
	}

	if hits.Load() != 1 {
		t.Errorf("expected one request, got %d", hits.Load())
	}
	data, err := os.ReadFile(filepath.Join(dir, "fresh.dat"))
	if err != nil || string(data) != "dlib model data" {
		t.Errorf("unexpected model content %q (%v)", data, err)
	}
	if data, _ := os.ReadFile(existing); string(data) != "keep" {
		t.Error("existing model must not be replaced")
	}

	err = downloadModels(context.Background(), dir, []dlibModel{{Name: "missing.dat", URL: srv.URL + "/missing.dat.bz2"}})
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if _, statErr := os.Stat(filepath.Join(dir, "missing.dat")); !os.IsNotExist(statErr) {
		t.Error("failed download must not leave a model file")
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, ".*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}
