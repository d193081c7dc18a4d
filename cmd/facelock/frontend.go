package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/control"
	"github.com/5h4kun1/esp32-face-recognition-lock/pkg/logging"
)

const intentHelp = "commands: e(nroll), c(ount), r(eset), q(uit)"

// formatState renders the single status line of the terminal front end.
func formatState(s control.State) string {
	lockState := "unknown"
	if s.LockKnown {
		lockState = s.Lock.String()
	}

	camera := s.Camera
	if !s.Connected {
		camera += " (disconnected)"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] camera: %s", lockState, camera)
	if s.Enrolling {
		b.WriteString(" | registering")
	}
	if s.Box != nil {
		fmt.Fprintf(&b, " | face at %d,%d %dx%d", s.Box.X, s.Box.Y, s.Box.Width, s.Box.Height)
	}
	fmt.Fprintf(&b, " | %s", s.Status)
	return b.String()
}

// statusPrinter writes a line whenever the rendered state changes.
type statusPrinter struct {
	w io.Writer

	mu   sync.Mutex
	last string
}

func newStatusPrinter(w io.Writer) *statusPrinter {
	return &statusPrinter{w: w}
}

func (p *statusPrinter) Print(s control.State) {
	line := formatState(s)

	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.w, line)
}

// readIntents forwards operator commands from r until ctx is done, r is
// exhausted or a quit is submitted.
func readIntents(ctx context.Context, r io.Reader, w io.Writer, submit func(control.Intent) error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		in, ok := control.ParseIntent(line)
		if !ok {
			fmt.Fprintln(w, intentHelp)
			continue
		}
		if err := submit(in); err != nil {
			logging.WithError(err).Warn("intent dropped")
			continue
		}
		if in == control.IntentQuit {
			return
		}
	}
}
