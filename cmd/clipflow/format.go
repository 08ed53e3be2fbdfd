package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/clipflow/clipflow/internal/backend"
)

const placeholder = "-"

func formatBytes(n int64) string {
	if n < 0 {
		return placeholder
	}
	return humanize.Bytes(uint64(n))
}

func formatOptionalBytes(n *int64) string {
	if n == nil {
		return placeholder
	}
	return formatBytes(*n)
}

// formatSeconds renders a clip duration as 1h02m03s, 2m05s or 4.5s.
func formatSeconds(seconds *float64) string {
	if seconds == nil || math.IsNaN(*seconds) || *seconds < 0 {
		return placeholder
	}
	if *seconds < 60 {
		return fmt.Sprintf("%.1fs", *seconds)
	}
	d := time.Duration(math.Round(*seconds)) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

func formatResolution(c backend.Clip) string {
	if c.Width == nil || c.Height == nil {
		return placeholder
	}
	return fmt.Sprintf("%dx%d", *c.Width, *c.Height)
}

func formatFPS(fps *float64) string {
	if fps == nil {
		return placeholder
	}
	return fmt.Sprintf("%.2f", *fps)
}

func formatAudio(hasAudio *bool) string {
	if hasAudio == nil {
		return placeholder
	}
	return yesNo(*hasAudio)
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return placeholder
	}
	return humanize.Time(t)
}

// unixSeconds converts the backend's float modification time.
func unixSeconds(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// statusLine prints progress lines. On a terminal it rewrites one line in
// place; otherwise it prints each distinct line once.
type statusLine struct {
	mu   sync.Mutex
	w    io.Writer
	live bool
	last string
}

func newStatusLine(w io.Writer) *statusLine {
	return &statusLine{w: w, live: isTerminal(w)}
}

func (s *statusLine) update(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if line == "" || line == s.last {
		return
	}
	s.last = line
	if s.live {
		fmt.Fprintf(s.w, "\r\033[K%s", line)
		return
	}
	fmt.Fprintln(s.w, line)
}

func (s *statusLine) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live && s.last != "" {
		fmt.Fprintln(s.w)
	}
	s.last = ""
}
