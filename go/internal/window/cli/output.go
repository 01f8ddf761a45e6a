package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/directorio/directorio/go/internal/timer"
	"github.com/directorio/directorio/go/internal/windowsync"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

// Clock formats seconds as mm:ss, or h:mm:ss past an hour.
func Clock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h, m, s := sec/3600, sec/60%60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Line renders one status line for a snapshot.
func Line(snap timer.Snapshot, status timer.Status, background string, primary bool) string {
	role := "follower"
	if primary {
		role = "primary"
	}
	if snap.CurrentStageIndex < 0 || snap.CurrentStageIndex >= len(snap.Stages) {
		return fmt.Sprintf("[%s] no stages  %s", role, status)
	}
	title := snap.Stages[snap.CurrentStageIndex].Title
	return fmt.Sprintf("[%s] %d/%d %s  %s  %s  %s",
		role, snap.CurrentStageIndex+1, len(snap.Stages), title,
		Clock(snap.CurrentTimeLeft), status, background)
}

func (f *Formatter) Timer(line string) {
	fmt.Fprintf(f.w, "\r\033[K%s", line)
}

func (f *Formatter) Connection(st windowsync.ConnectionState) {
	var parts []string
	switch {
	case st.Connected:
		parts = append(parts, "connected")
	case st.Connecting:
		parts = append(parts, "connecting")
	default:
		parts = append(parts, "offline")
	}
	if st.Transport != "" {
		parts = append(parts, "via "+st.Transport)
	}
	if st.Relay != "" {
		parts = append(parts, "relay "+st.Relay)
	}
	if st.Latency > 0 {
		parts = append(parts, "latency "+st.Latency.String())
	}
	if st.LastError != nil {
		parts = append(parts, "error: "+st.LastError.Error())
	}
	fmt.Fprintf(f.w, "\n🔌 %s\n", strings.Join(parts, ", "))
}

func (f *Formatter) Events(entries []windowsync.LogEntry) {
	for _, e := range entries {
		fmt.Fprintf(f.w, "  %s %-10s %s\n", e.At.Format("15:04:05.000"), e.Kind, e.Detail)
	}
}

func (f *Formatter) Help() {
	fmt.Fprint(f.w, `commands:
  <enter>, t   start / pause / resume
  r            reset (same as a long press)
  n, p         next / previous stage
  +, -         adjust by the configured step
  +N, -N       adjust by N seconds
  s            connection status and recent events
  c            reconnect transport and relay
  q            quit
`)
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}
