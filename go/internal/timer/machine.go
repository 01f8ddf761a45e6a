package timer

import (
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Status is the externally visible state of a countdown.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusRunning       Status = "running"
	StatusPaused        Status = "paused"
	StatusStageComplete Status = "stage-complete"
	StatusFinished      Status = "finished"
)

// Event describes what a Tick did.
type Event int

const (
	EventNone Event = iota
	EventTicked
	EventStageAdvanced
	EventFinished
)

// DefaultAdjustStep is the size of the +/- time adjustment in seconds.
const DefaultAdjustStep = 30

// Config holds presentation settings for a Machine.
type Config struct {
	DefaultColor string
	AdjustStep   int
}

// Snapshot is a complete timer state as exchanged between windows.
type Snapshot struct {
	CurrentTimeLeft   int     `json:"currentTimeLeft"`
	IsRunning         bool    `json:"isRunning"`
	CurrentStageIndex int     `json:"currentStageIndex"`
	HasStarted        bool    `json:"hasStarted"`
	Finished          bool    `json:"finished,omitempty"`
	Stages            []Stage `json:"stages,omitempty"`
}

// Status derives the machine state a snapshot was taken in.
func (s Snapshot) Status() Status {
	return statusOf(s.Finished, s.IsRunning, s.HasStarted)
}

// CachedValues are the raw strings a window mirrors into shared storage.
type CachedValues struct {
	TimeLeft   string
	StageIndex string
	IsRunning  string
	HasStarted string
}

// Machine is a single window's countdown through an ordered list of stages.
// It is safe for concurrent use.
type Machine struct {
	mu        sync.Mutex
	cfg       Config
	stages    []Stage
	index     int
	remaining int
	running   bool
	started   bool
	finished  bool
}

// NewMachine creates an idle machine positioned on the first stage.
func NewMachine(stages []Stage, cfg Config) *Machine {
	if cfg.DefaultColor == "" {
		cfg.DefaultColor = DefaultBackground
	}
	if cfg.AdjustStep <= 0 {
		cfg.AdjustStep = DefaultAdjustStep
	}
	m := &Machine{cfg: cfg, stages: cloneStages(stages)}
	m.remaining = m.stageDuration(0)
	return m
}

func (m *Machine) stageDuration(i int) int {
	if i < 0 || i >= len(m.stages) {
		return 0
	}
	return m.stages[i].DurationSec
}

// Status reports the current state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status()
}

func (m *Machine) status() Status {
	return statusOf(m.finished, m.running, m.started)
}

func statusOf(finished, running, started bool) Status {
	switch {
	case finished:
		return StatusFinished
	case running:
		return StatusRunning
	case started:
		return StatusPaused
	default:
		return StatusIdle
	}
}

// Tick applies one elapsed second. At zero the machine moves to the next
// stage at its full duration and keeps running, or finishes after the last.
func (m *Machine) Tick() Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.finished {
		return EventNone
	}
	if m.remaining > 1 {
		m.remaining--
		return EventTicked
	}

	m.remaining = 0
	if m.index < len(m.stages)-1 {
		m.index++
		m.remaining = m.stageDuration(m.index)
		return EventStageAdvanced
	}
	m.running = false
	m.finished = true
	return EventFinished
}

// Toggle is the short click on the play/pause control. The first use starts
// the countdown, at the full stage duration if nothing is left on the clock.
func (m *Machine) Toggle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished || len(m.stages) == 0 {
		return false
	}
	if !m.started {
		m.start()
		return true
	}
	m.running = !m.running
	return true
}

// Start begins or resumes the countdown.
func (m *Machine) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finished || len(m.stages) == 0 || m.running {
		return false
	}
	if !m.started {
		m.start()
		return true
	}
	m.running = true
	return true
}

func (m *Machine) start() {
	if m.remaining <= 0 {
		m.remaining = m.stageDuration(m.index)
	}
	m.started = true
	m.running = true
}

// Pause stops the countdown without changing the remaining time.
func (m *Machine) Pause() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return false
	}
	m.running = false
	return true
}

// Reset is the long press: remaining time goes to zero and the countdown
// counts as never started.
func (m *Machine) Reset() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := m.remaining != 0 || m.started || m.running || m.finished
	m.remaining = 0
	m.started = false
	m.running = false
	m.finished = false
	return changed
}

// Next moves to the following stage, paused at its full duration. It is a
// no-op on the last stage.
func (m *Machine) Next() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index >= len(m.stages)-1 {
		return false
	}
	m.goTo(m.index + 1)
	return true
}

// Previous moves to the preceding stage, paused at its full duration. It is
// a no-op on the first stage.
func (m *Machine) Previous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index <= 0 || len(m.stages) == 0 {
		return false
	}
	m.goTo(m.index - 1)
	return true
}

func (m *Machine) goTo(i int) {
	m.index = i
	m.remaining = m.stageDuration(i)
	m.running = false
	m.started = true
	m.finished = false
}

// Adjust changes the remaining time by delta seconds. While running the
// delta is applied as is; otherwise the value snaps to the next multiple of
// the step above (delta > 0) or below (delta < 0). Never goes below zero.
func (m *Machine) Adjust(delta int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if delta == 0 || len(m.stages) == 0 {
		return false
	}
	before := m.remaining

	if m.running {
		m.remaining += delta
	} else {
		step := delta
		if step < 0 {
			step = -step
		}
		if delta > 0 {
			m.remaining = (m.remaining/step + 1) * step
		} else if m.remaining > 0 {
			m.remaining = ((m.remaining - 1) / step) * step
		}
	}
	if m.remaining < 0 {
		m.remaining = 0
	}

	if m.finished && m.remaining > 0 {
		m.finished = false
		m.started = true
	}
	return m.remaining != before
}

// AdjustUp and AdjustDown apply the configured step.
func (m *Machine) AdjustUp() bool   { return m.Adjust(m.cfg.AdjustStep) }
func (m *Machine) AdjustDown() bool { return m.Adjust(-m.cfg.AdjustStep) }

// SetStages replaces the stage list, keeping the position when it still exists.
func (m *Machine) SetStages(stages []Stage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stages = cloneStages(stages)
	if m.index >= len(m.stages) {
		m.index = len(m.stages) - 1
	}
	if m.index < 0 {
		m.index = 0
	}
	if !m.started {
		m.remaining = m.stageDuration(m.index)
	}
}

// Remaining returns the seconds left in the current stage.
func (m *Machine) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining
}

// StageIndex returns the zero-based index of the current stage.
func (m *Machine) StageIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Background returns the color for the current stage and elapsed time.
func (m *Machine) Background() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index >= len(m.stages) {
		return m.cfg.DefaultColor
	}
	stage := m.stages[m.index]
	if !m.started {
		return stage.ColorAt(0, stage.DurationSec, m.cfg.DefaultColor)
	}
	elapsed := stage.DurationSec - m.remaining
	if elapsed < 0 {
		elapsed = 0
	}
	return stage.ColorAt(elapsed, m.remaining, m.cfg.DefaultColor)
}

// Snapshot captures the full state including the stage list.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		CurrentTimeLeft:   m.remaining,
		IsRunning:         m.running,
		CurrentStageIndex: m.index,
		HasStarted:        m.started,
		Finished:          m.finished,
		Stages:            cloneStages(m.stages),
	}
}

// Apply overwrites local state with a snapshot from another window and
// reports whether anything changed. Applying the same snapshot twice is a
// no-op the second time.
func (m *Machine) Apply(s Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	if len(s.Stages) > 0 && !sameStages(m.stages, s.Stages) {
		m.stages = cloneStages(s.Stages)
		changed = true
	}

	index := s.CurrentStageIndex
	if index >= len(m.stages) {
		index = len(m.stages) - 1
	}
	if index < 0 {
		index = 0
	}
	remaining := s.CurrentTimeLeft
	if remaining < 0 {
		remaining = 0
	}

	if m.index != index || m.remaining != remaining || m.running != s.IsRunning ||
		m.started != s.HasStarted || m.finished != s.Finished {
		changed = true
	}
	m.index = index
	m.remaining = remaining
	m.running = s.IsRunning
	m.started = s.HasStarted
	m.finished = s.Finished
	return changed
}

// Cache returns the values a window mirrors into shared storage.
func (m *Machine) Cache() CachedValues {
	m.mu.Lock()
	defer m.mu.Unlock()

	return CachedValues{
		TimeLeft:   strconv.Itoa(m.remaining),
		StageIndex: strconv.Itoa(m.index),
		IsRunning:  strconv.FormatBool(m.running),
		HasStarted: strconv.FormatBool(m.started),
	}
}

// Restore loads cached values. A malformed remaining time falls back to the
// current stage's full duration.
func (m *Machine) Restore(v CachedValues) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, err := strconv.Atoi(strings.TrimSpace(v.StageIndex)); err == nil && idx >= 0 && idx < len(m.stages) {
		m.index = idx
	} else if v.StageIndex != "" {
		log.Warn().Str("cached", v.StageIndex).Msg("ignoring malformed cached stage index")
	}

	duration := m.stageDuration(m.index)
	left, err := strconv.Atoi(strings.TrimSpace(v.TimeLeft))
	switch {
	case v.TimeLeft == "":
		m.remaining = duration
	case err != nil || left < 0:
		log.Warn().
			Str("cached", v.TimeLeft).
			Int("stage_index", m.index).
			Int("duration_sec", duration).
			Msg("malformed cached remaining time, using stage duration")
		m.remaining = duration
	default:
		m.remaining = left
	}

	m.started, _ = strconv.ParseBool(v.HasStarted)
	m.running, _ = strconv.ParseBool(v.IsRunning)
	if m.running {
		m.started = true
	}
	m.finished = false
}

func cloneStages(in []Stage) []Stage {
	if in == nil {
		return nil
	}
	out := make([]Stage, len(in))
	copy(out, in)
	return out
}

func sameStages(a, b []Stage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Title != b[i].Title || a[i].DurationSec != b[i].DurationSec ||
			a[i].AlertColor != b[i].AlertColor || a[i].AlertLeadSec != b[i].AlertLeadSec ||
			len(a[i].Colors) != len(b[i].Colors) {
			return false
		}
		for j := range a[i].Colors {
			if a[i].Colors[j] != b[i].Colors[j] {
				return false
			}
		}
	}
	return true
}
