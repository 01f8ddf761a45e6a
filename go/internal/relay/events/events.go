// Package events holds the wire shapes exchanged with the room relay. Both
// the relay service and its clients import it.
package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/directorio/directorio/go/internal/timer"
)

// Kind names one of the two payload channels of a room.
type Kind string

const (
	KindCommand    Kind = "command"
	KindTimerState Kind = "timer-state"
)

const (
	StreamName    = "DIRECTORIO_ROOMS"
	subjectPrefix = "directorio.rooms."
	SubjectFilter = subjectPrefix + ">"
)

// CommandEnvelope carries a control action or a protocol command.
// Receivers ignore actions they do not know.
type CommandEnvelope struct {
	Action      string          `json:"action"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Source      string          `json:"source"`
	DirectoryID string          `json:"directoryId,omitempty"`
	WindowID    string          `json:"windowId,omitempty"`
	Seq         uint64          `json:"seq,omitempty"`
}

// TimerStateEnvelope is a full countdown snapshot.
type TimerStateEnvelope struct {
	CurrentTimeLeft   int           `json:"currentTimeLeft"`
	IsRunning         bool          `json:"isRunning"`
	CurrentStageIndex int           `json:"currentStageIndex"`
	HasStarted        bool          `json:"hasStarted,omitempty"`
	Finished          bool          `json:"finished,omitempty"`
	Stages            []timer.Stage `json:"stages"`
	Timestamp         int64         `json:"timestamp"`
	Source            string        `json:"source,omitempty"`
	DirectoryID       string        `json:"directoryId,omitempty"`
	WindowID          string        `json:"windowId,omitempty"`
	Seq               uint64        `json:"seq,omitempty"`
}

// Snapshot converts the envelope to a timer snapshot.
func (e TimerStateEnvelope) Snapshot() timer.Snapshot {
	return timer.Snapshot{
		CurrentTimeLeft:   e.CurrentTimeLeft,
		IsRunning:         e.IsRunning,
		CurrentStageIndex: e.CurrentStageIndex,
		HasStarted:        e.HasStarted,
		Finished:          e.Finished,
		Stages:            e.Stages,
	}
}

// Frame is what travels over the relay websocket and NATS subjects.
// Origin is filled in by the relay and identifies the publishing connection.
type Frame struct {
	Event  Kind            `json:"event"`
	Room   string          `json:"room,omitempty"`
	Origin string          `json:"origin,omitempty"`
	Data   json.RawMessage `json:"data"`
}

// NewFrame marshals payload into a frame of the given kind.
func NewFrame(kind Kind, room string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Frame{Event: kind, Room: room, Data: data}, nil
}

// Command decodes a command frame.
func (f Frame) Command() (CommandEnvelope, error) {
	var env CommandEnvelope
	if f.Event != KindCommand {
		return env, fmt.Errorf("frame is %q, not a command", f.Event)
	}
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return env, fmt.Errorf("unmarshal command: %w", err)
	}
	return env, nil
}

// TimerState decodes a timer-state frame.
func (f Frame) TimerState() (TimerStateEnvelope, error) {
	var env TimerStateEnvelope
	if f.Event != KindTimerState {
		return env, fmt.Errorf("frame is %q, not a timer state", f.Event)
	}
	if err := json.Unmarshal(f.Data, &env); err != nil {
		return env, fmt.Errorf("unmarshal timer state: %w", err)
	}
	return env, nil
}

// Valid reports whether the frame kind is one the relay forwards.
func (f Frame) Valid() bool {
	return (f.Event == KindCommand || f.Event == KindTimerState) && len(f.Data) > 0
}

// SanitizeRoom maps a room id onto the characters allowed in a subject token.
func SanitizeRoom(room string) string {
	room = strings.TrimSpace(room)
	if room == "" {
		return "default"
	}
	var b strings.Builder
	for _, r := range room {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Subject returns the NATS subject for a room channel.
func Subject(room string, kind Kind) string {
	return subjectPrefix + SanitizeRoom(room) + "." + string(kind)
}

// RoomSubjects matches both channels of one room.
func RoomSubjects(room string) string {
	return subjectPrefix + SanitizeRoom(room) + ".*"
}

// ParseSubject splits a subject produced by Subject.
func ParseSubject(subject string) (room string, kind Kind, ok bool) {
	rest, found := strings.CutPrefix(subject, subjectPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '.')
	if i <= 0 {
		return "", "", false
	}
	kind = Kind(rest[i+1:])
	if kind != KindCommand && kind != KindTimerState {
		return "", "", false
	}
	return rest[:i], kind, true
}
