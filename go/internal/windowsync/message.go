package windowsync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/directorio/directorio/go/internal/timer"
)

// SourceTag marks messages produced by this application on shared channels.
const SourceTag = "directorio-timer"

var (
	ErrUnknownType   = errors.New("unknown message type")
	ErrUnknownAction = errors.New("unknown control action")
)

// MessageType is the kind of a sync message.
type MessageType string

const (
	TypeInit         MessageType = "INIT"
	TypeTick         MessageType = "TICK"
	TypeControl      MessageType = "CONTROL"
	TypeSyncRequest  MessageType = "SYNC_REQUEST"
	TypeSyncResponse MessageType = "SYNC_RESPONSE"
	TypePing         MessageType = "PING"
	TypePong         MessageType = "PONG"
)

// Message is the envelope exchanged between windows. Timestamp is the sender
// clock in milliseconds since the epoch. Seq increases per sender.
type Message struct {
	Type        MessageType     `json:"type"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Source      string          `json:"source"`
	DirectoryID string          `json:"directoryId,omitempty"`
	WindowID    string          `json:"windowId"`
	Seq         uint64          `json:"seq"`
}

// Payload is implemented by every message body.
type Payload interface {
	MessageType() MessageType
}

// Init announces a window's state when it comes up.
type Init struct {
	timer.Snapshot
}

// Tick is the authoritative snapshot sent every second and on every change.
type Tick struct {
	timer.Snapshot
}

// SyncRequest asks the authoritative window for its current snapshot.
type SyncRequest struct {
	RequestID string `json:"requestId"`
}

// SyncResponse answers a SyncRequest.
type SyncResponse struct {
	timer.Snapshot
	RequestID string `json:"requestId,omitempty"`
}

// Ping carries its send time so the pinger can estimate latency.
type Ping struct {
	ID     string `json:"id"`
	SentAt int64  `json:"sentAt"`
}

// Pong echoes a ping back to the window that sent it.
type Pong struct {
	ID     string `json:"id"`
	SentAt int64  `json:"sentAt"`
	To     string `json:"to"`
}

// Action is a remote control command.
type Action string

const (
	ActionToggle   Action = "toggle"
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionReset    Action = "reset"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionAdjust   Action = "adjust"
)

// Control asks the authoritative window to perform an action. Delta is only
// used by ActionAdjust.
type Control struct {
	Action Action `json:"action"`
	Delta  int    `json:"delta,omitempty"`
}

// Validate rejects actions this build does not know.
func (c Control) Validate() error {
	switch c.Action {
	case ActionToggle, ActionStart, ActionPause, ActionReset, ActionNext, ActionPrevious:
		return nil
	case ActionAdjust:
		if c.Delta == 0 {
			return fmt.Errorf("adjust without delta: %w", ErrUnknownAction)
		}
		return nil
	default:
		return fmt.Errorf("%q: %w", c.Action, ErrUnknownAction)
	}
}

func (Init) MessageType() MessageType         { return TypeInit }
func (Tick) MessageType() MessageType         { return TypeTick }
func (Control) MessageType() MessageType      { return TypeControl }
func (SyncRequest) MessageType() MessageType  { return TypeSyncRequest }
func (SyncResponse) MessageType() MessageType { return TypeSyncResponse }
func (Ping) MessageType() MessageType         { return TypePing }
func (Pong) MessageType() MessageType         { return TypePong }

// Decode returns the typed payload of a message.
func Decode(msg Message) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch msg.Type {
	case TypeInit:
		var v Init
		err = unmarshalData(msg, &v)
		p = v
	case TypeTick:
		var v Tick
		err = unmarshalData(msg, &v)
		p = v
	case TypeControl:
		var v Control
		if err = unmarshalData(msg, &v); err == nil {
			err = v.Validate()
		}
		p = v
	case TypeSyncRequest:
		var v SyncRequest
		err = unmarshalData(msg, &v)
		p = v
	case TypeSyncResponse:
		var v SyncResponse
		err = unmarshalData(msg, &v)
		p = v
	case TypePing:
		var v Ping
		err = unmarshalData(msg, &v)
		p = v
	case TypePong:
		var v Pong
		err = unmarshalData(msg, &v)
		p = v
	default:
		return nil, fmt.Errorf("%q: %w", msg.Type, ErrUnknownType)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func unmarshalData(msg Message, v any) error {
	if len(msg.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return nil
}

// SnapshotOf extracts the timer snapshot carried by INIT, TICK and
// SYNC_RESPONSE payloads.
func SnapshotOf(p Payload) (timer.Snapshot, bool) {
	switch v := p.(type) {
	case Init:
		return v.Snapshot, true
	case Tick:
		return v.Snapshot, true
	case SyncResponse:
		return v.Snapshot, true
	default:
		return timer.Snapshot{}, false
	}
}
