package windowsync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// RelayHooks receives a joined room's inbound messages and link changes.
// Lost and Restored may be nil.
type RelayHooks struct {
	Deliver func(Message)
	// Lost is called when the link drops after a successful Join.
	Lost func(error)
	// Restored is called when a relay that reconnects by itself has the room
	// subscription live again.
	Restored func()
}

// Relay is a room-scoped pub/sub link used between devices.
type Relay interface {
	Name() string
	Join(ctx context.Context, room string, hooks RelayHooks) error
	Publish(ctx context.Context, msg Message) error
	// Leave drops the room subscription; Join may be called again after.
	Leave() error
	Close() error
}

// Command actions used for protocol messages that are not control actions.
const (
	actionSyncRequest = "sync-request"
	actionPing        = "ping"
	actionPong        = "pong"
)

// toFrame maps a sync message onto one of the two room channels.
func toFrame(msg Message) (events.Frame, error) {
	p, err := Decode(msg)
	if err != nil {
		return events.Frame{}, err
	}

	if snap, ok := SnapshotOf(p); ok {
		return events.NewFrame(events.KindTimerState, msg.DirectoryID, events.TimerStateEnvelope{
			CurrentTimeLeft:   snap.CurrentTimeLeft,
			IsRunning:         snap.IsRunning,
			CurrentStageIndex: snap.CurrentStageIndex,
			HasStarted:        snap.HasStarted,
			Finished:          snap.Finished,
			Stages:            snap.Stages,
			Timestamp:         msg.Timestamp,
			Source:            msg.Source,
			DirectoryID:       msg.DirectoryID,
			WindowID:          msg.WindowID,
			Seq:               msg.Seq,
		})
	}

	cmd := events.CommandEnvelope{
		Timestamp:   msg.Timestamp,
		Source:      msg.Source,
		DirectoryID: msg.DirectoryID,
		WindowID:    msg.WindowID,
		Seq:         msg.Seq,
	}
	switch v := p.(type) {
	case Control:
		cmd.Action = string(v.Action)
		if v.Action == ActionAdjust {
			cmd.Data, _ = json.Marshal(struct {
				Delta int `json:"delta"`
			}{v.Delta})
		}
	case SyncRequest:
		cmd.Action = actionSyncRequest
		cmd.Data = msg.Data
	case Ping:
		cmd.Action = actionPing
		cmd.Data = msg.Data
	case Pong:
		cmd.Action = actionPong
		cmd.Data = msg.Data
	default:
		return events.Frame{}, fmt.Errorf("no relay mapping for %s", msg.Type)
	}
	return events.NewFrame(events.KindCommand, msg.DirectoryID, cmd)
}

// fromFrame maps an inbound relay frame back to a sync message. Unknown
// command actions report ok=false and are dropped.
func fromFrame(f events.Frame) (Message, bool, error) {
	switch f.Event {
	case events.KindTimerState:
		env, err := f.TimerState()
		if err != nil {
			return Message{}, false, err
		}
		data, err := json.Marshal(Tick{Snapshot: env.Snapshot()})
		if err != nil {
			return Message{}, false, err
		}
		return Message{
			Type:        TypeTick,
			Data:        data,
			Timestamp:   env.Timestamp,
			Source:      env.Source,
			DirectoryID: env.DirectoryID,
			WindowID:    env.WindowID,
			Seq:         env.Seq,
		}, true, nil

	case events.KindCommand:
		env, err := f.Command()
		if err != nil {
			return Message{}, false, err
		}
		msg := Message{
			Timestamp:   env.Timestamp,
			Source:      env.Source,
			DirectoryID: env.DirectoryID,
			WindowID:    env.WindowID,
			Seq:         env.Seq,
		}
		switch env.Action {
		case actionSyncRequest:
			msg.Type, msg.Data = TypeSyncRequest, env.Data
		case actionPing:
			msg.Type, msg.Data = TypePing, env.Data
		case actionPong:
			msg.Type, msg.Data = TypePong, env.Data
		default:
			c := Control{Action: Action(env.Action)}
			if len(env.Data) > 0 {
				var d struct {
					Delta int `json:"delta"`
				}
				if err := json.Unmarshal(env.Data, &d); err == nil {
					c.Delta = d.Delta
				}
			}
			if c.Validate() != nil {
				return Message{}, false, nil
			}
			msg.Type = TypeControl
			msg.Data, _ = json.Marshal(c)
		}
		return msg, true, nil

	default:
		return Message{}, false, nil
	}
}
