package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/relay/events"
)

// RoomState is the last timer-state frame seen in a room
type RoomState struct {
	Room      string                    `json:"room"`
	State     events.TimerStateEnvelope `json:"state"`
	UpdatedAt time.Time                 `json:"updated_at"`
	frame     events.Frame
}

// RoomSummary is the listing shape for GET /api/rooms
type RoomSummary struct {
	Room        string    `json:"room"`
	IsRunning   bool      `json:"is_running"`
	StageIndex  int       `json:"current_stage_index"`
	TimeLeftSec int       `json:"current_time_left"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoomStateCache keeps the most recent timer state of every room so a late
// joiner can catch up without waiting for the next tick
type RoomStateCache struct {
	mu    sync.RWMutex
	rooms map[string]*RoomState
	now   func() time.Time
}

// NewRoomStateCache creates an empty cache
func NewRoomStateCache() *RoomStateCache {
	return &RoomStateCache{
		rooms: make(map[string]*RoomState),
		now:   time.Now,
	}
}

// Observe records frame when it is a timer-state frame. Command frames are
// ignored.
func (c *RoomStateCache) Observe(frame events.Frame) {
	if frame.Event != events.KindTimerState {
		return
	}
	env, err := frame.TimerState()
	if err != nil {
		log.Debug().Err(err).Str("room", frame.Room).Msg("ignoring undecodable timer state")
		return
	}

	room := events.SanitizeRoom(frame.Room)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = &RoomState{
		Room:      room,
		State:     env,
		UpdatedAt: c.now(),
		frame:     frame,
	}
}

// Get returns the cached state of room
func (c *RoomStateCache) Get(room string) (RoomState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.rooms[events.SanitizeRoom(room)]
	if !ok {
		return RoomState{}, false
	}
	return *st, true
}

// Frame returns the cached frame of room with its origin cleared, ready to
// replay to a new connection
func (c *RoomStateCache) Frame(room string) (events.Frame, bool) {
	st, ok := c.Get(room)
	if !ok {
		return events.Frame{}, false
	}
	f := st.frame
	f.Origin = ""
	return f, true
}

// List returns a summary of every cached room, sorted by room
func (c *RoomStateCache) List() []RoomSummary {
	c.mu.RLock()
	out := make([]RoomSummary, 0, len(c.rooms))
	for _, st := range c.rooms {
		out = append(out, RoomSummary{
			Room:        st.Room,
			IsRunning:   st.State.IsRunning,
			StageIndex:  st.State.CurrentStageIndex,
			TimeLeftSec: st.State.CurrentTimeLeft,
			UpdatedAt:   st.UpdatedAt,
		})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out
}

// Evict drops rooms not updated since before
func (c *RoomStateCache) Evict(before time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for room, st := range c.rooms {
		if st.UpdatedAt.Before(before) {
			delete(c.rooms, room)
			n++
		}
	}
	return n
}
