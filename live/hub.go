package live

import (
	"encoding/json"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mrsingh-rishi/voice-relay/types"
)

// Viewer is a read-only subscriber to a recording's transcript stream.
// Implementations must be comparable (pointer receivers).
type Viewer interface {
	Send(data []byte) error
}

// room holds everything the hub tracks for one recording. Its mutex orders
// appends, broadcasts and joins for that recording.
type room struct {
	mu      sync.Mutex
	events  []types.TranscriptEvent
	viewers map[Viewer]struct{}
	active  bool
	gone    bool
}

func (r *room) idle() bool {
	return !r.active && len(r.viewers) == 0
}

// Hub is the process-wide registry of live recordings: the active set, the
// transcript log for late joiners and the viewer sets.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]*room
	logger *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]*room),
		logger: logger,
	}
}

// lock returns the locked room for id, creating it if needed.
func (h *Hub) lock(id string) *room {
	for {
		h.mu.Lock()
		r, ok := h.rooms[id]
		if !ok {
			r = &room{viewers: make(map[Viewer]struct{})}
			h.rooms[id] = r
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.gone {
			return r
		}
		r.mu.Unlock()
	}
}

// lookup returns the locked room for id, or nil if there is none.
func (h *Hub) lookup(id string) *room {
	h.mu.Lock()
	r, ok := h.rooms[id]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return nil
	}
	return r
}

// drop removes a locked, idle room. The caller still unlocks it.
func (h *Hub) drop(id string, r *room) {
	r.gone = true
	h.mu.Lock()
	if h.rooms[id] == r {
		delete(h.rooms, id)
	}
	h.mu.Unlock()
}

// Activate marks a recording as being produced live.
func (h *Hub) Activate(id string) {
	r := h.lock(id)
	r.active = true
	r.mu.Unlock()
}

// Release marks a recording as no longer live. The transcript log is kept
// while viewers remain and dropped with the last of them.
func (h *Hub) Release(id string) {
	r := h.lookup(id)
	if r == nil {
		return
	}
	defer r.mu.Unlock()
	r.active = false
	if r.idle() {
		h.drop(id, r)
	}
}

// IsLive reports whether id is in the active-recording set.
func (h *Hub) IsLive(id string) bool {
	r := h.lookup(id)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()
	return r.active
}

// ActiveCount returns the size of the active-recording set.
func (h *Hub) ActiveCount() int {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	n := 0
	for _, r := range rooms {
		r.mu.Lock()
		if r.active && !r.gone {
			n++
		}
		r.mu.Unlock()
	}
	return n
}

// Publish appends event to the recording's log and sends it to every current
// viewer. Viewers whose send fails are removed.
func (h *Hub) Publish(id string, event types.TranscriptEvent) {
	r := h.lock(id)
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if len(r.viewers) == 0 {
		return
	}

	data, err := json.Marshal(event.ViewerMessage())
	if err != nil {
		h.logger.Error("encode viewer message", "recording", id, "error", err)
		return
	}
	for v := range r.viewers {
		if err := v.Send(data); err != nil {
			h.logger.Debug("viewer dropped", "recording", id, "error", err)
			delete(r.viewers, v)
		}
	}
}

// Join adds a viewer and replays the current log to it, in arrival order,
// before any later event can reach it.
func (h *Hub) Join(id string, v Viewer) error {
	r := h.lock(id)
	defer r.mu.Unlock()

	for _, event := range r.events {
		data, err := json.Marshal(event.ViewerMessage())
		if err != nil {
			return err
		}
		if err := v.Send(data); err != nil {
			if r.idle() {
				h.drop(id, r)
			}
			return err
		}
	}
	r.viewers[v] = struct{}{}
	h.logger.Info("viewer joined", "recording", id, "replayed", len(r.events), "viewers", len(r.viewers))
	return nil
}

// Leave removes a viewer. Removing an unknown viewer is a no-op.
func (h *Hub) Leave(id string, v Viewer) {
	r := h.lookup(id)
	if r == nil {
		return
	}
	defer r.mu.Unlock()

	delete(r.viewers, v)
	if r.idle() {
		h.drop(id, r)
	}
}

// Viewers returns the number of viewers of id.
func (h *Hub) Viewers(id string) int {
	r := h.lookup(id)
	if r == nil {
		return 0
	}
	defer r.mu.Unlock()
	return len(r.viewers)
}

// TotalViewers returns the number of viewers across all recordings.
func (h *Hub) TotalViewers() int {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	n := 0
	for _, r := range rooms {
		r.mu.Lock()
		n += len(r.viewers)
		r.mu.Unlock()
	}
	return n
}

// Events returns a copy of the recording's transcript log.
func (h *Hub) Events(id string) []types.TranscriptEvent {
	r := h.lookup(id)
	if r == nil {
		return nil
	}
	defer r.mu.Unlock()
	out := make([]types.TranscriptEvent, len(r.events))
	copy(out, r.events)
	return out
}

// FinalEvents returns only the final entries of the recording's log.
func (h *Hub) FinalEvents(id string) []types.TranscriptEvent {
	var out []types.TranscriptEvent
	for _, e := range h.Events(id) {
		if e.IsFinal {
			out = append(out, e)
		}
	}
	return out
}

// Forget drops everything known about a recording, including its viewers.
// Used when the recording is deleted.
func (h *Hub) Forget(id string) {
	r := h.lookup(id)
	if r == nil {
		return
	}
	defer r.mu.Unlock()
	h.drop(id, r)
}

// Len returns the number of tracked recordings.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
