package game

import (
	"context"
	"log"
	"sort"
	"sync"

	"MissionCore/internal/catalog"
	"MissionCore/internal/engine"
	"MissionCore/internal/session"
)

// HubOptions is shared by every room a hub creates.
type HubOptions struct {
	Source    session.Source
	Scheduler engine.Scheduler
	Progress  session.ProgressStore
	Logger    *log.Logger
	Epsilon   float64
}

type Hub struct {
	Rooms map[string]*Room
	Mu    sync.Mutex

	opts HubOptions
}

func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = engine.NewTimerScheduler()
	}
	return &Hub{Rooms: map[string]*Room{}, opts: opts}
}

// GetRoom returns the room, creating it on first use.
func (h *Hub) GetRoom(id string) *Room {
	if id == "" {
		id = DefaultRoomID
	}
	h.Mu.Lock()
	defer h.Mu.Unlock()
	r, ok := h.Rooms[id]
	if !ok {
		r = newRoom(id, h.opts)
		h.Rooms[id] = r
		h.opts.Logger.Printf("[hub] room %s created", id)
	}
	return r
}

// Room returns an existing room.
func (h *Hub) Room(id string) (*Room, bool) {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	r, ok := h.Rooms[id]
	return r, ok
}

// RoomIDs returns room ids in lexical order.
func (h *Hub) RoomIDs() []string {
	h.Mu.Lock()
	ids := make([]string, 0, len(h.Rooms))
	for id := range h.Rooms {
		ids = append(ids, id)
	}
	h.Mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (h *Hub) rooms() []*Room {
	h.Mu.Lock()
	defer h.Mu.Unlock()
	out := make([]*Room, 0, len(h.Rooms))
	for _, r := range h.Rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CleanupEmptyRooms closes and forgets rooms without players.
func (h *Hub) CleanupEmptyRooms() int {
	var empty []*Room
	h.Mu.Lock()
	for id, r := range h.Rooms {
		if r.PlayerCount() == 0 {
			empty = append(empty, r)
			delete(h.Rooms, id)
		}
	}
	h.Mu.Unlock()
	for _, r := range empty {
		r.close(context.Background())
		h.opts.Logger.Printf("[hub] room %s removed (empty)", r.ID)
	}
	return len(empty)
}

// Flush drains every room. It returns the number of batches published.
func (h *Hub) Flush() int {
	n := 0
	for _, r := range h.rooms() {
		n += r.Flush()
	}
	return n
}

// Reconcile re-derives mission ids in every room after a catalog reload.
// Its signature matches catalog.Catalog.OnReload.
func (h *Hub) Reconcile(old, next *catalog.Registry) {
	for _, r := range h.rooms() {
		r.Sessions.Reconcile(old, next)
	}
}

// Close saves every room's progress and cancels pending transitions.
func (h *Hub) Close(ctx context.Context) {
	h.Mu.Lock()
	rooms := h.Rooms
	h.Rooms = map[string]*Room{}
	h.Mu.Unlock()
	for _, r := range rooms {
		r.close(ctx)
	}
}
