package game

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"

	"MissionCore/internal/engine"
	"MissionCore/internal/mission"
	"MissionCore/internal/session"
	"MissionCore/internal/tags"
	"MissionCore/internal/tracker"
)

var ErrRoomFull = errors.New("room full")

// Room is one live session: its players, their mission stores and the
// engine resolving transitions for them.
type Room struct {
	ID       string
	Players  map[string]*Player
	Sessions *session.Registry
	Engine   *engine.Engine
	Mu       sync.Mutex

	logger *log.Logger

	subMu   sync.RWMutex
	subs    map[int32]map[uint64]func(tracker.Batch)
	nextSub uint64
}

func newRoom(id string, opts HubOptions) *Room {
	sessions := session.NewRegistry(opts.Source, opts.Logger)
	if opts.Progress != nil {
		sessions.SetProgressStore(opts.Progress)
	}
	eng := engine.New(engine.Options{
		Sessions:  sessions,
		Scheduler: opts.Scheduler,
		Logger:    opts.Logger,
		Epsilon:   opts.Epsilon,
	})
	return &Room{
		ID:       id,
		Players:  map[string]*Player{},
		Sessions: sessions,
		Engine:   eng,
		logger:   opts.Logger,
		subs:     map[int32]map[uint64]func(tracker.Batch){},
	}
}

// Join adds a player, registers it as an actor and seeds its missions.
// A non-empty key restores saved progress.
func (r *Room) Join(ctx context.Context, name, key string, labels ...tags.Tag) (*Player, error) {
	r.Mu.Lock()
	if len(r.Players) >= RoomMaxPlayers {
		r.Mu.Unlock()
		return nil, ErrRoomFull
	}
	p := NewPlayer(RandId("p"), name, key, labels...)
	p.ActorID = r.Sessions.NextActorID()
	p.Store = tracker.NewStore(true, r.logger)
	r.Players[p.ID] = p
	r.Mu.Unlock()

	if _, err := r.Sessions.Register(ctx, p.ActorID, key, p, p.Store); err != nil {
		r.Mu.Lock()
		delete(r.Players, p.ID)
		r.Mu.Unlock()
		return nil, err
	}
	r.logger.Printf("[room] %s: player %s joined actor=%d key=%q", r.ID, p.ID, p.ActorID, key)
	return p, nil
}

// Leave deregisters a player, saving its progress and cancelling its
// pending transitions.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	r.Mu.Lock()
	p, ok := r.Players[playerID]
	delete(r.Players, playerID)
	r.Mu.Unlock()
	if !ok {
		return mission.Errorf(mission.CodeNotFound, "room %s: player %s not found", r.ID, playerID)
	}

	r.subMu.Lock()
	delete(r.subs, p.ActorID)
	r.subMu.Unlock()

	if err := r.Sessions.Deregister(ctx, p.ActorID); err != nil {
		return err
	}
	r.logger.Printf("[room] %s: player %s left actor=%d", r.ID, p.ID, p.ActorID)
	return nil
}

// Player returns a player by id.
func (r *Room) Player(id string) (*Player, bool) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	p, ok := r.Players[id]
	return p, ok
}

// PlayerCount returns the number of joined players.
func (r *Room) PlayerCount() int {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return len(r.Players)
}

// Watch binds a mission so every change to it is queued to the player as a
// "mission:changed" event. Watching again replaces the binding.
func (r *Room) Watch(playerID, ref string) error {
	p, ok := r.Player(playerID)
	if !ok {
		return mission.Errorf(mission.CodeNotFound, "room %s: player %s not found", r.ID, playerID)
	}
	entry, reg, err := r.Sessions.Acquire(p.ActorID)
	if err != nil {
		return err
	}
	defer entry.Unlock()
	def, ok := reg.Lookup(ref)
	if !ok {
		return mission.Errorf(mission.CodeNotFound, "mission %q not found", ref)
	}
	tag := def.Tag
	return r.Sessions.Bind(p.ActorID, def.ID, func(id mission.ID, progress mission.Progress) {
		p.SendMessage("mission:changed", newMissionEvent(id, tag, progress))
	})
}

// Unwatch removes a mission binding.
func (r *Room) Unwatch(playerID, ref string) error {
	p, ok := r.Player(playerID)
	if !ok {
		return mission.Errorf(mission.CodeNotFound, "room %s: player %s not found", r.ID, playerID)
	}
	entry, reg, err := r.Sessions.Acquire(p.ActorID)
	if err != nil {
		return err
	}
	defer entry.Unlock()
	def, ok := reg.Lookup(ref)
	if !ok {
		return mission.Errorf(mission.CodeNotFound, "mission %q not found", ref)
	}
	return r.Sessions.Bind(p.ActorID, def.ID, nil)
}

// Subscribe registers fn to receive the actor's drained batches.
func (r *Room) Subscribe(actorID int32, fn func(tracker.Batch)) (cancel func()) {
	r.subMu.Lock()
	r.nextSub++
	id := r.nextSub
	if r.subs[actorID] == nil {
		r.subs[actorID] = map[uint64]func(tracker.Batch){}
	}
	r.subs[actorID][id] = fn
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subs[actorID], id)
		r.subMu.Unlock()
	}
}

// Publish implements tracker.Sink by fanning a batch out to the actor's
// subscribers.
func (r *Room) Publish(actorID int32, b tracker.Batch) {
	r.subMu.RLock()
	fns := make([]func(tracker.Batch), 0, len(r.subs[actorID]))
	for _, fn := range r.subs[actorID] {
		fns = append(fns, fn)
	}
	r.subMu.RUnlock()
	for _, fn := range fns {
		fn(b)
	}
}

// Flush drains every player's store into the room's subscribers.
func (r *Room) Flush() int {
	return r.Sessions.Flush(r)
}

func (r *Room) close(ctx context.Context) {
	if err := r.Sessions.SaveAll(ctx); err != nil {
		r.logger.Printf("[room] %s: save progress: %v", r.ID, err)
	}
	r.Engine.Close()
}

func RandId(prefix string) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 6)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return prefix + "-" + string(b)
}
