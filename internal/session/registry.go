// Package session maps session-scoped actor ids to their mission stores and
// per-mission event bindings, and owns actor registration lifecycle.
package session

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"MissionCore/internal/catalog"
	"MissionCore/internal/mission"
	"MissionCore/internal/tracker"
)

// Source supplies the current definition registry.
type Source interface {
	Registry() *catalog.Registry
}

// ProgressStore persists actor progress between sessions.
type ProgressStore interface {
	LoadProgress(ctx context.Context, actorKey string) ([]SavedProgress, error)
	SaveProgress(ctx context.Context, actorKey string, entries []SavedProgress) error
}

// EventFunc receives a mission's new progress.
type EventFunc func(missionID mission.ID, progress mission.Progress)

// Entry is one registered actor.
type Entry struct {
	ID    int32
	Key   string // durable identity for progress persistence; may be empty
	Actor Actor
	Store *tracker.Store

	mu         sync.Mutex
	reg        *catalog.Registry // definitions the store ids are numbered against
	cancelFeed func()
}

// Lock serialises mutation of the actor's missions.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases Lock.
func (e *Entry) Unlock() { e.mu.Unlock() }

// Registry tracks registered actors.
type Registry struct {
	source   Source
	logger   *log.Logger
	progress ProgressStore

	mu         sync.RWMutex
	entries    map[int32]*Entry
	bindings   map[int32]map[mission.ID]EventFunc
	deregHooks []func(actorID int32)

	flushMu sync.Mutex
	nextID  atomic.Int32
}

// NewRegistry creates an empty registry reading definitions from source.
func NewRegistry(source Source, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		source:   source,
		logger:   logger,
		entries:  make(map[int32]*Entry),
		bindings: make(map[int32]map[mission.ID]EventFunc),
	}
}

// SetProgressStore enables restore on register and save on deregister.
func (r *Registry) SetProgressStore(ps ProgressStore) {
	r.mu.Lock()
	r.progress = ps
	r.mu.Unlock()
}

// NextActorID returns a fresh session-scoped actor id.
func (r *Registry) NextActorID() int32 {
	return r.nextID.Add(1)
}

// OnDeregister registers fn to run after an actor is removed.
func (r *Registry) OnDeregister(fn func(actorID int32)) {
	r.mu.Lock()
	r.deregHooks = append(r.deregHooks, fn)
	r.mu.Unlock()
}

// Register records the actor and its store, creates its binding table if
// absent and, when the store is authoritative, seeds it from the current
// definitions and restores saved progress for key.
func (r *Registry) Register(ctx context.Context, actorID int32, key string, actor Actor, store *tracker.Store) (*Entry, error) {
	if actor == nil || store == nil {
		return nil, mission.Errorf(mission.CodeNotFound, "actor %d: missing actor or store", actorID)
	}
	entry := &Entry{ID: actorID, Key: key, Actor: actor, Store: store}
	entry.cancelFeed = store.OnRecordChanged(func(id mission.ID, p mission.Progress) {
		r.Fire(actorID, id, p)
	})
	entry.Lock()
	defer entry.Unlock()

	r.mu.Lock()
	if prev, ok := r.entries[actorID]; ok && prev.cancelFeed != nil {
		prev.cancelFeed()
	}
	r.entries[actorID] = entry
	if _, ok := r.bindings[actorID]; !ok {
		r.bindings[actorID] = make(map[mission.ID]EventFunc)
	}
	progress := r.progress
	r.mu.Unlock()

	if !store.HasAuthority() {
		return entry, nil
	}

	reg := r.source.Registry()
	store.Seed(reg.Definitions())
	entry.reg = reg

	if progress != nil && key != "" {
		if err := r.restore(ctx, entry, reg, progress); err != nil {
			r.unregister(entry)
			return nil, err
		}
	}
	r.logger.Printf("[session] registered actor=%d key=%q records=%d", actorID, key, store.Len())
	return entry, nil
}

// unregister undoes a failed Register. A newer registration under the same
// id is left alone.
func (r *Registry) unregister(entry *Entry) {
	r.mu.Lock()
	if r.entries[entry.ID] == entry {
		delete(r.entries, entry.ID)
		delete(r.bindings, entry.ID)
	}
	r.mu.Unlock()
	if entry.cancelFeed != nil {
		entry.cancelFeed()
	}
}

func (r *Registry) restore(ctx context.Context, entry *Entry, reg *catalog.Registry, ps ProgressStore) error {
	saved, err := ps.LoadProgress(ctx, entry.Key)
	if err != nil {
		return fmt.Errorf("session: restore actor %d: %w", entry.ID, err)
	}
	changes := make([]tracker.Change, 0, len(saved))
	for _, sp := range saved {
		id, ok := reg.ResolveID(sp.Tag)
		if !ok {
			r.logger.Printf("[session] restore actor=%d tag=%s: no longer defined, skipped", entry.ID, sp.Tag)
			continue
		}
		changes = append(changes, tracker.Change{MissionID: id, Progress: resumable(sp.Progress)})
	}
	if err := entry.Store.Apply(changes); err != nil {
		return err
	}
	for _, sp := range saved {
		if id, ok := reg.ResolveID(sp.Tag); ok && sp.Tick != (mission.TickSettings{}) {
			_ = entry.Store.SetTick(id, sp.Tick)
		}
	}
	return nil
}

// Deregister drops the actor's entry and binding table, runs deregister
// hooks, and saves progress when a progress store is configured.
func (r *Registry) Deregister(ctx context.Context, actorID int32) error {
	r.mu.Lock()
	entry, ok := r.entries[actorID]
	delete(r.entries, actorID)
	delete(r.bindings, actorID)
	hooks := append([]func(int32){}, r.deregHooks...)
	progress := r.progress
	r.mu.Unlock()

	if !ok {
		return mission.Errorf(mission.CodeNotFound, "actor %d not registered", actorID)
	}
	if entry.cancelFeed != nil {
		entry.cancelFeed()
	}
	for _, fn := range hooks {
		fn(actorID)
	}

	if progress != nil && entry.Key != "" && entry.Store.HasAuthority() {
		saved := r.collect(entry)
		if err := progress.SaveProgress(ctx, entry.Key, saved); err != nil {
			return fmt.Errorf("session: save actor %d: %w", actorID, err)
		}
	}
	r.logger.Printf("[session] deregistered actor=%d", actorID)
	return nil
}

// collect converts a store snapshot into tag-keyed progress.
func (r *Registry) collect(entry *Entry) []SavedProgress {
	entry.Lock()
	defer entry.Unlock()
	reg := entry.reg
	if reg == nil {
		reg = r.source.Registry()
	}
	records := entry.Store.Snapshot()
	out := make([]SavedProgress, 0, len(records))
	for _, rec := range records {
		def, ok := reg.ByID(rec.MissionID)
		if !ok {
			continue
		}
		out = append(out, SavedProgress{Tag: def.Tag, Progress: resumable(rec.Progress), Tick: rec.Tick})
	}
	return out
}

// resumable maps Pending back to Active. The delayed transition that owned
// a Pending mission does not outlive the session, so the actor completes it
// again to re-run branch selection.
func resumable(p mission.Progress) mission.Progress {
	if p.Current != mission.StatePending {
		return p
	}
	p = p.Clone()
	p.Current = mission.StateActive
	return p
}

// Lookup returns the registered entry for actorID.
func (r *Registry) Lookup(actorID int32) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[actorID]
	if !ok {
		return nil, mission.Errorf(mission.CodeNotFound, "actor %d not registered", actorID)
	}
	return entry, nil
}

// Acquire looks up actorID and returns its entry locked, together with the
// definitions its store is numbered against. A store that a catalog reload
// has not reached yet is renumbered first, so ids resolved from the returned
// registry always address the store. The caller must Unlock the entry.
func (r *Registry) Acquire(actorID int32) (*Entry, *catalog.Registry, error) {
	entry, err := r.Lookup(actorID)
	if err != nil {
		return nil, nil, err
	}
	entry.Lock()
	cur := r.source.Registry()
	if entry.reg == nil {
		return entry, cur, nil
	}
	if entry.reg != cur {
		r.reconcileEntry(entry, entry.reg, cur)
	}
	return entry, entry.reg, nil
}

// Actors returns registered actor ids in ascending order.
func (r *Registry) Actors() []int32 {
	r.mu.RLock()
	ids := make([]int32, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Bind sets the single callback for (actorID, missionID); a later Bind
// replaces it.
func (r *Registry) Bind(actorID int32, missionID mission.ID, fn EventFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	table, ok := r.bindings[actorID]
	if !ok {
		return mission.Errorf(mission.CodeNotFound, "actor %d not registered", actorID)
	}
	if fn == nil {
		delete(table, missionID)
		return nil
	}
	table[missionID] = fn
	return nil
}

// Fire invokes the bound callback and reports whether one was bound.
func (r *Registry) Fire(actorID int32, missionID mission.ID, progress mission.Progress) bool {
	r.mu.RLock()
	fn, ok := r.bindings[actorID][missionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	fn(missionID, progress)
	return true
}

// Flush drains every store and publishes non-empty batches, actor by actor.
func (r *Registry) Flush(sink tracker.Sink) int {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	published := 0
	for _, id := range r.Actors() {
		entry, err := r.Lookup(id)
		if err != nil || !entry.Store.HasAuthority() {
			continue
		}
		if b := entry.Store.Drain(); !b.Empty() {
			sink.Publish(id, b)
			published++
		}
	}
	return published
}

// Reconcile re-derives mission ids by tag after the definitions were
// reloaded from old to next. Records whose tag disappeared are dropped,
// missions new to next are seeded, and bindings move to the new ids.
// Entries always move to the current definitions; one that Acquire already
// renumbered is skipped.
func (r *Registry) Reconcile(old, next *catalog.Registry) {
	for _, id := range r.Actors() {
		entry, err := r.Lookup(id)
		if err != nil || !entry.Store.HasAuthority() {
			continue
		}
		entry.Lock()
		from := entry.reg
		if from == nil {
			from = old
		}
		if cur := r.source.Registry(); from != cur {
			r.reconcileEntry(entry, from, cur)
		}
		entry.Unlock()
	}
}

// reconcileEntry renumbers entry from old to next. The caller holds the
// entry lock.
func (r *Registry) reconcileEntry(entry *Entry, old, next *catalog.Registry) {
	remap := make(map[mission.ID]mission.ID)
	records := entry.Store.Snapshot()
	rebuilt := make([]mission.Record, 0, next.Len())
	kept := make(map[mission.ID]bool)

	for _, rec := range records {
		def, ok := old.ByID(rec.MissionID)
		if !ok {
			r.logger.Printf("[session] reconcile actor=%d mission=%d: unknown to previous catalog, dropped", entry.ID, rec.MissionID)
			continue
		}
		newID, ok := next.ResolveID(def.Tag)
		if !ok {
			r.logger.Printf("[session] reconcile actor=%d tag=%s: removed from catalog, dropped", entry.ID, def.Tag)
			continue
		}
		remap[rec.MissionID] = newID
		rec.MissionID = newID
		rebuilt = append(rebuilt, rec)
		kept[newID] = true
	}
	for _, def := range next.Definitions() {
		if !kept[def.ID] {
			rebuilt = append(rebuilt, def.InitialRecord())
		}
	}
	if err := entry.Store.Reset(rebuilt); err != nil {
		r.logger.Printf("[session] reconcile actor=%d: %v", entry.ID, err)
		return
	}
	entry.reg = next

	r.mu.Lock()
	if table, ok := r.bindings[entry.ID]; ok {
		moved := make(map[mission.ID]EventFunc, len(table))
		for oldID, fn := range table {
			if newID, ok := remap[oldID]; ok {
				moved[newID] = fn
			}
		}
		r.bindings[entry.ID] = moved
	}
	r.mu.Unlock()
}

// SaveAll persists every registered actor that has a key.
func (r *Registry) SaveAll(ctx context.Context) error {
	r.mu.RLock()
	progress := r.progress
	r.mu.RUnlock()
	if progress == nil {
		return nil
	}
	for _, id := range r.Actors() {
		entry, err := r.Lookup(id)
		if err != nil || entry.Key == "" || !entry.Store.HasAuthority() {
			continue
		}
		if err := progress.SaveProgress(ctx, entry.Key, r.collect(entry)); err != nil {
			return fmt.Errorf("session: save actor %d: %w", id, err)
		}
	}
	return nil
}
