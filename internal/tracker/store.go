// Package tracker holds per-actor mission progress and produces ordered edit
// scripts so observers can mirror it.
package tracker

import (
	"log"
	"sync"

	"MissionCore/internal/catalog"
	"MissionCore/internal/mission"
	"MissionCore/internal/tags"
)

// Change is one record write inside an atomic Apply.
type Change struct {
	MissionID mission.ID
	Progress  mission.Progress
}

type notification struct {
	id       mission.ID
	progress mission.Progress
}

// Store is the ordered record collection for one actor. Only an authoritative
// store accepts writes; observer stores reject them with an Unauthorized error.
type Store struct {
	mu        sync.Mutex
	authority bool
	logger    *log.Logger

	seeded  bool
	records []mission.Record
	dirty   []bool
	index   map[mission.ID]int
	healed  map[mission.ID]struct{}

	journal []Op
	seq     uint64

	listeners    map[int]func(mission.ID, mission.Progress)
	nextListener int
}

// NewStore creates an empty store. A nil logger uses log.Default().
func NewStore(authority bool, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		authority: authority,
		logger:    logger,
		index:     make(map[mission.ID]int),
		healed:    make(map[mission.ID]struct{}),
		listeners: make(map[int]func(mission.ID, mission.Progress)),
	}
}

// HasAuthority reports whether the store accepts writes.
func (s *Store) HasAuthority() bool { return s.authority }

// Seed adds one record per definition at its start state. Only the first call
// on an authoritative store has an effect; it reports whether seeding ran.
func (s *Store) Seed(defs []*catalog.Definition) bool {
	if !s.authority {
		return false
	}
	s.mu.Lock()
	if s.seeded {
		s.mu.Unlock()
		return false
	}
	s.seeded = true
	var notes []notification
	for _, def := range defs {
		rec := def.InitialRecord()
		if s.positionLocked(rec.MissionID) >= 0 {
			continue
		}
		s.appendLocked(rec)
		notes = append(notes, notification{id: rec.MissionID, progress: rec.Progress.Clone()})
	}
	s.mu.Unlock()
	s.notify(notes)
	return true
}

// Seeded reports whether Seed has run.
func (s *Store) Seeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeded
}

// Upsert writes progress for a mission, appending a record if the mission is
// not tracked yet.
func (s *Store) Upsert(id mission.ID, progress mission.Progress) error {
	return s.Apply([]Change{{MissionID: id, Progress: progress}})
}

// Apply writes every change under one lock, so readers see all of them or
// none. Notifications fire after the lock is released, once per record that
// was added or actually changed.
func (s *Store) Apply(changes []Change) error {
	if !s.authority {
		return mission.Errorf(mission.CodeUnauthorized, "store is not authoritative")
	}
	for _, c := range changes {
		if !c.MissionID.Valid() {
			return mission.Errorf(mission.CodeNotFound, "invalid mission id %d", c.MissionID)
		}
	}

	s.mu.Lock()
	notes := make([]notification, 0, len(changes))
	for _, c := range changes {
		if s.upsertLocked(c.MissionID, c.Progress.Clone()) {
			notes = append(notes, notification{id: c.MissionID, progress: c.Progress.Clone()})
		}
	}
	s.mu.Unlock()
	s.notify(notes)
	return nil
}

// SetTick replaces the tick settings of a tracked record.
func (s *Store) SetTick(id mission.ID, tick mission.TickSettings) error {
	if !s.authority {
		return mission.Errorf(mission.CodeUnauthorized, "store is not authoritative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.positionLocked(id)
	if pos < 0 {
		return mission.Errorf(mission.CodeNotFound, "mission %d not tracked", id)
	}
	if s.records[pos].Tick == tick {
		return nil
	}
	s.records[pos].Tick = tick
	s.markDirtyLocked(pos)
	return nil
}

// Remove physically drops a record. Prefer writing StateInvalid.
func (s *Store) Remove(id mission.ID) error {
	if !s.authority {
		return mission.Errorf(mission.CodeUnauthorized, "store is not authoritative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.positionLocked(id)
	if pos < 0 {
		return mission.Errorf(mission.CodeNotFound, "mission %d not tracked", id)
	}
	s.removeAtLocked(pos)
	s.journal = append(s.journal, Op{Kind: OpRemove, MissionID: id})
	return nil
}

// Reset replaces every record, typically after a catalog reload re-derived
// mission ids. It does not fire record notifications.
func (s *Store) Reset(records []mission.Record) error {
	if !s.authority {
		return mission.Errorf(mission.CodeUnauthorized, "store is not authoritative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = s.records[:0]
	s.dirty = s.dirty[:0]
	clear(s.index)
	clear(s.healed)
	snapshot := make([]mission.Record, 0, len(records))
	for _, rec := range records {
		if !rec.MissionID.Valid() || s.positionLocked(rec.MissionID) >= 0 {
			continue
		}
		rec = rec.Clone()
		s.index[rec.MissionID] = len(s.records)
		s.records = append(s.records, rec)
		s.dirty = append(s.dirty, false)
		snapshot = append(snapshot, rec.Clone())
	}
	s.seeded = true
	s.journal = append(s.journal[:0], Op{Kind: OpReset, Records: snapshot})
	return nil
}

// Get returns the record for id.
func (s *Store) Get(id mission.ID) (mission.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.positionLocked(id)
	if pos < 0 {
		return mission.Record{}, false
	}
	return s.records[pos].Clone(), true
}

// GetByTag resolves tag through reg and returns the record.
func (s *Store) GetByTag(reg *catalog.Registry, tag tags.Tag) (mission.Record, bool) {
	id, ok := reg.ResolveID(tag)
	if !ok {
		return mission.Record{}, false
	}
	return s.Get(id)
}

// Snapshot returns a copy of every record in order.
func (s *Store) Snapshot() []mission.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mission.Record, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Dirty reports whether id has changes not yet drained.
func (s *Store) Dirty(id mission.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.positionLocked(id)
	return pos >= 0 && s.dirty[pos]
}

// OnRecordChanged registers fn for every added or changed record.
func (s *Store) OnRecordChanged(fn func(mission.ID, mission.Progress)) (cancel func()) {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Drain returns the coalesced edit script since the previous drain and clears
// dirty flags. An empty batch does not consume a sequence number.
func (s *Store) Drain() Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.dirty {
		s.dirty[i] = false
	}
	if len(s.journal) == 0 {
		return Batch{Seq: s.seq}
	}
	ops := coalesce(s.journal)
	s.journal = s.journal[:0]
	if len(ops) == 0 {
		return Batch{Seq: s.seq}
	}
	s.seq++
	return Batch{Seq: s.seq, Ops: ops}
}

// Full returns a snapshot batch current as of the last drained sequence.
// Callers drain first so the snapshot and the sequence agree.
func (s *Store) Full() Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]mission.Record, len(s.records))
	for i, rec := range s.records {
		records[i] = rec.Clone()
	}
	return Batch{Seq: s.seq, Snapshot: true, Ops: []Op{{Kind: OpReset, Records: records}}}
}

// CorruptIndex points the index entry for id at pos. It exists to exercise
// the self-healing lookup path.
func (s *Store) CorruptIndex(id mission.ID, pos int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[id] = pos
}

// positionLocked returns the record position for id, or -1. An index entry
// that no longer matches its record is dropped and logged.
func (s *Store) positionLocked(id mission.ID) int {
	pos, ok := s.index[id]
	if !ok {
		return -1
	}
	if pos < 0 || pos >= len(s.records) || s.records[pos].MissionID != id {
		delete(s.index, id)
		s.healed[id] = struct{}{}
		s.logger.Printf("[tracker] %s: dropped index entry mission=%d pos=%d records=%d",
			mission.CodeStaleReference, id, pos, len(s.records))
		return -1
	}
	return pos
}

// upsertLocked writes progress and reports whether anything changed.
func (s *Store) upsertLocked(id mission.ID, progress mission.Progress) bool {
	pos := s.positionLocked(id)
	if pos >= 0 {
		if s.records[pos].Progress.Equal(progress) {
			return false
		}
		s.records[pos].Progress = progress
		s.markDirtyLocked(pos)
		return true
	}
	if _, ok := s.healed[id]; ok {
		// A stale entry may have left the old record behind; keep ids unique.
		delete(s.healed, id)
		s.purgeOrphansLocked(id)
	}
	s.appendLocked(mission.Record{MissionID: id, Progress: progress})
	return true
}

func (s *Store) appendLocked(rec mission.Record) {
	s.index[rec.MissionID] = len(s.records)
	s.records = append(s.records, rec)
	s.dirty = append(s.dirty, true)
	s.journal = append(s.journal, Op{Kind: OpAdd, MissionID: rec.MissionID, Record: rec.Clone()})
}

func (s *Store) markDirtyLocked(pos int) {
	s.dirty[pos] = true
	rec := s.records[pos]
	s.journal = append(s.journal, Op{Kind: OpUpdate, MissionID: rec.MissionID, Record: rec.Clone()})
}

func (s *Store) removeAtLocked(pos int) {
	id := s.records[pos].MissionID
	s.records = append(s.records[:pos], s.records[pos+1:]...)
	s.dirty = append(s.dirty[:pos], s.dirty[pos+1:]...)
	delete(s.index, id)
	for i := pos; i < len(s.records); i++ {
		s.index[s.records[i].MissionID] = i
	}
}

func (s *Store) purgeOrphansLocked(id mission.ID) {
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].MissionID == id {
			s.removeAtLocked(i)
			s.journal = append(s.journal, Op{Kind: OpRemove, MissionID: id})
		}
	}
}

func (s *Store) notify(notes []notification) {
	if len(notes) == 0 {
		return
	}
	s.mu.Lock()
	listeners := make([]func(mission.ID, mission.Progress), 0, len(s.listeners))
	for i := 0; i < s.nextListener; i++ {
		if fn, ok := s.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()
	for _, n := range notes {
		for _, fn := range listeners {
			fn(n.id, n.progress)
		}
	}
}
