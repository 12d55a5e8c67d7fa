package tracker

import (
	"fmt"
	"sync"

	"MissionCore/internal/mission"
)

// Replica is the observer-side mirror of a Store. It only changes through
// Apply, in sequence order.
type Replica struct {
	mu      sync.RWMutex
	records []mission.Record
	index   map[mission.ID]int
	seq     uint64
}

// NewReplica creates an empty replica expecting batch 1 next.
func NewReplica() *Replica {
	return &Replica{index: make(map[mission.ID]int)}
}

// Seq returns the sequence of the last applied batch.
func (r *Replica) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Apply replays a batch. Snapshot batches are accepted at any point and
// reposition the sequence; incremental batches must follow the last one
// exactly, and an already-applied sequence is ignored.
func (r *Replica) Apply(b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !b.Snapshot {
		if b.Empty() {
			return nil
		}
		if b.Seq <= r.seq {
			return nil
		}
		if b.Seq != r.seq+1 {
			return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, r.seq+1, b.Seq)
		}
	}
	for _, op := range b.Ops {
		r.applyLocked(op)
	}
	r.seq = b.Seq
	return nil
}

func (r *Replica) applyLocked(op Op) {
	switch op.Kind {
	case OpReset:
		r.records = r.records[:0]
		clear(r.index)
		for _, rec := range op.Records {
			r.putLocked(rec)
		}
	case OpAdd, OpUpdate:
		r.putLocked(op.Record)
	case OpRemove:
		pos, ok := r.index[op.MissionID]
		if !ok {
			return
		}
		r.records = append(r.records[:pos], r.records[pos+1:]...)
		delete(r.index, op.MissionID)
		for i := pos; i < len(r.records); i++ {
			r.index[r.records[i].MissionID] = i
		}
	}
}

func (r *Replica) putLocked(rec mission.Record) {
	rec = rec.Clone()
	if pos, ok := r.index[rec.MissionID]; ok {
		r.records[pos] = rec
		return
	}
	r.index[rec.MissionID] = len(r.records)
	r.records = append(r.records, rec)
}

// Get returns the mirrored record for id.
func (r *Replica) Get(id mission.ID) (mission.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.index[id]
	if !ok {
		return mission.Record{}, false
	}
	return r.records[pos].Clone(), true
}

// Snapshot returns the mirrored records in order.
func (r *Replica) Snapshot() []mission.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mission.Record, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out
}

// Len returns the number of mirrored records.
func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
