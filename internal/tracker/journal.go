package tracker

import (
	"errors"
	"fmt"

	"MissionCore/internal/mission"
)

// OpKind identifies an edit script entry.
type OpKind uint8

const (
	// OpAdd appends a record the observer has not seen.
	OpAdd OpKind = iota + 1
	// OpUpdate overwrites a record in place.
	OpUpdate
	// OpRemove drops a record.
	OpRemove
	// OpReset replaces the whole collection.
	OpReset
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	case OpReset:
		return "reset"
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

// Op is one edit addressed by mission id.
type Op struct {
	Kind      OpKind
	MissionID mission.ID
	Record    mission.Record   // OpAdd, OpUpdate
	Records   []mission.Record // OpReset
}

// Batch is an ordered edit script. Seq increases by one per drained batch;
// snapshot batches carry the sequence they are current as of.
type Batch struct {
	Seq      uint64
	Snapshot bool
	Ops      []Op
}

// Empty reports whether the batch carries no edits.
func (b Batch) Empty() bool { return len(b.Ops) == 0 }

// Sink receives drained batches for delivery to observers.
type Sink interface {
	Publish(actorID int32, batch Batch)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(actorID int32, batch Batch)

// Publish implements Sink.
func (f SinkFunc) Publish(actorID int32, batch Batch) { f(actorID, batch) }

// ErrSequenceGap is returned when a replica receives a batch out of order.
var ErrSequenceGap = errors.New("tracker: batch sequence gap")

// coalesce folds an op log into a minimal script with the same effect on an
// observer. Adds and updates of one id collapse into the earliest entry
// carrying the latest record; an add later removed in the same window
// disappears entirely; a reset discards everything before it.
func coalesce(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	dropped := make([]bool, 0, len(ops))
	live := make(map[mission.ID]int)

	for _, op := range ops {
		switch op.Kind {
		case OpReset:
			out = append(out[:0], op)
			dropped = append(dropped[:0], false)
			clear(live)
		case OpAdd:
			out = append(out, op)
			dropped = append(dropped, false)
			live[op.MissionID] = len(out) - 1
		case OpUpdate:
			if pos, ok := live[op.MissionID]; ok {
				out[pos].Record = op.Record
				continue
			}
			out = append(out, op)
			dropped = append(dropped, false)
			live[op.MissionID] = len(out) - 1
		case OpRemove:
			if pos, ok := live[op.MissionID]; ok {
				delete(live, op.MissionID)
				dropped[pos] = true
				if out[pos].Kind == OpAdd {
					continue
				}
			}
			out = append(out, op)
			dropped = append(dropped, false)
		}
	}

	result := out[:0]
	for i, op := range out {
		if !dropped[i] {
			result = append(result, op)
		}
	}
	return result
}
