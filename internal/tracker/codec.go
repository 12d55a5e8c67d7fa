package tracker

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"MissionCore/internal/mission"
	"MissionCore/internal/tags"
)

// Wire layout, protobuf-compatible:
//
//	Batch  { 1: seq uint64, 2: snapshot bool, 3: repeated Op }
//	Op     { 1: kind uint32, 2: mission_id int32, 3: Record, 4: repeated Record }
//	Record { 1: mission_id int32, 2: state uint32, 3: repeated required string,
//	         4: repeated optional string, 5: Tick }
//	Tick   { 1: delta_value sint32, 2: interval double, 3: paused bool }

// ErrMalformedBatch is returned when decoding fails.
var ErrMalformedBatch = errors.New("tracker: malformed batch")

// EncodeBatch serialises a batch.
func EncodeBatch(b Batch) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, b.Seq)
	if b.Snapshot {
		out = protowire.AppendTag(out, 2, protowire.VarintType)
		out = protowire.AppendVarint(out, protowire.EncodeBool(true))
	}
	for _, op := range b.Ops {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeOp(op))
	}
	return out
}

func encodeOp(op Op) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(op.Kind))
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(op.MissionID))
	switch op.Kind {
	case OpAdd, OpUpdate:
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeRecord(op.Record))
	case OpReset:
		for _, rec := range op.Records {
			out = protowire.AppendTag(out, 4, protowire.BytesType)
			out = protowire.AppendBytes(out, encodeRecord(rec))
		}
	}
	return out
}

func encodeRecord(rec mission.Record) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(rec.MissionID))
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(rec.Progress.Current.Ordinal()))
	for _, t := range rec.Progress.Conditions.Required.Strings() {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendString(out, t)
	}
	for _, t := range rec.Progress.Conditions.Optional.Strings() {
		out = protowire.AppendTag(out, 4, protowire.BytesType)
		out = protowire.AppendString(out, t)
	}
	if rec.Tick != (mission.TickSettings{}) {
		var tick []byte
		tick = protowire.AppendTag(tick, 1, protowire.VarintType)
		tick = protowire.AppendVarint(tick, protowire.EncodeZigZag(int64(rec.Tick.DeltaValue)))
		tick = protowire.AppendTag(tick, 2, protowire.Fixed64Type)
		tick = protowire.AppendFixed64(tick, math.Float64bits(rec.Tick.Interval))
		tick = protowire.AppendTag(tick, 3, protowire.VarintType)
		tick = protowire.AppendVarint(tick, protowire.EncodeBool(rec.Tick.Paused))
		out = protowire.AppendTag(out, 5, protowire.BytesType)
		out = protowire.AppendBytes(out, tick)
	}
	return out
}

// DecodeBatch parses a batch produced by EncodeBatch.
func DecodeBatch(data []byte) (Batch, error) {
	var b Batch
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			b.Seq = v
		case num == 2 && typ == protowire.VarintType:
			b.Snapshot = protowire.DecodeBool(v)
		case num == 3 && typ == protowire.BytesType:
			op, err := decodeOp(raw)
			if err != nil {
				return err
			}
			b.Ops = append(b.Ops, op)
		}
		return nil
	})
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

func decodeOp(data []byte) (Op, error) {
	var op Op
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			op.Kind = OpKind(v)
		case num == 2 && typ == protowire.VarintType:
			op.MissionID = mission.ID(int32(v))
		case num == 3 && typ == protowire.BytesType:
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			op.Record = rec
		case num == 4 && typ == protowire.BytesType:
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			op.Records = append(op.Records, rec)
		}
		return nil
	})
	if err != nil {
		return Op{}, err
	}
	if op.Kind < OpAdd || op.Kind > OpReset {
		return Op{}, fmt.Errorf("%w: unknown op kind %d", ErrMalformedBatch, op.Kind)
	}
	if op.Kind == OpReset && op.Records == nil {
		op.Records = []mission.Record{}
	}
	return op, nil
}

func decodeRecord(data []byte) (mission.Record, error) {
	var rec mission.Record
	required := tags.NewSet()
	optional := tags.NewSet()
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			rec.MissionID = mission.ID(int32(v))
		case num == 2 && typ == protowire.VarintType:
			state, ok := mission.StateFromOrdinal(int(v))
			if !ok {
				return fmt.Errorf("%w: unknown state ordinal %d", ErrMalformedBatch, v)
			}
			rec.Progress.Current = state
		case num == 3 && typ == protowire.BytesType:
			required.Add(tags.Tag(raw))
		case num == 4 && typ == protowire.BytesType:
			optional.Add(tags.Tag(raw))
		case num == 5 && typ == protowire.BytesType:
			return walkFields(raw, func(num protowire.Number, typ protowire.Type, v uint64, _ []byte) error {
				switch {
				case num == 1 && typ == protowire.VarintType:
					rec.Tick.DeltaValue = int32(protowire.DecodeZigZag(v))
				case num == 2 && typ == protowire.Fixed64Type:
					rec.Tick.Interval = math.Float64frombits(v)
				case num == 3 && typ == protowire.VarintType:
					rec.Tick.Paused = protowire.DecodeBool(v)
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return mission.Record{}, err
	}
	rec.Progress.Conditions = tags.Condition{Required: required, Optional: optional}
	return rec, nil
}

// walkFields iterates the top-level fields of a message. Varint and fixed64
// values arrive in v; length-delimited payloads arrive in raw. Unknown wire
// types are skipped.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedBatch, protowire.ParseError(n))
		}
		data = data[n:]

		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(data)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(data)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedBatch, num, protowire.ParseError(n))
		}
		data = data[n:]
		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}
