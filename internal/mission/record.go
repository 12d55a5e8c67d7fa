package mission

import "MissionCore/internal/tags"

// TickSettings describe optional periodic progress. They are carried and
// replicated with the record; nothing in this module applies them.
type TickSettings struct {
	DeltaValue int32   `json:"delta_value,omitempty" yaml:"delta_value,omitempty"`
	Interval   float64 `json:"interval,omitempty" yaml:"interval,omitempty"`
	Paused     bool    `json:"paused,omitempty" yaml:"paused,omitempty"`
}

// Progress is the mutable per-actor state of one mission.
type Progress struct {
	Current    State          `json:"current"`
	Conditions tags.Condition `json:"conditions"`
}

// Clone returns a copy with an independent condition snapshot.
func (p Progress) Clone() Progress {
	return Progress{Current: p.Current, Conditions: p.Conditions.Clone()}
}

// Equal compares the state and the condition snapshot.
func (p Progress) Equal(other Progress) bool {
	return p.Current == other.Current && p.Conditions.Equal(other.Conditions)
}

// Record is the unit the tracker stores and replicates.
type Record struct {
	MissionID ID           `json:"mission_id"`
	Progress  Progress     `json:"progress"`
	Tick      TickSettings `json:"tick"`
}

// Equal compares mission id, current state and condition snapshot. Tick
// settings are not part of record identity.
func (r Record) Equal(other Record) bool {
	return r.MissionID == other.MissionID && r.Progress.Equal(other.Progress)
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	return Record{MissionID: r.MissionID, Progress: r.Progress.Clone(), Tick: r.Tick}
}
