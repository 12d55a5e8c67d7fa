// Package catalog loads mission definitions from external tables and indexes
// them by id, tag, row name and table reference.
//
// A Registry is immutable once built. Reloading builds a fresh Registry and the
// Catalog swaps it in atomically, so readers never observe a half-built index.
package catalog

import (
	"fmt"
	"strings"

	"MissionCore/internal/mission"
	"MissionCore/internal/tags"
)

// Ref points at a definition row by table and row name.
type Ref struct {
	Table string `json:"table" yaml:"table"`
	Name  string `json:"name" yaml:"name"`
}

// IsZero reports whether the ref is empty.
func (r Ref) IsZero() bool { return r.Table == "" && r.Name == "" }

func (r Ref) String() string {
	return r.Table + "/" + r.Name
}

// BehaviorKind decides which state a branch target enters.
type BehaviorKind string

const (
	// BehaviorTrigger activates the target.
	BehaviorTrigger BehaviorKind = "trigger"
	// BehaviorUnlock makes the target available without activating it.
	BehaviorUnlock BehaviorKind = "unlock"
)

// ParseBehaviorKind accepts "trigger" or "unlock"; empty defaults to trigger.
func ParseBehaviorKind(raw string) (BehaviorKind, error) {
	switch BehaviorKind(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BehaviorTrigger:
		return BehaviorTrigger, nil
	case BehaviorUnlock:
		return BehaviorUnlock, nil
	}
	return "", fmt.Errorf("catalog: unknown behavior %q", raw)
}

// ResultState is the state a branch target is moved to.
func (k BehaviorKind) ResultState() mission.State {
	if k == BehaviorUnlock {
		return mission.StateInactive
	}
	return mission.StateActive
}

// Behavior describes how and when a branch target is entered.
type Behavior struct {
	Kind         BehaviorKind
	DelaySeconds float64
}

// Branch is one candidate follow-up of a completed mission.
type Branch struct {
	Target    Ref
	Condition tags.Condition
	Direct    bool // same questline as the source mission
	Behavior  Behavior
}

// Metadata is presentation-only.
type Metadata struct {
	Name        string
	Description string
}

// Definition is an immutable mission loaded from a table row.
type Definition struct {
	ID         mission.ID
	Tag        tags.Tag
	TypeTag    tags.Tag
	Ref        Ref
	StartState mission.State
	Completion tags.Condition
	Branches   []Branch
	Repeatable bool
	Tick       mission.TickSettings
	Meta       Metadata
}

// InitialRecord returns the record an actor is seeded with.
func (d *Definition) InitialRecord() mission.Record {
	return mission.Record{
		MissionID: d.ID,
		Progress: mission.Progress{
			Current:    d.StartState,
			Conditions: d.Completion.Clone(),
		},
		Tick: d.Tick,
	}
}

// Row is the external table row shape.
type Row struct {
	Name        string               `json:"name" yaml:"name"`
	Tag         string               `json:"tag" yaml:"tag"`
	StartState  string               `json:"start_state,omitempty" yaml:"start_state,omitempty"`
	Required    []string             `json:"required,omitempty" yaml:"required,omitempty"`
	Optional    []string             `json:"optional,omitempty" yaml:"optional,omitempty"`
	Branches    []BranchRow          `json:"branches,omitempty" yaml:"branches,omitempty"`
	Repeatable  bool                 `json:"repeatable,omitempty" yaml:"repeatable,omitempty"`
	Tick        mission.TickSettings `json:"tick,omitempty" yaml:"tick,omitempty"`
	DisplayName string               `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
}

// BranchRow is the external shape of a branch. An empty Table means the row's
// own table.
type BranchRow struct {
	Table        string   `json:"table,omitempty" yaml:"table,omitempty"`
	Target       string   `json:"target" yaml:"target"`
	Required     []string `json:"required,omitempty" yaml:"required,omitempty"`
	Optional     []string `json:"optional,omitempty" yaml:"optional,omitempty"`
	Direct       bool     `json:"direct,omitempty" yaml:"direct,omitempty"`
	Behavior     string   `json:"behavior,omitempty" yaml:"behavior,omitempty"`
	DelaySeconds float64  `json:"delay_seconds,omitempty" yaml:"delay_seconds,omitempty"`
}

func parseTags(raw []string) (tags.Set, error) {
	set := tags.Parse(raw)
	for t := range set {
		if !t.Valid() {
			return nil, fmt.Errorf("invalid tag %q", t)
		}
	}
	return set, nil
}

// buildDefinition converts a row into a definition without an id.
func buildDefinition(table string, row Row) (*Definition, error) {
	if strings.TrimSpace(row.Name) == "" {
		return nil, fmt.Errorf("row has no name")
	}
	tag := tags.Tag(strings.TrimSpace(row.Tag))
	if !tag.Valid() {
		return nil, fmt.Errorf("invalid tag %q", row.Tag)
	}

	start := mission.StateInactive
	if strings.TrimSpace(row.StartState) != "" {
		parsed, err := mission.ParseState(row.StartState)
		if err != nil {
			return nil, err
		}
		start = parsed
	}

	required, err := parseTags(row.Required)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}
	optional, err := parseTags(row.Optional)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	branches := make([]Branch, 0, len(row.Branches))
	for i, br := range row.Branches {
		if strings.TrimSpace(br.Target) == "" {
			return nil, fmt.Errorf("branch %d has no target", i)
		}
		kind, err := ParseBehaviorKind(br.Behavior)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		req, err := parseTags(br.Required)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		opt, err := parseTags(br.Optional)
		if err != nil {
			return nil, fmt.Errorf("branch %d: %w", i, err)
		}
		targetTable := strings.TrimSpace(br.Table)
		if targetTable == "" {
			targetTable = table
		}
		branches = append(branches, Branch{
			Target:    Ref{Table: targetTable, Name: strings.TrimSpace(br.Target)},
			Condition: tags.Condition{Required: req, Optional: opt},
			Direct:    br.Direct,
			Behavior:  Behavior{Kind: kind, DelaySeconds: br.DelaySeconds},
		})
	}

	return &Definition{
		Tag:        tag,
		TypeTag:    tag.Parent(),
		Ref:        Ref{Table: table, Name: strings.TrimSpace(row.Name)},
		StartState: start,
		Completion: tags.Condition{Required: required, Optional: optional},
		Branches:   branches,
		Repeatable: row.Repeatable,
		Tick:       row.Tick,
		Meta:       Metadata{Name: row.DisplayName, Description: row.Description},
	}, nil
}

// ToRow converts a definition back into its external row shape.
func (d *Definition) ToRow() Row {
	row := Row{
		Name:        d.Ref.Name,
		Tag:         string(d.Tag),
		StartState:  string(d.StartState),
		Required:    d.Completion.Required.Strings(),
		Optional:    d.Completion.Optional.Strings(),
		Repeatable:  d.Repeatable,
		Tick:        d.Tick,
		DisplayName: d.Meta.Name,
		Description: d.Meta.Description,
	}
	for _, br := range d.Branches {
		out := BranchRow{
			Target:       br.Target.Name,
			Required:     br.Condition.Required.Strings(),
			Optional:     br.Condition.Optional.Strings(),
			Direct:       br.Direct,
			Behavior:     string(br.Behavior.Kind),
			DelaySeconds: br.Behavior.DelaySeconds,
		}
		if br.Target.Table != d.Ref.Table {
			out.Table = br.Target.Table
		}
		row.Branches = append(row.Branches, out)
	}
	return row
}
