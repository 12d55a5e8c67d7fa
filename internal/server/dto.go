package server

import (
	"MissionCore/internal/catalog"
	"MissionCore/internal/engine"
	"MissionCore/internal/mission"
)

type branchDTO struct {
	Target       string   `json:"target"`
	TargetTag    string   `json:"target_tag,omitempty"`
	Required     []string `json:"required,omitempty"`
	Optional     []string `json:"optional,omitempty"`
	Direct       bool     `json:"direct,omitempty"`
	Behavior     string   `json:"behavior"`
	DelaySeconds float64  `json:"delay_seconds,omitempty"`
}

type missionDTO struct {
	ID          int32       `json:"id"`
	Tag         string      `json:"tag"`
	TypeTag     string      `json:"type_tag,omitempty"`
	Table       string      `json:"table"`
	Name        string      `json:"name"`
	StartState  string      `json:"start_state"`
	Required    []string    `json:"required,omitempty"`
	Optional    []string    `json:"optional,omitempty"`
	Branches    []branchDTO `json:"branches,omitempty"`
	Repeatable  bool        `json:"repeatable,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
	Description string      `json:"description,omitempty"`
}

type issueDTO struct {
	Severity string `json:"severity"`
	Tag      string `json:"tag"`
	Message  string `json:"message"`
}

type tickDTO struct {
	DeltaValue int32   `json:"delta_value"`
	Interval   float64 `json:"interval"`
	Paused     bool    `json:"paused"`
}

type recordDTO struct {
	MissionID int32    `json:"mission_id"`
	Tag       string   `json:"tag,omitempty"`
	State     string   `json:"state"`
	Required  []string `json:"required,omitempty"`
	Optional  []string `json:"optional,omitempty"`
	Tick      *tickDTO `json:"tick,omitempty"`
}

type outcomeDTO struct {
	MissionID   int32   `json:"mission_id"`
	Tag         string  `json:"tag"`
	State       string  `json:"state"`
	Branch      int     `json:"branch"`
	TargetTag   string  `json:"target_tag,omitempty"`
	TargetState string  `json:"target_state,omitempty"`
	Delayed     bool    `json:"delayed,omitempty"`
	Delay       float64 `json:"delay,omitempty"`
}

type roomDTO struct {
	ID      string `json:"id"`
	Players int    `json:"players"`
}

type reloadDTO struct {
	Reloaded bool     `json:"reloaded"`
	Missions int      `json:"missions"`
	Skipped  []string `json:"skipped,omitempty"`
}

func toMissionDTO(reg *catalog.Registry, def *catalog.Definition) missionDTO {
	dto := missionDTO{
		ID:          int32(def.ID),
		Tag:         string(def.Tag),
		TypeTag:     string(def.TypeTag),
		Table:       def.Ref.Table,
		Name:        def.Ref.Name,
		StartState:  def.StartState.String(),
		Required:    def.Completion.Required.Strings(),
		Optional:    def.Completion.Optional.Strings(),
		Repeatable:  def.Repeatable,
		DisplayName: def.Meta.Name,
		Description: def.Meta.Description,
	}
	for _, br := range def.Branches {
		b := branchDTO{
			Target:       br.Target.String(),
			Required:     br.Condition.Required.Strings(),
			Optional:     br.Condition.Optional.Strings(),
			Direct:       br.Direct,
			Behavior:     string(br.Behavior.Kind),
			DelaySeconds: br.Behavior.DelaySeconds,
		}
		if target, ok := reg.Target(br); ok {
			b.TargetTag = string(target.Tag)
		}
		dto.Branches = append(dto.Branches, b)
	}
	return dto
}

func toRecordDTO(reg *catalog.Registry, rec mission.Record) recordDTO {
	dto := recordDTO{
		MissionID: int32(rec.MissionID),
		State:     rec.Progress.Current.String(),
		Required:  rec.Progress.Conditions.Required.Strings(),
		Optional:  rec.Progress.Conditions.Optional.Strings(),
	}
	if def, ok := reg.ByID(rec.MissionID); ok {
		dto.Tag = string(def.Tag)
	}
	if rec.Tick != (mission.TickSettings{}) {
		dto.Tick = &tickDTO{DeltaValue: rec.Tick.DeltaValue, Interval: rec.Tick.Interval, Paused: rec.Tick.Paused}
	}
	return dto
}

func toOutcomeDTO(out engine.Outcome) outcomeDTO {
	return outcomeDTO{
		MissionID:   int32(out.MissionID),
		Tag:         string(out.Tag),
		State:       out.State.String(),
		Branch:      out.Branch,
		TargetTag:   string(out.TargetTag),
		TargetState: out.TargetState.String(),
		Delayed:     out.Delayed,
		Delay:       out.Delay,
	}
}

func toIssueDTOs(issues []catalog.Issue) []issueDTO {
	out := make([]issueDTO, 0, len(issues))
	for _, i := range issues {
		out = append(out, issueDTO{Severity: string(i.Severity), Tag: string(i.Tag), Message: i.Message})
	}
	return out
}
