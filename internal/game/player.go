package game

import (
	"sync"

	"MissionCore/internal/mission"
	"MissionCore/internal/session"
	"MissionCore/internal/tags"
	"MissionCore/internal/tracker"
)

// OutboundMessage packages queued websocket events.
type OutboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// MissionEvent is pushed to players watching a mission.
type MissionEvent struct {
	MissionID int32    `json:"mission_id"`
	Tag       string   `json:"tag"`
	State     string   `json:"state"`
	Required  []string `json:"required,omitempty"`
	Optional  []string `json:"optional,omitempty"`
}

func newMissionEvent(id mission.ID, tag tags.Tag, p mission.Progress) MissionEvent {
	return MissionEvent{
		MissionID: int32(id),
		Tag:       string(tag),
		State:     p.Current.String(),
		Required:  p.Conditions.Required.Strings(),
		Optional:  p.Conditions.Optional.Strings(),
	}
}

// Player is a connected participant. It holds the labels mission conditions
// are evaluated against and queues JSON events for its connection.
type Player struct {
	ID      string
	Name    string
	Key     string
	ActorID int32
	Store   *tracker.Store

	labels *session.LabelSet

	mu      sync.Mutex
	outbox  []OutboundMessage
	dropped int
}

// NewPlayer creates a player holding the given labels.
func NewPlayer(id, name, key string, labels ...tags.Tag) *Player {
	return &Player{ID: id, Name: name, Key: key, labels: session.NewLabelSet(labels...)}
}

// Labels returns a copy of the tags mission conditions are checked against.
func (p *Player) Labels() tags.Set {
	return p.labels.Labels()
}

func (p *Player) AddLabels(list ...tags.Tag) {
	p.labels.AddLabels(list...)
}

func (p *Player) RemoveLabels(list ...tags.Tag) {
	p.labels.RemoveLabels(list...)
}

func (p *Player) ClearLabels() {
	p.labels.ClearLabels()
}

// SendMessage queues an event. When the outbox is full the oldest event is
// dropped.
func (p *Player) SendMessage(typ string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outbox) >= OutboxLimit {
		p.outbox = p.outbox[1:]
		p.dropped++
	}
	p.outbox = append(p.outbox, OutboundMessage{Type: typ, Payload: payload})
}

// DrainMessages returns and clears queued events.
func (p *Player) DrainMessages() []OutboundMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.outbox
	p.outbox = nil
	return out
}

// Dropped reports how many events were discarded on overflow.
func (p *Player) Dropped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
