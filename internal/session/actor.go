package session

import (
	"sync"

	"MissionCore/internal/mission"
	"MissionCore/internal/tags"
)

// Actor is the capability a tracked entity exposes. The mission core only
// reads Labels; the mutators exist for gameplay code and admin tooling.
type Actor interface {
	Labels() tags.Set
	AddLabels(list ...tags.Tag)
	RemoveLabels(list ...tags.Tag)
	ClearLabels()
}

// LabelSet is a mutex-guarded Actor implementation.
type LabelSet struct {
	mu     sync.RWMutex
	labels tags.Set
}

// NewLabelSet creates an actor holding the given labels.
func NewLabelSet(list ...tags.Tag) *LabelSet {
	return &LabelSet{labels: tags.NewSet(list...)}
}

// Labels returns a copy of the held labels.
func (l *LabelSet) Labels() tags.Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.labels.Clone()
}

// AddLabels implements Actor.
func (l *LabelSet) AddLabels(list ...tags.Tag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labels.Add(list...)
}

// RemoveLabels implements Actor.
func (l *LabelSet) RemoveLabels(list ...tags.Tag) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labels.Remove(list...)
}

// ClearLabels implements Actor.
func (l *LabelSet) ClearLabels() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.labels.Clear()
}

// SavedProgress is durable progress for one mission, keyed by tag because
// numeric ids do not survive a reload or restart.
type SavedProgress struct {
	Tag      tags.Tag
	Progress mission.Progress
	Tick     mission.TickSettings
}
