// Package engine applies mission transitions: grant, completion with branch
// resolution, delayed branch firing, failure and removal.
package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"MissionCore/internal/catalog"
	"MissionCore/internal/mission"
	"MissionCore/internal/session"
	"MissionCore/internal/tags"
	"MissionCore/internal/tracker"
)

// DefaultEpsilon is the delay at or below which a branch fires immediately.
const DefaultEpsilon = 1e-3

// Options configures an Engine.
type Options struct {
	Sessions  *session.Registry
	Scheduler Scheduler
	Logger    *log.Logger
	Epsilon   float64
	Tracer    trace.Tracer
}

// Outcome reports what an accepted operation did.
type Outcome struct {
	MissionID   mission.ID
	Tag         tags.Tag
	State       mission.State // state of the mission after the call
	Branch      int           // selected branch index, -1 when none
	Target      mission.ID
	TargetTag   tags.Tag
	TargetState mission.State
	Delayed     bool
	Delay       float64
}

type pendingKey struct {
	actor   int32
	mission tags.Tag
}

type pendingTimer struct {
	gen    uint64
	handle Handle
}

// Engine resolves mission transitions for registered actors.
type Engine struct {
	sessions *session.Registry
	sched    Scheduler
	logger   *log.Logger
	epsilon  float64
	tracer   trace.Tracer

	mu      sync.Mutex
	pending map[pendingKey]pendingTimer
	nextGen uint64
}

// New creates an engine and hooks actor deregistration so in-flight delayed
// transitions are cancelled.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultEpsilon
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewTimerScheduler()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("MissionCore/engine")
	}
	e := &Engine{
		sessions: opts.Sessions,
		sched:    opts.Scheduler,
		logger:   opts.Logger,
		epsilon:  opts.Epsilon,
		tracer:   opts.Tracer,
		pending:  make(map[pendingKey]pendingTimer),
	}
	opts.Sessions.OnDeregister(e.CancelActor)
	return e
}

// resolve finds the actor entry and the definition for a call. On success
// the entry is returned locked and the definition is taken from the registry
// the actor's store is numbered against; the caller must Unlock.
func (e *Engine) resolve(actorID int32, ref string) (*catalog.Registry, *catalog.Definition, *session.Entry, error) {
	entry, reg, err := e.sessions.Acquire(actorID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !entry.Store.HasAuthority() {
		entry.Unlock()
		return nil, nil, nil, mission.Errorf(mission.CodeUnauthorized, "actor %d store is not authoritative", actorID)
	}
	def, ok := reg.Lookup(ref)
	if !ok {
		entry.Unlock()
		return nil, nil, nil, mission.WithMetadata(mission.CodeNotFound,
			fmt.Sprintf("mission %q not found", ref),
			map[string]string{"actor": strconv.Itoa(int(actorID)), "ref": ref})
	}
	return reg, def, entry, nil
}

func (e *Engine) startSpan(ctx context.Context, name string, actorID int32, ref string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("mission.actor_id", int(actorID)),
		attribute.String("mission.ref", ref),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CompleteMission completes an Active mission and resolves its branches.
//
// The first branch whose condition the actor satisfies wins. With no
// branches the mission simply completes. When branches exist but none
// applies the mission is soft-locked: a configuration error is logged and
// returned and nothing changes. A branch delay above epsilon parks the
// mission in Pending and schedules the transition.
func (e *Engine) CompleteMission(ctx context.Context, actorID int32, ref string) (out Outcome, err error) {
	_, span := e.startSpan(ctx, "engine.CompleteMission", actorID, ref)
	defer func() { endSpan(span, err) }()

	reg, def, entry, err := e.resolve(actorID, ref)
	if err != nil {
		return Outcome{}, err
	}
	defer entry.Unlock()
	span.SetAttributes(attribute.String("mission.tag", string(def.Tag)))

	rec, ok := entry.Store.Get(def.ID)
	if !ok {
		return Outcome{}, mission.Errorf(mission.CodeNotFound, "actor %d does not track mission %s", actorID, def.Tag)
	}
	held := entry.Actor.Labels()
	if !rec.Progress.Conditions.Satisfied(held) {
		return Outcome{}, mission.WithMetadata(mission.CodeConditionsNotMet,
			fmt.Sprintf("actor %d cannot complete %s", actorID, def.Tag),
			map[string]string{"missing": fmt.Sprint(rec.Progress.Conditions.Missing(held))})
	}
	if rec.Progress.Current != mission.StateActive {
		return Outcome{}, mission.Errorf(mission.CodeInvalidState, "mission %s is %s for actor %d", def.Tag, rec.Progress.Current, actorID)
	}

	out = Outcome{MissionID: def.ID, Tag: def.Tag, Branch: -1}

	if len(def.Branches) == 0 {
		completed := rec.Progress.Clone()
		completed.Current = mission.StateCompleted
		if err := entry.Store.Upsert(def.ID, completed); err != nil {
			return Outcome{}, err
		}
		out.State = mission.StateCompleted
		e.logger.Printf("[engine] completed actor=%d mission=%d tag=%s", actorID, def.ID, def.Tag)
		return out, nil
	}

	idx, ok := SelectBranch(def.Branches, held)
	if !ok {
		e.logger.Printf("[engine] %s: soft-lock, no branch condition met actor=%d mission=%d tag=%s branches=%d",
			mission.CodeConfigurationError, actorID, def.ID, def.Tag, len(def.Branches))
		return Outcome{}, mission.Errorf(mission.CodeConfigurationError, "mission %s: no branch applies for actor %d", def.Tag, actorID)
	}
	br := def.Branches[idx]
	target, ok := reg.Target(br)
	if !ok {
		e.logger.Printf("[engine] %s: branch %d of tag=%s targets missing row %s actor=%d",
			mission.CodeConfigurationError, idx, def.Tag, br.Target, actorID)
		return Outcome{}, mission.Errorf(mission.CodeConfigurationError, "mission %s: branch %d targets missing row %s", def.Tag, idx, br.Target)
	}
	out.Branch = idx
	out.Target = target.ID
	out.TargetTag = target.Tag
	out.TargetState = br.Behavior.Kind.ResultState()

	if br.Behavior.DelaySeconds <= e.epsilon {
		if err := e.commitLocked(entry, def, target, br); err != nil {
			return Outcome{}, err
		}
		out.State = mission.StateCompleted
		if target.ID == def.ID {
			out.State = out.TargetState
		}
		e.logger.Printf("[engine] completed actor=%d mission=%d tag=%s branch=%d target=%s state=%s",
			actorID, def.ID, def.Tag, idx, target.Tag, out.TargetState)
		return out, nil
	}

	pending := rec.Progress.Clone()
	pending.Current = mission.StatePending
	if err := entry.Store.Upsert(def.ID, pending); err != nil {
		return Outcome{}, err
	}
	e.schedule(actorID, def.Tag, br)
	out.State = mission.StatePending
	out.Delayed = true
	out.Delay = br.Behavior.DelaySeconds
	e.logger.Printf("[engine] pending actor=%d mission=%d tag=%s branch=%d target=%s delay=%.2fs",
		actorID, def.ID, def.Tag, idx, target.Tag, br.Behavior.DelaySeconds)
	return out, nil
}

// commitLocked writes source Completed and target per behaviour in one
// atomic store update. The caller holds the entry lock.
func (e *Engine) commitLocked(entry *session.Entry, def, target *catalog.Definition, br catalog.Branch) error {
	source, ok := entry.Store.Get(def.ID)
	if !ok {
		source = def.InitialRecord()
	}
	completed := source.Progress.Clone()
	completed.Current = mission.StateCompleted

	next := target.InitialRecord().Progress
	if existing, ok := entry.Store.Get(target.ID); ok {
		next = existing.Progress.Clone()
	}
	next.Current = br.Behavior.Kind.ResultState()

	return entry.Store.Apply([]tracker.Change{
		{MissionID: def.ID, Progress: completed},
		{MissionID: target.ID, Progress: next},
	})
}

// schedule arms the delayed transition for (actor, mission), replacing any
// earlier one. Missions are keyed by tag so a catalog reload in between does
// not misroute the fire.
func (e *Engine) schedule(actorID int32, source tags.Tag, br catalog.Branch) {
	key := pendingKey{actor: actorID, mission: source}

	e.mu.Lock()
	e.nextGen++
	gen := e.nextGen
	prev, hadPrev := e.pending[key]
	e.pending[key] = pendingTimer{gen: gen}
	e.mu.Unlock()

	if hadPrev && prev.handle != "" {
		e.sched.Cancel(prev.handle)
		e.logger.Printf("[engine] replaced pending transition actor=%d tag=%s", actorID, source)
	}

	branch := br
	branch.Condition = br.Condition.Clone()
	h := e.sched.Schedule(secondsToDuration(br.Behavior.DelaySeconds), func() {
		e.fire(key, gen, branch)
	})

	e.mu.Lock()
	if p, ok := e.pending[key]; ok && p.gen == gen {
		p.handle = h
		e.pending[key] = p
	}
	e.mu.Unlock()
}

// fire runs a scheduled transition. Anything that no longer holds drops the
// transition with a log line; there is no retry.
func (e *Engine) fire(key pendingKey, gen uint64, br catalog.Branch) {
	e.mu.Lock()
	p, ok := e.pending[key]
	if !ok || p.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.pending, key)
	e.mu.Unlock()

	var err error
	_, span := e.startSpan(context.Background(), "engine.FireTransition", key.actor, string(key.mission))
	defer func() { endSpan(span, err) }()

	entry, reg, lookupErr := e.sessions.Acquire(key.actor)
	if lookupErr != nil {
		e.logger.Printf("[engine] drop transition actor=%d tag=%s: actor not registered", key.actor, key.mission)
		return
	}
	defer entry.Unlock()
	def, ok := reg.ByTag(key.mission)
	if !ok {
		e.logger.Printf("[engine] drop transition actor=%d tag=%s: mission no longer defined", key.actor, key.mission)
		return
	}

	rec, ok := entry.Store.Get(def.ID)
	if !ok || rec.Progress.Current != mission.StatePending {
		state := mission.State("absent")
		if ok {
			state = rec.Progress.Current
		}
		e.logger.Printf("[engine] drop transition actor=%d mission=%d tag=%s: state is %s, not pending", key.actor, def.ID, def.Tag, state)
		return
	}
	if !br.Condition.Satisfied(entry.Actor.Labels()) {
		e.logger.Printf("[engine] drop transition actor=%d mission=%d tag=%s: branch condition no longer met", key.actor, def.ID, def.Tag)
		return
	}
	target, ok := reg.Target(br)
	if !ok {
		e.logger.Printf("[engine] drop transition actor=%d mission=%d tag=%s: target %s missing", key.actor, def.ID, def.Tag, br.Target)
		return
	}
	if err = e.commitLocked(entry, def, target, br); err != nil {
		e.logger.Printf("[engine] drop transition actor=%d mission=%d tag=%s: %v", key.actor, def.ID, def.Tag, err)
		return
	}
	e.logger.Printf("[engine] fired transition actor=%d mission=%d tag=%s target=%s state=%s",
		key.actor, def.ID, def.Tag, target.Tag, br.Behavior.Kind.ResultState())
}

// GrantMission activates a mission. Inactive, Invalid and untracked missions
// become Active; Completed and Failed ones only when repeatable.
func (e *Engine) GrantMission(ctx context.Context, actorID int32, ref string) (out Outcome, err error) {
	_, span := e.startSpan(ctx, "engine.GrantMission", actorID, ref)
	defer func() { endSpan(span, err) }()

	_, def, entry, err := e.resolve(actorID, ref)
	if err != nil {
		return Outcome{}, err
	}
	defer entry.Unlock()

	progress := def.InitialRecord().Progress
	if rec, ok := entry.Store.Get(def.ID); ok {
		progress = rec.Progress.Clone()
		switch progress.Current {
		case mission.StateInactive, mission.StateInvalid:
		case mission.StateCompleted, mission.StateFailed:
			if !def.Repeatable {
				return Outcome{}, mission.Errorf(mission.CodeInvalidState, "mission %s is %s and not repeatable", def.Tag, progress.Current)
			}
		default:
			return Outcome{}, mission.Errorf(mission.CodeInvalidState, "mission %s is already %s", def.Tag, progress.Current)
		}
	}
	progress.Current = mission.StateActive
	if err := entry.Store.Upsert(def.ID, progress); err != nil {
		return Outcome{}, err
	}
	e.logger.Printf("[engine] granted actor=%d mission=%d tag=%s", actorID, def.ID, def.Tag)
	return Outcome{MissionID: def.ID, Tag: def.Tag, State: mission.StateActive, Branch: -1}, nil
}

// FailMission fails an Active or Pending mission and cancels its timer.
func (e *Engine) FailMission(ctx context.Context, actorID int32, ref string) (out Outcome, err error) {
	_, span := e.startSpan(ctx, "engine.FailMission", actorID, ref)
	defer func() { endSpan(span, err) }()

	_, def, entry, err := e.resolve(actorID, ref)
	if err != nil {
		return Outcome{}, err
	}
	defer entry.Unlock()

	rec, ok := entry.Store.Get(def.ID)
	if !ok {
		return Outcome{}, mission.Errorf(mission.CodeNotFound, "actor %d does not track mission %s", actorID, def.Tag)
	}
	if rec.Progress.Current != mission.StateActive && rec.Progress.Current != mission.StatePending {
		return Outcome{}, mission.Errorf(mission.CodeInvalidState, "mission %s is %s", def.Tag, rec.Progress.Current)
	}
	e.cancel(actorID, def.Tag)
	failed := rec.Progress.Clone()
	failed.Current = mission.StateFailed
	if err := entry.Store.Upsert(def.ID, failed); err != nil {
		return Outcome{}, err
	}
	e.logger.Printf("[engine] failed actor=%d mission=%d tag=%s", actorID, def.ID, def.Tag)
	return Outcome{MissionID: def.ID, Tag: def.Tag, State: mission.StateFailed, Branch: -1}, nil
}

// RemoveMission marks a mission Invalid for the actor and cancels its timer.
// The record stays in the store so positions remain stable.
func (e *Engine) RemoveMission(ctx context.Context, actorID int32, ref string) (out Outcome, err error) {
	_, span := e.startSpan(ctx, "engine.RemoveMission", actorID, ref)
	defer func() { endSpan(span, err) }()

	_, def, entry, err := e.resolve(actorID, ref)
	if err != nil {
		return Outcome{}, err
	}
	defer entry.Unlock()

	e.cancel(actorID, def.Tag)
	progress := def.InitialRecord().Progress
	if rec, ok := entry.Store.Get(def.ID); ok {
		progress = rec.Progress.Clone()
	}
	progress.Current = mission.StateInvalid
	if err := entry.Store.Upsert(def.ID, progress); err != nil {
		return Outcome{}, err
	}
	e.logger.Printf("[engine] removed actor=%d mission=%d tag=%s", actorID, def.ID, def.Tag)
	return Outcome{MissionID: def.ID, Tag: def.Tag, State: mission.StateInvalid, Branch: -1}, nil
}

// SetUserTags adds and removes runtime tags on a mission's condition
// snapshot. The definition is never touched.
func (e *Engine) SetUserTags(ctx context.Context, actorID int32, ref string, add, remove []tags.Tag) (out Outcome, err error) {
	_, span := e.startSpan(ctx, "engine.SetUserTags", actorID, ref)
	defer func() { endSpan(span, err) }()

	_, def, entry, err := e.resolve(actorID, ref)
	if err != nil {
		return Outcome{}, err
	}
	defer entry.Unlock()

	rec, ok := entry.Store.Get(def.ID)
	if !ok {
		return Outcome{}, mission.Errorf(mission.CodeNotFound, "actor %d does not track mission %s", actorID, def.Tag)
	}
	progress := rec.Progress.Clone()
	progress.Conditions.RemoveOptional(remove...)
	progress.Conditions.AppendOptional(add...)
	if err := entry.Store.Upsert(def.ID, progress); err != nil {
		return Outcome{}, err
	}
	return Outcome{MissionID: def.ID, Tag: def.Tag, State: progress.Current, Branch: -1}, nil
}

func (e *Engine) cancel(actorID int32, tag tags.Tag) {
	key := pendingKey{actor: actorID, mission: tag}
	e.mu.Lock()
	p, ok := e.pending[key]
	delete(e.pending, key)
	e.mu.Unlock()
	if ok && p.handle != "" {
		e.sched.Cancel(p.handle)
	}
}

// CancelActor drops every pending transition of an actor.
func (e *Engine) CancelActor(actorID int32) {
	var handles []Handle
	e.mu.Lock()
	for key, p := range e.pending {
		if key.actor == actorID {
			delete(e.pending, key)
			if p.handle != "" {
				handles = append(handles, p.handle)
			}
		}
	}
	e.mu.Unlock()
	for _, h := range handles {
		e.sched.Cancel(h)
	}
	if len(handles) > 0 {
		e.logger.Printf("[engine] cancelled %d pending transitions actor=%d", len(handles), actorID)
	}
}

// Pending returns the number of transitions in flight for an actor.
func (e *Engine) Pending(actorID int32) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for key := range e.pending {
		if key.actor == actorID {
			n++
		}
	}
	return n
}

// Close cancels every pending transition.
func (e *Engine) Close() {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[pendingKey]pendingTimer)
	e.mu.Unlock()
	for _, p := range pending {
		if p.handle != "" {
			e.sched.Cancel(p.handle)
		}
	}
}
