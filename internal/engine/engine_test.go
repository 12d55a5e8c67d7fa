package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"testing"
	"time"

	"MissionCore/internal/catalog"
	"MissionCore/internal/mission"
	"MissionCore/internal/session"
	"MissionCore/internal/tags"
	"MissionCore/internal/tracker"
)

type fakeTask struct {
	delay time.Duration
	fn    func()
}

// fakeScheduler records callbacks and runs them only when the test asks.
type fakeScheduler struct {
	mu        sync.Mutex
	next      int
	tasks     map[Handle]fakeTask
	cancelled map[Handle]fakeTask
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[Handle]fakeTask), cancelled: make(map[Handle]fakeTask)}
}

func (f *fakeScheduler) Schedule(delay time.Duration, fn func()) Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	h := Handle(fmt.Sprintf("h%03d", f.next))
	f.tasks[h] = fakeTask{delay: delay, fn: fn}
	return h
}

func (f *fakeScheduler) Cancel(h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[h]
	if ok {
		delete(f.tasks, h)
		f.cancelled[h] = task
	}
	return ok
}

func (f *fakeScheduler) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeScheduler) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for _, task := range f.tasks {
		out = append(out, task.delay)
	}
	return out
}

func drainTasks(tasks map[Handle]fakeTask) []func() {
	handles := make([]Handle, 0, len(tasks))
	for h := range tasks {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	fns := make([]func(), 0, len(handles))
	for _, h := range handles {
		fns = append(fns, tasks[h].fn)
		delete(tasks, h)
	}
	return fns
}

// FireAll runs every outstanding callback in scheduling order.
func (f *fakeScheduler) FireAll() int {
	f.mu.Lock()
	fns := drainTasks(f.tasks)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// FireCancelled runs callbacks that were cancelled, simulating a timer that
// raced its cancellation.
func (f *fakeScheduler) FireCancelled() int {
	f.mu.Lock()
	fns := drainTasks(f.cancelled)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

type harness struct {
	engine   *Engine
	sessions *session.Registry
	sched    *fakeScheduler
	actor    *session.LabelSet
	store    *tracker.Store
	reg      *catalog.Registry
}

type staticSource struct{ reg *catalog.Registry }

func (s staticSource) Registry() *catalog.Registry { return s.reg }

const actorID int32 = 1

func newHarness(t *testing.T, rows []catalog.Row, labels ...tags.Tag) *harness {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	reg, report := catalog.Load([]catalog.Table{catalog.NewMemTable("intro", rows)}, logger)
	if len(report.Skipped) != 0 {
		t.Fatalf("unexpected skipped rows: %+v", report.Skipped)
	}
	src := staticSource{reg: reg}
	sessions := session.NewRegistry(src, logger)
	sched := newFakeScheduler()
	eng := New(Options{Sessions: sessions, Scheduler: sched, Logger: logger})

	actor := session.NewLabelSet(labels...)
	store := tracker.NewStore(true, logger)
	if _, err := sessions.Register(context.Background(), actorID, "", actor, store); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &harness{engine: eng, sessions: sessions, sched: sched, actor: actor, store: store, reg: reg}
}

func (h *harness) state(t *testing.T, tag tags.Tag) mission.State {
	t.Helper()
	rec, ok := h.store.GetByTag(h.reg, tag)
	if !ok {
		t.Fatalf("no record for %s", tag)
	}
	return rec.Progress.Current
}

func (h *harness) countChanges(tag tags.Tag) *int {
	id, _ := h.reg.ResolveID(tag)
	n := new(int)
	h.store.OnRecordChanged(func(changed mission.ID, _ mission.Progress) {
		if changed == id {
			*n++
		}
	})
	return n
}

func introRows() []catalog.Row {
	return []catalog.Row{
		{Name: "start", Tag: "Mission.Intro.Start", StartState: "inactive", Branches: []catalog.BranchRow{{Target: "next"}}},
		{Name: "next", Tag: "Mission.Intro.Next", StartState: "locked"},
	}
}

func TestSelectBranchFirstApplicable(t *testing.T) {
	branches := []catalog.Branch{
		{Target: catalog.Ref{Name: "b0"}, Condition: tags.NewCondition([]tags.Tag{"Missing"}, nil)},
		{Target: catalog.Ref{Name: "b1"}, Condition: tags.NewCondition([]tags.Tag{"Held"}, nil)},
		{Target: catalog.Ref{Name: "b2"}, Condition: tags.Condition{}},
	}
	idx, ok := SelectBranch(branches, tags.NewSet("Held"))
	if !ok || idx != 1 {
		t.Fatalf("expected branch 1, got %d (ok=%v)", idx, ok)
	}
	if _, ok := SelectBranch(branches[:1], tags.NewSet("Held")); ok {
		t.Fatal("expected no branch to match")
	}
}

func TestEndToEndIntro(t *testing.T) {
	h := newHarness(t, introRows())
	ctx := context.Background()

	var seen []mission.State
	h.store.OnRecordChanged(func(_ mission.ID, p mission.Progress) {
		seen = append(seen, p.Current)
	})

	if _, err := h.engine.GrantMission(ctx, actorID, "Mission.Intro.Start"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if got := h.state(t, "Mission.Intro.Start"); got != mission.StateActive {
		t.Fatalf("expected start active after grant, got %s", got)
	}

	out, err := h.engine.CompleteMission(ctx, actorID, "Mission.Intro.Start")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Delayed || out.Branch != 0 || out.TargetTag != "Mission.Intro.Next" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := h.state(t, "Mission.Intro.Start"); got != mission.StateCompleted {
		t.Fatalf("expected start completed, got %s", got)
	}
	if got := h.state(t, "Mission.Intro.Next"); got != mission.StateActive {
		t.Fatalf("expected next active, got %s", got)
	}
	for _, s := range seen {
		if s == mission.StatePending {
			t.Fatal("pending must never be observed for a zero-delay branch")
		}
	}
	if h.sched.Len() != 0 {
		t.Fatal("zero-delay branch must not schedule a timer")
	}
}

func TestCompleteUnlockBehavior(t *testing.T) {
	rows := []catalog.Row{
		{Name: "start", Tag: "Quest.Start", StartState: "active", Branches: []catalog.BranchRow{{Target: "next", Behavior: "unlock"}}},
		{Name: "next", Tag: "Quest.Next", StartState: "locked"},
	}
	h := newHarness(t, rows)
	if _, err := h.engine.CompleteMission(context.Background(), actorID, "Quest.Start"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := h.state(t, "Quest.Next"); got != mission.StateInactive {
		t.Fatalf("expected unlocked target to be inactive, got %s", got)
	}
}

func TestCompleteWithoutBranches(t *testing.T) {
	rows := []catalog.Row{{Name: "solo", Tag: "Quest.Solo", StartState: "active"}}
	h := newHarness(t, rows)
	out, err := h.engine.CompleteMission(context.Background(), actorID, "solo")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.State != mission.StateCompleted || out.Branch != -1 {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestCompleteSoftLock(t *testing.T) {
	rows := []catalog.Row{
		{Name: "gated", Tag: "Quest.Gated", StartState: "active", Branches: []catalog.BranchRow{
			{Target: "next", Required: []string{"Faction.Red"}},
			{Target: "next", Required: []string{"Faction.Blue"}},
		}},
		{Name: "next", Tag: "Quest.Next", StartState: "locked"},
	}
	h := newHarness(t, rows, "Faction.Green")
	changes := h.countChanges("Quest.Gated")

	_, err := h.engine.CompleteMission(context.Background(), actorID, "Quest.Gated")
	if !errors.Is(err, mission.ErrConfigurationError) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if got := h.state(t, "Quest.Gated"); got != mission.StateActive {
		t.Fatalf("soft-locked mission must stay active, got %s", got)
	}
	if got := h.state(t, "Quest.Next"); got != mission.StateLocked {
		t.Fatalf("target must be unchanged, got %s", got)
	}
	if *changes != 0 {
		t.Fatalf("no notification expected, got %d", *changes)
	}
}

func TestCompleteRejections(t *testing.T) {
	rows := []catalog.Row{
		{Name: "needs", Tag: "Quest.Needs", StartState: "active", Required: []string{"Item.Key"}},
		{Name: "inactive", Tag: "Quest.Inactive", StartState: "inactive"},
		{Name: "locked", Tag: "Quest.Locked", StartState: "locked"},
		{Name: "pending", Tag: "Quest.Pending", StartState: "pending"},
		{Name: "completed", Tag: "Quest.Completed", StartState: "completed"},
		{Name: "failed", Tag: "Quest.Failed", StartState: "failed"},
	}
	h := newHarness(t, rows)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   int32
		ref     string
		wantErr *mission.Error
	}{
		{name: "unknown mission", actor: actorID, ref: "Quest.Unknown", wantErr: mission.ErrNotFound},
		{name: "unknown actor", actor: 99, ref: "Quest.Inactive", wantErr: mission.ErrNotFound},
		{name: "conditions not met", actor: actorID, ref: "Quest.Needs", wantErr: mission.ErrConditionsNotMet},
		{name: "inactive", actor: actorID, ref: "Quest.Inactive", wantErr: mission.ErrInvalidState},
		{name: "locked", actor: actorID, ref: "Quest.Locked", wantErr: mission.ErrInvalidState},
		{name: "pending", actor: actorID, ref: "Quest.Pending", wantErr: mission.ErrInvalidState},
		{name: "completed", actor: actorID, ref: "Quest.Completed", wantErr: mission.ErrInvalidState},
		{name: "failed", actor: actorID, ref: "Quest.Failed", wantErr: mission.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.store.Snapshot()
			_, err := h.engine.CompleteMission(ctx, tt.actor, tt.ref)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %s, got %v", tt.wantErr.Code, err)
			}
			after := h.store.Snapshot()
			for i := range before {
				if !before[i].Equal(after[i]) {
					t.Fatalf("rejected call changed record %d", before[i].MissionID)
				}
			}
		})
	}
}

func TestCompleteTwiceIsRejected(t *testing.T) {
	rows := []catalog.Row{
		{Name: "start", Tag: "Quest.Start", StartState: "active", Branches: []catalog.BranchRow{{Target: "next"}}},
		{Name: "next", Tag: "Quest.Next", StartState: "locked"},
	}
	h := newHarness(t, rows)
	ctx := context.Background()
	targetChanges := h.countChanges("Quest.Next")

	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Start"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err := h.engine.CompleteMission(ctx, actorID, "Quest.Start")
	if !errors.Is(err, mission.ErrInvalidState) {
		t.Fatalf("expected invalid state on second complete, got %v", err)
	}
	if *targetChanges != 1 {
		t.Fatalf("branch resolution must run once, target changed %d times", *targetChanges)
	}
}

func delayedRows(required ...string) []catalog.Row {
	return []catalog.Row{
		{Name: "wait", Tag: "Quest.Wait", StartState: "active", Branches: []catalog.BranchRow{
			{Target: "next", DelaySeconds: 5, Required: required},
		}},
		{Name: "next", Tag: "Quest.Next", StartState: "locked"},
	}
}

func TestDelayedTransition(t *testing.T) {
	h := newHarness(t, delayedRows())
	targetChanges := h.countChanges("Quest.Next")

	out, err := h.engine.CompleteMission(context.Background(), actorID, "Quest.Wait")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !out.Delayed || out.State != mission.StatePending || out.Delay != 5 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := h.state(t, "Quest.Wait"); got != mission.StatePending {
		t.Fatalf("expected pending, got %s", got)
	}
	if got := h.state(t, "Quest.Next"); got != mission.StateLocked {
		t.Fatalf("target must not move before the timer fires, got %s", got)
	}
	delays := h.sched.Delays()
	if len(delays) != 1 || delays[0] != 5*time.Second {
		t.Fatalf("expected one 5s timer, got %v", delays)
	}
	if h.engine.Pending(actorID) != 1 {
		t.Fatalf("expected one pending transition, got %d", h.engine.Pending(actorID))
	}

	if n := h.sched.FireAll(); n != 1 {
		t.Fatalf("expected 1 fired timer, got %d", n)
	}
	if got := h.state(t, "Quest.Next"); got != mission.StateActive {
		t.Fatalf("expected target active after fire, got %s", got)
	}
	if got := h.state(t, "Quest.Wait"); got != mission.StateCompleted {
		t.Fatalf("expected source completed after fire, got %s", got)
	}
	if *targetChanges != 1 {
		t.Fatalf("expected exactly one notification for the target, got %d", *targetChanges)
	}
	if h.engine.Pending(actorID) != 0 {
		t.Fatal("fired transition must be cleared")
	}

	_, err = h.engine.CompleteMission(context.Background(), actorID, "Quest.Wait")
	if !errors.Is(err, mission.ErrInvalidState) {
		t.Fatalf("expected invalid state after completion, got %v", err)
	}
}

func TestDelayedTransitionRevalidatesBranch(t *testing.T) {
	h := newHarness(t, delayedRows("Faction.Red"), "Faction.Red")
	if _, err := h.engine.CompleteMission(context.Background(), actorID, "Quest.Wait"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	h.actor.RemoveLabels("Faction.Red")
	h.sched.FireAll()

	if got := h.state(t, "Quest.Next"); got != mission.StateLocked {
		t.Fatalf("transition must be dropped when branch condition lapses, got %s", got)
	}
	if got := h.state(t, "Quest.Wait"); got != mission.StatePending {
		t.Fatalf("source stays pending after a dropped transition, got %s", got)
	}
}

func TestDelayedTransitionDroppedWhenNoLongerPending(t *testing.T) {
	h := newHarness(t, delayedRows())
	ctx := context.Background()
	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := h.engine.FailMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if h.sched.Len() != 0 {
		t.Fatal("fail must cancel the pending timer")
	}
	if n := h.sched.FireCancelled(); n != 1 {
		t.Fatalf("expected one cancelled task, got %d", n)
	}
	if got := h.state(t, "Quest.Next"); got != mission.StateLocked {
		t.Fatalf("late fire after fail must not move the target, got %s", got)
	}
	if got := h.state(t, "Quest.Wait"); got != mission.StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestRescheduleReplacesPendingTransition(t *testing.T) {
	h := newHarness(t, delayedRows())
	ctx := context.Background()
	targetChanges := h.countChanges("Quest.Next")

	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	id, _ := h.reg.ResolveID("Quest.Wait")
	if err := h.store.Upsert(id, mission.Progress{Current: mission.StateActive}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("second complete: %v", err)
	}

	if h.sched.Len() != 1 {
		t.Fatalf("expected one live timer after rescheduling, got %d", h.sched.Len())
	}
	if h.engine.Pending(actorID) != 1 {
		t.Fatalf("expected one pending transition, got %d", h.engine.Pending(actorID))
	}
	h.sched.FireCancelled()
	h.sched.FireAll()
	if *targetChanges != 1 {
		t.Fatalf("replaced timer must not fire, target changed %d times", *targetChanges)
	}
}

func TestDeregisterCancelsPendingTransitions(t *testing.T) {
	h := newHarness(t, delayedRows())
	ctx := context.Background()
	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := h.sessions.Deregister(ctx, actorID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if h.engine.Pending(actorID) != 0 || h.sched.Len() != 0 {
		t.Fatal("deregister must cancel pending transitions")
	}
	if n := h.sched.FireCancelled(); n != 1 {
		t.Fatalf("expected one cancelled timer, got %d", n)
	}
	if got := h.state(t, "Quest.Next"); got != mission.StateLocked {
		t.Fatalf("fire into a deregistered actor must be a no-op, got %s", got)
	}
}

type memProgress struct {
	saved map[string][]session.SavedProgress
}

func (m *memProgress) LoadProgress(ctx context.Context, key string) ([]session.SavedProgress, error) {
	return m.saved[key], nil
}

func (m *memProgress) SaveProgress(ctx context.Context, key string, entries []session.SavedProgress) error {
	m.saved[key] = entries
	return nil
}

func TestPendingMissionResumesAfterRejoin(t *testing.T) {
	h := newHarness(t, delayedRows())
	ps := &memProgress{saved: map[string][]session.SavedProgress{}}
	h.sessions.SetProgressStore(ps)
	ctx := context.Background()

	const keyed int32 = 2
	first := tracker.NewStore(true, log.New(io.Discard, "", 0))
	if _, err := h.sessions.Register(ctx, keyed, "player-a", session.NewLabelSet(), first); err != nil {
		t.Fatalf("register: %v", err)
	}
	if out, err := h.engine.CompleteMission(ctx, keyed, "Quest.Wait"); err != nil || out.State != mission.StatePending {
		t.Fatalf("expected pending outcome, got %+v, %v", out, err)
	}
	if err := h.sessions.Deregister(ctx, keyed); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	for _, sp := range ps.saved["player-a"] {
		if sp.Progress.Current == mission.StatePending {
			t.Fatalf("pending must not be saved, got %s for %s", sp.Progress.Current, sp.Tag)
		}
	}

	second := tracker.NewStore(true, log.New(io.Discard, "", 0))
	if _, err := h.sessions.Register(ctx, keyed, "player-a", session.NewLabelSet(), second); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	rec, ok := second.GetByTag(h.reg, "Quest.Wait")
	if !ok || rec.Progress.Current != mission.StateActive {
		t.Fatalf("expected restored mission active, got %+v", rec)
	}
	out, err := h.engine.CompleteMission(ctx, keyed, "Quest.Wait")
	if err != nil {
		t.Fatalf("complete after rejoin: %v", err)
	}
	if out.State != mission.StatePending || h.engine.Pending(keyed) != 1 {
		t.Fatalf("expected a fresh pending transition, got %+v pending=%d", out, h.engine.Pending(keyed))
	}
}

func TestFireIntoAbsentActorIsNoop(t *testing.T) {
	h := newHarness(t, delayedRows())
	ctx := context.Background()
	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Remove the actor without running deregister hooks.
	other := session.NewRegistry(staticSource{reg: h.reg}, log.New(io.Discard, "", 0))
	h.engine.sessions = other
	if n := h.sched.FireAll(); n != 1 {
		t.Fatalf("expected one fire, got %d", n)
	}
	if got := h.state(t, "Quest.Wait"); got != mission.StatePending {
		t.Fatalf("expected untouched pending state, got %s", got)
	}
}

func TestGrantMission(t *testing.T) {
	rows := []catalog.Row{
		{Name: "inactive", Tag: "Quest.Inactive", StartState: "inactive"},
		{Name: "invalid", Tag: "Quest.Invalid", StartState: "invalid"},
		{Name: "active", Tag: "Quest.Active", StartState: "active"},
		{Name: "pending", Tag: "Quest.Pending", StartState: "pending"},
		{Name: "locked", Tag: "Quest.Locked", StartState: "locked"},
		{Name: "done", Tag: "Quest.Done", StartState: "completed"},
		{Name: "again", Tag: "Quest.Again", StartState: "completed", Repeatable: true},
		{Name: "retry", Tag: "Quest.Retry", StartState: "failed", Repeatable: true},
	}
	h := newHarness(t, rows)

	tests := []struct {
		ref     string
		wantErr error
	}{
		{ref: "Quest.Inactive"},
		{ref: "Quest.Invalid"},
		{ref: "again"},
		{ref: "retry"},
		{ref: "Quest.Active", wantErr: mission.ErrInvalidState},
		{ref: "Quest.Pending", wantErr: mission.ErrInvalidState},
		{ref: "Quest.Locked", wantErr: mission.ErrInvalidState},
		{ref: "Quest.Done", wantErr: mission.ErrInvalidState},
		{ref: "Quest.Nope", wantErr: mission.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			out, err := h.engine.GrantMission(context.Background(), actorID, tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("grant: %v", err)
			}
			if got := h.state(t, out.Tag); got != mission.StateActive {
				t.Fatalf("expected active, got %s", got)
			}
		})
	}
}

func TestRemoveMissionMarksInvalid(t *testing.T) {
	h := newHarness(t, delayedRows())
	ctx := context.Background()
	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	before := h.store.Len()
	if _, err := h.engine.RemoveMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := h.state(t, "Quest.Wait"); got != mission.StateInvalid {
		t.Fatalf("expected invalid, got %s", got)
	}
	if h.store.Len() != before {
		t.Fatal("remove must keep the record in place")
	}
	if h.engine.Pending(actorID) != 0 {
		t.Fatal("remove must cancel the pending transition")
	}
	if _, err := h.engine.GrantMission(ctx, actorID, "Quest.Wait"); err != nil {
		t.Fatalf("grant after remove: %v", err)
	}
}

func TestSetUserTagsGatesCompletion(t *testing.T) {
	rows := []catalog.Row{{Name: "solo", Tag: "Quest.Solo", StartState: "active"}}
	h := newHarness(t, rows)
	ctx := context.Background()

	if _, err := h.engine.SetUserTags(ctx, actorID, "Quest.Solo", []tags.Tag{"User.Marked"}, nil); err != nil {
		t.Fatalf("set user tags: %v", err)
	}
	_, err := h.engine.CompleteMission(ctx, actorID, "Quest.Solo")
	if !errors.Is(err, mission.ErrConditionsNotMet) {
		t.Fatalf("optional user tags are mandatory, expected conditions not met, got %v", err)
	}
	def, _ := h.reg.ByTag("Quest.Solo")
	if def.Completion.Optional.Has("User.Marked") {
		t.Fatal("user tags must not leak into the definition")
	}

	h.actor.AddLabels("User.Marked")
	if _, err := h.engine.CompleteMission(ctx, actorID, "Quest.Solo"); err != nil {
		t.Fatalf("complete with user tag held: %v", err)
	}
}

func TestObserverStoreIsUnauthorized(t *testing.T) {
	h := newHarness(t, introRows())
	observer := tracker.NewStore(false, log.New(io.Discard, "", 0))
	if _, err := h.sessions.Register(context.Background(), 2, "", session.NewLabelSet(), observer); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := h.engine.GrantMission(context.Background(), 2, "Mission.Intro.Start")
	if !errors.Is(err, mission.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestGrantDuringReloadUsesCurrentNumbering(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	table := catalog.NewMemTable("quests", []catalog.Row{
		{Name: "a", Tag: "Quest.A"},
		{Name: "b", Tag: "Quest.B"},
	})
	cat, _ := catalog.New([]catalog.Table{table}, logger)
	t.Cleanup(cat.Close)
	sessions := session.NewRegistry(cat, logger)
	eng := New(Options{Sessions: sessions, Scheduler: newFakeScheduler(), Logger: logger})
	store := tracker.NewStore(true, logger)
	if _, err := sessions.Register(context.Background(), actorID, "", session.NewLabelSet(), store); err != nil {
		t.Fatalf("register: %v", err)
	}

	// The grant lands after the swap but before the session registry has
	// renumbered the store.
	var grantErr error
	cat.OnReload(func(old, next *catalog.Registry) {
		_, grantErr = eng.GrantMission(context.Background(), actorID, "Quest.B")
	})
	cat.OnReload(sessions.Reconcile)

	table.Replace([]catalog.Row{
		{Name: "x", Tag: "Quest.X"},
		{Name: "a", Tag: "Quest.A"},
		{Name: "b", Tag: "Quest.B"},
	})
	reg, _ := cat.Reload()
	if grantErr != nil {
		t.Fatalf("grant: %v", grantErr)
	}

	expected := map[tags.Tag]mission.State{
		"Quest.X": mission.StateInactive,
		"Quest.A": mission.StateInactive,
		"Quest.B": mission.StateActive,
	}
	for tag, want := range expected {
		rec, ok := store.GetByTag(reg, tag)
		if !ok {
			t.Fatalf("no record for %s", tag)
		}
		if rec.Progress.Current != want {
			t.Fatalf("expected %s %s, got %s", tag, want, rec.Progress.Current)
		}
	}
	if store.Len() != reg.Len() {
		t.Fatalf("expected %d records, got %d", reg.Len(), store.Len())
	}
}

func TestTimerScheduler(t *testing.T) {
	s := NewTimerScheduler()
	fired := make(chan struct{}, 1)
	s.Schedule(5*time.Millisecond, func() { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancelled := s.Schedule(time.Hour, func() { t.Error("cancelled timer fired") })
	if s.Len() != 1 {
		t.Fatalf("expected one outstanding timer, got %d", s.Len())
	}
	if !s.Cancel(cancelled) {
		t.Fatal("expected cancel to succeed")
	}
	if s.Cancel(cancelled) {
		t.Fatal("second cancel must report false")
	}
	s.Schedule(time.Hour, func() {})
	s.Stop()
	if s.Len() != 0 {
		t.Fatal("stop must clear every timer")
	}
}
