package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/shiftwatch/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	m.Run()
}

// captureAnnouncer records every completed session it receives.
type captureAnnouncer struct {
	mu   sync.Mutex
	done []Completed
	ch   chan Completed
}

func (a *captureAnnouncer) Announce(_ context.Context, d Completed) {
	a.mu.Lock()
	a.done = append(a.done, d)
	a.mu.Unlock()
	if a.ch != nil {
		a.ch <- d
	}
}

func (a *captureAnnouncer) completed() []Completed {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Completed, len(a.done))
	copy(out, a.done)
	return out
}

// fakeClock hands out a controllable time to the engine.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

type fakeMembership struct {
	ids []string
	err error
}

func (m *fakeMembership) Refresh(_ context.Context, onAdded func(string), onRemoved func(string)) error {
	if m.err != nil {
		return m.err
	}
	for _, id := range m.ids {
		onAdded(id)
	}
	return nil
}

type fakePresence struct {
	active map[string]bool
	err    error
}

func (p *fakePresence) ActiveIDs(context.Context) (map[string]bool, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.active, nil
}

func newTestEngine(ann Announcer, clock *fakeClock) *Engine {
	return New(Config{
		Announcer: ann,
		Now:       clock.now,
	})
}

func TestEdgeCountMatchesCompletedSessions(t *testing.T) {
	cases := []struct {
		name    string
		signals []bool
		want    int
	}{
		{"never active", []bool{false, false, false}, 0},
		{"single session", []bool{true, false}, 1},
		{"duplicates between edges", []bool{false, true, true, true, false, false}, 1},
		{"two sessions", []bool{true, false, true, false}, 2},
		{"still open at end", []bool{false, true, true}, 0},
		{"alternating", []bool{true, false, true, false, true, false}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ann := &captureAnnouncer{}
			clock := newFakeClock()
			e := newTestEngine(ann, clock)
			e.track("u1")
			for _, sig := range tc.signals {
				e.apply(context.Background(), "u1", sig)
				clock.advance(time.Second)
			}
			if got := len(ann.completed()); got != tc.want {
				t.Fatalf("completed sessions = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDurationIsEndMinusStart(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	e := newTestEngine(ann, clock)
	e.track("u1")

	e.apply(context.Background(), "u1", true)
	start := clock.now()
	clock.advance(3*time.Hour + 12*time.Minute + 45*time.Second)
	e.apply(context.Background(), "u1", false)

	done := ann.completed()
	if len(done) != 1 {
		t.Fatalf("expected 1 completed session, got %d", len(done))
	}
	if !done[0].StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", done[0].StartTime, start)
	}
	if got := done[0].EndTime.Sub(done[0].StartTime); got != done[0].Duration {
		t.Errorf("Duration = %v, want EndTime-StartTime = %v", done[0].Duration, got)
	}
	if done[0].Duration != 3*time.Hour+12*time.Minute+45*time.Second {
		t.Errorf("Duration = %v, want 3h12m45s", done[0].Duration)
	}
}

func TestSelfTransitionsAreNoOps(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	e := newTestEngine(ann, clock)
	e.track("u1")
	ctx := context.Background()

	// Idle -> Idle
	e.apply(ctx, "u1", false)
	if e.records["u1"].active || !e.records["u1"].startTime.IsZero() {
		t.Fatal("idle self-transition mutated record")
	}

	// Active -> Active must not restart the session
	e.apply(ctx, "u1", true)
	started := e.records["u1"].startTime
	clock.advance(time.Minute)
	e.apply(ctx, "u1", true)
	if !e.records["u1"].startTime.Equal(started) {
		t.Errorf("repeated true signal moved startTime from %v to %v", started, e.records["u1"].startTime)
	}
	if len(ann.completed()) != 0 {
		t.Errorf("self-transitions emitted %d events", len(ann.completed()))
	}
}

func TestActiveInvariantMatchesStartTime(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	e := newTestEngine(ann, clock)
	e.track("u1")
	ctx := context.Background()

	check := func() {
		t.Helper()
		rec := e.records["u1"]
		if rec.active != !rec.startTime.IsZero() {
			t.Fatalf("invariant broken: active=%v startTime=%v", rec.active, rec.startTime)
		}
	}
	check()
	e.apply(ctx, "u1", true)
	check()
	e.apply(ctx, "u1", false)
	check()
}

func TestUntrackActiveForcesExactlyOneEnd(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	e := newTestEngine(ann, clock)
	ctx := context.Background()
	e.track("u1")
	e.apply(ctx, "u1", true)
	clock.advance(time.Hour)

	e.untrack(ctx, "u1")
	if got := len(ann.completed()); got != 1 {
		t.Fatalf("untrack while active emitted %d events, want 1", got)
	}
	if _, ok := e.records["u1"]; ok {
		t.Error("record still present after untrack")
	}

	// Untracking an idle identity emits nothing.
	e.track("u2")
	e.untrack(ctx, "u2")
	if got := len(ann.completed()); got != 1 {
		t.Fatalf("untrack while idle emitted an event (total %d)", got)
	}
}

func TestSignalForUntrackedIdentityIgnored(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	e := newTestEngine(ann, clock)
	e.apply(context.Background(), "ghost", true)
	e.apply(context.Background(), "ghost", false)
	if len(ann.completed()) != 0 || len(e.records) != 0 {
		t.Error("untracked signals mutated engine state")
	}
}

func TestPollPassMissingIdentityMeansAbsent(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	presence := &fakePresence{active: map[string]bool{"u1": true, "u2": true}}
	e := New(Config{Announcer: ann, Presence: presence, Now: clock.now})
	ctx := context.Background()
	e.track("u1")
	e.track("u2")

	e.pollPass(ctx)
	if e.ActiveCount() != 2 {
		t.Fatalf("active = %d, want 2", e.ActiveCount())
	}

	// u2 disappears from a successful response: conservative false.
	presence.active = map[string]bool{"u1": true}
	clock.advance(time.Minute)
	e.pollPass(ctx)
	done := ann.completed()
	if len(done) != 1 || done[0].ID != "u2" {
		t.Fatalf("expected exactly one completed session for u2, got %+v", done)
	}
}

func TestPollPassErrorSkipsWholePass(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	presence := &fakePresence{active: map[string]bool{"u1": true}}
	e := New(Config{Announcer: ann, Presence: presence, Now: clock.now})
	ctx := context.Background()
	e.track("u1")
	e.pollPass(ctx)

	presence.err = errors.New("helix timeout")
	clock.advance(time.Minute)
	e.pollPass(ctx)
	if len(ann.completed()) != 0 {
		t.Fatal("failed poll pass ended sessions")
	}
	if e.ActiveCount() != 1 {
		t.Fatalf("active = %d, want 1 after skipped pass", e.ActiveCount())
	}
}

func TestRosterFailureKeepsTrackedSet(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	membership := &fakeMembership{ids: []string{"u1"}}
	e := New(Config{Announcer: ann, Membership: membership, Now: clock.now})
	ctx := context.Background()

	e.refreshRoster(ctx)
	if e.TrackedCount() != 1 {
		t.Fatalf("tracked = %d, want 1", e.TrackedCount())
	}

	membership.err = errors.New("permission denied")
	e.refreshRoster(ctx)
	if e.TrackedCount() != 1 {
		t.Fatalf("tracked = %d after failed refresh, want 1", e.TrackedCount())
	}
}

func TestDrainAnnouncesEveryActiveShift(t *testing.T) {
	ann := &captureAnnouncer{}
	clock := newFakeClock()
	e := newTestEngine(ann, clock)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2", "u3"} {
		e.track(id)
	}
	e.apply(ctx, "u1", true)
	e.apply(ctx, "u2", true)
	clock.advance(30 * time.Minute)

	e.drain(ctx)
	done := ann.completed()
	if len(done) != 2 {
		t.Fatalf("drain emitted %d events, want 2", len(done))
	}
	// Stable order for predictable shutdown logs.
	if done[0].ID != "u1" || done[1].ID != "u2" {
		t.Errorf("drain order = %s,%s want u1,u2", done[0].ID, done[1].ID)
	}
	if e.ActiveCount() != 0 {
		t.Errorf("active = %d after drain, want 0", e.ActiveCount())
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	ann := &captureAnnouncer{ch: make(chan Completed, 4)}
	membership := &fakeMembership{ids: []string{"u1", "u2"}}
	e := New(Config{
		Announcer:       ann,
		Membership:      membership,
		PollInterval:    time.Hour,
		RefreshInterval: time.Hour,
		MetricsInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(stopped)
	}()

	e.Push(Signal{ID: "u1", Active: true})
	e.Push(Signal{ID: "u2", Active: true})

	deadline := time.After(2 * time.Second)
	for e.ActiveCount() != 2 {
		select {
		case <-deadline:
			t.Fatal("signals not processed in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	if got := len(ann.completed()); got != 2 {
		t.Fatalf("shutdown drained %d sessions, want 2", got)
	}
}

func TestPushRejectsEmptyID(t *testing.T) {
	e := New(Config{})
	e.Push(Signal{ID: "", Active: true})
	select {
	case sig := <-e.signals:
		t.Fatalf("empty-id signal was queued: %+v", sig)
	default:
	}
}
