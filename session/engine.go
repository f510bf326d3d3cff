// Package session implements the per-identity shift state machine and the
// event loop that reconciles presence signals into start/end transitions.
//
// Each tracked identity owns exactly one record. A record moves between two
// states, idle and active, driven by boolean presence signals from two
// sources: push events from chat membership messages and a periodic full
// re-derivation pass against the chatters endpoint. Both sources funnel into
// the same transition function, which is idempotent for repeated identical
// signals, so interleaving is safe. All record mutation happens on the single
// goroutine running [Engine.Run]; no other code touches the map.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/onnwee/shiftwatch/telemetry"
)

// Signal is a validated boolean assertion of "currently present in chat" for
// one identity. Raw inbound events are converted to a Signal at the boundary
// (see the chat package); the engine never inspects untyped payloads.
type Signal struct {
	ID     string
	Active bool
}

// Completed is the immutable record of one finished shift. It is produced
// once per active-to-idle transition, handed to the announcer, and discarded.
type Completed struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// record is the per-identity session state. active is true iff startTime is set.
type record struct {
	startTime  time.Time
	active     bool
	lastSignal time.Time
}

// PresenceSource re-derives the set of currently present identities.
type PresenceSource interface {
	// ActiveIDs returns the IDs currently present in chat. An identity
	// missing from a successful result is treated as absent; an error skips
	// the whole pass so a transient query failure cannot end every session.
	ActiveIDs(ctx context.Context) (map[string]bool, error)
}

// Membership drives identity lifecycle. Refresh must invoke onRemoved before
// the identity is dropped from the roster so the forced end-of-shift
// announcement can still resolve its display name.
type Membership interface {
	Refresh(ctx context.Context, onAdded func(id string), onRemoved func(id string)) error
}

// Announcer delivers the end-of-shift notification. Delivery failures are the
// announcer's problem to log; the state transition is already committed and
// is never rolled back (at-most-once delivery).
type Announcer interface {
	Announce(ctx context.Context, done Completed)
}

// Config wires an Engine. Zero intervals get defaults.
type Config struct {
	Presence   PresenceSource
	Membership Membership
	Announcer  Announcer

	// PollInterval drives the full presence re-derivation pass (default 10s).
	PollInterval time.Duration
	// RefreshInterval drives roster reconciliation (default 5m).
	RefreshInterval time.Duration
	// MetricsInterval drives the periodic metrics summary log line (default 60s).
	// This is its own timer on purpose; it is not derived from wall-clock
	// arithmetic on the other tickers.
	MetricsInterval time.Duration

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// Engine owns the per-identity record map and the scheduling loop.
type Engine struct {
	cfg     Config
	now     func() time.Time
	signals chan Signal
	records map[string]*record

	tracked atomic.Int64
	active  atomic.Int64
	ended   atomic.Int64
}

func New(cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 60 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		cfg:     cfg,
		now:     now,
		signals: make(chan Signal, 64),
		records: make(map[string]*record),
	}
}

// Push queues a validated presence signal from another goroutine. It never
// blocks: if the engine is backed up the signal is dropped and counted, and
// the next poll pass re-derives the same information anyway.
func (e *Engine) Push(sig Signal) {
	if sig.ID == "" {
		telemetry.SignalsRejected.Inc()
		return
	}
	select {
	case e.signals <- sig:
	default:
		telemetry.SignalsRejected.Inc()
		slog.Warn("signal queue full; dropping", slog.String("user_id", sig.ID))
	}
}

// Run executes the scheduling loop until ctx is cancelled, then drains every
// still-active session so no shift is silently lost on shutdown. It blocks
// and is intended to run on the caller's main goroutine.
func (e *Engine) Run(ctx context.Context) {
	slog.Info("session engine starting",
		slog.Duration("poll_interval", e.cfg.PollInterval),
		slog.Duration("refresh_interval", e.cfg.RefreshInterval))

	// Kick an immediate roster load and presence pass so we don't wait a
	// full interval after boot.
	e.refreshRoster(ctx)
	e.pollPass(ctx)

	pollT := time.NewTicker(e.cfg.PollInterval)
	defer pollT.Stop()
	refreshT := time.NewTicker(e.cfg.RefreshInterval)
	defer refreshT.Stop()
	metricsT := time.NewTicker(e.cfg.MetricsInterval)
	defer metricsT.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain(ctx)
			slog.Info("session engine stopped")
			return
		case sig := <-e.signals:
			e.apply(ctx, sig.ID, sig.Active)
		case <-pollT.C:
			e.pollPass(ctx)
		case <-refreshT.C:
			e.refreshRoster(ctx)
		case <-metricsT.C:
			e.logMetrics()
		}
	}
}

// apply is the single transition function. Repeated identical signals are
// no-ops; only an idle-to-active edge opens a shift and only an
// active-to-idle edge emits a completed session.
func (e *Engine) apply(ctx context.Context, id string, active bool) {
	rec, ok := e.records[id]
	if !ok {
		slog.Debug("signal for untracked identity; ignoring", slog.String("user_id", id))
		return
	}
	now := e.now()
	rec.lastSignal = now
	switch {
	case active && !rec.active:
		rec.active = true
		rec.startTime = now
		e.active.Add(1)
		telemetry.SessionsStarted.Inc()
		telemetry.SetActiveSessions(int(e.active.Load()))
		slog.Info("shift started", slog.String("user_id", id))
	case !active && rec.active:
		done := Completed{
			ID:        id,
			StartTime: rec.startTime,
			EndTime:   now,
			Duration:  now.Sub(rec.startTime),
		}
		rec.active = false
		rec.startTime = time.Time{}
		e.active.Add(-1)
		e.ended.Add(1)
		telemetry.SessionsEnded.Inc()
		telemetry.SetActiveSessions(int(e.active.Load()))
		slog.Info("shift ended",
			slog.String("user_id", id),
			slog.Duration("duration", done.Duration))
		if e.cfg.Announcer != nil {
			e.cfg.Announcer.Announce(ctx, done)
		}
	}
}

// track creates an idle record for a newly visible identity.
func (e *Engine) track(id string) {
	if _, ok := e.records[id]; ok {
		return
	}
	e.records[id] = &record{}
	e.tracked.Store(int64(len(e.records)))
	telemetry.SetTrackedIdentities(len(e.records))
	slog.Info("tracking identity", slog.String("user_id", id))
}

// untrack force-ends an active shift before deleting the record, so
// membership churn never drops a session.
func (e *Engine) untrack(ctx context.Context, id string) {
	rec, ok := e.records[id]
	if !ok {
		return
	}
	if rec.active {
		e.apply(ctx, id, false)
	}
	delete(e.records, id)
	e.tracked.Store(int64(len(e.records)))
	telemetry.SetTrackedIdentities(len(e.records))
	slog.Info("untracked identity", slog.String("user_id", id))
}

// pollPass re-derives the presence flag for every tracked identity from the
// poll source. Missing from a successful result means absent; a failed query
// skips the pass entirely and is retried on the next tick.
func (e *Engine) pollPass(ctx context.Context) {
	if e.cfg.Presence == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	activeSet, err := e.cfg.Presence.ActiveIDs(cctx)
	if err != nil {
		slog.Debug("presence poll failed; skipping pass", slog.Any("err", err))
		return
	}
	for id := range e.records {
		e.apply(ctx, id, activeSet[id])
	}
}

// refreshRoster reconciles the tracked set against the membership source. A
// query failure leaves the set unchanged.
func (e *Engine) refreshRoster(ctx context.Context) {
	if e.cfg.Membership == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	cctx, span := telemetry.StartSpan(cctx, "session-engine", "roster-refresh")
	defer span.End()
	err := e.cfg.Membership.Refresh(cctx, e.track, func(id string) { e.untrack(ctx, id) })
	if err != nil {
		telemetry.RosterFailures.Inc()
		telemetry.RecordError(span, err)
		slog.Warn("roster refresh failed; keeping previous set", slog.Any("err", err))
		return
	}
	telemetry.RosterRefreshes.Inc()
}

// drain force-ends every still-active record, announcing each in a stable
// order. Sends are intentionally sequential here to keep log ordering and
// outbound rate limits predictable during shutdown.
func (e *Engine) drain(ctx context.Context) {
	var ids []string
	for id, rec := range e.records {
		if rec.active {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	slog.Info("draining active shifts", slog.Int("count", len(ids)))
	dctx := context.WithoutCancel(ctx)
	for _, id := range ids {
		e.apply(dctx, id, false)
	}
}

func (e *Engine) logMetrics() {
	slog.Info("engine metrics",
		slog.Int64("tracked", e.tracked.Load()),
		slog.Int64("active", e.active.Load()),
		slog.Int64("ended", e.ended.Load()))
}

// TrackedCount returns the current number of tracked identities.
func (e *Engine) TrackedCount() int64 { return e.tracked.Load() }

// ActiveCount returns the current number of open shifts.
func (e *Engine) ActiveCount() int64 { return e.active.Load() }

// EndedCount returns the total number of shifts ended since boot.
func (e *Engine) EndedCount() int64 { return e.ended.Load() }
