// Package notify formats and delivers the end-of-shift announcement. Delivery
// failure is logged and swallowed: by the time a completed session reaches the
// notifier the state transition is committed, and re-announcing on a stale
// retry would risk duplicate messages.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/shiftwatch/quotes"
	"github.com/onnwee/shiftwatch/roster"
	"github.com/onnwee/shiftwatch/session"
	"github.com/onnwee/shiftwatch/telemetry"
)

// Sender delivers one outbound chat message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Directory resolves a tracked user ID to its identity snapshot.
type Directory interface {
	Lookup(id string) (roster.Identity, bool)
}

// QuoteSource supplies one quote per announcement; it never fails.
type QuoteSource interface {
	Get(ctx context.Context) quotes.Quote
}

// Notifier implements session.Announcer.
type Notifier struct {
	sender      Sender
	directory   Directory
	quotes      QuoteSource
	sendTimeout time.Duration
}

func New(sender Sender, directory Directory, quoteSource QuoteSource) *Notifier {
	return &Notifier{
		sender:      sender,
		directory:   directory,
		quotes:      quoteSource,
		sendTimeout: 10 * time.Second,
	}
}

// Announce resolves the display name and optional role label, pulls a quote,
// formats the message, and sends it. Errors never propagate to the engine.
func (n *Notifier) Announce(ctx context.Context, done session.Completed) {
	corr := uuid.New().String()
	ctx = telemetry.WithCorrelation(ctx, corr)
	ctx, span := telemetry.StartSpan(ctx, "notifier", "announce",
		attribute.String("user_id", done.ID))
	defer span.End()

	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("user_id", done.ID))

	ident, ok := n.directory.Lookup(done.ID)
	if !ok {
		// Shouldn't happen: removals force-end before the identity is
		// dropped. Fall back to the raw ID rather than losing the shift.
		logger.Warn("identity not resolvable at announce time; using id as name")
		ident = roster.Identity{ID: done.ID, DisplayName: done.ID}
	}

	q := n.quotes.Get(ctx)
	msg := FormatMessage(ident.DisplayName, ident.RoleLabel, done.Duration, q.Text)

	sctx, cancel := context.WithTimeout(ctx, n.sendTimeout)
	defer cancel()
	if err := n.sender.Send(sctx, msg); err != nil {
		telemetry.AnnouncementsFailed.Inc()
		telemetry.RecordError(span, err)
		logger.Error("announcement delivery failed",
			slog.Any("err", err),
			slog.Duration("shift", done.Duration))
		return
	}
	telemetry.AnnouncementsSent.Inc()
	logger.Info("shift announced",
		slog.Duration("shift", done.Duration),
		slog.Bool("fallback_quote", q.Fallback))
}

// FormatMessage builds the outbound message. Two fixed templates, chosen by
// whether a role label is present; interpolated free text is sanitized first.
func FormatMessage(displayName, roleLabel string, d time.Duration, quoteText string) string {
	name := Sanitize(displayName)
	hms := FormatDuration(d)
	quote := Sanitize(quoteText)
	if roleLabel != "" {
		return fmt.Sprintf(">>> %s \"%s\" has ended their %s shift!\n*%s*", name, Sanitize(roleLabel), hms, quote)
	}
	return fmt.Sprintf(">>> %s has ended their %s shift!\n*%s*", name, hms, quote)
}
