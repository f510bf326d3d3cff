// Package roster owns the authoritative set of tracked identities: the
// moderators and VIPs of the target channel, minus known bot accounts. It is
// refreshed periodically by the session engine and reconciled incrementally,
// so a failed roster query never disturbs in-flight sessions.
package roster

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Member is one raw roster entry as returned by the membership source.
type Member struct {
	ID          string
	Login       string
	DisplayName string
}

// Identity is a tracked participant. RoleLabel is empty when no mapping entry
// exists for the user ID.
type Identity struct {
	ID          string
	Login       string
	DisplayName string
	RoleLabel   string
}

// Source lists the channel's current elevated members (moderators + VIPs).
type Source interface {
	ListMembers(ctx context.Context) ([]Member, error)
}

// Tracker maintains the tracked identity map and computes the symmetric
// difference on each refresh. The mutex only guards the map itself; records
// of session state live in the engine and are never touched here.
type Tracker struct {
	source     Source
	roleLabels map[string]string
	excluded   map[string]bool

	mu      sync.RWMutex
	members map[string]Identity
}

// New builds a Tracker. excludedLogins are bot/service accounts (plus the
// bot's own login) that must never be tracked; matching is case-insensitive.
func New(source Source, roleLabels map[string]string, excludedLogins []string) *Tracker {
	excluded := make(map[string]bool, len(excludedLogins))
	for _, l := range excludedLogins {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			excluded[l] = true
		}
	}
	if roleLabels == nil {
		roleLabels = map[string]string{}
	}
	return &Tracker{
		source:     source,
		roleLabels: roleLabels,
		excluded:   excluded,
		members:    make(map[string]Identity),
	}
}

// Refresh queries the source and reconciles the tracked set. For each newly
// visible identity onAdded runs after the identity is stored; for each
// identity that lost visibility onRemoved runs before it is dropped, so the
// caller can still resolve its display name while force-ending a shift. On
// query failure the previous set is kept unchanged and the error returned.
func (t *Tracker) Refresh(ctx context.Context, onAdded func(id string), onRemoved func(id string)) error {
	raw, err := t.source.ListMembers(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[string]Identity, len(raw))
	for _, m := range raw {
		login := strings.ToLower(m.Login)
		if m.ID == "" || t.excluded[login] {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = m.Login
		}
		fresh[m.ID] = Identity{
			ID:          m.ID,
			Login:       login,
			DisplayName: name,
			RoleLabel:   t.roleLabels[m.ID],
		}
	}

	t.mu.Lock()
	var added, removed []string
	for id := range fresh {
		if _, ok := t.members[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range t.members {
		if _, ok := fresh[id]; !ok {
			removed = append(removed, id)
		}
	}
	// Overwrite retained entries too so display-name or label changes are
	// picked up without a leave/rejoin cycle.
	for id, ident := range fresh {
		t.members[id] = ident
	}
	t.mu.Unlock()

	for _, id := range added {
		if onAdded != nil {
			onAdded(id)
		}
	}
	for _, id := range removed {
		// Force-end happens inside the callback while the identity is
		// still resolvable.
		if onRemoved != nil {
			onRemoved(id)
		}
		t.mu.Lock()
		delete(t.members, id)
		t.mu.Unlock()
	}

	if len(added) > 0 || len(removed) > 0 {
		slog.Info("roster reconciled",
			slog.Int("added", len(added)),
			slog.Int("removed", len(removed)),
			slog.Int("tracked", t.Size()))
	}
	return nil
}

// Lookup returns the identity for a tracked user ID.
func (t *Tracker) Lookup(id string) (Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ident, ok := t.members[id]
	return ident, ok
}

// IDByLogin resolves a chat login to a tracked user ID. Used at the event
// boundary to validate inbound membership messages.
func (t *Tracker) IDByLogin(login string) (string, bool) {
	login = strings.ToLower(strings.TrimSpace(login))
	if login == "" {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, ident := range t.members {
		if ident.Login == login {
			return id, true
		}
	}
	return "", false
}

// Size returns the current tracked identity count.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}
