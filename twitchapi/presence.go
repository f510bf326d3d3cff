package twitchapi

import (
	"context"

	"github.com/onnwee/shiftwatch/roster"
)

// ChatterPresence derives the active identity set from the Helix chatters
// endpoint. It is the poll-side presence source for the session engine.
type ChatterPresence struct {
	Client        *HelixClient
	BroadcasterID string
	ModeratorID   string
}

// ActiveIDs returns the IDs of everyone currently connected to chat.
func (p *ChatterPresence) ActiveIDs(ctx context.Context) (map[string]bool, error) {
	entries, err := p.Client.GetChatters(ctx, p.BroadcasterID, p.ModeratorID)
	if err != nil {
		return nil, err
	}
	active := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID != "" {
			active[e.ID] = true
		}
	}
	return active, nil
}

// ElevatedRoster lists the channel's moderators and VIPs as roster members,
// deduplicated by user ID (a VIP who is also a mod appears once).
type ElevatedRoster struct {
	Client        *HelixClient
	BroadcasterID string
}

// ListMembers implements roster.Source.
func (r *ElevatedRoster) ListMembers(ctx context.Context) ([]roster.Member, error) {
	mods, err := r.Client.GetModerators(ctx, r.BroadcasterID)
	if err != nil {
		return nil, err
	}
	vips, err := r.Client.GetVIPs(ctx, r.BroadcasterID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(mods)+len(vips))
	out := make([]roster.Member, 0, len(mods)+len(vips))
	for _, e := range append(mods, vips...) {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, roster.Member{ID: e.ID, Login: e.Login, DisplayName: e.DisplayName})
	}
	return out, nil
}
