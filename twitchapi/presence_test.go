package twitchapi

import (
	"context"
	"testing"

	"github.com/onnwee/shiftwatch/testutil"
)

func TestChatterPresenceActiveIDs(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockUserList("/helix/chat/chatters", []map[string]string{
		{"user_id": "1", "user_login": "alice", "user_name": "Alice"},
		{"user_id": "2", "user_login": "bob", "user_name": "Bob"},
	})
	p := &ChatterPresence{Client: newTestClient(t, mock), BroadcasterID: "b1", ModeratorID: "m1"}

	active, err := p.ActiveIDs(context.Background())
	if err != nil {
		t.Fatalf("ActiveIDs: %v", err)
	}
	if len(active) != 2 || !active["1"] || !active["2"] {
		t.Errorf("active = %v", active)
	}
	if active["3"] {
		t.Error("absent user reported active")
	}
}

func TestElevatedRosterDeduplicatesModsAndVIPs(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockUserList("/helix/moderation/moderators", []map[string]string{
		{"user_id": "1", "user_login": "alice", "user_name": "Alice"},
		{"user_id": "2", "user_login": "bob", "user_name": "Bob"},
	})
	mock.MockUserList("/helix/channels/vips", []map[string]string{
		{"user_id": "2", "user_login": "bob", "user_name": "Bob"}, // also a mod
		{"user_id": "3", "user_login": "carol", "user_name": "Carol"},
	})
	r := &ElevatedRoster{Client: newTestClient(t, mock), BroadcasterID: "b1"}

	members, err := r.ListMembers(context.Background())
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3 (deduplicated)", len(members))
	}
	seen := map[string]bool{}
	for _, m := range members {
		if seen[m.ID] {
			t.Errorf("duplicate member %s", m.ID)
		}
		seen[m.ID] = true
	}
}
