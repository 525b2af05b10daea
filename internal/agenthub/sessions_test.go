package agenthub

import (
	"errors"
	"testing"
)

func TestDeriveClientID(t *testing.T) {
	if got := DeriveClientID("/work/agents/alpha", "explicit"); got != "explicit" {
		t.Fatalf("expected override to win, got %q", got)
	}
	if got := DeriveClientID("", ""); got != "" {
		t.Fatalf("expected empty input to disable tracking, got %q", got)
	}

	a := DeriveClientID("/work/agents/alpha", "")
	b := DeriveClientID("/work/agents/alpha/", "")
	if a == "" || len(a) != 16 {
		t.Fatalf("expected a 16-char id, got %q", a)
	}
	if a != b {
		t.Fatalf("expected path cleaning to normalize ids: %q vs %q", a, b)
	}
	if other := DeriveClientID("/work/agents/beta", ""); other == a {
		t.Fatalf("distinct paths must yield distinct ids")
	}
}

func TestClientSessionTracksMemberships(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")

	session, err := store.GetClientSession("client-alice")
	if err != nil {
		t.Fatalf("get client session failed: %v", err)
	}
	if session.ClientID != "client-alice" || len(session.Memberships) != 1 {
		t.Fatalf("unexpected session: %+v", session)
	}
	m := session.Memberships[0]
	if m.ProjectID != "proj" || m.MemberName != "alice" || m.ProjectName != "proj" {
		t.Fatalf("unexpected membership: %+v", m)
	}

	// The same client joining a second project accumulates tuples.
	seedProject(t, store, "other", "bob")
	if _, err := store.Join(JoinRequest{ProjectID: "other", Name: "alice", ClientID: "client-alice"}); err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	session, err = store.GetClientSession("client-alice")
	if err != nil {
		t.Fatalf("get client session failed: %v", err)
	}
	if len(session.Memberships) != 2 {
		t.Fatalf("expected 2 memberships, got %+v", session.Memberships)
	}
}

func TestLeaveDropsClientMembership(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice")
	if err := store.Leave("proj", "alice"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	session, err := store.GetClientSession("client-alice")
	if err != nil {
		t.Fatalf("get client session failed: %v", err)
	}
	if len(session.Memberships) != 0 {
		t.Fatalf("expected membership dropped on leave, got %+v", session.Memberships)
	}
}

func TestProjectDeleteScrubsClientSessions(t *testing.T) {
	store := newTestStore(t)
	seedProject(t, store, "proj", "alice", "bob")
	seedProject(t, store, "keep", "carol")
	if _, err := store.Join(JoinRequest{ProjectID: "keep", Name: "alice", ClientID: "client-alice"}); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := store.DeleteProject("proj", "alice"); err != nil {
		t.Fatalf("delete project failed: %v", err)
	}
	session, err := store.GetClientSession("client-alice")
	if err != nil {
		t.Fatalf("get client session failed: %v", err)
	}
	if len(session.Memberships) != 1 || session.Memberships[0].ProjectID != "keep" {
		t.Fatalf("expected only the surviving project's tuple, got %+v", session.Memberships)
	}
	if session, err := store.GetClientSession("client-bob"); err != nil {
		t.Fatalf("get client session failed: %v", err)
	} else if len(session.Memberships) != 0 {
		t.Fatalf("expected bob's tuples scrubbed, got %+v", session.Memberships)
	}
}

func TestUnknownClientSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetClientSession("never-seen")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
