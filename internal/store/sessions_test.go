package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/network"
)

func openTestStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleInfo(id uint64, name string) network.Info {
	return network.Info{
		ID:             id,
		Remote:         "127.0.0.1:50000",
		State:          "CLOSED",
		Protocol:       768,
		Hostname:       "play.example.net",
		Username:       name,
		UUID:           network.OfflineUUID(name).String(),
		Brand:          "vanilla",
		FromTransfer:   true,
		TransferTarget: "lobby.example.net:25565",
		ConnectedAt:    time.UnixMilli(1_700_000_000_000),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	info := sampleInfo(7, "Alice")
	closedAt := info.ConnectedAt.Add(3 * time.Second)

	if err := s.RecordSession(ctx, info, "transfer to lobby.example.net:25565", closedAt); err != nil {
		t.Fatal(err)
	}

	got, err := s.Sessions(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d sessions", len(got))
	}
	sess := got[0]
	if sess.ConnID != 7 || sess.Username != "Alice" || sess.UUID != info.UUID || !sess.FromTransfer {
		t.Fatalf("session = %+v", sess)
	}
	if sess.FinalState != "CLOSED" || sess.TransferTarget != "lobby.example.net:25565" || sess.Protocol != 768 {
		t.Fatalf("session = %+v", sess)
	}
	if !sess.ConnectedAt.Equal(info.ConnectedAt) || !sess.ClosedAt.Equal(closedAt) {
		t.Fatalf("timestamps = %s / %s", sess.ConnectedAt, sess.ClosedAt)
	}
}

func TestSessionsFilterAndOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	for i, name := range []string{"Alice", "Bob", "Alice"} {
		info := sampleInfo(uint64(i+1), name)
		if err := s.RecordSession(ctx, info, "closed", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatal(err)
		}
	}

	alice, err := s.Sessions(ctx, Query{Username: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 2 || alice[0].ConnID != 3 || alice[1].ConnID != 1 {
		t.Fatalf("Alice sessions = %+v", alice)
	}

	latest, err := s.Sessions(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 1 || latest[0].ConnID != 3 {
		t.Fatalf("latest = %+v", latest)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Sessions != 3 || st.Players != 2 || st.Transfers != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStoreRecordsBusEvents(t *testing.T) {
	s := openTestStore(t)
	bus := events.NewEventBus()
	defer bus.Stop()
	s.Subscribe(bus)

	info := sampleInfo(1, "Alice")
	ctx := context.Background()
	bus.Emit(ctx, events.Event{
		Type:    events.EventTransfer,
		Payload: network.TransferEvent{Info: info, Host: "lobby.example.net", Port: 25565},
	})
	bus.Emit(ctx, events.Event{
		Type:    events.EventDisconnected,
		Payload: network.DisconnectedEvent{Info: info, Reason: "client closed", ClosedAt: time.Now()},
	})

	deadline := time.Now().Add(3 * time.Second)
	for {
		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Sessions == 1 && st.Transfers == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("events not recorded: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}

	transfers, err := s.Transfers(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 1 || transfers[0].Target != "lobby.example.net:25565" || transfers[0].Username != "Alice" {
		t.Fatalf("transfers = %+v", transfers)
	}
}

func TestPruneRemovesOldHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	old := sampleInfo(1, "Alice")
	if err := s.RecordSession(ctx, old, "closed", base); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordTransfer(ctx, old, "lobby.example.net:25565", base); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSession(ctx, sampleInfo(2, "Bob"), "closed", base.Add(48*time.Hour)); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}

	left, err := s.Sessions(ctx, Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0].Username != "Bob" {
		t.Fatalf("left = %+v", left)
	}
}
