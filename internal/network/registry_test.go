package network

import (
	"testing"
	"time"

	"github.com/portal-project/portal/internal/protocol"
)

func TestRegistryListAndPlayers(t *testing.T) {
	srv := newTestServer(t, nil)
	reg := NewRegistry()

	login := newTestConn(t, srv, protocol.StateLogin, protocol.Protocol1_21_2)
	config := newTestConn(t, srv, protocol.StateConfig, protocol.Protocol1_21_2)
	config.profile = &Profile{Name: "Alice", UUID: OfflineUUID("Alice")}
	gone := newTestConn(t, srv, protocol.StateClosed, protocol.Protocol1_21_2)
	gone.profile = &Profile{Name: "Bob", UUID: OfflineUUID("Bob")}
	for _, c := range []*Conn{gone, config, login} {
		c.publish()
		reg.Register(c)
	}

	list := reg.List()
	if len(list) != 3 || reg.Count() != 3 {
		t.Fatalf("List() has %d entries, Count() = %d", len(list), reg.Count())
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID >= list[i].ID {
			t.Fatalf("List() not ordered by id: %v", list)
		}
	}
	if n := reg.Players(); n != 1 {
		t.Fatalf("Players() = %d, want 1", n)
	}

	if c, ok := reg.Get(config.ID()); !ok || c != config {
		t.Fatal("Get returned the wrong connection")
	}
	reg.Unregister(config.ID())
	reg.Unregister(config.ID())
	if _, ok := reg.Get(config.ID()); ok || reg.Count() != 2 || reg.Players() != 0 {
		t.Fatal("Unregister left the connection behind")
	}
}

func TestRegistryEach(t *testing.T) {
	srv := newTestServer(t, nil)
	reg := NewRegistry()
	for i := 0; i < 3; i++ {
		c := newTestConn(t, srv, protocol.StateStatus, protocol.Protocol1_21_2)
		c.publish()
		reg.Register(c)
	}

	seen := map[uint64]bool{}
	reg.Each(func(c *Conn) { seen[c.ID()] = true })
	if len(seen) != 3 {
		t.Fatalf("Each visited %d connections", len(seen))
	}
}

func TestRegistryCloseAllAbortsBlockedWrites(t *testing.T) {
	srv := newTestServer(t, nil)
	reg := NewRegistry()

	// Nobody reads the client end of the pipe, so the write loop blocks.
	c := newTestConn(t, srv, protocol.StateConfig, protocol.Protocol1_21_2)
	if err := c.SendPacket(&protocol.ClientboundKeepAlive{Payload: 1}); err != nil {
		t.Fatal(err)
	}
	reg.Register(c)
	go c.serve()

	time.Sleep(50 * time.Millisecond)
	reg.CloseAll()

	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection still running after CloseAll")
	}
}
