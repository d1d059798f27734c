package network

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/protocol"
)

// recordingEvents is an EventManager that remembers every event and vetoes
// the configured types.
type recordingEvents struct {
	mu     sync.Mutex
	called []events.Event
	veto   map[string]error
	onCall func(events.Event)
}

func (r *recordingEvents) Call(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.called = append(r.called, e)
	hook := r.onCall
	err := r.veto[string(e.Type)]
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	return err
}

func (r *recordingEvents) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.called = append(r.called, e)
	r.mu.Unlock()
}

func startServer(t *testing.T, mutate func(*config.ProxyConfig), opts ...Option) (*Server, string) {
	t.Helper()
	srv := newTestServer(t, mutate, opts...)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, ln.Addr().String()
}

type testClient struct {
	t        *testing.T
	conn     net.Conn
	protocol int32
}

func dialClient(t *testing.T, addr string, version int32) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, protocol: version}
}

func (c *testClient) send(p protocol.Packet) {
	c.t.Helper()
	payload, err := protocol.Marshal(p, c.protocol)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		c.t.Fatal(err)
	}
}

func (c *testClient) handshake(next protocol.State) {
	c.t.Helper()
	c.send(&protocol.Handshake{Protocol: c.protocol, Host: "localhost", Port: 25565, NextState: next})
}

func (c *testClient) recv() (int32, *protocol.Reader) {
	c.t.Helper()
	payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		c.t.Fatalf("ReadFrame: %v", err)
	}
	id, body, err := protocol.SplitPacket(payload)
	if err != nil {
		c.t.Fatal(err)
	}
	return id, body
}

func (c *testClient) expectID(want int32) *protocol.Reader {
	c.t.Helper()
	id, body := c.recv()
	if id != want {
		c.t.Fatalf("packet id = 0x%02X, want 0x%02X", id, want)
	}
	return body
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	_, err := protocol.ReadFrame(c.conn)
	if err == nil {
		c.t.Fatal("connection still open")
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		c.t.Fatal("server never closed the connection")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type seenState struct {
	state    protocol.State
	protocol int32
}

func TestLoginReachesConfig(t *testing.T) {
	bus := events.NewEventBus()
	atLogin := make(chan seenState, 1)
	atReady := make(chan seenState, 1)
	bus.Subscribe(events.EventPreLogin, "test", func(ctx context.Context, e events.Event) error {
		c := e.Payload.(*PreLoginEvent).Conn
		atLogin <- seenState{c.State(), c.Protocol()}
		return nil
	})
	bus.Subscribe(events.EventReady, "test", func(ctx context.Context, e events.Event) error {
		c := e.Payload.(*ReadyEvent).Conn
		atReady <- seenState{c.State(), c.Protocol()}
		return nil
	})
	_, addr := startServer(t, nil, WithEvents(bus))

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateLogin)
	id := uuid.New()
	client.send(&protocol.LoginStart{Name: "Alice", UUID: id})

	got := <-atLogin
	if got.state != protocol.StateLogin || got.protocol != protocol.Protocol1_21_2 {
		t.Fatalf("during pre-login: %+v", got)
	}

	body := client.expectID(protocol.IDLoginSuccess)
	p, err := protocol.DecodeLoginSuccess(body, client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	success := p.(*protocol.LoginSuccess)
	if success.Name != "Alice" || success.UUID != OfflineUUID("Alice") {
		t.Fatalf("LoginSuccess = %+v", success)
	}

	client.send(&protocol.LoginAcknowledged{})
	if got := <-atReady; got.state != protocol.StateConfig {
		t.Fatalf("ready fired in %s", got.state)
	}

	// Brand, then the no-target disconnect since routing is unset.
	brand := client.expectID(0x01)
	if ch, err := brand.ReadIdentifier(); err != nil || ch.String() != "minecraft:brand" {
		t.Fatalf("brand channel = %v, %v", ch, err)
	}
	client.expectID(0x02)
	client.expectClosed()
}

func TestTrustedClientUUID(t *testing.T) {
	_, addr := startServer(t, func(p *config.ProxyConfig) { p.TrustClientUUID = true })

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateLogin)
	id := uuid.New()
	client.send(&protocol.LoginStart{Name: "Alice", UUID: id})

	p, err := protocol.DecodeLoginSuccess(client.expectID(protocol.IDLoginSuccess), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	if p.(*protocol.LoginSuccess).UUID != id {
		t.Fatal("client UUID not used")
	}
}

func TestPreLoginVetoDisconnects(t *testing.T) {
	em := &recordingEvents{veto: map[string]error{"pre_login": errors.New("whitelist only")}}
	_, addr := startServer(t, nil, WithEvents(em))

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateLogin)
	client.send(&protocol.LoginStart{Name: "Mallory", UUID: uuid.New()})

	p, err := protocol.DecodeLoginDisconnect(client.expectID(protocol.IDLoginDisconnect), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	if p.(*protocol.LoginDisconnect).Reason.Text != "whitelist only" {
		t.Fatalf("reason = %+v", p)
	}
	client.expectClosed()
}

func TestReadyRoutesToDefaultTarget(t *testing.T) {
	em := &recordingEvents{}
	srv, addr := startServer(t, func(p *config.ProxyConfig) {
		p.Routing.DefaultTarget = "play.example.net:25566"
	}, WithEvents(em))

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateLogin)
	client.send(&protocol.LoginStart{Name: "Alice", UUID: uuid.New()})
	client.expectID(protocol.IDLoginSuccess)
	client.send(&protocol.LoginAcknowledged{})
	client.expectID(0x01)

	p, err := protocol.DecodeStoreCookie(client.expectID(protocol.IDConfigStoreCookie), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	store := p.(*protocol.StoreCookie)
	if store.Key.String() != OriginCookieKey {
		t.Fatalf("cookie key = %s", store.Key)
	}
	var origin Origin
	if err := json.Unmarshal(store.Payload, &origin); err != nil || origin.Host != "localhost" || origin.Port != 25565 {
		t.Fatalf("origin = %+v, %v", origin, err)
	}

	p, err = protocol.DecodeTransfer(client.expectID(protocol.IDConfigTransfer), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	if tr := p.(*protocol.Transfer); tr.Host != "play.example.net" || tr.Port != 25566 {
		t.Fatalf("transfer = %+v", tr)
	}

	client.conn.Close()
	waitFor(t, "connection to be released", func() bool { return srv.Registry().Count() == 0 })
	waitFor(t, "disconnected event", func() bool {
		em.mu.Lock()
		defer em.mu.Unlock()
		for _, e := range em.called {
			if d, ok := e.Payload.(DisconnectedEvent); ok {
				return d.Reason == "transfer to play.example.net:25566" && d.Info.Username == "Alice"
			}
		}
		return false
	})
}

func TestReadyHoldSkipsRouting(t *testing.T) {
	em := &recordingEvents{onCall: func(e events.Event) {
		if ev, ok := e.Payload.(*ReadyEvent); ok {
			ev.Hold = true
		}
	}}
	srv, addr := startServer(t, nil, WithEvents(em))

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateLogin)
	client.send(&protocol.LoginStart{Name: "Alice", UUID: uuid.New()})
	client.expectID(protocol.IDLoginSuccess)
	client.send(&protocol.LoginAcknowledged{})
	client.expectID(0x01)

	waitFor(t, "CONFIG", func() bool {
		list := srv.Registry().List()
		return len(list) == 1 && list[0].State == "CONFIG"
	})

	// The held connection is finished later from outside its loop.
	c, ok := srv.Registry().Get(srv.Registry().List()[0].ID)
	if !ok {
		t.Fatal("connection not registered")
	}
	err := c.ExecuteWait(context.Background(), func(c *Conn) error {
		return c.Transfer("lobby.example.net", 25565)
	})
	if err != nil {
		t.Fatal(err)
	}
	client.expectID(protocol.IDConfigTransfer)
}

func TestStatusAndPing(t *testing.T) {
	srv, addr := startServer(t, nil)

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateStatus)
	client.send(&protocol.StatusRequest{})

	p, err := protocol.DecodeStatusResponse(client.expectID(protocol.IDStatusResponse), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	status := p.(*protocol.StatusResponse).Status
	if status.Version.Protocol != protocol.Protocol1_21_2 {
		t.Fatalf("version protocol = %d", status.Version.Protocol)
	}
	if status.Description.Text != srv.proxy.Status.MOTD || status.Players.Max != srv.proxy.Status.MaxPlayers {
		t.Fatalf("status = %+v", status)
	}

	client.send(&protocol.PingRequest{Payload: 42})
	p, err = protocol.DecodePongResponse(client.expectID(protocol.IDPongResponse), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	if p.(*protocol.PongResponse).Payload != 42 {
		t.Fatalf("pong = %+v", p)
	}
	client.expectClosed()
}

func TestStatusOverride(t *testing.T) {
	em := &recordingEvents{onCall: func(e events.Event) {
		if ev, ok := e.Payload.(*StatusRequestEvent); ok {
			ev.Response = &protocol.ServerStatus{
				Version:     protocol.StatusVersion{Name: "maintenance", Protocol: -1},
				Description: protocol.PlainText("Back soon"),
			}
		}
	}}
	_, addr := startServer(t, nil, WithEvents(em))

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateStatus)
	client.send(&protocol.StatusRequest{})
	p, err := protocol.DecodeStatusResponse(client.expectID(protocol.IDStatusResponse), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.(*protocol.StatusResponse).Status; got.Version.Name != "maintenance" || got.Description.Text != "Back soon" {
		t.Fatalf("status = %+v", got)
	}
}

func TestUnsupportedProtocolRejected(t *testing.T) {
	srv, addr := startServer(t, nil)

	client := dialClient(t, addr, 700)
	client.handshake(protocol.StateLogin)
	p, err := protocol.DecodeLoginDisconnect(client.expectID(protocol.IDLoginDisconnect), 700)
	if err != nil {
		t.Fatal(err)
	}
	if p.(*protocol.LoginDisconnect).Reason.Text != srv.proxy.Messages.UnsupportedVersion {
		t.Fatalf("reason = %+v", p)
	}
	client.expectClosed()
}

func TestCorruptFrameClosesConnection(t *testing.T) {
	_, addr := startServer(t, nil)

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	if _, err := client.conn.Write([]byte{0xFF, 0xFF, 0xFF, 0x01}); err != nil {
		t.Fatal(err)
	}
	client.expectClosed()
}

func TestPoolRejectsExcessConnections(t *testing.T) {
	_, addr := startServer(t, func(p *config.ProxyConfig) { p.MaxConnections = 1 })

	first := dialClient(t, addr, protocol.Protocol1_21_2)
	first.handshake(protocol.StateStatus)
	first.send(&protocol.StatusRequest{})
	first.expectID(protocol.IDStatusResponse)

	second := dialClient(t, addr, protocol.Protocol1_21_2)
	second.expectClosed()
}

func TestIdleConnectionsAreClosed(t *testing.T) {
	_, addr := startServer(t, func(p *config.ProxyConfig) { p.IdleTimeoutSec = 1 })

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.expectClosed()
}

func TestShutdownDisconnectsLoggingInClients(t *testing.T) {
	srv, addr := startServer(t, nil)

	client := dialClient(t, addr, protocol.Protocol1_21_2)
	client.handshake(protocol.StateLogin)
	waitFor(t, "LOGIN", func() bool {
		list := srv.Registry().List()
		return len(list) == 1 && list[0].State == "LOGIN"
	})

	go srv.Shutdown(context.Background())

	p, err := protocol.DecodeLoginDisconnect(client.expectID(protocol.IDLoginDisconnect), client.protocol)
	if err != nil {
		t.Fatal(err)
	}
	if p.(*protocol.LoginDisconnect).Reason.Text != srv.proxy.Messages.Shutdown {
		t.Fatalf("reason = %+v", p)
	}
	client.expectClosed()
}
