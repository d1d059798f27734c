package network

import (
	"context"
	"errors"
	"testing"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/protocol"
)

func handshakePayload(t *testing.T, next protocol.State, extra ...byte) []byte {
	t.Helper()
	payload, err := protocol.Marshal(&protocol.Handshake{
		Protocol:  protocol.Protocol1_21_2,
		Host:      "localhost",
		Port:      25565,
		NextState: next,
	}, protocol.Protocol1_21_2)
	if err != nil {
		t.Fatal(err)
	}
	return append(payload, extra...)
}

func TestDispatchStrictRejectsLeftoverBytes(t *testing.T) {
	c := newTestConn(t, newTestServer(t, nil), protocol.StateHandshake, 0)

	err := c.dispatch(context.Background(), handshakePayload(t, protocol.StateStatus, 0xFF, 0xFE))
	if !errors.Is(err, protocol.ErrNotConsumed) {
		t.Fatalf("dispatch = %v, want leftover bytes error", err)
	}
	var pe *protocol.Error
	if !errors.As(err, &pe) || pe.Msg != "Handshake left 2 unread bytes" {
		t.Fatalf("error = %v", err)
	}
}

func TestDispatchLenientAcceptsLeftoverBytes(t *testing.T) {
	srv := newTestServer(t, func(p *config.ProxyConfig) { p.StrictDecoding = false })
	c := newTestConn(t, srv, protocol.StateHandshake, 0)

	if err := c.dispatch(context.Background(), handshakePayload(t, protocol.StateStatus, 0xFF)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if c.State() != protocol.StateStatus || c.Protocol() != protocol.Protocol1_21_2 {
		t.Fatalf("state = %s protocol = %d", c.State(), c.Protocol())
	}
	if c.ProviderGroup() != srv.selector(protocol.Protocol1_21_2) {
		t.Fatal("provider group not cached from the handshake")
	}
}

func TestDispatchSkipsEmptyUnknownAndClosed(t *testing.T) {
	srv := newTestServer(t, nil)
	c := newTestConn(t, srv, protocol.StateStatus, protocol.Protocol1_21_2)

	if err := c.dispatch(context.Background(), nil); err != nil {
		t.Fatalf("empty frame: %v", err)
	}
	if err := c.dispatch(context.Background(), []byte{0x33}); err != nil {
		t.Fatalf("unknown id: %v", err)
	}
	if queued(c) != 0 || c.State() != protocol.StateStatus {
		t.Fatal("skipped frames had side effects")
	}

	closed := newTestConn(t, srv, protocol.StateClosed, protocol.Protocol1_21_2)
	if err := closed.dispatch(context.Background(), []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("frame after CLOSED: %v", err)
	}
}

func TestDispatchCorruptIDIsFatal(t *testing.T) {
	c := newTestConn(t, newTestServer(t, nil), protocol.StateStatus, protocol.Protocol1_21_2)
	err := c.dispatch(context.Background(), []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01})
	if !errors.Is(err, protocol.ErrFrameCorrupt) {
		t.Fatalf("dispatch = %v, want corrupt", err)
	}
}

func TestHandshakeVetoClosesConnection(t *testing.T) {
	em := &recordingEvents{veto: map[string]error{"handshake": errors.New("banned host")}}
	c := newTestConn(t, newTestServer(t, nil, WithEvents(em)), protocol.StateHandshake, 0)

	if err := c.dispatch(context.Background(), handshakePayload(t, protocol.StateLogin)); err != nil {
		t.Fatal(err)
	}
	if c.State() != protocol.StateClosed || !c.closeAfterFlush {
		t.Fatalf("state = %s after veto", c.State())
	}
}

func TestTransferHandshakeRejectedWhenDisabled(t *testing.T) {
	srv := newTestServer(t, func(p *config.ProxyConfig) { p.AcceptTransfers = false })
	c := newTestConn(t, srv, protocol.StateHandshake, 0)

	if err := c.dispatch(context.Background(), handshakePayload(t, protocol.StateTransfer)); err != nil {
		t.Fatal(err)
	}
	if !c.FromTransfer() || c.State() != protocol.StateClosed {
		t.Fatalf("fromTransfer = %v state = %s", c.FromTransfer(), c.State())
	}
	id, body := nextQueued(t, c)
	if id != protocol.IDLoginDisconnect {
		t.Fatalf("id = 0x%02X", id)
	}
	p, err := protocol.DecodeLoginDisconnect(body, protocol.Protocol1_21_2)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.(*protocol.LoginDisconnect).Reason.Text; got != srv.proxy.Messages.TransfersDisabled {
		t.Fatalf("reason = %q", got)
	}
}
