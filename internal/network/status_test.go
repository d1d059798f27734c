package network

import (
	"context"
	"testing"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/protocol"
)

func statusFor(t *testing.T, cached bool, version int32) protocol.ServerStatus {
	t.Helper()
	srv := newTestServer(t, func(p *config.ProxyConfig) { p.Status.Cache = cached })
	c := newTestConn(t, srv, protocol.StateStatus, version)

	if err := c.handleStatusRequest(context.Background()); err != nil {
		t.Fatalf("handleStatusRequest: %v", err)
	}
	id, body := nextQueued(t, c)
	if id != protocol.IDStatusResponse {
		t.Fatalf("id = 0x%02X", id)
	}
	p, err := protocol.DecodeStatusResponse(body, version)
	if err != nil {
		t.Fatal(err)
	}
	return p.(*protocol.StatusResponse).Status
}

func TestStatusVersionMatchesWithAndWithoutCache(t *testing.T) {
	tests := []struct {
		client int32
		want   int32
	}{
		{700, protocol.MaxProtocol},
		{protocol.Protocol1_20_2, protocol.Protocol1_20_2},
		{protocol.Protocol1_21_2, protocol.Protocol1_21_2},
		{protocol.MaxProtocol + 5, protocol.MaxProtocol},
	}
	for _, tt := range tests {
		uncached := statusFor(t, false, tt.client)
		cached := statusFor(t, true, tt.client)
		if uncached.Version.Protocol != tt.want || cached.Version.Protocol != tt.want {
			t.Errorf("client %d: uncached %d, cached %d, want %d",
				tt.client, uncached.Version.Protocol, cached.Version.Protocol, tt.want)
		}
	}
}
