// Package cli implements the client-side helpers behind the portal command:
// a status pinger and table renderers.
package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/portal-project/portal/internal/protocol"
)

// PingResult is what a server reported during a status ping.
type PingResult struct {
	Address  string
	Protocol int32
	Status   protocol.ServerStatus
	Latency  time.Duration
}

// Ping performs a status exchange against addr speaking version.
func Ping(ctx context.Context, addr string, version int32) (*PingResult, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port in %q", addr)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	send := func(p protocol.Packet) error {
		payload, err := protocol.Marshal(p, version)
		if err != nil {
			return err
		}
		return protocol.WriteFrame(conn, payload)
	}
	recv := func(want int32, decode protocol.Decoder) (protocol.Packet, error) {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			return nil, err
		}
		id, body, err := protocol.SplitPacket(payload)
		if err != nil {
			return nil, err
		}
		if id != want {
			return nil, fmt.Errorf("unexpected packet 0x%02X, want 0x%02X", id, want)
		}
		return decode(body, version)
	}

	err = send(&protocol.Handshake{
		Protocol:  version,
		Host:      host,
		Port:      uint16(port),
		NextState: protocol.StateStatus,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}
	if err := send(&protocol.StatusRequest{}); err != nil {
		return nil, fmt.Errorf("failed to request status: %w", err)
	}
	p, err := recv(protocol.IDStatusResponse, protocol.DecodeStatusResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	result := &PingResult{
		Address:  addr,
		Protocol: version,
		Status:   p.(*protocol.StatusResponse).Status,
	}

	start := time.Now()
	token := start.UnixMilli()
	if err := send(&protocol.PingRequest{Payload: token}); err != nil {
		return nil, fmt.Errorf("failed to send ping: %w", err)
	}
	p, err = recv(protocol.IDPongResponse, protocol.DecodePongResponse)
	if err != nil {
		return nil, fmt.Errorf("failed to read pong: %w", err)
	}
	if got := p.(*protocol.PongResponse).Payload; got != token {
		return nil, fmt.Errorf("pong payload %d does not match ping %d", got, token)
	}
	result.Latency = time.Since(start)
	return result, nil
}
