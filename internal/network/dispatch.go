package network

import (
	"context"
	"fmt"

	"github.com/portal-project/portal/internal/protocol"
)

// dispatch decodes one frame payload and runs its handler. Errors are fatal
// for the connection.
func (c *Conn) dispatch(ctx context.Context, frame []byte) error {
	if len(frame) == 0 || c.state == protocol.StateClosed {
		return nil
	}

	id, body, err := protocol.SplitPacket(frame)
	if err != nil {
		return err
	}
	decode, err := c.group.Lookup(c.state, id)
	if err != nil {
		return err
	}
	if decode == nil {
		c.log.Debug().
			Str("state", c.state.String()).
			Str("group", c.group.Name()).
			Int32("packet_id", id).
			Msg("skipping unknown packet")
		return nil
	}

	p, err := decode(body, c.protocol)
	if err != nil {
		return fmt.Errorf("failed to decode packet 0x%02X in %s: %w", id, c.state, err)
	}
	if c.cfg.StrictDecoding && body.Remaining() > 0 {
		return &protocol.Error{
			Kind: protocol.ErrLeftoverBytes,
			Msg:  fmt.Sprintf("%s left %d unread bytes", protocol.Name(p), body.Remaining()),
		}
	}

	c.srv.metrics.PacketDecoded(c.state.String())
	return c.handle(ctx, p)
}
