package network

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/protocol"
)

// OriginCookieKey holds where a transferred client first connected.
const OriginCookieKey = "portal:origin"

var brandChannel = protocol.MustIdentifier("minecraft:brand")

// Origin is the payload of the origin cookie.
type Origin struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
	Time int64  `json:"time"`
}

// OfflineUUID derives the name-based version 3 UUID offline-mode servers
// assign to name.
func OfflineUUID(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}

func (c *Conn) handle(ctx context.Context, p protocol.Packet) error {
	switch p := p.(type) {
	case *protocol.Handshake:
		return c.handleHandshake(ctx, p)
	case *protocol.StatusRequest:
		return c.handleStatusRequest(ctx)
	case *protocol.PingRequest:
		return c.handlePing(p)
	case *protocol.LoginStart:
		return c.handleLoginStart(ctx, p)
	case *protocol.LoginAcknowledged:
		return c.handleLoginAcknowledged(ctx)
	case *protocol.CookieResponse:
		return c.handleCookieResponse(ctx, p)
	case *protocol.ClientInformation:
		if !c.SetClientInformation(p) {
			c.log.Debug().Msg("ignoring repeated client information")
		}
		return nil
	case *protocol.PluginMessage:
		return c.handlePluginMessage(ctx, p)
	case *protocol.ServerboundKeepAlive:
		c.handleKeepAlive(p)
		return nil
	case *protocol.LoginPluginResponse, *protocol.AcknowledgeFinishConfiguration,
		*protocol.Pong, *protocol.ResourcePackResponse, *protocol.KnownPacks,
		*protocol.CustomClickAction:
		c.log.Debug().Str("packet", protocol.Name(p)).Msg("ignoring packet")
		return nil
	default:
		return fmt.Errorf("no handler for %s", protocol.Name(p))
	}
}

func (c *Conn) handleHandshake(ctx context.Context, p *protocol.Handshake) error {
	host, _, _ := strings.Cut(p.Host, "\x00")
	c.protocol = p.Protocol
	c.hostname = strings.TrimSuffix(host, ".")
	c.port = p.Port
	c.group = c.srv.selector(p.Protocol)
	if c.group == nil {
		return fmt.Errorf("no provider group for protocol %d", p.Protocol)
	}
	c.log = c.log.With().Int32("protocol", p.Protocol).Logger()

	err := c.srv.events.Call(ctx, events.Event{
		Type:    events.EventHandshake,
		Source:  c.source(),
		Payload: &HandshakeEvent{Conn: c, Handshake: p},
	})
	if err != nil {
		c.log.Info().Err(err).Msg("handshake vetoed")
		c.closeWith("handshake vetoed")
		return nil
	}

	if err := c.SetState(p.NextState); err != nil {
		return err
	}
	if c.state != protocol.StateLogin {
		return nil
	}
	if !protocol.IsSupported(c.protocol) {
		c.log.Info().Str("version", protocol.VersionName(c.protocol)).Msg("rejecting unsupported protocol")
		return c.DisconnectPrebuilt(c.srv.packets.unsupported, "unsupported protocol")
	}
	if c.fromTransfer && (!c.cfg.AcceptTransfers || c.protocol < protocol.ProtocolCookies) {
		return c.DisconnectPrebuilt(c.srv.packets.transfersDisabled, "transfers disabled")
	}
	return nil
}

func (c *Conn) handleStatusRequest(ctx context.Context) error {
	if c.statusAnswered {
		return fmt.Errorf("duplicate status request")
	}
	c.statusAnswered = true

	ev := &StatusRequestEvent{Conn: c}
	err := c.srv.events.Call(ctx, events.Event{
		Type:    events.EventStatusRequest,
		Source:  c.source(),
		Payload: ev,
	})
	if err != nil {
		c.log.Debug().Err(err).Msg("status request vetoed")
		c.closeWith("status vetoed")
		return nil
	}

	switch {
	case ev.Response != nil:
		return c.SendStatusResponse(*ev.Response)
	case c.cfg.Status.Cache:
		cached, err := c.srv.status.get()
		if err != nil {
			return err
		}
		if err := c.require("send status response", protocol.StateStatus); err != nil {
			return err
		}
		payload, err := cached.Payload(statusProtocol(c.protocol))
		if err != nil {
			return fmt.Errorf("failed to resolve status response: %w", err)
		}
		return c.enqueue(payload)
	default:
		return c.SendStatusResponse(c.srv.source.Status(statusProtocol(c.protocol)))
	}
}

func (c *Conn) handlePing(p *protocol.PingRequest) error {
	if err := c.SendPacket(&protocol.PongResponse{Payload: p.Payload}); err != nil {
		return err
	}
	c.closeWith("status ping")
	return nil
}

func (c *Conn) handleLoginStart(ctx context.Context, p *protocol.LoginStart) error {
	if c.profile != nil {
		return fmt.Errorf("duplicate login start for %s", c.profile.Name)
	}

	id := OfflineUUID(p.Name)
	if c.cfg.TrustClientUUID && p.UUID != uuid.Nil {
		id = p.UUID
	}
	ev := &PreLoginEvent{Conn: c, Name: p.Name, UUID: id}
	err := c.srv.events.Call(ctx, events.Event{
		Type:    events.EventPreLogin,
		Source:  c.source(),
		Payload: ev,
	})
	if err != nil {
		c.log.Info().Err(err).Str("username", p.Name).Msg("login vetoed")
		return c.Disconnect(protocol.PlainText(err.Error()))
	}
	if c.state != protocol.StateLogin {
		return nil
	}

	c.log = c.log.With().Str("username", ev.Name).Logger()
	return c.SendLoginSuccess(Profile{Name: ev.Name, UUID: ev.UUID})
}

func (c *Conn) handleLoginAcknowledged(ctx context.Context) error {
	if c.profile == nil {
		return fmt.Errorf("login acknowledged before login success")
	}
	if err := c.SetState(protocol.StateConfig); err != nil {
		return err
	}
	if err := c.SendPrebuilt(c.srv.packets.brand); err != nil {
		return err
	}
	c.log.Info().Str("uuid", c.profile.UUID.String()).Msg("client ready")

	ev := &ReadyEvent{Conn: c}
	err := c.srv.events.Call(ctx, events.Event{
		Type:    events.EventReady,
		Source:  c.source(),
		Payload: ev,
	})
	if err != nil {
		return c.Disconnect(protocol.PlainText(err.Error()))
	}
	if ev.Hold || c.state != protocol.StateConfig {
		return nil
	}

	routing := c.srv.cfg.GetProxy().Routing
	if c.fromTransfer && routing.OriginCookie && c.protocol >= protocol.ProtocolCookies {
		if _, err := c.FetchCookie(OriginCookieKey); err != nil {
			return err
		}
		c.awaitingOrigin = true
		return nil
	}
	return c.routeDefault(routing)
}

// routeDefault sends a ready client to the configured target, or
// disconnects it when there is none.
func (c *Conn) routeDefault(routing config.RoutingConfig) error {
	if routing.DefaultTarget == "" || c.protocol < protocol.ProtocolCookies {
		return c.DisconnectPrebuilt(c.srv.packets.noTarget, "no target")
	}
	target, err := config.SplitHostPort(routing.DefaultTarget)
	if err != nil {
		c.log.Error().Err(err).Msg("invalid default target")
		return c.DisconnectPrebuilt(c.srv.packets.noTarget, "no target")
	}

	if routing.OriginCookie && !c.fromTransfer {
		payload, err := json.Marshal(Origin{Host: c.hostname, Port: c.port, Time: time.Now().Unix()})
		if err != nil {
			return fmt.Errorf("failed to encode origin cookie: %w", err)
		}
		if err := c.StoreCookie(OriginCookieKey, payload); err != nil {
			return err
		}
	}
	return c.Transfer(target.Host, target.Port)
}

func (c *Conn) handleCookieResponse(ctx context.Context, p *protocol.CookieResponse) error {
	if !c.HandleCookieResponse(p.Key, p.Payload, p.Present) {
		return nil
	}
	err := c.srv.events.Call(ctx, events.Event{
		Type:    events.EventCookieResponse,
		Source:  c.source(),
		Payload: &CookieResponseEvent{Conn: c, Key: p.Key, Payload: p.Payload, Present: p.Present},
	})
	if err != nil && c.state != protocol.StateClosed {
		return c.Disconnect(protocol.PlainText(err.Error()))
	}

	if c.awaitingOrigin && p.Key.String() == OriginCookieKey {
		c.awaitingOrigin = false
		if p.Present {
			var origin Origin
			if err := json.Unmarshal(p.Payload, &origin); err == nil {
				c.origin = fmt.Sprintf("%s:%d", origin.Host, origin.Port)
				c.log.Info().Str("origin", c.origin).Msg("client returned from transfer")
			}
		}
		if c.state == protocol.StateConfig {
			return c.routeDefault(c.srv.cfg.GetProxy().Routing)
		}
	}
	return nil
}

func (c *Conn) handlePluginMessage(ctx context.Context, p *protocol.PluginMessage) error {
	if p.Channel != brandChannel {
		c.log.Debug().Str("channel", p.Channel.String()).Msg("ignoring plugin message")
		return nil
	}
	brand, err := protocol.NewReader(p.Data).ReadString(protocol.DefaultStringLen)
	if err != nil {
		c.log.Debug().Err(err).Msg("malformed client brand")
		return nil
	}
	c.brand = brand

	err = c.srv.events.Call(ctx, events.Event{
		Type:    events.EventClientBrand,
		Source:  c.source(),
		Payload: &ClientBrandEvent{Conn: c, Brand: brand},
	})
	if err != nil && c.state == protocol.StateConfig {
		return c.Disconnect(protocol.PlainText(err.Error()))
	}
	return nil
}

func (c *Conn) handleKeepAlive(p *protocol.ServerboundKeepAlive) {
	if p.Payload != c.keepAliveID {
		c.log.Debug().Int64("got", p.Payload).Int64("want", c.keepAliveID).Msg("unexpected keep-alive")
		return
	}
	c.keepAliveID = 0
	c.log.Trace().Int64("rtt_ms", time.Now().UnixMilli()-p.Payload).Msg("keep-alive answered")
}
