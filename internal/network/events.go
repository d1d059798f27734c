package network

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/protocol"
)

// EventManager is the hook surface the connection loop calls at fixed
// lifecycle points. Call runs on the owning loop and its error vetoes the
// step; Emit is fire-and-forget. *events.EventBus satisfies it.
type EventManager interface {
	Call(ctx context.Context, event events.Event) error
	Emit(ctx context.Context, event events.Event)
}

type nopEvents struct{}

func (nopEvents) Call(context.Context, events.Event) error { return nil }
func (nopEvents) Emit(context.Context, events.Event)       {}

// HandshakeEvent is called after the handshake fields are recorded and
// before the connection leaves HANDSHAKE. A veto closes the socket.
type HandshakeEvent struct {
	Conn      *Conn
	Handshake *protocol.Handshake
}

// StatusRequestEvent lets handlers replace the status response. Leaving
// Response nil keeps the default.
type StatusRequestEvent struct {
	Conn     *Conn
	Response *protocol.ServerStatus
}

// PreLoginEvent is called for LoginStart. Handlers may rewrite UUID; a veto
// disconnects the client with the error text as the reason.
type PreLoginEvent struct {
	Conn *Conn
	Name string
	UUID uuid.UUID
}

// ReadyEvent is called once the connection enters CONFIG. Handlers that
// finish the connection themselves later (for example after a cookie
// arrives) set Hold so the default routing is skipped.
type ReadyEvent struct {
	Conn *Conn
	Hold bool
}

// CookieResponseEvent is called for every cookie response that resolved a
// pending request.
type CookieResponseEvent struct {
	Conn    *Conn
	Key     protocol.Identifier
	Payload []byte
	Present bool
}

// ClientBrandEvent is called when the client announces its brand.
type ClientBrandEvent struct {
	Conn  *Conn
	Brand string
}

// TransferEvent is emitted asynchronously after a Transfer packet was queued.
type TransferEvent struct {
	Info Info
	Host string
	Port int
}

// DisconnectedEvent is emitted asynchronously once a connection is gone.
type DisconnectedEvent struct {
	Info     Info
	Reason   string
	ClosedAt time.Time
}
