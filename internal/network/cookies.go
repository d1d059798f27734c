package network

import (
	"context"
	"fmt"
	"sync"

	"github.com/portal-project/portal/internal/protocol"
)

// CookieFuture is a pending cookie request. It resolves at most once, when
// the client answers; if the connection ends first it never resolves.
// Never Wait on it from the connection's own loop: the response is
// delivered by that loop.
type CookieFuture struct {
	key     protocol.Identifier
	done    chan struct{}
	once    sync.Once
	payload []byte
	present bool
}

func newCookieFuture(key protocol.Identifier) *CookieFuture {
	return &CookieFuture{key: key, done: make(chan struct{})}
}

func (f *CookieFuture) Key() protocol.Identifier { return f.key }

// Done is closed once the response arrived.
func (f *CookieFuture) Done() <-chan struct{} { return f.done }

// Payload returns the cookie. ok is false while pending and when the client
// holds no cookie under the key.
func (f *CookieFuture) Payload() (payload []byte, ok bool) {
	select {
	case <-f.done:
		return f.payload, f.present
	default:
		return nil, false
	}
}

// Wait blocks until the response arrives or ctx ends.
func (f *CookieFuture) Wait(ctx context.Context) ([]byte, bool, error) {
	select {
	case <-f.done:
		return f.payload, f.present, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (f *CookieFuture) resolve(payload []byte, present bool) bool {
	resolved := false
	f.once.Do(func() {
		f.payload = payload
		f.present = present
		close(f.done)
		resolved = true
	})
	return resolved
}

// FetchCookie asks the client for the cookie stored under key. Repeated
// calls for the same key return the same future and send one request.
func (c *Conn) FetchCookie(key string) (*CookieFuture, error) {
	id, err := protocol.ParseIdentifier(key)
	if err != nil {
		return nil, err
	}
	if err := c.require("fetch cookie", protocol.StateLogin, protocol.StateConfig); err != nil {
		return nil, err
	}
	if c.protocol < protocol.ProtocolCookies {
		return nil, fmt.Errorf("fetch cookie %s: %w", key, ErrUnsupportedByClient)
	}
	if f, ok := c.cookies[id.String()]; ok {
		return f, nil
	}

	f := newCookieFuture(id)
	if err := c.SendPacket(&protocol.CookieRequest{State: c.state, Key: id}); err != nil {
		return nil, err
	}
	c.cookies[id.String()] = f
	c.srv.metrics.CookieRequest(c.state.String())
	c.log.Debug().Str("key", id.String()).Msg("cookie requested")
	return f, nil
}

// HandleCookieResponse resolves the pending request for key. Responses
// nobody asked for, or repeats, are ignored and reported as false.
func (c *Conn) HandleCookieResponse(key protocol.Identifier, payload []byte, present bool) bool {
	f, ok := c.cookies[key.String()]
	if !ok {
		return false
	}
	return f.resolve(payload, present)
}

// StoreCookie asks the client to keep payload under key. There is no
// acknowledgement.
func (c *Conn) StoreCookie(key string, payload []byte) error {
	if err := c.require("store cookie", protocol.StateConfig); err != nil {
		return err
	}
	id, err := protocol.ParseIdentifier(key)
	if err != nil {
		return err
	}
	if len(payload) > protocol.MaxCookieSize {
		return fmt.Errorf("store cookie %s: %d bytes exceeds %d: %w",
			key, len(payload), protocol.MaxCookieSize, protocol.ErrFieldTooLarge)
	}
	if c.protocol < protocol.ProtocolCookies {
		return fmt.Errorf("store cookie %s: %w", key, ErrUnsupportedByClient)
	}
	return c.SendPacket(&protocol.StoreCookie{Key: id, Payload: payload})
}
