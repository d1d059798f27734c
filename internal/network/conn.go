// Package network serves game clients: the accept loop, the per-connection
// state machine and the default lifecycle handlers.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/protocol"
	"github.com/portal-project/portal/internal/util"
)

const (
	readBufferSize = 4096
	writeTimeout   = 10 * time.Second
	taskQueueSize  = 16
)

var (
	// ErrConnClosed is returned by Execute once the connection loop has exited.
	ErrConnClosed = errors.New("connection closed")
	// ErrWriteQueueFull means the client is not reading fast enough.
	ErrWriteQueueFull = errors.New("write queue full")
	// ErrUnsupportedByClient is returned for features the client's protocol lacks.
	ErrUnsupportedByClient = errors.New("not supported by the client protocol version")

	errIdleTimeout = errors.New("idle timeout")
	errFlushed     = errors.New("write queue flushed")
)

// IllegalStateError is returned when an operation is called in a state that
// does not allow it. The connection is left untouched.
type IllegalStateError struct {
	Op       string
	Expected []protocol.State
	Actual   protocol.State
}

func (e *IllegalStateError) Error() string {
	names := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		names[i] = s.String()
	}
	return fmt.Sprintf("%s requires state %s, connection is in %s", e.Op, strings.Join(names, " or "), e.Actual)
}

// Profile identifies a logged-in player.
type Profile struct {
	Name string
	UUID uuid.UUID
}

// Info is a point-in-time copy of a connection, safe to read from any goroutine.
type Info struct {
	ID             uint64    `json:"id"`
	Remote         string    `json:"remote"`
	State          string    `json:"state"`
	Protocol       int32     `json:"protocol"`
	Version        string    `json:"version"`
	Hostname       string    `json:"hostname"`
	Port           uint16    `json:"port"`
	Username       string    `json:"username,omitempty"`
	UUID           string    `json:"uuid,omitempty"`
	Brand          string    `json:"brand,omitempty"`
	Locale         string    `json:"locale,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	FromTransfer   bool      `json:"from_transfer"`
	TransferTarget string    `json:"transfer_target,omitempty"`
	ConnectedAt    time.Time `json:"connected_at"`
}

// Conn is one client connection. Everything except Info, Execute,
// ExecuteWait and Close must be called from the connection's own loop, that
// is from event handlers and Execute callbacks.
type Conn struct {
	id          uint64
	raw         net.Conn
	srv         *Server
	cfg         config.ProxyConfig
	log         zerolog.Logger
	connectedAt time.Time

	state           protocol.State
	protocol        int32
	hostname        string
	port            uint16
	profile         *Profile
	clientInfo      *protocol.ClientInformation
	group           *protocol.ProviderGroup
	cookies         map[string]*CookieFuture
	brand           string
	origin          string
	fromTransfer    bool
	transferTarget  string
	statusAnswered  bool
	awaitingOrigin  bool
	keepAliveID     int64
	closeAfterFlush bool
	closeReason     string
	fatal           error

	frames chan []byte
	tasks  chan func(*Conn)
	out    chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	info atomic.Pointer[Info]
}

func newConn(srv *Server, raw net.Conn, id uint64) *Conn {
	cfg := srv.cfg.GetProxy()
	queue := cfg.WriteQueueSize
	if queue < 1 {
		queue = config.DefaultWriteQueueSize
	}
	ctx, cancel := context.WithCancel(srv.ctx)
	c := &Conn{
		id:          id,
		raw:         raw,
		srv:         srv,
		cfg:         cfg,
		connectedAt: time.Now(),
		state:       protocol.StateHandshake,
		group:       srv.selector(0),
		cookies:     make(map[string]*CookieFuture),
		frames:      make(chan []byte, 1),
		tasks:       make(chan func(*Conn), taskQueueSize),
		out:         make(chan []byte, queue),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.log = util.ComponentLogger("conn").With().
		Uint64("conn_id", id).
		Str("remote", raw.RemoteAddr().String()).
		Logger()
	c.publish()
	return c
}

// ID returns the connection's process-unique id.
func (c *Conn) ID() uint64 { return c.id }

func (c *Conn) State() protocol.State { return c.state }

// Protocol returns the version declared in the handshake, 0 before it.
func (c *Conn) Protocol() int32 { return c.protocol }

// Hostname returns the address the client typed, without forge markers.
func (c *Conn) Hostname() string { return c.hostname }

func (c *Conn) Port() uint16 { return c.port }

func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// FromTransfer reports whether the client arrived through a transfer.
func (c *Conn) FromTransfer() bool { return c.fromTransfer }

func (c *Conn) Brand() string { return c.brand }

// ProviderGroup returns the decoder tables selected for the client's protocol.
func (c *Conn) ProviderGroup() *protocol.ProviderGroup { return c.group }

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() zerolog.Logger { return c.log }

// Profile returns the player profile once login has started.
func (c *Conn) Profile() (Profile, bool) {
	if c.profile == nil {
		return Profile{}, false
	}
	return *c.profile, true
}

// SetProfile replaces the profile before LoginSuccess is sent.
func (c *Conn) SetProfile(p Profile) error {
	if err := c.require("set profile", protocol.StateLogin); err != nil {
		return err
	}
	c.profile = &p
	return nil
}

// ClientInformation returns the client settings, nil until received.
func (c *Conn) ClientInformation() *protocol.ClientInformation { return c.clientInfo }

// SetClientInformation stores the settings the first time and reports
// whether they were accepted.
func (c *Conn) SetClientInformation(ci *protocol.ClientInformation) bool {
	if c.clientInfo != nil {
		return false
	}
	c.clientInfo = ci
	return true
}

// Info returns the latest snapshot published by the connection loop.
func (c *Conn) Info() Info {
	return *c.info.Load()
}

func (c *Conn) publish() {
	info := Info{
		ID:             c.id,
		Remote:         c.raw.RemoteAddr().String(),
		State:          c.state.String(),
		Protocol:       c.protocol,
		Hostname:       c.hostname,
		Port:           c.port,
		Brand:          c.brand,
		Origin:         c.origin,
		FromTransfer:   c.fromTransfer,
		TransferTarget: c.transferTarget,
		ConnectedAt:    c.connectedAt,
	}
	if c.protocol != 0 {
		info.Version = protocol.VersionName(c.protocol)
	}
	if c.profile != nil {
		info.Username = c.profile.Name
		info.UUID = c.profile.UUID.String()
	}
	if c.clientInfo != nil {
		info.Locale = c.clientInfo.Locale
	}
	c.info.Store(&info)
}

// predecessors lists the states each state may be entered from.
var predecessors = map[protocol.State][]protocol.State{
	protocol.StateStatus: {protocol.StateHandshake},
	protocol.StateLogin:  {protocol.StateHandshake},
	protocol.StateConfig: {protocol.StateLogin},
	protocol.StateClosed: {
		protocol.StateHandshake, protocol.StateStatus, protocol.StateLogin,
		protocol.StateConfig, protocol.StateClosed,
	},
}

// SetState moves the connection forward. TRANSFER is an entry alias: the
// connection lands in LOGIN with FromTransfer set.
func (c *Conn) SetState(next protocol.State) error {
	target := next
	if next == protocol.StateTransfer {
		target = protocol.StateLogin
	}
	allowed := predecessors[target]
	for _, s := range allowed {
		if s == c.state {
			if next == protocol.StateTransfer {
				c.fromTransfer = true
			}
			c.log.Debug().Str("from", c.state.String()).Str("to", target.String()).Msg("state changed")
			c.state = target
			return nil
		}
	}
	return &IllegalStateError{Op: "enter " + next.String(), Expected: allowed, Actual: c.state}
}

func (c *Conn) require(op string, states ...protocol.State) error {
	for _, s := range states {
		if c.state == s {
			return nil
		}
	}
	return &IllegalStateError{Op: op, Expected: states, Actual: c.state}
}

// closeWith marks the connection CLOSED and closes the socket once the
// queued writes are flushed.
func (c *Conn) closeWith(reason string) {
	c.state = protocol.StateClosed
	c.closeAfterFlush = true
	if c.closeReason == "" {
		c.closeReason = reason
	}
}

// SendPacket encodes p for the client's protocol and queues it. Sends after
// CLOSED are dropped.
func (c *Conn) SendPacket(p protocol.Packet) error {
	if c.state == protocol.StateClosed {
		return nil
	}
	payload, err := protocol.Marshal(p, c.protocol)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", protocol.Name(p), err)
	}
	return c.enqueue(payload)
}

// SendPrebuilt queues a cached payload resolved for the client's protocol.
func (c *Conn) SendPrebuilt(b protocol.Prebuilt) error {
	if c.state == protocol.StateClosed {
		return nil
	}
	payload, err := b.Payload(c.protocol)
	if err != nil {
		return fmt.Errorf("failed to resolve prebuilt packet: %w", err)
	}
	return c.enqueue(payload)
}

func (c *Conn) enqueue(payload []byte) error {
	frame, err := protocol.AppendFrame(make([]byte, 0, len(payload)+protocol.MaxFrameLenBytes), payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	default:
		c.fatal = ErrWriteQueueFull
		return ErrWriteQueueFull
	}
}

// SendLoginSuccess records the profile and sends LoginSuccess.
func (c *Conn) SendLoginSuccess(p Profile) error {
	if err := c.require("send login success", protocol.StateLogin); err != nil {
		return err
	}
	c.profile = &p
	return c.SendPacket(&protocol.LoginSuccess{UUID: p.UUID, Name: p.Name})
}

// SendStatusResponse answers a status request with a live packet.
func (c *Conn) SendStatusResponse(status protocol.ServerStatus) error {
	if err := c.require("send status response", protocol.StateStatus); err != nil {
		return err
	}
	return c.SendPacket(&protocol.StatusResponse{Status: status})
}

// Disconnect sends the state's disconnect packet and closes the connection.
func (c *Conn) Disconnect(reason protocol.Text) error {
	if err := c.require("disconnect", protocol.StateLogin, protocol.StateConfig); err != nil {
		return err
	}
	var p protocol.Packet = &protocol.LoginDisconnect{Reason: reason}
	if c.state == protocol.StateConfig {
		p = &protocol.ConfigDisconnect{Reason: reason}
	}
	if err := c.SendPacket(p); err != nil {
		return err
	}
	c.closeWith("disconnect: " + reason.Text)
	return nil
}

// DisconnectPrebuilt is Disconnect with a cached packet. The caller picks a
// packet matching the current state.
func (c *Conn) DisconnectPrebuilt(b protocol.Prebuilt, reason string) error {
	if err := c.require("disconnect", protocol.StateLogin, protocol.StateConfig); err != nil {
		return err
	}
	if err := c.SendPrebuilt(b); err != nil {
		return err
	}
	c.closeWith("disconnect: " + reason)
	return nil
}

// Transfer tells the client to reconnect to host:port and marks the
// connection CLOSED. The client closes the socket.
func (c *Conn) Transfer(host string, port int) error {
	if err := c.require("transfer", protocol.StateConfig); err != nil {
		return err
	}
	if c.protocol < protocol.ProtocolCookies {
		return fmt.Errorf("transfer: %w", ErrUnsupportedByClient)
	}
	if host == "" || port < 1 || port > 65535 {
		return fmt.Errorf("transfer: invalid target %q port %d", host, port)
	}
	if err := c.SendPacket(&protocol.Transfer{Host: host, Port: int32(port)}); err != nil {
		return err
	}
	c.state = protocol.StateClosed
	c.transferTarget = net.JoinHostPort(host, strconv.Itoa(port))
	c.closeReason = "transfer to " + c.transferTarget
	c.publish()

	c.srv.metrics.Transfer()
	c.srv.events.Emit(context.Background(), events.Event{
		Type:    events.EventTransfer,
		Source:  c.source(),
		Payload: TransferEvent{Info: c.Info(), Host: host, Port: port},
	})
	c.log.Info().Str("target", c.transferTarget).Msg("client transferred")
	return nil
}

// Execute schedules fn on the connection's loop.
func (c *Conn) Execute(fn func(*Conn)) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.tasks <- fn:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

// ExecuteWait runs fn on the connection's loop and returns its error.
func (c *Conn) ExecuteWait(ctx context.Context, fn func(*Conn) error) error {
	result := make(chan error, 1)
	if err := c.Execute(func(c *Conn) { result <- fn(c) }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrConnClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the connection down without sending anything.
func (c *Conn) Close() {
	c.cancel()
}

func (c *Conn) source() string {
	return "conn:" + strconv.FormatUint(c.id, 10)
}

// serve runs the read, process and write loops until the connection ends.
func (c *Conn) serve() error {
	g, ctx := errgroup.WithContext(c.ctx)
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.processLoop(ctx) })
	g.Go(func() error { return c.writeLoop(ctx) })

	// Unblock a pending Read and any Write stuck on a client that stopped reading.
	stop := context.AfterFunc(ctx, func() {
		_ = c.raw.SetDeadline(time.Now())
	})
	err := g.Wait()
	stop()
	c.cancel()
	_ = c.raw.Close()
	close(c.done)
	return err
}

func (c *Conn) readLoop(ctx context.Context) error {
	var dec protocol.FrameDecoder
	buf := make([]byte, readBufferSize)
	idle := c.cfg.IdleTimeout()

	for {
		if idle > 0 {
			_ = c.raw.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := c.raw.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				frame, ok, ferr := dec.Next()
				if ferr != nil {
					return ferr
				}
				if !ok {
					break
				}
				select {
				case c.frames <- frame:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return errIdleTimeout
			}
			return err
		}
	}
}

// processLoop owns the connection state. Frames, scheduled tasks and
// keep-alive ticks are handled strictly one at a time.
func (c *Conn) processLoop(ctx context.Context) error {
	defer close(c.out)

	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.frames:
			if err := c.dispatch(ctx, frame); err != nil {
				return err
			}
		case fn := <-c.tasks:
			fn(c)
		case <-tick:
			c.sendKeepAlive()
		}

		if c.fatal != nil {
			return c.fatal
		}
		c.publish()

		switch {
		case c.state == protocol.StateConfig && ticker == nil && c.cfg.KeepAliveInterval() > 0:
			ticker = time.NewTicker(c.cfg.KeepAliveInterval())
			tick = ticker.C
		case c.state == protocol.StateClosed:
			if ticker != nil {
				ticker.Stop()
				tick = nil
			}
			if c.closeAfterFlush {
				return nil
			}
		}
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case frame, ok := <-c.out:
			if !ok {
				return errFlushed
			}
			_ = c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.raw.Write(frame); err != nil {
				return fmt.Errorf("failed to write frame: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Conn) sendKeepAlive() {
	if c.state != protocol.StateConfig {
		return
	}
	if c.keepAliveID != 0 {
		c.log.Debug().Int64("id", c.keepAliveID).Msg("previous keep-alive unanswered")
	}
	c.keepAliveID = time.Now().UnixMilli()
	if err := c.SendPacket(&protocol.ClientboundKeepAlive{Payload: c.keepAliveID}); err != nil {
		c.log.Debug().Err(err).Msg("failed to queue keep-alive")
	}
}

// shutdown is scheduled on every connection when the server stops.
func (c *Conn) shutdown() {
	var err error
	switch c.state {
	case protocol.StateLogin:
		err = c.DisconnectPrebuilt(c.srv.packets.shutdownLogin, "shutdown")
	case protocol.StateConfig:
		err = c.DisconnectPrebuilt(c.srv.packets.shutdownConfig, "shutdown")
	default:
		c.closeWith("shutdown")
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("failed to send shutdown disconnect")
		c.closeWith("shutdown")
	}
}
