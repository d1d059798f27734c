package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/metrics"
	"github.com/portal-project/portal/internal/protocol"
	"github.com/portal-project/portal/internal/util"
)

const (
	tcpKeepAlive = 15 * time.Second

	// ServerBrand is announced to clients on the brand channel.
	ServerBrand = "portal"
)

// Server accepts game clients and runs one Conn per socket.
type Server struct {
	cfg      *config.Config
	proxy    config.ProxyConfig
	events   EventManager
	selector protocol.GroupSelector
	source   StatusResponseSource
	metrics  *metrics.Metrics
	log      zerolog.Logger

	registry *Registry
	limiter  *IPLimiter
	pool     *semaphore.Weighted
	packets  *cachedPackets
	status   *statusCache

	ctx    context.Context
	cancel context.CancelFunc
	nextID atomic.Uint64

	mu           sync.Mutex
	listener     net.Listener
	closing      bool
	conns        sync.WaitGroup
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithEvents routes lifecycle hooks to em.
func WithEvents(em EventManager) Option {
	return func(s *Server) { s.events = em }
}

// WithSelector replaces the provider group selector.
func WithSelector(sel protocol.GroupSelector) Option {
	return func(s *Server) { s.selector = sel }
}

// WithStatusSource replaces the config-driven status entry.
func WithStatusSource(src StatusResponseSource) Option {
	return func(s *Server) { s.source = src }
}

// WithMetrics records connection and packet metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds a server from the proxy section of cfg.
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	proxy := cfg.GetProxy()
	s := &Server{
		cfg:      cfg,
		proxy:    proxy,
		events:   nopEvents{},
		selector: protocol.DefaultSelector(),
		log:      util.ComponentLogger("proxy"),
		registry: NewRegistry(),
		limiter:  NewIPLimiter(proxy.ConnectionsPerSecond, proxy.ConnectionBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		s.source = configStatus{cfg: cfg, online: s.registry.Players}
	}

	maxConns := proxy.MaxConnections
	if maxConns < 1 {
		maxConns = 1
	}
	s.pool = semaphore.NewWeighted(int64(maxConns))

	packets, err := buildCachedPackets(proxy.Messages, ServerBrand, s.metrics.BuiltResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to build cached packets: %w", err)
	}
	s.packets = packets
	s.status = &statusCache{
		source:  s.source,
		online:  s.registry.Players,
		observe: s.metrics.BuiltResolution,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Registry returns the live connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// InvalidateStatus drops the cached status response.
func (s *Server) InvalidateStatus() {
	s.status.invalidate()
}

// ListenAndServe binds the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.proxy.Bind)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.proxy.Bind, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends or Shutdown is called, then
// waits for the connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Int("max_connections", s.proxy.MaxConnections).
		Bool("strict_decoding", s.proxy.StrictDecoding).
		Msg("proxy listening")

	stop := context.AfterFunc(ctx, func() {
		if err := s.Shutdown(context.Background()); err != nil {
			s.log.Warn().Err(err).Msg("shutdown incomplete")
		}
	})
	defer stop()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				break
			}
			s.log.Error().Err(err).Msg("failed to accept connection")
			continue
		}
		s.accept(raw)
	}

	s.conns.Wait()
	s.log.Info().Msg("proxy stopped")
	return nil
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) accept(raw net.Conn) {
	ip := extractIP(raw.RemoteAddr())

	if !s.limiter.Allow(ip) {
		s.log.Warn().Str("src", ip).Msg("connection rate limit exceeded, dropping")
		s.metrics.ConnectionRejected(metrics.RejectRateLimited)
		raw.Close()
		return
	}
	if !s.pool.TryAcquire(1) {
		s.log.Warn().Str("src", ip).Msg("max concurrent connections reached, dropping")
		s.metrics.ConnectionRejected(metrics.RejectPoolFull)
		raw.Close()
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.pool.Release(1)
		s.metrics.ConnectionRejected(metrics.RejectShutdown)
		raw.Close()
		return
	}
	s.conns.Add(1)
	s.mu.Unlock()

	c := newConn(s, raw, s.nextID.Add(1))
	s.registry.Register(c)
	s.metrics.ConnectionAccepted()
	c.log.Debug().Msg("connection accepted")

	go func() {
		defer s.conns.Done()
		defer s.pool.Release(1)
		s.run(c)
	}()
}

func (s *Server) run(c *Conn) {
	err := c.serve()
	s.registry.Unregister(c.id)
	reason := c.finish(err)
	s.metrics.ConnectionClosed(time.Since(c.connectedAt).Seconds())

	c.publish()
	s.events.Emit(context.Background(), events.Event{
		Type:   events.EventDisconnected,
		Source: c.source(),
		Payload: DisconnectedEvent{
			Info:     c.Info(),
			Reason:   reason,
			ClosedAt: time.Now(),
		},
	})
}

// finish logs how the connection ended and returns a short reason.
func (c *Conn) finish(err error) string {
	reason := c.closeReason
	switch {
	case err == nil || errors.Is(err, errFlushed):
		if reason == "" {
			reason = "closed"
		}
		c.log.Debug().Str("reason", reason).Msg("connection closed")
	case errors.Is(err, errIdleTimeout):
		if reason == "" {
			reason = "idle timeout"
		}
		c.log.Info().Str("state", c.state.String()).Msg("connection idle, closing")
	case isBenignNetErr(err):
		if reason == "" {
			reason = "client closed"
		}
		c.log.Debug().Str("reason", reason).Msg("connection closed")
	case errors.Is(err, context.Canceled):
		if reason == "" {
			reason = "shutdown"
		}
		c.log.Debug().Str("reason", reason).Msg("connection cancelled")
	default:
		reason = err.Error()
		if kind, ok := protocol.KindOf(err); ok {
			c.srv.metrics.DecodeError(kind.String())
			c.log.Warn().Err(err).Str("state", c.state.String()).Msg("closing connection on protocol error")
		} else {
			c.log.Error().Err(err).Str("state", c.state.String()).Msg("connection failed")
		}
	}
	return reason
}

// isBenignNetErr matches the errors of an ordinary client hang-up.
func isBenignNetErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Shutdown stops accepting, asks every connection to say goodbye, waits up
// to the grace period for queued writes to flush and then force-closes the
// rest.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		ln := s.listener
		s.mu.Unlock()
		if ln != nil {
			ln.Close()
		}

		s.log.Info().Int("connections", s.registry.Count()).Msg("shutting down proxy")
		s.events.Emit(context.Background(), events.Event{Type: events.EventShutdown, Source: "proxy"})
		s.registry.Each(func(c *Conn) {
			if execErr := c.Execute((*Conn).shutdown); execErr != nil {
				c.Close()
			}
		})

		done := make(chan struct{})
		go func() {
			s.conns.Wait()
			close(done)
		}()

		grace := time.NewTimer(s.proxy.ShutdownGrace())
		defer grace.Stop()
		select {
		case <-done:
		case <-grace.C:
			s.log.Warn().Int("remaining", s.registry.Count()).Msg("grace period elapsed, forcing connections closed")
			s.registry.CloseAll()
		case <-ctx.Done():
			err = ctx.Err()
			s.registry.CloseAll()
		}
		s.cancel()
		<-done
	})
	return err
}
