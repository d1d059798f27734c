package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portal-project/portal/internal/network"
	"github.com/portal-project/portal/internal/protocol"
)

const controlTimeout = 5 * time.Second

type transferRequest struct {
	Host string `json:"host" binding:"required"`
	Port int    `json:"port" binding:"required,min=1,max=65535"`
}

type disconnectRequest struct {
	Reason string `json:"reason" binding:"max=1024"`
}

// handleTransfer sends a Transfer to a connection in CONFIG.
func (s *Server) handleTransfer(c *gin.Context) {
	conn, ok := s.lookupConn(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.onConn(c.Request.Context(), conn, func(conn *network.Conn) error {
		return conn.Transfer(req.Host, req.Port)
	})
	if err != nil {
		s.writeControlError(c, err)
		return
	}
	s.log.Info().Uint64("conn_id", conn.ID()).Str("host", req.Host).Int("port", req.Port).Msg("transfer requested")
	c.JSON(http.StatusOK, gin.H{"status": "transferred", "connection": conn.Info()})
}

// handleDisconnect kicks a connection in LOGIN or CONFIG.
func (s *Server) handleDisconnect(c *gin.Context) {
	conn, ok := s.lookupConn(c)
	if !ok {
		return
	}
	var req disconnectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "Disconnected by an operator."
	}

	err := s.onConn(c.Request.Context(), conn, func(conn *network.Conn) error {
		return conn.Disconnect(protocol.PlainText(req.Reason))
	})
	if err != nil {
		s.writeControlError(c, err)
		return
	}
	s.log.Info().Uint64("conn_id", conn.ID()).Str("reason", req.Reason).Msg("disconnect requested")
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

// onConn runs fn on the connection's own loop.
func (s *Server) onConn(ctx context.Context, conn *network.Conn, fn func(*network.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()
	return conn.ExecuteWait(ctx, fn)
}

func (s *Server) writeControlError(c *gin.Context, err error) {
	var ise *network.IllegalStateError
	switch {
	case errors.As(err, &ise), errors.Is(err, network.ErrUnsupportedByClient):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, protocol.ErrFieldTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, network.ErrConnClosed):
		c.JSON(http.StatusGone, gin.H{"error": "connection closed"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "connection did not respond"})
	default:
		s.log.Error().Err(err).Msg("connection control failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
