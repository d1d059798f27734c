package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/portal-project/portal/internal/network"
	"github.com/portal-project/portal/internal/store"
	"github.com/portal-project/portal/internal/util"
)

// handleHealth reports process and host resource usage.
func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{
		"status":      "ok",
		"connections": s.proxy.Registry().Count(),
		"system":      util.GetSystemInfo(),
	}
	if proc, err := util.GetProcessUsage(); err == nil {
		resp["process"] = proc
	} else {
		s.log.Debug().Err(err).Msg("process usage unavailable")
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListConnections(c *gin.Context) {
	conns := s.proxy.Registry().List()
	c.JSON(http.StatusOK, gin.H{
		"connections": conns,
		"total":       len(conns),
		"players":     s.proxy.Registry().Players(),
	})
}

func (s *Server) handleGetConnection(c *gin.Context) {
	conn, ok := s.lookupConn(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, conn.Info())
}

// lookupConn resolves the :id parameter, writing the error response itself.
func (s *Server) lookupConn(c *gin.Context) (*network.Conn, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid connection id"})
		return nil, false
	}
	conn, ok := s.proxy.Registry().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return nil, false
	}
	return conn, true
}

func (s *Server) requireSessions(c *gin.Context) bool {
	if s.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store disabled"})
		return false
	}
	return true
}

func (s *Server) handleSessions(c *gin.Context) {
	if !s.requireSessions(c) {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	sessions, err := s.sessions.Sessions(c.Request.Context(), store.Query{
		Username: c.Query("username"),
		Limit:    limit,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("session query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session query failed"})
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

func (s *Server) handleTransfers(c *gin.Context) {
	if !s.requireSessions(c) {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	transfers, err := s.sessions.Transfers(c.Request.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("transfer query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "transfer query failed"})
		return
	}
	if transfers == nil {
		transfers = []store.TransferRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers, "total": len(transfers)})
}

func (s *Server) handleStats(c *gin.Context) {
	if !s.requireSessions(c) {
		return
	}
	stats, err := s.sessions.Stats(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("stats query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats query failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
