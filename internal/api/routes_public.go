package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/portal-project/portal/internal/protocol"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "portal",
		"version": s.version,
	})
}

func (s *Server) handleVersion(c *gin.Context) {
	versions := make([]gin.H, 0, len(protocol.SupportedProtocols()))
	for _, p := range protocol.SupportedProtocols() {
		versions = append(versions, gin.H{"protocol": p, "name": protocol.VersionName(p)})
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      "Portal",
		"version":   s.version,
		"protocols": versions,
	})
}

// handleStatus mirrors the server list entry the proxy hands to clients.
func (s *Server) handleStatus(c *gin.Context) {
	proxy := s.cfg.GetProxy()
	c.JSON(http.StatusOK, gin.H{
		"motd":        proxy.Status.MOTD,
		"max_players": proxy.Status.MaxPlayers,
		"online":      s.proxy.Registry().Players(),
		"connections": s.proxy.Registry().Count(),
	})
}
