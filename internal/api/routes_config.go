package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/events"
)

type targetRequest struct {
	Target string `json:"target"`
}

type motdRequest struct {
	MOTD string `json:"motd" binding:"required"`
}

// handleGetConfig returns the running configuration with secrets redacted.
func (s *Server) handleGetConfig(c *gin.Context) {
	appData := s.cfg.GetApplicationData()
	if appData.API.AdminToken != "" {
		appData.API.AdminToken = "********"
	}
	c.JSON(http.StatusOK, gin.H{
		"proxy":            s.cfg.GetProxy(),
		"application_data": appData,
	})
}

// handleSetTarget changes where ready players are transferred. An empty
// target clears it.
func (s *Server) handleSetTarget(c *gin.Context) {
	var req targetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Target = strings.TrimSpace(req.Target)
	if req.Target != "" {
		if _, err := config.SplitHostPort(req.Target); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s.cfg.SetDefaultTarget(req.Target)
	s.persist("routing", "default_target", req.Target)
	c.JSON(http.StatusOK, gin.H{"default_target": req.Target})
}

// handleSetMOTD changes the server list description and drops the cached
// status packet.
func (s *Server) handleSetMOTD(c *gin.Context) {
	var req motdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.cfg.SetMOTD(req.MOTD)
	s.proxy.InvalidateStatus()
	s.persist("status", "motd", req.MOTD)
	c.JSON(http.StatusOK, gin.H{"motd": req.MOTD})
}

func (s *Server) persist(section, key string, value interface{}) {
	if s.cfg.Path() != "" {
		if err := s.cfg.Save(); err != nil {
			s.log.Warn().Err(err).Msg("failed to persist config change")
		}
	}
	if s.eventBus != nil {
		s.eventBus.Emit(context.Background(), events.Event{
			Type:    events.EventConfigChanged,
			Source:  "api",
			Payload: events.ConfigChangedPayload{Section: section, Key: key, Value: value},
		})
	}
}
