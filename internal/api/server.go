package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/portal-project/portal/internal/config"
	"github.com/portal-project/portal/internal/events"
	"github.com/portal-project/portal/internal/metrics"
	"github.com/portal-project/portal/internal/network"
	"github.com/portal-project/portal/internal/store"
	"github.com/portal-project/portal/internal/util"
)

// SessionSource answers history queries. *store.SessionStore satisfies it.
type SessionSource interface {
	Sessions(ctx context.Context, q store.Query) ([]store.Session, error)
	Transfers(ctx context.Context, limit int) ([]store.TransferRecord, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Server is the admin REST API of the proxy.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	proxy    *network.Server
	sessions SessionSource
	metrics  *metrics.Metrics
	version  string
	log      zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. sessions and m may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, proxy *network.Server,
	sessions SessionSource, m *metrics.Metrics, version string) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		proxy:    proxy,
		sessions: sessions,
		metrics:  m,
		version:  version,
		log:      util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := fmt.Sprintf(":%d", apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := network.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if apiCfg.TLSEnabled {
		tlsConfig, err := loadTLSConfig(apiCfg)
		if err != nil {
			ln.Close()
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
		ln = tls.NewListener(ln, tlsConfig)
	}

	s.log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func loadTLSConfig(apiCfg config.APIConfig) (*tls.Config, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	if err := util.EnsureSelfSignedCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile, hosts); err != nil {
		return nil, fmt.Errorf("failed to prepare API certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load API certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetApplicationData().API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.log))
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must stay false with "*"
		MaxAge:           12 * time.Hour,
	}))
	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())
	router.Use(IPWhitelist(apiCfg.IPWhitelist))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleVersion)
		public.GET("/status", s.handleStatus)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.AdminToken))
	{
		protected.GET("/health", s.handleHealth)
		protected.GET("/connections", s.handleListConnections)
		protected.GET("/connections/:id", s.handleGetConnection)
		protected.POST("/connections/:id/transfer", s.handleTransfer)
		protected.POST("/connections/:id/disconnect", s.handleDisconnect)

		protected.GET("/sessions", s.handleSessions)
		protected.GET("/transfers", s.handleTransfers)
		protected.GET("/stats", s.handleStats)

		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/target", s.handleSetTarget)
		protected.POST("/config/motd", s.handleSetMOTD)
	}

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Portal admin API is running."})
	})

	return router
}

// Stop shuts the API server down.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func clientIP(c *gin.Context) net.IP {
	return net.ParseIP(c.ClientIP())
}
