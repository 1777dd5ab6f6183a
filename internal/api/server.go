package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/db"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/netgame"
	"github.com/ares-project/aresnet/internal/session"
	"github.com/ares-project/aresnet/internal/transport"
	"github.com/ares-project/aresnet/internal/util"
)

// Version is reported by the public endpoints.
const Version = "1.0.0"

// History is the session history the API can show. It may be nil.
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]session.Record, error)
	Totals(ctx context.Context) (db.Totals, error)
}

// Server is the REST and websocket API of one node.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	manager  *netgame.Manager
	history  History

	startedAt  time.Time
	httpServer *http.Server
	router     *gin.Engine
	logger     zerolog.Logger
}

// NewServer creates an API server. history may be nil.
func NewServer(cfg *config.Config, eventBus *events.EventBus, manager *netgame.Manager, history History) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		eventBus:  eventBus,
		manager:   manager,
		history:   history,
		startedAt: time.Now(),
		logger:    util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplicationData().API
	addr := fmt.Sprintf(":%d", apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	lc := transport.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	if apiCfg.UseTLS {
		hosts := []string{"localhost", "127.0.0.1"}
		if ip, err := util.GetLocalIP(); err == nil {
			hosts = append(hosts, ip)
		}
		if err := util.EnsureSelfSignedCert(apiCfg.CertFile, apiCfg.KeyFile, hosts); err != nil {
			ln.Close()
			return fmt.Errorf("API TLS setup failed: %w", err)
		}
	}
	s.logger.Info().Str("addr", addr).Bool("tls", apiCfg.UseTLS).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if apiCfg.UseTLS {
		err = s.httpServer.ServeTLS(ln, apiCfg.CertFile, apiCfg.KeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetApplicationData().API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
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
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(NewRateLimiter(apiCfg.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleVersion)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/session", s.handleSession)
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/engine", s.handleEngine)
		monitor.GET("/world", s.handleWorld)
		monitor.GET("/lobby", s.handleLobby)
		monitor.GET("/system", s.handleSystem)
		monitor.GET("/history", s.handleHistory)
		monitor.GET("/events", s.handleEvents)
	}

	control := router.Group("/api/control")
	control.Use(RequireToken(apiCfg.Token))
	{
		control.POST("/host", s.handleHost)
		control.POST("/join", s.handleJoin)
		control.POST("/begin", s.handleBegin)
		control.POST("/decline", s.handleDecline)
		control.POST("/leave", s.handleLeave)
		control.POST("/keys", s.handleKeys)
		control.POST("/menu", s.handleMenu)
		control.POST("/cheat", s.handleCheat)
		control.POST("/select", s.handleSelect)
		control.POST("/chat", s.handleChat)
		control.POST("/resolve_desync", s.handleResolveDesync)
	}

	configure := router.Group("/api/configure")
	configure.Use(RequireToken(apiCfg.Token))
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/session", s.handleSetSession)
		configure.POST("/network", s.handleSetNetwork)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": util.AppName + " API is running"})
	})

	return router
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
