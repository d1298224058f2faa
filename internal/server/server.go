// Package server assembles the queue engine and serves it over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/aura-vibe/queue-sync/internal/auth"
	"github.com/aura-vibe/queue-sync/internal/config"
	"github.com/aura-vibe/queue-sync/internal/hub"
	"github.com/aura-vibe/queue-sync/internal/playback"
	"github.com/aura-vibe/queue-sync/internal/queue"
	"github.com/aura-vibe/queue-sync/internal/session"
	"github.com/aura-vibe/queue-sync/internal/vote"
	"github.com/aura-vibe/queue-sync/internal/ws"
	"github.com/aura-vibe/queue-sync/pkg/database"
	"github.com/aura-vibe/queue-sync/pkg/events"
	"github.com/aura-vibe/queue-sync/pkg/locker"
	"github.com/aura-vibe/queue-sync/pkg/logger"
	"github.com/aura-vibe/queue-sync/pkg/redis"
)

// App is the engine: one hub and one set of per-session locks shared by
// every component.
type App struct {
	Hub         *hub.Hub
	Sessions    *session.Registry
	Queue       *queue.Service
	Ledger      *vote.Ledger
	Coordinator *playback.Coordinator
}

// NewApp wires the engine. cache and emitter may be nil.
func NewApp(store database.Store, cache session.Cache, emitter *events.Emitter) *App {
	h := hub.New()
	locks := locker.New()
	sessions := session.NewRegistry(store, cache, locks, emitter)
	queueService := queue.NewService(store, sessions, h, locks, emitter)

	return &App{
		Hub:         h,
		Sessions:    sessions,
		Queue:       queueService,
		Ledger:      vote.NewLedger(store, h, locks, emitter),
		Coordinator: playback.NewCoordinator(sessions, queueService, h, locks),
	}
}

// Router builds the gin engine for the API and the websocket endpoint.
func (a *App) Router(allowedOrigins []string, wsOpts ws.Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", auth.UserIDHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(allowedOrigins) == 0 {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": a.Hub.Sessions(),
		})
	})

	v1 := router.Group("/api/v1")
	v1.Use(auth.Identity())
	{
		session.NewHandler(a.Sessions, a.Hub).RegisterRoutes(v1)
		queue.NewHandler(a.Queue, a.Ledger, a.Sessions).RegisterRoutes(v1)
		playback.NewHandler(a.Coordinator).RegisterRoutes(v1)
		ws.NewHandler(a.Sessions, a.Hub, a.Coordinator, allowedOrigins, wsOpts).RegisterRoutes(v1)
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)))
	}
}

// Server owns the process-level resources behind an App.
type Server struct {
	cfg     *config.Config
	store   database.Store
	cache   *redis.SessionCache
	emitter *events.Emitter
	app     *App
	http    *http.Server
}

func New(cfg *config.Config) (*Server, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, store: store}
	s.cache = openCache(cfg)
	s.emitter = openEmitter(cfg)

	// a nil *SessionCache must not become a non-nil interface
	var cache session.Cache
	if s.cache != nil {
		cache = s.cache
	}
	s.app = NewApp(store, cache, s.emitter)
	s.app.Sessions.SetMaxParticipants(cfg.MaxParticipants)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := s.app.Router(cfg.AllowedOrigins, ws.Options{
		SendBuffer:   cfg.WSSendBuffer,
		WriteTimeout: cfg.WSWriteTimeout,
		PongTimeout:  cfg.WSPongTimeout,
		PingPeriod:   cfg.WSPingPeriod,
		ReadLimit:    cfg.WSReadLimit,
	})
	s.http = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.DBDriver {
	case "", "memory":
		logger.Info("using in-memory store")
		return database.NewMemoryStore(), nil
	case "mysql":
		db, err := database.NewMySQLDB(cfg.MySQLHost, cfg.MySQLPort, cfg.MySQLUser, cfg.MySQLPassword, cfg.MySQLDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Info("using mysql store", logger.String("host", cfg.MySQLHost), logger.String("database", cfg.MySQLDatabase))
		return db, nil
	case "sqlite":
		db, err := database.NewSQLiteDB(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		logger.Info("using sqlite store", logger.String("path", cfg.SQLitePath))
		return db, nil
	}
	return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
}

func openCache(cfg *config.Config) *redis.SessionCache {
	if cfg.RedisHost == "" {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisHost + ":" + cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	cache := redis.NewSessionCache(client, cfg.SessionCacheTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, session cache disabled", logger.ErrorField(err))
		cache.Close()
		return nil
	}
	logger.Info("session cache enabled", logger.String("addr", client.Options().Addr))
	return cache
}

func openEmitter(cfg *config.Config) *events.Emitter {
	if len(cfg.KafkaBrokers) == 0 {
		return nil
	}
	logger.Info("publishing session events",
		logger.Any("brokers", cfg.KafkaBrokers),
		logger.String("topic", cfg.KafkaTopic))
	return events.NewEmitter(events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), 1024)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", logger.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// hijacked websockets are not tracked by http.Server
	s.app.Hub.Shutdown()
	err := s.http.Shutdown(shutdownCtx)
	s.close()
	return err
}

func (s *Server) close() {
	if err := s.emitter.Close(); err != nil {
		logger.Warn("failed to close event publisher", logger.ErrorField(err))
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			logger.Warn("failed to close redis", logger.ErrorField(err))
		}
	}
	if err := s.store.Close(); err != nil {
		logger.Warn("failed to close store", logger.ErrorField(err))
	}
}
