package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/api"
	"prism-board/config"
	"prism-board/realtime"
	"prism-board/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := log.New()
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		logger.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Backend
	switch cfg.StorageBackend {
	case config.BackendAztables:
		tables, err := storage.New(cfg.ConnectionString, storage.TableNames{
			Users:   cfg.UsersTable,
			Boards:  cfg.BoardsTable,
			Columns: cfg.ColumnsTable,
			Tasks:   cfg.TasksTable,
		})
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		store = tables
	default:
		logger.Warn("using in-memory storage, data is lost on restart")
		store = storage.NewMemory()
	}

	hub := realtime.NewHub()
	var opts []realtime.CommandOption
	if redisOpts, ok := cfg.RedisOptions(); ok {
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		store = storage.NewCache(store, rc, cfg.SnapshotCacheTTL)
		relay := realtime.NewRelay(hub, rc, cfg.BroadcastChannel, logger)
		go relay.Run(ctx)
		opts = append(opts,
			realtime.WithDeduper(realtime.NewRedisDeduper(rc, cfg.DeduperTTL)),
			realtime.WithBroadcaster(relay))
	}
	if cfg.CleanupQueue != "" {
		queue, err := storage.NewCleanupQueue(cfg.ConnectionString, cfg.CleanupQueue)
		if err != nil {
			log.Fatalf("cleanup queue: %v", err)
		}
		go storage.NewCleanupWorker(queue, store, logger).Run(ctx)
		opts = append(opts, realtime.WithCleanup(queue))
	}

	var jwks *keyfunc.JWKS
	if cfg.JWKSURL != "" {
		jwks, err = keyfunc.Get(cfg.JWKSURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()
	}
	auth := api.NewAuth([]byte(cfg.JWTSecret), cfg.JWTTTL, jwks, cfg.AuthAudience, cfg.AuthIssuer)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(api.RequestLogger(logger))

	api.Register(e, store, auth, logger)
	commands := realtime.NewCommands(store, hub, logger, opts...)
	sockets := realtime.NewServer(auth, store, hub, commands, realtime.Options{
		SendBuffer:   cfg.SocketSendBuffer,
		WriteTimeout: cfg.SocketWriteTimeout,
		PingInterval: cfg.SocketPingInterval,
	}, logger)
	sockets.Register(e)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	sockets.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}
