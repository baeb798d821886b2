package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Alicia-74/libroredsocial/internal/config"
	"github.com/Alicia-74/libroredsocial/internal/server/handler"
	"github.com/Alicia-74/libroredsocial/internal/server/hub"
	"github.com/Alicia-74/libroredsocial/internal/server/service"
	"github.com/Alicia-74/libroredsocial/internal/server/store"
	"github.com/Alicia-74/libroredsocial/pkg/log"
	"github.com/Alicia-74/libroredsocial/pkg/token"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	cfg.Log.ServiceName = "chatd"
	log.Init(cfg.Log)
	logger := log.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chatd")

	// Select store
	var st store.Store
	if cfg.Redis.Enabled {
		redisStore, err := store.NewRedis(cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisStore.Close()
		logger.Info().Str("address", cfg.Redis.Address).Msg("using redis store")
		st = redisStore
	} else {
		logger.Info().Msg("using in-memory store")
		st = store.NewMemory()
	}

	tokens := token.NewManager(cfg.Auth.Secret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)

	// Hub fans frames out to live connections
	wsHub := hub.NewHub()
	go wsHub.Run()

	chatSvc := service.New(wsHub, st, tokens)
	wsHandler := handler.NewWSHandler(wsHub, chatSvc, cfg.Channel)
	httpHandler := handler.NewHTTPHandler(st, chatSvc, tokens)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(log.GinMiddleware(logger))

	httpHandler.RegisterRoutes(engine)
	engine.GET("/chat/ws", wsHandler.HandleWebSocket)
	engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("chatd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chatd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("chatd stopped")
}
