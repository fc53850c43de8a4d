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

	"github.com/taskhive/messaging/internal/cache"
	"github.com/taskhive/messaging/internal/channel"
	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/internal/directory"
	"github.com/taskhive/messaging/internal/handler"
	"github.com/taskhive/messaging/internal/kafka"
	"github.com/taskhive/messaging/internal/service"
	"github.com/taskhive/messaging/internal/store"
	"github.com/taskhive/messaging/pkg/auth"
	"github.com/taskhive/messaging/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()
	l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting messaging service")

	// Message store
	messageStore, err := store.NewCassandra(cfg.Cassandra)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to cassandra")
	}
	defer messageStore.Close()
	l.Info().Strs("hosts", cfg.Cassandra.Hosts).Msg("connected to cassandra")

	// Page cache
	pageCache, err := cache.NewRedisPageCache(cfg.Redis, cfg.History.CachePrefix)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer pageCache.Close()
	l.Info().Str("address", cfg.Redis.Address).Msg("connected to redis")

	// Event channel broker
	var broker channel.Broker
	switch cfg.Channel.Driver {
	case "redis":
		broker, err = channel.NewRedisBroker(cfg.Redis, cfg.Channel.EventPrefix, cfg.Channel.BufferSize)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create redis event broker")
		}
	default:
		broker = channel.NewLocalBroker(cfg.Channel.BufferSize)
	}
	defer broker.Close()
	l.Info().Str("driver", cfg.Channel.Driver).Msg("event channel ready")

	// Downstream event stream
	var producer kafka.MessageProducer = kafka.NoopProducer{}
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			l.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		l.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
	}
	defer producer.Close()

	// Profile directory
	dir, err := directory.NewGormDirectory(cfg.Directory)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to user database")
	}
	defer dir.Close()

	// Application layer
	svc := service.NewMessageService(messageStore, broker, producer, dir, pageCache, cfg.History.CacheTTL)
	defer svc.Close()

	// Websocket hub
	hub := channel.NewHub(broker, cfg.WebSocket)
	go hub.Run()

	// HTTP surface
	validator := auth.NewValidator(cfg.Auth.Secret, cfg.Auth.Issuer)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(log.GinMiddleware(l))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authed := router.Group("/", auth.GinMiddleware(validator))
	handler.NewHTTPHandler(svc, cfg.History).RegisterRoutes(authed)
	handler.NewWSHandler(hub, cfg.WebSocket).RegisterRoutes(authed)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info().Str("addr", server.Addr).Msg("messaging service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down messaging service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Warn().Err(err).Msg("server forced to shutdown")
	}

	l.Info().Msg("messaging service stopped")
}
