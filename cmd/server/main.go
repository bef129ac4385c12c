package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/cache"
	"github.com/lostfound/internal/config"
	"github.com/lostfound/internal/handlers"
	"github.com/lostfound/internal/repository"
	"github.com/lostfound/internal/repository/memory"
	"github.com/lostfound/internal/repository/mongo"
	"github.com/lostfound/internal/repository/mysql"
	"github.com/lostfound/internal/service"
	"github.com/lostfound/internal/websocket"
	"github.com/lostfound/pkg/jwt"
)

type storage struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	close         func(ctx context.Context) error
}

func main() {
	cfg := config.LoadConfig()
	logger := config.SetupLogger(cfg)

	store, err := setupStorage(cfg, &logger.Logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("Failed to set up storage")
	}

	inbox, err := setupCache(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.CacheDriver).Msg("Failed to set up cache")
	}

	jwtService := jwt.NewJWTService(cfg.JWTSecret)
	authService := service.NewAuthService(jwtService)
	registry := service.NewConversationRegistry(store.conversations, &logger.Logger)
	messageService := service.NewMessageService(store.messages, store.conversations, registry, inbox, service.Options{
		UnreadCacheTTL:        cfg.UnreadCacheTTL,
		ConversationsCacheTTL: cfg.ConversationsCacheTTL,
		CacheTimeout:          cfg.CacheTimeout,
	}, &logger.Logger)

	hub := websocket.NewHub(messageService, &logger.Logger)
	messageService.SetNotifier(hub)
	go hub.Run()

	router := mux.NewRouter()
	router.Use(handlers.LoggingMiddleware(&logger.Logger))

	handlers.SetupRoutes(router, hub, authService, messageService, &logger.Logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	gracefulShutdown(server, hub, inbox, store, &logger.Logger)
}

func setupStorage(cfg *config.Config, logger *zerolog.Logger) (*storage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.StorageDriver {
	case "mongo":
		client, err := mongo.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		store := mongo.NewStore(client.Database(cfg.DBName), cfg.StoreTimeout, logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		return &storage{
			messages:      store.Messages(),
			conversations: store.Conversations(),
			close:         client.Disconnect,
		}, nil

	case "mysql":
		db, err := mysql.Open(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, err
		}
		store := mysql.NewStore(db, cfg.StoreTimeout, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &storage{
			messages:      store.Messages(),
			conversations: store.Conversations(),
			close:         func(context.Context) error { return db.Close() },
		}, nil

	case "memory":
		logger.Warn().Msg("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		return &storage{
			messages:      store.Messages(),
			conversations: store.Conversations(),
			close:         func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

func setupCache(cfg *config.Config) (cache.Cache, error) {
	switch cfg.CacheDriver {
	case "memory":
		return cache.NewMemory(time.Minute), nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return cache.NewRedis(rdb, "lostfound:"), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", cfg.CacheDriver)
}

func gracefulShutdown(server *http.Server, hub *websocket.Hub, inbox io.Closer, store *storage, logger *zerolog.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")

	hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}
	if err := inbox.Close(); err != nil {
		logger.Error().Err(err).Msg("Cache close error")
	}
	if err := store.close(ctx); err != nil {
		logger.Error().Err(err).Msg("Storage close error")
	}

	logger.Info().Msg("Server stopped")
}
