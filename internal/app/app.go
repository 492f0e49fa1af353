// Package app assembles the lobby server from configuration.
package app

import (
	"context"
	"fmt"
	"lobbycast/internal/cache"
	"lobbycast/internal/config"
	"lobbycast/internal/repository"
	"lobbycast/internal/service"
	"lobbycast/internal/transport/rest"
	"lobbycast/internal/transport/ws"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	LobbyRepo     repository.LobbyRepo
	GameSessions  repository.GameSessionRepo
	LobbyCache    cache.LobbyCache
	Invitations   cache.InvitationCache
	Auth          *service.AuthService
	Lobbies       *service.LobbyService
	InvitationSvc *service.InvitationService
	Notifications *service.NotificationService
	Dispatcher    *service.Dispatcher
	Hub           *ws.Hub
	Router        http.Handler
	mongoClient   *mongo.Client
	redisClient   *redis.Client
	logger        *zap.Logger
}

// New connects the optional stores and wires every service to the hub.
// Mongo and Redis are skipped when their address is empty.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, nil); err != nil {
			client.Disconnect(ctx)
			return nil, fmt.Errorf("ping mongo: %w", err)
		}
		a.mongoClient = client
		db := client.Database(cfg.Mongo.Database)
		a.LobbyRepo = repository.NewLobbyRepo(db)
		a.GameSessions = repository.NewGameSessionRepo(db)
		logger.Info("connected to mongodb", zap.String("database", cfg.Mongo.Database))
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			a.Close(ctx)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.redisClient = rdb
		a.LobbyCache = cache.NewLobbyCache(rdb)
		a.Invitations = cache.NewInvitationCache(rdb)
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		a.Invitations = cache.NewMemoryInvitationCache()
	}

	a.wire(cfg)
	if _, err := a.Lobbies.Restore(ctx); err != nil {
		logger.Warn("failed to restore lobbies", zap.Error(err))
	}
	return a, nil
}

func (a *App) wire(cfg *config.Config) {
	a.Auth = service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.DevLogin)
	a.Lobbies = service.NewLobbyService(a.LobbyRepo, a.GameSessions, a.LobbyCache, service.LobbyConfig{
		MaxPlayersLimit: cfg.Lobby.MaxPlayersLimit,
		ChatHistory:     cfg.Lobby.ChatHistory,
		ReconnectGrace:  cfg.Lobby.ReconnectGrace,
		Countdown:       cfg.Lobby.Countdown,
	}, a.logger)
	a.InvitationSvc = service.NewInvitationService(a.Lobbies, a.Invitations, cfg.Invitation.TTL, a.logger)
	a.Notifications = service.NewNotificationService(nil, a.logger)
	a.Dispatcher = service.NewDispatcher(a.Lobbies, a.InvitationSvc, a.Notifications, a.logger)

	// Inject broadcaster (Hub implements service.Broadcaster)
	a.Hub = ws.NewHub(a.logger)
	a.Hub.OnLifecycle(a.Dispatcher.Connected, a.Dispatcher.Disconnected)
	a.Lobbies.SetBroadcaster(a.Hub)
	a.InvitationSvc.SetBroadcaster(a.Hub)
	a.Notifications.SetBroadcaster(a.Hub)
	a.Dispatcher.SetBroadcaster(a.Hub)

	wsHandler := ws.NewHandler(a.Hub, a.Auth, a.Dispatcher, ws.Options{
		ReadTimeout:    cfg.Transport.ReadTimeout,
		PingPeriod:     cfg.Transport.PingPeriod,
		WriteWait:      cfg.Transport.WriteWait,
		MaxMessageSize: cfg.Transport.MaxMessageSize,
		SendBuffer:     cfg.Transport.SendBuffer,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, a.logger)

	a.Router = rest.NewRouter(&rest.Container{
		AuthService:         a.Auth,
		LobbyService:        a.Lobbies,
		NotificationService: a.Notifications,
		WSHandler:           wsHandler,
		ServiceKey:          cfg.Auth.ServiceKey,
		AllowedOrigins:      cfg.CORS.AllowedOrigins,
	})
}

// Close stops the hub and timers, then releases the store connections.
func (a *App) Close(ctx context.Context) {
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Lobbies != nil {
		a.Lobbies.Close()
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.mongoClient != nil {
		if err := a.mongoClient.Disconnect(ctx); err != nil {
			a.logger.Warn("failed to disconnect mongodb", zap.Error(err))
		}
	}
}
