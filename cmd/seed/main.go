package main

import (
	"context"
	"fmt"
	"lobbycast/internal/config"
	"lobbycast/internal/logger"
	"lobbycast/internal/model"
	"lobbycast/internal/repository"
	"lobbycast/internal/service"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// seed prints dev tokens for a fixed set of players and, when mongo.uri is
// set, records one finished pong lobby with its game session for them.
func main() {
	_ = godotenv.Load()

	lg, err := logger.New("info", true)
	if err != nil {
		log.Fatal("Failed to create logger:", err)
	}
	defer lg.Sync()

	cfg, err := config.Load(lg, "config")
	if err != nil {
		lg.Fatal("failed to load config", zap.Error(err))
	}

	auth := service.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, true)
	players := []model.UserIdentity{
		{UserID: "user_ann", Username: "ann"},
		{UserID: "user_bea", Username: "bea"},
	}
	for _, p := range players {
		token, err := auth.Sign(p)
		if err != nil {
			lg.Fatal("failed to sign token", zap.String("user", p.Username), zap.Error(err))
		}
		fmt.Fprintf(os.Stdout, "# %s\nLOBBYCAST_CLIENT_TOKEN=%s\n", p.Username, token)
	}

	if cfg.Mongo.URI == "" {
		lg.Info("mongo.uri not set, skipping lobby records")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		lg.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.Mongo.Database)
	lobbies := repository.NewLobbyRepo(db)
	sessions := repository.NewGameSessionRepo(db)

	started := time.Now().Add(-10 * time.Minute).UTC()
	ended := started.Add(5 * time.Minute)
	lobby := &model.Lobby{
		ID:         uuid.NewString(),
		GameType:   "pong",
		HostID:     players[0].UserID,
		MaxPlayers: 2,
		Phase:      model.PhaseFinished,
		Version:    6,
		GameID:     uuid.NewString(),
		CreatedAt:  started.Add(-time.Minute),
		UpdatedAt:  ended,
	}
	for i, p := range players {
		lobby.Players = append(lobby.Players, model.PlayerSlot{
			Index:    i,
			UserID:   p.UserID,
			Username: p.Username,
			IsHost:   i == 0,
			IsReady:  true,
			JoinSeq:  int64(i + 1),
		})
	}

	if err := lobbies.Save(ctx, lobby); err != nil {
		lg.Fatal("failed to save lobby", zap.Error(err))
	}
	if err := sessions.Create(ctx, &model.GameSession{
		ID:        lobby.GameID,
		LobbyID:   lobby.ID,
		GameType:  lobby.GameType,
		Players:   lobby.Players,
		Status:    model.SessionActive,
		StartedAt: started,
	}); err != nil {
		lg.Fatal("failed to create game session", zap.Error(err))
	}
	if err := sessions.End(ctx, lobby.GameID, ended); err != nil {
		lg.Fatal("failed to end game session", zap.Error(err))
	}

	lg.Info("seeded finished lobby", zap.String("lobbyId", lobby.ID), zap.String("gameId", lobby.GameID))
}
