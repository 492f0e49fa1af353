package repository

import (
	"context"
	"lobbycast/internal/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GameSessionRepo records games handed off from lobbies
type GameSessionRepo interface {
	Create(ctx context.Context, session *model.GameSession) error
	GetByID(ctx context.Context, id string) (*model.GameSession, error)
	End(ctx context.Context, id string, endedAt time.Time) error
	ListByLobby(ctx context.Context, lobbyID string) ([]*model.GameSession, error)
}

type gameSessionRepo struct {
	collection *mongo.Collection
}

func NewGameSessionRepo(db *mongo.Database) GameSessionRepo {
	return &gameSessionRepo{
		collection: db.Collection("game_sessions"),
	}
}

func (r *gameSessionRepo) Create(ctx context.Context, session *model.GameSession) error {
	_, err := r.collection.InsertOne(ctx, session)
	return err
}

func (r *gameSessionRepo) GetByID(ctx context.Context, id string) (*model.GameSession, error) {
	var session model.GameSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *gameSessionRepo) End(ctx context.Context, id string, endedAt time.Time) error {
	update := bson.M{"$set": bson.M{"status": model.SessionEnded, "endedAt": endedAt}}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id, "status": model.SessionActive}, update)
	return err
}

func (r *gameSessionRepo) ListByLobby(ctx context.Context, lobbyID string) ([]*model.GameSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"lobbyId": lobbyID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*model.GameSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}
