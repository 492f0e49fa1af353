package repository

import (
	"context"
	"lobbycast/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LobbyRepo records lobbies in MongoDB. Records are written on create and
// on every phase change; live membership is served from memory.
type LobbyRepo interface {
	Save(ctx context.Context, lobby *model.Lobby) error
	GetByID(ctx context.Context, id string) (*model.Lobby, error)
	ListByPhase(ctx context.Context, phase model.Phase, limit int64) ([]*model.Lobby, error)
	Delete(ctx context.Context, id string) error
}

type lobbyRepo struct {
	collection *mongo.Collection
}

// NewLobbyRepo creates a new lobby repository
func NewLobbyRepo(db *mongo.Database) LobbyRepo {
	return &lobbyRepo{
		collection: db.Collection("lobbies"),
	}
}

// Save upserts by id. Older versions never overwrite newer ones.
func (r *lobbyRepo) Save(ctx context.Context, lobby *model.Lobby) error {
	filter := bson.M{"_id": lobby.ID, "version": bson.M{"$lte": lobby.Version}}
	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, filter, lobby, opts)
	if mongo.IsDuplicateKeyError(err) {
		// a newer version is already stored
		return nil
	}
	return err
}

func (r *lobbyRepo) GetByID(ctx context.Context, id string) (*model.Lobby, error) {
	var lobby model.Lobby
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&lobby)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lobby, nil
}

func (r *lobbyRepo) ListByPhase(ctx context.Context, phase model.Phase, limit int64) ([]*model.Lobby, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := r.collection.Find(ctx, bson.M{"phase": phase}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var lobbies []*model.Lobby
	if err := cursor.All(ctx, &lobbies); err != nil {
		return nil, err
	}
	return lobbies, nil
}

func (r *lobbyRepo) Delete(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}
