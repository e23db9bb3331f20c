package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const opTimeout = 5 * time.Second

// Mongo persists to MongoDB: finished games in "games", ratings in
// "ratings".
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects and verifies the database is reachable.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(5 * time.Minute)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	m := &Mongo{client: client, db: client.Database(database)}
	go m.ensureIndexes()
	return m, nil
}

// ensureIndexes creates the required indexes. Called once on startup.
func (m *Mongo) ensureIndexes() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	_, _ = m.games().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "gameId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "seriesId", Value: 1}, {Key: "rematchNumber", Value: 1}}},
		{Keys: bson.D{{Key: "endedAt", Value: -1}}},
	})
	_, _ = m.ratings().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
}

func (m *Mongo) games() *mongo.Collection   { return m.db.Collection("games") }
func (m *Mongo) ratings() *mongo.Collection { return m.db.Collection("ratings") }

// SaveFinishedGame upserts the game document, keyed by gameId so retries
// stay idempotent.
func (m *Mongo) SaveFinishedGame(ctx context.Context, game FinishedGame) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := m.games().ReplaceOne(ctx,
		bson.M{"gameId": game.GameID},
		game,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save finished game %s: %w", game.GameID, err)
	}
	return nil
}

// SaveRating upserts a user's rating document.
func (m *Mongo) SaveRating(ctx context.Context, rating Rating) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := m.ratings().UpdateOne(ctx,
		bson.M{"userId": rating.UserID},
		bson.M{"$set": bson.M{
			"rating":      rating.Rating,
			"gamesPlayed": rating.GamesPlayed,
		}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save rating for %s: %w", rating.UserID, err)
	}
	return nil
}

// FetchRating loads a user's rating document.
func (m *Mongo) FetchRating(ctx context.Context, userID string) (Rating, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rating Rating
	err := m.ratings().FindOne(ctx, bson.M{"userId": userID}).Decode(&rating)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Rating{}, false, nil
	}
	if err != nil {
		return Rating{}, false, fmt.Errorf("fetch rating for %s: %w", userID, err)
	}
	return rating, true, nil
}

// Close disconnects from the database.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
