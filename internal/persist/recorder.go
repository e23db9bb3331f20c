// Package persist records finished games and rating updates. The core calls
// the recorder through the async queue; recording failures are logged and
// never block or undo a game-end broadcast.
package persist

import (
	"context"
	"time"
)

// FinishedGame is the document written once per completed game.
type FinishedGame struct {
	GameID        string    `bson:"gameId"`
	SeriesID      string    `bson:"seriesId"`
	RematchNumber int       `bson:"rematchNumber"`
	Variant       string    `bson:"variant"`
	BoardWidth    int       `bson:"boardWidth"`
	BoardHeight   int       `bson:"boardHeight"`
	Rated         bool      `bson:"rated"`
	MatchType     string    `bson:"matchType"`
	Players       []Player  `bson:"players"`
	Winner        int       `bson:"winner"`
	Reason        string    `bson:"reason"`
	Moves         []string  `bson:"moves"`
	StartedAt     time.Time `bson:"startedAt,omitempty"`
	EndedAt       time.Time `bson:"endedAt"`
}

// Player is one seat of a finished game.
type Player struct {
	PlayerID      int    `bson:"playerId"`
	DisplayName   string `bson:"displayName"`
	AuthUserID    string `bson:"authUserId,omitempty"`
	BotID         string `bson:"botId,omitempty"`
	RatingAtStart int    `bson:"ratingAtStart,omitempty"`
}

// Rating is a user's stored rating state.
type Rating struct {
	UserID      string `bson:"userId"`
	Rating      int    `bson:"rating"`
	GamesPlayed int    `bson:"gamesPlayed"`
}

// Recorder persists finished games and ratings. Implementations must be safe
// for concurrent use.
type Recorder interface {
	SaveFinishedGame(ctx context.Context, game FinishedGame) error
	SaveRating(ctx context.Context, rating Rating) error
	// FetchRating returns the stored rating for a user, or ok=false when the
	// user has no rated history yet.
	FetchRating(ctx context.Context, userID string) (Rating, bool, error)
}

// Noop discards everything, used when no database is configured.
type Noop struct{}

func (Noop) SaveFinishedGame(context.Context, FinishedGame) error { return nil }
func (Noop) SaveRating(context.Context, Rating) error             { return nil }
func (Noop) FetchRating(context.Context, string) (Rating, bool, error) {
	return Rating{}, false, nil
}
