package protocol

import (
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// MoveRequest submits a move on the game socket.
type MoveRequest struct {
	Type string `json:"type"`
	Move string `json:"move"`
}

// ChatMessage relays chat on the game socket. From is filled by the server:
// a player's display name or an assigned guest handle.
type ChatMessage struct {
	Type string `json:"type"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

// Result is the outcome of a finished game. Winner is a player ID, or 0 for
// a draw.
type Result struct {
	Winner int    `json:"winner"`
	Reason string `json:"reason"`
}

// StateMessage is the full board state pushed on every change.
type StateMessage struct {
	Type     string                    `json:"type"`
	GameID   string                    `json:"gameId"`
	Turn     int                       `json:"turn"`
	Status   string                    `json:"status"`
	Result   *Result                   `json:"result,omitempty"`
	Moves    []string                  `json:"moves"`
	Pawns    map[string]wall.PawnState `json:"pawns"`
	Walls    []wall.Placement          `json:"walls"`
	ClocksMs map[string]int64          `json:"clocksMs"`
	LastMove string                    `json:"lastMove,omitempty"`
}

// SeatStatus describes one seat in a match-status frame.
type SeatStatus struct {
	PlayerID    int    `json:"playerId"`
	DisplayName string `json:"displayName"`
	Connected   bool   `json:"connected"`
	Ready       bool   `json:"ready"`
	IsBot       bool   `json:"isBot"`
	Rating      int    `json:"rating,omitempty"`
}

// MatchStatus is the session-level frame: seats, score, lifecycle.
type MatchStatus struct {
	Type          string                `json:"type"`
	GameID        string                `json:"gameId"`
	SeriesID      string                `json:"seriesId"`
	RematchNumber int                   `json:"rematchNumber"`
	Variant       string                `json:"variant"`
	BoardWidth    int                   `json:"boardWidth"`
	BoardHeight   int                   `json:"boardHeight"`
	Rated         bool                  `json:"rated"`
	Status        string                `json:"status"`
	Cancelled     bool                  `json:"cancelled"`
	Seats         map[string]SeatStatus `json:"seats"`
	MatchScore    map[string]float64    `json:"matchScore"`
	Result        *Result               `json:"result,omitempty"`
}

// TimeControl is the wire form of a clock configuration.
type TimeControl struct {
	InitialMs   int64 `json:"initialMs"`
	IncrementMs int64 `json:"incrementMs"`
}

// GameSummary is the compact listing used by the lobby and live streams.
type GameSummary struct {
	GameID      string      `json:"gameId"`
	Variant     string      `json:"variant"`
	BoardWidth  int         `json:"boardWidth"`
	BoardHeight int         `json:"boardHeight"`
	Rated       bool        `json:"rated"`
	MatchType   string      `json:"matchType"`
	Status      string      `json:"status"`
	MoveCount   int         `json:"moveCount"`
	TimeControl TimeControl `json:"timeControl"`
	Players     []string    `json:"players"`
}

// LobbyUpdate announces a matchmaking game change.
type LobbyUpdate struct {
	Type  string      `json:"type"`
	Event string      `json:"event"` // created, filled, aborted
	Game  GameSummary `json:"game"`
}

// Live stream actions.
const (
	LiveUpsert = "upsert"
	LiveRemove = "remove"
)

// LiveUpdate diff-broadcasts the in-progress game list.
type LiveUpdate struct {
	Type   string       `json:"type"`
	Action string       `json:"action"`
	Game   *GameSummary `json:"game,omitempty"`
	GameID string       `json:"gameId,omitempty"`
}

// ErrorMessage surfaces a rejected request to a human client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewError builds an error frame.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}
