// Package session owns the authoritative state of active games: seats,
// clocks, move history, scores and lifecycle. The store is the sole mutator
// of game state; everything else reads immutable snapshots.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// Role names one of the two seats.
type Role string

const (
	RoleHost   Role = "host"
	RoleJoiner Role = "joiner"
)

// Other returns the opposing role.
func (r Role) Other() Role {
	if r == RoleHost {
		return RoleJoiner
	}
	return RoleHost
}

// MatchType records how a game was arranged.
type MatchType string

const (
	MatchFriend      MatchType = "friend"
	MatchMatchmaking MatchType = "matchmaking"
)

// Status is the session lifecycle. Cancelled is tracked separately because a
// waiting game can be aborted without ever becoming ready.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Game result reasons.
const (
	ReasonGoal        = "goal"
	ReasonResignation = "resignation"
	ReasonAgreement   = "agreement"
	ReasonTimeout     = "timeout"
)

var (
	ErrNotFound        = errors.New("game not found")
	ErrCancelled       = errors.New("game was cancelled")
	ErrWrongTurn       = errors.New("not your turn")
	ErrAlreadyFinished = errors.New("game already finished")
	ErrIllegalAction   = errors.New("action not legal now")
	ErrSeatTaken       = errors.New("seat already taken")
	ErrNotFinished     = errors.New("game not finished yet")
	ErrRematchExists   = errors.New("a rematch already exists")
)

// TimeControl is a per-player clock: initial budget plus a per-move increment.
type TimeControl struct {
	InitialMs   int64
	IncrementMs int64
}

// Config fixes the rules of one game. Immutable after creation.
type Config struct {
	Variant     string
	BoardWidth  int
	BoardHeight int
	TimeControl TimeControl
	Rated       bool
}

// Identity is what a caller presents when creating or joining a game.
type Identity struct {
	DisplayName string
	AuthUserID  string
	Appearance  map[string]string
}

// Seat is one side of a game. Tokens are capabilities: Token authorizes REST
// calls for the seat, SocketToken authorizes the game WebSocket.
type Seat struct {
	Role           Role
	PlayerID       wall.Player
	Token          string
	SocketToken    string
	DisplayName    string
	Connected      bool
	Ready          bool
	Appearance     map[string]string
	AuthUserID     string
	BotCompositeID string
	RatingAtStart  int
	// Rating tracks the seat's current rating: the starting rating while the
	// game runs, the recomputed one after a rated game settles.
	Rating int
}

// IsBot reports whether the seat is played by a registered bot.
func (s *Seat) IsBot() bool {
	return s.BotCompositeID != ""
}

// Result is the outcome of a finished game. Winner 0 means a draw.
type Result struct {
	Winner int
	Reason string
}

// gameState is the mutable board-level state, guarded by the session mutex.
type gameState struct {
	board      *wall.Board
	turn       wall.Player
	moves      []string
	clockMs    map[wall.Player]int64
	finished   bool
	result     *Result
	startedAt  *time.Time
	lastMoveAt time.Time
}

// Session is one game. All fields below the mutex are guarded by it; the
// identity and configuration fields above it never change after creation.
type Session struct {
	ID            string
	SeriesID      string
	RematchNumber int
	Config        Config
	MatchType     MatchType
	CreatedAt     time.Time

	mu             sync.Mutex
	status         Status
	cancelled      bool
	host           Seat
	joiner         Seat
	game           gameState
	matchScore     map[Role]float64
	lastScoredGame string
	rematchID      string
	spectators     int
	chatGuests     map[string]int
}

// Snapshot is an immutable view of a session, safe to hand to broadcast
// fan-out after the session lock is released.
type Snapshot struct {
	ID            string
	SeriesID      string
	RematchNumber int
	Config        Config
	MatchType     MatchType
	Status        Status
	Cancelled     bool
	Host          Seat
	Joiner        Seat
	Turn          wall.Player
	Moves         []string
	Board         wall.State
	ClockMs       map[wall.Player]int64
	Playing       bool
	Result        *Result
	MatchScore    map[Role]float64
	Spectators    int
	StartedAt     *time.Time
}

// Seat returns the snapshot seat with the given player ID, or nil.
func (s *Snapshot) Seat(playerID wall.Player) *Seat {
	if s.Host.PlayerID == playerID {
		return &s.Host
	}
	if s.Joiner.PlayerID == playerID {
		return &s.Joiner
	}
	return nil
}

// SeatByRole returns the snapshot seat for a role.
func (s *Snapshot) SeatByRole(role Role) *Seat {
	if role == RoleHost {
		return &s.Host
	}
	return &s.Joiner
}

// BotSeat returns the seat occupied by a bot, or nil in human-vs-human games.
func (s *Snapshot) BotSeat() *Seat {
	if s.Host.IsBot() {
		return &s.Host
	}
	if s.Joiner.IsBot() {
		return &s.Joiner
	}
	return nil
}

// MoveCount returns the number of plies played.
func (s *Snapshot) MoveCount() int {
	return len(s.Moves)
}

// snapshotLocked copies the guarded state. Callers hold s.mu.
func (s *Session) snapshotLocked() Snapshot {
	moves := make([]string, len(s.game.moves))
	copy(moves, s.game.moves)
	clocks := map[wall.Player]int64{1: s.game.clockMs[1], 2: s.game.clockMs[2]}
	score := map[Role]float64{RoleHost: s.matchScore[RoleHost], RoleJoiner: s.matchScore[RoleJoiner]}
	var result *Result
	if s.game.result != nil {
		r := *s.game.result
		result = &r
	}
	var started *time.Time
	if s.game.startedAt != nil {
		t := *s.game.startedAt
		started = &t
	}
	return Snapshot{
		ID:            s.ID,
		SeriesID:      s.SeriesID,
		RematchNumber: s.RematchNumber,
		Config:        s.Config,
		MatchType:     s.MatchType,
		Status:        s.status,
		Cancelled:     s.cancelled,
		Host:          s.host,
		Joiner:        s.joiner,
		Turn:          s.game.turn,
		Moves:         moves,
		Board:         s.game.board.WireState(),
		ClockMs:       clocks,
		Playing:       !s.game.finished,
		Result:        result,
		MatchScore:    score,
		Spectators:    s.spectators,
		StartedAt:     started,
	}
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// seatByRoleLocked returns the seat for a role. Callers hold s.mu.
func (s *Session) seatByRoleLocked(role Role) *Seat {
	if role == RoleHost {
		return &s.host
	}
	return &s.joiner
}

// seatByPlayerLocked returns the seat with the given player ID, or nil.
func (s *Session) seatByPlayerLocked(playerID wall.Player) *Seat {
	if s.host.PlayerID == playerID {
		return &s.host
	}
	if s.joiner.PlayerID == playerID {
		return &s.joiner
	}
	return nil
}
