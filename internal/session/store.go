package session

import (
	"fmt"
	"sync"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/gameid"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// Engine applies moves to board positions. wall.Engine is the production
// implementation; tests may substitute a permissive one.
type Engine interface {
	NewPosition(variant string, width, height int) (*wall.Board, error)
	Apply(b *wall.Board, player wall.Player, notation string) (*wall.Board, wall.Winner, error)
}

// GiveTimeBonusMs is added to the opponent's clock per give-time request.
const GiveTimeBonusMs = 60_000

// Store owns every active session. The store map is guarded by its own
// mutex; each session is guarded by its own. Store methods never hold both
// while calling out.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	engine Engine
	clock  quartz.Clock
	rng    rng
	logger zerolog.Logger
}

// rng is the subset of math/rand used for seat assignment.
type rng interface {
	IntN(n int) int
}

// NewStore builds an empty store.
func NewStore(engine Engine, clock quartz.Clock, r rng, logger zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		engine:   engine,
		clock:    clock,
		rng:      r,
		logger:   logger.With().Str("component", "session").Logger(),
	}
}

// CreateOptions tunes session creation.
type CreateOptions struct {
	// HostIsPlayer1 forces the host to move first. When nil the store
	// assigns player 1 randomly.
	HostIsPlayer1 *bool
	// JoinerBot seats a bot on the joiner side immediately; the game skips
	// the waiting state.
	JoinerBot *BotSeat
}

// BotSeat describes a bot filling a seat at creation time.
type BotSeat struct {
	CompositeID string
	DisplayName string
	Appearance  map[string]string
}

// Created is the result of CreateSession: the snapshot plus the host's
// capabilities, which are never broadcast.
type Created struct {
	Snapshot    Snapshot
	Token       string
	SocketToken string
}

// CreateSession registers a new game. The host seat is filled; the joiner
// seat is free unless opts seats a bot.
func (st *Store) CreateSession(cfg Config, matchType MatchType, host Identity, opts CreateOptions) (Created, error) {
	board, err := st.engine.NewPosition(cfg.Variant, cfg.BoardWidth, cfg.BoardHeight)
	if err != nil {
		return Created{}, fmt.Errorf("create session: %w", err)
	}

	hostFirst := st.rng.IntN(2) == 0
	if opts.HostIsPlayer1 != nil {
		hostFirst = *opts.HostIsPlayer1
	}
	hostID, joinerID := wall.Player(1), wall.Player(2)
	if !hostFirst {
		hostID, joinerID = 2, 1
	}

	id := gameid.New()
	now := st.clock.Now()
	s := &Session{
		ID:        id,
		SeriesID:  id,
		Config:    cfg,
		MatchType: matchType,
		CreatedAt: now,
		status:    StatusWaiting,
		host: Seat{
			Role:        RoleHost,
			PlayerID:    hostID,
			Token:       gameid.NewToken(),
			SocketToken: gameid.NewToken(),
			DisplayName: host.DisplayName,
			AuthUserID:  host.AuthUserID,
			Appearance:  host.Appearance,
		},
		joiner: Seat{
			Role:     RoleJoiner,
			PlayerID: joinerID,
		},
		game: gameState{
			board:      board,
			turn:       1,
			clockMs:    map[wall.Player]int64{1: cfg.TimeControl.InitialMs, 2: cfg.TimeControl.InitialMs},
			lastMoveAt: now,
		},
		matchScore: map[Role]float64{RoleHost: 0, RoleJoiner: 0},
		chatGuests: make(map[string]int),
	}

	if opts.JoinerBot != nil {
		s.joiner.BotCompositeID = opts.JoinerBot.CompositeID
		s.joiner.DisplayName = opts.JoinerBot.DisplayName
		s.joiner.Appearance = opts.JoinerBot.Appearance
		s.joiner.Connected = true
		s.joiner.Ready = true
		s.status = StatusReady
	}

	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()

	st.logger.Info().
		Str("game_id", id).
		Str("variant", cfg.Variant).
		Str("match_type", string(matchType)).
		Bool("vs_bot", opts.JoinerBot != nil).
		Msg("session created")

	return Created{
		Snapshot:    s.Snapshot(),
		Token:       s.host.Token,
		SocketToken: s.host.SocketToken,
	}, nil
}

// get returns the live session or ErrNotFound.
func (st *Store) get(id string) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Get returns a snapshot of the session.
func (st *Store) Get(id string) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// JoinKind classifies the outcome of a join attempt.
type JoinKind string

const (
	JoinedAsPlayer    JoinKind = "player"
	JoinedAsSpectator JoinKind = "spectator"
)

// Joined is the result of JoinSession. Token and SocketToken are set only
// for players.
type Joined struct {
	Kind        JoinKind
	Snapshot    Snapshot
	PlayerID    wall.Player
	Token       string
	SocketToken string
}

// JoinSession fills the joiner seat, recovers a seat the same authenticated
// user already owns, or classifies the caller as a spectator.
func (st *Store) JoinSession(id string, identity Identity) (Joined, error) {
	s, err := st.get(id)
	if err != nil {
		return Joined{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return Joined{}, ErrCancelled
	}

	// Seat recovery: the same authenticated user gets fresh credentials
	// instead of a spectator view.
	if identity.AuthUserID != "" {
		for _, seat := range []*Seat{&s.host, &s.joiner} {
			if seat.AuthUserID == identity.AuthUserID && seat.DisplayName != "" {
				seat.Token = gameid.NewToken()
				seat.SocketToken = gameid.NewToken()
				return Joined{
					Kind:        JoinedAsPlayer,
					Snapshot:    s.snapshotLocked(),
					PlayerID:    seat.PlayerID,
					Token:       seat.Token,
					SocketToken: seat.SocketToken,
				}, nil
			}
		}
	}

	if s.status == StatusWaiting && s.joiner.DisplayName == "" && !s.joiner.IsBot() {
		s.joiner.Token = gameid.NewToken()
		s.joiner.SocketToken = gameid.NewToken()
		s.joiner.DisplayName = identity.DisplayName
		s.joiner.AuthUserID = identity.AuthUserID
		s.joiner.Appearance = identity.Appearance
		s.status = StatusReady
		return Joined{
			Kind:        JoinedAsPlayer,
			Snapshot:    s.snapshotLocked(),
			PlayerID:    s.joiner.PlayerID,
			Token:       s.joiner.Token,
			SocketToken: s.joiner.SocketToken,
		}, nil
	}

	s.spectators++
	return Joined{Kind: JoinedAsSpectator, Snapshot: s.snapshotLocked()}, nil
}

// LeaveSpectator decrements the spectator count.
func (st *Store) LeaveSpectator(id string) {
	s, err := st.get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.spectators > 0 {
		s.spectators--
	}
	s.mu.Unlock()
}

// ChatGuestIndex returns a stable per-session index for an anonymous chat
// participant, assigning the next free one on first sight.
func (st *Store) ChatGuestIndex(id, guestKey string) (int, error) {
	s, err := st.get(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.chatGuests[guestKey]; ok {
		return n, nil
	}
	n := len(s.chatGuests) + 1
	s.chatGuests[guestKey] = n
	return n, nil
}

// SetReady marks the seat owning the token as ready. When both seats are
// ready the game moves to in-progress.
func (st *Store) SetReady(id, token string) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return Snapshot{}, ErrCancelled
	}
	seat := s.seatByTokenLocked(token)
	if seat == nil {
		return Snapshot{}, ErrNotFound
	}
	seat.Ready = true
	if s.host.Ready && s.joiner.Ready && s.status == StatusReady {
		s.status = StatusInProgress
	}
	return s.snapshotLocked(), nil
}

// SetConnected records socket presence for the seat owning the socket token.
func (st *Store) SetConnected(id, socketToken string, connected bool) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range []*Seat{&s.host, &s.joiner} {
		if seat.SocketToken != "" && seat.SocketToken == socketToken {
			seat.Connected = connected
			return s.snapshotLocked(), nil
		}
	}
	return Snapshot{}, ErrNotFound
}

// Abort cancels a game that has not started. Aborting an in-progress or
// finished game is illegal.
func (st *Store) Abort(id, token string) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seatByTokenLocked(token) == nil {
		return Snapshot{}, ErrNotFound
	}
	if s.status == StatusInProgress || s.status == StatusCompleted {
		return Snapshot{}, ErrIllegalAction
	}
	s.cancelled = true
	s.status = StatusCompleted
	return s.snapshotLocked(), nil
}

// seatByTokenLocked matches a REST capability token. Callers hold s.mu.
func (s *Session) seatByTokenLocked(token string) *Seat {
	if token == "" {
		return nil
	}
	if s.host.Token == token {
		return &s.host
	}
	if s.joiner.Token == token {
		return &s.joiner
	}
	return nil
}

// ApplyMove plays one move for the given player. The first move starts the
// game clock. On a finishing move the match score is awarded exactly once.
func (st *Store) ApplyMove(id string, player wall.Player, notation string) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return Snapshot{}, ErrCancelled
	}
	if s.game.finished || s.status == StatusCompleted {
		return Snapshot{}, ErrAlreadyFinished
	}
	if s.game.turn != player {
		return Snapshot{}, ErrWrongTurn
	}

	board, winner, err := st.engine.Apply(s.game.board, player, notation)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrIllegalAction, err)
	}

	now := st.clock.Now()
	if len(s.game.moves) == 0 && s.game.startedAt == nil {
		started := now
		s.game.startedAt = &started
		s.status = StatusInProgress
	} else {
		// Charge thinking time to the mover, then apply the increment.
		elapsed := now.Sub(s.game.lastMoveAt).Milliseconds()
		s.game.clockMs[player] -= elapsed
		if s.game.clockMs[player] <= 0 {
			s.game.clockMs[player] = 0
			st.finishLocked(s, &Result{Winner: int(player.Other()), Reason: ReasonTimeout})
			return s.snapshotLocked(), nil
		}
		s.game.clockMs[player] += s.Config.TimeControl.IncrementMs
	}
	s.game.lastMoveAt = now

	s.game.board = board
	s.game.moves = append(s.game.moves, notation)
	s.game.turn = player.Other()

	if winner != wall.Undecided {
		st.finishLocked(s, &Result{Winner: int(winner), Reason: ReasonGoal})
	}
	return s.snapshotLocked(), nil
}

// Resign finishes the game in favour of the opponent.
func (st *Store) Resign(id string, player wall.Player) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game.finished || s.status == StatusCompleted {
		return Snapshot{}, ErrAlreadyFinished
	}
	st.finishLocked(s, &Result{Winner: int(player.Other()), Reason: ReasonResignation})
	return s.snapshotLocked(), nil
}

// AgreeDraw finishes the game as a draw. The offer/accept mediation lives in
// the protocol layer; the store only records the agreed outcome.
func (st *Store) AgreeDraw(id string) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game.finished || s.status == StatusCompleted {
		return Snapshot{}, ErrAlreadyFinished
	}
	st.finishLocked(s, &Result{Winner: 0, Reason: ReasonAgreement})
	return s.snapshotLocked(), nil
}

// Takeback removes the last move. Only legal while playing, and only when a
// move exists to remove. The board is rebuilt by replaying the trimmed
// history from the start.
func (st *Store) Takeback(id string) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.game.finished || s.status == StatusCompleted {
		return Snapshot{}, ErrAlreadyFinished
	}
	if len(s.game.moves) == 0 {
		return Snapshot{}, ErrIllegalAction
	}

	trimmed := s.game.moves[:len(s.game.moves)-1]
	board, err := st.engine.NewPosition(s.Config.Variant, s.Config.BoardWidth, s.Config.BoardHeight)
	if err != nil {
		return Snapshot{}, fmt.Errorf("takeback: %w", err)
	}
	turn := wall.Player(1)
	for _, mv := range trimmed {
		board, _, err = st.engine.Apply(board, turn, mv)
		if err != nil {
			return Snapshot{}, fmt.Errorf("takeback replay: %w", err)
		}
		turn = turn.Other()
	}
	s.game.board = board
	s.game.moves = s.game.moves[:len(s.game.moves)-1]
	s.game.turn = turn
	return s.snapshotLocked(), nil
}

// GiveTime adds a fixed bonus to the opponent's clock. A no-op on finished
// games rather than an error.
func (st *Store) GiveTime(id string, from wall.Player) (Snapshot, error) {
	s, err := st.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.game.finished && s.status != StatusCompleted {
		s.game.clockMs[from.Other()] += GiveTimeBonusMs
	}
	return s.snapshotLocked(), nil
}

// finishLocked transitions a game to finished and awards the match score
// once. Callers hold s.mu.
func (st *Store) finishLocked(s *Session, result *Result) {
	if s.game.finished {
		return
	}
	s.game.finished = true
	s.game.result = result
	s.status = StatusCompleted

	if s.lastScoredGame == s.ID {
		return
	}
	s.lastScoredGame = s.ID
	if s.cancelled {
		return
	}
	switch result.Winner {
	case 0:
		s.matchScore[RoleHost] += 0.5
		s.matchScore[RoleJoiner] += 0.5
	case int(s.host.PlayerID):
		s.matchScore[RoleHost] += 1
	default:
		s.matchScore[RoleJoiner] += 1
	}
	st.logger.Info().
		Str("game_id", s.ID).
		Int("winner", result.Winner).
		Str("reason", result.Reason).
		Msg("game finished")
}

// SweepTimeouts finishes every playing game whose mover's clock has run out.
// It returns the snapshots of the games it finished.
func (st *Store) SweepTimeouts() []Snapshot {
	st.mu.RLock()
	live := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		live = append(live, s)
	}
	st.mu.RUnlock()

	now := st.clock.Now()
	var finished []Snapshot
	for _, s := range live {
		s.mu.Lock()
		if !s.game.finished && s.status == StatusInProgress && s.game.startedAt != nil {
			mover := s.game.turn
			elapsed := now.Sub(s.game.lastMoveAt).Milliseconds()
			if s.game.clockMs[mover]-elapsed <= 0 {
				s.game.clockMs[mover] = 0
				st.finishLocked(s, &Result{Winner: int(mover.Other()), Reason: ReasonTimeout})
				finished = append(finished, s.snapshotLocked())
			}
		}
		s.mu.Unlock()
	}
	return finished
}

// CreateRematch starts the next game of a series: swapped first player,
// carried-over score, fresh tokens, reset state.
func (st *Store) CreateRematch(previousID string) (Created, error) {
	prev, err := st.get(previousID)
	if err != nil {
		return Created{}, err
	}

	prev.mu.Lock()
	if !prev.game.finished {
		prev.mu.Unlock()
		return Created{}, ErrNotFinished
	}
	if prev.rematchID != "" {
		prev.mu.Unlock()
		return Created{}, ErrRematchExists
	}
	cfg := prev.Config
	seriesID := prev.SeriesID
	rematchNumber := prev.RematchNumber + 1
	host := prev.host
	joiner := prev.joiner
	score := map[Role]float64{
		RoleHost:   prev.matchScore[RoleHost],
		RoleJoiner: prev.matchScore[RoleJoiner],
	}
	lastScored := prev.lastScoredGame
	prev.mu.Unlock()

	board, err := st.engine.NewPosition(cfg.Variant, cfg.BoardWidth, cfg.BoardHeight)
	if err != nil {
		return Created{}, fmt.Errorf("create rematch: %w", err)
	}

	id := gameid.New()
	now := st.clock.Now()
	s := &Session{
		ID:            id,
		SeriesID:      seriesID,
		RematchNumber: rematchNumber,
		Config:        cfg,
		MatchType:     prev.MatchType,
		CreatedAt:     now,
		status:        StatusReady,
		host: Seat{
			Role:           RoleHost,
			PlayerID:       host.PlayerID.Other(),
			Token:          gameid.NewToken(),
			SocketToken:    gameid.NewToken(),
			DisplayName:    host.DisplayName,
			AuthUserID:     host.AuthUserID,
			Appearance:     host.Appearance,
			BotCompositeID: host.BotCompositeID,
		},
		joiner: Seat{
			Role:           RoleJoiner,
			PlayerID:       joiner.PlayerID.Other(),
			Token:          gameid.NewToken(),
			SocketToken:    gameid.NewToken(),
			DisplayName:    joiner.DisplayName,
			AuthUserID:     joiner.AuthUserID,
			Appearance:     joiner.Appearance,
			BotCompositeID: joiner.BotCompositeID,
		},
		game: gameState{
			board:      board,
			turn:       1,
			clockMs:    map[wall.Player]int64{1: cfg.TimeControl.InitialMs, 2: cfg.TimeControl.InitialMs},
			lastMoveAt: now,
		},
		matchScore:     score,
		lastScoredGame: lastScored,
		chatGuests:     make(map[string]int),
	}
	if s.host.IsBot() {
		s.host.Connected, s.host.Ready = true, true
	}
	if s.joiner.IsBot() {
		s.joiner.Connected, s.joiner.Ready = true, true
	}

	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()

	// Record the link under the previous session's lock; a concurrent
	// CreateRematch that lost the race gets ErrRematchExists above.
	prev.mu.Lock()
	if prev.rematchID != "" {
		prev.mu.Unlock()
		st.mu.Lock()
		delete(st.sessions, id)
		st.mu.Unlock()
		return Created{}, ErrRematchExists
	}
	prev.rematchID = id
	prev.mu.Unlock()

	st.logger.Info().
		Str("game_id", id).
		Str("series_id", seriesID).
		Int("rematch_number", rematchNumber).
		Msg("rematch created")

	return Created{
		Snapshot:    s.Snapshot(),
		Token:       s.host.Token,
		SocketToken: s.host.SocketToken,
	}, nil
}

// RematchTokens returns the fresh credentials a seat receives in a rematch,
// addressed by the seat's role in the previous game.
func (st *Store) RematchTokens(rematchID string, role Role) (token, socketToken string, err error) {
	s, err := st.get(rematchID)
	if err != nil {
		return "", "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seat := s.seatByRoleLocked(role)
	return seat.Token, seat.SocketToken, nil
}

// AccessKind classifies what a caller may do with a game.
type AccessKind string

const (
	AccessPlayer    AccessKind = "player"
	AccessWaiting   AccessKind = "waiting"
	AccessSpectator AccessKind = "spectator"
	AccessReplay    AccessKind = "replay"
)

// Access is the result of ResolveAccess.
type Access struct {
	Kind        AccessKind
	Snapshot    Snapshot
	PlayerID    wall.Player
	Token       string
	SocketToken string
	// WaitingReason is set for AccessWaiting: "host-aborted" or "no-opponent".
	WaitingReason string
}

// ResolveAccess classifies a caller. Precedence: seat token match, then auth
// user match (which re-issues credentials), then status.
func (st *Store) ResolveAccess(id, token, authUserID string) (Access, error) {
	s, err := st.get(id)
	if err != nil {
		return Access{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if seat := s.seatByTokenLocked(token); seat != nil {
		return Access{
			Kind:        AccessPlayer,
			Snapshot:    s.snapshotLocked(),
			PlayerID:    seat.PlayerID,
			Token:       seat.Token,
			SocketToken: seat.SocketToken,
		}, nil
	}

	if authUserID != "" {
		for _, seat := range []*Seat{&s.host, &s.joiner} {
			if seat.AuthUserID == authUserID && seat.DisplayName != "" {
				seat.Token = gameid.NewToken()
				seat.SocketToken = gameid.NewToken()
				return Access{
					Kind:        AccessPlayer,
					Snapshot:    s.snapshotLocked(),
					PlayerID:    seat.PlayerID,
					Token:       seat.Token,
					SocketToken: seat.SocketToken,
				}, nil
			}
		}
	}

	switch {
	case s.cancelled:
		return Access{Kind: AccessWaiting, Snapshot: s.snapshotLocked(), WaitingReason: "host-aborted"}, nil
	case s.status == StatusWaiting:
		return Access{Kind: AccessWaiting, Snapshot: s.snapshotLocked(), WaitingReason: "no-opponent"}, nil
	case s.status == StatusCompleted:
		return Access{Kind: AccessReplay, Snapshot: s.snapshotLocked()}, nil
	default:
		return Access{Kind: AccessSpectator, Snapshot: s.snapshotLocked()}, nil
	}
}

// SeatBySocketToken matches a game-socket capability to its seat.
func (st *Store) SeatBySocketToken(id, socketToken string) (Seat, error) {
	s, err := st.get(id)
	if err != nil {
		return Seat{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if socketToken != "" {
		for _, seat := range []*Seat{&s.host, &s.joiner} {
			if seat.SocketToken == socketToken {
				return *seat, nil
			}
		}
	}
	return Seat{}, ErrNotFound
}

// SetRatingsAtStart records both seats' ratings when a rated game begins.
func (st *Store) SetRatingsAtStart(id string, hostRating, joinerRating int) {
	s, err := st.get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.host.RatingAtStart = hostRating
	s.host.Rating = hostRating
	s.joiner.RatingAtStart = joinerRating
	s.joiner.Rating = joinerRating
	s.mu.Unlock()
}

// SetRatings updates both seats' current ratings after a rated game settles;
// RatingAtStart stays fixed for the game record.
func (st *Store) SetRatings(id string, hostRating, joinerRating int) {
	s, err := st.get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.host.Rating = hostRating
	s.joiner.Rating = joinerRating
	s.mu.Unlock()
}

// ListWaitingMatchmaking returns waiting matchmaking games for the lobby.
func (st *Store) ListWaitingMatchmaking() []Snapshot {
	return st.list(func(snap Snapshot) bool {
		return snap.MatchType == MatchMatchmaking && snap.Status == StatusWaiting && !snap.Cancelled
	})
}

// ListInProgress returns all in-progress games for the live stream.
func (st *Store) ListInProgress() []Snapshot {
	return st.list(func(snap Snapshot) bool {
		return snap.Status == StatusInProgress
	})
}

// BotGames returns the in-progress games in which the given bot holds a
// seat.
func (st *Store) BotGames(compositeID string) []Snapshot {
	return st.list(func(snap Snapshot) bool {
		bot := snap.BotSeat()
		return bot != nil && bot.BotCompositeID == compositeID && snap.Status == StatusInProgress
	})
}

func (st *Store) list(keep func(Snapshot) bool) []Snapshot {
	st.mu.RLock()
	all := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		all = append(all, s)
	}
	st.mu.RUnlock()

	var out []Snapshot
	for _, s := range all {
		snap := s.Snapshot()
		if keep(snap) {
			out = append(out, snap)
		}
	}
	return out
}

// Remove drops a session from the store. Finished games stay resident for
// replay until an operator-driven cleanup removes them.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Count returns the number of resident sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
