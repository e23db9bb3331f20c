// Package bgs owns bot game sessions: the stateful per-(bot, game)
// sub-sessions carrying stepwise evaluations and move replays. Each session
// holds an append-only evaluation history, a monotonic current ply and a
// single-slot pending request, which is what serializes traffic per session.
package bgs

import (
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/protocol"
)

// Status is the session lifecycle. Ended is terminal.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusReady        Status = "ready"
	StatusEnded        Status = "ended"
)

// RequestType tags the pending request slot.
type RequestType string

const (
	RequestStart     RequestType = "start"
	RequestEval      RequestType = "eval"
	RequestApplyMove RequestType = "applyMove"
	RequestEnd       RequestType = "end"
)

var (
	ErrSessionEnded    = errors.New("session ended")
	ErrBotDisconnected = errors.New("bot client disconnected")
	ErrRequestTimeout  = errors.New("request timed out")
	ErrNotInitializing = errors.New("session is not initializing")
)

// Entry is one evaluated position. Entry i of a well-formed history has
// ply i.
type Entry struct {
	Ply        int
	Evaluation float64
	BestMove   string
}

// Result is what a resolver delivers: the bot's answer or a terminal error.
type Result struct {
	Ply        int
	BestMove   string
	Evaluation float64
	Err        error
}

// pending is the single in-flight request of a session.
type pending struct {
	typ         RequestType
	expectedPly int
	createdAt   time.Time
	ch          chan Result
}

// Session is one bot game session. Fields are guarded by the store.
type Session struct {
	BgsID          string
	BotCompositeID string
	GameID         string
	Config         protocol.BgsConfig

	status     Status
	history    []Entry
	currentPly int
	pending    *pending
	createdAt  time.Time
	updatedAt  time.Time
}

// Store owns every live session, bounded by maxSessions.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	maxSessions int
	clock       quartz.Clock
	logger      zerolog.Logger
}

// NewStore builds an empty store.
func NewStore(maxSessions int, clock quartz.Clock, logger zerolog.Logger) *Store {
	return &Store{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		clock:       clock,
		logger:      logger.With().Str("component", "bgs").Logger(),
	}
}

// Create registers a new session in the initializing state. It returns nil
// on a duplicate ID or when the store is at capacity.
func (st *Store) Create(bgsID, botCompositeID, gameID string, cfg protocol.BgsConfig) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[bgsID]; exists {
		st.logger.Warn().Str("bgs_id", bgsID).Msg("duplicate session rejected")
		return nil
	}
	if len(st.sessions) >= st.maxSessions {
		st.logger.Warn().Int("max", st.maxSessions).Msg("session capacity reached")
		return nil
	}
	now := st.clock.Now()
	s := &Session{
		BgsID:          bgsID,
		BotCompositeID: botCompositeID,
		GameID:         gameID,
		Config:         cfg,
		status:         StatusInitializing,
		createdAt:      now,
		updatedAt:      now,
	}
	st.sessions[bgsID] = s
	return s
}

// Info is a consistent copy of a session's bookkeeping fields.
type Info struct {
	BgsID          string
	BotCompositeID string
	GameID         string
	Config         protocol.BgsConfig
	Status         Status
	CurrentPly     int
	HistoryLen     int
	HasPending     bool
}

// Get returns session info, or false for unknown IDs.
func (st *Store) Get(bgsID string) (Info, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[bgsID]
	if !ok {
		return Info{}, false
	}
	return Info{
		BgsID:          s.BgsID,
		BotCompositeID: s.BotCompositeID,
		GameID:         s.GameID,
		Config:         s.Config,
		Status:         s.status,
		CurrentPly:     s.currentPly,
		HistoryLen:     len(s.history),
		HasPending:     s.pending != nil,
	}, true
}

// MarkReady transitions initializing to ready.
func (st *Store) MarkReady(bgsID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[bgsID]
	if !ok {
		return ErrSessionEnded
	}
	if s.status != StatusInitializing {
		return ErrNotInitializing
	}
	s.status = StatusReady
	s.updatedAt = st.clock.Now()
	return nil
}

// AppendHistory adds one entry. A ply not matching the history length is
// logged and appended anyway; the stream is never reordered.
func (st *Store) AppendHistory(bgsID string, entry Entry) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[bgsID]
	if !ok {
		return false
	}
	if entry.Ply != len(s.history) {
		st.logger.Warn().
			Str("bgs_id", bgsID).
			Int("ply", entry.Ply).
			Int("expected", len(s.history)).
			Msg("history entry out of sequence")
	}
	s.history = append(s.history, entry)
	s.updatedAt = st.clock.Now()
	return true
}

// History returns a copy of the session's evaluation history.
func (st *Store) History(bgsID string) []Entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[bgsID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// UpdateCurrentPly advances the session's ply. Decreasing values are logged
// and ignored rather than applied; a bot handing back an older ply is a
// protocol anomaly the operator should see, not a rewind.
func (st *Store) UpdateCurrentPly(bgsID string, ply int) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[bgsID]
	if !ok {
		return false
	}
	if ply < s.currentPly {
		st.logger.Warn().
			Str("bgs_id", bgsID).
			Int("ply", ply).
			Int("current", s.currentPly).
			Msg("refusing to rewind current ply")
		return false
	}
	s.currentPly = ply
	s.updatedAt = st.clock.Now()
	return true
}

// CurrentPly returns the session's ply counter.
func (st *Store) CurrentPly(bgsID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[bgsID]; ok {
		return s.currentPly
	}
	return 0
}

// SetPending installs the single in-flight request and returns the channel
// its result will arrive on. It returns false when a request is already
// pending or the session is gone.
func (st *Store) SetPending(bgsID string, typ RequestType, expectedPly int) (<-chan Result, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[bgsID]
	if !ok || s.pending != nil {
		return nil, false
	}
	p := &pending{
		typ:         typ,
		expectedPly: expectedPly,
		createdAt:   st.clock.Now(),
		ch:          make(chan Result, 1),
	}
	s.pending = p
	return p.ch, true
}

// PendingType returns the type and expected ply of the in-flight request.
func (st *Store) PendingType(bgsID string) (RequestType, int, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[bgsID]
	if !ok || s.pending == nil {
		return "", 0, false
	}
	return s.pending.typ, s.pending.expectedPly, true
}

// Resolve delivers the bot's answer to the pending request and clears the
// slot. It returns false when nothing was pending (a late response).
func (st *Store) Resolve(bgsID string, res Result) bool {
	return st.clearPending(bgsID, res)
}

// Reject fails the pending request with err and clears the slot.
func (st *Store) Reject(bgsID string, err error) bool {
	return st.clearPending(bgsID, Result{Err: err})
}

func (st *Store) clearPending(bgsID string, res Result) bool {
	st.mu.Lock()
	s, ok := st.sessions[bgsID]
	if !ok || s.pending == nil {
		st.mu.Unlock()
		return false
	}
	ch := s.pending.ch
	s.pending = nil
	s.updatedAt = st.clock.Now()
	st.mu.Unlock()

	ch <- res
	return true
}

// End tears a session down: the pending request, if any, is rejected with
// ErrSessionEnded and the entry is deleted. Ending twice is a no-op.
func (st *Store) End(bgsID string) bool {
	st.mu.Lock()
	s, ok := st.sessions[bgsID]
	if !ok {
		st.mu.Unlock()
		return false
	}
	delete(st.sessions, bgsID)
	s.status = StatusEnded
	var ch chan Result
	if s.pending != nil {
		ch = s.pending.ch
		s.pending = nil
	}
	st.mu.Unlock()

	if ch != nil {
		ch <- Result{Err: ErrSessionEnded}
	}
	st.logger.Debug().Str("bgs_id", bgsID).Msg("session ended")
	return true
}

// EndAllForBot ends every session owned by the given bot and returns their
// IDs.
func (st *Store) EndAllForBot(botCompositeID string) []string {
	st.mu.Lock()
	var ids []string
	for id, s := range st.sessions {
		if s.BotCompositeID == botCompositeID {
			ids = append(ids, id)
		}
	}
	st.mu.Unlock()

	for _, id := range ids {
		st.End(id)
	}
	return ids
}

// CleanupStale ends sessions that have not been touched within age. Returns
// the number removed.
func (st *Store) CleanupStale(age time.Duration) int {
	cutoff := st.clock.Now().Add(-age)
	st.mu.Lock()
	var ids []string
	for id, s := range st.sessions {
		if s.updatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	st.mu.Unlock()

	for _, id := range ids {
		st.End(id)
	}
	if len(ids) > 0 {
		st.logger.Info().Int("removed", len(ids)).Msg("stale sessions cleaned up")
	}
	return len(ids)
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
