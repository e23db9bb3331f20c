package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nmamano/wallgame-sub002/internal/bgs"
	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/gameid"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
	"github.com/nmamano/wallgame-sub002/internal/session"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// sharedEval is the one evaluation stream of a live human-vs-human game.
// Every viewer shares it; it lives until the game ends, not until the last
// viewer leaves.
type sharedEval struct {
	gameID string
	bgsID  string
	botID  string // composite

	mu        sync.Mutex
	ready     bool
	failed    bool
	waiting   []*wsClient
	advancing bool
	pendingMv bool
}

// handleEvalSocket serves /ws/eval/{gameId}: handshake, history, then live
// updates for as long as the game runs.
func (s *Server) handleEvalSocket(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["gameId"]

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSClient("eval:"+gameid.NewNonce(), conn)
	if !s.trackWS(c) {
		c.Close()
		return
	}
	go c.writePump()

	defer func() {
		s.hub.UnsubscribeAll(c.ID())
		s.untrackWS(c)
		c.Close()
	}()

	conn.SetReadLimit(protocol.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	reject := func(code, message string) {
		s.sendTo(c, protocol.EvalHandshakeRejected{
			Type:    protocol.TypeEvalHandshakeRejected,
			Code:    code,
			Message: message,
		})
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return
	}
	if t, err := protocol.ProbeType(data); err != nil || t != protocol.TypeEvalHandshake {
		reject(protocol.CodeInvalidMessage, "first frame must be eval-handshake")
		return
	}
	var hs protocol.EvalHandshake
	if err := protocol.Decode(data, &hs); err != nil {
		reject(protocol.CodeInvalidMessage, "malformed eval-handshake")
		return
	}

	snap, err := s.sessions.Get(gameID)
	if err != nil {
		reject(protocol.CodeGameNotFound, "no such game")
		return
	}

	switch {
	case snap.BotSeat() != nil && snap.Status != session.StatusCompleted:
		if !s.attachBotGameEval(c, snap) {
			return
		}
	case snap.Status == session.StatusCompleted:
		if !s.attachReplayEval(c, snap) {
			return
		}
	default:
		if snap.Config.Rated {
			reject(protocol.CodeRatedPlayer, "rated games cannot be evaluated live")
			return
		}
		if !s.attachSharedEval(c, snap) {
			return
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if t, err := protocol.ProbeType(data); err == nil && t == protocol.TypePing {
			s.sendTo(c, protocol.Pong{Type: protocol.TypePong})
		}
	}
}

// attachBotGameEval serves eval viewers of a bot game by reusing the game's
// own bot session: its history grows as the bot plays.
func (s *Server) attachBotGameEval(c *wsClient, snap session.Snapshot) bool {
	info, ok := s.bgs.Get(snap.ID)
	if !ok {
		s.sendTo(c, protocol.EvalHandshakeRejected{
			Type:    protocol.TypeEvalHandshakeRejected,
			Code:    protocol.CodeInternalError,
			Message: "bot session unavailable",
		})
		return false
	}
	s.sendTo(c, protocol.EvalHandshakeAccepted{Type: protocol.TypeEvalHandshakeAccepted})

	if info.Status == bgs.StatusInitializing {
		s.sendTo(c, protocol.EvalPending{Type: protocol.TypeEvalPending, TotalMoves: snap.MoveCount()})
		go s.flushHistoryWhenReady(c, snap.ID)
	} else {
		s.sendTo(c, historyFrame(s.bgs.History(snap.ID)))
	}
	s.hub.Subscribe(broadcast.EvalTopic(snap.ID), c, 0)
	return true
}

// flushHistoryWhenReady delivers the session history once the bot has
// acknowledged the session start. Live updates stream through the topic
// subscription in the meantime.
func (s *Server) flushHistoryWhenReady(c *wsClient, bgsID string) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			info, ok := s.bgs.Get(bgsID)
			if !ok {
				return
			}
			if info.Status != bgs.StatusInitializing {
				s.sendTo(c, historyFrame(s.bgs.History(bgsID)))
				return
			}
		}
	}
}

// attachSharedEval subscribes a viewer to the game's shared evaluation,
// creating it on first demand.
func (s *Server) attachSharedEval(c *wsClient, snap session.Snapshot) bool {
	bot := s.registry.FindEvalBot(snap.Config.Variant, snap.Config.BoardWidth, snap.Config.BoardHeight)
	if bot == nil {
		s.sendTo(c, protocol.EvalHandshakeRejected{
			Type:    protocol.TypeEvalHandshakeRejected,
			Code:    protocol.CodeNoBot,
			Message: "no evaluation bot available for this game",
		})
		return false
	}

	s.evalMu.Lock()
	se, exists := s.sharedEvals[snap.ID]
	if !exists {
		se = &sharedEval{gameID: snap.ID, bgsID: snap.ID, botID: bot.CompositeID}
		s.sharedEvals[snap.ID] = se
	}
	s.evalMu.Unlock()

	s.sendTo(c, protocol.EvalHandshakeAccepted{Type: protocol.TypeEvalHandshakeAccepted})
	s.hub.Subscribe(broadcast.EvalTopic(snap.ID), c, 0)

	se.mu.Lock()
	defer se.mu.Unlock()
	switch {
	case se.failed:
		s.sendTo(c, protocol.EvalError{
			Type:    protocol.TypeEvalError,
			Code:    protocol.CodeInternalError,
			Message: "evaluation unavailable",
		})
	case se.ready:
		s.sendTo(c, historyFrame(s.bgs.History(se.bgsID)))
	default:
		s.sendTo(c, protocol.EvalPending{Type: protocol.TypeEvalPending, TotalMoves: snap.MoveCount()})
		se.waiting = append(se.waiting, c)
		if !exists {
			go s.initSharedEval(se, snap)
		}
	}
	return true
}

// initSharedEval starts the bot session and replays the game so far,
// evaluating every position. Waiting viewers get the full history when it
// completes.
func (s *Server) initSharedEval(se *sharedEval, snap session.Snapshot) {
	history, err := s.replayForEval(se.bgsID, se.botID, snap)

	se.mu.Lock()
	waiting := se.waiting
	se.waiting = nil
	if err != nil {
		se.failed = true
	} else {
		se.ready = true
	}
	pendingMove := se.pendingMv
	se.pendingMv = false
	se.mu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("game_id", se.gameID).Msg("shared eval init failed")
		s.teardownSharedEval(se.gameID)
		frame := protocol.EvalError{
			Type:    protocol.TypeEvalError,
			Code:    protocol.CodeInternalError,
			Message: "evaluation unavailable",
		}
		for _, c := range waiting {
			s.sendTo(c, frame)
		}
		return
	}

	frame := historyFrame(history)
	for _, c := range waiting {
		s.sendTo(c, frame)
	}
	// Moves played while we were replaying are picked up now.
	if pendingMove {
		s.sharedEvalMove(se.gameID)
	}
}

// replayForEval opens a bot session and walks it through the game's moves,
// evaluating every position along the way.
func (s *Server) replayForEval(bgsID, botComposite string, snap session.Snapshot) ([]bgs.Entry, error) {
	bc, bot, ok := s.botConnFor(botComposite)
	if !ok {
		return nil, bgs.ErrBotDisconnected
	}

	variant, err := wall.ParseVariant(snap.Config.Variant)
	if err != nil {
		return nil, err
	}
	start, err := wall.New(variant, snap.Config.BoardWidth, snap.Config.BoardHeight)
	if err != nil {
		return nil, err
	}
	cfg := protocol.BgsConfig{
		Variant:      snap.Config.Variant,
		BoardWidth:   snap.Config.BoardWidth,
		BoardHeight:  snap.Config.BoardHeight,
		InitialState: start.WireState(),
	}
	if s.bgs.Create(bgsID, botComposite, snap.ID, cfg) == nil {
		return nil, bgs.ErrSessionEnded
	}
	if err := s.startSession(bc, bgsID, bot.BotID, cfg); err != nil {
		return nil, err
	}

	history := make([]bgs.Entry, 0, len(snap.Moves)+1)
	for ply := 0; ply <= len(snap.Moves); ply++ {
		entry, err := s.evaluate(bc, bgsID, ply)
		if err != nil {
			s.bgs.End(bgsID)
			return nil, err
		}
		history = append(history, entry)
		if ply < len(snap.Moves) {
			if err := s.applyMove(bc, bgsID, ply, snap.Moves[ply]); err != nil {
				s.bgs.End(bgsID)
				return nil, err
			}
		}
	}
	return history, nil
}

// attachReplayEval serves a finished game with a throwaway session: the full
// history is computed, delivered, and the session is released immediately.
func (s *Server) attachReplayEval(c *wsClient, snap session.Snapshot) bool {
	bot := s.registry.FindEvalBot(snap.Config.Variant, snap.Config.BoardWidth, snap.Config.BoardHeight)
	if bot == nil {
		s.sendTo(c, protocol.EvalHandshakeRejected{
			Type:    protocol.TypeEvalHandshakeRejected,
			Code:    protocol.CodeNoBot,
			Message: "no evaluation bot available for this game",
		})
		return false
	}
	s.sendTo(c, protocol.EvalHandshakeAccepted{Type: protocol.TypeEvalHandshakeAccepted})
	s.sendTo(c, protocol.EvalPending{Type: protocol.TypeEvalPending, TotalMoves: snap.MoveCount()})

	bgsID := snap.ID + "_" + gameid.NewNonce()
	history, err := s.replayForEval(bgsID, bot.CompositeID, snap)
	if err != nil {
		s.sendTo(c, protocol.EvalError{
			Type:    protocol.TypeEvalError,
			Code:    protocol.CodeInternalError,
			Message: "evaluation unavailable",
		})
		return true
	}
	s.sendTo(c, historyFrame(history))

	s.bgs.End(bgsID)
	s.endBotSession(bot.CompositeID, bgsID)
	return true
}

// sharedEvalMove advances the shared evaluation after a live human move. At
// most one advance runs at a time; a move arriving mid-advance is coalesced
// into a follow-up pass.
func (s *Server) sharedEvalMove(gameID string) {
	s.evalMu.Lock()
	se := s.sharedEvals[gameID]
	s.evalMu.Unlock()
	if se == nil {
		return
	}

	se.mu.Lock()
	if !se.ready || se.advancing {
		se.pendingMv = true
		se.mu.Unlock()
		return
	}
	se.advancing = true
	se.mu.Unlock()

	for {
		snap, err := s.sessions.Get(gameID)
		if err != nil || !snap.Playing {
			break
		}
		bc, _, ok := s.botConnFor(se.botID)
		if !ok {
			break
		}
		if s.bgs.CurrentPly(se.bgsID) >= len(snap.Moves) {
			break
		}
		if err := s.catchUp(bc, se.bgsID, snap.Moves); err != nil {
			s.logger.Warn().Err(err).Str("game_id", gameID).Msg("shared eval catch-up failed")
			break
		}
		entry, err := s.evaluate(bc, se.bgsID, len(snap.Moves))
		if err != nil {
			s.logger.Warn().Err(err).Str("game_id", gameID).Msg("shared eval failed")
			break
		}
		s.publishEvalUpdate(gameID, entry)

		se.mu.Lock()
		again := se.pendingMv
		se.pendingMv = false
		se.mu.Unlock()
		if !again {
			break
		}
	}

	se.mu.Lock()
	se.advancing = false
	se.mu.Unlock()
}

// teardownSharedEval retires the game's shared evaluation, ending its bot
// session. Called at game end; viewer departures never tear it down.
func (s *Server) teardownSharedEval(gameID string) {
	s.evalMu.Lock()
	se := s.sharedEvals[gameID]
	delete(s.sharedEvals, gameID)
	s.evalMu.Unlock()
	if se == nil {
		return
	}
	if s.bgs.End(se.bgsID) {
		s.endBotSession(se.botID, se.bgsID)
	}
}

func historyFrame(entries []bgs.Entry) protocol.EvalHistory {
	out := make([]protocol.EvalEntry, len(entries))
	for i, e := range entries {
		out[i] = protocol.EvalEntry{Ply: e.Ply, Evaluation: e.Evaluation, BestMove: e.BestMove}
	}
	return protocol.EvalHistory{Type: protocol.TypeEvalHistory, Entries: out}
}
