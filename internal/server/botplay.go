package server

import (
	"fmt"
	"sync"

	"github.com/nmamano/wallgame-sub002/internal/bgs"
	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
	"github.com/nmamano/wallgame-sub002/internal/registry"
	"github.com/nmamano/wallgame-sub002/internal/session"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// startBotGame opens the bot's game session for a freshly created bot game.
// The session ID is the game ID, which is also what eval subscribers of the
// game reuse.
func (s *Server) startBotGame(snap session.Snapshot, bot *registry.Bot) error {
	bc, _, ok := s.botConnFor(bot.CompositeID)
	if !ok {
		return fmt.Errorf("bot %s is not connected", bot.CompositeID)
	}

	cfg := protocol.BgsConfig{
		Variant:      snap.Config.Variant,
		BoardWidth:   snap.Config.BoardWidth,
		BoardHeight:  snap.Config.BoardHeight,
		InitialState: snap.Board,
	}
	if s.bgs.Create(snap.ID, bot.CompositeID, snap.ID, cfg) == nil {
		return fmt.Errorf("no capacity for a new bot session")
	}
	if err := s.startSession(bc, snap.ID, bot.BotID, cfg); err != nil {
		return fmt.Errorf("bot session start: %w", err)
	}

	human := snap.SeatByRole(snap.BotSeat().Role.Other())
	bot.AddActiveGame(snap.ID, registry.ActiveGame{
		PlayerID:     int(snap.BotSeat().PlayerID),
		OpponentName: human.DisplayName,
		StartedAt:    s.clock.Now(),
	})

	// Seed the evaluation history with the starting position. The drive is
	// held while the seed request is in flight so a human move arriving in
	// the meantime waits its turn instead of contending for the session's
	// single pending-request slot.
	d := s.driveFor(snap.ID)
	d.mu.Lock()
	d.advancing = true
	d.mu.Unlock()
	go func() {
		if entry, err := s.evaluate(bc, snap.ID, 0); err == nil {
			s.publishEvalUpdate(snap.ID, entry)
		}
		d.mu.Lock()
		d.advancing = false
		d.pending = false
		d.mu.Unlock()
		s.advanceBot(snap.ID)
	}()
	return nil
}

// botDrive serializes one bot game's session traffic. The seed evaluation
// and move-triggered advances share the session's single pending-request
// slot, so at most one of them runs at a time; a move landing mid-advance is
// coalesced into a follow-up pass.
type botDrive struct {
	mu        sync.Mutex
	advancing bool
	pending   bool
}

func (s *Server) driveFor(gameID string) *botDrive {
	s.driveMu.Lock()
	defer s.driveMu.Unlock()
	d, ok := s.botDrives[gameID]
	if !ok {
		d = &botDrive{}
		s.botDrives[gameID] = d
	}
	return d
}

func (s *Server) dropBotDrive(gameID string) {
	s.driveMu.Lock()
	delete(s.botDrives, gameID)
	s.driveMu.Unlock()
}

// advanceBot plays the bot's move if it is the bot's turn. Advances are
// serialized per game through the drive: a call landing while another is in
// flight marks it pending and returns, and the running advance loops around
// to pick it up.
func (s *Server) advanceBot(gameID string) {
	d := s.driveFor(gameID)
	d.mu.Lock()
	if d.advancing {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.advancing = true
	d.mu.Unlock()

	for {
		s.advanceBotOnce(gameID)
		d.mu.Lock()
		if !d.pending {
			d.advancing = false
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.mu.Unlock()
	}
}

// advanceBotOnce runs one advance pass: the session is first caught up with
// any game moves it has not seen, then asked for its evaluation, and the
// best move is played on the authoritative board.
//
// The bot's own chosen move is NOT applied to its session here; the next
// catch-up pass replays it together with the human's reply. Keeping the
// session one step behind makes move application uniform regardless of who
// moved.
func (s *Server) advanceBotOnce(gameID string) {
	snap, err := s.sessions.Get(gameID)
	if err != nil {
		return
	}
	seat := snap.BotSeat()
	if seat == nil || !snap.Playing || snap.Turn != seat.PlayerID {
		return
	}
	bc, _, ok := s.botConnFor(seat.BotCompositeID)
	if !ok {
		s.resignBotGame(gameID, seat.PlayerID, "bot not connected")
		return
	}

	if err := s.catchUp(bc, gameID, snap.Moves); err != nil {
		s.logger.Warn().Err(err).Str("game_id", gameID).Msg("bot catch-up failed")
		s.resignBotGame(gameID, seat.PlayerID, "bot session lost")
		return
	}

	// The starting position may already be evaluated by the session seed;
	// reuse that instead of asking twice for the same ply.
	var entry bgs.Entry
	var have bool
	for _, e := range s.bgs.History(gameID) {
		if e.Ply == len(snap.Moves) {
			entry, have = e, true
		}
	}
	if !have {
		entry, err = s.evaluate(bc, gameID, len(snap.Moves))
		if err != nil {
			s.logger.Warn().Err(err).Str("game_id", gameID).Msg("bot evaluation failed")
			s.resignBotGame(gameID, seat.PlayerID, "bot evaluation failed")
			return
		}
		s.publishEvalUpdate(gameID, entry)
	}

	after, err := s.sessions.ApplyMove(gameID, seat.PlayerID, entry.BestMove)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("game_id", gameID).
			Str("move", entry.BestMove).
			Msg("bot played an illegal move")
		s.resignBotGame(gameID, seat.PlayerID, "bot played an illegal move")
		return
	}

	if after.Playing {
		s.broadcastGame(after)
		s.publishLiveUpsert(after)
	} else {
		s.onGameFinished(after)
	}
}

// catchUp replays every game move the bot's session has not applied yet.
func (s *Server) catchUp(bc *botConn, gameID string, moves []string) error {
	for ply := s.bgs.CurrentPly(gameID); ply < len(moves); ply++ {
		if err := s.applyMove(bc, gameID, ply, moves[ply]); err != nil {
			return err
		}
	}
	return nil
}

// resignBotGame forfeits the bot's seat after an unrecoverable bot failure.
func (s *Server) resignBotGame(gameID string, player wall.Player, why string) {
	s.logger.Info().Str("game_id", gameID).Str("reason", why).Msg("resigning bot seat")
	snap, err := s.sessions.Resign(gameID, player)
	if err != nil {
		return
	}
	s.onGameFinished(snap)
}

func (s *Server) publishEvalUpdate(gameID string, entry bgs.Entry) {
	s.hub.Publish(broadcast.EvalTopic(gameID), protocol.EvalUpdate{
		Type:       protocol.TypeEvalUpdate,
		Ply:        entry.Ply,
		Evaluation: entry.Evaluation,
		BestMove:   entry.BestMove,
	})
}
