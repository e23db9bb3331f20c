package server

import (
	"errors"
	"time"

	"github.com/nmamano/wallgame-sub002/internal/bgs"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
)

// bgsRequest sends one request frame over a bot socket and blocks until the
// matching response arrives or the request times out. The session's pending
// slot serializes traffic: a second request on the same session fails fast
// instead of queueing.
func (s *Server) bgsRequest(bc *botConn, bgsID string, typ bgs.RequestType, expectedPly int, frame any) (bgs.Result, error) {
	ch, ok := s.bgs.SetPending(bgsID, typ, expectedPly)
	if !ok {
		return bgs.Result{}, errors.New("session busy or gone")
	}

	data, err := protocol.Encode(frame)
	if err != nil {
		s.bgs.Reject(bgsID, err)
		<-ch
		return bgs.Result{Err: err}, err
	}
	if err := bc.send(data); err != nil {
		s.bgs.Reject(bgsID, bgs.ErrBotDisconnected)
		<-ch
		return bgs.Result{Err: bgs.ErrBotDisconnected}, err
	}

	timeout := time.Duration(s.cfg.Limits.BgsRequestTimeoutMs) * time.Millisecond
	timer := s.clock.AfterFunc(timeout, func() {
		if s.bgs.Reject(bgsID, bgs.ErrRequestTimeout) {
			s.logger.Warn().
				Str("bgs_id", bgsID).
				Str("request", string(typ)).
				Msg("bot request timed out")
		}
	})

	res := <-ch
	timer.Stop()
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

// startSession asks a bot to open a game session and marks it ready on
// success. A timeout or refusal tears the session down.
func (s *Server) startSession(bc *botConn, bgsID, botID string, cfg protocol.BgsConfig) error {
	frame := protocol.StartGameSession{
		Type:   protocol.TypeStartGameSession,
		BgsID:  bgsID,
		BotID:  botID,
		Config: cfg,
	}
	if _, err := s.bgsRequest(bc, bgsID, bgs.RequestStart, 0, frame); err != nil {
		s.bgs.End(bgsID)
		return err
	}
	if err := s.bgs.MarkReady(bgsID); err != nil {
		s.bgs.End(bgsID)
		return err
	}
	bc.client.TrackBgs(bgsID)
	return nil
}

// applyMove replays one game move into the bot's session and advances the
// session ply on acknowledgement.
func (s *Server) applyMove(bc *botConn, bgsID string, ply int, move string) error {
	frame := protocol.ApplyMove{
		Type:        protocol.TypeApplyMove,
		BgsID:       bgsID,
		ExpectedPly: ply,
		Move:        move,
	}
	res, err := s.bgsRequest(bc, bgsID, bgs.RequestApplyMove, ply, frame)
	if err != nil {
		return err
	}
	s.bgs.UpdateCurrentPly(bgsID, res.Ply+1)
	return nil
}

// evaluate asks the bot for its evaluation at the given ply and appends the
// answer to the session history.
func (s *Server) evaluate(bc *botConn, bgsID string, ply int) (bgs.Entry, error) {
	frame := protocol.EvaluatePosition{
		Type:        protocol.TypeEvaluatePosition,
		BgsID:       bgsID,
		ExpectedPly: ply,
	}
	res, err := s.bgsRequest(bc, bgsID, bgs.RequestEval, ply, frame)
	if err != nil {
		return bgs.Entry{}, err
	}
	entry := bgs.Entry{
		Ply:        res.Ply,
		Evaluation: protocol.ClampEvaluation(res.Evaluation),
		BestMove:   res.BestMove,
	}
	s.bgs.AppendHistory(bgsID, entry)
	return entry, nil
}

// endBotSession tells the owning client a session is over. The store entry is
// already gone; a missing acknowledgement only costs a log line, so the frame
// is sent without a pending slot.
func (s *Server) endBotSession(compositeID, bgsID string) {
	bc, _, ok := s.botConnFor(compositeID)
	if !ok {
		return
	}
	data, err := protocol.Encode(protocol.EndGameSession{
		Type:  protocol.TypeEndGameSession,
		BgsID: bgsID,
	})
	if err == nil {
		_ = bc.send(data)
	}
	bc.client.UntrackBgs(bgsID)
}
