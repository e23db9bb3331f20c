package server

import (
	"context"
	"time"

	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/elo"
	"github.com/nmamano/wallgame-sub002/internal/persist"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
	"github.com/nmamano/wallgame-sub002/internal/registry"
	"github.com/nmamano/wallgame-sub002/internal/session"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

func summaryOf(snap session.Snapshot) protocol.GameSummary {
	players := []string{}
	for _, seat := range []session.Seat{snap.Host, snap.Joiner} {
		if seat.DisplayName != "" {
			players = append(players, seat.DisplayName)
		}
	}
	return protocol.GameSummary{
		GameID:      snap.ID,
		Variant:     snap.Config.Variant,
		BoardWidth:  snap.Config.BoardWidth,
		BoardHeight: snap.Config.BoardHeight,
		Rated:       snap.Config.Rated,
		MatchType:   string(snap.MatchType),
		Status:      string(snap.Status),
		MoveCount:   snap.MoveCount(),
		TimeControl: protocol.TimeControl{
			InitialMs:   snap.Config.TimeControl.InitialMs,
			IncrementMs: snap.Config.TimeControl.IncrementMs,
		},
		Players: players,
	}
}

func stateOf(snap session.Snapshot) protocol.StateMessage {
	var result *protocol.Result
	if snap.Result != nil {
		result = &protocol.Result{Winner: snap.Result.Winner, Reason: snap.Result.Reason}
	}
	var lastMove string
	if len(snap.Moves) > 0 {
		lastMove = snap.Moves[len(snap.Moves)-1]
	}
	return protocol.StateMessage{
		Type:   protocol.TypeState,
		GameID: snap.ID,
		Turn:   int(snap.Turn),
		Status: string(snap.Status),
		Result: result,
		Moves:  snap.Moves,
		Pawns:  snap.Board.Pawns,
		Walls:  snap.Board.Walls,
		ClocksMs: map[string]int64{
			"1": snap.ClockMs[1],
			"2": snap.ClockMs[2],
		},
		LastMove: lastMove,
	}
}

func matchStatusOf(snap session.Snapshot) protocol.MatchStatus {
	seatOf := func(seat session.Seat) protocol.SeatStatus {
		return protocol.SeatStatus{
			PlayerID:    int(seat.PlayerID),
			DisplayName: seat.DisplayName,
			Connected:   seat.Connected,
			Ready:       seat.Ready,
			IsBot:       seat.IsBot(),
			Rating:      seat.Rating,
		}
	}
	var result *protocol.Result
	if snap.Result != nil {
		result = &protocol.Result{Winner: snap.Result.Winner, Reason: snap.Result.Reason}
	}
	return protocol.MatchStatus{
		Type:          protocol.TypeMatchStatus,
		GameID:        snap.ID,
		SeriesID:      snap.SeriesID,
		RematchNumber: snap.RematchNumber,
		Variant:       snap.Config.Variant,
		BoardWidth:    snap.Config.BoardWidth,
		BoardHeight:   snap.Config.BoardHeight,
		Rated:         snap.Config.Rated,
		Status:        string(snap.Status),
		Cancelled:     snap.Cancelled,
		Seats: map[string]protocol.SeatStatus{
			string(session.RoleHost):   seatOf(snap.Host),
			string(session.RoleJoiner): seatOf(snap.Joiner),
		},
		MatchScore: map[string]float64{
			string(session.RoleHost):   snap.MatchScore[session.RoleHost],
			string(session.RoleJoiner): snap.MatchScore[session.RoleJoiner],
		},
		Result: result,
	}
}

// broadcastGame pushes the board state and the session status to everyone on
// the game topic.
func (s *Server) broadcastGame(snap session.Snapshot) {
	topic := broadcast.GameTopic(snap.ID)
	s.hub.Publish(topic, stateOf(snap))
	s.hub.Publish(topic, matchStatusOf(snap))
}

func (s *Server) publishLobby(event string, snap session.Snapshot) {
	s.hub.Publish(broadcast.TopicLobby, protocol.LobbyUpdate{
		Type:  protocol.TypeLobbyUpdate,
		Event: event,
		Game:  summaryOf(snap),
	})
}

func (s *Server) publishLiveUpsert(snap session.Snapshot) {
	game := summaryOf(snap)
	s.hub.Publish(broadcast.TopicLive, protocol.LiveUpdate{
		Type:   protocol.TypeLiveUpdate,
		Action: protocol.LiveUpsert,
		Game:   &game,
	})
}

func (s *Server) publishLiveRemove(gameID string) {
	s.hub.Publish(broadcast.TopicLive, protocol.LiveUpdate{
		Type:   protocol.TypeLiveUpdate,
		Action: protocol.LiveRemove,
		GameID: gameID,
	})
}

// onGameFinished runs the full end-of-game pipeline: broadcast the final
// state, clear open offers, retire the live listing, release the bot seat and
// its session, stop the shared evaluation, and hand the record to
// persistence. Ratings commit asynchronously; a second match-status frame
// follows once they do.
func (s *Server) onGameFinished(snap session.Snapshot) {
	s.broadcastGame(snap)
	s.dropOffers(snap.ID)
	s.publishLiveRemove(snap.ID)

	if bot := snap.BotSeat(); bot != nil {
		if b, ok := s.registry.FindBot(bot.BotCompositeID); ok {
			b.RemoveActiveGame(snap.ID)
		}
		if s.bgs.End(snap.ID) {
			s.endBotSession(bot.BotCompositeID, snap.ID)
		}
	}
	s.teardownSharedEval(snap.ID)
	s.dropBotDrive(snap.ID)

	s.recordFinishedGame(snap)
	if snap.Config.Rated && !snap.Cancelled && snap.Result != nil {
		go s.commitRatings(snap)
	}
}

// recordFinishedGame submits the game document to the async persistence
// queue.
func (s *Server) recordFinishedGame(snap session.Snapshot) {
	if snap.Cancelled || snap.Result == nil {
		return
	}
	players := make([]persist.Player, 0, 2)
	for _, seat := range []session.Seat{snap.Host, snap.Joiner} {
		players = append(players, persist.Player{
			PlayerID:      int(seat.PlayerID),
			DisplayName:   seat.DisplayName,
			AuthUserID:    seat.AuthUserID,
			BotID:         seat.BotCompositeID,
			RatingAtStart: seat.RatingAtStart,
		})
	}
	doc := persist.FinishedGame{
		GameID:        snap.ID,
		SeriesID:      snap.SeriesID,
		RematchNumber: snap.RematchNumber,
		Variant:       snap.Config.Variant,
		BoardWidth:    snap.Config.BoardWidth,
		BoardHeight:   snap.Config.BoardHeight,
		Rated:         snap.Config.Rated,
		MatchType:     string(snap.MatchType),
		Players:       players,
		Winner:        snap.Result.Winner,
		Reason:        snap.Result.Reason,
		Moves:         snap.Moves,
		EndedAt:       s.clock.Now(),
	}
	if snap.StartedAt != nil {
		doc.StartedAt = *snap.StartedAt
	}
	s.queue.Submit("save-game:"+snap.ID, func(ctx context.Context) error {
		return s.recorder.SaveFinishedGame(ctx, doc)
	})
}

// commitRatings recomputes both players' ratings, stores them, and pushes a
// refreshed match-status once the writes have settled. The writes happen
// inline rather than through the queue: the follow-up frame must not race
// them.
func (s *Server) commitRatings(snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type rated struct {
		seat   session.Seat
		stored persist.Rating
	}
	seats := make([]rated, 0, 2)
	for _, seat := range []session.Seat{snap.Host, snap.Joiner} {
		if seat.AuthUserID == "" {
			return
		}
		stored, ok, err := s.recorder.FetchRating(ctx, seat.AuthUserID)
		if err != nil {
			s.logger.Error().Err(err).Str("game_id", snap.ID).Msg("rating fetch failed")
			return
		}
		if !ok {
			stored = persist.Rating{UserID: seat.AuthUserID, Rating: elo.DefaultRating}
		}
		seats = append(seats, rated{seat: seat, stored: stored})
	}

	r1, r2 := elo.ResultsForWinner(snap.Result.Winner)
	results := map[wall.Player]elo.GameResult{1: r1, 2: r2}
	var next [2]int
	for i := range seats {
		me, opp := seats[i], seats[1-i]
		next[i] = s.rating.CalculateNewRating(
			me.stored.Rating, opp.stored.Rating,
			results[me.seat.PlayerID], me.stored.GamesPlayed,
		)
		update := persist.Rating{
			UserID:      me.stored.UserID,
			Rating:      next[i],
			GamesPlayed: me.stored.GamesPlayed + 1,
		}
		if err := s.recorder.SaveRating(ctx, update); err != nil {
			s.logger.Error().Err(err).Str("user_id", update.UserID).Msg("rating save failed")
			return
		}
	}

	// seats is built host-first.
	s.sessions.SetRatings(snap.ID, next[0], next[1])
	if refreshed, err := s.sessions.Get(snap.ID); err == nil {
		s.hub.Publish(broadcast.GameTopic(snap.ID), matchStatusOf(refreshed))
	}
}

// botConnFor resolves a composite bot ID to the socket of its owning client.
func (s *Server) botConnFor(compositeID string) (*botConn, *registry.Bot, bool) {
	clientID, _, ok := registry.SplitCompositeID(compositeID)
	if !ok {
		return nil, nil, false
	}
	client, ok := s.registry.Client(clientID)
	if !ok {
		return nil, nil, false
	}
	bot, ok := s.registry.FindBot(compositeID)
	if !ok {
		return nil, nil, false
	}
	bc, ok := client.Link.(*botConn)
	if !ok {
		return nil, nil, false
	}
	return bc, bot, true
}
