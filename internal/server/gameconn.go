package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/gameid"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
	"github.com/nmamano/wallgame-sub002/internal/session"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// offerFrame is a relayed offer or response; only the type matters.
type offerFrame struct {
	Type string `json:"type"`
}

// rematchStarted announces the next game of a series. Players receive their
// fresh credentials privately; spectators only learn the new game ID.
type rematchStarted struct {
	Type        string `json:"type"`
	GameID      string `json:"gameId"`
	Token       string `json:"token,omitempty"`
	SocketToken string `json:"socketToken,omitempty"`
}

// handleGameSocket serves /ws/games/{id}. A valid socketToken binds the
// connection to its seat; everyone else watches as a spectator.
func (s *Server) handleGameSocket(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	socketToken := r.URL.Query().Get("socketToken")

	snap, err := s.sessions.Get(gameID)
	if err != nil {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	var seat *session.Seat
	if socketToken != "" {
		if found, err := s.sessions.SeatBySocketToken(gameID, socketToken); err == nil {
			seat = &found
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSClient("game:"+gameid.NewNonce(), conn)
	if !s.trackWS(c) {
		c.Close()
		return
	}
	go c.writePump()

	playerID := 0
	if seat != nil {
		playerID = int(seat.PlayerID)
	}
	topic := broadcast.GameTopic(gameID)
	s.hub.Subscribe(topic, c, playerID)

	defer func() {
		s.hub.UnsubscribeAll(c.ID())
		s.untrackWS(c)
		c.Close()
		if seat != nil {
			if after, err := s.sessions.SetConnected(gameID, socketToken, false); err == nil {
				s.hub.Publish(topic, matchStatusOf(after))
			}
		} else {
			s.sessions.LeaveSpectator(gameID)
		}
	}()

	if seat != nil {
		if after, err := s.sessions.SetConnected(gameID, socketToken, true); err == nil {
			snap = after
			s.hub.Publish(topic, matchStatusOf(after))
		}
	}

	// The joining socket gets the full picture immediately.
	s.sendTo(c, stateOf(snap))
	s.sendTo(c, matchStatusOf(snap))

	conn.SetReadLimit(protocol.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleGameFrame(c, gameID, seat, data)
	}
}

func (s *Server) sendTo(c *wsClient, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode frame")
		return
	}
	_ = c.Send(data)
}

func (s *Server) sendError(c *wsClient, err error) {
	s.sendTo(c, protocol.NewError(err.Error()))
}

// handleGameFrame dispatches one client frame on the game socket.
func (s *Server) handleGameFrame(c *wsClient, gameID string, seat *session.Seat, data []byte) {
	frameType, err := protocol.ProbeType(data)
	if err != nil {
		s.sendError(c, err)
		return
	}

	if frameType == protocol.TypeChat {
		s.handleChat(c, gameID, seat, data)
		return
	}
	if frameType == protocol.TypePing {
		s.sendTo(c, protocol.Pong{Type: protocol.TypePong})
		return
	}
	if seat == nil {
		s.sendError(c, errors.New("spectators cannot act"))
		return
	}

	switch frameType {
	case protocol.TypeMove:
		var msg protocol.MoveRequest
		if err := protocol.Decode(data, &msg); err != nil {
			s.sendError(c, err)
			return
		}
		s.handlePlayerMove(c, gameID, seat.PlayerID, msg.Move)
	case protocol.TypeResign:
		snap, err := s.sessions.Resign(gameID, seat.PlayerID)
		if err != nil {
			s.sendError(c, err)
			return
		}
		s.onGameFinished(snap)
	case protocol.TypeGiveTime:
		snap, err := s.sessions.GiveTime(gameID, seat.PlayerID)
		if err != nil {
			s.sendError(c, err)
			return
		}
		s.hub.Publish(broadcast.GameTopic(gameID), stateOf(snap))
	case protocol.TypeDrawOffer, protocol.TypeDrawAccept, protocol.TypeDrawReject:
		s.handleDrawFrame(c, gameID, seat.PlayerID, frameType)
	case protocol.TypeTakebackRequest, protocol.TypeTakebackAccept, protocol.TypeTakebackReject:
		s.handleTakebackFrame(c, gameID, seat.PlayerID, frameType)
	case protocol.TypeRematchOffer, protocol.TypeRematchAccept, protocol.TypeRematchReject:
		s.handleRematchFrame(c, gameID, seat, frameType)
	default:
		s.sendError(c, errors.New("unsupported message type "+frameType))
	}
}

// handlePlayerMove plays a human move and drives everything that hangs off
// it: broadcast, live listing, bot reply, shared evaluation.
func (s *Server) handlePlayerMove(c *wsClient, gameID string, player wall.Player, move string) {
	snap, err := s.sessions.ApplyMove(gameID, player, move)
	if err != nil {
		s.sendError(c, err)
		return
	}

	// A played move voids open draw and takeback offers.
	o := s.offerFor(gameID)
	s.offerMu.Lock()
	o.drawFrom, o.takebackFrom = 0, 0
	s.offerMu.Unlock()

	if !snap.Playing {
		s.onGameFinished(snap)
		return
	}
	s.broadcastGame(snap)
	s.publishLiveUpsert(snap)

	if bot := snap.BotSeat(); bot != nil {
		go s.advanceBot(gameID)
	} else {
		go s.sharedEvalMove(gameID)
	}
}

func (s *Server) handleDrawFrame(c *wsClient, gameID string, player wall.Player, frameType string) {
	snap, err := s.sessions.Get(gameID)
	if err != nil {
		s.sendError(c, err)
		return
	}
	topic := broadcast.GameTopic(gameID)
	o := s.offerFor(gameID)

	switch frameType {
	case protocol.TypeDrawOffer:
		// Bots never accept draws; reject on their behalf.
		if snap.BotSeat() != nil {
			s.sendTo(c, offerFrame{Type: protocol.TypeDrawRejected})
			return
		}
		s.offerMu.Lock()
		o.drawFrom = player
		s.offerMu.Unlock()
		s.hub.PublishToPlayer(topic, int(player.Other()), offerFrame{Type: protocol.TypeDrawOffer})
	case protocol.TypeDrawAccept:
		s.offerMu.Lock()
		from := o.drawFrom
		o.drawFrom = 0
		s.offerMu.Unlock()
		if from == 0 || from == player {
			s.sendError(c, errors.New("no draw offer to accept"))
			return
		}
		finished, err := s.sessions.AgreeDraw(gameID)
		if err != nil {
			s.sendError(c, err)
			return
		}
		s.onGameFinished(finished)
	case protocol.TypeDrawReject:
		s.offerMu.Lock()
		from := o.drawFrom
		o.drawFrom = 0
		s.offerMu.Unlock()
		if from != 0 && from != player {
			s.hub.PublishToPlayer(topic, int(from), offerFrame{Type: protocol.TypeDrawRejected})
		}
	}
}

func (s *Server) handleTakebackFrame(c *wsClient, gameID string, player wall.Player, frameType string) {
	snap, err := s.sessions.Get(gameID)
	if err != nil {
		s.sendError(c, err)
		return
	}
	topic := broadcast.GameTopic(gameID)
	o := s.offerFor(gameID)

	switch frameType {
	case protocol.TypeTakebackRequest:
		if snap.BotSeat() != nil {
			s.sendTo(c, offerFrame{Type: protocol.TypeTakebackRejected})
			return
		}
		s.offerMu.Lock()
		o.takebackFrom = player
		s.offerMu.Unlock()
		s.hub.PublishToPlayer(topic, int(player.Other()), offerFrame{Type: protocol.TypeTakebackOffer})
	case protocol.TypeTakebackAccept:
		s.offerMu.Lock()
		from := o.takebackFrom
		o.takebackFrom = 0
		s.offerMu.Unlock()
		if from == 0 || from == player {
			s.sendError(c, errors.New("no takeback request to accept"))
			return
		}
		after, err := s.sessions.Takeback(gameID)
		if err != nil {
			s.sendError(c, err)
			return
		}
		// The shared eval session's history no longer matches the game; the
		// next eval subscriber re-initializes from scratch.
		s.teardownSharedEval(gameID)
		s.broadcastGame(after)
		s.publishLiveUpsert(after)
	case protocol.TypeTakebackReject:
		s.offerMu.Lock()
		from := o.takebackFrom
		o.takebackFrom = 0
		s.offerMu.Unlock()
		if from != 0 && from != player {
			s.hub.PublishToPlayer(topic, int(from), offerFrame{Type: protocol.TypeTakebackRejected})
		}
	}
}

func (s *Server) handleRematchFrame(c *wsClient, gameID string, seat *session.Seat, frameType string) {
	snap, err := s.sessions.Get(gameID)
	if err != nil {
		s.sendError(c, err)
		return
	}
	topic := broadcast.GameTopic(gameID)
	o := s.offerFor(gameID)

	switch frameType {
	case protocol.TypeRematchOffer:
		// Bot opponents always accept.
		if snap.BotSeat() != nil {
			s.startRematch(c, gameID, snap)
			return
		}
		s.offerMu.Lock()
		o.rematchFrom = seat.PlayerID
		s.offerMu.Unlock()
		s.hub.PublishToPlayer(topic, int(seat.PlayerID.Other()), offerFrame{Type: protocol.TypeRematchOffer})
	case protocol.TypeRematchAccept:
		s.offerMu.Lock()
		from := o.rematchFrom
		o.rematchFrom = 0
		s.offerMu.Unlock()
		if from == 0 || from == seat.PlayerID {
			s.sendError(c, errors.New("no rematch offer to accept"))
			return
		}
		s.startRematch(c, gameID, snap)
	case protocol.TypeRematchReject:
		s.offerMu.Lock()
		from := o.rematchFrom
		o.rematchFrom = 0
		s.offerMu.Unlock()
		if from != 0 && from != seat.PlayerID {
			s.hub.PublishToPlayer(topic, int(from), offerFrame{Type: protocol.TypeRematchRejected})
		}
	}
}

// startRematch creates the next game of the series and hands each seat its
// fresh credentials.
func (s *Server) startRematch(c *wsClient, previousID string, prev session.Snapshot) {
	if _, err := s.launchRematch(previousID, prev); err != nil {
		s.sendError(c, err)
	}
}

// launchRematch is the shared rematch path behind the socket and REST
// surfaces: it creates the next game, notifies the previous game's topic and
// reseats a bot opponent.
func (s *Server) launchRematch(previousID string, prev session.Snapshot) (session.Snapshot, error) {
	created, err := s.sessions.CreateRematch(previousID)
	if err != nil {
		return session.Snapshot{}, err
	}
	next := created.Snapshot
	topic := broadcast.GameTopic(previousID)

	for _, role := range []session.Role{session.RoleHost, session.RoleJoiner} {
		seat := next.SeatByRole(role)
		if seat.IsBot() {
			continue
		}
		token, socketToken, err := s.sessions.RematchTokens(next.ID, role)
		if err != nil {
			continue
		}
		s.hub.PublishToPlayer(topic, int(prev.SeatByRole(role).PlayerID), rematchStarted{
			Type:        protocol.TypeRematchStarted,
			GameID:      next.ID,
			Token:       token,
			SocketToken: socketToken,
		})
	}
	s.hub.PublishToPlayer(topic, 0, rematchStarted{
		Type:   protocol.TypeRematchStarted,
		GameID: next.ID,
	})

	if bot := next.BotSeat(); bot != nil {
		if b, ok := s.registry.FindBot(bot.BotCompositeID); ok {
			if err := s.startBotGame(next, b); err != nil {
				s.logger.Warn().Err(err).Str("game_id", next.ID).Msg("bot rematch start failed")
			}
		}
	}
	return next, nil
}

// handleChat relays chat to everyone on the game. Anonymous spectators get a
// stable guest handle per game.
func (s *Server) handleChat(c *wsClient, gameID string, seat *session.Seat, data []byte) {
	var msg protocol.ChatMessage
	if err := protocol.Decode(data, &msg); err != nil || msg.Text == "" {
		return
	}
	if seat != nil {
		msg.From = seat.DisplayName
	} else {
		n, err := s.sessions.ChatGuestIndex(gameID, c.ID())
		if err != nil {
			return
		}
		msg.From = guestName(n)
	}
	s.hub.Publish(broadcast.GameTopic(gameID), msg)
}

func guestName(n int) string {
	return "Guest " + strconv.Itoa(n)
}
