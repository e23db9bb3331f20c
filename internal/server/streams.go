package server

import (
	"net/http"
	"time"

	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/gameid"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
)

// handleLobbySocket streams matchmaking games waiting for an opponent. The
// current list is sent on connect, diffs follow as lobby-update frames.
func (s *Server) handleLobbySocket(w http.ResponseWriter, r *http.Request) {
	s.serveListStream(w, r, "lobby", broadcast.TopicLobby, func(c *wsClient) {
		for _, snap := range s.sessions.ListWaitingMatchmaking() {
			s.sendTo(c, protocol.LobbyUpdate{
				Type:  protocol.TypeLobbyUpdate,
				Event: "created",
				Game:  summaryOf(snap),
			})
		}
	})
}

// handleLiveSocket streams games currently being played.
func (s *Server) handleLiveSocket(w http.ResponseWriter, r *http.Request) {
	s.serveListStream(w, r, "live", broadcast.TopicLive, func(c *wsClient) {
		for _, snap := range s.sessions.ListInProgress() {
			game := summaryOf(snap)
			s.sendTo(c, protocol.LiveUpdate{
				Type:   protocol.TypeLiveUpdate,
				Action: protocol.LiveUpsert,
				Game:   &game,
			})
		}
	})
}

// serveListStream is the shared read-only stream plumbing: subscribe, replay
// the current list, answer pings until the peer goes away.
func (s *Server) serveListStream(w http.ResponseWriter, r *http.Request, kind, topic string, replay func(*wsClient)) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newWSClient(kind+":"+gameid.NewNonce(), conn)
	if !s.trackWS(c) {
		c.Close()
		return
	}
	go c.writePump()
	defer func() {
		s.hub.Unsubscribe(topic, c.ID())
		s.untrackWS(c)
		c.Close()
	}()

	s.hub.Subscribe(topic, c, 0)
	replay(c)

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
		if t, err := protocol.ProbeType(data); err == nil && t == protocol.TypePing {
			s.sendTo(c, protocol.Pong{Type: protocol.TypePong})
		}
	}
}
