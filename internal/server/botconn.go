package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/bgs"
	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
	"github.com/nmamano/wallgame-sub002/internal/registry"
)

// serverName and serverVersion identify this server in the attached frame.
const (
	serverName    = "wallgame-server"
	serverVersion = "1.0.0"
)

// botConn is one attached bot client socket.
type botConn struct {
	server   *Server
	conn     *websocket.Conn
	clientID string
	client   *registry.Client
	logger   zerolog.Logger

	sendCh    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// send queues one frame for the bot. Bots that cannot drain their queue are
// disconnected like any other slow subscriber.
func (c *botConn) send(data []byte) error {
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		c.close(websocket.ClosePolicyViolation, "send queue overflow")
		return errSendQueueFull
	}
}

func (c *botConn) sendFrame(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return c.send(data)
}

// close shuts the socket down once, with a best-effort close frame.
func (c *botConn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
		close(c.done)
		_ = c.conn.Close()
	})
}

// CloseReplaced implements registry.Link: a newer attach under the same
// clientId displaced this socket.
func (c *botConn) CloseReplaced() {
	c.close(websocket.CloseNormalClosure, "replaced by a newer connection")
}

func (c *botConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleBotSocket serves /ws/custom-bot: attach validation, registration,
// then the response-routing read loop.
func (s *Server) handleBotSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("bot socket upgrade failed")
		return
	}

	c := &botConn{
		server: s,
		conn:   conn,
		logger: s.logger.With().Str("socket", "bot").Logger(),
		sendCh: make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}

	if !s.trackBot(c) {
		c.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrackBot(c)

	conn.SetReadLimit(protocol.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()

	if !s.attachBot(c) {
		return
	}
	defer s.detachBot(c)

	c.readLoop()
}

// attachBot runs the attach handshake. Checks run in a fixed order and the
// first failure wins; any failure sends attach-rejected and closes the
// socket.
func (s *Server) attachBot(c *botConn) bool {
	reject := func(code, message string) bool {
		_ = c.sendFrame(protocol.NewAttachRejected(code, message))
		c.close(websocket.ClosePolicyViolation, code)
		return false
	}

	var attach protocol.Attach
	invalid := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.close(websocket.CloseAbnormalClosure, "read failed")
			return false
		}
		frameType, err := protocol.ProbeType(data)
		if err != nil || frameType != protocol.TypeAttach {
			c.logger.Debug().Str("frame", frameType).Msg("frame before attach ignored")
			invalid++
			if invalid >= protocol.InvalidMessageThreshold {
				c.close(websocket.ClosePolicyViolation, "too many invalid messages")
				return false
			}
			continue
		}
		if err := protocol.Decode(data, &attach); err != nil {
			return reject(protocol.CodeInvalidMessage, "malformed attach frame")
		}
		break
	}

	if attach.ProtocolVersion != protocol.Version {
		return reject(protocol.CodeProtocolUnsupported,
			fmt.Sprintf("server speaks protocol %d", protocol.Version))
	}
	if attach.ClientID == "" || attach.Client.Name == "" || attach.Client.Version == "" {
		return reject(protocol.CodeInvalidMessage, "attach missing clientId or client info")
	}
	if len(attach.Bots) == 0 {
		return reject(protocol.CodeNoBots, "attach declares no bots")
	}
	seen := make(map[string]struct{}, len(attach.Bots))
	for _, cfg := range attach.Bots {
		if err := cfg.Validate(); err != nil {
			return reject(protocol.CodeInvalidBotConfig, err.Error())
		}
		if _, dup := seen[cfg.BotID]; dup {
			return reject(protocol.CodeDuplicateBotID, fmt.Sprintf("botId %q declared twice", cfg.BotID))
		}
		seen[cfg.BotID] = struct{}{}
	}
	for _, cfg := range attach.Bots {
		if !s.registry.ValidOfficialToken(cfg.OfficialToken) {
			return reject(protocol.CodeInvalidToken, fmt.Sprintf("bot %q official token rejected", cfg.BotID))
		}
	}

	replaced, err := s.registry.Register(attach.ClientID, attach.Client, attach.Bots, c)
	if err != nil {
		return reject(protocol.CodeTooManyClients, err.Error())
	}
	if replaced != nil {
		replaced.Link.CloseReplaced()
	}

	c.clientID = attach.ClientID
	client, _ := s.registry.Client(attach.ClientID)
	c.client = client
	c.logger = c.logger.With().Str("client_id", attach.ClientID).Logger()

	return c.sendFrame(protocol.Attached{
		Type:            protocol.TypeAttached,
		ProtocolVersion: protocol.Version,
		ServerTime:      s.clock.Now(),
		Server:          protocol.ServerInfo{Name: serverName, Version: serverVersion},
		Limits:          protocol.DefaultLimits(),
	}) == nil
}

// readLoop routes bot responses to their pending requests until the socket
// dies.
func (c *botConn) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.close(websocket.CloseAbnormalClosure, "read failed")
			return
		}
		if !c.handleFrame(data) {
			return
		}
	}
}

// handleFrame processes one inbound frame. Returns false when the socket
// must close.
func (c *botConn) handleFrame(data []byte) bool {
	frameType, err := protocol.ProbeType(data)
	if err != nil {
		return c.countInvalid("unparseable frame")
	}

	switch frameType {
	case protocol.TypeGameSessionStarted:
		var msg protocol.GameSessionStarted
		if protocol.Decode(data, &msg) != nil {
			return c.countInvalid("malformed game_session_started")
		}
		return c.resolve(msg.BgsID, bgs.RequestStart, bgs.Result{
			Err: failure(msg.Success, msg.Error, "bot refused to start session"),
		})
	case protocol.TypeGameSessionEnded:
		// The store entry is already gone when this arrives; nothing to
		// resolve, nothing to count.
		return true
	case protocol.TypeEvaluateResponse:
		var msg protocol.EvaluateResponse
		if protocol.Decode(data, &msg) != nil {
			return c.countInvalid("malformed evaluate_response")
		}
		return c.resolve(msg.BgsID, bgs.RequestEval, bgs.Result{
			Ply:        msg.Ply,
			BestMove:   msg.BestMove,
			Evaluation: msg.Evaluation,
			Err:        failure(msg.Success, msg.Error, "bot evaluation failed"),
		})
	case protocol.TypeMoveApplied:
		var msg protocol.MoveApplied
		if protocol.Decode(data, &msg) != nil {
			return c.countInvalid("malformed move_applied")
		}
		return c.resolve(msg.BgsID, bgs.RequestApplyMove, bgs.Result{
			Ply: msg.Ply,
			Err: failure(msg.Success, msg.Error, "bot rejected move"),
		})
	default:
		return c.countInvalid("unexpected frame type " + frameType)
	}
}

// resolve delivers a bot response to the session's pending request, after
// checking the session belongs to this client and the response answers the
// request actually in flight.
func (c *botConn) resolve(bgsID string, want bgs.RequestType, res bgs.Result) bool {
	info, ok := c.server.bgs.Get(bgsID)
	if !ok {
		// Late response to an ended session; harmless.
		return true
	}
	owner, _, _ := registry.SplitCompositeID(info.BotCompositeID)
	if owner != c.clientID {
		return c.countInvalid("response for a session owned by another client")
	}
	typ, expectedPly, pending := c.server.bgs.PendingType(bgsID)
	if !pending || typ != want {
		// Late or duplicate answers happen on timeouts; discard, don't
		// penalize.
		c.logger.Debug().Str("bgs_id", bgsID).Msg("unmatched bot response discarded")
		return true
	}
	if res.Err == nil && res.Ply != expectedPly {
		c.logger.Warn().
			Str("bgs_id", bgsID).
			Int("ply", res.Ply).
			Int("expected", expectedPly).
			Msg("bot answered for an unexpected ply")
	}
	c.server.bgs.Resolve(bgsID, res)
	return true
}

// countInvalid bumps the per-client anomaly counter and closes the socket at
// the threshold.
func (c *botConn) countInvalid(why string) bool {
	c.logger.Debug().Str("reason", why).Msg("invalid bot frame")
	if c.client == nil {
		return true
	}
	if c.client.CountInvalidMessage() >= protocol.InvalidMessageThreshold {
		c.close(websocket.ClosePolicyViolation, "too many invalid messages")
		return false
	}
	return true
}

// failure converts a wire ack into an error, nil on success.
func failure(success bool, botError, fallback string) error {
	if success {
		return nil
	}
	if botError != "" {
		return errors.New(botError)
	}
	return errors.New(fallback)
}

// detachBot tears down everything a disconnected client owned: its bots
// resign their games, its sessions end with a disconnect error, and its eval
// streams report the loss.
func (s *Server) detachBot(c *botConn) {
	if c.clientID == "" {
		return
	}
	// A newer attach under the same clientId owns the registry entry now;
	// only the current holder may unregister.
	if current, ok := s.registry.Client(c.clientID); !ok || current != c.client {
		return
	}
	bots := s.registry.Unregister(c.clientID)

	for _, bgsID := range c.client.BgsIDs() {
		s.bgs.Reject(bgsID, bgs.ErrBotDisconnected)
	}
	for _, bot := range bots {
		for _, snap := range s.sessions.BotGames(bot.CompositeID) {
			seat := snap.BotSeat()
			if seat == nil {
				continue
			}
			finished, err := s.sessions.Resign(snap.ID, seat.PlayerID)
			if err == nil {
				s.onGameFinished(finished)
			}
		}
		for _, bgsID := range s.bgs.EndAllForBot(bot.CompositeID) {
			info := protocol.EvalError{
				Type:    protocol.TypeEvalError,
				Code:    protocol.CodeInternalError,
				Message: "evaluation bot disconnected",
			}
			s.hub.Publish(broadcast.EvalTopic(bgsGameID(bgsID)), info)
			s.teardownSharedEval(bgsGameID(bgsID))
		}
	}
	c.logger.Info().Msg("bot client torn down")
}

// bgsGameID strips the replay nonce from a session ID. Live sessions use the
// game ID directly; finished-game replays append "_<nonce>".
func bgsGameID(bgsID string) string {
	for i := len(bgsID) - 1; i >= 0; i-- {
		if bgsID[i] == '_' {
			return bgsID[:i]
		}
	}
	return bgsID
}

var _ registry.Link = (*botConn)(nil)
