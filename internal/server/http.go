package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/elo"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
	"github.com/nmamano/wallgame-sub002/internal/session"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

type createGameRequest struct {
	Variant       string               `json:"variant"`
	BoardWidth    int                  `json:"boardWidth"`
	BoardHeight   int                  `json:"boardHeight"`
	TimeControl   protocol.TimeControl `json:"timeControl"`
	Rated         bool                 `json:"rated"`
	MatchType     string               `json:"matchType"`
	DisplayName   string               `json:"displayName"`
	HostIsPlayer1 *bool                `json:"hostIsPlayer1,omitempty"`
}

type seatCredentials struct {
	GameID      string `json:"gameId"`
	PlayerID    int    `json:"playerId"`
	Token       string `json:"token"`
	SocketToken string `json:"socketToken"`
}

func (req *createGameRequest) sessionConfig() (session.Config, error) {
	if _, err := wall.ParseVariant(req.Variant); err != nil {
		return session.Config{}, err
	}
	if req.BoardWidth < 2 || req.BoardHeight < 2 {
		return session.Config{}, errors.New("board must be at least 2x2")
	}
	if req.TimeControl.InitialMs <= 0 {
		return session.Config{}, errors.New("time control must grant initial time")
	}
	return session.Config{
		Variant:     req.Variant,
		BoardWidth:  req.BoardWidth,
		BoardHeight: req.BoardHeight,
		TimeControl: session.TimeControl{
			InitialMs:   req.TimeControl.InitialMs,
			IncrementMs: req.TimeControl.IncrementMs,
		},
		Rated: req.Rated,
	}, nil
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	identity := s.verifier.FromRequest(r)
	if req.DisplayName == "" {
		req.DisplayName = identity.DisplayName
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}
	if req.Rated && identity.UserID == "" {
		writeError(w, http.StatusForbidden, "rated games require authentication")
		return
	}
	cfg, err := req.sessionConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	matchType := session.MatchFriend
	if req.MatchType == string(session.MatchMatchmaking) {
		matchType = session.MatchMatchmaking
	}

	created, err := s.sessions.CreateSession(cfg, matchType, session.Identity{
		DisplayName: req.DisplayName,
		AuthUserID:  identity.UserID,
	}, session.CreateOptions{HostIsPlayer1: req.HostIsPlayer1})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if matchType == session.MatchMatchmaking {
		s.publishLobby("created", created.Snapshot)
	}

	writeJSON(w, http.StatusCreated, seatCredentials{
		GameID:      created.Snapshot.ID,
		PlayerID:    int(created.Snapshot.Host.PlayerID),
		Token:       created.Token,
		SocketToken: created.SocketToken,
	})
}

func (s *Server) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	var req struct {
		DisplayName string `json:"displayName"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	identity := s.verifier.FromRequest(r)
	if req.DisplayName == "" {
		req.DisplayName = identity.DisplayName
	}

	joined, err := s.sessions.JoinSession(gameID, session.Identity{
		DisplayName: req.DisplayName,
		AuthUserID:  identity.UserID,
	})
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "game not found")
		return
	case errors.Is(err, session.ErrCancelled):
		writeError(w, http.StatusGone, "game was cancelled")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if joined.Kind == session.JoinedAsPlayer {
		snap := joined.Snapshot
		s.hub.Publish(broadcast.GameTopic(gameID), matchStatusOf(snap))
		if snap.MatchType == session.MatchMatchmaking && snap.Status == session.StatusReady {
			s.publishLobby("filled", snap)
		}
		if snap.Config.Rated {
			go s.loadStartingRatings(snap)
		}
	}

	writeJSON(w, http.StatusOK, struct {
		Kind string `json:"kind"`
		seatCredentials
		Game protocol.GameSummary `json:"game"`
	}{
		Kind: string(joined.Kind),
		seatCredentials: seatCredentials{
			GameID:      gameID,
			PlayerID:    int(joined.PlayerID),
			Token:       joined.Token,
			SocketToken: joined.SocketToken,
		},
		Game: summaryOf(joined.Snapshot),
	})
}

// loadStartingRatings pins both seats' current ratings to the session so the
// match-status frames of a rated game carry them.
func (s *Server) loadStartingRatings(snap session.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ratingOf := func(userID string) int {
		if userID == "" {
			return 0
		}
		stored, ok, err := s.recorder.FetchRating(ctx, userID)
		if err != nil || !ok {
			return elo.DefaultRating
		}
		return stored.Rating
	}
	s.sessions.SetRatingsAtStart(snap.ID, ratingOf(snap.Host.AuthUserID), ratingOf(snap.Joiner.AuthUserID))
	if refreshed, err := s.sessions.Get(snap.ID); err == nil {
		s.hub.Publish(broadcast.GameTopic(snap.ID), matchStatusOf(refreshed))
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.sessions.SetReady(gameID, req.Token)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.hub.Publish(broadcast.GameTopic(gameID), matchStatusOf(snap))
	if snap.Status == session.StatusInProgress {
		s.publishLiveUpsert(snap)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(snap.Status)})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	snap, err := s.sessions.Abort(gameID, req.Token)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	s.hub.Publish(broadcast.GameTopic(gameID), matchStatusOf(snap))
	if snap.MatchType == session.MatchMatchmaking {
		s.publishLobby("aborted", snap)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(snap.Status)})
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	identity := s.verifier.FromRequest(r)
	access, err := s.sessions.ResolveAccess(gameID, r.URL.Query().Get("token"), identity.UserID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	resp := struct {
		Access        string                `json:"access"`
		WaitingReason string                `json:"waitingReason,omitempty"`
		PlayerID      int                   `json:"playerId,omitempty"`
		Token         string                `json:"token,omitempty"`
		SocketToken   string                `json:"socketToken,omitempty"`
		Game          protocol.GameSummary  `json:"game"`
		State         protocol.StateMessage `json:"state"`
		Match         protocol.MatchStatus  `json:"match"`
	}{
		Access:        string(access.Kind),
		WaitingReason: access.WaitingReason,
		PlayerID:      int(access.PlayerID),
		Token:         access.Token,
		SocketToken:   access.SocketToken,
		Game:          summaryOf(access.Snapshot),
		State:         stateOf(access.Snapshot),
		Match:         matchStatusOf(access.Snapshot),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	gameID := mux.Vars(r)["id"]
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	prev, err := s.sessions.Get(gameID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	seat := seatByToken(prev, req.Token)
	if seat == nil {
		writeError(w, http.StatusForbidden, "token does not own a seat")
		return
	}

	next, err := s.launchRematch(gameID, prev)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	token, socketToken, err := s.sessions.RematchTokens(next.ID, seat.Role)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	role := seat.Role
	writeJSON(w, http.StatusCreated, seatCredentials{
		GameID:      next.ID,
		PlayerID:    int(next.SeatByRole(role).PlayerID),
		Token:       token,
		SocketToken: socketToken,
	})
}

func seatByToken(snap session.Snapshot, token string) *session.Seat {
	if token == "" {
		return nil
	}
	if snap.Host.Token == token {
		return &snap.Host
	}
	if snap.Joiner.Token == token {
		return &snap.Joiner
	}
	return nil
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "game not found")
	case errors.Is(err, session.ErrCancelled):
		writeError(w, http.StatusGone, "game was cancelled")
	case errors.Is(err, session.ErrRematchExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotFinished),
		errors.Is(err, session.ErrIllegalAction),
		errors.Is(err, session.ErrAlreadyFinished),
		errors.Is(err, session.ErrWrongTurn):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type botListing struct {
	BotID    string                             `json:"botId"`
	Name     string                             `json:"name"`
	Official bool                               `json:"official"`
	Variants map[string]protocol.VariantSupport `json:"variants"`
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	variant := q.Get("variant")
	if variant == "" {
		variant = string(wall.VariantStandard)
	}
	width, _ := strconv.Atoi(q.Get("boardWidth"))
	height, _ := strconv.Atoi(q.Get("boardHeight"))
	identity := s.verifier.FromRequest(r)

	bots := s.registry.ListMatching(variant, width, height, identity.DisplayName)
	out := make([]botListing, 0, len(bots))
	for _, b := range bots {
		out = append(out, botListing{
			BotID:    b.CompositeID,
			Name:     b.Name,
			Official: b.IsOfficial,
			Variants: b.Variants,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bots": out})
}

func (s *Server) handleRecommendedBots(w http.ResponseWriter, r *http.Request) {
	variant := r.URL.Query().Get("variant")
	if variant == "" {
		variant = string(wall.VariantStandard)
	}
	identity := s.verifier.FromRequest(r)

	recs := s.registry.ListRecommended(variant, identity.DisplayName)
	type recommended struct {
		BotID       string `json:"botId"`
		Name        string `json:"name"`
		Official    bool   `json:"official"`
		Variant     string `json:"variant"`
		BoardWidth  int    `json:"boardWidth"`
		BoardHeight int    `json:"boardHeight"`
	}
	out := make([]recommended, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recommended{
			BotID:       rec.Bot.CompositeID,
			Name:        rec.Bot.Name,
			Official:    rec.Bot.IsOfficial,
			Variant:     rec.Variant,
			BoardWidth:  rec.BoardWidth,
			BoardHeight: rec.BoardHeight,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommended": out})
}

type playBotRequest struct {
	BotID         string               `json:"botId"`
	Variant       string               `json:"variant"`
	BoardWidth    int                  `json:"boardWidth"`
	BoardHeight   int                  `json:"boardHeight"`
	TimeControl   protocol.TimeControl `json:"timeControl"`
	DisplayName   string               `json:"displayName"`
	HostIsPlayer1 *bool                `json:"hostIsPlayer1,omitempty"`
}

// handlePlayBot creates a game with a bot in the joiner seat and kicks the
// bot's session off. Bot games are never rated.
func (s *Server) handlePlayBot(w http.ResponseWriter, r *http.Request) {
	var req playBotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	identity := s.verifier.FromRequest(r)
	if req.DisplayName == "" {
		req.DisplayName = identity.DisplayName
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "displayName is required")
		return
	}

	bot, ok := s.registry.FindBot(req.BotID)
	if !ok {
		writeError(w, http.StatusNotFound, "bot not available")
		return
	}
	if !bot.Supports(req.Variant, req.BoardWidth, req.BoardHeight) {
		writeError(w, http.StatusConflict, "bot does not support this game")
		return
	}

	cfgReq := createGameRequest{
		Variant:     req.Variant,
		BoardWidth:  req.BoardWidth,
		BoardHeight: req.BoardHeight,
		TimeControl: req.TimeControl,
	}
	cfg, err := cfgReq.sessionConfig()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.sessions.CreateSession(cfg, session.MatchFriend, session.Identity{
		DisplayName: req.DisplayName,
		AuthUserID:  identity.UserID,
	}, session.CreateOptions{
		HostIsPlayer1: req.HostIsPlayer1,
		JoinerBot: &session.BotSeat{
			CompositeID: bot.CompositeID,
			DisplayName: bot.Name,
			Appearance:  bot.Appearance,
		},
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	gameID := created.Snapshot.ID

	snap, err := s.sessions.SetReady(gameID, created.Token)
	if err != nil {
		s.sessions.Remove(gameID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.startBotGame(snap, bot); err != nil {
		s.sessions.Remove(gameID)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.publishLiveUpsert(snap)

	writeJSON(w, http.StatusCreated, seatCredentials{
		GameID:      gameID,
		PlayerID:    int(snap.Host.PlayerID),
		Token:       created.Token,
		SocketToken: created.SocketToken,
	})
}
