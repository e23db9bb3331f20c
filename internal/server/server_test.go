package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/auth"
	"github.com/nmamano/wallgame-sub002/internal/config"
	"github.com/nmamano/wallgame-sub002/internal/persist"
	"github.com/nmamano/wallgame-sub002/internal/protocol"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

const testOfficialSecret = "official-secret"

// scriptEngine accepts any notation so tests can drive games with symbolic
// moves. The literal move "win" ends the game in the mover's favour.
type scriptEngine struct{}

func (scriptEngine) NewPosition(variant string, width, height int) (*wall.Board, error) {
	v, err := wall.ParseVariant(variant)
	if err != nil {
		return nil, err
	}
	return wall.New(v, width, height)
}

func (scriptEngine) Apply(b *wall.Board, player wall.Player, notation string) (*wall.Board, wall.Winner, error) {
	if notation == "win" {
		return b, wall.Winner(player), nil
	}
	return b, wall.Undecided, nil
}

func newTestServer(t *testing.T, mutate func(*config.Config), extra ...Option) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.OfficialBotSecret = testOfficialSecret
	if mutate != nil {
		mutate(cfg)
	}
	opts := append([]Option{WithEngine(scriptEngine{}), WithSeed(1)}, extra...)
	s := New(cfg, zerolog.New(io.Discard), opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, path), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readFrame reads the next frame as a generic map, failing after 5 seconds.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal frame %q: %v", data, err)
	}
	return m
}

// readFrameOfType skips frames until one with the wanted type arrives.
func readFrameOfType(t *testing.T, conn *websocket.Conn, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m := readFrame(t, conn)
		if m["type"] == want {
			return m
		}
	}
	t.Fatalf("no %q frame arrived", want)
	return nil
}

func defaultVariants() map[string]protocol.VariantSupport {
	return map[string]protocol.VariantSupport{
		"standard": {
			BoardWidth:  protocol.Range{Min: 2, Max: 12},
			BoardHeight: protocol.Range{Min: 2, Max: 12},
			Recommended: []protocol.BoardSize{{BoardWidth: 8, BoardHeight: 8}, {BoardWidth: 4, BoardHeight: 4}},
		},
	}
}

func attachFrame(clientID string, bots ...protocol.BotConfig) protocol.Attach {
	return protocol.Attach{
		Type:            protocol.TypeAttach,
		ProtocolVersion: protocol.Version,
		ClientID:        clientID,
		Bots:            bots,
		Client:          protocol.ClientInfo{Name: "test-bot", Version: "0.1"},
	}
}

// fakeBot is a scripted bot client: it attaches and then answers every
// request the server sends. The delay knobs simulate a slow engine.
type fakeBot struct {
	t          *testing.T
	conn       *websocket.Conn
	bestMove   func(ply int) string
	evalDelay  func(ply int) time.Duration
	startDelay time.Duration

	starts atomic.Int32
	evals  atomic.Int32
	ends   atomic.Int32
}

func attachBotClient(t *testing.T, ts *httptest.Server, clientID string, bots ...protocol.BotConfig) *fakeBot {
	t.Helper()
	conn := dial(t, ts, "/ws/custom-bot")
	sendFrame(t, conn, attachFrame(clientID, bots...))
	if m := readFrame(t, conn); m["type"] != protocol.TypeAttached {
		t.Fatalf("attach failed: %v", m)
	}
	fb := &fakeBot{t: t, conn: conn, bestMove: func(int) string { return "---" }}
	go fb.serve()
	return fb
}

func (fb *fakeBot) serve() {
	for {
		_ = fb.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, data, err := fb.conn.ReadMessage()
		if err != nil {
			return
		}
		frameType, err := protocol.ProbeType(data)
		if err != nil {
			continue
		}
		switch frameType {
		case protocol.TypeStartGameSession:
			var msg protocol.StartGameSession
			_ = json.Unmarshal(data, &msg)
			fb.starts.Add(1)
			if fb.startDelay > 0 {
				time.Sleep(fb.startDelay)
			}
			fb.reply(protocol.GameSessionStarted{
				Type: protocol.TypeGameSessionStarted, BgsID: msg.BgsID, Success: true,
			})
		case protocol.TypeEvaluatePosition:
			var msg protocol.EvaluatePosition
			_ = json.Unmarshal(data, &msg)
			fb.evals.Add(1)
			if fb.evalDelay != nil {
				time.Sleep(fb.evalDelay(msg.ExpectedPly))
			}
			fb.reply(protocol.EvaluateResponse{
				Type:       protocol.TypeEvaluateResponse,
				BgsID:      msg.BgsID,
				Ply:        msg.ExpectedPly,
				BestMove:   fb.bestMove(msg.ExpectedPly),
				Evaluation: 0.25,
				Success:    true,
			})
		case protocol.TypeApplyMove:
			var msg protocol.ApplyMove
			_ = json.Unmarshal(data, &msg)
			fb.reply(protocol.MoveApplied{
				Type: protocol.TypeMoveApplied, BgsID: msg.BgsID, Ply: msg.ExpectedPly, Success: true,
			})
		case protocol.TypeEndGameSession:
			var msg protocol.EndGameSession
			_ = json.Unmarshal(data, &msg)
			fb.ends.Add(1)
			fb.reply(protocol.GameSessionEnded{
				Type: protocol.TypeGameSessionEnded, BgsID: msg.BgsID, Success: true,
			})
		}
	}
}

func (fb *fakeBot) reply(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = fb.conn.WriteMessage(websocket.TextMessage, data)
}

// memRecorder is an in-memory persist.Recorder for tests that assert on
// stored documents.
type memRecorder struct {
	mu      sync.Mutex
	ratings map[string]persist.Rating
	games   []persist.FinishedGame
}

func newMemRecorder() *memRecorder {
	return &memRecorder{ratings: make(map[string]persist.Rating)}
}

func (m *memRecorder) SaveFinishedGame(_ context.Context, game persist.FinishedGame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games = append(m.games, game)
	return nil
}

func (m *memRecorder) SaveRating(_ context.Context, rating persist.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ratings[rating.UserID] = rating
	return nil
}

func (m *memRecorder) FetchRating(_ context.Context, userID string) (persist.Rating, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[userID]
	return r, ok, nil
}

func (m *memRecorder) rating(userID string) (persist.Rating, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[userID]
	return r, ok
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of %s: %v", path, err)
		}
	}
	return resp
}

func TestAttachValidationOrder(t *testing.T) {
	valid := protocol.BotConfig{BotID: "b1", Name: "Bot One", Variants: defaultVariants()}

	cases := []struct {
		name     string
		frame    protocol.Attach
		wantCode string
	}{
		{
			name: "wrong protocol version",
			frame: func() protocol.Attach {
				f := attachFrame("c1", valid)
				f.ProtocolVersion = 2
				return f
			}(),
			wantCode: protocol.CodeProtocolUnsupported,
		},
		{
			name: "missing client id",
			frame: func() protocol.Attach {
				f := attachFrame("", valid)
				return f
			}(),
			wantCode: protocol.CodeInvalidMessage,
		},
		{
			name: "missing client version",
			frame: func() protocol.Attach {
				f := attachFrame("c1", valid)
				f.Client.Version = ""
				return f
			}(),
			wantCode: protocol.CodeInvalidMessage,
		},
		{
			name:     "no bots",
			frame:    attachFrame("c1"),
			wantCode: protocol.CodeNoBots,
		},
		{
			name:     "invalid bot config",
			frame:    attachFrame("c1", protocol.BotConfig{BotID: "b1", Variants: defaultVariants()}),
			wantCode: protocol.CodeInvalidBotConfig,
		},
		{
			name:     "duplicate bot id",
			frame:    attachFrame("c1", valid, valid),
			wantCode: protocol.CodeDuplicateBotID,
		},
		{
			name: "bad official token",
			frame: attachFrame("c1", protocol.BotConfig{
				BotID: "b1", Name: "Bot One", OfficialToken: "wrong", Variants: defaultVariants(),
			}),
			wantCode: protocol.CodeInvalidToken,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ts := newTestServer(t, nil)
			conn := dial(t, ts, "/ws/custom-bot")
			sendFrame(t, conn, tc.frame)
			m := readFrame(t, conn)
			if m["type"] != protocol.TypeAttachRejected || m["code"] != tc.wantCode {
				t.Errorf("got %v, want attach-rejected %s", m, tc.wantCode)
			}
		})
	}
}

func TestAttachClientLimitAndReplacement(t *testing.T) {
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Limits.MaxBotClients = 1
	})
	valid := protocol.BotConfig{BotID: "b1", Name: "Bot One", Variants: defaultVariants()}

	first := dial(t, ts, "/ws/custom-bot")
	sendFrame(t, first, attachFrame("c1", valid))
	if m := readFrame(t, first); m["type"] != protocol.TypeAttached {
		t.Fatalf("first attach failed: %v", m)
	}

	// A different clientId is over the limit.
	other := dial(t, ts, "/ws/custom-bot")
	sendFrame(t, other, attachFrame("c2", valid))
	if m := readFrame(t, other); m["code"] != protocol.CodeTooManyClients {
		t.Errorf("second client got %v, want TOO_MANY_CLIENTS", m)
	}

	// The same clientId replaces the old socket even at the limit.
	replacement := dial(t, ts, "/ws/custom-bot")
	sendFrame(t, replacement, attachFrame("c1", valid))
	if m := readFrame(t, replacement); m["type"] != protocol.TypeAttached {
		t.Fatalf("replacement attach failed: %v", m)
	}

	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break // replaced socket was closed by the server
		}
	}
}

func TestBotDiscovery(t *testing.T) {
	s, ts := newTestServer(t, nil)
	attachBotClient(t, ts, "c1",
		protocol.BotConfig{BotID: "zeta", Name: "Zeta", Variants: defaultVariants()},
		protocol.BotConfig{BotID: "alpha", Name: "Alpha", OfficialToken: testOfficialSecret, Variants: defaultVariants()},
	)
	if s.registry.ClientCount() != 1 {
		t.Fatalf("client count = %d", s.registry.ClientCount())
	}

	resp, err := http.Get(ts.URL + "/api/bots?variant=standard&boardWidth=8&boardHeight=8")
	if err != nil {
		t.Fatalf("GET bots: %v", err)
	}
	defer resp.Body.Close()
	var listing struct {
		Bots []struct {
			BotID    string `json:"botId"`
			Name     string `json:"name"`
			Official bool   `json:"official"`
		} `json:"bots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Bots) != 2 {
		t.Fatalf("bots = %+v, want 2", listing.Bots)
	}
	if !listing.Bots[0].Official || listing.Bots[0].Name != "Alpha" {
		t.Errorf("official bot must sort first, got %+v", listing.Bots)
	}

	resp2, err := http.Get(ts.URL + "/api/bots/recommended?variant=standard")
	if err != nil {
		t.Fatalf("GET recommended: %v", err)
	}
	defer resp2.Body.Close()
	var recs struct {
		Recommended []struct {
			BotID      string `json:"botId"`
			BoardWidth int    `json:"boardWidth"`
		} `json:"recommended"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&recs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(recs.Recommended) != 4 {
		t.Fatalf("recommended = %+v, want 4 entries", recs.Recommended)
	}
	if recs.Recommended[0].BoardWidth != 4 {
		t.Errorf("smallest recommended board must come first, got %+v", recs.Recommended[0])
	}
}

func TestBotGameEndToEnd(t *testing.T) {
	_, ts := newTestServer(t, nil)
	fb := attachBotClient(t, ts, "c1",
		protocol.BotConfig{BotID: "b1", Name: "Wally", Variants: defaultVariants()})
	fb.bestMove = func(ply int) string { return fmt.Sprintf("bot-%d", ply) }

	hostFirst := true
	var creds seatCredentials
	resp := postJSON(t, ts, "/api/bots/play", playBotRequest{
		BotID:         "c1:b1",
		Variant:       "standard",
		BoardWidth:    8,
		BoardHeight:   8,
		TimeControl:   protocol.TimeControl{InitialMs: 60_000, IncrementMs: 1000},
		DisplayName:   "alice",
		HostIsPlayer1: &hostFirst,
	}, &creds)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("play status = %d", resp.StatusCode)
	}
	if creds.PlayerID != 1 {
		t.Fatalf("host playerId = %d, want 1", creds.PlayerID)
	}
	if fb.starts.Load() != 1 {
		t.Fatalf("bot got %d start_game_session, want 1", fb.starts.Load())
	}

	game := dial(t, ts, "/ws/games/"+creds.GameID+"?socketToken="+creds.SocketToken)
	readFrameOfType(t, game, protocol.TypeState)

	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "human-0"})
	// The bot catches up with the human move and answers with its own.
	var sawBotMove bool
	for i := 0; i < 20 && !sawBotMove; i++ {
		m := readFrameOfType(t, game, protocol.TypeState)
		if moves, ok := m["moves"].([]any); ok && len(moves) == 2 {
			if moves[1] != "bot-1" {
				t.Fatalf("bot move = %v, want bot-1", moves[1])
			}
			sawBotMove = true
		}
	}
	if !sawBotMove {
		t.Fatal("bot never played its move")
	}

	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "win"})
	var final map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m := readFrameOfType(t, game, protocol.TypeMatchStatus)
		if m["status"] == string("completed") {
			final = m
			break
		}
	}
	if final == nil {
		t.Fatal("game never completed")
	}
	result := final["result"].(map[string]any)
	if result["winner"].(float64) != 1 || result["reason"] != "goal" {
		t.Errorf("result = %v, want player 1 by goal", result)
	}

	// The bot's session is released at game end.
	waitFor(t, func() bool { return fb.ends.Load() == 1 })
}

func TestSharedEvalSingleSession(t *testing.T) {
	_, ts := newTestServer(t, nil)
	fb := attachBotClient(t, ts, "c1", protocol.BotConfig{
		BotID: "official", Name: "Official", OfficialToken: testOfficialSecret, Variants: defaultVariants(),
	})

	// A human-vs-human casual game with one move played.
	var host seatCredentials
	postJSON(t, ts, "/api/games", createGameRequest{
		Variant: "standard", BoardWidth: 8, BoardHeight: 8,
		TimeControl: protocol.TimeControl{InitialMs: 60_000},
		DisplayName: "alice",
	}, &host)
	var join struct {
		seatCredentials
	}
	postJSON(t, ts, "/api/games/"+host.GameID+"/join", map[string]string{"displayName": "bob"}, &join)
	postJSON(t, ts, "/api/games/"+host.GameID+"/ready", map[string]string{"token": host.Token}, nil)
	postJSON(t, ts, "/api/games/"+host.GameID+"/ready", map[string]string{"token": join.Token}, nil)

	p1Token := host.SocketToken
	if host.PlayerID != 1 {
		p1Token = join.SocketToken
	}
	game := dial(t, ts, "/ws/games/"+host.GameID+"?socketToken="+p1Token)
	readFrameOfType(t, game, protocol.TypeState)
	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "e1"})
	readFrameOfType(t, game, protocol.TypeState)

	handshake := protocol.EvalHandshake{Type: protocol.TypeEvalHandshake, GameID: host.GameID}

	viewerA := dial(t, ts, "/ws/eval/"+host.GameID)
	sendFrame(t, viewerA, handshake)
	readFrameOfType(t, viewerA, protocol.TypeEvalHandshakeAccepted)
	historyA := readFrameOfType(t, viewerA, protocol.TypeEvalHistory)
	if entries := historyA["entries"].([]any); len(entries) != 2 {
		t.Fatalf("history entries = %d, want 2 (ply 0 and 1)", len(entries))
	}

	viewerB := dial(t, ts, "/ws/eval/"+host.GameID)
	sendFrame(t, viewerB, handshake)
	readFrameOfType(t, viewerB, protocol.TypeEvalHandshakeAccepted)
	historyB := readFrameOfType(t, viewerB, protocol.TypeEvalHistory)
	if entries := historyB["entries"].([]any); len(entries) != 2 {
		t.Fatalf("second viewer history = %d entries, want 2", len(entries))
	}

	if got := fb.starts.Load(); got != 1 {
		t.Errorf("bot received %d start_game_session, want 1 shared session", got)
	}

	// A new live move streams to both viewers.
	p2Token := join.SocketToken
	if host.PlayerID != 1 {
		p2Token = host.SocketToken
	}
	game2 := dial(t, ts, "/ws/games/"+host.GameID+"?socketToken="+p2Token)
	readFrameOfType(t, game2, protocol.TypeState)
	sendFrame(t, game2, protocol.MoveRequest{Type: protocol.TypeMove, Move: "e2"})

	for _, viewer := range []*websocket.Conn{viewerA, viewerB} {
		update := readFrameOfType(t, viewer, protocol.TypeEvalUpdate)
		if update["ply"].(float64) != 2 {
			t.Errorf("eval update ply = %v, want 2", update["ply"])
		}
	}
}

func TestEvalHandshakeRejections(t *testing.T) {
	_, ts := newTestServer(t, nil)

	// Unknown game.
	conn := dial(t, ts, "/ws/eval/nope")
	sendFrame(t, conn, protocol.EvalHandshake{Type: protocol.TypeEvalHandshake, GameID: "nope"})
	if m := readFrame(t, conn); m["code"] != protocol.CodeGameNotFound {
		t.Errorf("unknown game: got %v, want GAME_NOT_FOUND", m)
	}

	// A live casual game with no official bot attached.
	var host seatCredentials
	postJSON(t, ts, "/api/games", createGameRequest{
		Variant: "standard", BoardWidth: 8, BoardHeight: 8,
		TimeControl: protocol.TimeControl{InitialMs: 60_000},
		DisplayName: "alice",
	}, &host)
	postJSON(t, ts, "/api/games/"+host.GameID+"/join", map[string]string{"displayName": "bob"}, nil)

	conn2 := dial(t, ts, "/ws/eval/"+host.GameID)
	sendFrame(t, conn2, protocol.EvalHandshake{Type: protocol.TypeEvalHandshake, GameID: host.GameID})
	if m := readFrame(t, conn2); m["code"] != protocol.CodeNoBot {
		t.Errorf("no bot: got %v, want NO_BOT", m)
	}
}

func TestBotDisconnectResignsItsGames(t *testing.T) {
	_, ts := newTestServer(t, nil)
	fb := attachBotClient(t, ts, "c1",
		protocol.BotConfig{BotID: "b1", Name: "Wally", Variants: defaultVariants()})

	hostFirst := true
	var creds seatCredentials
	postJSON(t, ts, "/api/bots/play", playBotRequest{
		BotID:         "c1:b1",
		Variant:       "standard",
		BoardWidth:    8,
		BoardHeight:   8,
		TimeControl:   protocol.TimeControl{InitialMs: 60_000},
		DisplayName:   "alice",
		HostIsPlayer1: &hostFirst,
	}, &creds)

	game := dial(t, ts, "/ws/games/"+creds.GameID+"?socketToken="+creds.SocketToken)
	readFrameOfType(t, game, protocol.TypeState)
	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "human-0"})
	readFrameOfType(t, game, protocol.TypeState)

	fb.conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m := readFrameOfType(t, game, protocol.TypeMatchStatus)
		if m["status"] != "completed" {
			continue
		}
		result := m["result"].(map[string]any)
		if result["winner"].(float64) != 1 || result["reason"] != "resignation" {
			t.Errorf("result = %v, want human win by resignation", result)
		}
		return
	}
	t.Fatal("bot disconnect did not finish the game")
}

func TestLobbyStream(t *testing.T) {
	_, ts := newTestServer(t, nil)
	lobby := dial(t, ts, "/ws/lobby")

	var host seatCredentials
	postJSON(t, ts, "/api/games", createGameRequest{
		Variant: "standard", BoardWidth: 8, BoardHeight: 8,
		TimeControl: protocol.TimeControl{InitialMs: 60_000},
		DisplayName: "alice",
		MatchType:   "matchmaking",
	}, &host)

	created := readFrameOfType(t, lobby, protocol.TypeLobbyUpdate)
	if created["event"] != "created" {
		t.Fatalf("lobby event = %v, want created", created["event"])
	}

	postJSON(t, ts, "/api/games/"+host.GameID+"/join", map[string]string{"displayName": "bob"}, nil)
	filled := readFrameOfType(t, lobby, protocol.TypeLobbyUpdate)
	if filled["event"] != "filled" {
		t.Errorf("lobby event = %v, want filled", filled["event"])
	}
}

func TestOversizedBotFrameClosesSocket(t *testing.T) {
	_, ts := newTestServer(t, nil)
	conn := dial(t, ts, "/ws/custom-bot")

	huge := make([]byte, protocol.MaxMessageBytes)
	for i := range huge {
		huge[i] = 'a'
	}
	frame := []byte(`{"type":"attach","pad":"` + string(huge) + `"}`)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return // server dropped the connection
		}
	}
}

func postJSONAuth(t *testing.T, ts *httptest.Server, path, token string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response of %s: %v", path, err)
		}
	}
	return resp
}

func TestMoveDuringSeedEvaluationKeepsGameAlive(t *testing.T) {
	s, ts := newTestServer(t, nil)
	fb := attachBotClient(t, ts, "c1",
		protocol.BotConfig{BotID: "b1", Name: "Wally", Variants: defaultVariants()})
	fb.bestMove = func(ply int) string { return fmt.Sprintf("bot-%d", ply) }
	fb.evalDelay = func(ply int) time.Duration {
		if ply == 0 {
			return 500 * time.Millisecond
		}
		return 0
	}

	hostFirst := true
	var creds seatCredentials
	postJSON(t, ts, "/api/bots/play", playBotRequest{
		BotID:         "c1:b1",
		Variant:       "standard",
		BoardWidth:    8,
		BoardHeight:   8,
		TimeControl:   protocol.TimeControl{InitialMs: 60_000},
		DisplayName:   "alice",
		HostIsPlayer1: &hostFirst,
	}, &creds)

	game := dial(t, ts, "/ws/games/"+creds.GameID+"?socketToken="+creds.SocketToken)
	readFrameOfType(t, game, protocol.TypeState)

	// Sent while the bot is still evaluating the starting position.
	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "human-0"})

	var sawBotMove bool
	for i := 0; i < 20 && !sawBotMove; i++ {
		m := readFrameOfType(t, game, protocol.TypeState)
		if moves, ok := m["moves"].([]any); ok && len(moves) == 2 {
			if moves[1] != "bot-1" {
				t.Fatalf("bot move = %v, want bot-1", moves[1])
			}
			sawBotMove = true
		}
	}
	if !sawBotMove {
		t.Fatal("bot never answered the early move")
	}
	snap, err := s.sessions.Get(creds.GameID)
	if err != nil || !snap.Playing {
		t.Fatalf("game should still be live, got err=%v snapshot=%+v", err, snap)
	}
}

func TestFramesBeforeAttach(t *testing.T) {
	_, ts := newTestServer(t, nil)

	t.Run("stray frames are tolerated", func(t *testing.T) {
		conn := dial(t, ts, "/ws/custom-bot")
		sendFrame(t, conn, map[string]any{"type": "ping"})
		sendFrame(t, conn, map[string]any{"type": "no-such-type"})
		sendFrame(t, conn, attachFrame("c1",
			protocol.BotConfig{BotID: "b1", Name: "Wally", Variants: defaultVariants()}))
		if m := readFrame(t, conn); m["type"] != protocol.TypeAttached {
			t.Fatalf("attach after stray frames failed: %v", m)
		}
	})

	t.Run("threshold closes the socket", func(t *testing.T) {
		conn := dial(t, ts, "/ws/custom-bot")
		junk, _ := json.Marshal(map[string]any{"type": "no-such-type"})
		for i := 0; i < protocol.InvalidMessageThreshold; i++ {
			if err := conn.WriteMessage(websocket.TextMessage, junk); err != nil {
				break // server already hung up
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

func TestUnmatchedBotResponsesAreDiscarded(t *testing.T) {
	_, ts := newTestServer(t, nil)
	fb := attachBotClient(t, ts, "c1",
		protocol.BotConfig{BotID: "b1", Name: "Wally", Variants: defaultVariants()})
	fb.bestMove = func(ply int) string { return fmt.Sprintf("bot-%d", ply) }

	hostFirst := true
	var creds seatCredentials
	postJSON(t, ts, "/api/bots/play", playBotRequest{
		BotID:         "c1:b1",
		Variant:       "standard",
		BoardWidth:    8,
		BoardHeight:   8,
		TimeControl:   protocol.TimeControl{InitialMs: 60_000},
		DisplayName:   "alice",
		HostIsPlayer1: &hostFirst,
	}, &creds)

	game := dial(t, ts, "/ws/games/"+creds.GameID+"?socketToken="+creds.SocketToken)
	readFrameOfType(t, game, protocol.TypeState)
	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "human-0"})
	for {
		m := readFrameOfType(t, game, protocol.TypeState)
		if moves, ok := m["moves"].([]any); ok && len(moves) == 2 {
			break
		}
	}

	// A storm of answers that match no pending request must not cost the
	// client its connection.
	for i := 0; i < protocol.InvalidMessageThreshold+20; i++ {
		sendFrame(t, fb.conn, protocol.EvaluateResponse{
			Type:    protocol.TypeEvaluateResponse,
			BgsID:   creds.GameID,
			Ply:     99,
			Success: true,
		})
	}

	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "human-2"})
	for {
		m := readFrameOfType(t, game, protocol.TypeState)
		if moves, ok := m["moves"].([]any); ok && len(moves) == 4 {
			if moves[3] != "bot-3" {
				t.Fatalf("bot move = %v, want bot-3", moves[3])
			}
			return
		}
	}
}

func TestRatedGameCommitsRatings(t *testing.T) {
	rec := newMemRecorder()
	_, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AuthSecret = "auth-secret"
	}, WithRecorder(rec))

	verifier := auth.NewVerifier("auth-secret")
	aliceToken, err := verifier.Sign(auth.Identity{UserID: "alice", DisplayName: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	bobToken, err := verifier.Sign(auth.Identity{UserID: "bob", DisplayName: "bob"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	hostFirst := true
	var host seatCredentials
	postJSONAuth(t, ts, "/api/games", aliceToken, createGameRequest{
		Variant:       "standard",
		BoardWidth:    8,
		BoardHeight:   8,
		TimeControl:   protocol.TimeControl{InitialMs: 60_000},
		Rated:         true,
		HostIsPlayer1: &hostFirst,
	}, &host)
	var join seatCredentials
	postJSONAuth(t, ts, "/api/games/"+host.GameID+"/join", bobToken, map[string]string{}, &join)
	postJSON(t, ts, "/api/games/"+host.GameID+"/ready", map[string]string{"token": host.Token}, nil)
	postJSON(t, ts, "/api/games/"+host.GameID+"/ready", map[string]string{"token": join.Token}, nil)

	game := dial(t, ts, "/ws/games/"+host.GameID+"?socketToken="+host.SocketToken)
	readFrameOfType(t, game, protocol.TypeState)
	sendFrame(t, game, protocol.MoveRequest{Type: protocol.TypeMove, Move: "win"})

	// After the result, a second match-status carries the committed ratings:
	// an even 1200 matchup moves 16 points each way.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("no match-status with updated ratings arrived")
		}
		m := readFrameOfType(t, game, protocol.TypeMatchStatus)
		seats := m["seats"].(map[string]any)
		hostSeat := seats["host"].(map[string]any)
		if hostSeat["rating"] == float64(1216) {
			joinerSeat := seats["joiner"].(map[string]any)
			if joinerSeat["rating"] != float64(1184) {
				t.Fatalf("joiner rating = %v, want 1184", joinerSeat["rating"])
			}
			break
		}
	}

	stored, ok := rec.rating("alice")
	if !ok || stored.Rating != 1216 || stored.GamesPlayed != 1 {
		t.Errorf("alice stored rating = %+v ok=%v, want 1216 after 1 game", stored, ok)
	}
	stored, ok = rec.rating("bob")
	if !ok || stored.Rating != 1184 || stored.GamesPlayed != 1 {
		t.Errorf("bob stored rating = %+v ok=%v, want 1184 after 1 game", stored, ok)
	}
}

func TestEvalViewerWaitsForBotSession(t *testing.T) {
	s, ts := newTestServer(t, nil)
	fb := attachBotClient(t, ts, "c1",
		protocol.BotConfig{BotID: "b1", Name: "Wally", Variants: defaultVariants()})
	fb.startDelay = time.Second

	// The play request blocks until the bot acknowledges the session start,
	// so it runs in the background while the viewer attaches.
	go func() {
		body, _ := json.Marshal(playBotRequest{
			BotID:       "c1:b1",
			Variant:     "standard",
			BoardWidth:  8,
			BoardHeight: 8,
			TimeControl: protocol.TimeControl{InitialMs: 60_000},
			DisplayName: "alice",
		})
		resp, err := http.Post(ts.URL+"/api/bots/play", "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
		}
	}()

	var gameID string
	waitFor(t, func() bool {
		games := s.sessions.ListInProgress()
		if len(games) != 1 {
			return false
		}
		gameID = games[0].ID
		return true
	})
	waitFor(t, func() bool {
		_, ok := s.bgs.Get(gameID)
		return ok
	})

	viewer := dial(t, ts, "/ws/eval/"+gameID)
	sendFrame(t, viewer, protocol.EvalHandshake{Type: protocol.TypeEvalHandshake, GameID: gameID})
	readFrameOfType(t, viewer, protocol.TypeEvalHandshakeAccepted)
	readFrameOfType(t, viewer, protocol.TypeEvalPending)

	// The history must wait for the bot's acknowledgement, not flush
	// immediately after eval-pending.
	flushStart := time.Now()
	readFrameOfType(t, viewer, protocol.TypeEvalHistory)
	if elapsed := time.Since(flushStart); elapsed < 200*time.Millisecond {
		t.Errorf("history flushed after %v, before the session was ready", elapsed)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
