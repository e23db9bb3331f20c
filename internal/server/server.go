// Package server is the coordination core: it drives the three WebSocket
// surfaces (bot, eval, game), the HTTP facade, and the stores underneath
// them. Inbound frames mutate the session, registry and bgs stores; outbound
// frames leave through the broadcast hub.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/auth"
	"github.com/nmamano/wallgame-sub002/internal/bgs"
	"github.com/nmamano/wallgame-sub002/internal/broadcast"
	"github.com/nmamano/wallgame-sub002/internal/config"
	"github.com/nmamano/wallgame-sub002/internal/elo"
	"github.com/nmamano/wallgame-sub002/internal/persist"
	"github.com/nmamano/wallgame-sub002/internal/randutil"
	"github.com/nmamano/wallgame-sub002/internal/registry"
	"github.com/nmamano/wallgame-sub002/internal/session"
	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// Server wires the stores, the hub and the protocol surfaces together.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	clock  quartz.Clock

	sessions *session.Store
	registry *registry.Registry
	bgs      *bgs.Store
	hub      *broadcast.Hub
	recorder persist.Recorder
	queue    *persist.Queue
	verifier *auth.Verifier
	rating   *elo.Calculator

	upgrader   websocket.Upgrader
	router     *mux.Router
	httpServer *http.Server
	routesOnce sync.Once

	// offers tracks the pending draw/takeback/rematch offer per game.
	offerMu sync.Mutex
	offers  map[string]*offerState

	// sharedEvals tracks the one shared eval BGS per live human game.
	evalMu      sync.Mutex
	sharedEvals map[string]*sharedEval

	// botDrives serializes per-game bot session traffic.
	driveMu   sync.Mutex
	botDrives map[string]*botDrive

	// live connections, for drain.
	connMu   sync.Mutex
	botConns map[*botConn]struct{}
	wsConns  map[*wsClient]struct{}
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
}

type offerState struct {
	drawFrom     wall.Player
	takebackFrom wall.Player
	rematchFrom  wall.Player
}

// serverOptions collects the injectable collaborators.
type serverOptions struct {
	clock    quartz.Clock
	engine   session.Engine
	recorder persist.Recorder
	seed     int64
	hasSeed  bool
}

// Option configures how a server is built.
type Option func(*serverOptions)

// WithClock substitutes the clock, for tests.
func WithClock(clock quartz.Clock) Option {
	return func(o *serverOptions) { o.clock = clock }
}

// WithEngine substitutes the rule engine, for tests that drive games with
// placeholder notation.
func WithEngine(engine session.Engine) Option {
	return func(o *serverOptions) { o.engine = engine }
}

// WithRecorder substitutes the persistence recorder.
func WithRecorder(recorder persist.Recorder) Option {
	return func(o *serverOptions) { o.recorder = recorder }
}

// WithSeed fixes the randomness used for seat assignment.
func WithSeed(seed int64) Option {
	return func(o *serverOptions) { o.seed = seed; o.hasSeed = true }
}

// New builds a server from configuration.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) *Server {
	o := serverOptions{
		clock:    quartz.NewReal(),
		engine:   wall.NewEngine(),
		recorder: persist.Noop{},
		seed:     time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.hasSeed {
		o.seed = time.Now().UnixNano()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		logger:   logger.With().Str("component", "server").Logger(),
		clock:    o.clock,
		sessions: session.NewStore(o.engine, o.clock, randutil.New(o.seed), logger),
		registry: registry.New(cfg.Limits.MaxBotClients, cfg.Server.OfficialBotSecret, o.clock, logger),
		bgs:      bgs.NewStore(cfg.Limits.MaxBgsSessions, o.clock, logger),
		hub:      broadcast.NewHub(logger),
		recorder: o.recorder,
		queue:    persist.NewQueue(2, 128, logger),
		verifier: auth.NewVerifier(cfg.Server.AuthSecret),
		rating:   elo.NewCalculator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		router:      mux.NewRouter(),
		offers:      make(map[string]*offerState),
		sharedEvals: make(map[string]*sharedEval),
		botDrives:   make(map[string]*botDrive),
		botConns:    make(map[*botConn]struct{}),
		wsConns:     make(map[*wsClient]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	return s
}

// Handler returns the HTTP handler with all routes and CORS applied.
func (s *Server) Handler() http.Handler {
	s.ensureRoutes()
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(s.router)
}

func (s *Server) ensureRoutes() {
	s.routesOnce.Do(func() {
		r := s.router
		r.HandleFunc("/api/games", s.handleCreateGame).Methods(http.MethodPost)
		r.HandleFunc("/api/games/{id}", s.handleGetGame).Methods(http.MethodGet)
		r.HandleFunc("/api/games/{id}/join", s.handleJoinGame).Methods(http.MethodPost)
		r.HandleFunc("/api/games/{id}/ready", s.handleReady).Methods(http.MethodPost)
		r.HandleFunc("/api/games/{id}/abort", s.handleAbort).Methods(http.MethodPost)
		r.HandleFunc("/api/games/{id}/rematch", s.handleRematch).Methods(http.MethodPost)
		r.HandleFunc("/api/bots", s.handleListBots).Methods(http.MethodGet)
		r.HandleFunc("/api/bots/recommended", s.handleRecommendedBots).Methods(http.MethodGet)
		r.HandleFunc("/api/bots/play", s.handlePlayBot).Methods(http.MethodPost)

		r.HandleFunc("/ws/custom-bot", s.handleBotSocket)
		r.HandleFunc("/ws/eval/{gameId}", s.handleEvalSocket)
		r.HandleFunc("/ws/games/{id}", s.handleGameSocket)
		r.HandleFunc("/ws/lobby", s.handleLobbySocket)
		r.HandleFunc("/ws/live", s.handleLiveSocket)

		r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	})
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve starts the janitors and serves HTTP on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	go s.runJanitors(s.ctx)

	s.httpServer = &http.Server{Handler: s.Handler()}
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("server starting")
	err := s.httpServer.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains the server: janitors stop, every socket closes, every BGS
// ends, the persistence queue flushes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("starting graceful shutdown")
	s.cancel()

	s.connMu.Lock()
	s.draining = true
	bots := make([]*botConn, 0, len(s.botConns))
	for c := range s.botConns {
		bots = append(bots, c)
	}
	subs := make([]*wsClient, 0, len(s.wsConns))
	for c := range s.wsConns {
		subs = append(subs, c)
	}
	s.connMu.Unlock()

	for _, c := range bots {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
	for _, c := range subs {
		c.Close()
	}

	// End whatever BGS the socket teardown did not reach.
	s.bgs.CleanupStale(0)

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.queue.Close()
	s.logger.Info().Msg("shutdown complete")
	return err
}

// trackWS registers a subscriber socket for drain. Returns false while
// draining.
func (s *Server) trackWS(c *wsClient) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.draining {
		return false
	}
	s.wsConns[c] = struct{}{}
	return true
}

func (s *Server) untrackWS(c *wsClient) {
	s.connMu.Lock()
	delete(s.wsConns, c)
	s.connMu.Unlock()
}

func (s *Server) trackBot(c *botConn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.draining {
		return false
	}
	s.botConns[c] = struct{}{}
	return true
}

func (s *Server) untrackBot(c *botConn) {
	s.connMu.Lock()
	delete(s.botConns, c)
	s.connMu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// offerFor returns the mutable offer slot for a game.
func (s *Server) offerFor(gameID string) *offerState {
	s.offerMu.Lock()
	defer s.offerMu.Unlock()
	o, ok := s.offers[gameID]
	if !ok {
		o = &offerState{}
		s.offers[gameID] = o
	}
	return o
}

func (s *Server) dropOffers(gameID string) {
	s.offerMu.Lock()
	delete(s.offers, gameID)
	s.offerMu.Unlock()
}
