// Package registry tracks connected bot clients and the bots they serve.
// Bots are addressed by composite ID (clientId:botId); discovery filters on
// variant support, board size and visibility.
package registry

import (
	"crypto/subtle"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/nmamano/wallgame-sub002/internal/protocol"
)

var (
	ErrTooManyClients = errors.New("bot client limit reached")
	ErrUnknownClient  = errors.New("client not registered")
)

// Link is the connection handle the server hands the registry. The registry
// never writes to it; it only returns it so the caller can close a replaced
// socket.
type Link interface {
	CloseReplaced()
}

// ActiveGame records one game a bot is seated in.
type ActiveGame struct {
	PlayerID     int
	OpponentName string
	StartedAt    time.Time
}

// Bot is one playable identity registered by a client.
type Bot struct {
	CompositeID string
	ClientID    string
	BotID       string
	Name        string
	IsOfficial  bool
	Username    *string
	Appearance  map[string]string
	Variants    map[string]protocol.VariantSupport

	mu          sync.Mutex
	activeGames map[string]ActiveGame
}

// VisibleTo reports whether discovery shows this bot to the given username.
// Public bots (nil username) are visible to everyone.
func (b *Bot) VisibleTo(username string) bool {
	if b.Username == nil {
		return true
	}
	return strings.EqualFold(*b.Username, username)
}

// Supports reports whether the bot accepts the variant, and the board size
// when width/height are positive.
func (b *Bot) Supports(variant string, width, height int) bool {
	v, ok := b.Variants[variant]
	if !ok {
		return false
	}
	if width > 0 && !v.BoardWidth.Contains(width) {
		return false
	}
	if height > 0 && !v.BoardHeight.Contains(height) {
		return false
	}
	return true
}

// AddActiveGame records that the bot took a seat.
func (b *Bot) AddActiveGame(gameID string, game ActiveGame) {
	b.mu.Lock()
	b.activeGames[gameID] = game
	b.mu.Unlock()
}

// RemoveActiveGame drops a finished or cancelled game.
func (b *Bot) RemoveActiveGame(gameID string) {
	b.mu.Lock()
	delete(b.activeGames, gameID)
	b.mu.Unlock()
}

// ActiveGames returns a copy of the bot's seat map.
func (b *Bot) ActiveGames() map[string]ActiveGame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]ActiveGame, len(b.activeGames))
	for id, g := range b.activeGames {
		out[id] = g
	}
	return out
}

// Client is one connected bot process and the bots it serves.
type Client struct {
	ClientID   string
	Info       protocol.ClientInfo
	AttachedAt time.Time
	Link       Link

	bots map[string]*Bot

	mu              sync.Mutex
	invalidMessages int
	activeBgs       map[string]struct{}
}

// Bot returns the client's bot with the given botId, or nil.
func (c *Client) Bot(botID string) *Bot {
	return c.bots[botID]
}

// Bots returns the client's bots in registration order of their IDs.
func (c *Client) Bots() []*Bot {
	out := make([]*Bot, 0, len(c.bots))
	for _, b := range c.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out
}

// CountInvalidMessage bumps the unexpected-message counter and reports the
// new total.
func (c *Client) CountInvalidMessage() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidMessages++
	return c.invalidMessages
}

// TrackBgs records a BGS owned by this client.
func (c *Client) TrackBgs(bgsID string) {
	c.mu.Lock()
	c.activeBgs[bgsID] = struct{}{}
	c.mu.Unlock()
}

// UntrackBgs forgets an ended BGS.
func (c *Client) UntrackBgs(bgsID string) {
	c.mu.Lock()
	delete(c.activeBgs, bgsID)
	c.mu.Unlock()
}

// BgsIDs returns the client's live BGS IDs.
func (c *Client) BgsIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.activeBgs))
	for id := range c.activeBgs {
		out = append(out, id)
	}
	return out
}

// CompositeID joins a client and bot ID into the global bot handle.
func CompositeID(clientID, botID string) string {
	return clientID + ":" + botID
}

// SplitCompositeID recovers the client and bot IDs from a composite handle.
func SplitCompositeID(compositeID string) (clientID, botID string, ok bool) {
	i := strings.LastIndex(compositeID, ":")
	if i <= 0 || i == len(compositeID)-1 {
		return "", "", false
	}
	return compositeID[:i], compositeID[i+1:], true
}

// Registry owns the connected clients. Methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client

	maxClients     int
	officialSecret string
	clock          quartz.Clock
	logger         zerolog.Logger
}

// New builds an empty registry. officialSecret marks bots official when
// their attach token matches; an empty secret means no bot can be official.
func New(maxClients int, officialSecret string, clock quartz.Clock, logger zerolog.Logger) *Registry {
	return &Registry{
		clients:        make(map[string]*Client),
		maxClients:     maxClients,
		officialSecret: officialSecret,
		clock:          clock,
		logger:         logger.With().Str("component", "registry").Logger(),
	}
}

// Register attaches a client with its bots. A prior client under the same
// clientId is atomically replaced and returned so the caller can close its
// socket; ErrTooManyClients is returned when the cap is reached and no
// existing record can be replaced.
func (r *Registry) Register(clientID string, info protocol.ClientInfo, configs []protocol.BotConfig, link Link) (replaced *Client, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior, exists := r.clients[clientID]
	if !exists && len(r.clients) >= r.maxClients {
		return nil, ErrTooManyClients
	}

	client := &Client{
		ClientID:   clientID,
		Info:       info,
		AttachedAt: r.clock.Now(),
		Link:       link,
		bots:       make(map[string]*Bot, len(configs)),
		activeBgs:  make(map[string]struct{}),
	}
	for _, cfg := range configs {
		client.bots[cfg.BotID] = &Bot{
			CompositeID: CompositeID(clientID, cfg.BotID),
			ClientID:    clientID,
			BotID:       cfg.BotID,
			Name:        cfg.Name,
			IsOfficial:  r.isOfficial(cfg.OfficialToken),
			Username:    cfg.Username,
			Appearance:  cfg.Appearance,
			Variants:    cfg.Variants,
			activeGames: make(map[string]ActiveGame),
		}
	}
	r.clients[clientID] = client

	r.logger.Info().
		Str("client_id", clientID).
		Int("bots", len(configs)).
		Bool("replaced", exists).
		Msg("client attached")
	return prior, nil
}

// isOfficial compares the client-supplied token to the server secret in
// constant time. Callers hold r.mu.
func (r *Registry) isOfficial(token string) bool {
	if r.officialSecret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(r.officialSecret)) == 1
}

// ValidOfficialToken reports whether an attach-time token is acceptable:
// either absent or equal to the server secret.
func (r *Registry) ValidOfficialToken(token string) bool {
	if token == "" {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isOfficial(token)
}

// Unregister removes a client and returns the bots it served. Unknown
// clients are a no-op.
func (r *Registry) Unregister(clientID string) []*Bot {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	if ok {
		delete(r.clients, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.logger.Info().Str("client_id", clientID).Msg("client detached")
	return client.Bots()
}

// Client returns the live client record for a clientId.
func (r *Registry) Client(clientID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[clientID]
	return c, ok
}

// FindBot resolves a composite ID to its bot, requiring the owning client
// to still be connected.
func (r *Registry) FindBot(compositeID string) (*Bot, bool) {
	clientID, botID, ok := SplitCompositeID(compositeID)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}
	bot := client.Bot(botID)
	return bot, bot != nil
}

// ClientCount returns the number of attached clients.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ListMatching returns the bots visible to username that support the
// variant and, when positive, the board size. Official bots sort first,
// then by name.
func (r *Registry) ListMatching(variant string, width, height int, username string) []*Bot {
	bots := r.filter(func(b *Bot) bool {
		return b.VisibleTo(username) && b.Supports(variant, width, height)
	})
	sort.Slice(bots, func(i, j int) bool {
		if bots[i].IsOfficial != bots[j].IsOfficial {
			return bots[i].IsOfficial
		}
		return bots[i].Name < bots[j].Name
	})
	return bots
}

// Recommendation pairs a bot with one of its recommended board sizes.
type Recommendation struct {
	Bot         *Bot
	Variant     string
	BoardWidth  int
	BoardHeight int
}

// ListRecommended expands each matching bot's recommended sizes for the
// variant, smallest boards first within the official-then-name order.
func (r *Registry) ListRecommended(variant, username string) []Recommendation {
	bots := r.ListMatching(variant, 0, 0, username)
	var out []Recommendation
	for _, b := range bots {
		v := b.Variants[variant]
		recs := make([]protocol.BoardSize, len(v.Recommended))
		copy(recs, v.Recommended)
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].BoardWidth*recs[i].BoardHeight < recs[j].BoardWidth*recs[j].BoardHeight
		})
		for _, size := range recs {
			out = append(out, Recommendation{
				Bot:         b,
				Variant:     variant,
				BoardWidth:  size.BoardWidth,
				BoardHeight: size.BoardHeight,
			})
		}
	}
	return out
}

// FindEvalBot returns the first official bot able to evaluate the given
// game, or nil.
func (r *Registry) FindEvalBot(variant string, width, height int) *Bot {
	bots := r.ListMatching(variant, width, height, "")
	for _, b := range bots {
		if b.IsOfficial {
			return b
		}
	}
	return nil
}

// filter snapshots the bots passing keep.
func (r *Registry) filter(keep func(*Bot) bool) []*Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Bot
	for _, client := range r.clients {
		for _, b := range client.bots {
			if keep(b) {
				out = append(out, b)
			}
		}
	}
	return out
}
