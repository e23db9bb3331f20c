package protocol

import (
	"fmt"
	"time"

	"github.com/nmamano/wallgame-sub002/internal/wall"
)

// Attach is the first frame a bot client must send.
type Attach struct {
	Type            string      `json:"type"`
	ProtocolVersion int         `json:"protocolVersion"`
	ClientID        string      `json:"clientId"`
	Bots            []BotConfig `json:"bots"`
	Client          ClientInfo  `json:"client"`
}

// ClientInfo names the connecting bot process.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// BotConfig declares one bot served by a client.
type BotConfig struct {
	BotID         string                    `json:"botId"`
	Name          string                    `json:"name"`
	OfficialToken string                    `json:"officialToken,omitempty"`
	Username      *string                   `json:"username"`
	Appearance    map[string]string         `json:"appearance,omitempty"`
	Variants      map[string]VariantSupport `json:"variants"`
}

// VariantSupport declares the board sizes a bot accepts for one variant.
type VariantSupport struct {
	BoardWidth  Range       `json:"boardWidth"`
	BoardHeight Range       `json:"boardHeight"`
	Recommended []BoardSize `json:"recommended,omitempty"`
}

type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether n lies in the inclusive range.
func (r Range) Contains(n int) bool {
	return n >= r.Min && n <= r.Max
}

type BoardSize struct {
	BoardWidth  int `json:"boardWidth"`
	BoardHeight int `json:"boardHeight"`
}

// Validate checks the schema of a single bot config. Token comparison and
// duplicate detection are the registry's concern, not schema.
func (c BotConfig) Validate() error {
	if c.BotID == "" {
		return fmt.Errorf("bot config missing botId")
	}
	if c.Name == "" {
		return fmt.Errorf("bot %q missing name", c.BotID)
	}
	if len(c.Variants) == 0 {
		return fmt.Errorf("bot %q declares no variants", c.BotID)
	}
	for name, v := range c.Variants {
		if _, err := wall.ParseVariant(name); err != nil {
			return fmt.Errorf("bot %q: %w", c.BotID, err)
		}
		for _, r := range []Range{v.BoardWidth, v.BoardHeight} {
			if r.Min < 2 || r.Max < r.Min {
				return fmt.Errorf("bot %q variant %q has invalid board range", c.BotID, name)
			}
		}
		for _, size := range v.Recommended {
			if !v.BoardWidth.Contains(size.BoardWidth) || !v.BoardHeight.Contains(size.BoardHeight) {
				return fmt.Errorf("bot %q variant %q recommends a size outside its range", c.BotID, name)
			}
		}
	}
	return nil
}

// Supports reports whether the config accepts the given variant, and if
// width/height are positive, that board size.
func (c BotConfig) Supports(variant string, width, height int) bool {
	v, ok := c.Variants[variant]
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

// Attached confirms a successful attach.
type Attached struct {
	Type            string     `json:"type"`
	ProtocolVersion int        `json:"protocolVersion"`
	ServerTime      time.Time  `json:"serverTime"`
	Server          ServerInfo `json:"server"`
	Limits          Limits     `json:"limits"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Limits struct {
	MaxMessageBytes            int `json:"maxMessageBytes"`
	MinClientMessageIntervalMs int `json:"minClientMessageIntervalMs"`
}

// DefaultLimits returns the limits this server advertises.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes:            MaxMessageBytes,
		MinClientMessageIntervalMs: MinClientMessageIntervalMs,
	}
}

// AttachRejected reports why an attach failed. The socket closes after it.
type AttachRejected struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAttachRejected builds the rejection frame for a code.
func NewAttachRejected(code, message string) AttachRejected {
	return AttachRejected{Type: TypeAttachRejected, Code: code, Message: message}
}

// BgsConfig describes the game a bot session evaluates: variant, dimensions
// and the position the replay starts from.
type BgsConfig struct {
	Variant      string     `json:"variant"`
	BoardWidth   int        `json:"boardWidth"`
	BoardHeight  int        `json:"boardHeight"`
	InitialState wall.State `json:"initialState"`
}

// StartGameSession asks the bot to open a session.
type StartGameSession struct {
	Type   string    `json:"type"`
	BgsID  string    `json:"bgsId"`
	BotID  string    `json:"botId"`
	Config BgsConfig `json:"config"`
}

// EndGameSession asks the bot to release a session.
type EndGameSession struct {
	Type  string `json:"type"`
	BgsID string `json:"bgsId"`
}

// EvaluatePosition asks the bot for its evaluation at the given ply.
type EvaluatePosition struct {
	Type        string `json:"type"`
	BgsID       string `json:"bgsId"`
	ExpectedPly int    `json:"expectedPly"`
}

// ApplyMove advances the bot's session by one move.
type ApplyMove struct {
	Type        string `json:"type"`
	BgsID       string `json:"bgsId"`
	ExpectedPly int    `json:"expectedPly"`
	Move        string `json:"move"`
}

// GameSessionStarted acknowledges StartGameSession.
type GameSessionStarted struct {
	Type    string `json:"type"`
	BgsID   string `json:"bgsId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// GameSessionEnded acknowledges EndGameSession.
type GameSessionEnded struct {
	Type    string `json:"type"`
	BgsID   string `json:"bgsId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// EvaluateResponse answers EvaluatePosition. Evaluation is from player 1's
// point of view and clamped to [-1, +1] on receipt.
type EvaluateResponse struct {
	Type       string  `json:"type"`
	BgsID      string  `json:"bgsId"`
	Ply        int     `json:"ply"`
	BestMove   string  `json:"bestMove"`
	Evaluation float64 `json:"evaluation"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
}

// MoveApplied acknowledges ApplyMove.
type MoveApplied struct {
	Type    string `json:"type"`
	BgsID   string `json:"bgsId"`
	Ply     int    `json:"ply"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
