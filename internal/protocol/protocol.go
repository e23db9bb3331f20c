// Package protocol defines the wire frames for the three WebSocket surfaces:
// the bot socket (/ws/custom-bot), the eval socket (/ws/eval/:gameId) and the
// game socket (/ws/games/:id), plus the lobby and live streams.
//
// Every frame is a single UTF-8 JSON text message with a flat layout and a
// "type" field discriminating the variant. Inbound frames are probed for
// their type first, then decoded into the matching struct.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Bot protocol version this server speaks.
const Version = 3

// Frame and pacing limits advertised in the attached message.
const (
	// MaxMessageBytes is the advertised frame ceiling. Frames must be
	// strictly smaller: a frame of exactly this size is rejected.
	MaxMessageBytes = 65536

	// ReadLimit is the largest accepted frame in bytes.
	ReadLimit = MaxMessageBytes - 1

	// MinClientMessageIntervalMs is the advertised floor between consecutive
	// client messages.
	MinClientMessageIntervalMs = 200

	// InvalidMessageThreshold closes the socket once this many unexpected or
	// malformed frames arrive.
	InvalidMessageThreshold = 100
)

// Message type discriminators, bot surface.
const (
	// Client -> server
	TypeAttach             = "attach"
	TypeGameSessionStarted = "game_session_started"
	TypeGameSessionEnded   = "game_session_ended"
	TypeEvaluateResponse   = "evaluate_response"
	TypeMoveApplied        = "move_applied"

	// Server -> client
	TypeAttached         = "attached"
	TypeAttachRejected   = "attach-rejected"
	TypeStartGameSession = "start_game_session"
	TypeEndGameSession   = "end_game_session"
	TypeEvaluatePosition = "evaluate_position"
	TypeApplyMove        = "apply_move"
)

// Message type discriminators, eval surface.
const (
	TypeEvalHandshake         = "eval-handshake"
	TypeEvalHandshakeAccepted = "eval-handshake-accepted"
	TypeEvalHandshakeRejected = "eval-handshake-rejected"
	TypeEvalPending           = "eval-pending"
	TypeEvalHistory           = "eval-history"
	TypeEvalUpdate            = "eval-update"
	TypeEvalError             = "eval-error"
	TypePing                  = "ping"
	TypePong                  = "pong"
)

// Message type discriminators, game surface and summary streams.
const (
	// Client -> server
	TypeMove            = "move"
	TypeResign          = "resign"
	TypeDrawOffer       = "draw-offer"
	TypeDrawAccept      = "draw-accept"
	TypeDrawReject      = "draw-reject"
	TypeTakebackRequest = "takeback-request"
	TypeTakebackAccept  = "takeback-accept"
	TypeTakebackReject  = "takeback-reject"
	TypeGiveTime        = "give-time"
	TypeRematchOffer    = "rematch-offer"
	TypeRematchAccept   = "rematch-accept"
	TypeRematchReject   = "rematch-reject"
	TypeChat            = "chat"

	// Server -> client
	TypeState            = "state"
	TypeMatchStatus      = "match-status"
	TypeDrawRejected     = "draw-rejected"
	TypeTakebackOffer    = "takeback-offer"
	TypeTakebackRejected = "takeback-rejected"
	TypeRematchRejected  = "rematch-rejected"
	TypeRematchStarted   = "rematch-started"
	TypeError            = "error"

	TypeLobbyUpdate = "lobby-update"
	TypeLiveUpdate  = "live-update"
)

// Attach rejection codes, in validation order.
const (
	CodeProtocolUnsupported = "PROTOCOL_UNSUPPORTED"
	CodeInvalidMessage      = "INVALID_MESSAGE"
	CodeNoBots              = "NO_BOTS"
	CodeInvalidBotConfig    = "INVALID_BOT_CONFIG"
	CodeDuplicateBotID      = "DUPLICATE_BOT_ID"
	CodeInvalidToken        = "INVALID_OFFICIAL_TOKEN"
	CodeTooManyClients      = "TOO_MANY_CLIENTS"
)

// Eval handshake rejection and stream error codes.
const (
	CodeNoBot         = "NO_BOT"
	CodeRatedPlayer   = "RATED_PLAYER"
	CodeGameNotFound  = "GAME_NOT_FOUND"
	CodeInternalError = "INTERNAL_ERROR"
)

var ErrMissingType = errors.New("frame has no type field")

// ProbeType extracts the discriminator from a raw frame without decoding the
// rest. Malformed JSON and missing types are both errors.
func ProbeType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("parse frame: %w", err)
	}
	if head.Type == "" {
		return "", ErrMissingType
	}
	return head.Type, nil
}

// Decode fills dst from a raw frame.
func Decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// Encode renders a frame for the wire.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// ClampEvaluation forces an engine evaluation into [-1, +1].
func ClampEvaluation(e float64) float64 {
	if e < -1 {
		return -1
	}
	if e > 1 {
		return 1
	}
	return e
}
