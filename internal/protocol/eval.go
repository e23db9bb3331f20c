package protocol

// EvalHandshake opens an eval subscription for a game.
type EvalHandshake struct {
	Type        string `json:"type"`
	GameID      string `json:"gameId"`
	Variant     string `json:"variant"`
	BoardWidth  int    `json:"boardWidth"`
	BoardHeight int    `json:"boardHeight"`
}

// EvalHandshakeAccepted confirms the subscription; history follows.
type EvalHandshakeAccepted struct {
	Type string `json:"type"`
}

// EvalHandshakeRejected closes the handshake with a reason code.
type EvalHandshakeRejected struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EvalEntry is one evaluated position. Ply 0 is the initial position.
type EvalEntry struct {
	Ply        int     `json:"ply"`
	Evaluation float64 `json:"evaluation"`
	BestMove   string  `json:"bestMove"`
}

// EvalPending tells a subscriber that history is still being computed.
type EvalPending struct {
	Type       string `json:"type"`
	TotalMoves int    `json:"totalMoves"`
}

// EvalHistory carries the full evaluation history so far.
type EvalHistory struct {
	Type    string      `json:"type"`
	Entries []EvalEntry `json:"entries"`
}

// EvalUpdate streams one new evaluation after a live move.
type EvalUpdate struct {
	Type       string  `json:"type"`
	Ply        int     `json:"ply"`
	Evaluation float64 `json:"evaluation"`
	BestMove   string  `json:"bestMove"`
}

// EvalError reports a failed or aborted evaluation stream.
type EvalError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ping and Pong keep eval sockets alive through idle proxies.
type Ping struct {
	Type string `json:"type"`
}

type Pong struct {
	Type string `json:"type"`
}
