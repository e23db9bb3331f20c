// Package wall implements the rules of the wall game.
//
// The main type is Board, an immutable snapshot of a position. Boards are
// copied on mutation so callers can keep references to earlier positions,
// which makes takebacks and replays a matter of re-applying history.
//
// # Coordinates
//
// Internally a cell is (Row, Col) with row 0 at the top of the board, matching
// the wire format used by bot engines. Official notation flips rows: "a1" is
// the bottom-left cell. Conversion happens only in notation.go.
//
// # Moves
//
// A move is exactly two actions unless the game ends after the first. Actions
// are pawn relocations ("Ce4" moves the cat to e4, consuming one action per
// step of the shortest path) or wall placements (">e4" vertical, "^e4"
// horizontal). Tokens are joined with ".".
//
// # Variants
//
// Classic pins each player's mouse to its home corner; the cat races to the
// opponent's mouse. Standard, freestyle and survival let players move their
// own mouse, so the target can run.
package wall
