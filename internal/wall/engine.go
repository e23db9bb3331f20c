package wall

import (
	"errors"
	"fmt"
)

// Each move spends exactly this many actions. A pawn relocation costs one
// action per step; a wall costs one.
const actionsPerMove = 2

var (
	ErrGameOver        = errors.New("the game is already decided")
	ErrPawnPinned      = errors.New("this variant does not allow mouse moves")
	ErrUnreachable     = errors.New("destination not reachable within the action budget")
	ErrActionBudget    = errors.New("a move must spend exactly two actions")
	ErrTrailingActions = errors.New("actions after the game ended")
)

// Engine applies official-notation moves to boards. It is stateless; a single
// value serves every game on the server.
type Engine struct{}

// NewEngine returns the production rule engine.
func NewEngine() Engine {
	return Engine{}
}

// NewPosition builds the starting board for a fresh game.
func (Engine) NewPosition(variant string, width, height int) (*Board, error) {
	v, err := ParseVariant(variant)
	if err != nil {
		return nil, err
	}
	return New(v, width, height)
}

// Apply validates and plays one move for the given player, returning the
// resulting position and its winner (Undecided while play continues). The
// input board is never mutated.
func (Engine) Apply(b *Board, player Player, notation string) (*Board, Winner, error) {
	return b.Apply(player, notation)
}

// Apply plays one move on a copy of the board.
//
// Tokens run in order: cat relocation, then mouse, then walls, mirroring the
// canonical move format. The game can end mid-move (the cat lands on its
// target); any tokens left over at that point make the move illegal.
func (b *Board) Apply(player Player, notation string) (*Board, Winner, error) {
	if b.Winner() != Undecided {
		return nil, b.Winner(), ErrGameOver
	}
	m, err := ParseMove(notation, b.Width, b.Height)
	if err != nil {
		return nil, Undecided, err
	}

	nb := b.clone()
	budget := actionsPerMove
	decided := Undecided

	spend := func(cost int) error {
		if decided != Undecided {
			return ErrTrailingActions
		}
		if cost > budget {
			return ErrActionBudget
		}
		budget -= cost
		return nil
	}

	movePawn := func(cur Pos, dest Pos) (int, error) {
		d := nb.Distance(cur, dest)
		if d < 1 {
			return 0, fmt.Errorf("%w: %s", ErrUnreachable, FormatCell(dest, nb.Height))
		}
		return d, nil
	}

	if m.CatDest != nil {
		pawns := nb.PawnsOf(player)
		cost, err := movePawn(pawns.Cat, *m.CatDest)
		if err != nil {
			return nil, Undecided, err
		}
		if err := spend(cost); err != nil {
			return nil, Undecided, err
		}
		pawns.Cat = *m.CatDest
		nb.setPawns(player, pawns)
		decided = nb.Winner()
	}

	if m.MouseDest != nil {
		if !nb.Variant.MovesOwnMouse() {
			return nil, Undecided, ErrPawnPinned
		}
		pawns := nb.PawnsOf(player)
		cost, err := movePawn(pawns.Mouse, *m.MouseDest)
		if err != nil {
			return nil, Undecided, err
		}
		if err := spend(cost); err != nil {
			return nil, Undecided, err
		}
		pawns.Mouse = *m.MouseDest
		nb.setPawns(player, pawns)
		decided = nb.Winner()
	}

	for _, w := range m.Walls {
		if err := spend(1); err != nil {
			return nil, Undecided, err
		}
		w.PlayerID = player
		if err := nb.placeWall(w); err != nil {
			return nil, Undecided, err
		}
		if !nb.connected() {
			nb.removeLastWall()
			return nil, Undecided, ErrWallTrapsPlayer
		}
	}

	if decided == Undecided && budget != 0 {
		return nil, Undecided, ErrActionBudget
	}
	return nb, decided, nil
}

func (b *Board) setPawns(p Player, pawns Pawns) {
	if p == 1 {
		b.P1 = pawns
	} else {
		b.P2 = pawns
	}
}

// PawnState is the wire form of one player's pieces. Classic positions report
// the fixed target as "home"; the other variants report a movable "mouse".
type PawnState struct {
	Cat   Pos  `json:"cat"`
	Mouse *Pos `json:"mouse,omitempty"`
	Home  *Pos `json:"home,omitempty"`
}

// State is the wire form of a full position, as consumed by bot engines.
type State struct {
	Pawns map[string]PawnState `json:"pawns"`
	Walls []Placement          `json:"walls"`
}

// WireState renders the position in the format bot engines expect: pawn maps
// keyed "p1"/"p2" and the wall list in placement order.
func (b *Board) WireState() State {
	pawn := func(p Pawns) PawnState {
		ps := PawnState{Cat: p.Cat}
		mouse := p.Mouse
		if b.Variant == VariantClassic {
			ps.Home = &mouse
		} else {
			ps.Mouse = &mouse
		}
		return ps
	}
	walls := make([]Placement, len(b.Walls))
	copy(walls, b.Walls)
	return State{
		Pawns: map[string]PawnState{"p1": pawn(b.P1), "p2": pawn(b.P2)},
		Walls: walls,
	}
}
