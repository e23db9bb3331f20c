package wall

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Variant selects the rule set for a board.
type Variant string

const (
	VariantStandard  Variant = "standard"
	VariantClassic   Variant = "classic"
	VariantFreestyle Variant = "freestyle"
	VariantSurvival  Variant = "survival"
)

// ParseVariant maps a wire string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantStandard, VariantClassic, VariantFreestyle, VariantSurvival:
		return Variant(s), nil
	}
	return "", fmt.Errorf("unknown variant %q", s)
}

// MovesOwnMouse reports whether the variant lets players move their mouse.
func (v Variant) MovesOwnMouse() bool {
	return v != VariantClassic
}

// Player is a seat number, 1 or 2. Player 1 moves first.
type Player int

// Other returns the opposing player.
func (p Player) Other() Player {
	if p == 1 {
		return 2
	}
	return 1
}

// Pos is a cell position. Row 0 is the top of the board.
type Pos struct {
	Row int
	Col int
}

// MarshalJSON encodes a cell as the wire pair [row, col].
func (p Pos) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Row, p.Col})
}

// UnmarshalJSON decodes the wire pair [row, col].
func (p *Pos) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	p.Row, p.Col = pair[0], pair[1]
	return nil
}

// Orientation distinguishes the two wall directions.
type Orientation string

const (
	// Vertical walls sit on the right edge of their reference cell.
	Vertical Orientation = "vertical"
	// Horizontal walls sit on the top edge of their reference cell.
	Horizontal Orientation = "horizontal"
)

// Placement is a wall on the board.
type Placement struct {
	Cell        Pos         `json:"cell"`
	Orientation Orientation `json:"orientation"`
	PlayerID    Player      `json:"playerId,omitempty"`
}

// Pawns holds one player's pieces.
type Pawns struct {
	Cat   Pos `json:"cat"`
	Mouse Pos `json:"mouse"`
}

// Winner of a finished position.
type Winner int

const (
	Undecided Winner = -1
	Draw      Winner = 0
	WinnerP1  Winner = 1
	WinnerP2  Winner = 2
)

// Board is one position of a game. Values are treated as immutable; Apply
// returns a fresh copy.
type Board struct {
	Variant Variant
	Width   int
	Height  int
	P1      Pawns
	P2      Pawns
	Walls   []Placement

	// wallSet mirrors Walls for O(1) blocking checks. Keys are normalized
	// edges, see edgeKey.
	wallSet map[edge]struct{}
}

type edge struct {
	cell   Pos
	orient Orientation
}

var (
	ErrOutOfBounds     = errors.New("position outside the board")
	ErrBoardTooSmall   = errors.New("board must be at least 2x2")
	ErrWallOccupied    = errors.New("a wall already occupies that edge")
	ErrWallOnBoundary  = errors.New("walls cannot sit on the board boundary")
	ErrWallTrapsPlayer = errors.New("wall would cut a cat off from its target")
)

// New builds the starting position: cats in the top corners, mice in the
// bottom corners, player 1 on the left.
func New(variant Variant, width, height int) (*Board, error) {
	if width < 2 || height < 2 {
		return nil, ErrBoardTooSmall
	}
	b := &Board{
		Variant: variant,
		Width:   width,
		Height:  height,
		P1:      Pawns{Cat: Pos{0, 0}, Mouse: Pos{height - 1, 0}},
		P2:      Pawns{Cat: Pos{0, width - 1}, Mouse: Pos{height - 1, width - 1}},
		wallSet: map[edge]struct{}{},
	}
	return b, nil
}

// Restore rebuilds a board from an explicit position, used when a bot engine
// hands back a mid-game state.
func Restore(variant Variant, width, height int, p1, p2 Pawns, walls []Placement) (*Board, error) {
	b, err := New(variant, width, height)
	if err != nil {
		return nil, err
	}
	for _, p := range []Pos{p1.Cat, p1.Mouse, p2.Cat, p2.Mouse} {
		if !b.inBounds(p) {
			return nil, fmt.Errorf("%w: pawn at (%d,%d)", ErrOutOfBounds, p.Row, p.Col)
		}
	}
	b.P1, b.P2 = p1, p2
	for _, w := range walls {
		if err := b.placeWall(w); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Pawns returns the pieces of the given player.
func (b *Board) PawnsOf(p Player) Pawns {
	if p == 1 {
		return b.P1
	}
	return b.P2
}

// Target returns the cell player p's cat must reach: the opposing mouse.
func (b *Board) Target(p Player) Pos {
	return b.PawnsOf(p.Other()).Mouse
}

func (b *Board) inBounds(p Pos) bool {
	return p.Row >= 0 && p.Row < b.Height && p.Col >= 0 && p.Col < b.Width
}

// blocked reports whether movement across the given edge is impossible,
// either because it leaves the board or because a wall covers it. The edge is
// identified by a cell and the direction of travel.
func (b *Board) blocked(from Pos, dr, dc int) bool {
	to := Pos{from.Row + dr, from.Col + dc}
	if !b.inBounds(to) {
		return true
	}
	switch {
	case dc == 1: // right
		_, ok := b.wallSet[edge{from, Vertical}]
		return ok
	case dc == -1: // left
		_, ok := b.wallSet[edge{to, Vertical}]
		return ok
	case dr == -1: // up, toward row 0
		_, ok := b.wallSet[edge{from, Horizontal}]
		return ok
	default: // down
		_, ok := b.wallSet[edge{to, Horizontal}]
		return ok
	}
}

var steps = [4][2]int{{0, 1}, {0, -1}, {-1, 0}, {1, 0}}

// Distance returns the length of the shortest wall-respecting path between
// two cells, or -1 when no path exists. Pawns do not block movement.
func (b *Board) Distance(from, to Pos) int {
	if from == to {
		return 0
	}
	visited := make([]bool, b.Width*b.Height)
	type item struct {
		pos  Pos
		dist int
	}
	queue := []item{{from, 0}}
	visited[b.index(from)] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range steps {
			if b.blocked(cur.pos, s[0], s[1]) {
				continue
			}
			next := Pos{cur.pos.Row + s[0], cur.pos.Col + s[1]}
			if visited[b.index(next)] {
				continue
			}
			if next == to {
				return cur.dist + 1
			}
			visited[b.index(next)] = true
			queue = append(queue, item{next, cur.dist + 1})
		}
	}
	return -1
}

func (b *Board) index(p Pos) int {
	return p.Row*b.Width + p.Col
}

// wallLegal checks bounds, boundary and occupancy for a candidate wall,
// but not connectivity.
func (b *Board) wallLegal(w Placement) error {
	if !b.inBounds(w.Cell) {
		return ErrOutOfBounds
	}
	switch w.Orientation {
	case Vertical:
		if w.Cell.Col == b.Width-1 {
			return ErrWallOnBoundary
		}
	case Horizontal:
		if w.Cell.Row == 0 {
			return ErrWallOnBoundary
		}
	default:
		return fmt.Errorf("unknown wall orientation %q", w.Orientation)
	}
	if _, ok := b.wallSet[edge{w.Cell, w.Orientation}]; ok {
		return ErrWallOccupied
	}
	return nil
}

// placeWall mutates b. Callers own the copy.
func (b *Board) placeWall(w Placement) error {
	if err := b.wallLegal(w); err != nil {
		return err
	}
	b.Walls = append(b.Walls, w)
	b.wallSet[edge{w.Cell, w.Orientation}] = struct{}{}
	return nil
}

// removeLastWall undoes the most recent placeWall, used to roll back a
// connectivity probe.
func (b *Board) removeLastWall() {
	w := b.Walls[len(b.Walls)-1]
	b.Walls = b.Walls[:len(b.Walls)-1]
	delete(b.wallSet, edge{w.Cell, w.Orientation})
}

// connected reports whether both cats can still reach their targets.
func (b *Board) connected() bool {
	return b.Distance(b.P1.Cat, b.Target(1)) >= 0 &&
		b.Distance(b.P2.Cat, b.Target(2)) >= 0
}

// Winner inspects the position. When player 1's cat catches the mouse while
// player 2's cat sits within two steps of its own target, the game is drawn;
// this compensates player 2 for moving second.
func (b *Board) Winner() Winner {
	if b.P1.Cat == b.P2.Mouse {
		d := b.Distance(b.P2.Cat, b.P1.Mouse)
		if d >= 0 && d <= 2 {
			return Draw
		}
		return WinnerP1
	}
	if b.P2.Cat == b.P1.Mouse {
		return WinnerP2
	}
	return Undecided
}

// clone deep-copies the board.
func (b *Board) clone() *Board {
	walls := make([]Placement, len(b.Walls))
	copy(walls, b.Walls)
	set := make(map[edge]struct{}, len(b.wallSet))
	for k := range b.wallSet {
		set[k] = struct{}{}
	}
	return &Board{
		Variant: b.Variant,
		Width:   b.Width,
		Height:  b.Height,
		P1:      b.P1,
		P2:      b.P2,
		Walls:   walls,
		wallSet: set,
	}
}
