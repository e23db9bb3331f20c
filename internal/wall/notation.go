package wall

import (
	"fmt"
	"strconv"
	"strings"
)

// Official notation: columns are letters from "a" on the left, rows are
// 1-based numbers from the bottom. Internal rows grow downward, so a cell at
// internal row r on a board of height H prints as row H-r.

// FormatCell renders a cell in official notation for a board of the given
// height.
func FormatCell(p Pos, height int) string {
	official := height - p.Row
	return fmt.Sprintf("%c%d", 'a'+rune(p.Col), official)
}

// ParseCell reads official notation back into internal coordinates.
func ParseCell(s string, width, height int) (Pos, error) {
	if len(s) < 2 {
		return Pos{}, fmt.Errorf("cell %q too short", s)
	}
	col := int(s[0] - 'a')
	official, err := strconv.Atoi(s[1:])
	if err != nil {
		return Pos{}, fmt.Errorf("cell %q has no row number", s)
	}
	p := Pos{Row: height - official, Col: col}
	if col < 0 || col >= width || official < 1 || official > height {
		return Pos{}, fmt.Errorf("cell %q outside %dx%d board", s, width, height)
	}
	return p, nil
}

// FormatWall renders a wall token: ">" prefixes vertical walls (right edge of
// the cell), "^" horizontal walls (top edge of the cell).
func FormatWall(w Placement, height int) string {
	prefix := ">"
	if w.Orientation == Horizontal {
		prefix = "^"
	}
	return prefix + FormatCell(w.Cell, height)
}

// Move is a parsed move string.
type Move struct {
	CatDest   *Pos
	MouseDest *Pos
	Walls     []Placement
}

// ParseMove splits a "."-joined move string into its tokens. It validates
// syntax and bounds only; legality against a position is Apply's job.
func ParseMove(notation string, width, height int) (Move, error) {
	var m Move
	if strings.TrimSpace(notation) == "" {
		return m, fmt.Errorf("empty move")
	}
	for _, tok := range strings.Split(notation, ".") {
		if tok == "" {
			return m, fmt.Errorf("empty token in move %q", notation)
		}
		switch tok[0] {
		case 'C':
			if m.CatDest != nil {
				return m, fmt.Errorf("move %q relocates the cat twice", notation)
			}
			p, err := ParseCell(tok[1:], width, height)
			if err != nil {
				return m, err
			}
			m.CatDest = &p
		case 'M':
			if m.MouseDest != nil {
				return m, fmt.Errorf("move %q relocates the mouse twice", notation)
			}
			p, err := ParseCell(tok[1:], width, height)
			if err != nil {
				return m, err
			}
			m.MouseDest = &p
		case '>':
			p, err := ParseCell(tok[1:], width, height)
			if err != nil {
				return m, err
			}
			m.Walls = append(m.Walls, Placement{Cell: p, Orientation: Vertical})
		case '^':
			p, err := ParseCell(tok[1:], width, height)
			if err != nil {
				return m, err
			}
			m.Walls = append(m.Walls, Placement{Cell: p, Orientation: Horizontal})
		default:
			return m, fmt.Errorf("unknown move token %q", tok)
		}
	}
	return m, nil
}

// FormatMove renders a parsed move back to its canonical string: cat first,
// then mouse, then walls in placement order.
func FormatMove(m Move, height int) string {
	var parts []string
	if m.CatDest != nil {
		parts = append(parts, "C"+FormatCell(*m.CatDest, height))
	}
	if m.MouseDest != nil {
		parts = append(parts, "M"+FormatCell(*m.MouseDest, height))
	}
	for _, w := range m.Walls {
		parts = append(parts, FormatWall(w, height))
	}
	return strings.Join(parts, ".")
}
