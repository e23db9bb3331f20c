package wall

import "testing"

func TestCellRoundTrip(t *testing.T) {
	const width, height = 8, 7
	tests := []struct {
		pos  Pos
		want string
	}{
		{Pos{Row: height - 1, Col: 0}, "a1"}, // bottom-left
		{Pos{Row: 0, Col: 0}, "a7"},          // top-left
		{Pos{Row: 0, Col: width - 1}, "h7"},  // top-right
		{Pos{Row: 3, Col: 4}, "e4"},
	}

	for _, tt := range tests {
		got := FormatCell(tt.pos, height)
		if got != tt.want {
			t.Errorf("FormatCell(%v) = %q, want %q", tt.pos, got, tt.want)
		}
		back, err := ParseCell(tt.want, width, height)
		if err != nil {
			t.Fatalf("ParseCell(%q): %v", tt.want, err)
		}
		if back != tt.pos {
			t.Errorf("ParseCell(%q) = %v, want %v", tt.want, back, tt.pos)
		}
	}
}

func TestParseCellRejectsOutOfBounds(t *testing.T) {
	for _, s := range []string{"i4", "a0", "a8", "z1", "4a", "", "a"} {
		if _, err := ParseCell(s, 8, 7); err == nil {
			t.Errorf("ParseCell(%q) accepted an invalid cell", s)
		}
	}
}

func TestParseCellMultiDigitRow(t *testing.T) {
	p, err := ParseCell("c12", 14, 12)
	if err != nil {
		t.Fatalf("ParseCell(c12): %v", err)
	}
	if p != (Pos{Row: 0, Col: 2}) {
		t.Errorf("ParseCell(c12) = %v, want {0 2}", p)
	}
}

func TestParseMoveTokens(t *testing.T) {
	m, err := ParseMove("Ce4.>f3", 8, 7)
	if err != nil {
		t.Fatalf("ParseMove: %v", err)
	}
	if m.CatDest == nil || FormatCell(*m.CatDest, 7) != "e4" {
		t.Errorf("cat destination not parsed: %+v", m)
	}
	if len(m.Walls) != 1 || m.Walls[0].Orientation != Vertical {
		t.Errorf("wall not parsed: %+v", m.Walls)
	}
	if FormatCell(m.Walls[0].Cell, 7) != "f3" {
		t.Errorf("wall cell = %q, want f3", FormatCell(m.Walls[0].Cell, 7))
	}
}

func TestParseMoveRejects(t *testing.T) {
	tests := []struct {
		name     string
		notation string
	}{
		{"empty", ""},
		{"empty token", "Ce4.."},
		{"double cat", "Ce4.Ce5"},
		{"double mouse", "Me4.Me5"},
		{"unknown prefix", "Xe4"},
		{"bad cell", "C??"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMove(tt.notation, 8, 7); err == nil {
				t.Errorf("ParseMove(%q) accepted invalid input", tt.notation)
			}
		})
	}
}

func TestFormatMoveCanonicalOrder(t *testing.T) {
	cat := Pos{Row: 3, Col: 4}
	mouse := Pos{Row: 6, Col: 1}
	m := Move{
		CatDest:   &cat,
		MouseDest: &mouse,
		Walls:     []Placement{{Cell: Pos{Row: 4, Col: 5}, Orientation: Horizontal}},
	}
	if got, want := FormatMove(m, 7), "Ce4.Mb1.^f3"; got != want {
		t.Errorf("FormatMove = %q, want %q", got, want)
	}
}

func TestFormatWall(t *testing.T) {
	v := Placement{Cell: Pos{Row: 3, Col: 4}, Orientation: Vertical}
	h := Placement{Cell: Pos{Row: 3, Col: 4}, Orientation: Horizontal}
	if got := FormatWall(v, 7); got != ">e4" {
		t.Errorf("vertical wall = %q, want >e4", got)
	}
	if got := FormatWall(h, 7); got != "^e4" {
		t.Errorf("horizontal wall = %q, want ^e4", got)
	}
}
