package wall

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustBoard(t *testing.T, v Variant, w, h int) *Board {
	t.Helper()
	b, err := New(v, w, h)
	if err != nil {
		t.Fatalf("New(%s, %d, %d): %v", v, w, h, err)
	}
	return b
}

func TestNewStartingPosition(t *testing.T) {
	b := mustBoard(t, VariantStandard, 5, 4)

	if b.P1.Cat != (Pos{Row: 0, Col: 0}) {
		t.Errorf("P1 cat = %v, want top-left", b.P1.Cat)
	}
	if b.P1.Mouse != (Pos{Row: 3, Col: 0}) {
		t.Errorf("P1 mouse = %v, want bottom-left", b.P1.Mouse)
	}
	if b.P2.Cat != (Pos{Row: 0, Col: 4}) {
		t.Errorf("P2 cat = %v, want top-right", b.P2.Cat)
	}
	if b.P2.Mouse != (Pos{Row: 3, Col: 4}) {
		t.Errorf("P2 mouse = %v, want bottom-right", b.P2.Mouse)
	}
	if b.Winner() != Undecided {
		t.Errorf("fresh board already decided: %v", b.Winner())
	}
}

func TestNewRejectsTinyBoards(t *testing.T) {
	if _, err := New(VariantStandard, 1, 5); !errors.Is(err, ErrBoardTooSmall) {
		t.Errorf("1x5 board accepted: %v", err)
	}
}

func TestDistanceOpenBoard(t *testing.T) {
	b := mustBoard(t, VariantStandard, 4, 4)
	if d := b.Distance(Pos{0, 0}, Pos{3, 3}); d != 6 {
		t.Errorf("corner distance = %d, want 6", d)
	}
	if d := b.Distance(Pos{1, 1}, Pos{1, 1}); d != 0 {
		t.Errorf("self distance = %d, want 0", d)
	}
}

func TestDistanceRespectsWalls(t *testing.T) {
	b := mustBoard(t, VariantStandard, 3, 3)
	// Wall off the direct path from (0,0) to (0,2): block the right edge of
	// (0,0) and of (1,0), forcing a detour through the bottom row.
	for _, w := range []Placement{
		{Cell: Pos{0, 0}, Orientation: Vertical},
		{Cell: Pos{1, 0}, Orientation: Vertical},
	} {
		if err := b.placeWall(w); err != nil {
			t.Fatalf("placeWall: %v", err)
		}
	}
	if d := b.Distance(Pos{0, 0}, Pos{0, 2}); d != 6 {
		t.Errorf("walled distance = %d, want 6", d)
	}
}

func TestDistanceUnreachable(t *testing.T) {
	b := mustBoard(t, VariantStandard, 3, 3)
	// Seal the top-left cell completely.
	for _, w := range []Placement{
		{Cell: Pos{0, 0}, Orientation: Vertical},
		{Cell: Pos{1, 0}, Orientation: Horizontal},
	} {
		if err := b.placeWall(w); err != nil {
			t.Fatalf("placeWall: %v", err)
		}
	}
	if d := b.Distance(Pos{0, 0}, Pos{2, 2}); d != -1 {
		t.Errorf("sealed cell distance = %d, want -1", d)
	}
}

func TestWallLegality(t *testing.T) {
	b := mustBoard(t, VariantStandard, 3, 3)

	tests := []struct {
		name string
		wall Placement
		want error
	}{
		{"vertical on right boundary", Placement{Cell: Pos{1, 2}, Orientation: Vertical}, ErrWallOnBoundary},
		{"horizontal on top boundary", Placement{Cell: Pos{0, 1}, Orientation: Horizontal}, ErrWallOnBoundary},
		{"out of bounds", Placement{Cell: Pos{5, 5}, Orientation: Vertical}, ErrOutOfBounds},
		{"legal interior", Placement{Cell: Pos{1, 1}, Orientation: Vertical}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.wallLegal(tt.wall)
			if !errors.Is(err, tt.want) {
				t.Errorf("wallLegal(%+v) = %v, want %v", tt.wall, err, tt.want)
			}
		})
	}
}

func TestWallOccupied(t *testing.T) {
	b := mustBoard(t, VariantStandard, 3, 3)
	w := Placement{Cell: Pos{1, 1}, Orientation: Horizontal}
	if err := b.placeWall(w); err != nil {
		t.Fatalf("first placement: %v", err)
	}
	if err := b.placeWall(w); !errors.Is(err, ErrWallOccupied) {
		t.Errorf("second placement = %v, want ErrWallOccupied", err)
	}
}

func TestWinnerCapture(t *testing.T) {
	// P2's cat on P1's mouse: immediate P2 win, no compensation.
	b, err := Restore(VariantStandard, 4, 4,
		Pawns{Cat: Pos{0, 0}, Mouse: Pos{3, 0}},
		Pawns{Cat: Pos{3, 0}, Mouse: Pos{3, 3}},
		nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := b.Winner(); got != WinnerP2 {
		t.Errorf("Winner = %v, want WinnerP2", got)
	}
}

func TestWinnerDrawCompensation(t *testing.T) {
	// P1's cat captures while P2's cat is two steps from P1's mouse: drawn,
	// because player 2 never got its reply.
	b, err := Restore(VariantStandard, 4, 4,
		Pawns{Cat: Pos{3, 3}, Mouse: Pos{3, 0}},
		Pawns{Cat: Pos{3, 2}, Mouse: Pos{3, 3}},
		nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := b.Winner(); got != Draw {
		t.Errorf("Winner = %v, want Draw", got)
	}
}

func TestWinnerNoCompensationWhenFar(t *testing.T) {
	b, err := Restore(VariantStandard, 4, 4,
		Pawns{Cat: Pos{3, 3}, Mouse: Pos{3, 0}},
		Pawns{Cat: Pos{0, 0}, Mouse: Pos{3, 3}},
		nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := b.Winner(); got != WinnerP1 {
		t.Errorf("Winner = %v, want WinnerP1", got)
	}
}

func TestPosJSONWireFormat(t *testing.T) {
	data, err := json.Marshal(Pos{Row: 2, Col: 5})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[2,5]" {
		t.Errorf("Pos marshals to %s, want [2,5]", data)
	}
	var p Pos
	if err := json.Unmarshal([]byte("[4,1]"), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p != (Pos{Row: 4, Col: 1}) {
		t.Errorf("unmarshal = %v, want {4 1}", p)
	}
}
