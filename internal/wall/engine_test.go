package wall

import (
	"errors"
	"testing"
)

func TestApplyTwoStepCat(t *testing.T) {
	b := mustBoard(t, VariantStandard, 4, 4)

	nb, winner, err := b.Apply(1, "Cc4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if winner != Undecided {
		t.Errorf("winner = %v, want Undecided", winner)
	}
	if nb.P1.Cat != (Pos{Row: 0, Col: 2}) {
		t.Errorf("cat = %v, want {0 2}", nb.P1.Cat)
	}
	if b.P1.Cat != (Pos{Row: 0, Col: 0}) {
		t.Error("Apply mutated the input board")
	}
}

func TestApplyCatAndWall(t *testing.T) {
	b := mustBoard(t, VariantStandard, 4, 4)

	nb, _, err := b.Apply(1, "Cb4.>b2")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if nb.P1.Cat != (Pos{Row: 0, Col: 1}) {
		t.Errorf("cat = %v, want {0 1}", nb.P1.Cat)
	}
	if len(nb.Walls) != 1 {
		t.Fatalf("walls = %d, want 1", len(nb.Walls))
	}
	if nb.Walls[0].PlayerID != 1 {
		t.Errorf("wall owner = %d, want 1", nb.Walls[0].PlayerID)
	}
}

func TestApplyMouseAndCat(t *testing.T) {
	b := mustBoard(t, VariantStandard, 4, 4)

	nb, _, err := b.Apply(1, "Ca3.Ma2")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if nb.P1.Mouse != (Pos{Row: 2, Col: 0}) {
		t.Errorf("mouse = %v, want {2 0}", nb.P1.Mouse)
	}
}

func TestApplyRejections(t *testing.T) {
	std := mustBoard(t, VariantStandard, 4, 4)
	classic := mustBoard(t, VariantClassic, 4, 4)

	tests := []struct {
		name     string
		board    *Board
		player   Player
		notation string
		want     error
	}{
		{"underspent budget", std, 1, "Cb4", ErrActionBudget},
		{"overspent budget", std, 1, "Cd4", ErrActionBudget},
		{"three walls", std, 1, ">a2.>b2.>c2", ErrActionBudget},
		{"zero-step pawn", std, 1, "Ca4.>a2", ErrUnreachable},
		{"mouse pinned in classic", classic, 1, "Ma2.Ca3", ErrPawnPinned},
		{"trapping wall pair", std, 2, ">a4.^a3", ErrWallTrapsPlayer},
		{"wall on boundary", std, 1, "Ca3.>d2", ErrWallOnBoundary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.board.Apply(tt.player, tt.notation)
			if !errors.Is(err, tt.want) {
				t.Errorf("Apply(%q) = %v, want %v", tt.notation, err, tt.want)
			}
		})
	}
}

func TestApplyCaptureEndsMoveEarly(t *testing.T) {
	b, err := Restore(VariantStandard, 4, 4,
		Pawns{Cat: Pos{3, 2}, Mouse: Pos{3, 0}},
		Pawns{Cat: Pos{0, 3}, Mouse: Pos{3, 3}},
		nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	nb, winner, err := b.Apply(1, "Cd1")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if winner != WinnerP1 {
		t.Errorf("winner = %v, want WinnerP1", winner)
	}
	if nb.P1.Cat != nb.P2.Mouse {
		t.Error("cat did not land on the target")
	}
}

func TestApplyRejectsActionsAfterCapture(t *testing.T) {
	b, err := Restore(VariantStandard, 4, 4,
		Pawns{Cat: Pos{3, 2}, Mouse: Pos{3, 0}},
		Pawns{Cat: Pos{0, 3}, Mouse: Pos{3, 3}},
		nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, _, err := b.Apply(1, "Cd1.>a2"); !errors.Is(err, ErrTrailingActions) {
		t.Errorf("Apply = %v, want ErrTrailingActions", err)
	}
}

func TestApplyRejectsFinishedGame(t *testing.T) {
	b, err := Restore(VariantStandard, 4, 4,
		Pawns{Cat: Pos{3, 3}, Mouse: Pos{3, 0}},
		Pawns{Cat: Pos{0, 0}, Mouse: Pos{3, 3}},
		nil)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, _, err := b.Apply(2, "Cb4"); !errors.Is(err, ErrGameOver) {
		t.Errorf("Apply on finished game = %v, want ErrGameOver", err)
	}
}

func TestEngineRoundTrip(t *testing.T) {
	e := NewEngine()
	b, err := e.NewPosition("standard", 4, 4)
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	b2, winner, err := e.Apply(b, 1, "Cc4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if winner != Undecided || b2.P1.Cat == b.P1.Cat {
		t.Error("engine Apply did not take effect")
	}
	if _, err := e.NewPosition("chess", 4, 4); err == nil {
		t.Error("unknown variant accepted")
	}
}

func TestWireStateVariantFields(t *testing.T) {
	std := mustBoard(t, VariantStandard, 4, 4)
	if s := std.WireState(); s.Pawns["p1"].Mouse == nil || s.Pawns["p1"].Home != nil {
		t.Error("standard positions must report a movable mouse")
	}
	classic := mustBoard(t, VariantClassic, 4, 4)
	if s := classic.WireState(); s.Pawns["p1"].Home == nil || s.Pawns["p1"].Mouse != nil {
		t.Error("classic positions must report a fixed home")
	}
}
