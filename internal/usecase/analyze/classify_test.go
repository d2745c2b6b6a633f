package analyze

import (
	"testing"

	"chess_exe/internal/domain"
)

func TestClassifyTopCandidateNeverPunished(t *testing.T) {
	// ход из первой линии не может быть ошибкой, какой бы ни была позиция
	befores := []int{-9000, -500, -150, 0, 150, 500, 9000}
	afters := []int{-9000, -400, -100, 0, 100, 400, 9000}
	for _, before := range befores {
		for _, after := range afters {
			diff := before - after
			if diff < 0 {
				diff = 0
			}
			cls := classify(moveFacts{
				before: before,
				after:  after,
				diff:   diff,
				isTop:  true,
				phase:  domain.PhaseMiddlegame,
			})
			switch cls {
			case domain.ClassificationBest, domain.ClassificationGreat, domain.ClassificationBrilliant:
			default:
				t.Errorf("top move (before=%d after=%d) classified as %s", before, after, cls)
			}
		}
	}
}

func TestClassifyWinningPositionCapped(t *testing.T) {
	// выигранная позиция, оставшаяся выигранной, не даёт blunder
	for diff := 0; diff <= 800; diff += 25 {
		before := 450
		after := before - diff
		if after < moderatelyAhead {
			continue
		}
		cls := classify(moveFacts{
			before: before,
			after:  after,
			diff:   diff,
			phase:  domain.PhaseMiddlegame,
		})
		if cls == domain.ClassificationBlunder {
			t.Errorf("winning position (diff=%d) classified as blunder", diff)
		}
	}
}

func TestClassifyMateKept(t *testing.T) {
	tests := []struct {
		name          string
		before, after int
		want          domain.Classification
	}{
		{"mate shortened", domain.MateBase - 5, domain.MateBase - 3, domain.ClassificationBest},
		{"mate delayed within slip", domain.MateBase - 2, domain.MateBase - 14, domain.ClassificationGood},
		{"mate badly delayed", domain.MateBase - 2, domain.MateBase - 20, domain.ClassificationInaccuracy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := tt.before - tt.after
			if diff < 0 {
				diff = 0
			}
			cls := classify(moveFacts{
				before: tt.before,
				after:  tt.after,
				diff:   diff,
				phase:  domain.PhaseEndgame,
			})
			if cls != tt.want {
				t.Errorf("classify = %s, want %s", cls, tt.want)
			}
		})
	}
}

func TestClassifyEvaluationFlip(t *testing.T) {
	cls := classify(moveFacts{
		before: 180,
		after:  -260,
		diff:   440,
		phase:  domain.PhaseMiddlegame,
	})
	if cls != domain.ClassificationBlunder {
		t.Errorf("evaluation flip classified as %s, want blunder", cls)
	}
}

func TestClassifyMaterialBlunder(t *testing.T) {
	// отдал ладью без компенсации
	cls := classify(moveFacts{
		before:        -40,
		after:         -420,
		diff:          380,
		materialDelta: -5,
		phase:         domain.PhaseMiddlegame,
	})
	if cls != domain.ClassificationBlunder {
		t.Errorf("hung rook classified as %s, want blunder", cls)
	}
}

func TestClassifyOpeningSacrificeTolerated(t *testing.T) {
	cls := classify(moveFacts{
		before:        20,
		after:         -120,
		diff:          140,
		materialDelta: -3,
		phase:         domain.PhaseOpening,
	})
	if cls != domain.ClassificationGood {
		t.Errorf("opening gambit classified as %s, want good", cls)
	}

	// та же жертва в миттельшпиле — уже ошибка
	cls = classify(moveFacts{
		before:        20,
		after:         -120,
		diff:          140,
		materialDelta: -3,
		phase:         domain.PhaseMiddlegame,
	})
	if cls == domain.ClassificationGood || cls == domain.ClassificationBest {
		t.Errorf("middlegame material drop classified as %s", cls)
	}
}

func TestClassifyGradedLoss(t *testing.T) {
	tests := []struct {
		diff int
		want domain.Classification
	}{
		{0, domain.ClassificationBest},
		{10, domain.ClassificationBest},
		{40, domain.ClassificationGood},
		{70, domain.ClassificationInaccuracy},
		{150, domain.ClassificationMistake},
		{250, domain.ClassificationBlunder},
	}
	for _, tt := range tests {
		cls := classify(moveFacts{
			before: 80,
			after:  80 - tt.diff,
			diff:   tt.diff,
			phase:  domain.PhaseMiddlegame,
		})
		if cls != tt.want {
			t.Errorf("diff=%d classified as %s, want %s", tt.diff, cls, tt.want)
		}
	}
}

func TestBestLineVerdictBrilliant(t *testing.T) {
	cls := classify(moveFacts{
		before:        60,
		after:         90,
		diff:          0,
		isTop:         true,
		materialDelta: -3,
		motifs:        []domain.Motif{domain.MotifSacrifice},
		phase:         domain.PhaseMiddlegame,
	})
	if cls != domain.ClassificationBrilliant {
		t.Errorf("sound sacrifice classified as %s, want brilliant", cls)
	}
}

func TestBestLineVerdictNoBrilliantWhenCrushed(t *testing.T) {
	// в тотально выигранной позиции жертва не делает ход brilliant
	cls := classify(moveFacts{
		before:        900,
		after:         850,
		diff:          0,
		isTop:         true,
		materialDelta: -3,
		phase:         domain.PhaseMiddlegame,
	})
	if cls == domain.ClassificationBrilliant {
		t.Error("sacrifice in overwhelming position must not be brilliant")
	}

	// размен-перевзятие тоже не brilliant
	cls = classify(moveFacts{
		before:        30,
		after:         40,
		diff:          0,
		isTop:         true,
		materialDelta: -3,
		isRecapture:   true,
		phase:         domain.PhaseMiddlegame,
	})
	if cls == domain.ClassificationBrilliant {
		t.Error("recapture must not be brilliant")
	}
}

func TestBestLineVerdictGreat(t *testing.T) {
	// единственный ход, удерживающий проигранную позицию
	cls := classify(moveFacts{
		before: -350,
		after:  -20,
		diff:   0,
		isTop:  true,
		phase:  domain.PhaseMiddlegame,
	})
	if cls != domain.ClassificationGreat {
		t.Errorf("saving move classified as %s, want great", cls)
	}
}

func TestClassifyPhase(t *testing.T) {
	tests := []struct {
		name     string
		ply      int
		material int
		want     domain.Phase
	}{
		{"game start", 0, 78, domain.PhaseOpening},
		{"early with full material", 15, 70, domain.PhaseOpening},
		{"early but queens traded", 10, 50, domain.PhaseMiddlegame},
		{"late opening ply", 25, 78, domain.PhaseMiddlegame},
		{"stripped endgame", 60, 14, domain.PhaseEndgame},
		{"endgame by material even early", 18, 20, domain.PhaseEndgame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyPhase(tt.ply, tt.material); got != tt.want {
				t.Errorf("classifyPhase(%d, %d) = %s, want %s", tt.ply, tt.material, got, tt.want)
			}
		})
	}
}

func TestMoveAccuracyBoundsAndMonotonic(t *testing.T) {
	prev := 101.0
	for loss := 0; loss <= 1500; loss += 10 {
		acc := moveAccuracy(loss, domain.ClassificationGood)
		if acc < 0 || acc > 100 {
			t.Fatalf("accuracy out of bounds: loss=%d acc=%f", loss, acc)
		}
		if acc > prev {
			t.Fatalf("accuracy not monotonic at loss=%d: %f > %f", loss, acc, prev)
		}
		prev = acc
	}

	if got := moveAccuracy(0, domain.ClassificationBest); got != 100 {
		t.Errorf("perfect move accuracy = %f, want 100", got)
	}
}

func TestMoveAccuracyPenalty(t *testing.T) {
	loss := 120
	good := moveAccuracy(loss, domain.ClassificationGood)
	mistake := moveAccuracy(loss, domain.ClassificationMistake)
	blunder := moveAccuracy(loss, domain.ClassificationBlunder)
	if !(blunder < mistake && mistake < good) {
		t.Errorf("penalties not ordered: good=%f mistake=%f blunder=%f", good, mistake, blunder)
	}
	if diff := good - mistake; diff != 12 {
		t.Errorf("mistake penalty = %f, want 12", diff)
	}
}
