package analyze

import (
	"strings"
	"testing"

	"chess_exe/internal/domain"
)

func TestPositionKey(t *testing.T) {
	fen := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	key := positionKey(fen)
	if key != "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq -" {
		t.Errorf("positionKey = %q", key)
	}

	// разные счётчики ходов дают один ключ
	other := "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 3 12"
	if positionKey(other) != key {
		t.Error("move counters must not affect the book key")
	}
}

func TestBuildHint(t *testing.T) {
	entry := domain.AnalysisLogEntry{
		Move:           "g1f3",
		BestMove:       "d2d4",
		CentipawnLoss:  180,
		Classification: domain.ClassificationMistake,
		Motifs:         []domain.Motif{domain.MotifFork},
	}
	hint := buildHint(entry, []string{"d2d4", "d7d5", "c2c4"})
	if !strings.Contains(hint, "g1f3") || !strings.Contains(hint, "d2d4") {
		t.Errorf("hint does not mention the moves: %q", hint)
	}
	if !strings.Contains(hint, "fork") {
		t.Errorf("hint does not mention the motif: %q", hint)
	}

	// обычные ходы подсказку не получают
	quiet := domain.AnalysisLogEntry{Classification: domain.ClassificationGood}
	if got := buildHint(quiet, nil); got != "" {
		t.Errorf("quiet move got a hint: %q", got)
	}
}
