package analyze

import (
	"fmt"
	"strings"

	"chess_exe/internal/domain"
)

// LlmStore переписывает готовую подсказку живым языком. Недоступность LLM не
// ошибка: остаётся эвристический текст.
type LlmStore interface {
	SendRequestToLlm(request string) (response string, err error)
}

// positionKey нормализует FEN для дебютной книги: счётчики ходов и полуходов
// отбрасываются, остаются расстановка, очередь хода, рокировки и en passant.
func positionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

func containsMove(moves []string, move string) bool {
	for _, m := range moves {
		if m == move {
			return true
		}
	}
	return false
}

// buildHint собирает короткую текстовую подсказку по записи лога. Текст
// детерминированный; LLM, если подключён, только переформулирует его.
func buildHint(entry domain.AnalysisLogEntry, pv []string) string {
	var b strings.Builder

	switch entry.Classification {
	case domain.ClassificationBlunder, domain.ClassificationMistake:
		fmt.Fprintf(&b, "%s loses %d centipawns; %s was stronger.",
			entry.Move, entry.CentipawnLoss, entry.BestMove)
	case domain.ClassificationInaccuracy:
		fmt.Fprintf(&b, "%s is imprecise; %s keeps more of the position.",
			entry.Move, entry.BestMove)
	case domain.ClassificationBrilliant:
		fmt.Fprintf(&b, "%s gives up material for a lasting initiative.", entry.Move)
	case domain.ClassificationGreat:
		fmt.Fprintf(&b, "%s is the only move that holds the position together.", entry.Move)
	default:
		return ""
	}

	for _, motif := range entry.Motifs {
		fmt.Fprintf(&b, " Watch for the %s.", motif)
	}
	if len(pv) > 1 {
		end := len(pv)
		if end > 4 {
			end = 4
		}
		fmt.Fprintf(&b, " Main line: %s.", strings.Join(pv[:end], " "))
	}
	return b.String()
}

// planHint отдаёт подсказку для записи, при наличии LLM — переписанную им.
func (a *Analyzer) planHint(entry domain.AnalysisLogEntry, pv []string) string {
	hint := buildHint(entry, pv)
	if hint == "" || a.llm == nil {
		return hint
	}

	prompt := fmt.Sprintf(
		"Rewrite this chess analysis hint as one or two natural sentences for an improving player, keep the move names as is: %q. Position FEN: %s.",
		hint, entry.FenBefore,
	)
	rewritten, err := a.llm.SendRequestToLlm(prompt)
	if err != nil || strings.TrimSpace(rewritten) == "" {
		return hint
	}
	return strings.TrimSpace(rewritten)
}
