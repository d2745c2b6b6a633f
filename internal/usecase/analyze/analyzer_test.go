package analyze

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/notnil/chess"
	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
	"chess_exe/internal/domain/game"
	errs "chess_exe/internal/errors"
)

const testPgn = "1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 *"

type fakeEngine struct {
	evals map[string]domain.EvaluationResult
	errs  map[string]error
	calls []string
}

func (e *fakeEngine) Analyze(_ context.Context, fen string, _ domain.AnalysisProfile) (domain.EvaluationResult, error) {
	e.calls = append(e.calls, fen)
	if err, ok := e.errs[fen]; ok {
		return domain.EvaluationResult{}, err
	}
	res, ok := e.evals[fen]
	if !ok {
		return domain.EvaluationResult{}, fmt.Errorf("unexpected fen: %s", fen)
	}
	return res, nil
}

type fakeGameStore struct {
	game      game.Game
	completed *game.AnalysisSummary
	failed    bool
	requeued  bool
	progress  []int
	events    []domain.ProgressEvent
}

func (s *fakeGameStore) GetByID(_ context.Context, id string) (game.Game, error) {
	if id != s.game.ID {
		return game.Game{}, errs.ErrGameNotFound
	}
	return s.game, nil
}

func (s *fakeGameStore) TouchHeartbeat(_ context.Context, _ string, progress int) error {
	s.progress = append(s.progress, progress)
	return nil
}

func (s *fakeGameStore) PublishProgress(_ context.Context, event domain.ProgressEvent) {
	s.events = append(s.events, event)
}

func (s *fakeGameStore) MarkCompleted(_ context.Context, _ string, summary game.AnalysisSummary) error {
	s.completed = &summary
	return nil
}

func (s *fakeGameStore) MarkFailed(_ context.Context, _ string) error {
	s.failed = true
	return nil
}

func (s *fakeGameStore) RequeueForRetry(_ context.Context, _ string, _ int) (bool, error) {
	s.requeued = true
	return true, nil
}

type fakeLogStore struct {
	prefix     []domain.AnalysisLogEntry
	appended   []domain.AnalysisLogEntry
	reviews    []domain.ReviewPosition
	evictLimit int
	book       map[string][]string
}

func (s *fakeLogStore) LogPrefix(_ context.Context, _ string) ([]domain.AnalysisLogEntry, error) {
	return s.prefix, nil
}

func (s *fakeLogStore) AppendLogEntry(_ context.Context, entry domain.AnalysisLogEntry) error {
	s.appended = append(s.appended, entry)
	return nil
}

func (s *fakeLogStore) InsertReviewPositions(_ context.Context, positions []domain.ReviewPosition) error {
	s.reviews = append(s.reviews, positions...)
	return nil
}

func (s *fakeLogStore) EvictReviewPositions(_ context.Context, limit int) (int, error) {
	s.evictLimit = limit
	return 0, nil
}

func (s *fakeLogStore) BookMoves(_ context.Context, key string) ([]string, error) {
	return s.book[key], nil
}

func newTestAnalyzer(t *testing.T, engine Engine, games GameStore, store LogStore) *Analyzer {
	t.Helper()
	a := NewAnalyzer(&bootstrap.Config{}, zap.NewNop().Sugar(), engine, games, store, nil)
	a.plyDelay = 0
	return a
}

// scriptQuietGame готовит движок, для которого каждый сыгранный ход — первая
// линия с небольшим перевесом.
func scriptQuietGame(t *testing.T, pgn string) (*fakeEngine, int) {
	t.Helper()
	moves, positions, err := decodeMoves(pgn)
	if err != nil {
		t.Fatalf("decode pgn: %v", err)
	}

	engine := &fakeEngine{evals: make(map[string]domain.EvaluationResult), errs: make(map[string]error)}
	for ply := range moves {
		played := chess.UCINotation{}.Encode(positions[ply], moves[ply])
		engine.evals[positions[ply].String()] = domain.EvaluationResult{
			BestMove: played,
			Lines: []domain.PvLine{
				{Move: played, Score: domain.Score{CP: 20}, Rank: 1},
				{Move: "0000", Score: domain.Score{CP: 5}, Rank: 2},
			},
			PV: []string{played},
		}
	}
	return engine, len(moves)
}

func TestAnalyzeGameCompletes(t *testing.T) {
	engine, totalPlies := scriptQuietGame(t, testPgn)
	games := &fakeGameStore{game: game.Game{ID: "g1", MovesPgn: testPgn}}
	store := &fakeLogStore{}
	a := newTestAnalyzer(t, engine, games, store)

	err := a.AnalyzeGame(context.Background(), "g1", domain.AnalysisProfile{Depth: 12, MultiPV: 2})
	if err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}

	if len(store.appended) != totalPlies {
		t.Fatalf("appended %d entries, want %d", len(store.appended), totalPlies)
	}
	for i, entry := range store.appended {
		if entry.Ply != i {
			t.Errorf("entry %d has ply %d", i, entry.Ply)
		}
		// тихие точные ходы дебюта распознаются как книжные
		if entry.Classification != domain.ClassificationBook {
			t.Errorf("ply %d classified as %s, want book", i, entry.Classification)
		}
		if entry.CentipawnLoss != 0 {
			t.Errorf("ply %d loss = %d, want 0", i, entry.CentipawnLoss)
		}
	}

	if games.completed == nil {
		t.Fatal("game not marked completed")
	}
	if games.completed.AccuracyWhite != 100 || games.completed.AccuracyBlack != 100 {
		t.Errorf("accuracy = %f/%f, want 100/100", games.completed.AccuracyWhite, games.completed.AccuracyBlack)
	}
	if games.completed.Classifications["book"] != totalPlies {
		t.Errorf("book count = %d, want %d", games.completed.Classifications["book"], totalPlies)
	}
	if games.failed {
		t.Error("clean game marked failed")
	}

	last := games.progress[len(games.progress)-1]
	if last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}
	if len(games.events) != totalPlies {
		t.Errorf("published %d progress events, want %d", len(games.events), totalPlies)
	}
	// хранилище повторения прибирается даже без новых позиций
	if store.evictLimit == 0 {
		t.Error("review eviction was not invoked")
	}
}

func TestAnalyzeGameBlunderGoesToReview(t *testing.T) {
	moves, positions, err := decodeMoves(testPgn)
	if err != nil {
		t.Fatalf("decode pgn: %v", err)
	}
	engine, _ := scriptQuietGame(t, testPgn)

	// полуход 2: сыгранного хода нет в линиях, оценка рушится с +300 до -150
	const blunderPly = 2
	engine.evals[positions[blunderPly].String()] = domain.EvaluationResult{
		BestMove: "d1h5",
		Lines: []domain.PvLine{
			{Move: "d1h5", Score: domain.Score{CP: 300}, Rank: 1},
			{Move: "a2a3", Score: domain.Score{CP: 120}, Rank: 2},
		},
		PV: []string{"d1h5"},
	}
	engine.evals[positions[blunderPly+1].String()] = domain.EvaluationResult{
		BestMove: "d7d5",
		Lines: []domain.PvLine{
			// оценка от лица чёрных: им лучше на 150
			{Move: "d7d5", Score: domain.Score{CP: 150}, Rank: 1},
		},
	}

	games := &fakeGameStore{game: game.Game{ID: "g2", MovesPgn: testPgn}}
	store := &fakeLogStore{}
	a := newTestAnalyzer(t, engine, games, store)

	if err := a.AnalyzeGame(context.Background(), "g2", domain.AnalysisProfile{Depth: 12, MultiPV: 2}); err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}

	entry := store.appended[blunderPly]
	if entry.Classification != domain.ClassificationBlunder {
		t.Fatalf("ply %d classified as %s, want blunder", blunderPly, entry.Classification)
	}
	if entry.CentipawnLoss != 450 {
		t.Errorf("loss = %d, want 450", entry.CentipawnLoss)
	}
	if !entry.MissedWin {
		t.Error("missed win flag not set")
	}
	if entry.ScoreAfter.Centipawns() != -150 {
		t.Errorf("score after (white POV) = %d, want -150", entry.ScoreAfter.Centipawns())
	}
	played := chess.UCINotation{}.Encode(positions[blunderPly], moves[blunderPly])
	if entry.Move != played || entry.BestMove != "d1h5" {
		t.Errorf("entry move/best = %s/%s", entry.Move, entry.BestMove)
	}
	if entry.PlanHint == "" {
		t.Error("blunder entry has no plan hint")
	}

	found := false
	for _, rp := range store.reviews {
		if rp.Ply == blunderPly {
			found = true
			if rp.Priority != 450+300+50 {
				t.Errorf("review priority = %d, want 800", rp.Priority)
			}
			if rp.Classification != domain.ClassificationBlunder {
				t.Errorf("review classification = %s", rp.Classification)
			}
		}
	}
	if !found {
		t.Error("blunder ply not selected for review")
	}
}

func TestAnalyzeGameResumesFromPrefix(t *testing.T) {
	engine, totalPlies := scriptQuietGame(t, testPgn)
	_, positions, err := decodeMoves(testPgn)
	if err != nil {
		t.Fatalf("decode pgn: %v", err)
	}

	prefix := []domain.AnalysisLogEntry{
		{GameID: "g3", Ply: 0, Classification: domain.ClassificationBook, Color: "w"},
		{GameID: "g3", Ply: 1, Classification: domain.ClassificationBook, Color: "b"},
	}
	games := &fakeGameStore{game: game.Game{ID: "g3", MovesPgn: testPgn}}
	store := &fakeLogStore{prefix: prefix}
	a := newTestAnalyzer(t, engine, games, store)

	if err := a.AnalyzeGame(context.Background(), "g3", domain.AnalysisProfile{Depth: 12, MultiPV: 2}); err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}

	// движок не трогает уже пройденные полуходы
	for _, fen := range engine.calls {
		if fen == positions[0].String() || fen == positions[1].String() {
			t.Errorf("engine queried for already analyzed position %s", fen)
		}
	}
	if len(store.appended) != totalPlies-len(prefix) {
		t.Errorf("appended %d entries, want %d", len(store.appended), totalPlies-len(prefix))
	}
	if store.appended[0].Ply != len(prefix) {
		t.Errorf("resume started at ply %d, want %d", store.appended[0].Ply, len(prefix))
	}
	if games.completed == nil {
		t.Fatal("resumed game not completed")
	}
	// итог учитывает и префикс, и доанализированные полуходы
	if games.completed.Classifications["book"] != totalPlies {
		t.Errorf("book count = %d, want %d", games.completed.Classifications["book"], totalPlies)
	}
}

func TestAnalyzeGameTimeoutRequeues(t *testing.T) {
	engine, _ := scriptQuietGame(t, testPgn)
	_, positions, err := decodeMoves(testPgn)
	if err != nil {
		t.Fatalf("decode pgn: %v", err)
	}
	engine.errs[positions[0].String()] = errs.ErrEngineTimeout

	games := &fakeGameStore{game: game.Game{ID: "g4", MovesPgn: testPgn}}
	store := &fakeLogStore{}
	a := newTestAnalyzer(t, engine, games, store)

	err = a.AnalyzeGame(context.Background(), "g4", domain.AnalysisProfile{Depth: 12, MultiPV: 2})
	if !errors.Is(err, errs.ErrEngineTimeout) {
		t.Fatalf("AnalyzeGame error = %v, want engine timeout", err)
	}
	if !games.requeued {
		t.Error("game not requeued after timeout")
	}
	if games.failed {
		t.Error("timed out game must not be failed while retries remain")
	}
	if games.completed != nil {
		t.Error("timed out game marked completed")
	}
}

func TestExplicitBookOverridesSharpLine(t *testing.T) {
	moves, positions, err := decodeMoves(testPgn)
	if err != nil {
		t.Fatalf("decode pgn: %v", err)
	}
	engine, _ := scriptQuietGame(t, testPgn)

	// полуход 2 выглядит грубой ошибкой по оценкам движка
	const sharpPly = 2
	engine.evals[positions[sharpPly].String()] = domain.EvaluationResult{
		BestMove: "d1h5",
		Lines: []domain.PvLine{
			{Move: "d1h5", Score: domain.Score{CP: 300}, Rank: 1},
			{Move: "a2a3", Score: domain.Score{CP: 120}, Rank: 2},
		},
		PV: []string{"d1h5"},
	}
	engine.evals[positions[sharpPly+1].String()] = domain.EvaluationResult{
		BestMove: "d7d5",
		Lines: []domain.PvLine{
			{Move: "d7d5", Score: domain.Score{CP: 150}, Rank: 1},
		},
	}

	// но сыгранный ход есть в явной книге — вердикт book безусловен
	played := chess.UCINotation{}.Encode(positions[sharpPly], moves[sharpPly])
	book := map[string][]string{positionKey(positions[sharpPly].String()): {played}}

	games := &fakeGameStore{game: game.Game{ID: "g8", MovesPgn: testPgn}}
	store := &fakeLogStore{book: book}
	a := newTestAnalyzer(t, engine, games, store)

	if err := a.AnalyzeGame(context.Background(), "g8", domain.AnalysisProfile{Depth: 12, MultiPV: 2}); err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}

	entry := store.appended[sharpPly]
	if entry.Classification != domain.ClassificationBook {
		t.Errorf("book continuation classified as %s, want book", entry.Classification)
	}
	// потеря при этом остаётся в логе как есть
	if entry.CentipawnLoss != 450 {
		t.Errorf("loss = %d, want 450", entry.CentipawnLoss)
	}
}

func TestAnalyzeGameRetryAfterTimeoutCompletes(t *testing.T) {
	engine, totalPlies := scriptQuietGame(t, testPgn)
	_, positions, err := decodeMoves(testPgn)
	if err != nil {
		t.Fatalf("decode pgn: %v", err)
	}
	engine.errs[positions[2].String()] = errs.ErrEngineTimeout

	games := &fakeGameStore{game: game.Game{ID: "g7", MovesPgn: testPgn}}
	store := &fakeLogStore{}
	a := newTestAnalyzer(t, engine, games, store)

	err = a.AnalyzeGame(context.Background(), "g7", domain.AnalysisProfile{Depth: 12, MultiPV: 2})
	if !errors.Is(err, errs.ErrEngineTimeout) {
		t.Fatalf("first run error = %v, want engine timeout", err)
	}
	if len(store.appended) != 2 {
		t.Fatalf("partial log has %d entries, want 2", len(store.appended))
	}

	// второй заход после requeue: движок ожил, лог продолжается с третьего
	// полухода
	delete(engine.errs, positions[2].String())
	store.prefix = store.appended
	store.appended = nil

	if err := a.AnalyzeGame(context.Background(), "g7", domain.AnalysisProfile{Depth: 12, MultiPV: 2}); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if len(store.appended) != totalPlies-2 {
		t.Errorf("retry appended %d entries, want %d", len(store.appended), totalPlies-2)
	}
	if games.completed == nil {
		t.Fatal("game not completed after retry")
	}
}

func TestAnalyzeGameRejectsBrokenRecord(t *testing.T) {
	games := &fakeGameStore{game: game.Game{ID: "g5", MovesPgn: "this is not a pgn"}}
	store := &fakeLogStore{}
	a := newTestAnalyzer(t, &fakeEngine{}, games, store)

	err := a.AnalyzeGame(context.Background(), "g5", domain.AnalysisProfile{Depth: 12})
	if !errors.Is(err, errs.ErrInvalidGameRecord) {
		t.Fatalf("AnalyzeGame error = %v, want invalid game record", err)
	}
	if !games.failed {
		t.Error("broken game not marked failed")
	}
}

func TestExplicitBookOverridesHeuristic(t *testing.T) {
	moves, positions, err := decodeMoves(testPgn)
	if err != nil {
		t.Fatalf("decode pgn: %v", err)
	}
	engine, _ := scriptQuietGame(t, testPgn)

	// явная книга знает только d1h5 — сыгранный ход книжным не считается
	played := chess.UCINotation{}.Encode(positions[0], moves[0])
	book := map[string][]string{positionKey(positions[0].String()): {"d2d4"}}

	games := &fakeGameStore{game: game.Game{ID: "g6", MovesPgn: testPgn}}
	store := &fakeLogStore{book: book}
	a := newTestAnalyzer(t, engine, games, store)

	if err := a.AnalyzeGame(context.Background(), "g6", domain.AnalysisProfile{Depth: 12, MultiPV: 2}); err != nil {
		t.Fatalf("AnalyzeGame: %v", err)
	}

	first := store.appended[0]
	if first.Move != played {
		t.Fatalf("first entry move = %s, want %s", first.Move, played)
	}
	if first.Classification == domain.ClassificationBook {
		t.Errorf("move outside explicit book classified as book")
	}
	// остальные позиции в книге отсутствуют — работает эвристика
	if store.appended[1].Classification != domain.ClassificationBook {
		t.Errorf("heuristic book move classified as %s", store.appended[1].Classification)
	}
}
