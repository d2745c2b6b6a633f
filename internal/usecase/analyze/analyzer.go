package analyze

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/notnil/chess"
	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
	"chess_exe/internal/domain/game"
	errs "chess_exe/internal/errors"
	"chess_exe/internal/statuses"
)

// Engine — обёртка процесса движка со стороны анализатора.
type Engine interface {
	Analyze(ctx context.Context, fen string, profile domain.AnalysisProfile) (domain.EvaluationResult, error)
}

// GameStore — операции над партией и её статусом.
type GameStore interface {
	GetByID(ctx context.Context, id string) (game.Game, error)
	TouchHeartbeat(ctx context.Context, id string, progress int) error
	PublishProgress(ctx context.Context, event domain.ProgressEvent)
	MarkCompleted(ctx context.Context, id string, summary game.AnalysisSummary) error
	MarkFailed(ctx context.Context, id string) error
	RequeueForRetry(ctx context.Context, id string, maxRetries int) (bool, error)
}

// LogStore — полуходовый лог, позиции для повторения и дебютная книга.
type LogStore interface {
	LogPrefix(ctx context.Context, gameID string) ([]domain.AnalysisLogEntry, error)
	AppendLogEntry(ctx context.Context, entry domain.AnalysisLogEntry) error
	InsertReviewPositions(ctx context.Context, positions []domain.ReviewPosition) error
	EvictReviewPositions(ctx context.Context, limit int) (int, error)
	BookMoves(ctx context.Context, positionKey string) ([]string, error)
}

// Analyzer проигрывает партию полуход за полуходом, спрашивает движок и пишет
// лог. Одновременно анализируется не больше одной партии — это гарантирует
// планировщик.
type Analyzer struct {
	log    *zap.SugaredLogger
	engine Engine
	games  GameStore
	store  LogStore
	llm    LlmStore

	maxRetries  int
	reviewLimit int
	plyDelay    time.Duration
}

func NewAnalyzer(cfg *bootstrap.Config, log *zap.SugaredLogger, engine Engine, games GameStore, store LogStore, llm LlmStore) *Analyzer {
	return &Analyzer{
		log:         log,
		engine:      engine,
		games:       games,
		store:       store,
		llm:         llm,
		maxRetries:  cfg.MaxRetries(),
		reviewLimit: cfg.ReviewStorageLimit(),
		plyDelay:    25 * time.Millisecond,
	}
}

// AnalyzeGame анализирует одну партию от начала до конца. Если в логе уже
// есть префикс (партия перезапущена после сбоя), анализ продолжается с
// первого недостающего полухода.
func (a *Analyzer) AnalyzeGame(ctx context.Context, gameID string, profile domain.AnalysisProfile) error {
	claimed, err := a.games.GetByID(ctx, gameID)
	if err != nil {
		return err
	}

	moves, positions, err := decodeMoves(claimed.MovesPgn)
	if err != nil || len(moves) == 0 {
		a.log.Warnw("game has no playable moves", "game", gameID, "error", err)
		_ = a.games.MarkFailed(ctx, gameID)
		return errs.ErrInvalidGameRecord
	}

	prefix, err := a.store.LogPrefix(ctx, gameID)
	if err != nil {
		_ = a.games.MarkFailed(ctx, gameID)
		return err
	}
	if len(prefix) > len(moves) {
		// лог длиннее партии — запись повреждена
		_ = a.games.MarkFailed(ctx, gameID)
		return errs.ErrInvalidGameRecord
	}

	totals := newRunningTotals()
	entries := make([]domain.AnalysisLogEntry, 0, len(moves))
	for _, e := range prefix {
		totals.apply(e)
		entries = append(entries, e)
	}
	if len(prefix) > 0 {
		a.log.Infow("resuming analysis from log prefix", "game", gameID, "ply", len(prefix))
	}

	for ply := len(prefix); ply < len(moves); ply++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, err := a.analyzePly(ctx, gameID, moves, positions, ply, profile)
		if err != nil {
			return a.handlePlyError(ctx, gameID, err)
		}

		// Зевок перепроверяется на большей глубине: тактика на горизонте
		// поиска часто меняет вердикт.
		if entry.Classification == domain.ClassificationBlunder && profile.DeepDepth > profile.Depth {
			deep := profile
			deep.Depth = profile.DeepDepth
			if verified, derr := a.analyzePly(ctx, gameID, moves, positions, ply, deep); derr == nil {
				entry = verified
			}
		}

		if err := a.store.AppendLogEntry(ctx, entry); err != nil {
			_ = a.games.MarkFailed(ctx, gameID)
			return err
		}
		totals.apply(entry)
		entries = append(entries, entry)

		progress := (ply + 1) * 100 / len(moves)
		if err := a.games.TouchHeartbeat(ctx, gameID, progress); err != nil {
			a.log.Warnw("heartbeat update failed", "game", gameID, "error", err)
		}
		a.games.PublishProgress(ctx, domain.ProgressEvent{
			GameID:         gameID,
			Status:         statuses.StatusAnalyzing,
			Progress:       progress,
			Ply:            ply,
			Classification: entry.Classification,
		})

		// пауза между полуходами, чтобы не монополизировать движок и CPU
		if a.plyDelay > 0 {
			time.Sleep(a.plyDelay)
		}
	}

	if err := a.store.InsertReviewPositions(ctx, buildReviewPositions(gameID, entries, time.Now())); err != nil {
		a.log.Warnw("review positions insert failed", "game", gameID, "error", err)
	}
	if _, err := a.store.EvictReviewPositions(ctx, a.reviewLimit); err != nil {
		a.log.Warnw("review eviction failed", "error", err)
	}

	return a.games.MarkCompleted(ctx, gameID, totals.summary())
}

// handlePlyError: таймаут движка повторяем через очередь, отмену пробрасываем
// без смены статуса (останавливающий сам разбирается со статусами), остальное
// фатально для партии.
func (a *Analyzer) handlePlyError(ctx context.Context, gameID string, err error) error {
	switch {
	case errors.Is(err, errs.ErrEngineTimeout):
		requeued, rerr := a.games.RequeueForRetry(ctx, gameID, a.maxRetries)
		if rerr != nil {
			a.log.Errorw("requeue after engine timeout failed", "game", gameID, "error", rerr)
		}
		a.log.Warnw("engine timed out", "game", gameID, "requeued", requeued)
		return err
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		_ = a.games.MarkFailed(ctx, gameID)
		return err
	}
}

// analyzePly вычисляет запись лога для одного полухода. Оценка позиции после
// хода берётся из multipv-линий того же запроса; только если сыгранный ход в
// них не попал, делается второй, более мелкий запрос.
func (a *Analyzer) analyzePly(ctx context.Context, gameID string, moves []*chess.Move, positions []*chess.Position, ply int, profile domain.AnalysisProfile) (domain.AnalysisLogEntry, error) {
	posBefore := positions[ply]
	posAfter := positions[ply+1]
	move := moves[ply]
	mover := posBefore.Turn()
	moverSign := 1
	if mover == chess.Black {
		moverSign = -1
	}
	fenBefore := posBefore.String()
	played := chess.UCINotation{}.Encode(posBefore, move)

	res, err := a.engine.Analyze(ctx, fenBefore, profile)
	if err != nil {
		return domain.AnalysisLogEntry{}, err
	}
	lines := normalizeLines(res.Lines, mover)
	top, ok := topLine(lines)
	if !ok {
		return domain.AnalysisLogEntry{}, errs.ErrEngineProcess
	}
	scoreBefore := top.Score // от лица белых

	var scoreAfter domain.Score
	if line, found := lineForMove(lines, played); found {
		scoreAfter = line.Score
	} else {
		shallow := profile
		shallow.Depth = shallowDepth(profile.Depth)
		shallow.MultiPV = 1
		resAfter, err := a.engine.Analyze(ctx, posAfter.String(), shallow)
		if err != nil {
			return domain.AnalysisLogEntry{}, err
		}
		topAfter, ok := resAfter.Top()
		if !ok {
			return domain.AnalysisLogEntry{}, errs.ErrEngineProcess
		}
		scoreAfter = topAfter.Score
		if posAfter.Turn() == chess.Black {
			scoreAfter = scoreAfter.Flip()
		}
	}

	beforeMover := moverSign * scoreBefore.Centipawns()
	afterMover := moverSign * scoreAfter.Centipawns()
	diff := beforeMover - afterMover
	if diff < 0 {
		diff = 0
	}

	materialDelta := moverMaterialDelta(posBefore, posAfter, mover)
	lookahead := lookaheadMaterialDelta(posBefore, res.PV, 6, mover)
	phase := classifyPhase(ply, totalMaterial(posAfter.Board()))
	motifs := detectMotifs(posAfter, mover, materialDelta, lookahead, afterMover)

	facts := moveFacts{
		before:         beforeMover,
		after:          afterMover,
		diff:           diff,
		isTop:          played == res.BestMove || played == top.Move,
		gap:            lineGap(lines, moverSign),
		materialDelta:  materialDelta,
		lookaheadDelta: lookahead,
		phase:          phase,
		motifs:         motifs,
		isRecapture:    isRecapture(moves, ply),
	}
	cls := classify(facts)

	// Книжное продолжение главнее любого вердикта: теория бывает и острой.
	if a.isBookMove(ctx, fenBefore, played, facts, move, scoreAfter) {
		cls = domain.ClassificationBook
	}

	entry := domain.AnalysisLogEntry{
		GameID:         gameID,
		Ply:            ply,
		FenBefore:      fenBefore,
		Move:           played,
		BestMove:       res.BestMove,
		Lines:          lines,
		ScoreBefore:    scoreBefore,
		ScoreAfter:     scoreAfter,
		Classification: cls,
		CentipawnLoss:  diff,
		Color:          colorTag(mover),
		Phase:          phase,
		Motifs:         motifs,
		MissedWin:      beforeMover >= clearlyWinning && diff > inaccuracyBar,
		MissedDefense:  beforeMover <= clearlyLosing && diff > inaccuracyBar,
	}
	entry.PlanHint = a.planHint(entry, res.PV)
	return entry, nil
}

// isBookMove: явная книга главнее эвристики. Эвристика признаёт книжными
// только тихие точные ходы дебютной фазы в равной позиции.
func (a *Analyzer) isBookMove(ctx context.Context, fenBefore, played string, f moveFacts, move *chess.Move, scoreAfter domain.Score) bool {
	if f.phase != domain.PhaseOpening {
		return false
	}

	bookMoves, err := a.store.BookMoves(ctx, positionKey(fenBefore))
	if err == nil && len(bookMoves) > 0 {
		return containsMove(bookMoves, played)
	}

	return f.isTop && f.diff <= bestTolerance &&
		!move.HasTag(chess.Capture) &&
		abs(scoreAfter.Centipawns()) <= nearEqualBand
}

func decodeMoves(pgn string) ([]*chess.Move, []*chess.Position, error) {
	opt, err := chess.PGN(strings.NewReader(pgn))
	if err != nil {
		return nil, nil, err
	}
	g := chess.NewGame(opt)
	return g.Moves(), g.Positions(), nil
}

// normalizeLines переводит оценки линий от стороны хода к белым.
func normalizeLines(lines []domain.PvLine, mover chess.Color) []domain.PvLine {
	if mover == chess.White {
		return lines
	}
	flipped := make([]domain.PvLine, len(lines))
	for i, l := range lines {
		l.Score = l.Score.Flip()
		flipped[i] = l
	}
	return flipped
}

func topLine(lines []domain.PvLine) (domain.PvLine, bool) {
	for _, l := range lines {
		if l.Rank == 1 {
			return l, true
		}
	}
	if len(lines) > 0 {
		return lines[0], true
	}
	return domain.PvLine{}, false
}

func lineForMove(lines []domain.PvLine, move string) (domain.PvLine, bool) {
	for _, l := range lines {
		if l.Move == move {
			return l, true
		}
	}
	return domain.PvLine{}, false
}

// lineGap — отрыв лучшей линии от второй в очках ходившего. Ноль, если
// вариантов меньше двух.
func lineGap(lines []domain.PvLine, moverSign int) int {
	var first, second *domain.PvLine
	for i := range lines {
		switch lines[i].Rank {
		case 1:
			first = &lines[i]
		case 2:
			second = &lines[i]
		}
	}
	if first == nil || second == nil {
		return 0
	}
	gap := moverSign * (first.Score.Centipawns() - second.Score.Centipawns())
	if gap < 0 {
		return 0
	}
	return gap
}

func isRecapture(moves []*chess.Move, ply int) bool {
	if ply == 0 {
		return false
	}
	cur, prev := moves[ply], moves[ply-1]
	return cur.HasTag(chess.Capture) && prev.HasTag(chess.Capture) && cur.S2() == prev.S2()
}

// shallowDepth — глубина дооценки позиции после хода: полный повтор не нужен,
// хватает уменьшенного поиска.
func shallowDepth(depth int) int {
	depth -= 4
	if depth < 6 {
		depth = 6
	}
	return depth
}

func colorTag(c chess.Color) string {
	if c == chess.White {
		return "w"
	}
	return "b"
}

// runningTotals копит итоги партии по ходу анализа; при возобновлении
// восстанавливается из префикса лога.
type runningTotals struct {
	accSumWhite, accSumBlack float64
	movesWhite, movesBlack   int
	lossWhite, lossBlack     int
	counts                   map[string]int
	maxSwing                 int
	streak, bestStreak       int
}

func newRunningTotals() *runningTotals {
	return &runningTotals{counts: make(map[string]int)}
}

func (t *runningTotals) apply(e domain.AnalysisLogEntry) {
	accuracy := moveAccuracy(e.CentipawnLoss, e.Classification)
	if e.Color == "w" {
		t.accSumWhite += accuracy
		t.movesWhite++
		t.lossWhite += e.CentipawnLoss
	} else {
		t.accSumBlack += accuracy
		t.movesBlack++
		t.lossBlack += e.CentipawnLoss
	}
	t.counts[string(e.Classification)]++

	if swing := abs(e.ScoreAfter.Centipawns() - e.ScoreBefore.Centipawns()); swing > t.maxSwing {
		t.maxSwing = swing
	}

	switch e.Classification {
	case domain.ClassificationInaccuracy, domain.ClassificationMistake, domain.ClassificationBlunder:
		t.streak = 0
	default:
		t.streak++
		if t.streak > t.bestStreak {
			t.bestStreak = t.streak
		}
	}
}

func (t *runningTotals) summary() game.AnalysisSummary {
	return game.AnalysisSummary{
		AccuracyWhite:   averageAccuracy(t.accSumWhite, t.movesWhite),
		AccuracyBlack:   averageAccuracy(t.accSumBlack, t.movesBlack),
		TotalLossWhite:  t.lossWhite,
		TotalLossBlack:  t.lossBlack,
		Classifications: t.counts,
		MaxSwing:        t.maxSwing,
		CleanStreak:     t.bestStreak,
	}
}

func averageAccuracy(sum float64, moves int) float64 {
	if moves == 0 {
		return 0
	}
	return math.Round(sum/float64(moves)*10) / 10
}

// Вес вердикта при расчёте приоритета позиции для повторения.
func reviewWeight(cls domain.Classification) int {
	switch cls {
	case domain.ClassificationBlunder:
		return 300
	case domain.ClassificationBrilliant:
		return 250
	case domain.ClassificationMistake:
		return 200
	case domain.ClassificationGreat:
		return 150
	case domain.ClassificationInaccuracy:
		return 100
	default:
		return 0
	}
}

// buildReviewPositions отбирает из лога позиции, достойные повторения:
// ошибки, находки и упущенные шансы.
func buildReviewPositions(gameID string, entries []domain.AnalysisLogEntry, now time.Time) []domain.ReviewPosition {
	var positions []domain.ReviewPosition
	for _, e := range entries {
		weight := reviewWeight(e.Classification)
		if weight == 0 && !e.MissedWin && !e.MissedDefense {
			continue
		}

		tags := make([]string, 0, len(e.Motifs)+2)
		for _, m := range e.Motifs {
			tags = append(tags, string(m))
		}
		priority := e.CentipawnLoss + weight
		if e.MissedWin {
			tags = append(tags, "missed_win")
			priority += 50
		}
		if e.MissedDefense {
			tags = append(tags, "missed_defense")
			priority += 50
		}

		positions = append(positions, domain.ReviewPosition{
			ID:             uuid.New().String(),
			GameID:         gameID,
			Ply:            e.Ply,
			Fen:            e.FenBefore,
			Move:           e.Move,
			BestMove:       e.BestMove,
			Loss:           e.CentipawnLoss,
			Classification: e.Classification,
			Tags:           tags,
			Priority:       priority,
			NextReview:     now.Add(24 * time.Hour),
			LastSeen:       now,
		})
	}
	return positions
}
