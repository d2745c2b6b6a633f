package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
	"chess_exe/internal/domain/game"
	errs "chess_exe/internal/errors"
	"chess_exe/internal/statuses"
)

// GameQueue — очередь партий на стороне хранилища.
type GameQueue interface {
	ClaimNextPending(ctx context.Context) (game.Game, bool, error)
	StaleAnalyzing(ctx context.Context, olderThan time.Time) ([]game.Game, error)
	DemoteStale(ctx context.Context, id string) error
	DemoteAnalyzing(ctx context.Context) error
	MarkFailed(ctx context.Context, id string) error
	MarkIgnored(ctx context.Context, id string) error
	QueueKicks(ctx context.Context) <-chan struct{}
}

// GameAnalyzer анализирует одну партию целиком.
type GameAnalyzer interface {
	AnalyzeGame(ctx context.Context, gameID string, profile domain.AnalysisProfile) error
}

// EngineController — управление процессом движка со стороны планировщика.
type EngineController interface {
	Init(ctx context.Context) error
	Stop()
	Terminate()
}

// Scheduler опрашивает очередь по таймеру и по сигналу из pubsub, гоняет
// партии через анализатор строго по одной и прибирает зависшие.
type Scheduler struct {
	cfg      *bootstrap.Config
	log      *zap.SugaredLogger
	queue    GameQueue
	analyzer GameAnalyzer
	engine   EngineController

	profile domain.AnalysisProfile
	tracked []string
	polling atomic.Bool

	tick      time.Duration
	gameDelay time.Duration
}

func NewScheduler(cfg *bootstrap.Config, log *zap.SugaredLogger, queue GameQueue, analyzer GameAnalyzer, engine EngineController) *Scheduler {
	tick := time.Duration(cfg.SchedulerTickSeconds) * time.Second
	if tick <= 0 {
		tick = 15 * time.Second
	}
	return &Scheduler{
		cfg:       cfg,
		log:       log,
		queue:     queue,
		analyzer:  analyzer,
		engine:    engine,
		profile:   cfg.Profile(),
		tracked:   cfg.TrackedPlayerList(),
		tick:      tick,
		gameDelay: 100 * time.Millisecond,
	}
}

// Run крутит цикл планировщика до отмены контекста. Просыпается по тику и по
// сигналу очереди.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	kicks := s.queue.QueueKicks(ctx)

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		case <-kicks:
			s.Poll(ctx)
		}
	}
}

// Poll — один проход: уборка зависших, затем выгребание очереди до дна.
// Повторный вход игнорируется, пока предыдущий проход не закончился.
func (s *Scheduler) Poll(ctx context.Context) {
	if !s.polling.CompareAndSwap(false, true) {
		return
	}
	defer s.polling.Store(false)

	s.demoteStale(ctx)
	s.drainQueue(ctx)
}

// demoteStale снимает партии, чей heartbeat молчит дольше бюджета: процесс,
// который их анализировал, умер, не успев поменять статус.
func (s *Scheduler) demoteStale(ctx context.Context) {
	budget := s.stalenessBudget()
	stale, err := s.queue.StaleAnalyzing(ctx, time.Now().Add(-budget))
	if err != nil {
		s.log.Errorw("stale scan failed", "error", err)
		return
	}
	for _, g := range stale {
		s.log.Warnw("demoting stale game", "game", g.ID, "heartbeat", g.Heartbeat)
		if err := s.queue.DemoteStale(ctx, g.ID); err != nil {
			s.log.Errorw("stale demotion failed", "game", g.ID, "error", err)
		}
	}
}

// stalenessBudget растёт с глубиной и числом вариантов: медленный анализ —
// ещё не зависший.
func (s *Scheduler) stalenessBudget() time.Duration {
	return 30*time.Second + time.Duration(s.profile.Depth*s.profile.MultiPV)*2*time.Second
}

func (s *Scheduler) drainQueue(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, ok, err := s.queue.ClaimNextPending(ctx)
		if err != nil {
			s.log.Errorw("queue claim failed", "error", err)
			return
		}
		if !ok {
			return
		}

		if err := s.validate(claimed); err != nil {
			switch {
			case errors.Is(err, errs.ErrInvalidGameRecord):
				s.log.Warnw("game has empty move list", "game", claimed.ID)
				_ = s.queue.MarkFailed(ctx, claimed.ID)
			case errors.Is(err, errs.ErrNoTrackedParticipant):
				s.log.Infow("game has no tracked participant", "game", claimed.ID)
				_ = s.queue.MarkIgnored(ctx, claimed.ID)
			}
			continue
		}

		if err := s.engine.Init(ctx); err != nil {
			s.log.Errorw("engine init failed", "error", err)
			_ = s.queue.MarkFailed(ctx, claimed.ID)
			return
		}

		s.log.Infow("analysis started", "game", claimed.ID, "white", claimed.White, "black", claimed.Black)
		if err := s.analyzer.AnalyzeGame(ctx, claimed.ID, s.profile); err != nil {
			s.log.Warnw("analysis did not complete", "game", claimed.ID, "error", err)
		} else {
			s.log.Infow("analysis completed", "game", claimed.ID)
		}

		// передышка между партиями
		if s.gameDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.gameDelay):
			}
		}
	}
}

// validate отбраковывает партии до запуска движка. Пустой список
// отслеживаемых означает «анализировать всё».
func (s *Scheduler) validate(g game.Game) error {
	if strings.TrimSpace(g.MovesPgn) == "" {
		return errs.ErrInvalidGameRecord
	}
	if len(s.tracked) > 0 && !s.hasTrackedParticipant(g) {
		return errs.ErrNoTrackedParticipant
	}
	if g.Status != "" && g.Status != statuses.StatusAnalyzing {
		// claim обязан был перевести статус; расхождение значит гонку
		s.log.Warnw("claimed game in unexpected status", "game", g.ID, "status", g.Status)
	}
	return nil
}

func (s *Scheduler) hasTrackedParticipant(g game.Game) bool {
	for _, player := range s.tracked {
		if strings.EqualFold(player, g.White) || strings.EqualFold(player, g.Black) {
			return true
		}
	}
	return false
}

// StopAnalysis прерывает текущий поиск, гасит процесс движка и снимает все
// партии из статуса analyzing. Очередь pending не трогается.
func (s *Scheduler) StopAnalysis(ctx context.Context) error {
	s.engine.Stop()
	s.engine.Terminate()
	return s.queue.DemoteAnalyzing(ctx)
}
