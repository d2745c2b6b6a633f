package stats

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
	"chess_exe/internal/domain/game"
)

// StatsStore — выборки по завершённым партиям и связанным данным.
type StatsStore interface {
	ListCompleted(ctx context.Context) ([]game.Game, error)
}

// ReviewStore отдаёт позиции для повторения в порядке приоритета.
type ReviewStore interface {
	ReviewPositions(ctx context.Context, limit int) ([]domain.ReviewPosition, error)
	LogPrefix(ctx context.Context, gameID string) ([]domain.AnalysisLogEntry, error)
}

// Stats строит витрины по завершённым партиям. Все проекции считаются на
// лету: объёмы личного архива этого не требуют предрасчёта.
type Stats struct {
	cfg     *bootstrap.Config
	log     *zap.SugaredLogger
	store   StatsStore
	reviews ReviewStore
	tracked []string
}

func NewStats(cfg *bootstrap.Config, log *zap.SugaredLogger, store StatsStore, reviews ReviewStore) *Stats {
	return &Stats{
		cfg:     cfg,
		log:     log,
		store:   store,
		reviews: reviews,
		tracked: cfg.TrackedPlayerList(),
	}
}

// RatingPoint — рейтинг отслеживаемого игрока после партии.
type RatingPoint struct {
	GameID   string    `json:"game_id"`
	PlayedAt time.Time `json:"played_at"`
	Player   string    `json:"player"`
	Rating   int       `json:"rating"`
	Perf     string    `json:"perf,omitempty"`
}

// AccuracyPoint — точность отслеживаемого игрока в партии.
type AccuracyPoint struct {
	GameID   string    `json:"game_id"`
	PlayedAt time.Time `json:"played_at"`
	Player   string    `json:"player"`
	Accuracy float64   `json:"accuracy"`
}

// OpeningAggregate — сводка по дебюту: счёт и средняя точность.
type OpeningAggregate struct {
	EcoCode     string  `json:"eco_code"`
	OpeningName string  `json:"opening_name,omitempty"`
	Games       int     `json:"games"`
	Wins        int     `json:"wins"`
	Draws       int     `json:"draws"`
	Losses      int     `json:"losses"`
	AvgAccuracy float64 `json:"avg_accuracy"`
}

// TopWin — победа, отранжированная качеством игры и силой соперника.
type TopWin struct {
	GameID         string    `json:"game_id"`
	PlayedAt       time.Time `json:"played_at"`
	Player         string    `json:"player"`
	Opponent       string    `json:"opponent"`
	OpponentRating int       `json:"opponent_rating"`
	Accuracy       float64   `json:"accuracy"`
	Score          float64   `json:"score"`
}

// ExportBundle — полный слепок архива для выгрузки.
type ExportBundle struct {
	GeneratedAt time.Time                             `json:"generated_at"`
	Games       []game.Game                           `json:"games"`
	Logs        map[string][]domain.AnalysisLogEntry  `json:"logs"`
	Reviews     []domain.ReviewPosition               `json:"reviews"`
}

// trackedSide возвращает имя и цвет отслеживаемого участника партии. Если
// список отслеживаемых пуст, берётся белый игрок.
func (s *Stats) trackedSide(g game.Game) (player string, isWhite bool, ok bool) {
	if len(s.tracked) == 0 {
		return g.White, true, true
	}
	for _, p := range s.tracked {
		if strings.EqualFold(p, g.White) {
			return g.White, true, true
		}
		if strings.EqualFold(p, g.Black) {
			return g.Black, false, true
		}
	}
	return "", false, false
}

func sideResult(result string, isWhite bool) float64 {
	switch result {
	case "1-0":
		if isWhite {
			return 1
		}
		return 0
	case "0-1":
		if isWhite {
			return 0
		}
		return 1
	case "1/2-1/2":
		return 0.5
	default:
		return 0.5
	}
}

func sideAccuracy(g game.Game, isWhite bool) float64 {
	if isWhite {
		return g.Summary.AccuracyWhite
	}
	return g.Summary.AccuracyBlack
}

// RatingSeries — динамика рейтинга по времени партии.
func (s *Stats) RatingSeries(ctx context.Context) ([]RatingPoint, error) {
	completed, err := s.store.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}

	series := make([]RatingPoint, 0, len(completed))
	for _, g := range completed {
		player, isWhite, ok := s.trackedSide(g)
		if !ok {
			continue
		}
		rating := g.WhiteRating
		if !isWhite {
			rating = g.BlackRating
		}
		if rating == 0 {
			continue
		}
		series = append(series, RatingPoint{
			GameID:   g.ID,
			PlayedAt: g.PlayedAt,
			Player:   player,
			Rating:   rating,
			Perf:     g.Perf,
		})
	}
	return series, nil
}

// AccuracySeries — точность по партиям в хронологическом порядке.
func (s *Stats) AccuracySeries(ctx context.Context) ([]AccuracyPoint, error) {
	completed, err := s.store.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}

	series := make([]AccuracyPoint, 0, len(completed))
	for _, g := range completed {
		player, isWhite, ok := s.trackedSide(g)
		if !ok {
			continue
		}
		series = append(series, AccuracyPoint{
			GameID:   g.ID,
			PlayedAt: g.PlayedAt,
			Player:   player,
			Accuracy: sideAccuracy(g, isWhite),
		})
	}
	return series, nil
}

// OpeningAggregates группирует партии по коду ECO. Партии без кода собираются
// в ключ "?".
func (s *Stats) OpeningAggregates(ctx context.Context) ([]OpeningAggregate, error) {
	completed, err := s.store.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		agg    OpeningAggregate
		accSum float64
	}
	buckets := make(map[string]*bucket)
	for _, g := range completed {
		_, isWhite, ok := s.trackedSide(g)
		if !ok {
			continue
		}
		eco := g.EcoCode
		if eco == "" {
			eco = "?"
		}
		b, exists := buckets[eco]
		if !exists {
			b = &bucket{agg: OpeningAggregate{EcoCode: eco, OpeningName: g.OpeningName}}
			buckets[eco] = b
		}
		b.agg.Games++
		switch sideResult(g.Result, isWhite) {
		case 1:
			b.agg.Wins++
		case 0:
			b.agg.Losses++
		default:
			b.agg.Draws++
		}
		b.accSum += sideAccuracy(g, isWhite)
	}

	aggregates := make([]OpeningAggregate, 0, len(buckets))
	for _, b := range buckets {
		if b.agg.Games > 0 {
			b.agg.AvgAccuracy = roundTenth(b.accSum / float64(b.agg.Games))
		}
		aggregates = append(aggregates, b.agg)
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].Games != aggregates[j].Games {
			return aggregates[i].Games > aggregates[j].Games
		}
		return aggregates[i].EcoCode < aggregates[j].EcoCode
	})
	return aggregates, nil
}

// TopWins — лучшие победы: точность игры плюс бонус за рейтинг соперника.
func (s *Stats) TopWins(ctx context.Context, limit int) ([]TopWin, error) {
	completed, err := s.store.ListCompleted(ctx)
	if err != nil {
		return nil, err
	}

	var wins []TopWin
	for _, g := range completed {
		player, isWhite, ok := s.trackedSide(g)
		if !ok || sideResult(g.Result, isWhite) != 1 {
			continue
		}
		opponent, opponentRating := g.Black, g.BlackRating
		if !isWhite {
			opponent, opponentRating = g.White, g.WhiteRating
		}
		accuracy := sideAccuracy(g, isWhite)
		wins = append(wins, TopWin{
			GameID:         g.ID,
			PlayedAt:       g.PlayedAt,
			Player:         player,
			Opponent:       opponent,
			OpponentRating: opponentRating,
			Accuracy:       accuracy,
			Score:          accuracy + float64(opponentRating)/100,
		})
	}
	sort.Slice(wins, func(i, j int) bool { return wins[i].Score > wins[j].Score })
	if limit > 0 && len(wins) > limit {
		wins = wins[:limit]
	}
	return wins, nil
}

// Export собирает полный слепок: партии, их логи и позиции для повторения.
func (s *Stats) Export(ctx context.Context) (ExportBundle, error) {
	completed, err := s.store.ListCompleted(ctx)
	if err != nil {
		return ExportBundle{}, err
	}

	logs := make(map[string][]domain.AnalysisLogEntry, len(completed))
	for _, g := range completed {
		entries, err := s.reviews.LogPrefix(ctx, g.ID)
		if err != nil {
			s.log.Warnw("export: log fetch failed", "game", g.ID, "error", err)
			continue
		}
		logs[g.ID] = entries
	}

	reviews, err := s.reviews.ReviewPositions(ctx, 0)
	if err != nil {
		return ExportBundle{}, err
	}

	return ExportBundle{
		GeneratedAt: time.Now(),
		Games:       completed,
		Logs:        logs,
		Reviews:     reviews,
	}, nil
}

func roundTenth(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
