package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
	"chess_exe/internal/domain/game"
	errs "chess_exe/internal/errors"
	"chess_exe/internal/statuses"
)

const (
	queueChannel    = "analysis:queue"
	progressChannel = "analysis:progress"
)

type GameRepository struct {
	cfg   bootstrap.Config
	log   *zap.SugaredLogger
	redis *redis.Client
	mongo *mongo.Database
}

func NewGameRepository(cfg bootstrap.Config, log *zap.SugaredLogger, redisClient *redis.Client, mongoDb *mongo.Database) *GameRepository {
	return &GameRepository{
		cfg:   cfg,
		log:   log,
		redis: redisClient,
		mongo: mongoDb,
	}
}

func (g *GameRepository) games() *mongo.Collection {
	return g.mongo.Collection("games")
}

func (g *GameRepository) Insert(ctx context.Context, gameData game.Game) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if gameData.Status == "" {
		gameData.Status = statuses.StatusIdle
	}
	gameData.CreatedAt = time.Now()

	_, err := g.games().InsertOne(ctx, gameData)
	if err != nil {
		g.log.Errorf("failed to insert game to database: %v", err)
		return err
	}
	return nil
}

func (g *GameRepository) GetByID(ctx context.Context, id string) (game.Game, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var found game.Game
	err := g.games().FindOne(ctx, bson.M{"_id": id}).Decode(&found)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return game.Game{}, errs.ErrGameNotFound
	} else if err != nil {
		g.log.Error(err)
		return game.Game{}, err
	}
	return found, nil
}

// SetPending ставит партию в очередь и будит планировщик через pubsub.
func (g *GameRepository) SetPending(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := g.games().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": statuses.StatusPending}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrGameNotFound
	}

	if g.redis != nil {
		if err := g.redis.Publish(ctx, queueChannel, id).Err(); err != nil {
			g.log.Warnw("queue kick publish failed", "error", err)
		}
	}
	return nil
}

// ClaimNextPending атомарно забирает самую старую pending-партию в работу:
// status -> analyzing, выставляются отметки старта и heartbeat.
func (g *GameRepository) ClaimNextPending(ctx context.Context) (game.Game, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var claimed game.Game
	err := g.games().FindOneAndUpdate(ctx,
		bson.M{"status": statuses.StatusPending},
		bson.M{"$set": bson.M{
			"status":     statuses.StatusAnalyzing,
			"started_at": now,
			"heartbeat":  now,
		}},
		opts,
	).Decode(&claimed)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return game.Game{}, false, nil
	} else if err != nil {
		return game.Game{}, false, err
	}
	return claimed, true, nil
}

func (g *GameRepository) CountByStatus(ctx context.Context, status string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n, err := g.games().CountDocuments(ctx, bson.M{"status": status})
	return int(n), err
}

// StaleAnalyzing находит партии, чей heartbeat не двигался дольше бюджета.
func (g *GameRepository) StaleAnalyzing(ctx context.Context, olderThan time.Time) ([]game.Game, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cursor, err := g.games().Find(ctx, bson.M{
		"status":    statuses.StatusAnalyzing,
		"heartbeat": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var stale []game.Game
	if err := cursor.All(ctx, &stale); err != nil {
		return nil, err
	}
	return stale, nil
}

// DemoteStale переводит зависшую партию в failed и чистит маркеры запуска,
// чтобы она не держала очередь.
func (g *GameRepository) DemoteStale(ctx context.Context, id string) error {
	return g.markWithCleanup(ctx, id, statuses.StatusFailed)
}

// DemoteAnalyzing — путь «остановить анализ»: все партии в работе становятся
// failed с очищенным heartbeat.
func (g *GameRepository) DemoteAnalyzing(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := g.games().UpdateMany(ctx,
		bson.M{"status": statuses.StatusAnalyzing},
		bson.M{
			"$set":   bson.M{"status": statuses.StatusFailed},
			"$unset": bson.M{"heartbeat": "", "started_at": ""},
		},
	)
	return err
}

func (g *GameRepository) markWithCleanup(ctx context.Context, id string, status string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := g.games().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":   bson.M{"status": status},
			"$unset": bson.M{"heartbeat": "", "started_at": ""},
		},
	)
	if err != nil {
		g.log.Errorf("failed to mark game %s as %s: %v", id, status, err)
	}
	g.publishProgress(ctx, domain.ProgressEvent{GameID: id, Status: status})
	return err
}

func (g *GameRepository) MarkFailed(ctx context.Context, id string) error {
	return g.markWithCleanup(ctx, id, statuses.StatusFailed)
}

func (g *GameRepository) MarkIgnored(ctx context.Context, id string) error {
	return g.markWithCleanup(ctx, id, statuses.StatusIgnored)
}

func (g *GameRepository) MarkCompleted(ctx context.Context, id string, summary game.AnalysisSummary) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := g.games().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set":   bson.M{"status": statuses.StatusCompleted, "summary": summary, "progress": 100},
			"$unset": bson.M{"heartbeat": "", "started_at": ""},
		},
	)
	if err != nil {
		g.log.Errorf("failed to mark game %s as completed: %v", id, err)
		return err
	}
	g.publishProgress(ctx, domain.ProgressEvent{GameID: id, Status: statuses.StatusCompleted, Progress: 100})
	return nil
}

// RequeueForRetry возвращает партию в pending, пока не исчерпан бюджет
// повторов; после него партия остаётся failed. Возвращает, была ли она
// поставлена в очередь снова.
func (g *GameRepository) RequeueForRetry(ctx context.Context, id string, maxRetries int) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := g.games().UpdateOne(ctx,
		bson.M{"_id": id, "retry_count": bson.M{"$lt": maxRetries}},
		bson.M{
			"$set":   bson.M{"status": statuses.StatusPending},
			"$unset": bson.M{"heartbeat": "", "started_at": ""},
			"$inc":   bson.M{"retry_count": 1},
		},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, g.MarkFailed(ctx, id)
	}

	if g.redis != nil {
		if err := g.redis.Publish(ctx, queueChannel, id).Err(); err != nil {
			g.log.Warnw("queue kick publish failed", "error", err)
		}
	}
	return true, nil
}

// TouchHeartbeat двигает отметку живости и процент готовности. Процент
// дублируется в Redis, откуда его забирает websocket-раздача.
func (g *GameRepository) TouchHeartbeat(ctx context.Context, id string, progress int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := g.games().UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"heartbeat": time.Now(), "progress": progress}},
	)
	if err != nil {
		return err
	}
	if g.redis != nil {
		if err := g.redis.Set(ctx, "analysis:progress:"+id, progress, time.Hour).Err(); err != nil {
			g.log.Warnw("progress cache set failed", "error", err)
		}
	}
	return nil
}

func (g *GameRepository) PublishProgress(ctx context.Context, event domain.ProgressEvent) {
	g.publishProgress(ctx, event)
}

func (g *GameRepository) publishProgress(ctx context.Context, event domain.ProgressEvent) {
	if g.redis == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := g.redis.Publish(ctx, progressChannel, payload).Err(); err != nil {
		g.log.Warnw("progress publish failed", "error", err)
	}
}

// QueueKicks отдаёт канал, в который прилетает сигнал при каждом изменении
// очереди (SetPending/RequeueForRetry из любого процесса).
func (g *GameRepository) QueueKicks(ctx context.Context) <-chan struct{} {
	kicks := make(chan struct{}, 1)
	if g.redis == nil {
		return kicks
	}
	sub := g.redis.Subscribe(ctx, queueChannel)
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub.Channel():
				if !ok {
					return
				}
				select {
				case kicks <- struct{}{}:
				default:
				}
			}
		}
	}()
	return kicks
}

// ProgressEvents подписывается на события прогресса для websocket-раздачи.
func (g *GameRepository) ProgressEvents(ctx context.Context) <-chan domain.ProgressEvent {
	events := make(chan domain.ProgressEvent, 16)
	if g.redis == nil {
		close(events)
		return events
	}
	sub := g.redis.Subscribe(ctx, progressChannel)
	go func() {
		defer sub.Close()
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event domain.ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case events <- event:
				default:
				}
			}
		}
	}()
	return events
}

// ListCompleted отдаёт завершённые партии для витрин статистики.
func (g *GameRepository) ListCompleted(ctx context.Context) ([]game.Game, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "played_at", Value: 1}})
	cursor, err := g.games().Find(ctx, bson.M{"status": statuses.StatusCompleted}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var completed []game.Game
	if err := cursor.All(ctx, &completed); err != nil {
		return nil, err
	}
	return completed, nil
}
