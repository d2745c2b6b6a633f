package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
)

// AnalysisRepository хранит полуходовый лог анализа, позиции для повторения
// и дебютную книгу.
type AnalysisRepository struct {
	cfg   bootstrap.Config
	log   *zap.SugaredLogger
	mongo *mongo.Database
}

func NewAnalysisRepository(cfg bootstrap.Config, log *zap.SugaredLogger, mongoDb *mongo.Database) *AnalysisRepository {
	return &AnalysisRepository{
		cfg:   cfg,
		log:   log,
		mongo: mongoDb,
	}
}

func (a *AnalysisRepository) entries() *mongo.Collection {
	return a.mongo.Collection("analysis_log")
}

func (a *AnalysisRepository) reviews() *mongo.Collection {
	return a.mongo.Collection("review_positions")
}

func (a *AnalysisRepository) book() *mongo.Collection {
	return a.mongo.Collection("opening_book")
}

// AppendLogEntry пишет запись сразу после вычисления хода — это и есть точка
// возобновления после падения.
func (a *AnalysisRepository) AppendLogEntry(ctx context.Context, entry domain.AnalysisLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := a.entries().InsertOne(ctx, entry)
	if err != nil {
		a.log.Errorf("failed to append analysis log entry: %v", err)
	}
	return err
}

// LogPrefix возвращает уже сохранённый лог партии строго по возрастанию ply.
func (a *AnalysisRepository) LogPrefix(ctx context.Context, gameID string) ([]domain.AnalysisLogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "ply", Value: 1}})
	cursor, err := a.entries().Find(ctx, bson.M{"game_id": gameID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var prefix []domain.AnalysisLogEntry
	if err := cursor.All(ctx, &prefix); err != nil {
		return nil, err
	}
	return prefix, nil
}

func (a *AnalysisRepository) InsertReviewPositions(ctx context.Context, positions []domain.ReviewPosition) error {
	if len(positions) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	docs := make([]interface{}, 0, len(positions))
	for _, p := range positions {
		docs = append(docs, p)
	}
	_, err := a.reviews().InsertMany(ctx, docs)
	if err != nil {
		a.log.Errorf("failed to insert review positions: %v", err)
	}
	return err
}

// EvictReviewPositions держит хранилище повторения в пределах лимита:
// лишними считаются позиции с низким приоритетом, давно не просмотренные.
func (a *AnalysisRepository) EvictReviewPositions(ctx context.Context, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetProjection(bson.M{"_id": 1, "priority": 1, "last_seen": 1})
	cursor, err := a.reviews().Find(ctx, bson.M{}, opts)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var all []domain.ReviewPosition
	if err := cursor.All(ctx, &all); err != nil {
		return 0, err
	}

	evicted := domain.SelectEvictions(all, limit)
	if len(evicted) == 0 {
		return 0, nil
	}

	res, err := a.reviews().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": evicted}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (a *AnalysisRepository) ReviewPositions(ctx context.Context, limit int) ([]domain.ReviewPosition, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "next_review", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := a.reviews().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var positions []domain.ReviewPosition
	if err := cursor.All(ctx, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

type bookDocument struct {
	PositionKey string   `bson:"position_key"`
	Eco         string   `bson:"eco,omitempty"`
	Moves       []string `bson:"moves"`
}

// BookMoves отдаёт книжные продолжения для позиции. Ключ — первые четыре
// поля FEN, счётчики ходов игнорируются. Пустой срез значит «позиции в книге
// нет» — анализатор тогда применяет эвристику.
func (a *AnalysisRepository) BookMoves(ctx context.Context, positionKey string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc bookDocument
	err := a.book().FindOne(ctx, bson.M{"position_key": positionKey}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return doc.Moves, nil
}
