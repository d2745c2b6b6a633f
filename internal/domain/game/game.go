package game

import (
	"time"
)

// Game — партия из внешней платформы (или добавленная вручную) вместе с
// состоянием её анализа. Хранится в Mongo, ключ — _id.
type Game struct {
	ID          string `bson:"_id" json:"id"`
	Platform    string `bson:"platform" json:"platform"`
	White       string `bson:"white" json:"white"`
	Black       string `bson:"black" json:"black"`
	WhiteRating int    `bson:"white_rating,omitempty" json:"white_rating,omitempty"`
	BlackRating int    `bson:"black_rating,omitempty" json:"black_rating,omitempty"`
	Result      string `bson:"result" json:"result"`
	Perf        string `bson:"perf,omitempty" json:"perf,omitempty"`
	EcoCode     string `bson:"eco_code,omitempty" json:"eco_code,omitempty"`
	OpeningName string `bson:"opening_name,omitempty" json:"opening_name,omitempty"`
	MovesPgn    string `bson:"moves_pgn" json:"moves_pgn"`

	Status     string          `bson:"status" json:"status"`
	Progress   int             `bson:"progress" json:"progress"`
	Heartbeat  time.Time       `bson:"heartbeat,omitempty" json:"heartbeat,omitempty"`
	StartedAt  time.Time       `bson:"started_at,omitempty" json:"started_at,omitempty"`
	RetryCount int             `bson:"retry_count" json:"retry_count"`
	Summary    AnalysisSummary `bson:"summary,omitempty" json:"summary,omitempty"`

	PlayedAt  time.Time `bson:"played_at,omitempty" json:"played_at,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// AnalysisSummary — итоговая статистика завершённого анализа.
type AnalysisSummary struct {
	AccuracyWhite   float64        `bson:"accuracy_white" json:"accuracy_white"`
	AccuracyBlack   float64        `bson:"accuracy_black" json:"accuracy_black"`
	TotalLossWhite  int            `bson:"total_loss_white" json:"total_loss_white"`
	TotalLossBlack  int            `bson:"total_loss_black" json:"total_loss_black"`
	Classifications map[string]int `bson:"classifications,omitempty" json:"classifications,omitempty"`
	MaxSwing        int            `bson:"max_swing" json:"max_swing"`
	CleanStreak     int            `bson:"clean_streak" json:"clean_streak"`
}
