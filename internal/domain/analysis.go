package domain

import (
	"sort"
	"time"
)

type Classification string

const (
	ClassificationBook       Classification = "book"
	ClassificationBest       Classification = "best"
	ClassificationGreat      Classification = "great"
	ClassificationBrilliant  Classification = "brilliant"
	ClassificationGood       Classification = "good"
	ClassificationInaccuracy Classification = "inaccuracy"
	ClassificationMistake    Classification = "mistake"
	ClassificationBlunder    Classification = "blunder"
)

type Phase string

const (
	PhaseOpening    Phase = "opening"
	PhaseMiddlegame Phase = "middlegame"
	PhaseEndgame    Phase = "endgame"
)

type Motif string

const (
	MotifFork      Motif = "fork"
	MotifPin       Motif = "pin"
	MotifSkewer    Motif = "skewer"
	MotifSacrifice Motif = "sacrifice"
)

// MateBase — величина, в которую отображается форсированный мат при сравнении
// с сантипешечными оценками: mate N -> ±(MateBase - N).
const MateBase = 10000

// Score — оценка позиции: сантипешки либо дистанция до мата (в ходах,
// знак определяет сторону). Mate == 0 означает обычную оценку.
type Score struct {
	CP   int `bson:"cp" json:"cp"`
	Mate int `bson:"mate,omitempty" json:"mate,omitempty"`
}

func (s Score) IsMate() bool {
	return s.Mate != 0
}

// Centipawns сводит оценку к одной шкале, пригодной для сравнения и разницы.
func (s Score) Centipawns() int {
	if s.Mate > 0 {
		return MateBase - s.Mate
	}
	if s.Mate < 0 {
		return -(MateBase + s.Mate)
	}
	return s.CP
}

// Flip меняет сторону, относительно которой дана оценка.
func (s Score) Flip() Score {
	return Score{CP: -s.CP, Mate: -s.Mate}
}

type PvLine struct {
	Move  string `bson:"move" json:"move"`
	Score Score  `bson:"score" json:"score"`
	Rank  int    `bson:"rank" json:"rank"`
}

// AnalysisProfile — явный набор настроек поиска, передаётся в анализатор и
// обёртку движка вместо глобального состояния.
type AnalysisProfile struct {
	Depth      int `json:"depth"`
	MultiPV    int `json:"multi_pv"`
	DeepDepth  int `json:"deep_depth,omitempty"`
	MoveTimeMs int `json:"move_time_ms,omitempty"`
	TimeoutMs  int `json:"timeout_ms,omitempty"`
}

type EngineOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EvaluationResult — ответ движка на один запрос: лучший ход и ранжированные
// варианты. Оценки в нём даны со стороны ходящего в корневой позиции.
type EvaluationResult struct {
	BestMove string   `json:"best_move"`
	Lines    []PvLine `json:"lines"`
	PV       []string `json:"pv,omitempty"`
}

func (r EvaluationResult) Top() (PvLine, bool) {
	for _, l := range r.Lines {
		if l.Rank == 1 {
			return l, true
		}
	}
	if len(r.Lines) > 0 {
		return r.Lines[0], true
	}
	return PvLine{}, false
}

func (r EvaluationResult) LineFor(move string) (PvLine, bool) {
	for _, l := range r.Lines {
		if l.Move == move {
			return l, true
		}
	}
	return PvLine{}, false
}

// AnalysisLogEntry — одна запись лога на полуход. Оценки хранятся от лица
// белых, независимо от того, кто ходил. После записи в базу не изменяется.
type AnalysisLogEntry struct {
	GameID         string         `bson:"game_id" json:"game_id"`
	Ply            int            `bson:"ply" json:"ply"`
	FenBefore      string         `bson:"fen_before" json:"fen_before"`
	Move           string         `bson:"move" json:"move"`
	BestMove       string         `bson:"best_move" json:"best_move"`
	Lines          []PvLine       `bson:"lines" json:"lines"`
	ScoreBefore    Score          `bson:"score_before" json:"score_before"`
	ScoreAfter     Score          `bson:"score_after" json:"score_after"`
	Classification Classification `bson:"classification" json:"classification"`
	CentipawnLoss  int            `bson:"centipawn_loss" json:"centipawn_loss"`
	Color          string         `bson:"color" json:"color"`
	Phase          Phase          `bson:"phase" json:"phase"`
	Motifs         []Motif        `bson:"motifs,omitempty" json:"motifs,omitempty"`
	MissedWin      bool           `bson:"missed_win,omitempty" json:"missed_win,omitempty"`
	MissedDefense  bool           `bson:"missed_defense,omitempty" json:"missed_defense,omitempty"`
	PlanHint       string         `bson:"plan_hint,omitempty" json:"plan_hint,omitempty"`
}

// ReviewPosition — позиция, отобранная для повторения. Создаётся анализатором
// по завершении партии, дальше живёт своей жизнью в модуле повторения.
type ReviewPosition struct {
	ID             string         `bson:"_id" json:"id"`
	GameID         string         `bson:"game_id" json:"game_id"`
	Ply            int            `bson:"ply" json:"ply"`
	Fen            string         `bson:"fen" json:"fen"`
	Move           string         `bson:"move" json:"move"`
	BestMove       string         `bson:"best_move" json:"best_move"`
	Loss           int            `bson:"loss" json:"loss"`
	Classification Classification `bson:"classification" json:"classification"`
	Tags           []string       `bson:"tags,omitempty" json:"tags,omitempty"`
	Priority       int            `bson:"priority" json:"priority"`
	NextReview     time.Time      `bson:"next_review" json:"next_review"`
	LastSeen       time.Time      `bson:"last_seen" json:"last_seen"`
}

// ProgressEvent публикуется после каждого проанализированного полухода и при
// смене статуса партии.
type ProgressEvent struct {
	GameID         string         `json:"game_id"`
	Status         string         `json:"status"`
	Progress       int            `json:"progress"`
	Ply            int            `json:"ply,omitempty"`
	Classification Classification `json:"classification,omitempty"`
}

// SelectEvictions возвращает id лишних позиций при переполнении хранилища:
// сначала с меньшим приоритетом, при равном — дольше всех не просмотренные.
func SelectEvictions(positions []ReviewPosition, limit int) []string {
	if limit < 0 || len(positions) <= limit {
		return nil
	}
	sorted := make([]ReviewPosition, len(positions))
	copy(sorted, positions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].LastSeen.Before(sorted[j].LastSeen)
	})
	evicted := make([]string, 0, len(sorted)-limit)
	for _, p := range sorted[:len(sorted)-limit] {
		evicted = append(evicted, p.ID)
	}
	return evicted
}
