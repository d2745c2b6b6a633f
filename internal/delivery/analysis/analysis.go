package analysis

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/domain"
	"chess_exe/internal/domain/game"
	errs "chess_exe/internal/errors"
	"chess_exe/internal/httpresponse"
	"chess_exe/internal/repository"
	"chess_exe/internal/statuses"
	"chess_exe/internal/usecase/scheduler"
)

type AnalysisHandler struct {
	cfg       *bootstrap.Config
	log       *zap.SugaredLogger
	games     *repository.GameRepository
	analysis  *repository.AnalysisRepository
	engine    *repository.EngineClient
	scheduler *scheduler.Scheduler
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func NewAnalysisHandler(cfg *bootstrap.Config, log *zap.SugaredLogger, games *repository.GameRepository, analysis *repository.AnalysisRepository, engine *repository.EngineClient, sched *scheduler.Scheduler) *AnalysisHandler {
	return &AnalysisHandler{
		cfg:       cfg,
		log:       log,
		games:     games,
		analysis:  analysis,
		engine:    engine,
		scheduler: sched,
	}
}

type addGameResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HandleAddGame принимает партию вручную: JSON с PGN и метаданными. Партия
// сохраняется в статусе idle, в очередь её ставит отдельный запрос.
func (h *AnalysisHandler) HandleAddGame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresponse.WriteResponseWithStatus(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	var gameData game.Game
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&gameData); err != nil {
		h.log.Error("JSON decode error:", err)
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if strings.TrimSpace(gameData.MovesPgn) == "" {
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest, "moves_pgn is required")
		return
	}
	if gameData.ID == "" {
		gameData.ID = uuid.New().String()
	}
	if gameData.Platform == "" {
		gameData.Platform = "manual"
	}

	if err := h.games.Insert(r.Context(), gameData); err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}

	h.log.Infow("game added", "game", gameData.ID, "white", gameData.White, "black", gameData.Black)
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, addGameResponse{ID: gameData.ID, Status: statuses.StatusIdle})
}

type enqueueRequest struct {
	GameID string `json:"game_id"`
}

// HandleEnqueue ставит партию в очередь анализа и будит планировщик.
func (h *AnalysisHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresponse.WriteResponseWithStatus(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GameID == "" {
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest, "game_id is required")
		return
	}

	if err := h.games.SetPending(r.Context(), req.GameID); err != nil {
		if err == errs.ErrGameNotFound {
			httpresponse.WriteResponseWithStatus(w, http.StatusNotFound, "game not found")
			return
		}
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}

	httpresponse.WriteResponseWithStatus(w, http.StatusOK, map[string]string{
		"game_id": req.GameID,
		"status":  statuses.StatusPending,
	})
}

type statusResponse struct {
	GameID   string               `json:"game_id"`
	Status   string               `json:"status"`
	Progress int                  `json:"progress"`
	Retries  int                  `json:"retries"`
	Summary  game.AnalysisSummary `json:"summary,omitempty"`
}

type queueStatusResponse struct {
	Pending   int `json:"pending"`
	Analyzing int `json:"analyzing"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// HandleStatus: с game_id — статус конкретной партии, без него — сводка по
// очереди.
func (h *AnalysisHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game_id")
	ctx := r.Context()

	if gameID == "" {
		var resp queueStatusResponse
		var err error
		if resp.Pending, err = h.games.CountByStatus(ctx, statuses.StatusPending); err != nil {
			h.log.Error(err)
			httpresponse.WriteInternalErrorResponse(w)
			return
		}
		resp.Analyzing, _ = h.games.CountByStatus(ctx, statuses.StatusAnalyzing)
		resp.Completed, _ = h.games.CountByStatus(ctx, statuses.StatusCompleted)
		resp.Failed, _ = h.games.CountByStatus(ctx, statuses.StatusFailed)
		httpresponse.WriteResponseWithStatus(w, http.StatusOK, resp)
		return
	}

	found, err := h.games.GetByID(ctx, gameID)
	if err != nil {
		if err == errs.ErrGameNotFound {
			httpresponse.WriteResponseWithStatus(w, http.StatusNotFound, "game not found")
			return
		}
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}

	httpresponse.WriteResponseWithStatus(w, http.StatusOK, statusResponse{
		GameID:   found.ID,
		Status:   found.Status,
		Progress: found.Progress,
		Retries:  found.RetryCount,
		Summary:  found.Summary,
	})
}

// HandleGameLog отдаёт полуходовый лог анализа партии.
func (h *AnalysisHandler) HandleGameLog(w http.ResponseWriter, r *http.Request) {
	gameID := r.URL.Query().Get("game_id")
	if gameID == "" {
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest, "game_id is required")
		return
	}

	entries, err := h.analysis.LogPrefix(r.Context(), gameID)
	if err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, entries)
}

// HandleStop обрывает текущий анализ: движок гасится, партии в работе
// становятся failed. Очередь pending не очищается.
func (h *AnalysisHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresponse.WriteResponseWithStatus(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	if err := h.scheduler.StopAnalysis(r.Context()); err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	h.log.Info("analysis stopped by request")
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleEngineOptions применяет настройки движка (Hash, Threads, EvalFile).
// Пока движок занят задачей, запрос отклоняется с 409.
func (h *AnalysisHandler) HandleEngineOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresponse.WriteResponseWithStatus(w, http.StatusMethodNotAllowed, "Only POST method is allowed")
		return
	}

	var opts []domain.EngineOption
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil || len(opts) == 0 {
		httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest, "a non-empty option list is required")
		return
	}

	if err := h.engine.SetOptions(opts); err != nil {
		switch err {
		case errs.ErrEngineBusy:
			httpresponse.WriteResponseWithStatus(w, http.StatusConflict, "engine is busy, try again later")
		case errs.ErrEngineNotRunning:
			httpresponse.WriteResponseWithStatus(w, http.StatusConflict, "engine is not running")
		default:
			h.log.Error(err)
			httpresponse.WriteInternalErrorResponse(w)
		}
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, map[string]string{"status": "applied"})
}

// HandleReviewPositions отдаёт позиции для повторения по убыванию приоритета.
func (h *AnalysisHandler) HandleReviewPositions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	positions, err := h.analysis.ReviewPositions(r.Context(), limit)
	if err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, positions)
}

// HandleProgressWS раздаёт события прогресса анализа по websocket. Клиент
// ничего не шлёт, соединение живёт до закрытия любой из сторон.
func (h *AnalysisHandler) HandleProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	events := h.games.ProgressEvents(ctx)
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				h.log.Debugf("websocket write failed: %v", err)
				return
			}
		}
	}
}
