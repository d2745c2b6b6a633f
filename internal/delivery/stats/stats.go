package stats

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chess_exe/internal/bootstrap"
	"chess_exe/internal/httpresponse"
	statsuc "chess_exe/internal/usecase/stats"
)

type StatsHandler struct {
	cfg     *bootstrap.Config
	log     *zap.SugaredLogger
	statsUC *statsuc.Stats
}

func NewStatsHandler(cfg *bootstrap.Config, log *zap.SugaredLogger, statsUC *statsuc.Stats) *StatsHandler {
	return &StatsHandler{
		cfg:     cfg,
		log:     log,
		statsUC: statsUC,
	}
}

// HandleRatingSeries — динамика рейтинга отслеживаемого игрока.
func (h *StatsHandler) HandleRatingSeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.statsUC.RatingSeries(r.Context())
	if err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, series)
}

// HandleAccuracySeries — точность по партиям в хронологическом порядке.
func (h *StatsHandler) HandleAccuracySeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.statsUC.AccuracySeries(r.Context())
	if err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, series)
}

// HandleOpenings — сводка по дебютам (код ECO, счёт, средняя точность).
func (h *StatsHandler) HandleOpenings(w http.ResponseWriter, r *http.Request) {
	aggregates, err := h.statsUC.OpeningAggregates(r.Context())
	if err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, aggregates)
}

// HandleTopWins — лучшие победы по качеству игры и силе соперника.
func (h *StatsHandler) HandleTopWins(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpresponse.WriteResponseWithStatus(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	wins, err := h.statsUC.TopWins(r.Context(), limit)
	if err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, wins)
}

// HandleExport — полный слепок архива одним JSON.
func (h *StatsHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.statsUC.Export(r.Context())
	if err != nil {
		h.log.Error(err)
		httpresponse.WriteInternalErrorResponse(w)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=chess_exe_export.json")
	httpresponse.WriteResponseWithStatus(w, http.StatusOK, bundle)
}
