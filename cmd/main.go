package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"chess_exe/internal/adapters"
	"chess_exe/internal/bootstrap"
	analysisDelivery "chess_exe/internal/delivery/analysis"
	statsDelivery "chess_exe/internal/delivery/stats"
	ownMiddleware "chess_exe/internal/middleware"
	"chess_exe/internal/repository"
	"chess_exe/internal/usecase/analyze"
	"chess_exe/internal/usecase/scheduler"
	statsUC "chess_exe/internal/usecase/stats"
)

type mainDeliveryHandler struct {
	analysis *analysisDelivery.AnalysisHandler
	stats    *statsDelivery.StatsHandler
}

type dataBaseAdapters struct {
	redisAdapter *adapters.AdapterRedis
	mongoAdapter *adapters.AdapterMongo
}

func main() {
	logger := NewLogger()
	cfg, err := bootstrap.Setup(".env")
	if err != nil {
		logger.Error("Failed to setup configuration", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleShutdown(cancel, logger)

	databaseAdapters := initDatabaseAdapters(ctx, logger, cfg)
	defer databaseAdapters.mongoAdapter.Close(ctx)
	defer databaseAdapters.redisAdapter.Close(ctx)

	gameRepo := repository.NewGameRepository(*cfg, logger, databaseAdapters.redisAdapter.GetClient(), databaseAdapters.mongoAdapter.Database)
	analysisRepo := repository.NewAnalysisRepository(*cfg, logger, databaseAdapters.mongoAdapter.Database)
	engine := repository.NewEngineClient(cfg, logger)
	defer engine.Terminate()

	var llm analyze.LlmStore
	if cfg.MistralApiKey != "" {
		llm = repository.NewLlmRepository(adapters.NewLlmAdapter(cfg.MistralApiKey, cfg.MistralAgentKey), logger)
	}

	analyzer := analyze.NewAnalyzer(cfg, logger, engine, gameRepo, analysisRepo, llm)
	sched := scheduler.NewScheduler(cfg, logger, gameRepo, analyzer, engine)
	go sched.Run(ctx)

	statsUsecase := statsUC.NewStats(cfg, logger, gameRepo, analysisRepo)

	r := chi.NewRouter()
	handlers := &mainDeliveryHandler{
		analysis: analysisDelivery.NewAnalysisHandler(cfg, logger, gameRepo, analysisRepo, engine, sched),
		stats:    statsDelivery.NewStatsHandler(cfg, logger, statsUsecase),
	}
	handlers.Router(r, cfg.IsLocalCors)

	port := cfg.ServerPort
	if port == "" {
		port = ":8080"
	}
	logger.Infof("Server is running on port %s", port)
	if err := http.ListenAndServe(port, r); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

func NewLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger.Sugar()
}

func (h *mainDeliveryHandler) Router(r *chi.Mux, isLocalCors bool) {
	if isLocalCors {
		r.Use(ownMiddleware.CORS)
	}
	r.Use(middleware.Logger)

	r.Post("/games", h.analysis.HandleAddGame)
	r.Post("/analysis/enqueue", h.analysis.HandleEnqueue)
	r.Get("/analysis/status", h.analysis.HandleStatus)
	r.Get("/analysis/log", h.analysis.HandleGameLog)
	r.Post("/analysis/stop", h.analysis.HandleStop)
	r.Post("/engine/options", h.analysis.HandleEngineOptions)
	r.Get("/review/positions", h.analysis.HandleReviewPositions)
	r.Get("/ws/analysisProgress", h.analysis.HandleProgressWS)

	r.Get("/stats/ratingSeries", h.stats.HandleRatingSeries)
	r.Get("/stats/accuracySeries", h.stats.HandleAccuracySeries)
	r.Get("/stats/openings", h.stats.HandleOpenings)
	r.Get("/stats/topWins", h.stats.HandleTopWins)
	r.Get("/export", h.stats.HandleExport)
}

func initDatabaseAdapters(ctx context.Context, log *zap.SugaredLogger, cfg *bootstrap.Config) *dataBaseAdapters {
	mongoAdapter := adapters.NewAdapterMongo(cfg)
	if err := mongoAdapter.Init(ctx); err != nil {
		log.Fatal("Не удалось инициализировать MongoDB", zap.Error(err))
	}

	redisAdapter := adapters.NewAdapterRedis(cfg)
	if err := redisAdapter.Init(ctx); err != nil {
		log.Fatal("Не удалось инициализировать Redis", zap.Error(err))
	}

	log.Info("Адаптеры баз данных инициализированы")
	return &dataBaseAdapters{
		redisAdapter: redisAdapter,
		mongoAdapter: mongoAdapter,
	}
}

func handleShutdown(cancel context.CancelFunc, log *zap.SugaredLogger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("Получен сигнал завершения: %v", sig)
	cancel()
}
