package main

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/hearlab/listentest/internal/config"
	"github.com/hearlab/listentest/internal/handlers"
	"github.com/hearlab/listentest/internal/logging"
	"github.com/hearlab/listentest/internal/models"
	"github.com/hearlab/listentest/internal/registry"
	"github.com/hearlab/listentest/internal/session"
	"github.com/hearlab/listentest/internal/stats"
	"github.com/hearlab/listentest/internal/store"
)

func main() {
	// bootstrap logger until the configured one is up
	log, err := logging.Init(logging.Options{Directory: "logs", MaxSize: 10, MaxBackups: 3, MaxAge: 7, Compress: true})
	if err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load("config", log)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	if cfg.Logging.Directory != "logs" {
		if configured, err := logging.Init(logging.Options{
			Directory:  cfg.Logging.Directory,
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		}); err == nil {
			log = configured
			defer log.Sync()
		}
	}

	log.Info("starting listentest server")

	fileStore, err := store.NewFileStore(cfg.Data.Directory)
	if err != nil {
		log.Fatal("failed to open definition store", zap.Error(err))
	}

	reg := registry.New(log)
	engine := stats.NewEngine()

	hooks := session.Hooks{
		OnStarted: func(def *models.TestDefinition) {
			log.Info("session started", zap.String("test", def.Name))
		},
		OnEnded: func(overall models.OverallStats) {
			log.Info("session ended",
				zap.Int("total_answers", overall.TotalAnswers),
				zap.Float64("correct_rate", overall.CorrectRate))
		},
		OnPresenting: func(audioID string) {
			log.Debug("stimulus presenting", zap.String("audio_id", audioID))
		},
	}
	sess := session.New(reg, engine, log, hooks, session.Config{
		StimulusSeconds: cfg.Session.StimulusSeconds,
		RevealSeconds:   cfg.Session.RevealSeconds,
		TickInterval:    time.Duration(cfg.Session.TickMillis) * time.Millisecond,
	})

	handler := handlers.NewHandler(reg, sess, fileStore, log)

	r := mux.NewRouter()
	r.HandleFunc("/ws", handler.WebSocketHandler)
	r.HandleFunc("/api/tests", handler.ListTestsHandler).Methods("GET")
	r.HandleFunc("/api/tests/{name}", handler.GetTestHandler).Methods("GET")
	r.HandleFunc("/api/tests/{name}", handler.SaveTestHandler).Methods("PUT")
	r.HandleFunc("/healthz", handler.HealthHandler).Methods("GET")

	addr := ":" + cfg.Server.Port
	log.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}
