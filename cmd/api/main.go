package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindmate/backend/internal/config"
	"mindmate/backend/internal/db"
	"mindmate/backend/internal/embedding"
	"mindmate/backend/internal/pipeline"
	"mindmate/backend/internal/server"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}
	if err := server.ValidateRuntimeSchema(ctx, pool); err != nil {
		log.Fatalf("database schema mismatch: %v", err)
	}

	engine, err := embedding.NewEngine(cfg)
	if err != nil {
		log.Fatalf("embedding engine init failed: %v", err)
	}

	corpus, err := pipeline.LoadCorpus(cfg.IntentsPath)
	if err != nil {
		log.Fatalf("intent corpus load failed: %v", err)
	}
	index, err := pipeline.BuildIntentIndex(
		ctx,
		corpus,
		engine,
		cfg.SimilarityThreshold,
		rand.New(rand.NewSource(time.Now().UnixNano())),
	)
	if err != nil {
		log.Fatalf("intent index build failed: %v", err)
	}
	log.Printf("intent index ready intents=%d engine=%s", len(corpus.Intents), engine.Name())

	store := server.NewStore(pool)
	profiles := server.NewProfileCache()

	var generator pipeline.GenerationClient
	if cfg.GroqAPIKey == "" {
		log.Printf("GROQ_API_KEY not set, using mock generation client")
		generator = server.MockGenerationClient{}
	} else {
		generator = server.NewGroqChatClient(cfg)
	}

	orchestrator, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Intents:       index,
		Emotions:      server.NewEmotionClassifier(cfg),
		Moods:         store,
		Profiles:      server.NewProfileResolver(profiles, store),
		Generator:     generator,
		MoodLimit:     cfg.MoodHistoryLimit,
		EmotionWindow: cfg.EmotionWindow,
	})
	if err != nil {
		log.Fatalf("pipeline init failed: %v", err)
	}

	app := server.New(cfg, store, orchestrator, generator, server.NewRiskPredictor(cfg), profiles)
	httpServer := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("mindmate api listening on http://localhost:%s", cfg.AppPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
