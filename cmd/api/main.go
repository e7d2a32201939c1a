package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paperchat/internal/api"
	"paperchat/internal/app"
	"paperchat/internal/config"
	"paperchat/internal/telemetry"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a, err := app.New(startCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()
	go a.Sessions.RunJanitor(ctx, time.Minute)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           api.NewServer(a).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("paperchat api listening on %s backend=%s ingest=%s llm_providers=%q embed_provider=%q",
		cfg.APIAddr, cfg.IndexBackend, cfg.IngestMode, cfg.LLMProviders, cfg.EmbedProvider)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
