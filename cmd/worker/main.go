package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"paperchat/internal/activities"
	"paperchat/internal/app"
	"paperchat/internal/config"
	"paperchat/internal/telemetry"
	"paperchat/internal/workflows"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	shutdownTracing, err := telemetry.Init(cfg.ServiceName+"-worker", cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	c, err := client.Dial(client.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	a, err := app.New(ctx, cfg, app.Inline())
	cancel()
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.ProviderConcurrency * 2,
	})
	workflows.Register(w)
	activities.Register(w, activities.New(a.Pipeline))

	log.Printf("paperchat worker listening on %s queue=%s backend=%s embed=%s", cfg.TemporalAddress, cfg.TemporalTaskQueue, cfg.IndexBackend, a.Index.ModelID())
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatal(err)
	}
}
