// Command server runs the REST surface over the coordinator: submit,
// status, inspect, cancel, DLQ inspection/requeue, metrics exposition,
// and health.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "taskqueue/configs"
	"taskqueue/pkg/alerting"
	"taskqueue/pkg/api"
	"taskqueue/pkg/coordinator"
	"taskqueue/pkg/job"
	"taskqueue/pkg/logger"
	"taskqueue/pkg/queue"
	"taskqueue/pkg/telemetry"
	"taskqueue/pkg/tracing"
)

func coordinatorConfig(cfg *config.Config) coordinator.Config {
	base := make(map[job.Priority]float64, len(cfg.PriorityWeights))
	for p, w := range cfg.PriorityWeights {
		base[p] = float64(w)
	}
	return coordinator.Config{
		QueueWeights: queue.Weights{
			Base:            base,
			StarvationBoost: float64(cfg.StarvationBoost),
			BoostIntervalMs: float64(cfg.StarvationInterval.Milliseconds()),
		},
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		StealThreshold:   float64(cfg.WorkStealThreshold) / 10.0,
		DefaultRetry:     cfg.DefaultRetry,
	}
}

func main() {
	cfg := config.LoadConfig()

	log, err := logger.Init(logger.DefaultConfig("taskqueue-server"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "taskqueue-server",
		Endpoint:     cfg.TracingEndpoint,
		Enabled:      cfg.TracingEnabled,
		SamplingRate: cfg.TracingSampling,
	})
	if err != nil {
		log.Fatal("init tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	alertManager := alerting.NewManager(alerting.NewLogSink(log))
	coord := coordinator.New(coordinatorConfig(cfg), telemetry.NewHooks(), alertManager, log)

	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		Coordinator: coord,
		Logger:      log,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	cancel()
	log.Info("server shutdown complete")
}
