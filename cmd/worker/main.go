// Command worker runs one worker daemon: it registers with the worker
// registry, claims jobs from the coordinator, executes them via the
// handler registry, reports heartbeats, and participates in
// work-stealing rebalancing.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "taskqueue/configs"
	"taskqueue/pkg/alerting"
	"taskqueue/pkg/cluster"
	"taskqueue/pkg/cluster/etcdlock"
	"taskqueue/pkg/coordinator"
	"taskqueue/pkg/handler"
	"taskqueue/pkg/job"
	"taskqueue/pkg/logger"
	"taskqueue/pkg/queue"
	"taskqueue/pkg/telemetry"
	"taskqueue/pkg/tracing"
	"taskqueue/pkg/worker"
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

	log, err := logger.Init(logger.DefaultConfig("taskqueue-worker"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "taskqueue-worker",
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

	hostname, _ := os.Hostname()
	info := worker.NewInfo(hostname, 0)
	node := coord.RegisterWorker(info)
	log.Info("worker registered", zap.String("worker_id", info.ID), zap.Int("max_concurrent", info.MaxConcurrentJobs))

	handlers := handler.NewRegistry()
	handlers.Register("shell", handler.NewShellHandler())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	elector, err := etcdlock.New(cfg.EtcdEndpoints, cfg.LeaderElectionTTL, info.ID)
	if err != nil {
		log.Warn("leader election unavailable, work-stealing and dead-worker reaping disabled on this worker",
			zap.Error(err))
		elector = nil
	} else {
		defer elector.Close()
		go electionLoop(ctx, elector, cfg.LeaderElectionTTL, log)
		go stealLoop(ctx, coord, elector, log)
		go reaperLoop(ctx, coord, elector, log)
	}

	go heartbeatLoop(ctx, coord, info.ID, log)
	workDone := make(chan struct{})
	go func() {
		defer close(workDone)
		workLoop(ctx, coord, node, handlers, log)
	}()

	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))
	cancel()
	<-workDone
	log.Info("worker shutdown complete")
}

func heartbeatLoop(ctx context.Context, coord *coordinator.Coordinator, workerID string, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !coord.WorkerHeartbeat(workerID) {
				log.Warn("heartbeat rejected, worker unknown to registry", zap.String("worker_id", workerID))
			}
		}
	}
}

// electionLoop keeps this worker's leadership bid alive: every ttl/3
// it campaigns when it isn't leader and re-checks its leadership when
// it is. The lease itself is renewed by the etcd session's own
// keepalive, which also runs at roughly ttl/3.
func electionLoop(ctx context.Context, elector *etcdlock.Elector, ttlSeconds int, log *zap.Logger) {
	interval := time.Duration(ttlSeconds) * time.Second / 3
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !elector.IsLeader() {
				won, err := elector.TryBecomeLeader(ctx)
				if err != nil {
					log.Warn("leader campaign failed", zap.Error(err))
					continue
				}
				if won {
					log.Info("won leader election")
					telemetry.LeaderChanges.Inc()
				}
				continue
			}
			if _, err := elector.MaintainLeadership(ctx); err != nil {
				log.Warn("leader lease maintenance failed", zap.Error(err))
			}
		}
	}
}

// stealLoop runs the work-stealing protocol one round per tick, gated
// on leadership: only the elected leader rebalances.
func stealLoop(ctx context.Context, coord *coordinator.Coordinator, elector *etcdlock.Elector, log *zap.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	balancer := cluster.NewBalancer(coord.Workers(), 0.3)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !elector.IsLeader() {
				continue
			}
			stolen := balancer.Rebalance()
			if len(stolen) > 0 {
				log.Info("rebalanced jobs across workers", zap.Int("count", len(stolen)))
			}
		}
	}
}

// reaperLoop reassigns in-flight jobs off heartbeat-expired workers,
// gated on leadership so only one coordinator process reaps at a time.
func reaperLoop(ctx context.Context, coord *coordinator.Coordinator, elector *etcdlock.Elector, log *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !elector.IsLeader() {
				continue
			}
			if reassigned := coord.ReapDeadWorkers(time.Now()); len(reassigned) > 0 {
				log.Warn("reassigned jobs from dead workers", zap.Int("count", len(reassigned)))
			}
		}
	}
}

// workLoop claims jobs up to this node's available capacity and runs
// each on its own goroutine: GetNextJob dequeues, Claim reserves
// capacity without starting the job (so it is still a legal steal
// candidate), and the spawned goroutine calls Start immediately before
// executing. Start fails if the job was stolen out from under the
// claim, in which case this node simply drops it.
func workLoop(ctx context.Context, coord *coordinator.Coordinator, node *worker.Node, handlers *handler.Registry, log *zap.Logger) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if node.AvailableCapacity() <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		j, ok := coord.GetNextJob(ctx, 2*time.Second)
		if !ok {
			continue
		}

		if err := node.Claim(j); err != nil {
			log.Error("failed to claim job on worker", zap.String("job_id", j.ID.String()), zap.Error(err))
			continue
		}

		wg.Add(1)
		go func(j *job.Job) {
			defer wg.Done()
			executeClaimedJob(ctx, coord, node, handlers, j, log)
		}(j)
	}
}

func executeClaimedJob(ctx context.Context, coord *coordinator.Coordinator, node *worker.Node, handlers *handler.Registry, j *job.Job, log *zap.Logger) {
	if err := node.Start(j.ID); err != nil {
		log.Warn("claimed job no longer present on this node, likely stolen before start",
			zap.String("job_id", j.ID.String()), zap.Error(err))
		return
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if j.TimeoutMs > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(j.TimeoutMs)*time.Millisecond)
	}

	result, execErr := handlers.Execute(execCtx, j)
	if cancel != nil {
		cancel()
	}
	if execErr != nil {
		log.Warn("job execution failed", zap.String("job_id", j.ID.String()), zap.Error(execErr))
	} else {
		log.Info("job execution succeeded", zap.String("job_id", j.ID.String()), zap.Int("result_bytes", len(result)))
	}

	node.Complete(j.ID)
	if err := coord.CompleteJob(j.ID, execErr); err != nil {
		log.Error("failed to report job completion", zap.String("job_id", j.ID.String()), zap.Error(err))
	}
}
