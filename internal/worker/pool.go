package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gridscrape/coordinator/internal/circuitbreaker"
	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/metrics"
	"github.com/gridscrape/coordinator/internal/queue"
)

// Pool runs a fixed set of workers against one run plus a background
// recovery sweep. The pool returns once the run is complete, the context
// is cancelled, or a worker hits a fatal error.
type Pool struct {
	runID       string
	ownerPrefix string

	queue     *queue.Queue
	heartbeat *queue.Heartbeat
	backoff   *queue.Backoff
	detector  *queue.Detector
	recovery  *queue.Recovery
	breaker   *circuitbreaker.Breaker
	processor Processor

	queueCfg config.QueueConfig
	poolCfg  config.WorkerConfig
	sweepCfg config.RecoveryConfig

	log logger.Logger
}

// PoolDeps bundles the coordination services a pool needs.
type PoolDeps struct {
	Queue     *queue.Queue
	Heartbeat *queue.Heartbeat
	Backoff   *queue.Backoff
	Detector  *queue.Detector
	Recovery  *queue.Recovery
	Breaker   *circuitbreaker.Breaker
	Processor Processor
}

// NewPool creates a worker pool for a run. ownerPrefix distinguishes this
// process from others working the same run; worker owners are
// "<prefix>-0" .. "<prefix>-N".
func NewPool(runID, ownerPrefix string, deps PoolDeps, queueCfg config.QueueConfig, poolCfg config.WorkerConfig, sweepCfg config.RecoveryConfig, log logger.Logger) *Pool {
	return &Pool{
		runID:       runID,
		ownerPrefix: ownerPrefix,
		queue:       deps.Queue,
		heartbeat:   deps.Heartbeat,
		backoff:     deps.Backoff,
		detector:    deps.Detector,
		recovery:    deps.Recovery,
		breaker:     deps.Breaker,
		processor:   deps.Processor,
		queueCfg:    queueCfg,
		poolCfg:     poolCfg,
		sweepCfg:    sweepCfg,
		log:         log,
	}
}

// Run drains the run's queue and blocks until every worker has exited.
// A fatal error from any worker cancels the rest.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool starting",
		logger.String("run_id", p.runID),
		logger.Int("workers", p.poolCfg.PoolSize))

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < p.poolCfg.PoolSize; i++ {
		w := &Worker{
			owner:        fmt.Sprintf("%s-%d", p.ownerPrefix, i),
			runID:        p.runID,
			queue:        p.queue,
			heartbeat:    p.heartbeat,
			backoff:      p.backoff,
			detector:     p.detector,
			recovery:     p.recovery,
			breaker:      p.breaker,
			processor:    p.processor,
			pollInterval: p.queueCfg.PollInterval,
			hbInterval:   heartbeatTick(p.queueCfg.HeartbeatMinInterval),
			log:          p.log,
		}
		g.Go(func() error { return w.run(gctx) })
	}

	sweepCtx, stopSweep := context.WithCancel(gctx)
	sweepDone := make(chan struct{})
	go p.runSweep(sweepCtx, sweepDone)

	err := g.Wait()
	stopSweep()
	<-sweepDone

	if err != nil {
		p.log.Error("worker pool stopped on fatal error", logger.Error(err))
		return err
	}
	p.log.Info("worker pool finished", logger.String("run_id", p.runID))
	return nil
}

// runSweep periodically recovers leases leaked by crashed workers in this
// or any other process working the run.
func (p *Pool) runSweep(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.sweepCfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.recovery.Sweep(ctx, p.runID); err != nil {
				p.log.Warn("recovery sweep failed", logger.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// heartbeatTick returns how often the background heartbeat fires. Ticking
// at half the throttle interval keeps refreshes close to the throttle
// floor without depending on tick alignment.
func heartbeatTick(minInterval time.Duration) time.Duration {
	if minInterval <= 0 {
		return time.Second
	}
	return minInterval / 2
}

// NewBreaker builds the upstream circuit breaker with metrics wired to its
// state transitions.
func NewBreaker(cfg config.BreakerConfig, m *metrics.Metrics, log logger.Logger) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		Cooldown:         cfg.Cooldown,
		OnStateChange: func(from, to circuitbreaker.State) {
			log.Warn("circuit breaker state change",
				logger.String("from", from.String()),
				logger.String("to", to.String()))
			if m == nil {
				return
			}
			if to == circuitbreaker.StateOpen {
				m.BreakerTrips.Inc()
				m.BreakerState.Set(1)
			} else {
				m.BreakerState.Set(0)
			}
		},
	})
}
