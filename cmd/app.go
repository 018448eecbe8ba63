package cmd

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gridscrape/coordinator/internal/checkpoint"
	"github.com/gridscrape/coordinator/internal/config"
	"github.com/gridscrape/coordinator/internal/database"
	"github.com/gridscrape/coordinator/internal/logger"
	"github.com/gridscrape/coordinator/internal/metrics"
	"github.com/gridscrape/coordinator/internal/queue"
)

// app bundles the wired services every command works with.
type app struct {
	cfg *config.Config
	log logger.Logger
	db  *sqlx.DB

	workItems   *database.WorkItemRepository
	recovery    *queue.Recovery
	detector    *queue.Detector
	checkpoints *checkpoint.Manager
	metrics     *metrics.Metrics
}

// newApp loads configuration, connects to the database and wires the
// coordination services.
func newApp(withMetrics bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if withMetrics {
		m = metrics.New()
	}

	workItems := database.NewWorkItemRepository(db)
	checkpoints := database.NewCheckpointRepository(db)
	tracker := queue.NewStuckTracker(cfg.Recovery.StuckThresholdPct, cfg.Recovery.StuckTimeout)

	return &app{
		cfg:         cfg,
		log:         log,
		db:          db,
		workItems:   workItems,
		recovery:    queue.NewRecovery(workItems, cfg.Queue, cfg.Recovery, tracker, log, m),
		detector:    queue.NewDetector(workItems, tracker),
		checkpoints: checkpoint.New(checkpoints, log),
		metrics:     m,
	}, nil
}

// close releases the app's resources.
func (a *app) close() {
	if err := database.Close(a.db); err != nil {
		a.log.Warn("failed to close database", logger.Error(err))
	}
	_ = a.log.Sync()
}
