/*
scheduler.go - Automated year-end rollover scheduler

PURPOSE:
  Periodically checks whether the current year's carry-forward batch has
  completed and runs it if not. Manual triggering via the admin endpoint
  shares the same run recording, so either path can fire first and the
  other becomes a no-op.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Rollover itself is idempotent: tuples that already carry a
    carried_forward credit are skipped inside the ledger
  - Every execution is recorded as a RolloverRun for audit and UI

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRolloverScheduler(store, ledger, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerRollover endpoint (manual rollover)
  - leave/ledger.go: RolloverYear
*/
package api

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/leave-engine/leave"
)

// RolloverScheduler handles automated year-end carry-forward.
type RolloverScheduler struct {
	Store         leave.EngineStore
	Ledger        *leave.Ledger
	CheckInterval time.Duration
	Enabled       bool

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRolloverScheduler creates a new scheduler.
func NewRolloverScheduler(store leave.EngineStore, ledger *leave.Ledger, logger *slog.Logger) *RolloverScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RolloverScheduler{
		Store:         store,
		Ledger:        ledger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		logger:        logger,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.logger.Info("rollover scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.logger.Info("rollover scheduler started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.logger.Info("rollover scheduler stopped")
	}
}

func (rs *RolloverScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RolloverScheduler) checkAndProcess() {
	ctx := context.Background()
	targetYear := time.Now().Year()

	runs, err := rs.Store.ListRolloverRuns(ctx, targetYear)
	if err != nil {
		rs.logger.Error("rollover check failed", "target_year", targetYear, "error", err)
		return
	}
	for _, run := range runs {
		if run.Status == leave.RolloverCompleted {
			return
		}
	}

	if _, err := runRollover(ctx, rs.Store, rs.Ledger, rs.logger, targetYear, "scheduler"); err != nil {
		rs.logger.Error("scheduled rollover failed", "target_year", targetYear, "error", err)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (rs *RolloverScheduler) RunNow() {
	rs.checkAndProcess()
}

// runRollover executes the carry-forward batch and records the run.
// Shared by the scheduler and the admin endpoint.
func runRollover(ctx context.Context, store leave.EngineStore, ledger *leave.Ledger, logger *slog.Logger, targetYear int, trigger string) (leave.RolloverResult, error) {
	started := time.Now()
	run := leave.RolloverRun{
		ID:         uuid.NewString(),
		TargetYear: targetYear,
		Status:     leave.RolloverRunning,
		StartedAt:  started,
	}
	if err := store.SaveRolloverRun(ctx, run); err != nil {
		return leave.RolloverResult{}, err
	}

	result, err := ledger.RolloverYear(ctx, targetYear)

	completed := time.Now()
	run.EmployeesProcessed = result.EmployeesProcessed
	run.TransactionsCreated = result.TransactionsCreated
	run.CompletedAt = &completed
	if err != nil {
		run.Status = leave.RolloverFailed
		run.Error = err.Error()
	} else {
		run.Status = leave.RolloverCompleted
	}

	if saveErr := store.SaveRolloverRun(ctx, run); saveErr != nil {
		logger.Error("failed to record rollover run", "run", run.ID, "error", saveErr)
	}

	if err != nil {
		return result, err
	}

	auditErr := store.AppendAudit(ctx, leave.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: completed,
		ActorID:   trigger,
		Action:    leave.AuditRollover,
		Detail: "carry-forward batch for " + strconv.Itoa(targetYear) +
			": " + strconv.Itoa(result.TransactionsCreated) + " transaction(s)",
	})
	if auditErr != nil {
		logger.Error("failed to audit rollover", "target_year", targetYear, "error", auditErr)
	}

	logger.Info("rollover completed",
		"target_year", targetYear,
		"trigger", trigger,
		"employees", result.EmployeesProcessed,
		"transactions", result.TransactionsCreated)

	return result, nil
}
