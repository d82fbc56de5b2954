/*
scheduler.go - Automated escalation scheduler

PURPOSE:
  Periodically runs the escalation sweep so overdue pending requests are
  flagged without anyone calling POST /api/escalations/scan.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - The sweep itself is idempotent: already escalated requests are skipped
  - Overlapping sweeps (ticker and manual scan) share one run

CONFIGURATION:
  - CheckInterval: How often to sweep (escalation.scan_interval, default 1h)
  - Enabled: Whether the scheduler is active (escalation.enabled)

USAGE:
  scheduler := NewEscalationScheduler(scanner, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ScanEscalations endpoint (manual sweep)
  - approval/escalation.go: EscalationScanner
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/generic"
)

// EscalationScheduler handles automated escalation sweeps.
type EscalationScheduler struct {
	Scanner       *approval.EscalationScanner
	Logger        *zap.Logger
	Clock         generic.Clock
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun     time.Time
	lastFlagged int
}

// NewEscalationScheduler creates a new scheduler.
func NewEscalationScheduler(scanner *approval.EscalationScanner, logger *zap.Logger) *EscalationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationScheduler{
		Scanner:       scanner,
		Logger:        logger,
		Clock:         generic.SystemClock,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. Starting twice is a no-op.
func (s *EscalationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("escalation scheduler disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("escalation scheduler started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *EscalationScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	s.Logger.Info("escalation scheduler stopped")
}

func (s *EscalationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep and returns the flagged request ids.
func (s *EscalationScheduler) RunNow(ctx context.Context) []string {
	now := s.Clock()
	ids, err := s.Scanner.ScanOverdue(ctx, now)
	if err != nil {
		s.Logger.Error("escalation sweep failed", zap.Error(err))
	}

	s.mu.Lock()
	s.lastRun = now
	s.lastFlagged = len(ids)
	s.mu.Unlock()

	if len(ids) > 0 {
		s.Logger.Info("escalation sweep completed", zap.Int("flagged", len(ids)))
	}
	return ids
}

// LastRun reports when the last sweep ran and how many requests it flagged.
func (s *EscalationScheduler) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastFlagged
}

// NextRunTime returns when the next scheduled sweep will occur.
func (s *EscalationScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRun.IsZero() {
		return s.Clock()
	}
	return s.lastRun.Add(s.CheckInterval)
}
