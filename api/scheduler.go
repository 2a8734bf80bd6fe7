/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Runs Engine.Audit on a fixed interval and logs any drift between stored
  balances and the entries they are derived from. The auditor only reads;
  repairing drift is a manual job.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Keeps the latest report for inspection

CONFIGURATION:
  - Interval: AUDIT_INTERVAL (0 disables the scheduler)

USAGE:
  scheduler := NewAuditScheduler(engine, time.Hour, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/audit.go: the checks
  - handlers.go: RunAudit endpoint (manual audit)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goldtrader/gold-ledger/ledger"
)

// Auditor is the part of the engine the scheduler needs.
type Auditor interface {
	Audit(ctx context.Context) (*ledger.AuditReport, error)
}

// AuditScheduler runs the ledger audit periodically.
type AuditScheduler struct {
	Auditor  Auditor
	Interval time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   *ledger.AuditReport
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(auditor Auditor, interval time.Duration, log zerolog.Logger) *AuditScheduler {
	return &AuditScheduler{
		Auditor:  auditor,
		Interval: interval,
		log:      log,
	}
}

// Start begins the scheduler. A non-positive interval leaves it disabled.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.log.Info().Msg("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.Interval).Msg("audit scheduler started")
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *AuditScheduler) Stop() {
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
	s.log.Info().Msg("audit scheduler stopped")
}

// LastReport returns the most recent report, nil before the first run.
func (s *AuditScheduler) LastReport() *ledger.AuditReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background())
		case <-stop:
			return
		}
	}
}

// RunOnce performs a single audit and logs the outcome.
func (s *AuditScheduler) RunOnce(ctx context.Context) *ledger.AuditReport {
	report, err := s.Auditor.Audit(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("audit failed")
		return nil
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if report.OK() {
		s.log.Info().
			Int("counterparties", report.Counterparties).
			Int("advances", report.Advances).
			Int("batches", report.Batches).
			Int("transactions", report.Transactions).
			Msg("audit passed")
		return report
	}
	for _, issue := range report.Issues {
		s.log.Warn().
			Str("check", issue.Check).
			Str("entity_id", issue.EntityID).
			Msg(issue.Message)
	}
	s.log.Warn().Int("issues", len(report.Issues)).Msg("audit found drift")
	return report
}
