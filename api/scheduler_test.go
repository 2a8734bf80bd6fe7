package api

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goldtrader/gold-ledger/ledger"
)

type stubAuditor struct {
	mu     sync.Mutex
	calls  int
	report *ledger.AuditReport
	err    error
}

func (a *stubAuditor) Audit(context.Context) (*ledger.AuditReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.report, a.err
}

func (a *stubAuditor) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func TestScheduler_RunOnceLogsDrift(t *testing.T) {
	var buf bytes.Buffer
	auditor := &stubAuditor{report: &ledger.AuditReport{
		Issues: []ledger.AuditIssue{{Check: "advance_sum", EntityID: "adv-1", Message: "remaining 10 + settled 0 != amount 20"}},
	}}
	s := NewAuditScheduler(auditor, time.Hour, zerolog.New(&buf))

	report := s.RunOnce(context.Background())

	require.NotNil(t, report)
	assert.False(t, report.OK())
	assert.Same(t, report, s.LastReport())
	assert.Contains(t, buf.String(), `"check":"advance_sum"`)
	assert.Contains(t, buf.String(), "audit found drift")
}

func TestScheduler_RunOnceError(t *testing.T) {
	var buf bytes.Buffer
	auditor := &stubAuditor{err: errors.New("store down")}
	s := NewAuditScheduler(auditor, time.Hour, zerolog.New(&buf))

	assert.Nil(t, s.RunOnce(context.Background()))
	assert.Nil(t, s.LastReport())
	assert.Contains(t, buf.String(), "store down")
}

func TestScheduler_StartStop(t *testing.T) {
	auditor := &stubAuditor{report: &ledger.AuditReport{}}
	s := NewAuditScheduler(auditor, 10*time.Millisecond, zerolog.Nop())

	s.Start()
	require.Eventually(t, func() bool { return auditor.Calls() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	calls := auditor.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, auditor.Calls(), "no audits after Stop")
	assert.NotNil(t, s.LastReport())

	s.Stop() // second Stop is a no-op
}

func TestScheduler_DisabledWithZeroInterval(t *testing.T) {
	auditor := &stubAuditor{report: &ledger.AuditReport{}}
	s := NewAuditScheduler(auditor, 0, zerolog.Nop())

	s.Start()
	s.Stop()
	assert.Zero(t, auditor.Calls())
}
