package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kaisou/internal/domain"
	"kaisou/internal/probe"
	"kaisou/internal/store"
)

// fakeProber returns canned results keyed by URL.
type fakeProber struct {
	mu      sync.Mutex
	results map[string]probe.Result
	probed  []string
}

func (p *fakeProber) Probe(_ context.Context, rawURL string) probe.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, rawURL)
	if r, ok := p.results[rawURL]; ok {
		return r
	}
	return probe.Result{OK: true, HTTPStatus: 200, FinalURL: rawURL}
}

// countingStore records how many link-check writes actually hit the store.
type countingStore struct {
	store.Store
	mu               sync.Mutex
	linkCheckUpdates int
}

func (s *countingStore) UpdateLinkCheck(ctx context.Context, jisCode string, status domain.LinkStatus, checkedAt time.Time) error {
	s.mu.Lock()
	s.linkCheckUpdates++
	s.mu.Unlock()
	return s.Store.UpdateLinkCheck(ctx, jisCode, status, checkedAt)
}

// faultyStore fails every audit log append to force a pool failure.
type faultyStore struct {
	store.Store
}

var errLedgerDown = errors.New("ledger unavailable")

func (s *faultyStore) AppendAuditLog(context.Context, domain.AuditLog) error {
	return errLedgerDown
}

type OrchestratorSuite struct {
	suite.Suite
	ctx    context.Context
	store  *store.Memory
	prober *fakeProber
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = store.NewMemory()
	s.prober = &fakeProber{results: map[string]probe.Result{}}

	s.Require().NoError(s.store.Seed(s.ctx, []domain.Municipality{
		{
			JISCode: "271004", Name: "大阪市", PrefectureName: "大阪府", PrefectureCode: "27",
			Slug: "osaka-shi", URL: "https://www.city.osaka.lg.jp/kaisou",
			LinkStatus: domain.LinkStatusOK, LinkType: domain.LinkTypeGuide, IsPublished: true,
		},
		{
			JISCode: "272078", Name: "高槻市", PrefectureName: "大阪府", PrefectureCode: "27",
			Slug: "takatsuki-shi", PDFURL: "https://www.city.takatsuki.lg.jp/kaisou.pdf",
			LinkStatus: domain.LinkStatusPDFOnly, LinkType: domain.LinkTypePDF, IsPublished: true,
		},
		{
			JISCode: "131016", Name: "千代田区", PrefectureName: "東京都", PrefectureCode: "13",
			Slug: "chiyoda-ku", LinkStatus: domain.LinkStatusUnknown, LinkType: domain.LinkTypeNone,
		},
	}))
}

func (s *OrchestratorSuite) newOrchestrator(st store.Store) *Orchestrator {
	orch, err := New(st, s.prober, WithConcurrency(2))
	s.Require().NoError(err)
	return orch
}

func (s *OrchestratorSuite) TestRunAuditAllHealthy() {
	orch := s.newOrchestrator(s.store)

	summary, err := orch.RunAudit(s.ctx)
	s.Require().NoError(err)

	s.Equal(domain.RunStatusSucceeded, summary.Status)
	s.Equal(3, summary.Total)
	s.Equal(1, summary.OKCount)
	s.Equal(1, summary.PDFOnlyCount)
	s.Equal(0, summary.BrokenCount)
	s.Equal(1, summary.UnknownCount)
	s.InDelta(66.66, summary.IntegrityScore, 0.01)

	s.Run("run record finalized with aggregates", func() {
		run, err := s.store.GetRun(s.ctx, summary.RunID)
		s.Require().NoError(err)
		s.Equal(domain.RunStatusSucceeded, run.Status)
		s.Equal(3, run.TotalChecked)
		s.Equal(0, run.BrokenCount)
		s.Contains(run.Notes, "integrity score: 66.67%")
	})

	s.Run("linkless entity never probed", func() {
		s.Len(s.prober.probed, 2)
		s.NotContains(s.prober.probed, "")
	})

	s.Run("one audit row per probed entity", func() {
		logs, err := s.store.ListAuditLogs(s.ctx, summary.RunID)
		s.Require().NoError(err)
		s.Len(logs, 2)
		for _, l := range logs {
			s.Equal("OK", l.Result)
		}
	})

	s.Run("no recovery candidates on success", func() {
		rcs, err := s.store.ListRecoveryCandidates(s.ctx, summary.RunID)
		s.Require().NoError(err)
		s.Empty(rcs)
	})
}

func (s *OrchestratorSuite) TestUnchangedStatusWritesNothing() {
	counting := &countingStore{Store: s.store}
	orch := s.newOrchestrator(counting)

	_, err := orch.RunAudit(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, counting.linkCheckUpdates)

	m, err := s.store.GetByJISCode(s.ctx, "271004")
	s.Require().NoError(err)
	s.Nil(m.LastCheckedAt)
}

func (s *OrchestratorSuite) TestBrokenLinkQueuesRecovery() {
	s.prober.results["https://www.city.osaka.lg.jp/kaisou"] = probe.Result{
		OK: false, HTTPStatus: 404, ErrorKind: domain.ProbeErrClient, ErrorMessage: "status 404",
	}
	orch := s.newOrchestrator(s.store)

	summary, err := orch.RunAudit(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, summary.BrokenCount)

	m, err := s.store.GetByJISCode(s.ctx, "271004")
	s.Require().NoError(err)
	s.Equal(domain.LinkStatusBroken, m.LinkStatus)
	s.Require().NotNil(m.LastCheckedAt)

	rcs, err := s.store.ListRecoveryCandidates(s.ctx, summary.RunID)
	s.Require().NoError(err)
	s.Require().Len(rcs, 1)
	s.Equal("271004", rcs[0].JISCode)
	s.Equal("大阪府", rcs[0].Prefecture)
	s.Equal("https://www.city.osaka.lg.jp/kaisou", rcs[0].PrevURL)
	s.Equal("linkcheck", rcs[0].Source)
	s.Equal(domain.CandidatePending, rcs[0].Status)
}

func (s *OrchestratorSuite) TestRepeatRunsConverge() {
	s.prober.results["https://www.city.osaka.lg.jp/kaisou"] = probe.Result{
		OK: false, ErrorKind: domain.ProbeErrTimeout, ErrorMessage: "deadline exceeded",
	}
	orch := s.newOrchestrator(s.store)

	first, err := orch.RunAudit(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, first.BrokenCount)

	counting := &countingStore{Store: s.store}
	orch = s.newOrchestrator(counting)
	second, err := orch.RunAudit(s.ctx)
	s.Require().NoError(err)

	// Same inputs, same classification; the already-BROKEN row is not
	// rewritten on the second pass.
	s.Equal(first.BrokenCount, second.BrokenCount)
	s.Equal(0, counting.linkCheckUpdates)
}

func (s *OrchestratorSuite) TestPoolFailureFinalizesRunFailed() {
	orch := s.newOrchestrator(&faultyStore{Store: s.store})

	summary, err := orch.RunAudit(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, errLedgerDown)
	s.Equal(domain.RunStatusFailed, summary.Status)

	run, getErr := s.store.GetRun(s.ctx, summary.RunID)
	s.Require().NoError(getErr)
	s.Equal(domain.RunStatusFailed, run.Status)
	s.True(run.Status.IsTerminal())
	s.Contains(run.Notes, "aborted")
}

// cancellingProber cancels the run mid-probe and reports a failure, the shape
// a real probe takes when shutdown interrupts it.
type cancellingProber struct {
	cancel context.CancelFunc
}

func (p *cancellingProber) Probe(context.Context, string) probe.Result {
	p.cancel()
	return probe.Result{OK: false, ErrorKind: domain.ProbeErrUnknown, ErrorMessage: "context canceled"}
}

func (s *OrchestratorSuite) TestCancelledProbePersistsNothing() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch, err := New(s.store, &cancellingProber{cancel: cancel}, WithConcurrency(2))
	s.Require().NoError(err)

	summary, err := orch.RunAudit(ctx)
	s.Require().Error(err)
	s.ErrorIs(err, context.Canceled)
	s.Equal(domain.RunStatusFailed, summary.Status)

	s.Run("previously healthy entity untouched", func() {
		m, getErr := s.store.GetByJISCode(s.ctx, "271004")
		s.Require().NoError(getErr)
		s.Equal(domain.LinkStatusOK, m.LinkStatus)
		s.Nil(m.LastCheckedAt)
	})

	s.Run("no ledger rows from the aborted probes", func() {
		logs, listErr := s.store.ListAuditLogs(s.ctx, summary.RunID)
		s.Require().NoError(listErr)
		s.Empty(logs)

		rcs, listErr := s.store.ListRecoveryCandidates(s.ctx, summary.RunID)
		s.Require().NoError(listErr)
		s.Empty(rcs)
	})

	s.Run("run record finalized failed", func() {
		run, getErr := s.store.GetRun(s.ctx, summary.RunID)
		s.Require().NoError(getErr)
		s.Equal(domain.RunStatusFailed, run.Status)
		s.Contains(run.Notes, "aborted")
	})
}

func (s *OrchestratorSuite) TestConstructorValidation() {
	_, err := New(nil, s.prober)
	s.Error(err)

	_, err = New(s.store, nil)
	s.Error(err)
}
