// Package checker runs the scheduled link audit: it probes every entity's
// link under a bounded worker pool, classifies outcomes, and writes the run
// record, audit log and recovery candidates through the store.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"kaisou/internal/domain"
	"kaisou/internal/platform/metrics"
	"kaisou/internal/probe"
	"kaisou/internal/store"
)

const (
	defaultConcurrency = 10
	recoverySource     = "linkcheck"
	finalizeTimeout    = 10 * time.Second
)

// Orchestrator coordinates one full audit over the canonical entity set.
type Orchestrator struct {
	store       store.Store
	prober      probe.Prober
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics wires Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithConcurrency sets the worker pool width.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// New constructs an Orchestrator.
func New(st store.Store, prober probe.Prober, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if prober == nil {
		return nil, fmt.Errorf("prober is required")
	}
	o := &Orchestrator{
		store:       st,
		prober:      prober,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RunSummary aggregates one finished audit.
type RunSummary struct {
	RunID          string
	Status         domain.RunStatus
	Total          int
	OKCount        int
	PDFOnlyCount   int
	BrokenCount    int
	UnknownCount   int
	IntegrityScore float64
	Duration       time.Duration
}

// entityOutcome is one worker's result slot. Workers write disjoint slots, so
// the slice needs no locking; aggregation happens only after the pool joins.
type entityOutcome struct {
	status domain.LinkStatus
}

// RunAudit executes one audit. The run record is guaranteed a terminal state:
// if the pool fails, the context is cancelled or a worker panics, a deferred
// finalizer marks the run FAILED before RunAudit returns.
func (o *Orchestrator) RunAudit(ctx context.Context) (RunSummary, error) {
	entities, err := o.store.ListAll(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list entities: %w", err)
	}

	run := domain.LinkCheckRun{
		ID:        uuid.NewString(),
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return RunSummary{}, fmt.Errorf("create run: %w", err)
	}

	o.logger.Info("link check run started",
		"run_id", run.ID,
		"entities", len(entities),
		"concurrency", o.concurrency)

	summary := RunSummary{RunID: run.ID, Total: len(entities)}
	finalized := false
	defer func() {
		if finalized {
			return
		}
		// The run must never be left RUNNING. Finalize on a detached
		// context: the caller's context may already be cancelled.
		fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		if ferr := o.store.FinalizeRun(fctx, run.ID, domain.RunStatusFailed, 0, 0, "run aborted before completion"); ferr != nil {
			o.logger.Error("failed to finalize aborted run", "run_id", run.ID, "error", ferr)
		}
		o.metrics.ObserveRun(string(domain.RunStatusFailed), 0, 0)
	}()

	outcomes := make([]entityOutcome, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, m := range entities {
		g.Go(func() error {
			outcome, err := o.checkOne(gctx, run.ID, m)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		summary.Status = domain.RunStatusFailed
		return summary, fmt.Errorf("link check pool: %w", err)
	}

	for _, outcome := range outcomes {
		switch outcome.status {
		case domain.LinkStatusOK:
			summary.OKCount++
		case domain.LinkStatusPDFOnly:
			summary.PDFOnlyCount++
		case domain.LinkStatusBroken:
			summary.BrokenCount++
		default:
			summary.UnknownCount++
		}
	}
	if summary.Total > 0 {
		summary.IntegrityScore = float64(summary.OKCount+summary.PDFOnlyCount) / float64(summary.Total) * 100
	}
	summary.Duration = time.Since(run.StartedAt)

	notes := fmt.Sprintf("integrity score: %.2f%% (ok=%d pdf_only=%d broken=%d unknown=%d)",
		summary.IntegrityScore, summary.OKCount, summary.PDFOnlyCount, summary.BrokenCount, summary.UnknownCount)
	if err := o.store.FinalizeRun(ctx, run.ID, domain.RunStatusSucceeded, summary.Total, summary.BrokenCount, notes); err != nil {
		summary.Status = domain.RunStatusFailed
		return summary, fmt.Errorf("finalize run: %w", err)
	}
	finalized = true
	summary.Status = domain.RunStatusSucceeded

	o.metrics.ObserveRun(string(domain.RunStatusSucceeded), summary.IntegrityScore, summary.BrokenCount)
	o.logger.Info("link check run finished",
		"run_id", run.ID,
		"integrity_score", fmt.Sprintf("%.2f", summary.IntegrityScore),
		"broken", summary.BrokenCount,
		"duration", summary.Duration.Round(time.Millisecond))

	return summary, nil
}

// checkOne probes a single entity and persists its outcome. Entities with no
// link at all are counted UNKNOWN without touching the network or the store.
func (o *Orchestrator) checkOne(ctx context.Context, runID string, m domain.Municipality) (entityOutcome, error) {
	targetURL, target := m.ProbeURL()
	if target == domain.TargetNone {
		return entityOutcome{status: domain.LinkStatusUnknown}, nil
	}

	result := o.prober.Probe(ctx, targetURL)
	if !result.OK && ctx.Err() != nil {
		// A probe cut short by cancellation says nothing about the link.
		// Persist no status, no audit row, no recovery candidate.
		return entityOutcome{}, ctx.Err()
	}
	status := Classify(target, result)
	o.metrics.ObserveProbe(auditResult(result))

	// Unchanged status means no write at all: re-stamping lastCheckedAt on
	// thousands of unchanged rows is pointless write amplification.
	if status != m.LinkStatus {
		if err := o.store.UpdateLinkCheck(ctx, m.JISCode, status, time.Now()); err != nil {
			return entityOutcome{}, fmt.Errorf("update %s: %w", m.JISCode, err)
		}
	}

	entry := domain.AuditLog{
		RunID:        runID,
		JISCode:      m.JISCode,
		TargetURL:    targetURL,
		Result:       auditResult(result),
		ErrorMessage: result.ErrorMessage,
	}
	if result.HTTPStatus != 0 {
		httpStatus := result.HTTPStatus
		entry.HTTPStatus = &httpStatus
	}
	if err := o.store.AppendAuditLog(ctx, entry); err != nil {
		return entityOutcome{}, fmt.Errorf("append audit log for %s: %w", m.JISCode, err)
	}

	if !result.OK {
		o.logger.Warn("link check failed",
			"jis_code", m.JISCode,
			"municipality", m.Name,
			"url", targetURL,
			"kind", string(result.ErrorKind))
		rc := domain.RecoveryCandidate{
			RunID:        runID,
			JISCode:      m.JISCode,
			Prefecture:   m.PrefectureName,
			Municipality: m.Name,
			PrevURL:      m.URL,
			PrevPDFURL:   m.PDFURL,
			Source:       recoverySource,
			Status:       domain.CandidatePending,
		}
		if err := o.store.AppendRecoveryCandidate(ctx, rc); err != nil {
			return entityOutcome{}, fmt.Errorf("append recovery candidate for %s: %w", m.JISCode, err)
		}
	}

	return entityOutcome{status: status}, nil
}
