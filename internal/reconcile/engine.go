// Package reconcile merges externally discovered candidate links into the
// canonical entity set. The entity set is closed: candidates may update
// existing municipalities but can never mint new ones.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kaisou/internal/domain"
	"kaisou/internal/store"
	"kaisou/internal/trust"
)

// Engine applies staged candidates to the canonical store.
type Engine struct {
	store  store.Store
	trust  *trust.Classifier
	logger *slog.Logger
	now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock sets the clock used for audit notes, for testability.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs a reconciliation engine.
func NewEngine(st store.Store, trustClassifier *trust.Classifier, opts ...EngineOption) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if trustClassifier == nil {
		return nil, fmt.Errorf("trust classifier is required")
	}
	e := &Engine{
		store:  st,
		trust:  trustClassifier,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RecordOutcome describes what happened to one candidate.
type RecordOutcome struct {
	CandidateID  int64
	JISCode      string
	Prefecture   string
	Municipality string
	Reason       string
}

// MergeReport summarizes one merge invocation.
type MergeReport struct {
	Applied   []RecordOutcome
	Skipped   []RecordOutcome
	Unmatched []RecordOutcome
}

// Merge applies every pending candidate in batchID (all pending candidates if
// batchID is empty) inside a single transaction: either the whole batch of
// entity updates and candidate status transitions commits, or none of it
// does. Re-running against the same candidate data converges: an identical
// URL is a true no-op and appends nothing.
func (e *Engine) Merge(ctx context.Context, batchID string) (MergeReport, error) {
	var report MergeReport

	err := e.store.RunInTx(ctx, func(s store.Store) error {
		candidates, err := s.ListPendingCandidates(ctx, batchID)
		if err != nil {
			return fmt.Errorf("list pending candidates: %w", err)
		}
		entities, err := s.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list entities: %w", err)
		}

		byJIS := make(map[string]domain.Municipality, len(entities))
		byName := make(map[string]domain.Municipality, len(entities))
		for _, m := range entities {
			byJIS[m.JISCode] = m
			byName[MatchKey(m.PrefectureName, m.Name)] = m
		}

		report = MergeReport{}
		for _, c := range candidates {
			outcome, err := e.mergeOne(ctx, s, c, byJIS, byName)
			if err != nil {
				return err
			}
			switch outcome.bucket {
			case bucketApplied:
				report.Applied = append(report.Applied, outcome.record)
				// keep the index current so later candidates in the same
				// batch see the already-applied state
				byJIS[outcome.updated.JISCode] = outcome.updated
				byName[MatchKey(outcome.updated.PrefectureName, outcome.updated.Name)] = outcome.updated
			case bucketSkipped:
				report.Skipped = append(report.Skipped, outcome.record)
			case bucketUnmatched:
				report.Unmatched = append(report.Unmatched, outcome.record)
			}
		}
		return nil
	})
	if err != nil {
		return MergeReport{}, err
	}

	e.logger.Info("reconciliation merge finished",
		"batch_id", batchID,
		"applied", len(report.Applied),
		"skipped", len(report.Skipped),
		"unmatched", len(report.Unmatched))
	return report, nil
}

type mergeBucket int

const (
	bucketApplied mergeBucket = iota
	bucketSkipped
	bucketUnmatched
)

type mergeOutcome struct {
	bucket  mergeBucket
	record  RecordOutcome
	updated domain.Municipality
}

func (e *Engine) mergeOne(ctx context.Context, s store.Store, c domain.Candidate, byJIS, byName map[string]domain.Municipality) (mergeOutcome, error) {
	record := RecordOutcome{
		CandidateID:  c.ID,
		JISCode:      c.JISCode,
		Prefecture:   c.Prefecture,
		Municipality: c.Municipality,
	}

	// Format correction precedes everything else: a .pdf link filed under
	// url belongs in pdfUrl.
	if domain.IsPDFPath(c.URL) {
		if c.PDFURL == "" {
			c.PDFURL = c.URL
		}
		c.URL = ""
	}

	m, found := resolve(c, byJIS, byName)
	if !found {
		record.Reason = "no entity matches jis code or normalized name"
		if err := s.SetCandidateStatus(ctx, c.ID, domain.CandidateUnmatched, record.Reason); err != nil {
			return mergeOutcome{}, fmt.Errorf("mark candidate %d unmatched: %w", c.ID, err)
		}
		return mergeOutcome{bucket: bucketUnmatched, record: record}, nil
	}
	record.JISCode = m.JISCode

	// The merge is the only writer of canonical link fields; nothing that
	// is not an absolute http(s) URL may pass through it.
	var reason string
	switch {
	case c.URL == "" && c.PDFURL == "":
		reason = "candidate carries no url"
	case c.URL != "" && !strings.HasPrefix(c.URL, "http"):
		reason = fmt.Sprintf("url %q does not start with http", c.URL)
	case c.PDFURL != "" && !strings.HasPrefix(c.PDFURL, "http"):
		reason = fmt.Sprintf("pdfUrl %q does not start with http", c.PDFURL)
	case c.URL == m.URL && c.PDFURL == m.PDFURL:
		reason = "identical to existing link"
	}
	if reason != "" {
		record.Reason = reason
		if err := s.SetCandidateStatus(ctx, c.ID, domain.CandidateRejected, reason); err != nil {
			return mergeOutcome{}, fmt.Errorf("mark candidate %d rejected: %w", c.ID, err)
		}
		return mergeOutcome{bucket: bucketSkipped, record: record}, nil
	}

	updated := m
	updated.URL = c.URL
	updated.PDFURL = c.PDFURL
	updated.LinkStatus, updated.LinkType, updated.IsPublished = domain.DeriveLinkFields(updated.URL, updated.PDFURL)

	activeLink := updated.URL
	if activeLink == "" {
		activeLink = updated.PDFURL
	}
	updated.HasDomainWarning = e.trust.Warn(activeLink)

	// The prior value is preserved as an appended note, never by rewriting
	// history.
	updated.AppendNote(fmt.Sprintf("[reconcile %s] previous url=%s pdfUrl=%s",
		e.now().Format("2006-01-02"), quoteOrNull(m.URL), quoteOrNull(m.PDFURL)))

	if err := s.UpdateLinks(ctx, updated); err != nil {
		return mergeOutcome{}, fmt.Errorf("update links for %s: %w", m.JISCode, err)
	}
	if err := s.SetCandidateStatus(ctx, c.ID, domain.CandidateApplied, ""); err != nil {
		return mergeOutcome{}, fmt.Errorf("mark candidate %d applied: %w", c.ID, err)
	}

	if updated.HasDomainWarning {
		e.logger.Warn("applied candidate from untrusted domain",
			"jis_code", m.JISCode, "url", activeLink)
	}

	return mergeOutcome{bucket: bucketApplied, record: record, updated: updated}, nil
}

// resolve matches a candidate to a canonical entity: exact JIS code first,
// normalized prefecture+name second.
func resolve(c domain.Candidate, byJIS, byName map[string]domain.Municipality) (domain.Municipality, bool) {
	if c.JISCode != "" {
		if m, ok := byJIS[c.JISCode]; ok {
			return m, true
		}
		// a stale JIS code does not forbid a name match; source data is
		// manually transcribed on both axes
	}
	m, ok := byName[MatchKey(c.Prefecture, c.Municipality)]
	return m, ok
}

func quoteOrNull(s string) string {
	if s == "" {
		return "null"
	}
	return fmt.Sprintf("%q", s)
}
