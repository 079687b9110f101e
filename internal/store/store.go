// Package store defines the persistence boundary of the audit pipeline and
// provides in-memory, SQLite and PostgreSQL implementations.
//
// Stores are interface-driven so domain logic stays testable and persistence
// can be swapped without rewiring the pipeline. Multi-row operations
// (archive-then-delete, reconciliation merges) are all-or-nothing.
package store

import (
	"context"
	"time"

	"kaisou/internal/domain"
)

// MunicipalityStore is the canonical entity set.
type MunicipalityStore interface {
	ListAll(ctx context.Context) ([]domain.Municipality, error)
	GetByJISCode(ctx context.Context, jisCode string) (domain.Municipality, error)

	// Seed creates the canonical entity set once. A second call returns
	// sentinel.ErrAlreadySeeded; a duplicate JIS code in the batch returns
	// sentinel.ErrConflict and writes nothing.
	Seed(ctx context.Context, municipalities []domain.Municipality) error

	// UpdateLinkCheck writes a new link status and check timestamp for one
	// entity. Callers must not invoke it for unchanged statuses; the store
	// does not deduplicate writes.
	UpdateLinkCheck(ctx context.Context, jisCode string, status domain.LinkStatus, checkedAt time.Time) error

	// UpdateLinks overwrites the link fields of one entity: url, pdfUrl,
	// linkStatus, linkType, isPublished, hasDomainWarning and notes.
	UpdateLinks(ctx context.Context, m domain.Municipality) error

	// ArchiveAndDelete copies the full row into the archive and removes the
	// live row in one transaction. The live row survives any failure.
	ArchiveAndDelete(ctx context.Context, jisCode, reason string) error
}

// RunStore persists link-check run records.
type RunStore interface {
	CreateRun(ctx context.Context, run domain.LinkCheckRun) error

	// FinalizeRun transitions a RUNNING run to a terminal state. Finalizing
	// an already-terminal run returns sentinel.ErrInvalidState.
	FinalizeRun(ctx context.Context, runID string, status domain.RunStatus, totalChecked, brokenCount int, notes string) error

	GetRun(ctx context.Context, runID string) (domain.LinkCheckRun, error)
}

// LedgerStore holds the append-only audit trail of probe outcomes.
type LedgerStore interface {
	AppendAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, runID string) ([]domain.AuditLog, error)
	AppendRecoveryCandidate(ctx context.Context, rc domain.RecoveryCandidate) error
	ListRecoveryCandidates(ctx context.Context, runID string) ([]domain.RecoveryCandidate, error)
}

// CandidateStore stages externally sourced URL proposals with auditable
// status transitions (pending → applied/rejected/unmatched).
type CandidateStore interface {
	StageCandidates(ctx context.Context, candidates []domain.Candidate) error
	ListPendingCandidates(ctx context.Context, batchID string) ([]domain.Candidate, error)
	SetCandidateStatus(ctx context.Context, candidateID int64, status domain.CandidateStatus, reason string) error
}

// Store is the full persistence boundary.
type Store interface {
	MunicipalityStore
	RunStore
	LedgerStore
	CandidateStore

	// RunInTx executes fn against a transaction-bound view of the store.
	// All writes inside fn commit together or not at all. The merge and
	// archive paths depend on this guarantee.
	RunInTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
