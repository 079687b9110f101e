package domain

import "time"

// LinkCheckRun records one orchestrator execution. Created RUNNING,
// transitions exactly once to SUCCEEDED or FAILED; immutable afterward.
type LinkCheckRun struct {
	ID           string
	Status       RunStatus
	StartedAt    time.Time
	FinishedAt   *time.Time
	TotalChecked int
	BrokenCount  int
	Notes        string
}

// AuditLog is one append-only row per probed entity per run.
type AuditLog struct {
	ID           int64
	RunID        string
	JISCode      string
	TargetURL    string
	HTTPStatus   *int
	Result       string
	ErrorMessage string
	CreatedAt    time.Time
}

// RecoveryCandidate queues a municipality whose link failed verification for
// the out-of-band re-discovery workflow. Append-only.
type RecoveryCandidate struct {
	ID           int64
	RunID        string
	JISCode      string
	Prefecture   string
	Municipality string
	PrevURL      string
	PrevPDFURL   string
	Source       string
	Status       CandidateStatus
	CreatedAt    time.Time
}

// Candidate is an externally sourced, not-yet-canonical URL proposal staged
// for reconciliation. JISCode may be empty; such rows are resolved by
// normalized prefecture+name before merging.
type Candidate struct {
	ID           int64
	BatchID      string
	Prefecture   string
	Municipality string
	JISCode      string
	URL          string
	PDFURL       string
	Tag          string
	Status       CandidateStatus
	StatusReason string
	StagedAt     time.Time
}

// ArchivedMunicipality preserves the full row of a deleted entity. Rows are
// written in the same transaction that deletes the live record.
type ArchivedMunicipality struct {
	Municipality
	ArchivedAt time.Time
	Reason     string
}
