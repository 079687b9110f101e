package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kaisou/internal/domain"
	"kaisou/pkg/sentinel"
)

// Memory keeps the whole data set in process. It intentionally favors
// clarity over performance; the production backends are SQLite and Postgres.
type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	seeded         bool
	municipalities map[string]domain.Municipality
	archives       []domain.ArchivedMunicipality
	runs           map[string]domain.LinkCheckRun
	auditLogs      []domain.AuditLog
	recovery       []domain.RecoveryCandidate
	candidates     map[int64]domain.Candidate

	nextAuditID     int64
	nextRecoveryID  int64
	nextCandidateID int64
}

var _ Store = (*Memory)(nil)

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		municipalities: make(map[string]domain.Municipality),
		runs:           make(map[string]domain.LinkCheckRun),
		candidates:     make(map[int64]domain.Candidate),
	}
}

func (s *Memory) ListAll(_ context.Context) ([]domain.Municipality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Municipality, 0, len(s.municipalities))
	for _, m := range s.municipalities {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JISCode < out[j].JISCode })
	return out, nil
}

func (s *Memory) GetByJISCode(_ context.Context, jisCode string) (domain.Municipality, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.municipalities[jisCode]; ok {
		return m, nil
	}
	return domain.Municipality{}, sentinel.ErrNotFound
}

func (s *Memory) Seed(_ context.Context, municipalities []domain.Municipality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return sentinel.ErrAlreadySeeded
	}
	staged := make(map[string]domain.Municipality, len(municipalities))
	for _, m := range municipalities {
		if _, dup := staged[m.JISCode]; dup {
			return fmt.Errorf("seed: jis code %s: %w", m.JISCode, sentinel.ErrConflict)
		}
		staged[m.JISCode] = m
	}
	s.municipalities = staged
	s.seeded = true
	return nil
}

func (s *Memory) UpdateLinkCheck(_ context.Context, jisCode string, status domain.LinkStatus, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.municipalities[jisCode]
	if !ok {
		return sentinel.ErrNotFound
	}
	m.LinkStatus = status
	t := checkedAt
	m.LastCheckedAt = &t
	s.municipalities[jisCode] = m
	return nil
}

func (s *Memory) UpdateLinks(_ context.Context, updated domain.Municipality) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.municipalities[updated.JISCode]
	if !ok {
		return sentinel.ErrNotFound
	}
	m.URL = updated.URL
	m.PDFURL = updated.PDFURL
	m.LinkStatus = updated.LinkStatus
	m.LinkType = updated.LinkType
	m.IsPublished = updated.IsPublished
	m.HasDomainWarning = updated.HasDomainWarning
	m.Notes = updated.Notes
	s.municipalities[updated.JISCode] = m
	return nil
}

func (s *Memory) ArchiveAndDelete(_ context.Context, jisCode, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.municipalities[jisCode]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.archives = append(s.archives, domain.ArchivedMunicipality{
		Municipality: m,
		ArchivedAt:   time.Now(),
		Reason:       reason,
	})
	delete(s.municipalities, jisCode)
	return nil
}

// ListArchives exposes archived rows for tests.
func (s *Memory) ListArchives() []domain.ArchivedMunicipality {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ArchivedMunicipality, len(s.archives))
	copy(out, s.archives)
	return out
}

func (s *Memory) CreateRun(_ context.Context, run domain.LinkCheckRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return sentinel.ErrConflict
	}
	s.runs[run.ID] = run
	return nil
}

func (s *Memory) FinalizeRun(_ context.Context, runID string, status domain.RunStatus, totalChecked, brokenCount int, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if run.Status.IsTerminal() {
		return sentinel.ErrInvalidState
	}
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	run.TotalChecked = totalChecked
	run.BrokenCount = brokenCount
	run.Notes = notes
	s.runs[runID] = run
	return nil
}

func (s *Memory) GetRun(_ context.Context, runID string) (domain.LinkCheckRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if run, ok := s.runs[runID]; ok {
		return run, nil
	}
	return domain.LinkCheckRun{}, sentinel.ErrNotFound
}

func (s *Memory) AppendAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuditID++
	entry.ID = s.nextAuditID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Memory) ListAuditLogs(_ context.Context, runID string) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditLog
	for _, e := range s.auditLogs {
		if e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Memory) AppendRecoveryCandidate(_ context.Context, rc domain.RecoveryCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecoveryID++
	rc.ID = s.nextRecoveryID
	if rc.Status == "" {
		rc.Status = domain.CandidatePending
	}
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now()
	}
	s.recovery = append(s.recovery, rc)
	return nil
}

func (s *Memory) ListRecoveryCandidates(_ context.Context, runID string) ([]domain.RecoveryCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RecoveryCandidate
	for _, rc := range s.recovery {
		if rc.RunID == runID {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (s *Memory) StageCandidates(_ context.Context, candidates []domain.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candidates {
		s.nextCandidateID++
		c.ID = s.nextCandidateID
		if c.Status == "" {
			c.Status = domain.CandidatePending
		}
		if c.StagedAt.IsZero() {
			c.StagedAt = time.Now()
		}
		s.candidates[c.ID] = c
	}
	return nil
}

func (s *Memory) ListPendingCandidates(_ context.Context, batchID string) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Candidate
	for _, c := range s.candidates {
		if c.Status == domain.CandidatePending && (batchID == "" || c.BatchID == batchID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) SetCandidateStatus(_ context.Context, candidateID int64, status domain.CandidateStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.candidates[candidateID]
	if !ok {
		return sentinel.ErrNotFound
	}
	c.Status = status
	c.StatusReason = reason
	s.candidates[candidateID] = c
	return nil
}

// RunInTx serializes transactional callers and rolls the whole store back if
// fn fails, mirroring the all-or-nothing guarantee of the SQL backends.
// Nested transactions are not supported.
func (s *Memory) RunInTx(ctx context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Memory) Close() error { return nil }

type memorySnapshot struct {
	seeded          bool
	municipalities  map[string]domain.Municipality
	archives        []domain.ArchivedMunicipality
	runs            map[string]domain.LinkCheckRun
	auditLogs       []domain.AuditLog
	recovery        []domain.RecoveryCandidate
	candidates      map[int64]domain.Candidate
	nextAuditID     int64
	nextRecoveryID  int64
	nextCandidateID int64
}

func (s *Memory) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := memorySnapshot{
		seeded:          s.seeded,
		municipalities:  make(map[string]domain.Municipality, len(s.municipalities)),
		archives:        append([]domain.ArchivedMunicipality(nil), s.archives...),
		runs:            make(map[string]domain.LinkCheckRun, len(s.runs)),
		auditLogs:       append([]domain.AuditLog(nil), s.auditLogs...),
		recovery:        append([]domain.RecoveryCandidate(nil), s.recovery...),
		candidates:      make(map[int64]domain.Candidate, len(s.candidates)),
		nextAuditID:     s.nextAuditID,
		nextRecoveryID:  s.nextRecoveryID,
		nextCandidateID: s.nextCandidateID,
	}
	for k, v := range s.municipalities {
		snap.municipalities[k] = v
	}
	for k, v := range s.runs {
		snap.runs[k] = v
	}
	for k, v := range s.candidates {
		snap.candidates[k] = v
	}
	return snap
}

func (s *Memory) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded = snap.seeded
	s.municipalities = snap.municipalities
	s.archives = snap.archives
	s.runs = snap.runs
	s.auditLogs = snap.auditLogs
	s.recovery = snap.recovery
	s.candidates = snap.candidates
	s.nextAuditID = snap.nextAuditID
	s.nextRecoveryID = snap.nextRecoveryID
	s.nextCandidateID = snap.nextCandidateID
}
