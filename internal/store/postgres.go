package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"kaisou/internal/domain"
	"kaisou/pkg/sentinel"
)

// Postgres is the shared-deployment backend. Schema lives in
// migrations/postgres and is applied out of band.
type Postgres struct {
	db *sql.DB
	q  dbtx
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects to PostgreSQL with the given DSN.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an already-opened database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

func (s *Postgres) Close() error { return s.db.Close() }

const pgMunicipalityColumns = `jis_code, name, prefecture_code, prefecture_name, prefecture_slug, slug,
	url, pdf_url, link_status, link_type, is_published, has_domain_warning, last_checked_at, notes`

func (s *Postgres) ListAll(ctx context.Context) ([]domain.Municipality, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+pgMunicipalityColumns+` FROM municipalities ORDER BY jis_code`)
	if err != nil {
		return nil, fmt.Errorf("list municipalities: %w", err)
	}
	defer rows.Close()

	var out []domain.Municipality
	for rows.Next() {
		m, err := scanMunicipality(rows)
		if err != nil {
			return nil, fmt.Errorf("scan municipality: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list municipalities: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetByJISCode(ctx context.Context, jisCode string) (domain.Municipality, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+pgMunicipalityColumns+` FROM municipalities WHERE jis_code = $1`, jisCode)
	m, err := scanMunicipality(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Municipality{}, sentinel.ErrNotFound
		}
		return domain.Municipality{}, fmt.Errorf("get municipality: %w", err)
	}
	return m, nil
}

func (s *Postgres) Seed(ctx context.Context, municipalities []domain.Municipality) error {
	if err := checkSeedBatch(municipalities); err != nil {
		return err
	}
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM municipalities`).Scan(&count); err != nil {
		return fmt.Errorf("seed precheck: %w", err)
	}
	if count > 0 {
		return sentinel.ErrAlreadySeeded
	}
	return s.RunInTx(ctx, func(txStore Store) error {
		tx := txStore.(*Postgres)
		for _, m := range municipalities {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO municipalities (`+pgMunicipalityColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				m.JISCode, m.Name, m.PrefectureCode, m.PrefectureName, m.PrefectureSlug, m.Slug,
				m.URL, m.PDFURL, string(m.LinkStatus), string(m.LinkType), m.IsPublished,
				m.HasDomainWarning, nullableTime(m.LastCheckedAt), m.Notes)
			if err != nil {
				return fmt.Errorf("seed municipality %s: %w", m.JISCode, err)
			}
		}
		return nil
	})
}

func (s *Postgres) UpdateLinkCheck(ctx context.Context, jisCode string, status domain.LinkStatus, checkedAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE municipalities SET link_status = $1, last_checked_at = $2 WHERE jis_code = $3`,
		string(status), checkedAt, jisCode)
	if err != nil {
		return fmt.Errorf("update link check: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) UpdateLinks(ctx context.Context, m domain.Municipality) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE municipalities
		SET url = $1, pdf_url = $2, link_status = $3, link_type = $4,
			is_published = $5, has_domain_warning = $6, notes = $7
		WHERE jis_code = $8`,
		m.URL, m.PDFURL, string(m.LinkStatus), string(m.LinkType),
		m.IsPublished, m.HasDomainWarning, m.Notes, m.JISCode)
	if err != nil {
		return fmt.Errorf("update links: %w", err)
	}
	return requireRow(res)
}

func (s *Postgres) ArchiveAndDelete(ctx context.Context, jisCode, reason string) error {
	return s.RunInTx(ctx, func(txStore Store) error {
		tx := txStore.(*Postgres)
		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO municipality_archives (`+pgMunicipalityColumns+`, archived_at, reason)
			SELECT `+pgMunicipalityColumns+`, $1, $2 FROM municipalities WHERE jis_code = $3`,
			time.Now(), reason, jisCode)
		if err != nil {
			return fmt.Errorf("archive municipality: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM municipalities WHERE jis_code = $1`, jisCode); err != nil {
			return fmt.Errorf("delete municipality: %w", err)
		}
		return nil
	})
}

func (s *Postgres) CreateRun(ctx context.Context, run domain.LinkCheckRun) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO link_check_runs (id, status, started_at, finished_at, total_checked, broken_count, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, string(run.Status), run.StartedAt, nullableTime(run.FinishedAt),
		run.TotalChecked, run.BrokenCount, run.Notes)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Postgres) FinalizeRun(ctx context.Context, runID string, status domain.RunStatus, totalChecked, brokenCount int, notes string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE link_check_runs
		SET status = $1, finished_at = $2, total_checked = $3, broken_count = $4, notes = $5
		WHERE id = $6 AND status = $7`,
		string(status), time.Now(), totalChecked, brokenCount, notes, runID, string(domain.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}
	if n == 0 {
		if _, err := s.GetRun(ctx, runID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *Postgres) GetRun(ctx context.Context, runID string) (domain.LinkCheckRun, error) {
	var (
		run        domain.LinkCheckRun
		status     string
		finishedAt sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, status, started_at, finished_at, total_checked, broken_count, notes
		FROM link_check_runs WHERE id = $1`, runID).
		Scan(&run.ID, &status, &run.StartedAt, &finishedAt, &run.TotalChecked, &run.BrokenCount, &run.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LinkCheckRun{}, sentinel.ErrNotFound
		}
		return domain.LinkCheckRun{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

func (s *Postgres) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_logs (run_id, jis_code, target_url, http_status, result, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.RunID, entry.JISCode, entry.TargetURL, nullableInt(entry.HTTPStatus),
		entry.Result, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (s *Postgres) ListAuditLogs(ctx context.Context, runID string) ([]domain.AuditLog, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, run_id, jis_code, target_url, http_status, result, error_message, created_at
		FROM audit_logs WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditLog
	for rows.Next() {
		var (
			e          domain.AuditLog
			httpStatus sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.JISCode, &e.TargetURL, &httpStatus, &e.Result, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if httpStatus.Valid {
			v := int(httpStatus.Int64)
			e.HTTPStatus = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Postgres) AppendRecoveryCandidate(ctx context.Context, rc domain.RecoveryCandidate) error {
	if rc.Status == "" {
		rc.Status = domain.CandidatePending
	}
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recovery_candidates (run_id, jis_code, prefecture, municipality, prev_url, prev_pdf_url, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rc.RunID, rc.JISCode, rc.Prefecture, rc.Municipality, rc.PrevURL, rc.PrevPDFURL,
		rc.Source, string(rc.Status), rc.CreatedAt)
	if err != nil {
		return fmt.Errorf("append recovery candidate: %w", err)
	}
	return nil
}

func (s *Postgres) ListRecoveryCandidates(ctx context.Context, runID string) ([]domain.RecoveryCandidate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, run_id, jis_code, prefecture, municipality, prev_url, prev_pdf_url, source, status, created_at
		FROM recovery_candidates WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list recovery candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.RecoveryCandidate
	for rows.Next() {
		var (
			rc     domain.RecoveryCandidate
			status string
		)
		if err := rows.Scan(&rc.ID, &rc.RunID, &rc.JISCode, &rc.Prefecture, &rc.Municipality,
			&rc.PrevURL, &rc.PrevPDFURL, &rc.Source, &status, &rc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recovery candidate: %w", err)
		}
		rc.Status = domain.CandidateStatus(status)
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *Postgres) StageCandidates(ctx context.Context, candidates []domain.Candidate) error {
	return s.RunInTx(ctx, func(txStore Store) error {
		tx := txStore.(*Postgres)
		for _, c := range candidates {
			if c.Status == "" {
				c.Status = domain.CandidatePending
			}
			if c.StagedAt.IsZero() {
				c.StagedAt = time.Now()
			}
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO staged_candidates (batch_id, prefecture, municipality, jis_code, url, pdf_url, tag, status, status_reason, staged_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				c.BatchID, c.Prefecture, c.Municipality, c.JISCode, c.URL, c.PDFURL,
				c.Tag, string(c.Status), c.StatusReason, c.StagedAt)
			if err != nil {
				return fmt.Errorf("stage candidate: %w", err)
			}
		}
		return nil
	})
}

func (s *Postgres) ListPendingCandidates(ctx context.Context, batchID string) ([]domain.Candidate, error) {
	query := `
		SELECT id, batch_id, prefecture, municipality, jis_code, url, pdf_url, tag, status, status_reason, staged_at
		FROM staged_candidates WHERE status = $1`
	args := []any{string(domain.CandidatePending)}
	if batchID != "" {
		query += ` AND batch_id = $2`
		args = append(args, batchID)
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pending candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var (
			c      domain.Candidate
			status string
		)
		if err := rows.Scan(&c.ID, &c.BatchID, &c.Prefecture, &c.Municipality, &c.JISCode,
			&c.URL, &c.PDFURL, &c.Tag, &status, &c.StatusReason, &c.StagedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Status = domain.CandidateStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) SetCandidateStatus(ctx context.Context, candidateID int64, status domain.CandidateStatus, reason string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE staged_candidates SET status = $1, status_reason = $2 WHERE id = $3`,
		string(status), reason, candidateID)
	if err != nil {
		return fmt.Errorf("set candidate status: %w", err)
	}
	return requireRow(res)
}

// RunInTx runs fn against a transaction-bound copy of the store. Reuses the
// open transaction when called on an already transaction-bound store.
func (s *Postgres) RunInTx(ctx context.Context, fn func(Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&Postgres{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
