package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"kaisou/internal/domain"
	"kaisou/pkg/sentinel"
)

// Schema for the SQLite backend. Call SQLite.Init() or apply manually.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS municipalities (
	jis_code TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	prefecture_code TEXT NOT NULL,
	prefecture_name TEXT NOT NULL,
	prefecture_slug TEXT NOT NULL,
	slug TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	pdf_url TEXT NOT NULL DEFAULT '',
	link_status TEXT NOT NULL DEFAULT 'UNKNOWN',
	link_type TEXT NOT NULL DEFAULT 'NONE',
	is_published INTEGER NOT NULL DEFAULT 0,
	has_domain_warning INTEGER NOT NULL DEFAULT 0,
	last_checked_at TIMESTAMP,
	notes TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_municipalities_pref ON municipalities(prefecture_code);

CREATE TABLE IF NOT EXISTS municipality_archives (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	jis_code TEXT NOT NULL,
	name TEXT NOT NULL,
	prefecture_code TEXT NOT NULL,
	prefecture_name TEXT NOT NULL,
	prefecture_slug TEXT NOT NULL,
	slug TEXT NOT NULL,
	url TEXT NOT NULL,
	pdf_url TEXT NOT NULL,
	link_status TEXT NOT NULL,
	link_type TEXT NOT NULL,
	is_published INTEGER NOT NULL,
	has_domain_warning INTEGER NOT NULL,
	last_checked_at TIMESTAMP,
	notes TEXT NOT NULL,
	archived_at TIMESTAMP NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS link_check_runs (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP,
	total_checked INTEGER NOT NULL DEFAULT 0,
	broken_count INTEGER NOT NULL DEFAULT 0,
	notes TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	jis_code TEXT NOT NULL,
	target_url TEXT NOT NULL,
	http_status INTEGER,
	result TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_run ON audit_logs(run_id);

CREATE TABLE IF NOT EXISTS recovery_candidates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	jis_code TEXT NOT NULL,
	prefecture TEXT NOT NULL,
	municipality TEXT NOT NULL,
	prev_url TEXT NOT NULL DEFAULT '',
	prev_pdf_url TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recovery_candidates_run ON recovery_candidates(run_id);

CREATE TABLE IF NOT EXISTS staged_candidates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id TEXT NOT NULL,
	prefecture TEXT NOT NULL,
	municipality TEXT NOT NULL,
	jis_code TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	pdf_url TEXT NOT NULL DEFAULT '',
	tag TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'PENDING',
	status_reason TEXT NOT NULL DEFAULT '',
	staged_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_staged_candidates_batch ON staged_candidates(batch_id, status);
`

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same query methods
// serve direct and transactional access.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the embedded default backend for local and single-node use.
type SQLite struct {
	db *sql.DB
	q  dbtx
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent ledger appends from the worker pool.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, q: db}
	if err := s.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Init creates the tables if they do not exist.
func (s *SQLite) Init() error {
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

const sqliteMunicipalityColumns = `jis_code, name, prefecture_code, prefecture_name, prefecture_slug, slug,
	url, pdf_url, link_status, link_type, is_published, has_domain_warning, last_checked_at, notes`

func (s *SQLite) ListAll(ctx context.Context) ([]domain.Municipality, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+sqliteMunicipalityColumns+` FROM municipalities ORDER BY jis_code`)
	if err != nil {
		return nil, fmt.Errorf("list municipalities: %w", err)
	}
	defer rows.Close()

	var out []domain.Municipality
	for rows.Next() {
		m, err := scanMunicipality(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list municipalities: %w", err)
	}
	return out, nil
}

func (s *SQLite) GetByJISCode(ctx context.Context, jisCode string) (domain.Municipality, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+sqliteMunicipalityColumns+` FROM municipalities WHERE jis_code = ?`, jisCode)
	m, err := scanMunicipality(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Municipality{}, sentinel.ErrNotFound
		}
		return domain.Municipality{}, err
	}
	return m, nil
}

func (s *SQLite) Seed(ctx context.Context, municipalities []domain.Municipality) error {
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
		tx := txStore.(*SQLite)
		for _, m := range municipalities {
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO municipalities (`+sqliteMunicipalityColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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

func (s *SQLite) UpdateLinkCheck(ctx context.Context, jisCode string, status domain.LinkStatus, checkedAt time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE municipalities SET link_status = ?, last_checked_at = ? WHERE jis_code = ?`,
		string(status), checkedAt, jisCode)
	if err != nil {
		return fmt.Errorf("update link check: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) UpdateLinks(ctx context.Context, m domain.Municipality) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE municipalities
		SET url = ?, pdf_url = ?, link_status = ?, link_type = ?,
			is_published = ?, has_domain_warning = ?, notes = ?
		WHERE jis_code = ?`,
		m.URL, m.PDFURL, string(m.LinkStatus), string(m.LinkType),
		m.IsPublished, m.HasDomainWarning, m.Notes, m.JISCode)
	if err != nil {
		return fmt.Errorf("update links: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) ArchiveAndDelete(ctx context.Context, jisCode, reason string) error {
	return s.RunInTx(ctx, func(txStore Store) error {
		tx := txStore.(*SQLite)
		res, err := tx.q.ExecContext(ctx, `
			INSERT INTO municipality_archives (`+sqliteMunicipalityColumns+`, archived_at, reason)
			SELECT `+sqliteMunicipalityColumns+`, ?, ? FROM municipalities WHERE jis_code = ?`,
			time.Now(), reason, jisCode)
		if err != nil {
			return fmt.Errorf("archive municipality: %w", err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM municipalities WHERE jis_code = ?`, jisCode); err != nil {
			return fmt.Errorf("delete municipality: %w", err)
		}
		return nil
	})
}

func (s *SQLite) CreateRun(ctx context.Context, run domain.LinkCheckRun) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO link_check_runs (id, status, started_at, finished_at, total_checked, broken_count, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt, nullableTime(run.FinishedAt),
		run.TotalChecked, run.BrokenCount, run.Notes)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLite) FinalizeRun(ctx context.Context, runID string, status domain.RunStatus, totalChecked, brokenCount int, notes string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE link_check_runs
		SET status = ?, finished_at = ?, total_checked = ?, broken_count = ?, notes = ?
		WHERE id = ? AND status = ?`,
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

func (s *SQLite) GetRun(ctx context.Context, runID string) (domain.LinkCheckRun, error) {
	var (
		run        domain.LinkCheckRun
		status     string
		finishedAt sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, status, started_at, finished_at, total_checked, broken_count, notes
		FROM link_check_runs WHERE id = ?`, runID).
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

func (s *SQLite) AppendAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO audit_logs (run_id, jis_code, target_url, http_status, result, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.JISCode, entry.TargetURL, nullableInt(entry.HTTPStatus),
		entry.Result, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (s *SQLite) ListAuditLogs(ctx context.Context, runID string) ([]domain.AuditLog, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, run_id, jis_code, target_url, http_status, result, error_message, created_at
		FROM audit_logs WHERE run_id = ? ORDER BY id`, runID)
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

func (s *SQLite) AppendRecoveryCandidate(ctx context.Context, rc domain.RecoveryCandidate) error {
	if rc.Status == "" {
		rc.Status = domain.CandidatePending
	}
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO recovery_candidates (run_id, jis_code, prefecture, municipality, prev_url, prev_pdf_url, source, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.RunID, rc.JISCode, rc.Prefecture, rc.Municipality, rc.PrevURL, rc.PrevPDFURL,
		rc.Source, string(rc.Status), rc.CreatedAt)
	if err != nil {
		return fmt.Errorf("append recovery candidate: %w", err)
	}
	return nil
}

func (s *SQLite) ListRecoveryCandidates(ctx context.Context, runID string) ([]domain.RecoveryCandidate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, run_id, jis_code, prefecture, municipality, prev_url, prev_pdf_url, source, status, created_at
		FROM recovery_candidates WHERE run_id = ? ORDER BY id`, runID)
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

func (s *SQLite) StageCandidates(ctx context.Context, candidates []domain.Candidate) error {
	return s.RunInTx(ctx, func(txStore Store) error {
		tx := txStore.(*SQLite)
		for _, c := range candidates {
			if c.Status == "" {
				c.Status = domain.CandidatePending
			}
			if c.StagedAt.IsZero() {
				c.StagedAt = time.Now()
			}
			_, err := tx.q.ExecContext(ctx, `
				INSERT INTO staged_candidates (batch_id, prefecture, municipality, jis_code, url, pdf_url, tag, status, status_reason, staged_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				c.BatchID, c.Prefecture, c.Municipality, c.JISCode, c.URL, c.PDFURL,
				c.Tag, string(c.Status), c.StatusReason, c.StagedAt)
			if err != nil {
				return fmt.Errorf("stage candidate: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLite) ListPendingCandidates(ctx context.Context, batchID string) ([]domain.Candidate, error) {
	query := `
		SELECT id, batch_id, prefecture, municipality, jis_code, url, pdf_url, tag, status, status_reason, staged_at
		FROM staged_candidates WHERE status = ?`
	args := []any{string(domain.CandidatePending)}
	if batchID != "" {
		query += ` AND batch_id = ?`
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

func (s *SQLite) SetCandidateStatus(ctx context.Context, candidateID int64, status domain.CandidateStatus, reason string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE staged_candidates SET status = ?, status_reason = ? WHERE id = ?`,
		string(status), reason, candidateID)
	if err != nil {
		return fmt.Errorf("set candidate status: %w", err)
	}
	return requireRow(res)
}

// RunInTx runs fn against a transaction-bound copy of the store. Calling it
// on a store that is already transaction-bound reuses the open transaction,
// so helpers like Seed compose with a caller-managed transaction.
func (s *SQLite) RunInTx(ctx context.Context, fn func(Store) error) error {
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

	if err := fn(&SQLite{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// rowScanner lets scanMunicipality serve both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMunicipality(row rowScanner) (domain.Municipality, error) {
	var (
		m             domain.Municipality
		status, ltype string
		lastChecked   sql.NullTime
	)
	err := row.Scan(&m.JISCode, &m.Name, &m.PrefectureCode, &m.PrefectureName, &m.PrefectureSlug,
		&m.Slug, &m.URL, &m.PDFURL, &status, &ltype, &m.IsPublished, &m.HasDomainWarning,
		&lastChecked, &m.Notes)
	if err != nil {
		return domain.Municipality{}, err
	}
	m.LinkStatus = domain.LinkStatus(status)
	m.LinkType = domain.LinkType(ltype)
	if lastChecked.Valid {
		t := lastChecked.Time
		m.LastCheckedAt = &t
	}
	return m, nil
}

func checkSeedBatch(municipalities []domain.Municipality) error {
	seen := make(map[string]struct{}, len(municipalities))
	for _, m := range municipalities {
		if _, dup := seen[m.JISCode]; dup {
			return fmt.Errorf("seed: jis code %s: %w", m.JISCode, sentinel.ErrConflict)
		}
		seen[m.JISCode] = struct{}{}
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
