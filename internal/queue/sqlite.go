package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable single-node queue store. SQLite serializes
// writers, which gives Acquire its atomicity.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	queue         TEXT NOT NULL,
	name          TEXT NOT NULL,
	payload       BLOB NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	stalled_count INTEGER NOT NULL DEFAULT 0,
	dedup_key     TEXT NOT NULL DEFAULT '',
	file_key      TEXT NOT NULL DEFAULT '',
	batch_id      TEXT NOT NULL DEFAULT '',
	lock_token    TEXT NOT NULL DEFAULT '',
	lock_expires  INTEGER NOT NULL DEFAULT 0,
	run_at        INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_queue_status ON jobs(queue, status, run_at);
CREATE INDEX IF NOT EXISTS idx_jobs_dedup ON jobs(queue, dedup_key);

CREATE TABLE IF NOT EXISTS dead_letters (
	id            TEXT PRIMARY KEY,
	queue         TEXT NOT NULL,
	job_id        TEXT NOT NULL,
	job_name      TEXT NOT NULL,
	payload       BLOB NOT NULL,
	reason        TEXT NOT NULL,
	attempts_made INTEGER NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS heartbeats (
	instance   TEXT PRIMARY KEY,
	beat_at    INTEGER NOT NULL
);
`

// OpenSQLite opens (and bootstraps) the queue database at path. Use
// ":memory:" for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// One writer at a time keeps modernc/sqlite happy under concurrency.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap queue db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = StatusWaiting
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, name, payload, priority, status, attempts, stalled_count,
			dedup_key, file_key, batch_id, lock_token, lock_expires, run_at, last_error, created_at, updated_at)
		VALUES (?,?,?,?,?,?,0,0,?,?,?,'',0,?,'',?,?)`,
		job.ID.String(), job.Queue, job.Name, job.Payload, job.Priority, string(job.Status),
		job.DedupKey, job.FileKey, job.BatchID, millis(job.RunAt), millis(now), millis(now))
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

const jobColumns = `id, queue, name, payload, priority, status, attempts, stalled_count,
	dedup_key, file_key, batch_id, lock_token, lock_expires, run_at, last_error, created_at, updated_at`

func (s *SQLiteStore) Acquire(ctx context.Context, queue, lockToken string, lockFor time.Duration) (*Job, error) {
	now := time.Now().UTC()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status=?, lock_token=?, lock_expires=?, attempts=attempts+1, updated_at=?
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue=? AND (status=? OR (status=? AND run_at<=?))
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(StatusActive), lockToken, millis(now.Add(lockFor)), millis(now),
		queue, string(StatusWaiting), string(StatusDelayed), millis(now))
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

func (s *SQLiteStore) Renew(ctx context.Context, id, lockToken string, lockFor time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lock_expires=?, updated_at=?
		WHERE id=? AND lock_token=? AND status=?`,
		millis(now.Add(lockFor)), millis(now), id, lockToken, string(StatusActive))
	return lockedResult(res, err)
}

func (s *SQLiteStore) Complete(ctx context.Context, id, lockToken string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status=?, lock_token='', lock_expires=0, updated_at=?
		WHERE id=? AND lock_token=? AND status=?`,
		string(StatusCompleted), millis(time.Now().UTC()), id, lockToken, string(StatusActive))
	return lockedResult(res, err)
}

func (s *SQLiteStore) Retry(ctx context.Context, id, lockToken, lastError string, runAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status=?, lock_token='', lock_expires=0, run_at=?, last_error=?, updated_at=?
		WHERE id=? AND lock_token=? AND status=?`,
		string(StatusDelayed), millis(runAt), lastError, millis(time.Now().UTC()),
		id, lockToken, string(StatusActive))
	return lockedResult(res, err)
}

func (s *SQLiteStore) Fail(ctx context.Context, id, lockToken, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status=?, lock_token='', lock_expires=0, last_error=?, updated_at=?
		WHERE id=? AND lock_token=? AND status=?`,
		string(StatusFailed), lastError, millis(time.Now().UTC()),
		id, lockToken, string(StatusActive))
	return lockedResult(res, err)
}

func (s *SQLiteStore) RequeueStalled(ctx context.Context, queue string, maxStalled int) ([]*Job, []*Job, error) {
	now := millis(time.Now().UTC())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE queue=? AND status=? AND lock_expires>0 AND lock_expires<?`,
		queue, string(StatusActive), now)
	if err != nil {
		return nil, nil, err
	}
	var stalled []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			_ = rows.Close()
			return nil, nil, err
		}
		stalled = append(stalled, job)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	_ = rows.Close()

	var requeued, exhausted []*Job
	for _, job := range stalled {
		if job.StalledCount < maxStalled {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET status=?, stalled_count=stalled_count+1, lock_token='', lock_expires=0, updated_at=?
				WHERE id=?`, string(StatusWaiting), now, job.ID.String())
			if err != nil {
				return nil, nil, err
			}
			job.StalledCount++
			job.Status = StatusWaiting
			requeued = append(requeued, job)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET status=?, lock_token='', lock_expires=0, last_error=?, updated_at=?
				WHERE id=?`, string(StatusFailed), "job stalled too many times", now, job.ID.String())
			if err != nil {
				return nil, nil, err
			}
			job.Status = StatusFailed
			job.LastError = "job stalled too many times"
			exhausted = append(exhausted, job)
		}
	}
	return requeued, exhausted, tx.Commit()
}

func (s *SQLiteStore) CancelWaiting(ctx context.Context, queue, batchID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE queue=? AND batch_id=? AND status IN (?,?)`,
		queue, batchID, string(StatusWaiting), string(StatusDelayed))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) HasPending(ctx context.Context, queue, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM jobs
		WHERE queue=? AND status IN (?,?,?) AND (dedup_key=? OR file_key=?)`,
		queue, string(StatusWaiting), string(StatusActive), string(StatusDelayed), key, key).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStore) Counts(ctx context.Context, queue string) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(1) FROM jobs WHERE queue=? GROUP BY status`, queue)
	if err != nil {
		return Counts{}, err
	}
	defer rows.Close()
	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, err
		}
		switch Status(status) {
		case StatusWaiting:
			c.Waiting = n
		case StatusActive:
			c.Active = n
		case StatusCompleted:
			c.Completed = n
		case StatusFailed:
			c.Failed = n
		case StatusDelayed:
			c.Delayed = n
		}
	}
	return c, rows.Err()
}

func (s *SQLiteStore) Heartbeat(ctx context.Context, instance string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heartbeats (instance, beat_at) VALUES (?,?)
		ON CONFLICT(instance) DO UPDATE SET beat_at=excluded.beat_at`,
		instance, millis(at))
	return err
}

func (s *SQLiteStore) PurgeCompleted(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status=? AND updated_at<?`,
		string(StatusCompleted), millis(cutoff))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- dead letters ---

func (s *SQLiteStore) Append(ctx context.Context, rec *DeadLetterRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, queue, job_id, job_name, payload, reason, attempts_made, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID.String(), rec.Queue, rec.JobID.String(), rec.JobName, rec.Payload,
		rec.Reason, rec.AttemptsMade, millis(rec.CreatedAt))
	return err
}

func (s *SQLiteStore) List(ctx context.Context, queue string, limit int) ([]*DeadLetterRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue, job_id, job_name, payload, reason, attempts_made, created_at
		FROM dead_letters WHERE (?='' OR queue=?) ORDER BY created_at DESC LIMIT ?`,
		queue, queue, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DeadLetterRecord
	for rows.Next() {
		var (
			rec       DeadLetterRecord
			id, jobID string
			createdAt int64
		)
		if err := rows.Scan(&id, &rec.Queue, &jobID, &rec.JobName, &rec.Payload,
			&rec.Reason, &rec.AttemptsMade, &createdAt); err != nil {
			return nil, err
		}
		rec.ID = uuid.MustParse(id)
		rec.JobID = uuid.MustParse(jobID)
		rec.CreatedAt = fromMillis(createdAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                                  Job
		id, status                           string
		lockExpires, runAt, created, updated int64
	)
	err := row.Scan(&id, &job.Queue, &job.Name, &job.Payload, &job.Priority, &status,
		&job.Attempts, &job.StalledCount, &job.DedupKey, &job.FileKey, &job.BatchID,
		&job.LockToken, &lockExpires, &runAt, &job.LastError, &created, &updated)
	if err != nil {
		return nil, err
	}
	job.ID = uuid.MustParse(id)
	job.Status = Status(status)
	job.LockExpires = fromMillis(lockExpires)
	job.RunAt = fromMillis(runAt)
	job.CreatedAt = fromMillis(created)
	job.UpdatedAt = fromMillis(updated)
	return &job, nil
}

func lockedResult(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
