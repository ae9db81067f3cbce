package ledger

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// DBName is the ledger's database file. It is separate from the calibre catalog.
const DBName = "calibrewebui_joblogs.db"

// Ledger is the persistent record of background job lifecycles.
// Each call is its own transaction, so records written by one goroutine
// are visible to List calls from any other.
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens or creates the ledger in dir
func Open(dir string, logger *zap.Logger) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storage.Unavailable("create ledger dir", err)
	}

	dsn := storage.SQLiteDSN(filepath.Join(dir, DBName), "_busy_timeout=5000&_journal_mode=WAL")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storage.Unavailable("open ledger", err)
	}
	// A single connection serializes writers inside the process; busy_timeout
	// covers other processes such as the CLI.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, logger: logger}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, storage.Unavailable("migrate ledger", err)
	}
	return l, nil
}

func (l *Ledger) migrate() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS joblogs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'RUNNING'
	);
	`)
	return err
}

// Push records a new RUNNING job and returns its id
func (l *Ledger) Push(ctx context.Context, message string) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO joblogs (message, status) VALUES (?, ?)`,
		message, models.JobRunning,
	)
	if err != nil {
		return 0, storage.Unavailable("push job", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storage.Unavailable("push job", err)
	}

	l.logger.Debug("job pushed", zap.Int64("job_id", id), zap.String("message", message))
	return id, nil
}

// Update moves a job to a terminal status. Repeating the same terminal
// status is a no-op success; any other change of a terminal job is rejected.
func (l *Ledger) Update(ctx context.Context, id int64, message string, status models.JobStatus) error {
	if !status.Terminal() {
		return storage.ErrInvalidInput.WithMessage("job status %q is not terminal", status)
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE joblogs SET message = ?, status = ? WHERE id = ? AND status IN (?, ?)`,
		message, status, id, models.JobRunning, status,
	)
	if err != nil {
		return storage.Unavailable("update job", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		l.logger.Debug("job updated", zap.Int64("job_id", id), zap.String("status", string(status)))
		return nil
	}

	var current models.JobStatus
	err = l.db.QueryRowContext(ctx, `SELECT status FROM joblogs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound.WithMessage("job %d", id)
	}
	if err != nil {
		return storage.Unavailable("get job", err)
	}
	return storage.ErrInvalidTransition.WithMessage("job %d is %s, cannot become %s", id, current, status)
}

// List returns every job, most recent first
func (l *Ledger) List(ctx context.Context) ([]models.Job, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, message, status FROM joblogs ORDER BY id DESC`)
	if err != nil {
		return nil, storage.Unavailable("list jobs", err)
	}
	defer rows.Close()

	jobs := []models.Job{}
	for rows.Next() {
		var job models.Job
		if err := rows.Scan(&job.ID, &job.Message, &job.Status); err != nil {
			return nil, storage.Unavailable("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("iterate jobs", err)
	}
	return jobs, nil
}

// Clear deletes all jobs
func (l *Ledger) Clear(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM joblogs`); err != nil {
		return storage.Unavailable("clear jobs", err)
	}
	l.logger.Info("job ledger cleared")
	return nil
}

// CountByStatus tallies List by status. Every known status has an entry.
func (l *Ledger) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	jobs, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	counts := map[models.JobStatus]int{
		models.JobRunning:   0,
		models.JobCompleted: 0,
		models.JobCanceled:  0,
	}
	for _, job := range jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// Close closes the ledger database
func (l *Ledger) Close() error {
	return l.db.Close()
}
