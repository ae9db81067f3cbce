package calibredb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/models"
	"github.com/justyntemme/calibrewebui/internal/storage"
)

// JobLedger records the lifecycle of conversion jobs
type JobLedger interface {
	Push(ctx context.Context, message string) (int64, error)
	Update(ctx context.Context, id int64, message string, status models.JobStatus) error
}

type convertTask struct {
	jobID   int64
	bookID  int64
	from    string
	to      string
	source  string
	message string
}

// Converter runs book conversions on a bounded worker pool. Callers only see
// a job id; completion is visible through the ledger.
type Converter struct {
	gateway *Gateway
	ledger  JobLedger
	logger  *zap.Logger
	workers int

	queue  chan convertTask
	ctx    context.Context //nolint:containedctx // worker lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewConverter creates a converter with the given pool and queue sizes
func NewConverter(gateway *Gateway, ledger JobLedger, workers, queueSize int, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Converter{
		gateway: gateway,
		ledger:  ledger,
		logger:  logger,
		workers: workers,
		queue:   make(chan convertTask, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers
func (c *Converter) Start() {
	c.logger.Info("starting conversion workers", zap.Int("workers", c.workers), zap.Int("queue", cap(c.queue)))
	for i := range c.workers {
		c.wg.Add(1)
		go c.worker(i)
	}
}

// Stop waits for running conversions to finish. Queued conversions that
// never started are marked CANCELED.
func (c *Converter) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	for {
		select {
		case task := <-c.queue:
			c.finish(task, models.JobCanceled)
		default:
			c.logger.Info("conversion workers stopped")
			return
		}
	}
}

// Submit records a RUNNING job for converting bookID from one format to
// another and queues it. It never waits for the conversion: when the queue is
// full the job is immediately marked CANCELED. Errors are returned only when
// no job could be recorded.
func (c *Converter) Submit(ctx context.Context, bookID int64, from, to string) (int64, error) {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" || from == to {
		return 0, storage.ErrInvalidInput.WithMessage("cannot convert %q to %q", from, to)
	}

	book, err := c.gateway.books.GetBook(ctx, bookID)
	if err != nil {
		return 0, err
	}
	dir, name, err := c.gateway.books.GetBookFile(ctx, bookID, from)
	if err != nil {
		return 0, err
	}

	task := convertTask{
		bookID: bookID,
		from:   from,
		to:     to,
		source: filepath.Join(dir, name),
	}
	task.message = fmt.Sprintf("Convert book «%s» from %s to %s", book.Title, from, to)

	task.jobID, err = c.ledger.Push(ctx, task.message)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		c.finish(task, models.JobCanceled)
		return task.jobID, nil
	}
	select {
	case c.queue <- task:
		c.logger.Info("conversion queued", zap.Int64("job_id", task.jobID), zap.Int64("book_id", bookID),
			zap.String("from", from), zap.String("to", to))
	default:
		c.logger.Warn("conversion queue full", zap.Int64("job_id", task.jobID), zap.Int64("book_id", bookID))
		c.finish(task, models.JobCanceled)
	}
	return task.jobID, nil
}

func (c *Converter) worker(id int) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case task := <-c.queue:
			c.logger.Debug("worker picked conversion", zap.Int("worker", id), zap.Int64("job_id", task.jobID))
			c.finish(task, c.convert(task))
		}
	}
}

// convert runs the converter and adds its output back to the library.
// Conversions are not interrupted by Stop.
func (c *Converter) convert(task convertTask) models.JobStatus {
	ctx := context.WithoutCancel(c.ctx)
	g := c.gateway

	out := g.scratch.ConversionPath(task.bookID, task.to)
	defer os.Remove(out)

	res := g.runner.Run(ctx, g.cfg.ConvertBin, task.source, out)
	if !res.Status.OK() {
		return models.JobCanceled
	}

	_, err := g.books.GetBook(ctx, task.bookID)
	switch {
	case err == nil:
		if !g.AddFormat(ctx, task.bookID, out).OK() {
			return models.JobCanceled
		}
	case errors.Is(err, storage.ErrNotFound):
		// The book was deleted while converting; keep the output as a new book
		status, _ := g.AddBook(ctx, out)
		if !status.OK() {
			return models.JobCanceled
		}
	default:
		c.logger.Error("conversion: book lookup failed", zap.Int64("book_id", task.bookID), zap.Error(err))
		return models.JobCanceled
	}
	return models.JobCompleted
}

func (c *Converter) finish(task convertTask, status models.JobStatus) {
	if err := c.ledger.Update(context.WithoutCancel(c.ctx), task.jobID, task.message, status); err != nil {
		c.logger.Error("conversion: update job", zap.Int64("job_id", task.jobID), zap.Error(err))
		return
	}
	c.logger.Info("conversion finished", zap.Int64("job_id", task.jobID), zap.String("status", string(status)))
}
