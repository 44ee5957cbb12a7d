package storage

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// BatchLogger persists a group of audit records in one round trip.
type BatchLogger interface {
	LogExecutions(ctx context.Context, recs []*Execution) error
}

// WriterOptions tunes the audit writer. Zero values pick the defaults.
type WriterOptions struct {
	BufferSize    int           // queued records before Log starts dropping
	BatchSize     int           // records per insert
	FlushInterval time.Duration // longest a record waits in a partial batch
}

// WriterStats counts records by fate.
type WriterStats struct {
	Written int64
	Dropped int64
	Failed  int64
}

// AuditWriter records executions off the request path. Records are grouped
// into batches; they are dropped, never blocked on, when the queue is full
// or the writer has been flushed.
type AuditWriter struct {
	db   BatchLogger
	opts WriterOptions
	ch   chan *Execution
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64

	backoff time.Duration
	now     func() time.Time
}

func NewAuditWriter(db BatchLogger, opts WriterOptions) *AuditWriter {
	if opts.BufferSize < 1 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &AuditWriter{
		db:      db,
		opts:    opts,
		ch:      make(chan *Execution, opts.BufferSize),
		done:    make(chan struct{}),
		backoff: 100 * time.Millisecond,
		now:     time.Now,
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log queues rec. CreatedAt is stamped here when unset, so it reflects the
// request rather than the eventual insert.
func (w *AuditWriter) Log(rec *Execution) {
	if w.closed.Load() {
		w.dropped.Add(1)
		log.Warn().Str("exec_id", rec.ID).Msg("audit writer closed, dropping log entry")
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = w.now().UTC()
	}
	select {
	case w.ch <- rec:
	default:
		w.dropped.Add(1)
		log.Warn().Str("exec_id", rec.ID).Msg("audit buffer full, dropping log entry")
	}
}

// Stats returns the record counters so far.
func (w *AuditWriter) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}

// Flush stops accepting records, writes out everything queued, and waits at
// most timeout for that to finish. Calling it again is a no-op.
func (w *AuditWriter) Flush(timeout time.Duration) {
	w.closed.Store(true)
	w.once.Do(func() { close(w.done) })

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		s := w.Stats()
		log.Info().
			Int64("written", s.Written).
			Int64("dropped", s.Dropped).
			Int64("failed", s.Failed).
			Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Int("queued", len(w.ch)).Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Execution, 0, w.opts.BatchSize)
	add := func(rec *Execution) {
		batch = append(batch, rec)
		if len(batch) >= w.opts.BatchSize {
			w.writeWithRetry(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case rec := <-w.ch:
			add(rec)
		case <-ticker.C:
			if len(batch) > 0 {
				w.writeWithRetry(batch)
				batch = batch[:0]
			}
		case <-w.done:
			for {
				select {
				case rec := <-w.ch:
					add(rec)
				default:
					if len(batch) > 0 {
						w.writeWithRetry(batch)
					}
					return
				}
			}
		}
	}
}

// writeWithRetry inserts batch, retrying the whole batch with exponential
// backoff. The batch slice is not retained.
func (w *AuditWriter) writeWithRetry(batch []*Execution) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogExecutions(ctx, batch)
		cancel()

		if err == nil {
			w.written.Add(int64(len(batch)))
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * w.backoff
			log.Warn().
				Err(err).
				Int("records", len(batch)).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit batch write failed, retrying")
			time.Sleep(backoff)
		} else {
			w.failed.Add(int64(len(batch)))
			log.Error().
				Err(err).
				Int("records", len(batch)).
				Str("first_exec_id", batch[0].ID).
				Msg("audit batch write failed permanently after retries")
		}
	}
}
