// Package audit persists committed RibClient transactions to Postgres as
// an outboard audit trail. It never makes the core library itself
// persistent — trie/reftrie/route remain pure in-memory structures;
// Writer only attaches to ribclient.Client as an optional
// TransactionObserver.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"github.com/route-beacon/xorp-routecore/internal/ribclient"
	"go.uber.org/zap"
)

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("audit: zstd encoder init: %v", err))
	}
}

type row struct {
	target      string
	tasks       []byte
	failed      bool
	committedAt time.Time
}

// Writer batches committed RibClient transactions and flushes them to
// Postgres on a timer or once a batch fills up, the same
// size-or-interval flush discipline as the teacher's
// internal/state.Pipeline.Run. TransactionCommitted only enqueues —
// it must never block the ribclient actor loop calling it.
type Writer struct {
	pool          *pgxpool.Pool
	logger        *zap.Logger
	batchSize     int
	flushInterval time.Duration
	rows          chan row
}

// NewWriter constructs a Writer. Call Run in its own goroutine to start
// flushing.
func NewWriter(pool *pgxpool.Pool, logger *zap.Logger, batchSize int, flushInterval time.Duration) *Writer {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Writer{
		pool:          pool,
		logger:        logger,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		rows:          make(chan row, 1024),
	}
}

// TransactionCommitted implements ribclient.TransactionObserver.
func (w *Writer) TransactionCommitted(target string, tasks []ribclient.TaskRecord, failed bool) {
	encoded, err := json.Marshal(tasks)
	if err != nil {
		w.logger.Error("audit: failed to encode task records", zap.String("target", target), zap.Error(err))
		return
	}
	select {
	case w.rows <- row{
		target:      target,
		tasks:       zstdEncoder.EncodeAll(encoded, nil),
		failed:      failed,
		committedAt: time.Now(),
	}:
	default:
		w.logger.Warn("audit: row buffer full, dropping transaction record", zap.String("target", target))
	}
}

// Run drains queued rows until ctx is cancelled, flushing on the
// configured interval or once a batch fills up.
func (w *Writer) Run(ctx context.Context) {
	var batch []row
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.flushBatch(flushCtx, batch); err != nil {
			w.logger.Error("audit: batch flush failed", zap.Int("rows", len(batch)), zap.Error(err))
		}
		cancel()
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case r := <-w.rows:
			batch = append(batch, r)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) flushBatch(ctx context.Context, rows []row) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO rib_transactions (target, committed_at, failed, tasks)
		VALUES ($1, $2, $3, $4)`

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL, r.target, r.committedAt, r.failed, r.tasks)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range rows {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("insert rib_transactions[%d]: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("closing batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Ping implements http.DBChecker.
func (w *Writer) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}
