package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// JobAuditEvent records one recalculation lifecycle event for offline
// analysis of job behaviour (durations, failure rates, throughput).
type JobAuditEvent struct {
	JobID     string
	StoreID   string
	Mode      string
	Stage     string
	Detail    string
	RowsRead  int64
	Timestamp time.Time
}

// JobAuditSink receives job lifecycle events. Sinks are best-effort: a
// failed write must never fail the job that produced the event.
type JobAuditSink interface {
	Record(ctx context.Context, ev JobAuditEvent)
	Flush(ctx context.Context) error
}

// NopAuditSink discards all events. Used when ClickHouse is disabled.
type NopAuditSink struct{}

func (NopAuditSink) Record(ctx context.Context, ev JobAuditEvent) {}
func (NopAuditSink) Flush(ctx context.Context) error             { return nil }

// ClickHouseAuditSink buffers job audit events and batch-inserts them
// into ClickHouse. Events are flushed when the buffer fills and when
// the owning job finishes.
type ClickHouseAuditSink struct {
	conn      driver.Conn
	logger    *zap.Logger
	batchSize int

	mu     sync.Mutex
	buffer []JobAuditEvent
}

// NewClickHouseAuditSink creates a sink flushing every batchSize events.
func NewClickHouseAuditSink(conn driver.Conn, batchSize int, logger *zap.Logger) *ClickHouseAuditSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ClickHouseAuditSink{
		conn:      conn,
		logger:    logger,
		batchSize: batchSize,
		buffer:    make([]JobAuditEvent, 0, batchSize),
	}
}

// Record buffers an event, flushing if the buffer is full. Errors are
// logged and swallowed so audit failures never abort a job.
func (s *ClickHouseAuditSink) Record(ctx context.Context, ev JobAuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, ev)
	full := len(s.buffer) >= s.batchSize
	s.mu.Unlock()

	if full {
		if err := s.Flush(ctx); err != nil {
			s.logger.Warn("job audit flush failed", zap.Error(err))
		}
	}
}

// Flush batch-inserts all buffered events.
func (s *ClickHouseAuditSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	pending := s.buffer
	s.buffer = make([]JobAuditEvent, 0, s.batchSize)
	s.mu.Unlock()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO recalc_job_events (job_id, store_id, mode, stage, detail, rows_read, ts)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch: %w", err)
	}

	for _, ev := range pending {
		if err := batch.Append(ev.JobID, ev.StoreID, ev.Mode, ev.Stage, ev.Detail, ev.RowsRead, ev.Timestamp); err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send audit batch: %w", err)
	}
	return nil
}
