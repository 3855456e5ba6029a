// Package audit provides the asynchronous, best-effort audit trail sink.
// Records are buffered in memory, written in batches, and dropped with a log
// line when the buffer is full or the store keeps failing. Audit delivery
// never blocks or fails a business transaction.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pharmos/backend/internal/domain/audit"
	"github.com/pharmos/backend/internal/domain/shared"
)

// Row is the persisted form of one audit record
type Row struct {
	shared.BaseEntity
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index:idx_audit_tenant_entity,priority:1"`
	ActorID    uuid.UUID `gorm:"type:uuid;not null"`
	EntityType string    `gorm:"type:varchar(50);not null;index:idx_audit_tenant_entity,priority:2"`
	EntityID   uuid.UUID `gorm:"type:uuid;not null;index:idx_audit_tenant_entity,priority:3"`
	Action     string    `gorm:"type:varchar(30);not null"`
	OldValue   string    `gorm:"type:text"`
	NewValue   string    `gorm:"type:text"`
	OccurredAt time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (Row) TableName() string { return "audit_records" }

// Config controls buffering and batching of the recorder
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
}

// DefaultConfig returns sensible defaults for the recorder
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		BatchSize:     50,
		FlushInterval: 2 * time.Second,
		MaxRetries:    3,
	}
}

// AsyncRecorder implements audit.Recorder with a buffered channel and a
// single writer goroutine. Record never blocks: when the buffer is full the
// record is dropped and counted.
type AsyncRecorder struct {
	db     *gorm.DB
	logger *zap.Logger
	cfg    Config

	ch   chan audit.Record
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// NewAsyncRecorder creates and starts an AsyncRecorder
func NewAsyncRecorder(db *gorm.DB, cfg Config, logger *zap.Logger) *AsyncRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}

	r := &AsyncRecorder{
		db:     db,
		logger: logger.Named("audit"),
		cfg:    cfg,
		ch:     make(chan audit.Record, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues one audit record. It never blocks and never returns an
// error; a full buffer drops the record.
func (r *AsyncRecorder) Record(_ context.Context, rec audit.Record) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	select {
	case r.ch <- rec:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		r.logger.Warn("audit buffer full, record dropped",
			zap.String("entity_type", rec.EntityType),
			zap.String("action", string(rec.Action)),
			zap.Int64("total_dropped", dropped),
		)
	}
}

// Dropped returns the number of records dropped so far
func (r *AsyncRecorder) Dropped() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops the writer after draining buffered records
func (r *AsyncRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()
}

func (r *AsyncRecorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]audit.Record, 0, r.cfg.BatchSize)
	for {
		select {
		case rec := <-r.ch:
			batch = append(batch, rec)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.done:
			// Drain whatever is still buffered, then flush once.
			for {
				select {
				case rec := <-r.ch:
					batch = append(batch, rec)
				default:
					if len(batch) > 0 {
						r.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush writes one batch with bounded retries; after MaxRetries the batch is
// dropped and logged
func (r *AsyncRecorder) flush(batch []audit.Record) {
	rows := make([]Row, 0, len(batch))
	for _, rec := range batch {
		rows = append(rows, Row{
			BaseEntity: shared.NewBaseEntity(),
			TenantID:   rec.TenantID,
			ActorID:    rec.ActorID,
			EntityType: rec.EntityType,
			EntityID:   rec.EntityID,
			Action:     string(rec.Action),
			OldValue:   rec.OldValue,
			NewValue:   rec.NewValue,
			OccurredAt: rec.OccurredAt,
		})
	}

	var err error
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		if err = r.db.Create(&rows).Error; err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}

	r.mu.Lock()
	r.dropped += int64(len(batch))
	r.mu.Unlock()
	r.logger.Error("audit batch dropped after retries",
		zap.Int("batch_size", len(batch)),
		zap.Int("retries", r.cfg.MaxRetries),
		zap.Error(err),
	)
}

var _ audit.Recorder = (*AsyncRecorder)(nil)
