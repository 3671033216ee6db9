package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

// TurnRecord captures the quality metrics of one processed conversation turn.
type TurnRecord struct {
	ID                string    `parquet:"id"`
	Timestamp         time.Time `parquet:"timestamp"`
	SessionID         string    `parquet:"session_id"`
	UserID            string    `parquet:"user_id"`
	EntityCount       int       `parquet:"entity_count"`
	RelationCount     int       `parquet:"relation_count"`
	FactCount         int       `parquet:"fact_count"`
	OverallConfidence float64   `parquet:"overall_confidence"`
	PrecisionEstimate float64   `parquet:"precision_estimate"`
	RecallEstimate    float64   `parquet:"recall_estimate"`
	F1Estimate        float64   `parquet:"f1_estimate"`
	ProcessingMillis  int64     `parquet:"processing_millis"`
	WarningCount      int       `parquet:"warning_count"`
	StagesCompleted   string    `parquet:"stages_completed"`
}

// Tracker records per-turn metrics. Implementations must be safe for
// concurrent use.
type Tracker interface {
	RecordTurn(record TurnRecord)
	Close() error
}

// NopTracker discards every record.
type NopTracker struct{}

func (NopTracker) RecordTurn(TurnRecord) {}
func (NopTracker) Close() error          { return nil }

// ParquetTracker batches turn records into Parquet files under outputDir.
type ParquetTracker struct {
	outputDir string
	batchSize int

	mu     sync.Mutex
	buffer []TurnRecord
}

// NewParquetTracker creates the tracker, ensuring the output directory
// exists.
func NewParquetTracker(outputDir string, batchSize int) (*ParquetTracker, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ParquetTracker{
		outputDir: outputDir,
		batchSize: batchSize,
		buffer:    make([]TurnRecord, 0, batchSize),
	}, nil
}

// RecordTurn implements Tracker. A failed flush drops the batch rather than
// blocking turn processing.
func (t *ParquetTracker) RecordTurn(record TurnRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.buffer = append(t.buffer, record)
	if len(t.buffer) >= t.batchSize {
		if err := t.flush(); err != nil {
			fmt.Printf("telemetry flush failed: %v\n", err)
			t.buffer = t.buffer[:0]
		}
	}
}

// Close implements Tracker, flushing the remaining buffer.
func (t *ParquetTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flush()
}

// flush writes the buffer to a fresh Parquet file. Caller holds the lock.
func (t *ParquetTracker) flush() error {
	if len(t.buffer) == 0 {
		return nil
	}

	filename := fmt.Sprintf("turns_%s_%d.parquet",
		time.Now().Format("20060102_150405"), time.Now().UnixNano())
	path := filepath.Join(t.outputDir, filename)

	if err := parquet.WriteFile(path, t.buffer); err != nil {
		return fmt.Errorf("write turn parquet: %w", err)
	}
	t.buffer = t.buffer[:0]
	return nil
}
