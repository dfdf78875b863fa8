package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-omr-marker/pkg/models"

	"github.com/google/uuid"
)

// DefaultHistoryLimit caps History when no limit is given
const DefaultHistoryLimit = 50

// RecordRepository defines the interface for marking history operations
type RecordRepository interface {
	// Save stores a marking record, replacing one with the same id
	Save(ctx context.Context, record *MarkingRecord) error

	// Get retrieves a stored record
	Get(ctx context.Context, id string) (*MarkingRecord, error)

	// History lists a student's records, newest first
	History(ctx context.Context, studentName string, limit int) ([]*MarkingRecord, error)

	Close(ctx context.Context) error
}

// MarkingRecord is one stored marking run
type MarkingRecord struct {
	ID          string                `json:"id"`
	StudentName string                `json:"student_name"`
	CreatedAt   time.Time             `json:"created_at"`
	Result      *models.StudentResult `json:"result"`
}

// NewRecord wraps a result in a record with a fresh id
func NewRecord(result *models.StudentResult) *MarkingRecord {
	created := result.MarkedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &MarkingRecord{
		ID:          uuid.NewString(),
		StudentName: result.StudentName,
		CreatedAt:   created,
		Result:      result,
	}
}

func (r *MarkingRecord) validate() error {
	if r == nil || r.ID == "" || r.StudentName == "" || r.Result == nil {
		return ErrInvalidRecord
	}
	return nil
}

// payload renders the result the same way the marking archive does
func (r *MarkingRecord) payload() ([]byte, error) {
	data, err := json.Marshal(r.Result)
	if err != nil {
		return nil, fmt.Errorf("encode marking record: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (*models.StudentResult, error) {
	var result models.StudentResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode marking record: %w", err)
	}
	return &result, nil
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
