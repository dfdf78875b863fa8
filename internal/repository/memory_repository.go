package repository

import (
	"context"
	"sort"
	"sync"
)

// MemoryRecordRepository keeps records in process. Records are stored in
// their JSON form so that readers never share state with writers.
type MemoryRecordRepository struct {
	mu      sync.RWMutex
	records map[string]storedRecord
}

type storedRecord struct {
	record  MarkingRecord
	payload []byte
}

// NewMemoryRecordRepository creates an empty repository
func NewMemoryRecordRepository() *MemoryRecordRepository {
	return &MemoryRecordRepository{records: make(map[string]storedRecord)}
}

func (r *MemoryRecordRepository) Save(ctx context.Context, record *MarkingRecord) error {
	if err := record.validate(); err != nil {
		return err
	}
	data, err := record.payload()
	if err != nil {
		return err
	}
	stored := storedRecord{record: *record, payload: data}
	stored.record.Result = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = stored
	return nil
}

func (r *MemoryRecordRepository) Get(ctx context.Context, id string) (*MarkingRecord, error) {
	r.mu.RLock()
	stored, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRecordNotFound
	}
	return stored.restore()
}

func (r *MemoryRecordRepository) History(ctx context.Context, studentName string, limit int) ([]*MarkingRecord, error) {
	r.mu.RLock()
	var matches []storedRecord
	for _, s := range r.records {
		if s.record.StudentName == studentName {
			matches = append(matches, s)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].record.CreatedAt.After(matches[j].record.CreatedAt)
	})
	if n := historyLimit(limit); len(matches) > n {
		matches = matches[:n]
	}

	out := make([]*MarkingRecord, 0, len(matches))
	for _, s := range matches {
		rec, err := s.restore()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *MemoryRecordRepository) Close(ctx context.Context) error {
	return nil
}

func (s storedRecord) restore() (*MarkingRecord, error) {
	result, err := decodePayload(s.payload)
	if err != nil {
		return nil, err
	}
	rec := s.record
	rec.Result = result
	return &rec, nil
}
