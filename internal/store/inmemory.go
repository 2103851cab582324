package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitchroom/pitchroom/internal/pitch"
)

// InMemoryStore is a simple in-process pitch store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]PitchRecord
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]PitchRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) Create(_ context.Context, record PitchRecord) (PitchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	record.UpdatedAt = record.CreatedAt
	if record.Status == "" {
		record.Status = pitch.StatusUploaded
	}
	record.Polls = 0
	s.records[record.ID] = record
	return record, nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (PitchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return PitchRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) RecordPoll(_ context.Context, id string, readyAfter int) (PitchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return PitchRecord{}, ErrNotFound
	}
	rec.Status = nextStatus(rec.Status, rec.Polls, normalizeReadyAfter(readyAfter))
	rec.Polls++
	rec.UpdatedAt = s.now()
	s.records[id] = rec
	return rec, nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = pitch.StatusError
	rec.Error = reason
	rec.UpdatedAt = s.now()
	s.records[id] = rec
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
