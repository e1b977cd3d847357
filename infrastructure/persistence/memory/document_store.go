// Package memory provides an in-memory DocumentRepository for tests and
// single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"mindmeld/application/ports"
	"mindmeld/domain/core/entities"
	apperrors "mindmeld/pkg/errors"
)

// DocumentStore is a map-backed DocumentRepository. Records are deep-copied
// on the way in and out so callers can never alias store state.
type DocumentStore struct {
	mu      sync.RWMutex
	records map[string]*ports.DocumentRecord
	now     func() time.Time
}

// NewDocumentStore creates an empty store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		records: map[string]*ports.DocumentRecord{},
		now:     time.Now,
	}
}

func (s *DocumentStore) Load(ctx context.Context, id string) (*ports.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("document")
	}
	return copyRecord(record), nil
}

func (s *DocumentStore) Save(ctx context.Context, record *ports.DocumentRecord) error {
	if record == nil || record.ID == "" {
		return apperrors.NewValidationError("document record requires an id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyRecord(record)
	stored.UpdatedAt = s.now()
	s.records[record.ID] = stored
	return nil
}

func (s *DocumentStore) List(ctx context.Context, ownerID string) ([]*ports.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ports.DocumentRecord
	for _, record := range s.records {
		if record.OwnerID != ownerID {
			continue
		}
		out = append(out, copyRecord(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func copyRecord(r *ports.DocumentRecord) *ports.DocumentRecord {
	out := *r
	out.Nodes = entities.CloneNodes(r.Nodes)
	out.Edges = entities.CloneEdges(r.Edges)
	return &out
}
