package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/model"
)

// MemoryStore implements Store in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	activities []model.Activity
	seen       map[string]struct{}
	narratives map[int64]model.Narrative
	nextID     int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen:       make(map[string]struct{}),
		narratives: make(map[int64]model.Narrative),
		nextID:     1,
	}
}

func (s *MemoryStore) AppendActivity(_ context.Context, a *model.Activity) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.ID == "" {
		a.ID = ulid.MustNew(ulid.Timestamp(a.Timestamp), ulid.DefaultEntropy()).String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[a.ID]; ok {
		return goerr.Wrap(ErrDuplicateActivity, "append activity", goerr.V("id", a.ID))
	}
	s.seen[a.ID] = struct{}{}
	s.activities = append(s.activities, *a)
	return nil
}

func (s *MemoryStore) Activities(_ context.Context, f ActivityFilter) ([]model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Activity, 0, len(s.activities))
	for _, a := range s.activities {
		if matchActivity(a, f) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateNarrative(_ context.Context, n *model.Narrative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID
	s.nextID++
	s.narratives[n.ID] = cloneNarrative(*n)
	return nil
}

func (s *MemoryStore) PutNarrative(_ context.Context, n *model.Narrative) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narratives[n.ID] = cloneNarrative(*n)
	if n.ID >= s.nextID {
		s.nextID = n.ID + 1
	}
	return nil
}

func (s *MemoryStore) GetNarrative(_ context.Context, id int64) (*model.Narrative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.narratives[id]
	if !ok {
		return nil, goerr.Wrap(errs.ErrNotFound, "narrative not found", goerr.V(errs.NarrativeIDKey, id))
	}
	c := cloneNarrative(n)
	return &c, nil
}

func (s *MemoryStore) ListNarratives(_ context.Context, p ListParams) ([]model.Narrative, error) {
	s.mu.RLock()
	out := make([]model.Narrative, 0, len(s.narratives))
	for _, n := range s.narratives {
		if matchNarrative(n, p) {
			out = append(out, cloneNarrative(n))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, p.Offset, p.Limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
