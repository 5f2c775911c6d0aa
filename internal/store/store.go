// Package store provides the activity ledger and narrative storage interfaces
// with in-memory and SQLite implementations.
package store

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/model"
)

// ErrDuplicateActivity is returned when an activity with the same ID already exists.
var ErrDuplicateActivity = goerr.New("duplicate activity id")

// ActivityFilter narrows an activity read. Zero values mean no bound.
type ActivityFilter struct {
	NarrativeID *int64
	Staker      string
	Since       time.Time // inclusive
}

// ListParams holds parameters for listing narratives.
type ListParams struct {
	Creator  string
	Tag      string
	Modality string
	Status   string
	Limit    int
	Offset   int
}

// ActivityStore is an append-only activity log.
type ActivityStore interface {
	// AppendActivity stores a. An empty ID is assigned; a set ID and
	// Timestamp are preserved so exported ledgers can be replayed.
	AppendActivity(ctx context.Context, a *model.Activity) error

	// Activities returns the matching activities in append order. The result
	// is a single consistent view: concurrent appends are either wholly
	// included or wholly excluded.
	Activities(ctx context.Context, f ActivityFilter) ([]model.Activity, error)
}

// NarrativeStore keeps narrative records keyed by token ID.
type NarrativeStore interface {
	// CreateNarrative assigns the next token ID to n and stores it.
	CreateNarrative(ctx context.Context, n *model.Narrative) error

	// PutNarrative inserts or replaces n under its existing ID.
	PutNarrative(ctx context.Context, n *model.Narrative) error

	// GetNarrative returns errs.ErrNotFound when id is unknown.
	GetNarrative(ctx context.Context, id int64) (*model.Narrative, error)

	// ListNarratives returns narratives ordered by ID.
	ListNarratives(ctx context.Context, p ListParams) ([]model.Narrative, error)

	// SearchNarratives matches the query against name, description and tags.
	SearchNarratives(ctx context.Context, p SearchParams) ([]model.Narrative, error)
}

// Store combines both stores behind one handle.
type Store interface {
	ActivityStore
	NarrativeStore

	// Close closes the store.
	Close() error
}

func matchActivity(a model.Activity, f ActivityFilter) bool {
	if f.NarrativeID != nil && a.NarrativeID != *f.NarrativeID {
		return false
	}
	if f.Staker != "" && a.Staker != f.Staker {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func matchNarrative(n model.Narrative, p ListParams) bool {
	if p.Creator != "" && n.Creator != p.Creator {
		return false
	}
	if p.Modality != "" && n.Modality != p.Modality {
		return false
	}
	if p.Status != "" && n.Status != p.Status {
		return false
	}
	if p.Tag != "" {
		found := false
		for _, t := range n.Tags {
			if t == p.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cloneNarrative(n model.Narrative) model.Narrative {
	n.Tags = append([]string(nil), n.Tags...)
	n.Embedding = append([]float32(nil), n.Embedding...)
	return n
}
