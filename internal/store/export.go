package store

import (
	"context"
	"errors"

	"github.com/rcliao/narrative-market/internal/model"
)

// Export is a portable dump of a store.
type Export struct {
	Narratives []model.Narrative `json:"narratives"`
	Activities []model.Activity  `json:"activities"`
}

// ExportAll returns every narrative and the full ledger in append order.
func ExportAll(ctx context.Context, s Store) (*Export, error) {
	narratives, err := s.ListNarratives(ctx, ListParams{})
	if err != nil {
		return nil, err
	}
	activities, err := s.Activities(ctx, ActivityFilter{})
	if err != nil {
		return nil, err
	}
	return &Export{Narratives: narratives, Activities: activities}, nil
}

// ImportNarratives stores narratives under their exported IDs, replacing existing records.
func ImportNarratives(ctx context.Context, s NarrativeStore, narratives []model.Narrative) (int, error) {
	imported := 0
	for i := range narratives {
		if err := s.PutNarrative(ctx, &narratives[i]); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}

// IsDuplicate reports whether err came from re-appending an existing activity ID.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateActivity)
}
