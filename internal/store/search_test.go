package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/narrative-market/internal/model"
)

func TestSearchNarratives(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, n := range []model.Narrative{
			{Name: "Solar punk", Description: "Cities powered by the sun", Tags: []string{"climate"}},
			{Name: "Deep sea", Description: "Abyssal cities under pressure"},
			{Name: "Mars colony", Description: "Red dust and domes", Tags: []string{"space"}},
		} {
			n.Creator = "0xa"
			n.Modality = "text"
			n.Status = model.StatusActive
			n.CreatedAt = base.Add(time.Duration(i) * time.Hour)
			n.UpdatedAt = n.CreatedAt
			require.NoError(t, s.CreateNarrative(ctx, &n))
		}

		results, err := s.SearchNarratives(ctx, SearchParams{Query: "cities"})
		require.NoError(t, err)
		require.Len(t, results, 2)
		// Newest first.
		assert.Equal(t, "Deep sea", results[0].Name)
		assert.Equal(t, "Solar punk", results[1].Name)

		results, err = s.SearchNarratives(ctx, SearchParams{Query: "SPACE"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Mars colony", results[0].Name)

		results, err = s.SearchNarratives(ctx, SearchParams{Query: "cities", Limit: 1})
		require.NoError(t, err)
		assert.Len(t, results, 1)

		results, err = s.SearchNarratives(ctx, SearchParams{Query: "cities", Status: model.StatusArchived})
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = s.SearchNarratives(ctx, SearchParams{Query: "javascript"})
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}
