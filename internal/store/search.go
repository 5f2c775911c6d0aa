package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/model"
)

// SearchParams holds parameters for a keyword search over narratives.
type SearchParams struct {
	Query  string
	Status string
	Limit  int
}

const defaultSearchLimit = 20

// SearchNarratives finds narratives whose name, description or tags contain the
// query, case-insensitively, newest first.
func (s *SQLiteStore) SearchNarratives(ctx context.Context, p SearchParams) ([]model.Narrative, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	query := "%" + p.Query + "%"

	where := []string{"(name LIKE ? OR description LIKE ? OR tags LIKE ?)"}
	args := []interface{}{query, query, query}
	if p.Status != "" {
		where = append(where, "status = ?")
		args = append(args, p.Status)
	}

	sql := fmt.Sprintf(`SELECT %s FROM narratives WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`,
		narrativeColumns, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "search narratives")
	}
	defer rows.Close()

	results := []model.Narrative{}
	for rows.Next() {
		n, err := scanNarrative(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

func (s *MemoryStore) SearchNarratives(_ context.Context, p SearchParams) ([]model.Narrative, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	q := strings.ToLower(p.Query)

	s.mu.RLock()
	results := []model.Narrative{}
	for _, n := range s.narratives {
		if p.Status != "" && n.Status != p.Status {
			continue
		}
		if matchText(n, q) {
			results = append(results, cloneNarrative(n))
		}
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID > results[j].ID
	})
	return page(results, 0, limit), nil
}

func matchText(n model.Narrative, q string) bool {
	if strings.Contains(strings.ToLower(n.Name), q) || strings.Contains(strings.ToLower(n.Description), q) {
		return true
	}
	for _, t := range n.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}
