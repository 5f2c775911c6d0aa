package store

import (
	"context"
	"os"
	"sort"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string           `json:"db_path"`
	DBSizeBytes     int64            `json:"db_size_bytes"`
	TotalActivities int              `json:"total_activities"`
	TotalNarratives int              `json:"total_narratives"`
	Stakers         int              `json:"stakers"`
	Narratives      []NarrativeStats `json:"narratives"`
}

// NarrativeStats holds per-narrative ledger counts.
type NarrativeStats struct {
	NarrativeID int64 `json:"narrative_id"`
	Activities  int   `json:"activities"`
	Stakers     int   `json:"stakers"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&st.TotalActivities)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM narratives`).Scan(&st.TotalNarratives)
	s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT staker) FROM activities`).Scan(&st.Stakers)

	rows, err := s.db.QueryContext(ctx, `
		SELECT narrative_id, COUNT(*) as cnt, COUNT(DISTINCT staker) as stakers
		FROM activities
		GROUP BY narrative_id ORDER BY cnt DESC, narrative_id`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var ns NarrativeStats
		rows.Scan(&ns.NarrativeID, &ns.Activities, &ns.Stakers)
		st.Narratives = append(st.Narratives, ns)
	}

	return st, rows.Err()
}

// Stats returns in-memory counts. DBPath and DBSizeBytes stay empty.
func (s *MemoryStore) Stats(_ context.Context, _ string) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &Stats{TotalActivities: len(s.activities), TotalNarratives: len(s.narratives)}
	all := map[string]struct{}{}
	per := map[int64]*NarrativeStats{}
	perStakers := map[int64]map[string]struct{}{}
	var order []int64
	for _, a := range s.activities {
		all[a.Staker] = struct{}{}
		ns, ok := per[a.NarrativeID]
		if !ok {
			ns = &NarrativeStats{NarrativeID: a.NarrativeID}
			per[a.NarrativeID] = ns
			perStakers[a.NarrativeID] = map[string]struct{}{}
			order = append(order, a.NarrativeID)
		}
		ns.Activities++
		perStakers[a.NarrativeID][a.Staker] = struct{}{}
	}
	st.Stakers = len(all)
	for _, id := range order {
		ns := per[id]
		ns.Stakers = len(perStakers[id])
		st.Narratives = append(st.Narratives, *ns)
	}
	sortNarrativeStats(st.Narratives)
	return st, nil
}

func sortNarrativeStats(ns []NarrativeStats) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Activities != ns[j].Activities {
			return ns[i].Activities > ns[j].Activities
		}
		return ns[i].NarrativeID < ns[j].NarrativeID
	})
}
