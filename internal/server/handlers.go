package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/model"
	"github.com/rcliao/narrative-market/internal/narrative"
	"github.com/rcliao/narrative-market/internal/staking"
	"github.com/rcliao/narrative-market/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.ok(w, map[string]string{"status": "ok"})
}

// Market

func (s *Server) handleMarketMetrics(w http.ResponseWriter, r *http.Request) {
	mm, err := s.engine.MarketMetrics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, mm)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	trends, err := s.engine.TrendingNarratives(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, trends)
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	sent, err := s.engine.MarketSentiment(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, sent)
}

type activityResponse struct {
	NarrativeID int64            `json:"narrative_id"`
	HoursBack   int              `json:"hours_back"`
	Activity    []model.Activity `json:"activity"`
	TotalVolume string           `json:"total_volume"`
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "narrativeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	window, err := queryHours(r, "hoursBack", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if window == 0 {
		window = s.engine.Config().Windows.Activity
	}
	acts, err := s.engine.NarrativeActivity(r.Context(), id, window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	total := decimal.Zero
	for _, a := range acts {
		total = total.Add(a.Amount)
	}
	s.ok(w, activityResponse{
		NarrativeID: id,
		HoursBack:   int(window / time.Hour),
		Activity:    acts,
		TotalVolume: total.StringFixed(4),
	})
}

func (s *Server) handleVelocity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "narrativeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	window, err := queryHours(r, "hoursBack", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if window == 0 {
		window = s.engine.Config().Windows.Velocity
	}
	v, err := s.engine.StakingVelocity(r.Context(), id, window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{
		"narrative_id": id,
		"velocity":     v,
		"hours_back":   int(window / time.Hour),
	})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "narrativeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	score, err := s.engine.TrendingScore(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"narrative_id": id, "trending_score": score, "max_score": 100})
}

// Semantic

type similarRequest struct {
	Text      string  `json:"text"`
	Threshold float64 `json:"threshold"`
	Limit     int     `json:"limit"`
	Filters   struct {
		Creator  string `json:"creator"`
		Tag      string `json:"tag"`
		Modality string `json:"modality"`
		Status   string `json:"status"`
	} `json:"filters"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req similarRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	hits, err := s.directory.FindSimilar(r.Context(), narrative.SimilarParams{
		Text:      req.Text,
		Threshold: req.Threshold,
		Limit:     req.Limit,
		Filter: store.ListParams{
			Creator:  strings.ToLower(req.Filters.Creator),
			Tag:      req.Filters.Tag,
			Modality: req.Filters.Modality,
			Status:   req.Filters.Status,
		},
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, hits)
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	emb, err := s.directory.Embed(r.Context(), req.Text)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, emb)
}

// Narratives

func (s *Server) handleListNarratives(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	list, err := s.directory.List(r.Context(), store.ListParams{
		Creator:  strings.ToLower(q.Get("creator")),
		Tag:      q.Get("tag"),
		Modality: q.Get("modality"),
		Status:   q.Get("status"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, list)
}

func (s *Server) handleCreateNarrative(w http.ResponseWriter, r *http.Request) {
	var p narrative.CreateParams
	if err := decode(r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.directory.Create(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.created(w, n)
}

func (s *Server) handleTrendingNarratives(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	trends, err := s.directory.Trending(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, trends)
}

func (s *Server) handleSearchNarratives(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	hits, err := s.directory.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, hits)
}

func (s *Server) handleGetNarrative(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.directory.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, n)
}

func (s *Server) handleNarrativeMetric(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.engine.NarrativeMetric(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, m)
}

// Staking

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleStakeAction(w, r, s.staking.Stake)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.handleStakeAction(w, r, s.staking.Unstake)
}

func (s *Server) handleStakeAction(w http.ResponseWriter, r *http.Request,
	do func(context.Context, staking.Request) (*model.Activity, error)) {
	var req staking.Request
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	act, err := do(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, act)
}

func staker(r *http.Request) (string, error) {
	v := r.URL.Query().Get("staker")
	if !model.ValidAddress(v) {
		return "", goerr.Wrap(errs.ErrInvalidInput, "invalid staker address", goerr.V(errs.StakerKey, v))
	}
	return v, nil
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	addr, err := staker(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ps, err := s.staking.Positions(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, ps)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "narrativeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	addr, err := staker(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.staking.Position(r.Context(), id, addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, p)
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "narrativeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	addr, err := staker(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rw, err := s.staking.Rewards(id, addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, rw)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NarrativeID int64  `json:"narrative_id"`
		Staker      string `json:"staker"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	claimed, err := s.staking.ClaimRewards(req.NarrativeID, req.Staker)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"narrative_id": req.NarrativeID, "claimed": claimed})
}

func (s *Server) handleAPY(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "narrativeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	apy, err := s.staking.APY(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, map[string]any{"narrative_id": id, "apy": apy})
}

func (s *Server) handleStakingStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.staking.Statistics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, st)
}

func (s *Server) handleNarrativeStakeStats(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "narrativeId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	total, err := s.staking.NarrativeTotalStake(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	apy, err := s.staking.APY(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, staking.NarrativeStake{NarrativeID: id, TotalStaked: total, APY: apy})
}
