package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/narrative-market/internal/embedding"
	"github.com/rcliao/narrative-market/internal/ledger"
	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/market"
	"github.com/rcliao/narrative-market/internal/metrics"
	"github.com/rcliao/narrative-market/internal/narrative"
	"github.com/rcliao/narrative-market/internal/server"
	"github.com/rcliao/narrative-market/internal/staking"
	"github.com/rcliao/narrative-market/internal/store"
)

const alice = "0x1111111111111111111111111111111111111111"

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clock := func() time.Time { return now }
	s := store.NewMemoryStore()
	l := ledger.New(s, ledger.WithClock(clock), ledger.WithLogger(logging.Discard()))
	e := market.NewEngine(l, market.DefaultConfig())
	dir := narrative.NewDirectory(s, embedding.NewGenerator(embedding.NewHashEmbedder(32)), e,
		narrative.WithClock(clock), narrative.WithLogger(logging.Discard()))
	svc := staking.NewService(l, e, staking.DefaultConfig(), staking.WithLogger(logging.Discard()))
	srv := server.New(e, dir, svc,
		server.WithLogger(logging.Discard()),
		server.WithClock(clock),
		server.WithMetricsHandler(metrics.NewPromRecorder().Handler()),
	)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

func call(t *testing.T, ts *httptest.Server, method, path string, body any) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, env := call(t, ts, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
	assert.True(t, env.Timestamp.Equal(now))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStakeAndMarketFlow(t *testing.T) {
	ts := newTestServer(t)

	status, env := call(t, ts, http.MethodPost, "/api/staking/stake",
		map[string]any{"narrative_id": 1, "amount": "100", "staker": alice})
	require.Equal(t, http.StatusOK, status, env.Error)
	var act struct {
		ID     string `json:"id"`
		Amount string `json:"amount"`
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &act))
	assert.NotEmpty(t, act.ID)
	assert.Equal(t, "100", act.Amount)
	assert.Equal(t, "stake", act.Action)

	status, env = call(t, ts, http.MethodGet, "/api/market/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	var mm struct {
		TVL           string `json:"total_value_locked"`
		ActiveStakers int    `json:"active_stakers"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &mm))
	assert.Equal(t, "100", mm.TVL)
	assert.Equal(t, 1, mm.ActiveStakers)

	status, env = call(t, ts, http.MethodGet, "/api/market/activity/1?hoursBack=24", nil)
	require.Equal(t, http.StatusOK, status)
	var activity struct {
		HoursBack   int               `json:"hours_back"`
		Activity    []json.RawMessage `json:"activity"`
		TotalVolume string            `json:"total_volume"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &activity))
	assert.Equal(t, 24, activity.HoursBack)
	assert.Len(t, activity.Activity, 1)
	assert.Equal(t, "100.0000", activity.TotalVolume)

	status, env = call(t, ts, http.MethodGet, "/api/staking/apy/1", nil)
	require.Equal(t, http.StatusOK, status)
	var apy struct {
		APY float64 `json:"apy"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &apy))
	assert.InDelta(t, 5.2, apy.APY, 1e-9)

	status, env = call(t, ts, http.MethodGet, "/api/market/sentiment", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), "overall_sentiment")

	status, _ = call(t, ts, http.MethodGet, "/api/staking/positions?staker="+alice, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad address", http.MethodPost, "/api/staking/stake", map[string]any{"narrative_id": 1, "amount": "1", "staker": "0x1"}, http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/api/staking/stake", map[string]any{"narrative_id": 1, "amount": "0", "staker": alice}, http.StatusBadRequest},
		{"over unstake", http.MethodPost, "/api/staking/unstake", map[string]any{"narrative_id": 1, "amount": "5", "staker": alice}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/staking/stake", "not an object", http.StatusBadRequest},
		{"negative window", http.MethodGet, "/api/market/activity/1?hoursBack=-1", nil, http.StatusBadRequest},
		{"overflowing window", http.MethodGet, "/api/market/activity/1?hoursBack=3000000", nil, http.StatusBadRequest},
		{"overflowing velocity window", http.MethodGet, "/api/market/velocity/1?hoursBack=3000000", nil, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/api/market/activity/abc", nil, http.StatusBadRequest},
		{"unknown narrative", http.MethodGet, "/api/narratives/42", nil, http.StatusNotFound},
		{"threshold out of range", http.MethodPost, "/api/semantic/similar", map[string]any{"text": "x", "threshold": 2}, http.StatusBadRequest},
		{"empty text", http.MethodPost, "/api/semantic/similar", map[string]any{"text": ""}, http.StatusBadRequest},
		{"nothing to claim", http.MethodPost, "/api/staking/rewards/claim", map[string]any{"narrative_id": 1, "staker": alice}, http.StatusConflict},
		{"missing staker", http.MethodGet, "/api/staking/positions", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, ts, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, status)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
			assert.True(t, env.Timestamp.Equal(now))
		})
	}
}

func TestVelocityLongestWindow(t *testing.T) {
	ts := newTestServer(t)
	status, env := call(t, ts, http.MethodPost, "/api/staking/stake",
		map[string]any{"narrative_id": 7, "amount": "100", "staker": alice})
	require.Equal(t, http.StatusOK, status, env.Error)

	longest := int64(math.MaxInt64 / time.Hour)
	status, env = call(t, ts, http.MethodGet, fmt.Sprintf("/api/market/velocity/7?hoursBack=%d", longest), nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var v struct {
		Velocity  float64 `json:"velocity"`
		HoursBack int64   `json:"hours_back"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.InDelta(t, 100.0, v.Velocity, 1e-9)
	assert.Equal(t, longest, v.HoursBack)

	status, _ = call(t, ts, http.MethodGet, fmt.Sprintf("/api/market/velocity/7?hoursBack=%d", longest+1), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestNarrativeLifecycle(t *testing.T) {
	ts := newTestServer(t)

	status, env := call(t, ts, http.MethodPost, "/api/narratives", map[string]any{
		"creator":     "0x123",
		"name":        "Solar punk",
		"description": "Cities powered by the sun",
	})
	// A malformed creator is rejected before anything is stored.
	assert.Equal(t, http.StatusBadRequest, status, env.Error)

	status, env = call(t, ts, http.MethodPost, "/api/narratives", map[string]any{
		"creator":     alice,
		"name":        "Solar punk",
		"description": "Cities powered by the sun",
		"tags":        []string{"climate"},
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var n struct {
		ID int64 `json:"token_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &n))
	assert.Equal(t, int64(1), n.ID)

	status, _ = call(t, ts, http.MethodGet, "/api/narratives/1", nil)
	assert.Equal(t, http.StatusOK, status)

	status, env = call(t, ts, http.MethodGet, "/api/narratives/search?q=solar", nil)
	require.Equal(t, http.StatusOK, status)
	var found []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &found))
	assert.Len(t, found, 1)

	status, env = call(t, ts, http.MethodGet, "/api/narratives?tag=climate", nil)
	require.Equal(t, http.StatusOK, status)
	var list []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)

	status, env = call(t, ts, http.MethodPost, "/api/semantic/similar",
		map[string]any{"text": "Solar punk Cities powered by the sun", "threshold": 0.99})
	require.Equal(t, http.StatusOK, status, env.Error)
	var hits []struct {
		Similarity float64 `json:"similarity"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hits))
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-5)

	_, _ = call(t, ts, http.MethodPost, "/api/staking/stake",
		map[string]any{"narrative_id": 1, "amount": 10, "staker": alice})
	status, env = call(t, ts, http.MethodGet, "/api/narratives/trending", nil)
	require.Equal(t, http.StatusOK, status)
	var trending []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &trending))
	assert.Len(t, trending, 1)
}
