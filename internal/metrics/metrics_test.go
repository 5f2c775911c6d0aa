package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromRecorder(t *testing.T) {
	p := NewPromRecorder()
	SetRecorder(p)
	t.Cleanup(func() { SetRecorder(nil) })

	Default().IncLedgerAppend("stake", true)
	Default().IncLedgerAppend("stake", true)
	Default().IncLedgerAppend("unstake", false)
	TimeEmbedding("mock")(true)
	TimeAnalytics("trending")()

	assert.Equal(t, 2.0, testutil.ToFloat64(p.ledgerAppends.WithLabelValues("stake", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ledgerAppends.WithLabelValues("unstake", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.embeddings.WithLabelValues("mock", "true")))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ledger_appends_total")
	assert.Contains(t, string(body), "analytics_seconds")
}

func TestSetRecorderNilRestoresNoop(t *testing.T) {
	SetRecorder(nil)
	_, ok := Default().(noopRecorder)
	assert.True(t, ok)
}
