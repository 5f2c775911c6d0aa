// Package metrics provides the instrumentation surface with a no-op default and a
// Prometheus-backed implementation.
package metrics

import (
	"sync"
	"time"
)

// Recorder defines the metrics used across the codebase.
type Recorder interface {
	IncLedgerAppend(action string, success bool)
	ObserveAnalyticsSeconds(op string, seconds float64)
	IncEmbedding(provider string, success bool)
	ObserveEmbeddingSeconds(provider string, seconds float64)
}

type noopRecorder struct{}

func (noopRecorder) IncLedgerAppend(string, bool)            {}
func (noopRecorder) ObserveAnalyticsSeconds(string, float64) {}
func (noopRecorder) IncEmbedding(string, bool)               {}
func (noopRecorder) ObserveEmbeddingSeconds(string, float64) {}

var (
	recMu    sync.RWMutex
	recorder Recorder = noopRecorder{}
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder implementation.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	if r == nil {
		r = noopRecorder{}
	}
	recorder = r
}

// TimeAnalytics times one analytics computation.
func TimeAnalytics(op string) func() {
	start := time.Now()
	return func() {
		Default().ObserveAnalyticsSeconds(op, time.Since(start).Seconds())
	}
}

// TimeEmbedding times one embedding generation.
func TimeEmbedding(provider string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		Default().IncEmbedding(provider, success)
		Default().ObserveEmbeddingSeconds(provider, time.Since(start).Seconds())
	}
}
