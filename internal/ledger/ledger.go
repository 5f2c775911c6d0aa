// Package ledger is the append-only stake/unstake log that every market aggregate is
// derived from.
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/metrics"
	"github.com/rcliao/narrative-market/internal/model"
	"github.com/rcliao/narrative-market/internal/store"
)

// Ledger validates activities before they reach the store and serves windowed reads.
type Ledger struct {
	store  store.ActivityStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for timestamps and windows.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger overrides the process logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New returns a Ledger over s.
func New(s store.ActivityStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.Default()
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Validate checks the fields Append requires. It never consults ledger state: an
// unstake larger than the staker's position is accepted here.
func Validate(a model.Activity) error {
	switch {
	case !a.Amount.IsPositive():
		return goerr.Wrap(errs.ErrInvalidInput, "amount must be positive",
			goerr.V(errs.AmountKey, a.Amount.String()))
	case a.NarrativeID < 0:
		return goerr.Wrap(errs.ErrInvalidInput, "narrative id must not be negative",
			goerr.V(errs.NarrativeIDKey, a.NarrativeID))
	case !a.Action.Valid():
		return goerr.Wrap(errs.ErrInvalidInput, "unknown action", goerr.V("action", string(a.Action)))
	case strings.TrimSpace(a.Staker) == "":
		return goerr.Wrap(errs.ErrInvalidInput, "staker is required")
	}
	return nil
}

// Append validates a and stores it. A zero timestamp is set to the ledger clock.
func (l *Ledger) Append(ctx context.Context, a model.Activity) (*model.Activity, error) {
	if err := Validate(a); err != nil {
		metrics.Default().IncLedgerAppend(string(a.Action), false)
		return nil, err
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = l.now()
	}
	if err := l.store.AppendActivity(ctx, &a); err != nil {
		metrics.Default().IncLedgerAppend(string(a.Action), false)
		return nil, goerr.Wrap(err, "append activity",
			goerr.V(errs.NarrativeIDKey, a.NarrativeID), goerr.V(errs.StakerKey, a.Staker))
	}
	metrics.Default().IncLedgerAppend(string(a.Action), true)
	l.logger.Debug("ledger append",
		"id", a.ID, "narrative_id", a.NarrativeID, "staker", a.Staker,
		"action", a.Action, "amount", a.Amount.String())
	return &a, nil
}

// Query returns the narrative's activities with timestamp >= now-window, newest first.
func (l *Ledger) Query(ctx context.Context, narrativeID int64, window time.Duration) ([]model.Activity, error) {
	if window < 0 {
		return nil, goerr.Wrap(errs.ErrInvalidInput, "window must not be negative", goerr.V("window", window.String()))
	}
	acts, err := l.store.Activities(ctx, store.ActivityFilter{
		NarrativeID: &narrativeID,
		Since:       l.now().Add(-window),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "query activities", goerr.V(errs.NarrativeIDKey, narrativeID))
	}
	return newestFirst(acts), nil
}

// ActiveStakers counts distinct stakers with any activity in the window.
func (l *Ledger) ActiveStakers(ctx context.Context, window time.Duration) (int, error) {
	snap, err := l.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snap.ActiveStakers(window), nil
}

// Snapshot reads the whole ledger in one consistent view.
func (l *Ledger) Snapshot(ctx context.Context) (*Snapshot, error) {
	at := l.now()
	acts, err := l.store.Activities(ctx, store.ActivityFilter{})
	if err != nil {
		return nil, goerr.Wrap(err, "read ledger snapshot")
	}
	return NewSnapshot(at, acts), nil
}

// Export returns every activity in append order.
func (l *Ledger) Export(ctx context.Context) ([]model.Activity, error) {
	acts, err := l.store.Activities(ctx, store.ActivityFilter{})
	if err != nil {
		return nil, goerr.Wrap(err, "export ledger")
	}
	return acts, nil
}

// Import re-appends exported activities, keeping their IDs and timestamps. Activities
// already present are skipped. The first invalid record stops the import.
func (l *Ledger) Import(ctx context.Context, acts []model.Activity) (imported, skipped int, err error) {
	for _, a := range acts {
		if _, err := l.Append(ctx, a); err != nil {
			if store.IsDuplicate(err) {
				skipped++
				continue
			}
			return imported, skipped, err
		}
		imported++
	}
	l.logger.Info("ledger import", "imported", imported, "skipped", skipped)
	return imported, skipped, nil
}

// newestFirst orders by timestamp descending; equal timestamps keep the later append first.
func newestFirst(acts []model.Activity) []model.Activity {
	for i, j := 0, len(acts)-1; i < j; i, j = i+1, j-1 {
		acts[i], acts[j] = acts[j], acts[i]
	}
	sort.SliceStable(acts, func(i, j int) bool {
		return acts[i].Timestamp.After(acts[j].Timestamp)
	})
	return acts
}
