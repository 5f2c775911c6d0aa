package embedding

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf16"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/metrics"
	"github.com/rcliao/narrative-market/internal/model"
)

// MaxTextLength is the longest text accepted for embedding, in UTF-16 code units.
const MaxTextLength = 5000

// Generator validates text, calls an Embedder and returns unit-length vectors of a fixed
// dimensionality. Backend failures surface as errs.ErrServiceUnavailable; nothing is retried.
type Generator struct {
	embedder  Embedder
	maxLength int
	timeout   time.Duration
	limiter   *rate.Limiter
	cache     *lru.Cache[string, Vector]
	group     singleflight.Group
	now       func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

// WithMaxLength overrides MaxTextLength.
func WithMaxLength(n int) Option {
	return func(g *Generator) { g.maxLength = n }
}

// WithRateLimit paces backend calls to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(g *Generator) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithCacheSize keeps up to n vectors keyed by text. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(g *Generator) {
		if n <= 0 {
			g.cache = nil
			return
		}
		c, err := lru.New[string, Vector](n)
		if err == nil {
			g.cache = c
		}
	}
}

// WithClock overrides the GeneratedAt time source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator wraps e. Defaults: 30s timeout, no rate limit, 1024-entry cache.
func NewGenerator(e Embedder, opts ...Option) *Generator {
	g := &Generator{
		embedder:  e,
		maxLength: MaxTextLength,
		timeout:   30 * time.Second,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		now:       time.Now,
	}
	WithCacheSize(1024)(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dims returns the dimensionality of generated vectors.
func (g *Generator) Dims() int { return g.embedder.Dims() }

// Model returns the identifier of the backing model.
func (g *Generator) Model() string { return g.embedder.Name() }

// Validate checks text against the generator's input rules.
func (g *Generator) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return goerr.Wrap(errs.ErrInvalidInput, "text cannot be empty")
	}
	if n := textLength(text); n > g.maxLength {
		return goerr.Wrap(errs.ErrInvalidInput, "text too long",
			goerr.V("length", n), goerr.V("max", g.maxLength))
	}
	return nil
}

// textLength counts UTF-16 code units, so characters outside the Basic Multilingual
// Plane count twice.
func textLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Generate embeds text. Cancelling ctx abandons this caller's wait only.
func (g *Generator) Generate(ctx context.Context, text string) (*model.Embedding, error) {
	if err := g.Validate(text); err != nil {
		return nil, err
	}

	if g.cache != nil {
		if v, ok := g.cache.Get(text); ok {
			return g.result(v), nil
		}
	}

	// Callers embedding the same text share one backend call. It is bounded by the
	// generator timeout, not by any single caller's ctx.
	ch := g.group.DoChan(text, func() (any, error) {
		callCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
			defer cancel()
		}
		vec, err := g.call(callCtx, text)
		if err == nil && g.cache != nil {
			g.cache.Add(text, vec)
		}
		return vec, err
	})

	select {
	case <-ctx.Done():
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "embedding request cancelled",
			goerr.V(errs.ProviderKey, g.embedder.Name()), goerr.V("cause", ctx.Err().Error()))
	case res := <-ch:
		if res.Err != nil {
			logging.Default().Warn("embedding generation failed",
				append([]any{"provider", g.embedder.Name()}, errs.LogAttrs(res.Err)...)...)
			return nil, res.Err
		}
		return g.result(res.Val.(Vector)), nil
	}
}

func (g *Generator) call(ctx context.Context, text string) (vec Vector, err error) {
	done := metrics.TimeEmbedding(g.embedder.Name())
	defer func() { done(err == nil) }()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "embedding rate limit wait aborted",
			goerr.V("cause", err.Error()))
	}

	raw, err := g.embedder.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, errs.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "embedding backend failed",
			goerr.V(errs.ProviderKey, g.embedder.Name()), goerr.V("cause", err.Error()))
	}
	if len(raw) != g.embedder.Dims() {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "embedding backend returned unexpected dimensions",
			goerr.V("got", len(raw)), goerr.V("want", g.embedder.Dims()))
	}
	if Norm(raw) == 0 {
		return nil, goerr.Wrap(errs.ErrServiceUnavailable, "embedding backend returned a zero vector")
	}
	return Normalize(raw), nil
}

func (g *Generator) result(v Vector) *model.Embedding {
	out := make(Vector, len(v))
	copy(out, v)
	return &model.Embedding{
		Vector:      out,
		Model:       g.embedder.Name(),
		GeneratedAt: g.now().UTC(),
	}
}
