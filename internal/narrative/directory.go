// Package narrative manages narrative records: creation with an embedding of their
// text, lookups, similarity search and the trending list joined with market data.
package narrative

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/embedding"
	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/market"
	"github.com/rcliao/narrative-market/internal/model"
	"github.com/rcliao/narrative-market/internal/similarity"
	"github.com/rcliao/narrative-market/internal/store"
)

const (
	DefaultSimilarThreshold = 0.7
	DefaultSimilarLimit     = 20
	DefaultSameThreshold    = 0.85
)

// CreateParams holds parameters for creating a narrative.
type CreateParams struct {
	Creator     string   `json:"creator"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Modality    string   `json:"modality"`
	MetadataURI string   `json:"metadata_uri"`
}

// SimilarParams holds parameters for a similarity search. Zero Threshold and Limit
// use the defaults.
type SimilarParams struct {
	Text      string           `json:"text"`
	Threshold float64          `json:"threshold"`
	Limit     int              `json:"limit"`
	Filter    store.ListParams `json:"-"`
}

// SimilarNarrative is a search hit.
type SimilarNarrative struct {
	Narrative  model.Narrative `json:"narrative"`
	Similarity float64         `json:"similarity"`
}

// TrendingNarrative joins a trending entry with its directory record.
type TrendingNarrative struct {
	Narrative model.Narrative    `json:"narrative"`
	Trend     model.TrendingData `json:"trend"`
}

// Directory owns narrative records.
type Directory struct {
	store  store.NarrativeStore
	gen    *embedding.Generator
	engine *market.Engine
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// WithLogger overrides the process logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) { d.logger = l }
}

// NewDirectory returns a Directory. engine may be nil when trending is not needed.
func NewDirectory(s store.NarrativeStore, gen *embedding.Generator, engine *market.Engine, opts ...Option) *Directory {
	d := &Directory{
		store:  s,
		gen:    gen,
		engine: engine,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logging.Default()
	}
	return d
}

// Create validates p, embeds the narrative text and stores the record under the next
// token ID.
func (d *Directory) Create(ctx context.Context, p CreateParams) (*model.Narrative, error) {
	n := model.Narrative{
		Creator:     strings.ToLower(strings.TrimSpace(p.Creator)),
		Name:        strings.TrimSpace(p.Name),
		Description: strings.TrimSpace(p.Description),
		Tags:        p.Tags,
		Modality:    p.Modality,
		MetadataURI: p.MetadataURI,
		Status:      model.StatusActive,
	}
	if n.Modality == "" {
		n.Modality = "text"
	}
	if err := validate(n); err != nil {
		return nil, err
	}
	if n.MetadataURI == "" {
		n.MetadataURI = "ipfs://narrative/" + uuid.NewString()
	}

	emb, err := d.gen.Generate(ctx, n.Text())
	if err != nil {
		return nil, goerr.Wrap(err, "embed narrative")
	}
	n.Embedding = emb.Vector
	n.EmbedModel = emb.Model
	n.CreatedAt = d.now()
	n.UpdatedAt = n.CreatedAt

	if err := d.store.CreateNarrative(ctx, &n); err != nil {
		return nil, goerr.Wrap(err, "store narrative")
	}
	d.logger.Info("narrative created", "token_id", n.ID, "creator", n.Creator, "model", n.EmbedModel)
	return &n, nil
}

func validate(n model.Narrative) error {
	switch {
	case n.Name == "":
		return goerr.Wrap(errs.ErrInvalidInput, "name is required")
	case n.Description == "":
		return goerr.Wrap(errs.ErrInvalidInput, "description is required")
	case !model.ValidAddress(n.Creator):
		return goerr.Wrap(errs.ErrInvalidInput, "valid creator address is required", goerr.V("creator", n.Creator))
	case !model.ValidModalities[n.Modality]:
		return goerr.Wrap(errs.ErrInvalidInput, "unknown modality", goerr.V("modality", n.Modality))
	}
	return nil
}

// Get returns the narrative or errs.ErrNotFound.
func (d *Directory) Get(ctx context.Context, id int64) (*model.Narrative, error) {
	return d.store.GetNarrative(ctx, id)
}

// List returns narratives ordered by token ID.
func (d *Directory) List(ctx context.Context, p store.ListParams) ([]model.Narrative, error) {
	if p.Limit < 0 || p.Offset < 0 {
		return nil, goerr.Wrap(errs.ErrInvalidInput, "limit and offset must not be negative")
	}
	return d.store.ListNarratives(ctx, p)
}

// Search matches query as a keyword against names, descriptions and tags.
func (d *Directory) Search(ctx context.Context, query string, limit int) ([]model.Narrative, error) {
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(errs.ErrInvalidInput, "query cannot be empty")
	}
	return d.store.SearchNarratives(ctx, store.SearchParams{Query: strings.TrimSpace(query), Limit: limit})
}

// UpdateText changes the name and description and regenerates the embedding. Empty
// arguments keep the current value.
func (d *Directory) UpdateText(ctx context.Context, id int64, name, description string) (*model.Narrative, error) {
	n, err := d.store.GetNarrative(ctx, id)
	if err != nil {
		return nil, err
	}
	before := n.Text()
	if s := strings.TrimSpace(name); s != "" {
		n.Name = s
	}
	if s := strings.TrimSpace(description); s != "" {
		n.Description = s
	}
	if n.Text() == before && len(n.Embedding) > 0 {
		return n, nil
	}

	emb, err := d.gen.Generate(ctx, n.Text())
	if err != nil {
		return nil, goerr.Wrap(err, "embed narrative", goerr.V(errs.NarrativeIDKey, id))
	}
	n.Embedding = emb.Vector
	n.EmbedModel = emb.Model
	n.UpdatedAt = d.now()
	if err := d.store.PutNarrative(ctx, n); err != nil {
		return nil, goerr.Wrap(err, "store narrative", goerr.V(errs.NarrativeIDKey, id))
	}
	return n, nil
}

// SetStatus moves a narrative to active, flagged or archived.
func (d *Directory) SetStatus(ctx context.Context, id int64, status string) (*model.Narrative, error) {
	switch status {
	case model.StatusActive, model.StatusFlagged, model.StatusArchived:
	default:
		return nil, goerr.Wrap(errs.ErrInvalidInput, "unknown status", goerr.V("status", status))
	}
	n, err := d.store.GetNarrative(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Status = status
	n.UpdatedAt = d.now()
	if err := d.store.PutNarrative(ctx, n); err != nil {
		return nil, goerr.Wrap(err, "store narrative", goerr.V(errs.NarrativeIDKey, id))
	}
	return n, nil
}

// FindSimilar embeds p.Text and ranks stored narratives against it. Narratives whose
// vectors do not match the current model's dimensionality are skipped.
func (d *Directory) FindSimilar(ctx context.Context, p SimilarParams) ([]SimilarNarrative, error) {
	threshold := p.Threshold
	if threshold == 0 {
		threshold = DefaultSimilarThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, goerr.Wrap(errs.ErrInvalidInput, "threshold must be within [0, 1]", goerr.V("threshold", threshold))
	}
	limit := p.Limit
	if limit == 0 {
		limit = DefaultSimilarLimit
	}

	emb, err := d.gen.Generate(ctx, p.Text)
	if err != nil {
		return nil, err
	}

	all, err := d.store.ListNarratives(ctx, store.ListParams{
		Creator:  p.Filter.Creator,
		Tag:      p.Filter.Tag,
		Modality: p.Filter.Modality,
		Status:   p.Filter.Status,
	})
	if err != nil {
		return nil, err
	}

	candidates := make([]similarity.Candidate[int], 0, len(all))
	for i, n := range all {
		if len(n.Embedding) != len(emb.Vector) {
			d.logger.Warn("skipping narrative with stale embedding",
				"token_id", n.ID, "dims", len(n.Embedding), "want", len(emb.Vector))
			continue
		}
		candidates = append(candidates, similarity.Candidate[int]{Key: i, Vector: n.Embedding})
	}

	matches, err := similarity.FindSimilar(emb.Vector, candidates, threshold, limit)
	if err != nil {
		return nil, err
	}
	out := make([]SimilarNarrative, 0, len(matches))
	for _, m := range matches {
		out = append(out, SimilarNarrative{Narrative: all[m.Key], Similarity: m.Similarity})
	}
	return out, nil
}

// AreSimilar reports whether two narratives' embeddings reach threshold. A zero
// threshold uses DefaultSameThreshold.
func (d *Directory) AreSimilar(ctx context.Context, id1, id2 int64, threshold float64) (bool, float64, error) {
	if threshold == 0 {
		threshold = DefaultSameThreshold
	}
	a, err := d.vector(ctx, id1)
	if err != nil {
		return false, 0, err
	}
	b, err := d.vector(ctx, id2)
	if err != nil {
		return false, 0, err
	}
	sim, err := similarity.CosineSimilarity(a, b)
	if err != nil {
		return false, 0, err
	}
	return sim >= threshold, sim, nil
}

func (d *Directory) vector(ctx context.Context, id int64) ([]float32, error) {
	n, err := d.store.GetNarrative(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(n.Embedding) == d.gen.Dims() {
		return n.Embedding, nil
	}
	emb, err := d.gen.Generate(ctx, n.Text())
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// Embed returns the embedding of arbitrary text.
func (d *Directory) Embed(ctx context.Context, text string) (*model.Embedding, error) {
	return d.gen.Generate(ctx, text)
}

// Trending returns the market's trending list restricted to narratives this directory
// knows about.
func (d *Directory) Trending(ctx context.Context, limit int) ([]TrendingNarrative, error) {
	if d.engine == nil {
		return nil, goerr.New("trending requires a market engine")
	}
	trends, err := d.engine.TrendingNarratives(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]TrendingNarrative, 0, len(trends))
	for _, t := range trends {
		n, err := d.store.GetNarrative(ctx, t.Narrative.NarrativeID)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, TrendingNarrative{Narrative: *n, Trend: t})
	}
	return out, nil
}
