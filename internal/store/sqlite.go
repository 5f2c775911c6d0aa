package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/rcliao/narrative-market/internal/errs"
	"github.com/rcliao/narrative-market/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "create db dir", goerr.V("dir", dir))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "open db", goerr.V("path", dbPath))
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "migrate")
	}

	return s, nil
}

func newID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS activities (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		narrative_id INTEGER NOT NULL,
		staker       TEXT NOT NULL,
		amount       TEXT NOT NULL,
		action       TEXT NOT NULL CHECK (action IN ('stake', 'unstake')),
		ts           INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activities_narrative_ts ON activities(narrative_id, ts);
	CREATE INDEX IF NOT EXISTS idx_activities_ts ON activities(ts);
	CREATE INDEX IF NOT EXISTS idx_activities_staker ON activities(staker);

	CREATE TABLE IF NOT EXISTS narratives (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		creator      TEXT NOT NULL,
		name         TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		tags         TEXT,
		modality     TEXT NOT NULL DEFAULT 'text',
		embedding    BLOB,
		embed_model  TEXT,
		metadata_uri TEXT,
		status       TEXT NOT NULL DEFAULT 'active',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_narratives_creator ON narratives(creator);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// The ledger is append-only.
	if _, err := s.db.Exec(`CREATE TRIGGER IF NOT EXISTS activities_no_update BEFORE UPDATE ON activities BEGIN
		SELECT RAISE(ABORT, 'activities are append-only');
	END`); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE TRIGGER IF NOT EXISTS activities_no_delete BEFORE DELETE ON activities BEGIN
		SELECT RAISE(ABORT, 'activities are append-only');
	END`)
	return err
}

func (s *SQLiteStore) AppendActivity(ctx context.Context, a *model.Activity) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}
	if a.ID == "" {
		a.ID = newID(a.Timestamp)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, narrative_id, staker, amount, action, ts)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		a.ID, a.NarrativeID, a.Staker, a.Amount.String(), string(a.Action), a.Timestamp.UnixNano())
	if err != nil {
		return goerr.Wrap(err, "insert activity", goerr.V("id", a.ID))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return goerr.Wrap(ErrDuplicateActivity, "append activity", goerr.V("id", a.ID))
	}
	return nil
}

func (s *SQLiteStore) Activities(ctx context.Context, f ActivityFilter) ([]model.Activity, error) {
	var where []string
	var args []interface{}

	if f.NarrativeID != nil {
		where = append(where, "narrative_id = ?")
		args = append(args, *f.NarrativeID)
	}
	if f.Staker != "" {
		where = append(where, "staker = ?")
		args = append(args, f.Staker)
	}
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}

	query := `SELECT id, narrative_id, staker, amount, action, ts FROM activities`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query activities")
	}
	defer rows.Close()

	out := []model.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(sc scanner) (model.Activity, error) {
	var a model.Activity
	var amount, action string
	var ts int64
	if err := sc.Scan(&a.ID, &a.NarrativeID, &a.Staker, &amount, &action, &ts); err != nil {
		return a, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return a, goerr.Wrap(err, "parse amount", goerr.V("amount", amount))
	}
	a.Amount = d
	a.Action = model.Action(action)
	a.Timestamp = time.Unix(0, ts).UTC()
	return a, nil
}

func (s *SQLiteStore) CreateNarrative(ctx context.Context, n *model.Narrative) error {
	tags, emb := encodeNarrative(n)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO narratives (creator, name, description, tags, modality, embedding, embed_model, metadata_uri, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Creator, n.Name, n.Description, tags, n.Modality, emb, n.EmbedModel, n.MetadataURI, n.Status,
		n.CreatedAt.UTC().Format(time.RFC3339Nano), n.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return goerr.Wrap(err, "insert narrative")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return goerr.Wrap(err, "narrative id")
	}
	n.ID = id
	return nil
}

func (s *SQLiteStore) PutNarrative(ctx context.Context, n *model.Narrative) error {
	tags, emb := encodeNarrative(n)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO narratives (id, creator, name, description, tags, modality, embedding, embed_model, metadata_uri, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Creator, n.Name, n.Description, tags, n.Modality, emb, n.EmbedModel, n.MetadataURI, n.Status,
		n.CreatedAt.UTC().Format(time.RFC3339Nano), n.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return goerr.Wrap(err, "put narrative", goerr.V(errs.NarrativeIDKey, n.ID))
	}
	return nil
}

const narrativeColumns = `id, creator, name, description, tags, modality, embedding, embed_model, metadata_uri, status, created_at, updated_at`

func (s *SQLiteStore) GetNarrative(ctx context.Context, id int64) (*model.Narrative, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+narrativeColumns+` FROM narratives WHERE id = ?`, id)
	n, err := scanNarrative(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(errs.ErrNotFound, "narrative not found", goerr.V(errs.NarrativeIDKey, id))
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *SQLiteStore) ListNarratives(ctx context.Context, p ListParams) ([]model.Narrative, error) {
	var where []string
	var args []interface{}

	if p.Creator != "" {
		where = append(where, "creator = ?")
		args = append(args, p.Creator)
	}
	if p.Modality != "" {
		where = append(where, "modality = ?")
		args = append(args, p.Modality)
	}
	if p.Status != "" {
		where = append(where, "status = ?")
		args = append(args, p.Status)
	}

	query := `SELECT ` + narrativeColumns + ` FROM narratives`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "list narratives")
	}
	defer rows.Close()

	out := []model.Narrative{}
	for rows.Next() {
		n, err := scanNarrative(rows)
		if err != nil {
			return nil, err
		}
		// Tags are stored as JSON; filter after decoding.
		if p.Tag != "" && !matchNarrative(n, ListParams{Tag: p.Tag}) {
			continue
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page(out, p.Offset, p.Limit), nil
}

func scanNarrative(sc scanner) (model.Narrative, error) {
	var n model.Narrative
	var tags, embedModel, metadataURI sql.NullString
	var emb []byte
	var createdAt, updatedAt string

	err := sc.Scan(&n.ID, &n.Creator, &n.Name, &n.Description, &tags, &n.Modality, &emb,
		&embedModel, &metadataURI, &n.Status, &createdAt, &updatedAt)
	if err != nil {
		return n, err
	}

	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &n.Tags); err != nil {
			return n, goerr.Wrap(err, "decode tags")
		}
	}
	n.Embedding, err = decodeVector(emb)
	if err != nil {
		return n, err
	}
	n.EmbedModel = embedModel.String
	n.MetadataURI = metadataURI.String
	n.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	n.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return n, nil
}

func encodeNarrative(n *model.Narrative) (*string, []byte) {
	var tagsJSON *string
	if len(n.Tags) > 0 {
		b, _ := json.Marshal(n.Tags)
		s := string(b)
		tagsJSON = &s
	}
	return tagsJSON, encodeVector(n.Embedding)
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, goerr.New("invalid embedding size", goerr.V("bytes", len(b)))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return v, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
