package cli

import (
	"github.com/rcliao/narrative-market/internal/config"
	"github.com/rcliao/narrative-market/internal/embedding"
	"github.com/rcliao/narrative-market/internal/ledger"
	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/market"
	"github.com/rcliao/narrative-market/internal/narrative"
	"github.com/rcliao/narrative-market/internal/staking"
	"github.com/rcliao/narrative-market/internal/store"
)

// app holds the services a command runs against.
type app struct {
	cfg       *config.Config
	store     store.Store
	ledger    *ledger.Ledger
	engine    *market.Engine
	directory *narrative.Directory
	staking   *staking.Service
	closeLog  func()
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

func newGenerator(cfg config.EmbeddingConfig) (*embedding.Generator, error) {
	e, err := embedding.New(cfg.Provider, cfg.Model, cfg.URL, cfg.APIKey, cfg.Dims)
	if err != nil {
		return nil, err
	}
	return embedding.NewGenerator(e,
		embedding.WithTimeout(cfg.Timeout),
		embedding.WithMaxLength(cfg.MaxLength),
		embedding.WithCacheSize(cfg.CacheSize),
		embedding.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
	), nil
}

// openApp loads configuration, installs the logger and wires the services.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	closeLog, err := logging.Init(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, err
	}

	s, err := openStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}
	gen, err := newGenerator(cfg.Embedding)
	if err != nil {
		s.Close()
		closeLog()
		return nil, err
	}

	l := ledger.New(s)
	engine := market.NewEngine(l, cfg.Market)
	return &app{
		cfg:       cfg,
		store:     s,
		ledger:    l,
		engine:    engine,
		directory: narrative.NewDirectory(s, gen, engine),
		staking:   staking.NewService(l, engine, cfg.Staking),
		closeLog:  closeLog,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.closeLog()
}

// mustOpenApp is openApp for commands, which exit on failure.
func mustOpenApp() *app {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	return a
}
