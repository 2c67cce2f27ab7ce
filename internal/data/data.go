package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"

	"reelguard/internal/biz"
	"reelguard/internal/conf"
	"reelguard/internal/pkg/media"
	"reelguard/internal/pkg/moderator"
	"reelguard/internal/pkg/stt"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisCache,
	NewUsageRepo,
	NewVerdictCache,
	NewFrameLabelCache,
	NewModels,
	NewPreparer,
	NewTranscriber,
	NewTextModerator,
	NewNSFWEnsemble,
	NewVideoModerator,
	NewAnalysisConfig,
	wire.Bind(new(biz.MediaPreparer), new(*media.Preparer)),
	wire.Bind(new(biz.Transcriber), new(*stt.WhisperClient)),
	wire.Bind(new(biz.TextModerator), new(*moderator.TextModerator)),
	wire.Bind(new(biz.VisualModerator), new(*moderator.VideoModerator)),
)

// Data holds the optional usage ledger connections. Both are nil when no
// database is configured.
type Data struct {
	Pool *pgxpool.Pool // pgx/v5 pool for ledger writes
	DB   *sql.DB       // database/sql for migrations
}

// NewData opens the ledger database and applies migrations. Without a
// configured source the ledger is disabled.
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(logger)

	dbConf := c.GetDatabase()
	if dbConf == nil || dbConf.Source == "" {
		helper.Info("no database configured, usage ledger disabled")
		return &Data{}, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgxConfig, err := newPgxPoolConfig(dbConf)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database source: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver := dbConf.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dbConf.Source)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := RunMigrate(db); err != nil {
		pool.Close()
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	helper.Info("usage ledger ready")

	cleanup := func() {
		helper.Info("closing db connections")
		pool.Close()
		db.Close()
	}

	return &Data{
		Pool: pool,
		DB:   db,
	}, cleanup, nil
}

// newPgxPoolConfig creates a pgxpool.Config from the database section.
func newPgxPoolConfig(c *conf.Database) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.Source)
	if err != nil {
		return nil, err
	}
	pool := c.Pool
	if pool == nil {
		return cfg, nil
	}
	if pool.MaxOpenConns > 0 {
		cfg.MaxConns = pool.MaxOpenConns
	}
	if pool.MinIdleConns > 0 {
		cfg.MinConns = pool.MinIdleConns
	}
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = time.Duration(pool.MaxConnLifetime) * time.Minute
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = time.Duration(pool.MaxConnIdleTime) * time.Minute
	}

	return cfg, nil
}
