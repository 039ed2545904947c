package main

import (
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/trialgate/trialgate/internal/config"
	"github.com/trialgate/trialgate/internal/metrics"
	"github.com/trialgate/trialgate/internal/persistence"
	"github.com/trialgate/trialgate/internal/persistence/postgres"
	"github.com/trialgate/trialgate/internal/registry"
)

// app holds the wired dependencies shared by every subcommand.
type app struct {
	cfg     *config.Config
	db      *sqlx.DB
	metrics *metrics.Registry

	trials persistence.TrialsRepo
	scores persistence.ScoresRepo
}

// newApp loads config, connects the database, and builds the repos.
func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	db, err := postgres.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		db:      db,
		metrics: metrics.NewRegistry(),
		trials:  postgres.NewTrialsRepo(db),
		scores:  postgres.NewScoresRepo(db),
	}, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// registryClient builds the page-cached registry client when Redis is
// configured, a plain one otherwise.
func (a *app) registryClient() *registry.Client {
	opts := []registry.Option{registry.WithMetrics(a.metrics)}
	if a.cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		opts = append(opts, registry.WithPageCache(registry.NewRedisPageCache(rdb)))
	}
	return registry.NewClient(a.cfg.Registry, opts...)
}
