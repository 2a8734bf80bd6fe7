package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goldtrader/gold-ledger/config"
	"github.com/goldtrader/gold-ledger/ledger"
	"github.com/goldtrader/gold-ledger/ledger/store"
	"github.com/goldtrader/gold-ledger/logger"
	"github.com/goldtrader/gold-ledger/store/mongo"
	"github.com/goldtrader/gold-ledger/store/sqlite"
)

// backend is a store that the API can also wipe for demo scenarios.
type backend interface {
	ledger.TxStore
	Reset(ctx context.Context) error
}

// openBackend opens the store selected by DB_TYPE. The returned func
// releases it.
func openBackend(ctx context.Context, c *config.Config) (backend, func(), error) {
	log := logger.WithComponent("store")

	switch c.DBType {
	case config.DBMemory:
		log.Warn().Msg("using in-memory store, data is lost on exit")
		return store.NewMemory(), func() {}, nil

	case config.DBMongo:
		s, err := mongo.Connect(ctx, c.MongoURL, c.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("database", c.MongoDatabase).Msg("connected to mongo")
		return s, func() {
			if err := s.Close(context.Background()); err != nil {
				log.Error().Err(err).Msg("mongo disconnect failed")
			}
		}, nil

	case config.DBSQLite:
		if c.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.SQLitePath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		s, err := sqlite.New(c.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info().Str("path", c.SQLitePath).Msg("opened sqlite database")
		return s, func() {
			if err := s.Close(); err != nil {
				log.Error().Err(err).Msg("sqlite close failed")
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unsupported DB_TYPE %q", c.DBType)
}

// openEngine opens the backend and builds an engine over it.
func openEngine(ctx context.Context) (*ledger.Engine, backend, func(), error) {
	b, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	engine := ledger.NewEngine(b, cfg.LedgerOptions(), logger.WithComponent("ledger"))
	return engine, b, closeFn, nil
}
