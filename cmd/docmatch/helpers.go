package main

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/docmatch/docmatch/internal/config"
	"github.com/docmatch/docmatch/internal/engine"
	"github.com/docmatch/docmatch/internal/fx"
	"github.com/docmatch/docmatch/internal/mailbox"
	"github.com/docmatch/docmatch/internal/match"
	"github.com/docmatch/docmatch/internal/service"
	"github.com/docmatch/docmatch/internal/storage"
)

// newStorage opens the configured database.
func newStorage() (service.Storage, error) {
	dbPath, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

// newMailboxClient builds a Gmail-backed mailbox client from the configured
// token directory.
func newMailboxClient() (service.MailboxClient, error) {
	tokens, err := mailbox.NewFileTokenStore(config.TokenDir())
	if err != nil {
		return nil, err
	}
	return mailbox.NewGmailClient(tokens), nil
}

// newRateProvider seeds a static FX table from the fx.rates config map,
// e.g. fx.rates."USD/EUR": 0.92.
func newRateProvider() service.RateProvider {
	rates := make(map[string]float64)
	for pair, rate := range viper.GetStringMap("fx.rates") {
		if f, ok := rate.(float64); ok {
			rates[pair] = f
		}
	}
	return fx.NewStaticProvider(rates)
}

// buildEngine wires the full search stack on top of an open storage.
func buildEngine(store service.Storage) (*engine.Pipeline, *engine.SyncRunner, *match.Ranker, error) {
	mail, err := newMailboxClient()
	if err != nil {
		return nil, nil, nil, err
	}

	ranker := match.NewRanker(store, newRateProvider())
	cfg := engine.DefaultConfig()
	strategies := engine.DefaultStrategies(store, mail)
	pipeline := engine.NewPipeline(store, mail, ranker, strategies, cfg)
	syncRunner := engine.NewSyncRunner(store, mail, ranker, cfg)
	return pipeline, syncRunner, ranker, nil
}
