package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/dunning/pkg/persistence"
	"github.com/dukex/dunning/pkg/persistence/memory"
	"github.com/dukex/dunning/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql"}

// NewPersistence opens the store named by the URL scheme. A fixtures path seeds the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, fixturesPath string) (persistence.Persistence, error) {
	var (
		store persistence.Persistence
		err   error
	)

	switch parsePersistenceProvider(databaseURL) {
	case "memory":
		store, err = memory.NewPersistence(logger)
	case "postgres", "postgresql":
		store, err = postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported persistence provider in %q, expected one of %v",
			databaseURL, supportedPersistenceProviders)
	}

	if err != nil {
		return nil, err
	}

	if fixturesPath == "" {
		return store, nil
	}

	fixtures, err := persistence.LoadFixtures(fixturesPath)
	if err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	if err := persistence.Seed(ctx, store, fixtures); err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	logger.InfoContext(ctx, "Seeded store from fixtures", "path", fixturesPath, "debts", len(fixtures.Debts))

	return store, nil
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return strings.ToLower(provider)
}
