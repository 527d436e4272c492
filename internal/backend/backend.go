// Package backend opens the remote collection selected by the settings.
package backend

import (
	"context"
	"fmt"

	"todosync/internal/backend/googletasks"
	"todosync/internal/backend/redisstore"
	"todosync/internal/backend/sqlitestore"
	"todosync/internal/config"
	"todosync/internal/credential"
	"todosync/internal/service"
)

// Handle is an opened backend. Close releases its connections.
type Handle struct {
	service.Collection
	service.IdentityProvider
	close func() error
}

// Close releases the backend's connections.
func (h *Handle) Close() error {
	if h.close == nil {
		return nil
	}
	return h.close()
}

// Open builds the backend named by cfg.Settings.Backend. The signed-in
// identity always comes from the identity file written at login.
func Open(ctx context.Context, cfg *config.Config) (*Handle, error) {
	ids := &credential.IdentityFile{Path: cfg.IdentityPath()}

	switch cfg.Settings.Backend {
	case config.BackendGoogleTasks:
		tokens, err := credential.Open(cfg)
		if err != nil {
			return nil, err
		}
		client, err := googletasks.New(ctx, cfg, tokens, ids)
		if err != nil {
			return nil, err
		}
		return &Handle{Collection: client, IdentityProvider: ids}, nil

	case config.BackendSQLite:
		store, err := sqlitestore.Open(cfg.DatabasePath(), sqlitestore.Options{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		return &Handle{Collection: store, IdentityProvider: ids, close: store.Close}, nil

	case config.BackendRedis:
		store := redisstore.New(redisstore.NewClient(cfg.Settings.Redis), cfg.Logger)
		return &Handle{Collection: store, IdentityProvider: ids, close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Settings.Backend)
	}
}
