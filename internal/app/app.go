// Package app wires configuration, gateway clients, the connection
// manager and the services together and runs them as one unit.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"fxlink/internal/accountsync"
	"fxlink/internal/config"
	"fxlink/internal/conn"
	"fxlink/internal/execution"
	"fxlink/internal/journal"
	"fxlink/internal/logger"
	"fxlink/internal/positions"
	transporthttp "fxlink/internal/transport/http"
)

// App owns the assembled services and their lifecycle.
type App struct {
	cfg     *config.Config
	conns   *conn.Manager
	streams *streamSet
	tracker *positions.Tracker
	syncs   *accountsync.Service
	exec    *execution.Service
	journal *journal.Store
	http    *transporthttp.Server
	watcher *config.Watcher
}

// NewApp builds the application from configuration without starting it.
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg, opts...)
}

// Connections exposes the connection manager (replay and test harnesses).
func (a *App) Connections() *conn.Manager {
	if a == nil {
		return nil
	}
	return a.conns
}

// Run starts the HTTP surface, the sync loop and the stream consumers,
// reconnects every account with stored credentials, and blocks until
// ctx is cancelled or a service fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)

	a.streams.start(ctx)
	if a.watcher != nil {
		a.watcher.Start()
	}

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		a.syncs.Run(ctx)
		return nil
	})
	group.Go(func() error {
		if err := a.conns.ReconnectAll(ctx); err != nil {
			// accounts keep retrying on their own; startup is not aborted
			logger.Warnf("initial reconnect incomplete: %v", err)
		}
		return nil
	})

	err := group.Wait()
	a.conns.Close()
	if a.journal != nil {
		if cerr := a.journal.Close(); cerr != nil {
			logger.Warnf("closing journal: %v", cerr)
		}
	}
	return err
}
