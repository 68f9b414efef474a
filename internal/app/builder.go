package app

import (
	"context"
	"fmt"

	"fxlink/internal/accountsync"
	"fxlink/internal/config"
	"fxlink/internal/conn"
	"fxlink/internal/execution"
	"fxlink/internal/gateway/rest"
	"fxlink/internal/journal"
	"fxlink/internal/logger"
	"fxlink/internal/positions"
	transporthttp "fxlink/internal/transport/http"
)

// AppBuilder assembles the client core from configuration. The build
// steps are swappable for tests.
type AppBuilder struct {
	cfg *config.Config

	journalFn func(config.JournalConfig) (*journal.Store, error)
	watcherFn func(string, func(config.SyncConfig)) (*config.Watcher, error)

	configPath string
}

type AppBuilderOption func(*AppBuilder)

// WithConfigPath enables hot reload of the sync settings from the file.
func WithConfigPath(path string) AppBuilderOption {
	return func(b *AppBuilder) { b.configPath = path }
}

// WithoutJournal disables the SQLite execution journal.
func WithoutJournal() AppBuilderOption {
	return func(b *AppBuilder) {
		b.journalFn = func(config.JournalConfig) (*journal.Store, error) { return nil, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:       cfg,
		journalFn: buildJournal,
		watcherFn: config.NewWatcher,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildJournal(cfg config.JournalConfig) (*journal.Store, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	return journal.NewStore(cfg.Path)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	creds := conn.NewMemoryCredentialStore()
	for _, acct := range cfg.Accounts {
		if acct.Token != "" {
			creds.SaveAccessToken(acct.ID, acct.Token)
		}
	}

	restClient, err := rest.NewClient(cfg.Gateway, creds)
	if err != nil {
		return nil, fmt.Errorf("building gateway client: %w", err)
	}

	tracker := positions.NewTracker(cfg.Trading.ContractSize)
	sink := newSyncSink(tracker)
	streams := newStreamSet(cfg.Gateway.StreamURL, tracker, sink)

	manager := conn.NewManager(creds, restClient,
		func(accountID string, onUp func(), onDown func(error)) conn.Transport {
			return streams.create(accountID, onUp, onDown)
		},
		conn.ManagerConfig{
			ConnectTimeout: cfg.Reconnect.ConnectTimeout(),
			Backoff: conn.Backoff{
				Base:        cfg.Reconnect.BaseDelay(),
				Max:         cfg.Reconnect.MaxDelay(),
				MaxAttempts: uint(cfg.Reconnect.MaxAttempts),
			},
		})
	for _, acct := range cfg.Accounts {
		manager.Register(conn.Account{ID: acct.ID, Secret: acct.Secret})
	}

	syncs := accountsync.NewService(restClient, manager, manager, sink, cfg.Sync)

	journalStore, err := b.journalFn(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	var recorder execution.Recorder
	if journalStore != nil {
		recorder = journalStore
	}
	exec := execution.NewService(restClient, streams, manager, syncs, recorder, execution.Config{
		ContractSize:    cfg.Trading.ContractSize,
		DefaultLeverage: cfg.Trading.DefaultLeverage,
	})

	httpServer, err := transporthttp.NewServer(transporthttp.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Router: &transporthttp.Router{
			Conns:    manager,
			Exec:     exec,
			Syncs:    syncs,
			Tracker:  tracker,
			Journal:  journalStore,
			Accounts: sink,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	var watcher *config.Watcher
	if b.configPath != "" {
		watcher, err = b.watcherFn(b.configPath, syncs.UpdateSettings)
		if err != nil {
			logger.Warnf("config hot reload disabled: %v", err)
			watcher = nil
		}
	}

	return &App{
		cfg:     cfg,
		conns:   manager,
		streams: streams,
		tracker: tracker,
		syncs:   syncs,
		exec:    exec,
		journal: journalStore,
		http:    httpServer,
		watcher: watcher,
	}, nil
}
