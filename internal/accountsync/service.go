// Package accountsync refreshes account state from the gateway in
// fixed-order stages and publishes cycle progress. Cycles never run
// concurrently for one account; a request arriving mid-cycle joins the
// cycle already in flight.
package accountsync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fxlink/internal/bus"
	"fxlink/internal/config"
	"fxlink/internal/gateway/exchange"
	"fxlink/internal/logger"
	"fxlink/internal/scheduler"
)

// State is the lifecycle of one sync cycle.
type State string

const (
	StateIdle      State = "idle"
	StateSyncing   State = "syncing"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Status is the current sync state of one account. Progress is
// monotonically non-decreasing within a cycle and resets to 0 when the
// next cycle starts.
type Status struct {
	AccountID   string
	State       State
	Progress    float64
	CompletedAt time.Time
	Err         error
}

// ConnectionChecker gates the verify stage.
type ConnectionChecker interface {
	IsConnected(accountID string) bool
}

// AccountLister names the accounts the interval loop should refresh.
type AccountLister interface {
	ConnectedAccounts() []string
}

// Sink receives the data fetched by completed stages. Data already
// applied stays applied even when a later stage fails.
type Sink interface {
	ApplyAccountSnapshot(snap exchange.AccountSnapshot)
	ApplyPositions(accountID string, positions []exchange.Position)
	ApplyOrders(accountID string, orders []exchange.Order)
}

const triggerTimeout = 30 * time.Second

// Service drives sync cycles, manually and on the auto-sync schedule.
type Service struct {
	fetcher  exchange.AccountFetcher
	conns    ConnectionChecker
	accounts AccountLister
	sink     Sink

	group     singleflight.Group
	statusHub *bus.Hub[Status]
	loop      *scheduler.IntervalLoop

	mu            sync.Mutex
	settings      config.SyncConfig
	status        map[string]Status
	lastCompleted map[string]time.Time
}

func NewService(fetcher exchange.AccountFetcher, conns ConnectionChecker, accounts AccountLister, sink Sink, settings config.SyncConfig) *Service {
	return &Service{
		fetcher:       fetcher,
		conns:         conns,
		accounts:      accounts,
		sink:          sink,
		settings:      settings,
		statusHub:     bus.NewHub[Status](16),
		loop:          scheduler.NewIntervalLoop(settings.IntervalDuration(), settings.AutoSync),
		status:        make(map[string]Status),
		lastCompleted: make(map[string]time.Time),
	}
}

// StatusHub is the sync status hub; late subscribers get the latest
// value.
func (s *Service) StatusHub() *bus.Hub[Status] { return s.statusHub }

// Status returns the current cycle state for an account.
func (s *Service) Status(accountID string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[accountID]; ok {
		return st
	}
	return Status{AccountID: accountID, State: StateIdle}
}

// TimeSinceLastSync reports how long ago the last successful cycle
// finished. The timestamp survives failed cycles.
func (s *Service) TimeSinceLastSync(accountID string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.lastCompleted[accountID]
	if !ok {
		return 0, false
	}
	return time.Since(at), true
}

// Settings returns the active sync settings.
func (s *Service) Settings() config.SyncConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies new sync settings at runtime.
func (s *Service) UpdateSettings(settings config.SyncConfig) {
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	s.loop.SetInterval(settings.IntervalDuration())
	s.loop.SetEnabled(settings.AutoSync)
	logger.Infof("sync settings updated: interval=%s auto=%v positions_only=%v",
		settings.Interval, settings.AutoSync, settings.PositionsOnly)
}

// Run drives the auto-sync interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	s.loop.Start(ctx, func() {
		for _, id := range s.accounts.ConnectedAccounts() {
			s.TriggerSync(id, "interval")
		}
	})
}

// NotifyForeground is the application-foreground edge trigger.
func (s *Service) NotifyForeground() {
	if !s.Settings().OnForeground {
		return
	}
	for _, id := range s.accounts.ConnectedAccounts() {
		s.TriggerSync(id, "foreground")
	}
}

// NotifyAccountSwitch is the active-account-switch edge trigger.
func (s *Service) NotifyAccountSwitch(accountID string) {
	if !s.Settings().OnAccountSwitch {
		return
	}
	s.TriggerSync(accountID, "account-switch")
}

// TriggerSync starts a cycle in the background; the caller does not
// wait for the result.
func (s *Service) TriggerSync(accountID, reason string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()
		if err := s.SyncAccount(ctx, accountID); err != nil {
			logger.Warnf("sync (%s) for %s failed: %v", reason, accountID, err)
		}
	}()
}

// SyncAccount runs one staged cycle: verify, account info, positions,
// orders. Concurrent calls for the same account share one cycle.
func (s *Service) SyncAccount(ctx context.Context, accountID string) error {
	_, err, _ := s.group.Do(accountID, func() (any, error) {
		return nil, s.runCycle(ctx, accountID)
	})
	return err
}

type stage struct {
	name string
	run  func(ctx context.Context, accountID string) error
}

func (s *Service) runCycle(ctx context.Context, accountID string) error {
	stages := []stage{
		{name: "verify", run: s.stageVerify},
		{name: "account", run: s.stageAccount},
		{name: "positions", run: s.stagePositions},
	}
	if !s.Settings().PositionsOnly {
		stages = append(stages, stage{name: "orders", run: s.stageOrders})
	}

	s.setStatus(Status{AccountID: accountID, State: StateSyncing, Progress: 0})
	for i, st := range stages {
		if err := st.run(ctx, accountID); err != nil {
			syncErr := &exchange.SyncError{Stage: st.name, Err: err}
			// completed-stage data stays applied; only the cycle is failed
			s.setStatus(Status{AccountID: accountID, State: StateFailed, Err: syncErr})
			return syncErr
		}
		progress := float64(i+1) / float64(len(stages))
		s.setStatus(Status{AccountID: accountID, State: StateSyncing, Progress: progress})
	}

	now := time.Now()
	s.mu.Lock()
	s.lastCompleted[accountID] = now
	s.mu.Unlock()
	s.setStatus(Status{AccountID: accountID, State: StateCompleted, Progress: 1, CompletedAt: now})
	return nil
}

func (s *Service) stageVerify(_ context.Context, accountID string) error {
	if !s.conns.IsConnected(accountID) {
		return exchange.ErrNotConnected
	}
	return nil
}

func (s *Service) stageAccount(ctx context.Context, accountID string) error {
	snap, err := s.fetcher.FetchAccount(ctx, accountID)
	if err != nil {
		return err
	}
	s.sink.ApplyAccountSnapshot(snap)
	return nil
}

func (s *Service) stagePositions(ctx context.Context, accountID string) error {
	positions, err := s.fetcher.FetchPositions(ctx, accountID)
	if err != nil {
		return err
	}
	s.sink.ApplyPositions(accountID, positions)
	return nil
}

func (s *Service) stageOrders(ctx context.Context, accountID string) error {
	orders, err := s.fetcher.FetchOrders(ctx, accountID)
	if err != nil {
		return err
	}
	s.sink.ApplyOrders(accountID, orders)
	return nil
}

func (s *Service) setStatus(st Status) {
	s.mu.Lock()
	s.status[st.AccountID] = st
	s.mu.Unlock()
	s.statusHub.Publish(st)
}
