package accountsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxlink/internal/config"
	"fxlink/internal/gateway/exchange"
)

type fakeFetcher struct {
	mu            sync.Mutex
	accountCalls  int
	positionCalls int
	orderCalls    int
	accountErr    error
	positionsErr  error
	ordersErr     error
	block         chan struct{}
	snap          exchange.AccountSnapshot
	positions     []exchange.Position
	orders        []exchange.Order
}

func (f *fakeFetcher) FetchAccount(_ context.Context, accountID string) (exchange.AccountSnapshot, error) {
	f.mu.Lock()
	f.accountCalls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.accountErr != nil {
		return exchange.AccountSnapshot{}, f.accountErr
	}
	snap := f.snap
	snap.AccountID = accountID
	return snap, nil
}

func (f *fakeFetcher) FetchPositions(_ context.Context, _ string) ([]exchange.Position, error) {
	f.mu.Lock()
	f.positionCalls++
	f.mu.Unlock()
	return f.positions, f.positionsErr
}

func (f *fakeFetcher) FetchOrders(_ context.Context, _ string) ([]exchange.Order, error) {
	f.mu.Lock()
	f.orderCalls++
	f.mu.Unlock()
	return f.orders, f.ordersErr
}

func (f *fakeFetcher) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountCalls, f.positionCalls, f.orderCalls
}

type fakeConns struct{ connected bool }

func (c *fakeConns) IsConnected(string) bool { return c.connected }

type fakeLister struct{ ids []string }

func (l *fakeLister) ConnectedAccounts() []string { return l.ids }

type recordingSink struct {
	mu        sync.Mutex
	snapshots []exchange.AccountSnapshot
	positions [][]exchange.Position
	orders    [][]exchange.Order
}

func (s *recordingSink) ApplyAccountSnapshot(snap exchange.AccountSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
}

func (s *recordingSink) ApplyPositions(_ string, list []exchange.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, list)
}

func (s *recordingSink) ApplyOrders(_ string, list []exchange.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, list)
}

func newTestService(fetcher *fakeFetcher, settings config.SyncConfig) (*Service, *recordingSink) {
	sink := &recordingSink{}
	svc := NewService(fetcher, &fakeConns{connected: true}, &fakeLister{ids: []string{"acct-1"}}, sink, settings)
	return svc, sink
}

func TestSyncAccountRunsAllStages(t *testing.T) {
	fetcher := &fakeFetcher{
		snap:      exchange.AccountSnapshot{Balance: 1000},
		positions: []exchange.Position{{ID: "p-1"}},
		orders:    []exchange.Order{{ID: "o-1"}},
	}
	svc, sink := newTestService(fetcher, config.SyncConfig{Interval: "1m"})

	require.NoError(t, svc.SyncAccount(context.Background(), "acct-1"))

	a, p, o := fetcher.counts()
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, p)
	assert.Equal(t, 1, o)
	assert.Len(t, sink.snapshots, 1)
	assert.Len(t, sink.positions, 1)
	assert.Len(t, sink.orders, 1)

	st := svc.Status("acct-1")
	assert.Equal(t, StateCompleted, st.State)
	assert.Equal(t, 1.0, st.Progress)
	assert.False(t, st.CompletedAt.IsZero())

	since, ok := svc.TimeSinceLastSync("acct-1")
	require.True(t, ok)
	assert.Less(t, since, time.Second)
}

func TestPositionsOnlySkipsOrders(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc, sink := newTestService(fetcher, config.SyncConfig{Interval: "1m", PositionsOnly: true})

	require.NoError(t, svc.SyncAccount(context.Background(), "acct-1"))

	_, _, o := fetcher.counts()
	assert.Zero(t, o)
	assert.Empty(t, sink.orders)
	assert.Equal(t, StateCompleted, svc.Status("acct-1").State)
}

func TestProgressIsMonotoneAndResets(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc, _ := newTestService(fetcher, config.SyncConfig{Interval: "1m"})
	ch, cancel := svc.StatusHub().Subscribe()
	defer cancel()

	require.NoError(t, svc.SyncAccount(context.Background(), "acct-1"))

	var seen []Status
	for len(seen) < 6 {
		seen = append(seen, <-ch)
	}
	// one cycle: syncing 0, .25, .5, .75, 1, completed
	last := -1.0
	for _, st := range seen[:5] {
		assert.Equal(t, StateSyncing, st.State)
		assert.GreaterOrEqual(t, st.Progress, last)
		last = st.Progress
	}
	assert.Equal(t, StateCompleted, seen[5].State)

	// next cycle starts back at zero
	require.NoError(t, svc.SyncAccount(context.Background(), "acct-1"))
	first := <-ch
	assert.Equal(t, StateSyncing, first.State)
	assert.Zero(t, first.Progress)
}

func TestStageFailureKeepsCompletedData(t *testing.T) {
	fetcher := &fakeFetcher{positionsErr: errors.New("gateway 500")}
	svc, sink := newTestService(fetcher, config.SyncConfig{Interval: "1m"})

	err := svc.SyncAccount(context.Background(), "acct-1")
	var syncErr *exchange.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "positions", syncErr.Stage)

	// the account stage completed and its data stayed applied
	assert.Len(t, sink.snapshots, 1)
	assert.Empty(t, sink.positions)
	_, _, o := fetcher.counts()
	assert.Zero(t, o)

	st := svc.Status("acct-1")
	assert.Equal(t, StateFailed, st.State)
	require.Error(t, st.Err)
}

func TestFailureDoesNotResetLastCompleted(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc, _ := newTestService(fetcher, config.SyncConfig{Interval: "1m"})

	require.NoError(t, svc.SyncAccount(context.Background(), "acct-1"))
	before, ok := svc.TimeSinceLastSync("acct-1")
	require.True(t, ok)

	fetcher.accountErr = errors.New("gateway down")
	require.Error(t, svc.SyncAccount(context.Background(), "acct-1"))

	after, ok := svc.TimeSinceLastSync("acct-1")
	require.True(t, ok)
	assert.GreaterOrEqual(t, after, before)
}

func TestVerifyStageRequiresConnection(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := &recordingSink{}
	svc := NewService(fetcher, &fakeConns{connected: false}, &fakeLister{}, sink, config.SyncConfig{Interval: "1m"})

	err := svc.SyncAccount(context.Background(), "acct-1")
	var syncErr *exchange.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "verify", syncErr.Stage)
	assert.ErrorIs(t, err, exchange.ErrNotConnected)

	a, p, o := fetcher.counts()
	assert.Zero(t, a+p+o)
}

func TestConcurrentSyncsShareOneCycle(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	svc, _ := newTestService(fetcher, config.SyncConfig{Interval: "1m"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = svc.SyncAccount(context.Background(), "acct-1")
	}()

	// first caller is mid-cycle before the second arrives
	require.Eventually(t, func() bool {
		a, _, _ := fetcher.counts()
		return a == 1
	}, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = svc.SyncAccount(context.Background(), "acct-1")
	}()
	time.Sleep(50 * time.Millisecond)
	close(fetcher.block)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	a, _, _ := fetcher.counts()
	assert.Equal(t, 1, a)
}

func TestNotifyAccountSwitchHonorsToggle(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc, _ := newTestService(fetcher, config.SyncConfig{Interval: "1m", OnAccountSwitch: true})

	svc.NotifyAccountSwitch("acct-1")
	require.Eventually(t, func() bool {
		a, _, _ := fetcher.counts()
		return a == 1
	}, time.Second, time.Millisecond)

	settings := svc.Settings()
	settings.OnAccountSwitch = false
	svc.UpdateSettings(settings)

	svc.NotifyAccountSwitch("acct-1")
	time.Sleep(50 * time.Millisecond)
	a, _, _ := fetcher.counts()
	assert.Equal(t, 1, a)
}

func TestNotifyForegroundHonorsToggle(t *testing.T) {
	fetcher := &fakeFetcher{}
	svc, _ := newTestService(fetcher, config.SyncConfig{Interval: "1m", OnForeground: true})

	svc.NotifyForeground()
	require.Eventually(t, func() bool {
		a, _, _ := fetcher.counts()
		return a == 1
	}, time.Second, time.Millisecond)
}

func TestStatusDefaultsToIdle(t *testing.T) {
	svc, _ := newTestService(&fakeFetcher{}, config.SyncConfig{Interval: "1m"})
	st := svc.Status("acct-9")
	assert.Equal(t, StateIdle, st.State)
	_, ok := svc.TimeSinceLastSync("acct-9")
	assert.False(t, ok)
}
