package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxlink/internal/gateway/exchange"
)

type fakeTransport struct {
	mu        sync.Mutex
	connects  int
	lastToken string
	autoUp    bool
	onUp      func()
	onDown    func(error)
}

func (t *fakeTransport) Connect(token string) error {
	t.mu.Lock()
	t.connects++
	t.lastToken = token
	auto := t.autoUp
	t.mu.Unlock()
	if auto {
		go t.onUp()
	}
	return nil
}

func (t *fakeTransport) Disconnect() {}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *fakeTransport) tokenSeen() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastToken
}

func (t *fakeTransport) setAutoUp(v bool) {
	t.mu.Lock()
	t.autoUp = v
	t.mu.Unlock()
}

// transportHub hands one fake transport per account to the manager.
type transportHub struct {
	mu         sync.Mutex
	autoUp     bool
	transports map[string]*fakeTransport
}

func (h *transportHub) factory(accountID string, onUp func(), onDown func(error)) Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	ft := &fakeTransport{autoUp: h.autoUp, onUp: onUp, onDown: onDown}
	h.transports[accountID] = ft
	return ft
}

func (h *transportHub) get(accountID string) *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[accountID]
}

type fakeExchanger struct {
	mu    sync.Mutex
	token string
	err   error
	calls int
}

func (e *fakeExchanger) ExchangeToken(_ context.Context, _, _ string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.token, e.err
}

func (e *fakeExchanger) setToken(token string) {
	e.mu.Lock()
	e.token = token
	e.mu.Unlock()
}

func newTestManager(cfg ManagerConfig, autoUp bool) (*Manager, *transportHub, *fakeExchanger) {
	th := &transportHub{autoUp: autoUp, transports: make(map[string]*fakeTransport)}
	ex := &fakeExchanger{token: "tok-1"}
	m := NewManager(NewMemoryCredentialStore(), ex, th.factory, cfg)
	return m, th, ex
}

func waitForState(t *testing.T, m *Manager, accountID string, want State) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := m.Status(accountID); st.State == want {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	st := m.Status(accountID)
	t.Fatalf("account %s never reached %s, still %s", accountID, want, st.State)
	return st
}

func TestConnectReachesConnected(t *testing.T) {
	m, th, ex := newTestManager(ManagerConfig{ConnectTimeout: time.Second}, true)

	err := m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s3cret"})
	require.NoError(t, err)
	ft := th.get("acct-1")

	st := m.Status("acct-1")
	assert.Equal(t, StateConnected, st.State)
	assert.Zero(t, st.Attempt)
	assert.Equal(t, 1, ft.connectCount())
	assert.Equal(t, 1, ex.calls)
	assert.True(t, m.IsConnected("acct-1"))
	assert.Equal(t, []string{"acct-1"}, m.ConnectedAccounts())
}

func TestConnectIsIdempotentWhenConnected(t *testing.T) {
	m, th, ex := newTestManager(ManagerConfig{ConnectTimeout: time.Second}, true)
	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1"}))
	assert.Equal(t, 1, th.get("acct-1").connectCount())
	// token cached after the first exchange
	assert.Equal(t, 1, ex.calls)
}

func TestConnectWithoutCredentials(t *testing.T) {
	m, _, _ := newTestManager(ManagerConfig{ConnectTimeout: time.Second}, true)

	err := m.ConnectToAccount(context.Background(), Account{ID: "acct-1"})
	var connErr *exchange.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, exchange.ConnNoAccessToken, connErr.Kind)
}

func TestConnectTimesOut(t *testing.T) {
	m, _, _ := newTestManager(ManagerConfig{ConnectTimeout: 30 * time.Millisecond}, false)

	err := m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"})
	var connErr *exchange.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, exchange.ConnTimeout, connErr.Kind)
}

func TestConnectHonorsContextCancel(t *testing.T) {
	m, _, _ := newTestManager(ManagerConfig{ConnectTimeout: time.Minute}, false)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := m.ConnectToAccount(ctx, Account{ID: "acct-1", Secret: "s"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransportLossSchedulesReconnect(t *testing.T) {
	m, th, _ := newTestManager(ManagerConfig{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Base: 5 * time.Millisecond, Max: 10 * time.Millisecond, MaxAttempts: 8},
	}, true)
	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	ft := th.get("acct-1")
	ft.setAutoUp(false)
	ft.onDown(errors.New("broken pipe"))

	st := m.Status("acct-1")
	assert.Equal(t, StateReconnecting, st.State)
	assert.Equal(t, uint(1), st.Attempt)

	// retry timer re-dispatches the transport
	deadline := time.Now().Add(time.Second)
	for ft.connectCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.GreaterOrEqual(t, ft.connectCount(), 2)
}

func TestPendingReconnectUsesFreshToken(t *testing.T) {
	th := &transportHub{autoUp: true, transports: make(map[string]*fakeTransport)}
	ex := &fakeExchanger{token: "tok-1"}
	creds := NewMemoryCredentialStore()
	m := NewManager(creds, ex, th.factory, ManagerConfig{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Base: 200 * time.Millisecond, Max: time.Second, MaxAttempts: 8},
	})
	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	ft := th.get("acct-1")
	require.Equal(t, "tok-1", ft.tokenSeen())
	ft.onDown(errors.New("broken pipe"))
	require.Equal(t, StateReconnecting, m.Status("acct-1").State)

	// the cached token was revoked; the next exchange yields a new one
	creds.SaveAccessToken("acct-1", "")
	ex.setToken("tok-2")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"})
	}()

	// the pending retry must dispatch the fresh token, not the revoked one
	deadline := time.Now().Add(2 * time.Second)
	for ft.connectCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, ft.connectCount(), 2)
	assert.Equal(t, "tok-2", ft.tokenSeen())
	wg.Wait()
}

func TestAttemptResetsOnlyOnConnected(t *testing.T) {
	m, th, _ := newTestManager(ManagerConfig{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Base: time.Hour, Max: time.Hour, MaxAttempts: 8},
	}, true)
	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	ft := th.get("acct-1")
	ft.onDown(errors.New("loss one"))
	require.Equal(t, uint(1), m.Status("acct-1").Attempt)
	ft.onDown(errors.New("loss two"))
	require.Equal(t, uint(2), m.Status("acct-1").Attempt)

	ft.onUp()
	st := waitForState(t, m, "acct-1", StateConnected)
	assert.Zero(t, st.Attempt)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	cause := errors.New("gateway unreachable")
	m, th, _ := newTestManager(ManagerConfig{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Base: time.Hour, Max: time.Hour, MaxAttempts: 2},
	}, true)
	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	ft := th.get("acct-1")
	ft.onDown(cause)
	ft.onDown(cause)
	require.Equal(t, StateReconnecting, m.Status("acct-1").State)

	ft.onDown(cause)
	st := m.Status("acct-1")
	assert.Equal(t, StateFailed, st.State)
	assert.ErrorIs(t, st.Err, cause)
}

func TestAuthFailureGoesStraightToFailed(t *testing.T) {
	m, th, _ := newTestManager(ManagerConfig{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Base: time.Millisecond, Max: time.Millisecond, MaxAttempts: 8},
	}, true)
	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	ft := th.get("acct-1")
	before := ft.connectCount()
	ft.onDown(&exchange.ConnectionError{Kind: exchange.ConnAuthFailed, AccountID: "acct-1",
		Err: fmt.Errorf("token revoked")})

	st := m.Status("acct-1")
	assert.Equal(t, StateFailed, st.State)

	// no retry for a dead credential
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, ft.connectCount())
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	m, th, _ := newTestManager(ManagerConfig{
		ConnectTimeout: time.Second,
		Backoff:        Backoff{Base: 30 * time.Millisecond, Max: time.Second, MaxAttempts: 8},
	}, true)
	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	ft := th.get("acct-1")
	ft.setAutoUp(false)
	ft.onDown(errors.New("loss"))
	require.Equal(t, StateReconnecting, m.Status("acct-1").State)
	before := ft.connectCount()

	m.DisconnectFromAccount("acct-1")
	assert.Equal(t, StateDisconnected, m.Status("acct-1").State)

	// the scheduled retry must not fire after disconnect
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, before, ft.connectCount())
}

func TestDisconnectWhenAlreadyDisconnectedIsANoop(t *testing.T) {
	m, _, _ := newTestManager(ManagerConfig{ConnectTimeout: time.Second}, true)
	m.Register(Account{ID: "acct-1"})
	m.DisconnectFromAccount("acct-1")
	assert.Equal(t, StateDisconnected, m.Status("acct-1").State)
}

func TestStatesHubSeesTransitions(t *testing.T) {
	m, _, _ := newTestManager(ManagerConfig{ConnectTimeout: time.Second}, true)
	ch, cancel := m.States().Subscribe()
	defer cancel()

	require.NoError(t, m.ConnectToAccount(context.Background(), Account{ID: "acct-1", Secret: "s"}))

	first := <-ch
	assert.Equal(t, StateConnecting, first.State)
	second := <-ch
	assert.Equal(t, StateConnected, second.State)
}

func TestReconnectAllUsesStoredCredentials(t *testing.T) {
	m, th, _ := newTestManager(ManagerConfig{ConnectTimeout: time.Second}, true)
	m.Register(Account{ID: "acct-1", Secret: "s"})
	m.Register(Account{ID: "acct-2"}) // nothing stored: skipped

	require.NoError(t, m.ReconnectAll(context.Background()))
	assert.True(t, m.IsConnected("acct-1"))
	assert.False(t, m.IsConnected("acct-2"))
	assert.Equal(t, 1, th.get("acct-1").connectCount())
	assert.Equal(t, 0, th.get("acct-2").connectCount())
}
