package conn

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fxlink/internal/bus"
	"fxlink/internal/gateway/exchange"
	"fxlink/internal/logger"
)

// ErrConnectAborted resolves a pending connect wait that was cut short
// by an explicit disconnect.
var ErrConnectAborted = errors.New("connect aborted by disconnect")

// Transport is one account's physical connection. Implemented by the
// streaming client; faked in tests.
type Transport interface {
	// Connect dispatches the attempt; outcome arrives via the callbacks
	// given to the factory.
	Connect(token string) error
	// Disconnect closes the session and blocks until torn down.
	Disconnect()
}

// TransportFactory builds the transport for an account, binding the
// manager's state callbacks to it.
type TransportFactory func(accountID string, onUp func(), onDown func(error)) Transport

// TokenExchanger trades an account secret for a gateway session token.
// Implemented by the REST client.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, accountID, secret string) (string, error)
}

// Account identifies one broker account plus the secret used when no
// stored access token exists.
type Account struct {
	ID     string
	Secret string
}

// ManagerConfig bounds the connect wait and the retry policy.
type ManagerConfig struct {
	ConnectTimeout time.Duration
	Backoff        Backoff
}

// Manager owns every account's connection state. All state transitions
// funnel through the single transition function below; subscribers see
// them on the status hub.
type Manager struct {
	creds     CredentialStore
	exchanger TokenExchanger
	factory   TransportFactory
	cfg       ManagerConfig
	states    *bus.Hub[Status]

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	account   Account
	token     string
	transport Transport
	status    Status
	retry     *time.Timer
	waiters   []chan Status
}

func NewManager(creds CredentialStore, exchanger TokenExchanger, factory TransportFactory, cfg ManagerConfig) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = 500 * time.Millisecond
	}
	if cfg.Backoff.Max <= 0 {
		cfg.Backoff.Max = 30 * time.Second
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff.MaxAttempts = 8
	}
	return &Manager{
		creds:     creds,
		exchanger: exchanger,
		factory:   factory,
		cfg:       cfg,
		states:    bus.NewHub[Status](16),
	}
}

// States is the connection state hub; late subscribers get the latest
// transition.
func (m *Manager) States() *bus.Hub[Status] { return m.states }

// Status returns the current state snapshot for an account.
func (m *Manager) Status(accountID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[accountID]; ok {
		return s.status
	}
	return Status{AccountID: accountID, State: StateDisconnected}
}

// IsConnected reports whether the account has an established session.
func (m *Manager) IsConnected(accountID string) bool {
	return m.Status(accountID).State == StateConnected
}

// ConnectedAccounts lists the accounts currently in Connected state.
func (m *Manager) ConnectedAccounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.status.State == StateConnected {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Register makes an account known to the manager without connecting it.
func (m *Manager) Register(acct Account) {
	m.mu.Lock()
	m.ensureSession(acct)
	m.mu.Unlock()
}

// ConnectToAccount resolves the auth token, dispatches the connection
// attempt and blocks until the account reaches Connected, the bounded
// timeout elapses, or ctx is cancelled. The wait is resolved by the
// state-change path, not by polling.
func (m *Manager) ConnectToAccount(ctx context.Context, acct Account) error {
	token, err := m.resolveToken(ctx, acct)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.ensureSession(acct)
	// a pending retry must dispatch the freshest token
	s.token = token
	switch s.status.State {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateDisconnecting:
		m.mu.Unlock()
		return fmt.Errorf("account %s is disconnecting", acct.ID)
	case StateConnecting, StateReconnecting:
		// already in flight: no second attempt, just wait
	default:
		m.transition(s, StateConnecting, 0, nil)
		if err := s.transport.Connect(token); err != nil {
			logger.Warnf("connect dispatch for %s: %v", acct.ID, err)
		}
	}
	waiter := make(chan Status, 1)
	s.waiters = append(s.waiters, waiter)
	m.mu.Unlock()

	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()
	select {
	case status := <-waiter:
		switch status.State {
		case StateConnected:
			return nil
		case StateFailed:
			return status.Err
		default:
			return ErrConnectAborted
		}
	case <-timer.C:
		m.dropWaiter(acct.ID, waiter)
		return &exchange.ConnectionError{Kind: exchange.ConnTimeout, AccountID: acct.ID,
			Err: fmt.Errorf("no connection after %s", m.cfg.ConnectTimeout)}
	case <-ctx.Done():
		m.dropWaiter(acct.ID, waiter)
		return ctx.Err()
	}
}

// DisconnectFromAccount tears the session down and cancels any pending
// reconnect timer so it cannot revive the connection.
func (m *Manager) DisconnectFromAccount(accountID string) {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	if !ok || s.status.State == StateDisconnected {
		m.mu.Unlock()
		return
	}
	s.stopRetry()
	m.transition(s, StateDisconnecting, 0, nil)
	transport := s.transport
	m.mu.Unlock()

	if transport != nil {
		transport.Disconnect()
	}

	m.mu.Lock()
	m.transition(s, StateDisconnected, 0, nil)
	m.mu.Unlock()
}

// ReconnectAll re-invokes ConnectToAccount for every registered account
// that has a stored token or a secret to exchange for one.
func (m *Manager) ReconnectAll(ctx context.Context) error {
	m.mu.Lock()
	accounts := make([]Account, 0, len(m.sessions))
	for _, s := range m.sessions {
		if _, ok := m.creds.AccessToken(s.account.ID); ok || s.account.Secret != "" {
			accounts = append(accounts, s.account)
		}
	}
	m.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	for _, acct := range accounts {
		acct := acct
		group.Go(func() error {
			return m.ConnectToAccount(ctx, acct)
		})
	}
	return group.Wait()
}

// Close disconnects every account.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.DisconnectFromAccount(id)
	}
}

func (m *Manager) resolveToken(ctx context.Context, acct Account) (string, error) {
	if token, ok := m.creds.AccessToken(acct.ID); ok {
		return token, nil
	}
	if acct.Secret == "" {
		return "", &exchange.ConnectionError{Kind: exchange.ConnNoAccessToken, AccountID: acct.ID}
	}
	token, err := m.exchanger.ExchangeToken(ctx, acct.ID, acct.Secret)
	if err != nil {
		return "", err
	}
	m.creds.SaveAccessToken(acct.ID, token)
	return token, nil
}

// ensureSession must be called with mu held.
func (m *Manager) ensureSession(acct Account) *session {
	if m.sessions == nil {
		m.sessions = make(map[string]*session)
	}
	if s, ok := m.sessions[acct.ID]; ok {
		if acct.Secret != "" {
			s.account.Secret = acct.Secret
		}
		return s
	}
	s := &session{
		account: acct,
		status:  Status{AccountID: acct.ID, State: StateDisconnected, ChangedAt: time.Now()},
	}
	s.transport = m.factory(acct.ID, func() { m.handleUp(acct.ID) }, func(err error) { m.handleDown(acct.ID, err) })
	m.sessions[acct.ID] = s
	return s
}

// transition is the single writer of connection state. Must be called
// with mu held.
func (m *Manager) transition(s *session, state State, attempt uint, err error) {
	prev := s.status
	s.status = Status{
		AccountID: s.account.ID,
		State:     state,
		Attempt:   attempt,
		Err:       err,
		ChangedAt: time.Now(),
	}
	logger.Infof("connection %s: %s -> %s attempt=%d", s.account.ID, prev.State, state, attempt)
	m.states.Publish(s.status)
	switch state {
	case StateConnected, StateFailed, StateDisconnected:
		for _, w := range s.waiters {
			w <- s.status
		}
		s.waiters = nil
	}
}

func (m *Manager) handleUp(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[accountID]
	if !ok {
		return
	}
	switch s.status.State {
	case StateConnecting, StateReconnecting:
		s.stopRetry()
		m.transition(s, StateConnected, 0, nil)
	default:
		// stale transport callback; disconnect already won
	}
}

func (m *Manager) handleDown(accountID string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[accountID]
	if !ok {
		return
	}
	switch s.status.State {
	case StateDisconnecting, StateDisconnected, StateFailed:
		return
	}
	if exchange.IsConnKind(cause, exchange.ConnAuthFailed) {
		// a fresh credential is needed; retrying the same token is futile
		m.transition(s, StateFailed, s.status.Attempt, cause)
		return
	}
	attempt := s.status.Attempt + 1
	if m.cfg.Backoff.Exhausted(attempt) {
		m.transition(s, StateFailed, s.status.Attempt, cause)
		return
	}
	m.transition(s, StateReconnecting, attempt, nil)
	delay := m.cfg.Backoff.Delay(attempt)
	s.retry = time.AfterFunc(delay, func() { m.retryConnect(accountID) })
}

func (m *Manager) retryConnect(accountID string) {
	m.mu.Lock()
	s, ok := m.sessions[accountID]
	if !ok || s.status.State != StateReconnecting {
		m.mu.Unlock()
		return
	}
	token := s.token
	transport := s.transport
	m.mu.Unlock()

	if err := transport.Connect(token); err != nil {
		logger.Warnf("reconnect dispatch for %s: %v", accountID, err)
	}
}

func (m *Manager) dropWaiter(accountID string, waiter chan Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[accountID]
	if !ok {
		return
	}
	for i, w := range s.waiters {
		if w == waiter {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *session) stopRetry() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}
