package app

import (
	"context"
	"sync"

	"fxlink/internal/gateway/exchange"
	"fxlink/internal/gateway/stream"
	"fxlink/internal/positions"
)

// orderSink lands single pending-order updates from the stream.
type orderSink interface {
	UpsertOrder(order exchange.Order)
}

// streamSet tracks the per-account streaming clients created by the
// connection manager's transport factory and feeds their hubs into the
// position tracker and the order cache.
type streamSet struct {
	streamURL string
	tracker   *positions.Tracker
	orders    orderSink

	mu      sync.Mutex
	clients map[string]*stream.Client
	ctx     context.Context
}

func newStreamSet(streamURL string, tracker *positions.Tracker, orders orderSink) *streamSet {
	return &streamSet{
		streamURL: streamURL,
		tracker:   tracker,
		orders:    orders,
		clients:   make(map[string]*stream.Client),
	}
}

// create builds the streaming client for one account. If consumption is
// already running, the new client's hubs are drained immediately.
func (s *streamSet) create(accountID string, onUp func(), onDown func(error)) *stream.Client {
	client := stream.NewClient(s.streamURL, accountID, stream.Options{OnUp: onUp, OnDown: onDown})
	s.mu.Lock()
	s.clients[accountID] = client
	ctx := s.ctx
	s.mu.Unlock()
	if ctx != nil {
		s.consume(ctx, client)
	}
	return client
}

func (s *streamSet) get(accountID string) *stream.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[accountID]
}

// start begins draining every client's hubs; clients created later are
// drained as they appear.
func (s *streamSet) start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	clients := make([]*stream.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		s.consume(ctx, c)
	}
}

func (s *streamSet) consume(ctx context.Context, client *stream.Client) {
	quotes, cancelQuotes := client.Quotes().Subscribe()
	events, cancelEvents := client.PositionEvents().Subscribe()
	go func() {
		defer cancelQuotes()
		defer cancelEvents()
		s.tracker.Consume(ctx, quotes, events)
	}()

	orders, cancelOrders := client.Orders().Subscribe()
	go func() {
		defer cancelOrders()
		for {
			select {
			case <-ctx.Done():
				return
			case o, ok := <-orders:
				if !ok {
					return
				}
				s.orders.UpsertOrder(o)
			}
		}
	}()
}

// LatestQuote serves the cached tick from the account's session.
func (s *streamSet) LatestQuote(accountID, sym string) (exchange.Quote, bool) {
	client := s.get(accountID)
	if client == nil {
		return exchange.Quote{}, false
	}
	return client.LatestQuote(sym)
}

// LatestAccountSnapshot serves the cached snapshot from the account's
// session.
func (s *streamSet) LatestAccountSnapshot(accountID string) (exchange.AccountSnapshot, bool) {
	client := s.get(accountID)
	if client == nil {
		return exchange.AccountSnapshot{}, false
	}
	return client.LatestAccountSnapshot()
}

// syncSink lands the data fetched by sync cycles: positions reconcile
// into the tracker, account snapshots and working orders go into the
// in-memory cache the HTTP surface reads.
type syncSink struct {
	tracker *positions.Tracker

	mu        sync.RWMutex
	snapshots map[string]exchange.AccountSnapshot
	orders    map[string][]exchange.Order
}

func newSyncSink(tracker *positions.Tracker) *syncSink {
	return &syncSink{
		tracker:   tracker,
		snapshots: make(map[string]exchange.AccountSnapshot),
		orders:    make(map[string][]exchange.Order),
	}
}

func (s *syncSink) ApplyAccountSnapshot(snap exchange.AccountSnapshot) {
	s.mu.Lock()
	s.snapshots[snap.AccountID] = snap
	s.mu.Unlock()
}

func (s *syncSink) ApplyPositions(accountID string, list []exchange.Position) {
	s.tracker.Reconcile(accountID, list)
}

func (s *syncSink) ApplyOrders(accountID string, orders []exchange.Order) {
	s.mu.Lock()
	s.orders[accountID] = orders
	s.mu.Unlock()
}

// UpsertOrder folds a single streamed order update into the cached
// list. The next sync cycle remains the source of truth; this only
// keeps the list fresh between cycles.
func (s *syncSink) UpsertOrder(order exchange.Order) {
	if order.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.orders[order.AccountID]
	for i, existing := range list {
		if existing.ID == order.ID {
			list[i] = order
			return
		}
	}
	s.orders[order.AccountID] = append(list, order)
}

// Snapshot returns the last synced account snapshot.
func (s *syncSink) Snapshot(accountID string) (exchange.AccountSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[accountID]
	return snap, ok
}

// Orders returns the last synced working orders.
func (s *syncSink) Orders(accountID string) []exchange.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orders[accountID]
}
