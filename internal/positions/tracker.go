// Package positions maintains the live set of tracked positions and
// their profit figures. The tracker is fed by the streaming client's
// quote and position-event hubs and reconciled against full position
// lists during account sync.
package positions

import (
	"context"
	"sort"
	"sync"
	"time"

	"fxlink/internal/bus"
	"fxlink/internal/gateway/exchange"
	"fxlink/internal/logger"
)

// TrackedPosition is one open trade enriched with live P&L. Values are
// recomputed in place on every matching tick; recomputation is
// idempotent, so replaying a tick never drifts the numbers.
type TrackedPosition struct {
	ID                  string
	AccountID           string
	Symbol              string
	Side                exchange.Side
	Volume              float64
	OpenPrice           float64
	StopLoss            float64
	TakeProfit          float64
	OpenTime            time.Time
	Bid                 float64
	Ask                 float64
	NetPL               float64
	UnrealizedPLPercent float64
	PipsProfit          float64
	Commission          float64
	Swap                float64
	RiskRewardRatio     float64
}

// Tracker indexes positions by symbol so a tick touches only the
// positions quoted in it, not the whole book.
type Tracker struct {
	contractSize float64

	mu       sync.RWMutex
	bySymbol map[string]map[string]*TrackedPosition
	byID     map[string]*TrackedPosition

	updates *bus.Hub[TrackedPosition]
}

func NewTracker(contractSize float64) *Tracker {
	if contractSize <= 0 {
		contractSize = 100_000
	}
	return &Tracker{
		contractSize: contractSize,
		bySymbol:     make(map[string]map[string]*TrackedPosition),
		byID:         make(map[string]*TrackedPosition),
		updates:      bus.NewHub[TrackedPosition](64),
	}
}

// Updates is the hub carrying recomputed position snapshots.
func (t *Tracker) Updates() *bus.Hub[TrackedPosition] { return t.updates }

// Consume drains one account's quote and position-event channels until
// ctx is done. Run it once per connected account.
func (t *Tracker) Consume(ctx context.Context, quotes <-chan exchange.Quote, events <-chan exchange.PositionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			t.ApplyQuote(q)
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.ApplyEvent(ev)
		}
	}
}

// ApplyQuote recomputes P&L for every position on the quote's symbol.
func (t *Tracker) ApplyQuote(q exchange.Quote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pos := range t.bySymbol[q.Symbol] {
		recompute(pos, q, t.contractSize)
		t.updates.Publish(*pos)
	}
}

// ApplyEvent adds, updates or removes a position per the gateway's
// lifecycle report.
func (t *Tracker) ApplyEvent(ev exchange.PositionEvent) {
	switch ev.Kind {
	case exchange.PositionOpened:
		t.add(ev.Position)
	case exchange.PositionUpdated:
		t.applyModify(ev.Position)
	case exchange.PositionClosed:
		t.remove(ev.Position.ID)
	default:
		logger.Debugf("position tracker: unknown event kind %q", ev.Kind)
	}
}

// Reconcile replaces one account's tracked set with the gateway's full
// position list, keeping live P&L for positions that survive.
func (t *Tracker) Reconcile(accountID string, list []exchange.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := make(map[string]bool, len(list))
	for _, p := range list {
		keep[p.ID] = true
		if existing, ok := t.byID[p.ID]; ok {
			existing.Volume = p.Volume
			existing.StopLoss = p.StopLoss
			existing.TakeProfit = p.TakeProfit
			existing.Commission = p.Commission
			existing.Swap = p.Swap
			existing.RiskRewardRatio = riskReward(p)
			continue
		}
		t.insertLocked(p)
	}
	for id, pos := range t.byID {
		if pos.AccountID == accountID && !keep[id] {
			t.removeLocked(id)
		}
	}
}

// Snapshot returns the tracked positions ordered by open time.
func (t *Tracker) Snapshot() []TrackedPosition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedPosition, 0, len(t.byID))
	for _, pos := range t.byID {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

// Get returns one tracked position by id.
func (t *Tracker) Get(id string) (TrackedPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if pos, ok := t.byID[id]; ok {
		return *pos, true
	}
	return TrackedPosition{}, false
}

func (t *Tracker) add(p exchange.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[p.ID]; ok {
		return
	}
	t.insertLocked(p)
}

func (t *Tracker) insertLocked(p exchange.Position) {
	pos := &TrackedPosition{
		ID:              p.ID,
		AccountID:       p.AccountID,
		Symbol:          p.Symbol,
		Side:            p.Side,
		Volume:          p.Volume,
		OpenPrice:       p.OpenPrice,
		StopLoss:        p.StopLoss,
		TakeProfit:      p.TakeProfit,
		OpenTime:        p.OpenTime,
		Commission:      p.Commission,
		Swap:            p.Swap,
		RiskRewardRatio: riskReward(p),
	}
	if t.bySymbol[p.Symbol] == nil {
		t.bySymbol[p.Symbol] = make(map[string]*TrackedPosition)
	}
	t.bySymbol[p.Symbol][p.ID] = pos
	t.byID[p.ID] = pos
	t.updates.Publish(*pos)
}

// applyModify updates protective levels and carried costs without
// touching P&L; the next tick recomputes it.
func (t *Tracker) applyModify(p exchange.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.byID[p.ID]
	if !ok {
		t.insertLocked(p)
		return
	}
	pos.StopLoss = p.StopLoss
	pos.TakeProfit = p.TakeProfit
	if p.Volume > 0 {
		pos.Volume = p.Volume
	}
	pos.Commission = p.Commission
	pos.Swap = p.Swap
	pos.RiskRewardRatio = riskReward(p)
	t.updates.Publish(*pos)
}

func (t *Tracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *Tracker) removeLocked(id string) {
	pos, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if book := t.bySymbol[pos.Symbol]; book != nil {
		delete(book, id)
		if len(book) == 0 {
			delete(t.bySymbol, pos.Symbol)
		}
	}
}

func riskReward(p exchange.Position) float64 {
	if p.StopLoss <= 0 || p.TakeProfit <= 0 || p.OpenPrice <= 0 {
		return 0
	}
	risk := p.OpenPrice - p.StopLoss
	reward := p.TakeProfit - p.OpenPrice
	if p.Side == exchange.SideSell {
		risk, reward = -risk, -reward
	}
	if risk <= 0 {
		return 0
	}
	return reward / risk
}
