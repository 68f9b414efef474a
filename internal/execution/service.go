// Package execution validates and submits trade orders. Rejections for
// bad input or insufficient margin happen locally, before any network
// call; gateway failures are surfaced verbatim and never retried, since
// a blind retry on a financial write risks double execution.
package execution

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fxlink/internal/bus"
	"fxlink/internal/gateway/exchange"
	"fxlink/internal/logger"
	"fxlink/internal/pkg/pip"
	"fxlink/internal/pkg/symbol"
)

// ConnectionChecker answers whether an account has a live session.
type ConnectionChecker interface {
	IsConnected(accountID string) bool
}

// QuoteProvider serves the cached market view of one account's session.
type QuoteProvider interface {
	LatestQuote(accountID, symbol string) (exchange.Quote, bool)
	LatestAccountSnapshot(accountID string) (exchange.AccountSnapshot, bool)
}

// SyncTrigger kicks an account refresh after a successful write. The
// result is not awaited by the trade caller.
type SyncTrigger interface {
	TriggerSync(accountID, reason string)
}

// Recorder persists execution outcomes; nil disables journaling.
type Recorder interface {
	RecordExecution(res exchange.ExecutionResult) error
	RecordAction(accountID, positionID, action string) error
}

// Config carries the contract math defaults.
type Config struct {
	ContractSize    float64
	DefaultLeverage float64
}

// Service is the trade execution pipeline.
type Service struct {
	gw      exchange.OrderGateway
	quotes  QuoteProvider
	conns   ConnectionChecker
	syncs   SyncTrigger
	journal Recorder
	cfg     Config
	results *bus.Hub[exchange.ExecutionResult]
}

func NewService(gw exchange.OrderGateway, quotes QuoteProvider, conns ConnectionChecker, syncs SyncTrigger, journal Recorder, cfg Config) *Service {
	if cfg.ContractSize <= 0 {
		cfg.ContractSize = 100_000
	}
	if cfg.DefaultLeverage <= 0 {
		cfg.DefaultLeverage = 100
	}
	return &Service{
		gw:      gw,
		quotes:  quotes,
		conns:   conns,
		syncs:   syncs,
		journal: journal,
		cfg:     cfg,
		results: bus.NewHub[exchange.ExecutionResult](16),
	}
}

// Results is the hub carrying each successful submission.
func (s *Service) Results() *bus.Hub[exchange.ExecutionResult] { return s.results }

// ExecuteTrade runs the full pipeline: validate, require connection,
// margin check against one consistent snapshot, submit, sync.
func (s *Service) ExecuteTrade(ctx context.Context, accountID string, req exchange.TradeRequest) (*exchange.ExecutionResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	if !s.conns.IsConnected(accountID) {
		return nil, exchange.ErrNotConnected
	}

	sym := symbol.Normalize(req.Symbol)
	quote, ok := s.quotes.LatestQuote(accountID, sym)
	if !ok {
		return nil, exchange.ErrNoQuote
	}
	price := quote.Ask
	if req.Side == exchange.SideSell {
		price = quote.Bid
	}
	if err := validateLevels(req, price); err != nil {
		return nil, err
	}

	// one snapshot read covers the whole margin check; no snapshot means
	// the check cannot run, and an uncheckable order is a rejected order
	snapshot, ok := s.quotes.LatestAccountSnapshot(accountID)
	if !ok {
		return nil, exchange.ErrNoSnapshot
	}
	required := s.requiredMargin(req.Volume, price, snapshot.Leverage)
	if required > snapshot.FreeMargin {
		return nil, &exchange.MarginError{Required: required, Free: snapshot.FreeMargin}
	}

	ticket := exchange.OrderTicket{
		AccountID:  accountID,
		RequestID:  uuid.NewString(),
		Symbol:     sym,
		Side:       req.Side,
		Volume:     req.Volume,
		Price:      price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Comment,
	}
	ack, err := s.gw.PlaceOrder(ctx, ticket)
	if err != nil {
		return nil, err
	}

	result := exchange.ExecutionResult{
		OrderID:    ack.OrderID,
		AccountID:  accountID,
		Symbol:     sym,
		Side:       req.Side,
		Volume:     req.Volume,
		OpenPrice:  ack.OpenPrice,
		ExecutedAt: ack.ExecutedAt,
	}
	if result.OpenPrice == 0 {
		result.OpenPrice = price
	}
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = time.Now()
	}
	s.results.Publish(result)
	if s.journal != nil {
		if err := s.journal.RecordExecution(result); err != nil {
			logger.Warnf("journaling execution %s failed: %v", result.OrderID, err)
		}
	}
	if s.syncs != nil {
		s.syncs.TriggerSync(accountID, "post-trade")
	}
	return &result, nil
}

// Preview is an order preview derived from the cached quote: absolute
// protective levels for pip distances and the money at stake.
type Preview struct {
	Symbol          string        `json:"symbol"`
	Side            exchange.Side `json:"side"`
	Volume          float64       `json:"volume"`
	Price           float64       `json:"price"`
	PipValue        float64       `json:"pip_value"`
	SpreadPips      float64       `json:"spread_pips"`
	StopLoss        float64       `json:"stop_loss,omitempty"`
	TakeProfit      float64       `json:"take_profit,omitempty"`
	EstimatedLoss   float64       `json:"estimated_loss,omitempty"`
	EstimatedProfit float64       `json:"estimated_profit,omitempty"`
}

// PreviewTrade derives SL/TP prices and estimated P&L for the given pip
// distances. It reads only the cached quote and issues no network calls.
func (s *Service) PreviewTrade(accountID, symRaw string, side exchange.Side, volume, slPips, tpPips float64) (*Preview, error) {
	if strings.TrimSpace(symRaw) == "" {
		return nil, &exchange.ValidationError{Field: "symbol", Reason: "cannot be empty"}
	}
	if !side.Valid() {
		return nil, &exchange.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if volume <= 0 {
		return nil, &exchange.ValidationError{Field: "volume", Reason: "must be positive"}
	}
	if slPips < 0 || tpPips < 0 {
		return nil, &exchange.ValidationError{Field: "stop_loss_pips/take_profit_pips", Reason: "cannot be negative"}
	}
	if !s.conns.IsConnected(accountID) {
		return nil, exchange.ErrNotConnected
	}

	sym := symbol.Normalize(symRaw)
	quote, ok := s.quotes.LatestQuote(accountID, sym)
	if !ok {
		return nil, exchange.ErrNoQuote
	}
	price := quote.Ask
	if side == exchange.SideSell {
		price = quote.Bid
	}

	preview := &Preview{
		Symbol:     sym,
		Side:       side,
		Volume:     volume,
		Price:      price,
		PipValue:   pip.Value(sym),
		SpreadPips: pip.Distance(quote.Bid, quote.Ask, sym),
	}
	if slPips > 0 {
		preview.StopLoss = pip.StopLossPrice(side, price, slPips, sym)
		preview.EstimatedLoss = pip.EstimatedPL(volume, s.cfg.ContractSize, slPips, sym)
	}
	if tpPips > 0 {
		preview.TakeProfit = pip.TakeProfitPrice(side, price, tpPips, sym)
		preview.EstimatedProfit = pip.EstimatedPL(volume, s.cfg.ContractSize, tpPips, sym)
	}
	return preview, nil
}

// ClosePosition closes an open position at market and triggers a sync.
func (s *Service) ClosePosition(ctx context.Context, accountID, positionID string) error {
	if !s.conns.IsConnected(accountID) {
		return exchange.ErrNotConnected
	}
	if err := s.gw.ClosePosition(ctx, accountID, positionID); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.RecordAction(accountID, positionID, "close"); err != nil {
			logger.Warnf("journaling close of %s failed: %v", positionID, err)
		}
	}
	if s.syncs != nil {
		s.syncs.TriggerSync(accountID, "post-close")
	}
	return nil
}

// ModifyPosition updates protective levels and triggers a sync.
func (s *Service) ModifyPosition(ctx context.Context, accountID, positionID string, stopLoss, takeProfit *float64) error {
	if !s.conns.IsConnected(accountID) {
		return exchange.ErrNotConnected
	}
	if err := s.gw.ModifyPosition(ctx, accountID, positionID, stopLoss, takeProfit); err != nil {
		return err
	}
	if s.journal != nil {
		if err := s.journal.RecordAction(accountID, positionID, "modify"); err != nil {
			logger.Warnf("journaling modify of %s failed: %v", positionID, err)
		}
	}
	if s.syncs != nil {
		s.syncs.TriggerSync(accountID, "post-modify")
	}
	return nil
}

// requiredMargin computes volume × contractSize × price / leverage.
func (s *Service) requiredMargin(volume, price, leverage float64) float64 {
	if leverage <= 0 {
		leverage = s.cfg.DefaultLeverage
	}
	required := decimal.NewFromFloat(volume).
		Mul(decimal.NewFromFloat(s.cfg.ContractSize)).
		Mul(decimal.NewFromFloat(price)).
		Div(decimal.NewFromFloat(leverage))
	f, _ := required.Float64()
	return f
}

// Validate rejects malformed trade requests. It accepts a request iff
// the symbol parses, volume is positive, the side is known, and any
// SL/TP pair is ordered correctly for the side.
func Validate(req exchange.TradeRequest) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return &exchange.ValidationError{Field: "symbol", Reason: "cannot be empty"}
	}
	if !req.Side.Valid() {
		return &exchange.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if req.Volume <= 0 {
		return &exchange.ValidationError{Field: "volume", Reason: "must be positive"}
	}
	if req.StopLoss < 0 || req.TakeProfit < 0 {
		return &exchange.ValidationError{Field: "stop_loss/take_profit", Reason: "cannot be negative"}
	}
	if req.StopLoss > 0 && req.TakeProfit > 0 {
		switch req.Side {
		case exchange.SideBuy:
			if req.StopLoss >= req.TakeProfit {
				return &exchange.ValidationError{Field: "stop_loss", Reason: "must be below take_profit for buys"}
			}
		case exchange.SideSell:
			if req.StopLoss <= req.TakeProfit {
				return &exchange.ValidationError{Field: "stop_loss", Reason: "must be above take_profit for sells"}
			}
		}
	}
	return nil
}

// validateLevels checks protective levels against the execution price.
// The quote is already cached locally, so a rejection here still issues
// zero network calls.
func validateLevels(req exchange.TradeRequest, price float64) error {
	if req.Side == exchange.SideBuy {
		if req.StopLoss > 0 && req.StopLoss >= price {
			return &exchange.ValidationError{Field: "stop_loss", Reason: "must be below the ask for buys"}
		}
		if req.TakeProfit > 0 && req.TakeProfit <= price {
			return &exchange.ValidationError{Field: "take_profit", Reason: "must be above the ask for buys"}
		}
		return nil
	}
	if req.StopLoss > 0 && req.StopLoss <= price {
		return &exchange.ValidationError{Field: "stop_loss", Reason: "must be above the bid for sells"}
	}
	if req.TakeProfit > 0 && req.TakeProfit >= price {
		return &exchange.ValidationError{Field: "take_profit", Reason: "must be below the bid for sells"}
	}
	return nil
}
