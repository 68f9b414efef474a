// Package exchange defines the neutral data model shared between the
// streaming feed, the execution service and the account sync service.
// Concrete gateway transports (REST session calls, the websocket feed)
// translate wire payloads into these types.
package exchange

import "time"

// Side is the direction of a trade or position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Quote is one bid/ask tick for a symbol. Quotes are immutable values;
// a newer tick for the same symbol supersedes the previous one.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Mid       float64
	Spread    float64
	Timestamp time.Time
}

// AccountSnapshot is the gateway's view of account funds at one moment.
type AccountSnapshot struct {
	AccountID   string
	Balance     float64
	Equity      float64
	Margin      float64
	FreeMargin  float64
	MarginLevel float64
	Leverage    float64
	Currency    string
	Broker      string
	UpdatedAt   time.Time
}

// TradeRequest is a caller-supplied order intent. It is validated
// locally before any network call is made.
type TradeRequest struct {
	Symbol      string
	Side        Side
	Volume      float64
	StopLoss    float64
	TakeProfit  float64
	Comment     string
	MagicNumber int
}

// ExecutionResult records a successful order submission.
type ExecutionResult struct {
	OrderID    string
	AccountID  string
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	ExecutedAt time.Time
}

// Position is an open trade as reported by the gateway.
type Position struct {
	ID         string
	AccountID  string
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Commission float64
	Swap       float64
	OpenTime   time.Time
}

// Order is a pending (not yet filled) order, fetched during sync.
type Order struct {
	ID        string
	AccountID string
	Symbol    string
	Side      Side
	Volume    float64
	Price     float64
	Kind      string
	CreatedAt time.Time
}

// PositionEventKind tags lifecycle events on the position stream.
type PositionEventKind string

const (
	PositionOpened  PositionEventKind = "opened"
	PositionUpdated PositionEventKind = "updated"
	PositionClosed  PositionEventKind = "closed"
)

// PositionEvent is emitted by the streaming feed whenever the gateway
// reports a position change.
type PositionEvent struct {
	Kind     PositionEventKind
	Position Position
}

// OrderTicket is the wire-ready form of a validated trade request.
type OrderTicket struct {
	AccountID  string
	RequestID  string
	Symbol     string
	Side       Side
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// OrderAck is the gateway's answer to a placed order.
type OrderAck struct {
	OrderID    string
	OpenPrice  float64
	ExecutedAt time.Time
}
