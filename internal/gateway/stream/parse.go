package stream

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"fxlink/internal/gateway/exchange"
	"fxlink/internal/pkg/symbol"
)

func frameType(data []byte) string {
	return gjson.GetBytes(data, "type").String()
}

func parseAuthAck(data []byte) (kind, errMsg string) {
	kind = frameType(data)
	errMsg = gjson.GetBytes(data, "message").String()
	if errMsg == "" {
		errMsg = gjson.GetBytes(data, "error").String()
	}
	return kind, errMsg
}

// parseQuote reads a tick frame. Mid and spread are derived from
// bid/ask when the gateway omits them.
func parseQuote(data []byte) (exchange.Quote, error) {
	sym := symbol.Normalize(gjson.GetBytes(data, "data.symbol").String())
	if sym == "" {
		return exchange.Quote{}, fmt.Errorf("tick without symbol")
	}
	bid := gjson.GetBytes(data, "data.bid").Float()
	ask := gjson.GetBytes(data, "data.ask").Float()
	if bid <= 0 || ask <= 0 {
		return exchange.Quote{}, fmt.Errorf("tick %s with non-positive bid/ask", sym)
	}
	quote := exchange.Quote{
		Symbol:    sym,
		Bid:       bid,
		Ask:       ask,
		Mid:       gjson.GetBytes(data, "data.mid").Float(),
		Spread:    gjson.GetBytes(data, "data.spread").Float(),
		Timestamp: parseTimestamp(gjson.GetBytes(data, "data.timestamp")),
	}
	if quote.Mid == 0 {
		quote.Mid = (bid + ask) / 2
	}
	if quote.Spread == 0 {
		quote.Spread = ask - bid
	}
	return quote, nil
}

func parseAccountSnapshot(data []byte, accountID string) exchange.AccountSnapshot {
	return exchange.AccountSnapshot{
		AccountID:   accountID,
		Balance:     gjson.GetBytes(data, "data.balance").Float(),
		Equity:      gjson.GetBytes(data, "data.equity").Float(),
		Margin:      gjson.GetBytes(data, "data.margin").Float(),
		FreeMargin:  gjson.GetBytes(data, "data.free_margin").Float(),
		MarginLevel: gjson.GetBytes(data, "data.margin_level").Float(),
		Leverage:    gjson.GetBytes(data, "data.leverage").Float(),
		Currency:    gjson.GetBytes(data, "data.currency").String(),
		Broker:      gjson.GetBytes(data, "data.broker").String(),
		UpdatedAt:   parseTimestamp(gjson.GetBytes(data, "data.timestamp")),
	}
}

func parsePositionEvent(data []byte, kind exchange.PositionEventKind, accountID string) exchange.PositionEvent {
	return exchange.PositionEvent{
		Kind: kind,
		Position: exchange.Position{
			ID:         gjson.GetBytes(data, "data.id").String(),
			AccountID:  accountID,
			Symbol:     symbol.Normalize(gjson.GetBytes(data, "data.symbol").String()),
			Side:       exchange.Side(gjson.GetBytes(data, "data.side").String()),
			Volume:     gjson.GetBytes(data, "data.volume").Float(),
			OpenPrice:  gjson.GetBytes(data, "data.open_price").Float(),
			StopLoss:   gjson.GetBytes(data, "data.stop_loss").Float(),
			TakeProfit: gjson.GetBytes(data, "data.take_profit").Float(),
			Commission: gjson.GetBytes(data, "data.commission").Float(),
			Swap:       gjson.GetBytes(data, "data.swap").Float(),
			OpenTime:   parseTimestamp(gjson.GetBytes(data, "data.open_time")),
		},
	}
}

// parseOrder reads a pending-order frame. Order frames keep the synced
// working-order list fresh between sync cycles.
func parseOrder(data []byte, accountID string) exchange.Order {
	return exchange.Order{
		ID:        gjson.GetBytes(data, "data.id").String(),
		AccountID: accountID,
		Symbol:    symbol.Normalize(gjson.GetBytes(data, "data.symbol").String()),
		Side:      exchange.Side(gjson.GetBytes(data, "data.side").String()),
		Volume:    gjson.GetBytes(data, "data.volume").Float(),
		Price:     gjson.GetBytes(data, "data.price").Float(),
		Kind:      gjson.GetBytes(data, "data.kind").String(),
		CreatedAt: parseTimestamp(gjson.GetBytes(data, "data.created_at")),
	}
}

// parseTimestamp accepts epoch milliseconds or RFC3339 strings; a
// missing value falls back to receive time.
func parseTimestamp(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		return time.UnixMilli(v.Int())
	case gjson.String:
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			return t
		}
	}
	return time.Now()
}
