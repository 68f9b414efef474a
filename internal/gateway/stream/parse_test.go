package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxlink/internal/gateway/exchange"
)

func TestParseQuote(t *testing.T) {
	frame := []byte(`{"type":"tick","data":{"symbol":"eur/usd","bid":1.1000,"ask":1.1002,"timestamp":1724572800000}}`)
	quote, err := parseQuote(frame)
	require.NoError(t, err)

	assert.Equal(t, "EURUSD", quote.Symbol)
	assert.Equal(t, 1.1000, quote.Bid)
	assert.Equal(t, 1.1002, quote.Ask)
	assert.InDelta(t, 1.1001, quote.Mid, 1e-9)
	assert.InDelta(t, 0.0002, quote.Spread, 1e-9)
	assert.Equal(t, time.UnixMilli(1724572800000), quote.Timestamp)
}

func TestParseQuoteKeepsExplicitMidAndSpread(t *testing.T) {
	frame := []byte(`{"type":"tick","data":{"symbol":"USDJPY","bid":150.00,"ask":150.03,"mid":150.02,"spread":0.03}}`)
	quote, err := parseQuote(frame)
	require.NoError(t, err)
	assert.Equal(t, 150.02, quote.Mid)
	assert.Equal(t, 0.03, quote.Spread)
}

func TestParseQuoteRejectsMalformedTicks(t *testing.T) {
	_, err := parseQuote([]byte(`{"type":"tick","data":{"bid":1.1,"ask":1.2}}`))
	assert.Error(t, err)

	_, err = parseQuote([]byte(`{"type":"tick","data":{"symbol":"EURUSD","bid":0,"ask":1.2}}`))
	assert.Error(t, err)

	_, err = parseQuote([]byte(`{"type":"tick","data":{"symbol":"EURUSD","bid":1.1,"ask":-1}}`))
	assert.Error(t, err)
}

func TestParseAccountSnapshot(t *testing.T) {
	frame := []byte(`{"type":"account","data":{"balance":10000,"equity":10120.5,"margin":220,"free_margin":9900.5,"margin_level":4600.2,"leverage":100,"currency":"USD","broker":"demo"}}`)
	snap := parseAccountSnapshot(frame, "acct-1")

	assert.Equal(t, "acct-1", snap.AccountID)
	assert.Equal(t, 10000.0, snap.Balance)
	assert.Equal(t, 10120.5, snap.Equity)
	assert.Equal(t, 9900.5, snap.FreeMargin)
	assert.Equal(t, 100.0, snap.Leverage)
	assert.Equal(t, "USD", snap.Currency)
}

func TestParsePositionEvent(t *testing.T) {
	frame := []byte(`{"type":"position_open","data":{"id":"p-9","symbol":"gbp/jpy","side":"sell","volume":0.2,"open_price":185.40,"stop_loss":186.00,"take_profit":184.00,"commission":1.2,"swap":0.3,"open_time":"2026-08-25T09:00:00Z"}}`)
	ev := parsePositionEvent(frame, exchange.PositionOpened, "acct-1")

	assert.Equal(t, exchange.PositionOpened, ev.Kind)
	assert.Equal(t, "p-9", ev.Position.ID)
	assert.Equal(t, "acct-1", ev.Position.AccountID)
	assert.Equal(t, "GBPJPY", ev.Position.Symbol)
	assert.Equal(t, exchange.SideSell, ev.Position.Side)
	assert.Equal(t, 0.2, ev.Position.Volume)
	assert.Equal(t, 185.40, ev.Position.OpenPrice)
	assert.Equal(t, time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC), ev.Position.OpenTime.UTC())
}

func TestParseOrder(t *testing.T) {
	frame := []byte(`{"type":"order","data":{"id":"o-3","symbol":"eur/usd","side":"buy","volume":0.05,"price":1.0950,"kind":"limit","created_at":1724572800000}}`)
	order := parseOrder(frame, "acct-1")

	assert.Equal(t, "o-3", order.ID)
	assert.Equal(t, "acct-1", order.AccountID)
	assert.Equal(t, "EURUSD", order.Symbol)
	assert.Equal(t, exchange.SideBuy, order.Side)
	assert.Equal(t, 0.05, order.Volume)
	assert.Equal(t, 1.0950, order.Price)
	assert.Equal(t, "limit", order.Kind)
	assert.Equal(t, time.UnixMilli(1724572800000), order.CreatedAt)
}

func TestParseAuthAck(t *testing.T) {
	kind, msg := parseAuthAck([]byte(`{"type":"welcome"}`))
	assert.Equal(t, "welcome", kind)
	assert.Empty(t, msg)

	kind, msg = parseAuthAck([]byte(`{"type":"reject","error":"bad token"}`))
	assert.Equal(t, "reject", kind)
	assert.Equal(t, "bad token", msg)
}

func TestFrameType(t *testing.T) {
	assert.Equal(t, "tick", frameType([]byte(`{"type":"tick"}`)))
	assert.Equal(t, "", frameType([]byte(`not json`)))
}
