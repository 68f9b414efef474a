package exchange

import "context"

// OrderGateway is the write side of the broker gateway: order RPCs that
// mutate account state. Implemented by the REST client; faked in tests.
type OrderGateway interface {
	PlaceOrder(ctx context.Context, ticket OrderTicket) (OrderAck, error)

	ModifyPosition(ctx context.Context, accountID, positionID string, stopLoss, takeProfit *float64) error

	ClosePosition(ctx context.Context, accountID, positionID string) error
}

// QuoteSource exposes the streaming client's last-value caches.
type QuoteSource interface {
	LatestQuote(symbol string) (Quote, bool)

	LatestAccountSnapshot() (AccountSnapshot, bool)
}

// AccountFetcher is the read side used by the account sync service.
type AccountFetcher interface {
	FetchAccount(ctx context.Context, accountID string) (AccountSnapshot, error)

	FetchPositions(ctx context.Context, accountID string) ([]Position, error)

	FetchOrders(ctx context.Context, accountID string) ([]Order, error)
}
