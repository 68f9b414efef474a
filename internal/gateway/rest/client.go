// Package rest implements the broker gateway's session and order RPCs
// over HTTP. The wire protocol itself is owned by the broker; this
// client only fixes the call shape.
package rest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"fxlink/internal/config"
	"fxlink/internal/gateway/exchange"
	"fxlink/internal/pkg/circuit"
)

// TokenSource resolves the session token for an account. Implemented by
// the credential store.
type TokenSource interface {
	AccessToken(accountID string) (string, bool)
}

// Client wraps the gateway REST endpoints used by the trading core.
// Sync reads go through a circuit breaker so a dying gateway is not
// hammered every interval; order writes never do.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	fetches    *circuit.Breaker
}

// NewClient constructs a gateway client from configuration.
func NewClient(cfg config.GatewayConfig, tokens TokenSource) (*Client, error) {
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("gateway.api_url cannot be empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway.api_url failed: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		tokens:     tokens,
		fetches:    circuit.New("gateway-fetch", 5, 30*time.Second),
	}, nil
}

type tokenExchangeResponse struct {
	Token string `json:"token"`
}

// ExchangeToken trades an account secret for a gateway session token.
// The response contract beyond the token field is defined by the broker
// and treated as opaque here.
func (c *Client) ExchangeToken(ctx context.Context, accountID, secret string) (string, error) {
	payload := map[string]string{"account_id": accountID, "secret": secret}
	var resp tokenExchangeResponse
	if err := c.doRequest(ctx, http.MethodPost, "/session/token", "", payload, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", &exchange.ConnectionError{Kind: exchange.ConnAuthFailed, AccountID: accountID,
			Err: fmt.Errorf("gateway returned empty token")}
	}
	return resp.Token, nil
}

type placeOrderPayload struct {
	AccountID  string  `json:"account_id"`
	RequestID  string  `json:"request_id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price,omitempty"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

type orderResponse struct {
	OrderID    string  `json:"order_id"`
	OpenPrice  float64 `json:"open_price"`
	ExecutedAt int64   `json:"executed_at"`
}

// PlaceOrder submits a validated ticket. The request ID makes resubmits
// traceable on the gateway side; the client itself never retries.
func (c *Client) PlaceOrder(ctx context.Context, ticket exchange.OrderTicket) (exchange.OrderAck, error) {
	requestID := ticket.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	payload := placeOrderPayload{
		AccountID:  ticket.AccountID,
		RequestID:  requestID,
		Symbol:     ticket.Symbol,
		Side:       string(ticket.Side),
		Volume:     ticket.Volume,
		Price:      ticket.Price,
		StopLoss:   ticket.StopLoss,
		TakeProfit: ticket.TakeProfit,
		Comment:    ticket.Comment,
	}
	var resp orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/orders", ticket.AccountID, payload, &resp); err != nil {
		return exchange.OrderAck{}, err
	}
	if resp.OrderID == "" {
		return exchange.OrderAck{}, &exchange.GatewayError{Code: "missing_order_id",
			Message: "gateway did not return an order id"}
	}
	ack := exchange.OrderAck{OrderID: resp.OrderID, OpenPrice: resp.OpenPrice, ExecutedAt: time.Now()}
	if resp.ExecutedAt > 0 {
		ack.ExecutedAt = time.UnixMilli(resp.ExecutedAt)
	}
	return ack, nil
}

type modifyPositionPayload struct {
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
}

// ModifyPosition updates protective levels on an open position.
func (c *Client) ModifyPosition(ctx context.Context, accountID, positionID string, stopLoss, takeProfit *float64) error {
	path := fmt.Sprintf("/accounts/%s/positions/%s", url.PathEscape(accountID), url.PathEscape(positionID))
	payload := modifyPositionPayload{StopLoss: stopLoss, TakeProfit: takeProfit}
	return c.doRequest(ctx, http.MethodPatch, path, accountID, payload, nil)
}

// ClosePosition closes an open position at market.
func (c *Client) ClosePosition(ctx context.Context, accountID, positionID string) error {
	path := fmt.Sprintf("/accounts/%s/positions/%s/close", url.PathEscape(accountID), url.PathEscape(positionID))
	return c.doRequest(ctx, http.MethodPost, path, accountID, nil, nil)
}

type accountResponse struct {
	Balance     float64 `json:"balance"`
	Equity      float64 `json:"equity"`
	Margin      float64 `json:"margin"`
	FreeMargin  float64 `json:"free_margin"`
	MarginLevel float64 `json:"margin_level"`
	Leverage    float64 `json:"leverage"`
	Currency    string  `json:"currency"`
	Broker      string  `json:"broker"`
}

// FetchAccount pulls the current account snapshot.
func (c *Client) FetchAccount(ctx context.Context, accountID string) (exchange.AccountSnapshot, error) {
	path := fmt.Sprintf("/accounts/%s", url.PathEscape(accountID))
	var resp accountResponse
	if err := c.fetches.Do(func() error {
		return c.doRequest(ctx, http.MethodGet, path, accountID, nil, &resp)
	}); err != nil {
		return exchange.AccountSnapshot{}, err
	}
	return exchange.AccountSnapshot{
		AccountID:   accountID,
		Balance:     resp.Balance,
		Equity:      resp.Equity,
		Margin:      resp.Margin,
		FreeMargin:  resp.FreeMargin,
		MarginLevel: resp.MarginLevel,
		Leverage:    resp.Leverage,
		Currency:    strings.ToUpper(strings.TrimSpace(resp.Currency)),
		Broker:      resp.Broker,
		UpdatedAt:   time.Now(),
	}, nil
}

type positionResponse struct {
	ID         string  `json:"id"`
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Volume     float64 `json:"volume"`
	OpenPrice  float64 `json:"open_price"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Commission float64 `json:"commission"`
	Swap       float64 `json:"swap"`
	OpenTime   int64   `json:"open_time"`
}

// FetchPositions lists currently open positions.
func (c *Client) FetchPositions(ctx context.Context, accountID string) ([]exchange.Position, error) {
	path := fmt.Sprintf("/accounts/%s/positions", url.PathEscape(accountID))
	var resp []positionResponse
	if err := c.fetches.Do(func() error {
		return c.doRequest(ctx, http.MethodGet, path, accountID, nil, &resp)
	}); err != nil {
		return nil, err
	}
	positions := make([]exchange.Position, 0, len(resp))
	for _, p := range resp {
		positions = append(positions, exchange.Position{
			ID:         p.ID,
			AccountID:  accountID,
			Symbol:     p.Symbol,
			Side:       exchange.Side(strings.ToLower(p.Side)),
			Volume:     p.Volume,
			OpenPrice:  p.OpenPrice,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			Commission: p.Commission,
			Swap:       p.Swap,
			OpenTime:   time.UnixMilli(p.OpenTime),
		})
	}
	return positions, nil
}

type orderRecordResponse struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Volume    float64 `json:"volume"`
	Price     float64 `json:"price"`
	Kind      string  `json:"kind"`
	CreatedAt int64   `json:"created_at"`
}

// FetchOrders lists pending orders.
func (c *Client) FetchOrders(ctx context.Context, accountID string) ([]exchange.Order, error) {
	path := fmt.Sprintf("/accounts/%s/orders", url.PathEscape(accountID))
	var resp []orderRecordResponse
	if err := c.fetches.Do(func() error {
		return c.doRequest(ctx, http.MethodGet, path, accountID, nil, &resp)
	}); err != nil {
		return nil, err
	}
	orders := make([]exchange.Order, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, exchange.Order{
			ID:        o.ID,
			AccountID: accountID,
			Symbol:    o.Symbol,
			Side:      exchange.Side(strings.ToLower(o.Side)),
			Volume:    o.Volume,
			Price:     o.Price,
			Kind:      o.Kind,
			CreatedAt: time.UnixMilli(o.CreatedAt),
		})
	}
	return orders, nil
}

type gatewayErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) doRequest(ctx context.Context, method, path, accountID string, payload, out any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("gateway client not initialized")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling request failed: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("building request failed: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accountID != "" && c.tokens != nil {
		if token, ok := c.tokens.AccessToken(accountID); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &exchange.ConnectionError{Kind: exchange.ConnAuthFailed, AccountID: accountID,
			Err: fmt.Errorf("gateway returned %s", resp.Status)}
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var gwErr gatewayErrorBody
		if json.Unmarshal(data, &gwErr) == nil && gwErr.Message != "" {
			return &exchange.GatewayError{Code: gwErr.Code, Message: gwErr.Message}
		}
		return &exchange.GatewayError{Code: resp.Status, Message: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding gateway response failed: %w", err)
	}
	return nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("gateway API URL not set")
	}
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawQuery = ""
	base.Fragment = ""
	return &base, nil
}
