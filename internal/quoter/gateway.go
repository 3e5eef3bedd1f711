// Package quoter implements the fair-value-relative quoting tactic: it
// reads the signal graph's fair value outputs, reconciles desired quotes
// against resting orders, and submits them through a REST order gateway.
//
// Client is the REST order gateway. It wraps one resty.Client per venue
// (keyed by exchange name), each rate-limited via per-category
// TokenBuckets and automatically retried on 5xx errors. Orders are
// identified by a client-generated UUID rather than a venue order ID so
// fills and acks can be matched before the venue round-trips one back.
package quoter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signalgraph-mm/internal/config"
	"signalgraph-mm/pkg/types"
)

// venueConn is one exchange's configured REST connection.
type venueConn struct {
	http *resty.Client
	rl   *RateLimiter
}

// Client is the REST order gateway across every configured venue.
type Client struct {
	venues map[string]*venueConn
	dryRun bool
	logger *slog.Logger
}

// NewClient builds one venue connection per entry in exchanges.
func NewClient(exchanges map[string]config.Exchange, dryRun bool, logger *slog.Logger) *Client {
	venues := make(map[string]*venueConn, len(exchanges))
	for name, ex := range exchanges {
		httpClient := resty.New().
			SetBaseURL(ex.RESTURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-API-KEY", ex.APIKey)

		venues[name] = &venueConn{http: httpClient, rl: NewRateLimiter()}
	}

	return &Client{venues: venues, dryRun: dryRun, logger: logger.With("component", "quoter_client")}
}

func (c *Client) venue(exchange string) (*venueConn, error) {
	v, ok := c.venues[exchange]
	if !ok {
		return nil, fmt.Errorf("quoter: no venue connection configured for exchange %q", exchange)
	}
	return v, nil
}

// orderWirePayload is the REST body for a new order: price and size are
// rendered through shopspring/decimal so the wire format never carries
// float rounding artifacts.
type orderWirePayload struct {
	ClientOrderID string `json:"client_order_id"`
	Product       string `json:"product"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	OrderType     string `json:"order_type"`
	Expiration    int64  `json:"expiration,omitempty"`
}

func toWirePayload(order types.UserOrder) orderWirePayload {
	price := decimal.New(int64(order.Price), -2)
	size := decimal.NewFromFloat(order.Size)
	return orderWirePayload{
		ClientOrderID: order.ClientOrderID,
		Product:       order.Security.Product,
		Side:          string(order.Side),
		Price:         price.String(),
		Size:          size.String(),
		OrderType:     string(order.OrderType),
		Expiration:    order.Expiration,
	}
}

// PostOrders submits orders to their venue, assigning a fresh client
// order ID to any that doesn't already have one. Orders must all share
// one security's exchange.
func (c *Client) PostOrders(ctx context.Context, orders []types.UserOrder) ([]types.OrderResponse, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	exchange := orders[0].Security.Exchange
	for i := range orders {
		if orders[i].ClientOrderID == "" {
			orders[i].ClientOrderID = uuid.NewString()
		}
		if orders[i].Security.Exchange != exchange {
			return nil, fmt.Errorf("quoter: PostOrders requires a single venue, got %q and %q", exchange, orders[i].Security.Exchange)
		}
	}

	if c.dryRun {
		c.logger.Info("DRY-RUN: would post orders", "exchange", exchange, "count", len(orders))
		results := make([]types.OrderResponse, len(orders))
		for i, o := range orders {
			results[i] = types.OrderResponse{Success: true, OrderID: o.ClientOrderID, Status: "open"}
		}
		return results, nil
	}

	v, err := c.venue(exchange)
	if err != nil {
		return nil, err
	}
	if err := v.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payloads := make([]orderWirePayload, len(orders))
	for i, o := range orders {
		payloads[i] = toWirePayload(o)
	}

	var results []types.OrderResponse
	resp, err := v.http.R().
		SetContext(ctx).
		SetBody(payloads).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("post orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return results, nil
}

// CancelOrders cancels specific orders by client order ID on one venue.
func (c *Client) CancelOrders(ctx context.Context, exchange string, clientOrderIDs []string) (*types.CancelResponse, error) {
	if len(clientOrderIDs) == 0 {
		return &types.CancelResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "exchange", exchange, "count", len(clientOrderIDs))
		return &types.CancelResponse{Canceled: clientOrderIDs}, nil
	}

	v, err := c.venue(exchange)
	if err != nil {
		return nil, err
	}
	if err := v.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(struct {
		ClientOrderIDs []string `json:"client_order_ids"`
	}{clientOrderIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}

	var result types.CancelResponse
	resp, err := v.http.R().
		SetContext(ctx).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// CancelSecurityOrders cancels every resting order for one security.
func (c *Client) CancelSecurityOrders(ctx context.Context, sec types.Security) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel security orders", "security", sec)
		return &types.CancelResponse{}, nil
	}

	v, err := c.venue(sec.Exchange)
	if err != nil {
		return nil, err
	}
	if err := v.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.CancelResponse
	resp, err := v.http.R().
		SetContext(ctx).
		SetQueryParam("product", sec.Product).
		SetResult(&result).
		Delete("/cancel-product-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel security orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel security orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// CancelAll cancels every open order on exchange.
func (c *Client) CancelAll(ctx context.Context, exchange string) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "exchange", exchange)
		return &types.CancelResponse{}, nil
	}

	v, err := c.venue(exchange)
	if err != nil {
		return nil, err
	}
	if err := v.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.CancelResponse
	resp, err := v.http.R().
		SetContext(ctx).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}
	c.logger.Warn("all orders cancelled", "exchange", exchange, "count", len(result.Canceled))
	return &result, nil
}
