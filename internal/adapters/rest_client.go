// rest_client.go is the reference REST ExecClient: a resty-backed client
// against a generic JSON order-entry venue, rate-limited by a single token
// bucket shared by submit/modify/cancel and retried on 5xx. Adapted from the teacher's CLOB REST client,
// generalized from Polymarket's signed-order wire format to a plain
// submit/modify/cancel/status-report surface — signing and venue-specific
// payload shapes are a venue-adapter concern spec §1 places out of scope.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"tradekernel/pkg/types"
)

// RESTConfig configures a RESTExecClient.
type RESTConfig struct {
	BaseURL        string
	Timeout        time.Duration
	OrdersPerSec   float64 // token-bucket rate for submit/modify/cancel calls
	OrdersBurst    int
}

// RESTExecClient is the reference ExecClient implementation.
type RESTExecClient struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewRESTExecClient builds a rate-limited, retrying REST client.
func NewRESTExecClient(cfg RESTConfig, logger *slog.Logger) *RESTExecClient {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	burst := cfg.OrdersBurst
	if burst <= 0 {
		burst = 1
	}
	return &RESTExecClient{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.OrdersPerSec), burst),
		logger:  logger.With("component", "adapters.rest"),
	}
}

// Connect is a no-op; resty dials lazily per request.
func (c *RESTExecClient) Connect(ctx context.Context) error { return nil }

// Disconnect is a no-op; resty holds no persistent connection to tear down.
func (c *RESTExecClient) Disconnect() error { return nil }

// SubmitOrder posts a single order to the venue's order-entry endpoint.
func (c *RESTExecClient) SubmitOrder(ctx context.Context, order *types.Order) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(order).
		Post("/orders")
	if err != nil {
		return fmt.Errorf("adapters: submit order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("adapters: submit order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// ModifyOrder amends a resting order's price and/or quantity.
func (c *RESTExecClient) ModifyOrder(ctx context.Context, cmd types.ModifyOrder) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("adapters: marshal modify: %w", err)
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(json.RawMessage(body)).
		Put("/orders/" + string(cmd.ClientOrderID))
	if err != nil {
		return fmt.Errorf("adapters: modify order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("adapters: modify order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// CancelOrder cancels a single resting order.
func (c *RESTExecClient) CancelOrder(ctx context.Context, cmd types.CancelOrder) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/orders/" + string(cmd.ClientOrderID))
	if err != nil {
		return fmt.Errorf("adapters: cancel order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("adapters: cancel order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GenerateOrderStatusReport fetches the venue's view of open orders for
// instrumentID.
func (c *RESTExecClient) GenerateOrderStatusReport(ctx context.Context, instrumentID types.InstrumentID) ([]OrderStatusReport, error) {
	var reports []OrderStatusReport
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("instrument", instrumentID.String()).
		SetResult(&reports).
		Get("/orders")
	if err != nil {
		return nil, fmt.Errorf("adapters: order status report: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("adapters: order status report: status %d: %s", resp.StatusCode(), resp.String())
	}
	return reports, nil
}
