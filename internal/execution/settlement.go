package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/leverlabs/lever-cli/internal/engine/instruction"
	clierr "github.com/leverlabs/lever-cli/internal/errors"
	"github.com/leverlabs/lever-cli/internal/httpx"
	"github.com/leverlabs/lever-cli/internal/model"
	"github.com/leverlabs/lever-cli/internal/registry"
)

// Order lifecycle statuses reported by the settlement API.
const (
	OrderStatusOpen     = "open"
	OrderStatusFilling  = "filling"
	OrderStatusSettled  = "settled"
	OrderStatusRejected = "rejected"
	OrderStatusExpired  = "expired"
)

// SettlementClient talks to the order settlement API: progressive plans
// are submitted as orders whose chunks the harness settles one iteration
// at a time.
type SettlementClient struct {
	httpClient *httpx.Client
	baseURL    string
}

func NewSettlementClient(httpClient *httpx.Client) *SettlementClient {
	return &SettlementClient{httpClient: httpClient, baseURL: registry.SettlementAPIBaseURL}
}

// OrderRequest is the body submitted for a progressive plan: the chunk
// templates plus the flash loan terms the harness draws against.
type OrderRequest struct {
	PlanID    string              `json:"plan_id"`
	ChainID   string              `json:"chain_id"`
	User      string              `json:"user"`
	FlashLoan model.FlashLoanPlan `json:"flash_loan"`
	Chunks    []model.PlanChunk   `json:"chunks"`
}

// Order is the settlement API's view of a submitted plan. Transactions is
// the built batch for anything the user must still sign themselves, such
// as the margin approval.
type Order struct {
	OrderID      string             `json:"order_id"`
	PlanID       string             `json:"plan_id,omitempty"`
	Status       string             `json:"status"`
	Reason       string             `json:"reason,omitempty"`
	FilledChunks int                `json:"filled_chunks"`
	TotalChunks  int                `json:"total_chunks"`
	Transactions []OrderTransaction `json:"transactions,omitempty"`
}

type OrderTransaction struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

type orderResponse struct {
	Order *Order         `json:"order,omitempty"`
	Error *orderAPIError `json:"error,omitempty"`
}

type orderAPIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// BuildOrder submits a progressive plan to the settlement API. A build
// rejection propagates the API's own message verbatim: the upstream
// reason (resting liquidity, order size, market state) is the only
// actionable detail there is.
func (c *SettlementClient) BuildOrder(ctx context.Context, plan model.Plan) (Order, error) {
	if plan.Mode != string(instruction.ModeProgressive) {
		return Order{}, clierr.New(clierr.CodeUsage, "market plans execute as one router call; orders cover progressive plans")
	}
	if len(plan.Chunks) == 0 {
		return Order{}, clierr.New(clierr.CodeUsage, "progressive plan has no chunks")
	}
	endpoint := c.endpointFor(plan)
	if !registry.IsAllowedSettlementURL(endpoint) {
		return Order{}, clierr.New(clierr.CodeBlocked, fmt.Sprintf("settlement endpoint %q is not an allowed order settlement URL", endpoint))
	}

	body, err := json.Marshal(OrderRequest{
		PlanID:    plan.PlanID,
		ChainID:   plan.ChainID,
		User:      plan.User,
		FlashLoan: plan.FlashLoan,
		Chunks:    plan.Chunks,
	})
	if err != nil {
		return Order{}, clierr.Wrap(clierr.CodeInternal, "marshal order request", err)
	}

	var resp orderResponse
	if _, err := httpx.DoBodyJSON(ctx, c.httpClient, http.MethodPost, endpoint, body, nil, &resp); err != nil {
		return Order{}, err
	}
	if resp.Error != nil {
		return Order{}, clierr.New(clierr.CodeBuildRejected, strings.TrimSpace(resp.Error.Message))
	}
	if resp.Order == nil || strings.TrimSpace(resp.Order.OrderID) == "" {
		return Order{}, clierr.New(clierr.CodeUnavailable, "settlement API returned no order")
	}
	return *resp.Order, nil
}

// OrderStatus reads the current state of a submitted order.
func (c *SettlementClient) OrderStatus(ctx context.Context, plan model.Plan, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, clierr.New(clierr.CodeUsage, "missing order id")
	}
	endpoint := c.endpointFor(plan)
	if !registry.IsAllowedSettlementURL(endpoint) {
		return Order{}, clierr.New(clierr.CodeBlocked, fmt.Sprintf("settlement endpoint %q is not an allowed order settlement URL", endpoint))
	}
	statusURL := statusEndpoint(endpoint) + "?order_id=" + url.QueryEscape(strings.TrimSpace(orderID))

	var resp orderResponse
	if _, err := httpx.DoBodyJSON(ctx, c.httpClient, http.MethodGet, statusURL, nil, nil, &resp); err != nil {
		return Order{}, err
	}
	if resp.Error != nil {
		return Order{}, clierr.New(clierr.CodeUnavailable, strings.TrimSpace(resp.Error.Message))
	}
	if resp.Order == nil {
		return Order{}, clierr.New(clierr.CodeUnavailable, "settlement API returned no order")
	}
	return *resp.Order, nil
}

// WaitOptions bound the status poll loop.
type WaitOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{PollInterval: 2 * time.Second, Timeout: 2 * time.Minute}
}

// WaitForOrder polls until the order reaches a terminal status. A settled
// order returns cleanly; a rejected or expired one surfaces the API's
// reason.
func (c *SettlementClient) WaitForOrder(ctx context.Context, plan model.Plan, orderID string, opts WaitOptions) (Order, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		order, err := c.OrderStatus(waitCtx, plan, orderID)
		if err == nil {
			switch order.Status {
			case OrderStatusSettled:
				return order, nil
			case OrderStatusRejected, OrderStatusExpired:
				reason := strings.TrimSpace(order.Reason)
				if reason == "" {
					reason = order.Status
				}
				return order, clierr.New(clierr.CodeBuildRejected, fmt.Sprintf("order %s %s: %s", order.OrderID, order.Status, reason))
			}
		} else if typed, ok := clierr.As(err); ok && (typed.Code == clierr.CodeUsage || typed.Code == clierr.CodeBlocked) {
			return Order{}, err
		}
		// Transient status failures are retried until the deadline.
		select {
		case <-waitCtx.Done():
			return Order{}, clierr.Wrap(clierr.CodeOrderTimeout, "timed out waiting for order settlement", waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (c *SettlementClient) endpointFor(plan model.Plan) string {
	if strings.TrimSpace(plan.SettlementURL) != "" {
		return strings.TrimSpace(plan.SettlementURL)
	}
	return c.baseURL
}

func statusEndpoint(base string) string {
	if base == registry.SettlementAPIBaseURL {
		return registry.SettlementStatusURL
	}
	return strings.TrimSuffix(base, "/") + "/status"
}
