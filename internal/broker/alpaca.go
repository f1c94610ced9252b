package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"autotrader/internal/domain"
	"autotrader/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca brokerage API.
type AlpacaBroker struct {
	client  *alpaca.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint. Every HTTP request is bounded by timeout and
// the request rate by rateLimitPerMin.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, timeout time.Duration, rateLimitPerMin int) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			BaseURL:    baseURL,
			HTTPClient: &http.Client{Timeout: timeout},
		}),
		limiter: util.NewRateLimiter(rateLimitPerMin),
		log:     slog.Default().With("broker", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.AccountState, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}
	acct, err := util.CallContext(ctx, b.client.GetAccount)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", classify(err))
	}
	return &domain.AccountState{
		Timestamp:      time.Now().UTC(),
		BuyingPower:    acct.BuyingPower.InexactFloat64(),
		Cash:           acct.Cash.InexactFloat64(),
		PortfolioValue: acct.PortfolioValue.InexactFloat64(),
		Equity:         acct.Equity.InexactFloat64(),
		LastEquity:     acct.LastEquity.InexactFloat64(),
		DayTradeCount:  acct.DaytradeCount,
		TradingBlocked: acct.TradingBlocked || acct.AccountBlocked,
	}, nil
}

// GetPositions returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}
	raw, err := util.CallContext(ctx, b.client.GetPositions)
	if err != nil {
		return nil, fmt.Errorf("GetPositions: %w", classify(err))
	}
	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		qty := p.Qty.IntPart()
		if strings.EqualFold(p.Side, "short") && qty > 0 {
			qty = -qty
		}
		if qty == 0 {
			continue
		}
		positions = append(positions, domain.Position{
			Symbol:       p.Symbol,
			Qty:          qty,
			CostBasis:    p.CostBasis.InexactFloat64(),
			CurrentPrice: decimalPtr(p.CurrentPrice),
			UnrealizedPL: decimalPtr(p.UnrealizedPL),
		})
	}
	return positions, nil
}

// HasOpenOrder reports whether Alpaca holds any open order for symbol.
func (b *AlpacaBroker) HasOpenOrder(ctx context.Context, symbol string) (bool, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return false, classify(err)
	}
	orders, err := util.CallContext(ctx, func() ([]alpaca.Order, error) {
		return b.client.GetOrders(alpaca.GetOrdersRequest{
			Status:  "open",
			Symbols: []string{symbol},
			Limit:   1,
		})
	})
	if err != nil {
		return false, fmt.Errorf("GetOrders %s: %w", symbol, classify(err))
	}
	return len(orders) > 0, nil
}

// SubmitOrder places a day order via POST /v2/orders. The correlation ID is
// sent as the client order ID, so a resubmission after a lost response
// resolves to the order Alpaca already holds instead of a second order.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}
	qty := decimal.NewFromInt(req.Qty)
	placed, err := util.CallContext(ctx, func() (*alpaca.Order, error) {
		return b.client.PlaceOrder(alpaca.PlaceOrderRequest{
			Symbol:        req.Symbol,
			Qty:           &qty,
			Side:          alpaca.Side(req.Side),
			Type:          alpaca.OrderType(req.Type),
			TimeInForce:   alpaca.Day,
			ClientOrderID: req.CorrelationID,
		})
	})
	if err != nil {
		cerr := classify(err)
		if errors.Is(cerr, domain.ErrBrokerRejected) && req.CorrelationID != "" {
			if existing, lookupErr := b.orderByClientID(ctx, req.CorrelationID); lookupErr == nil {
				b.log.Info("order already accepted", "symbol", req.Symbol, "clientOrderID", req.CorrelationID)
				return convertOrder(req, existing), nil
			}
		}
		return nil, fmt.Errorf("PlaceOrder %s %s %d: %w", req.Side, req.Symbol, req.Qty, cerr)
	}
	return convertOrder(req, placed), nil
}

func (b *AlpacaBroker) orderByClientID(ctx context.Context, clientOrderID string) (*alpaca.Order, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}
	return util.CallContext(ctx, func() (*alpaca.Order, error) {
		return b.client.GetOrderByClientOrderID(clientOrderID)
	})
}

// GetOrder fetches an order by its Alpaca ID. A partially filled order that
// was then cancelled or expired is reported FILLED for the filled quantity.
func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, classify(err)
	}
	o, err := util.CallContext(ctx, func() (*alpaca.Order, error) {
		return b.client.GetOrder(orderID)
	})
	if err != nil {
		return nil, fmt.Errorf("GetOrder %s: %w", orderID, classify(err))
	}
	return fromAlpaca(o), nil
}

// CancelOrder requests cancellation of an open order via the Alpaca API.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return classify(err)
	}
	_, err := util.CallContext(ctx, func() (struct{}, error) {
		return struct{}{}, b.client.CancelOrder(orderID)
	})
	if err != nil {
		return fmt.Errorf("CancelOrder %s: %w", orderID, classify(err))
	}
	return nil
}

func convertOrder(req domain.OrderRequest, o *alpaca.Order) *domain.Order {
	return &domain.Order{
		CorrelationID:  req.CorrelationID,
		BrokerID:       o.ID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Qty:            req.Qty,
		Price:          req.Price,
		FilledAvgPrice: decimalPtr(o.FilledAvgPrice),
		Status:         mapStatus(o.Status),
		Intent:         req.Intent,
		CreatedAt:      time.Now().UTC(),
	}
}

func fromAlpaca(o *alpaca.Order) *domain.Order {
	qty := int64(0)
	if o.Qty != nil {
		qty = o.Qty.IntPart()
	}
	filled := o.FilledQty.IntPart()
	status := mapStatus(o.Status)
	if status == domain.OrderStatusRejected && filled > 0 {
		status = domain.OrderStatusFilled
	}
	if status == domain.OrderStatusFilled && filled > 0 {
		qty = filled
	}
	return &domain.Order{
		CorrelationID:  o.ClientOrderID,
		BrokerID:       o.ID,
		Symbol:         o.Symbol,
		Side:           domain.OrderSide(o.Side),
		Type:           domain.OrderType(o.Type),
		Qty:            qty,
		Price:          decimalPtr(o.LimitPrice),
		FilledAvgPrice: decimalPtr(o.FilledAvgPrice),
		Status:         status,
		CreatedAt:      o.CreatedAt.UTC(),
	}
}

// mapStatus folds Alpaca's order lifecycle into the recorded statuses.
func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "rejected", "canceled", "expired", "suspended":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusPending
	}
}

// classify maps transport and API errors onto the broker error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", domain.ErrBrokerTimeout, err)
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", domain.ErrBrokerTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrBrokerRejected, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrBrokerTimeout, err)
	}
	// Connection-level failures never reached the order book.
	return fmt.Errorf("%w: %v", domain.ErrBrokerTimeout, err)
}

func decimalPtr(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}
