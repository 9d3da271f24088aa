package brokers

import (
	"context"

	"github.com/shopspring/decimal"

	"brokerapi/pkg/errors"
)

// QuantityPrecision is the number of fractional digits kept on order quantities.
const QuantityPrecision = 6

// RoundQuantity rounds q to QuantityPrecision digits, half away from zero:
// 1.1234567 becomes 1.123457.
func RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Round(QuantityPrecision)
}

// OrderRequest is the unified payload for order placement.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Kind     OrderKind
	Quantity decimal.Decimal
	// Price is the limit price, or the trigger price for stop-loss/take-profit.
	Price decimal.Decimal
}

// Validate checks the request before any exchange call is made.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.NewValidationError("symbol", "required", r.Symbol)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return errors.NewValidationError("side", "must be BUY or SELL", r.Side)
	}
	if RoundQuantity(r.Quantity).LessThanOrEqual(decimal.Zero) {
		return errors.NewValidationError("quantity", "must be positive after rounding", r.Quantity)
	}

	switch r.Kind {
	case OrderKindMarket:
	case OrderKindLimit, OrderKindStopLoss, OrderKindTakeProfit:
		if r.Price.LessThanOrEqual(decimal.Zero) {
			return errors.NewValidationError("price", "must be positive", r.Price)
		}
	default:
		return errors.NewValidationError("kind", "unknown order kind", r.Kind)
	}

	return nil
}

// Normalized returns a copy with the quantity rounded.
func (r OrderRequest) Normalized() OrderRequest {
	r.Quantity = RoundQuantity(r.Quantity)
	return r
}

// PlaceOrder validates req and dispatches it to the matching Create*Order call.
func PlaceOrder(ctx context.Context, b Broker, req OrderRequest) (*OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, NewError(b.Name(), "place order", ErrInvalidRequest, err)
	}

	switch req.Kind {
	case OrderKindMarket:
		return b.CreateMarketOrder(ctx, req.Symbol, req.Side, req.Quantity)
	case OrderKindLimit:
		return b.CreateLimitOrder(ctx, req.Symbol, req.Side, req.Quantity, req.Price)
	case OrderKindStopLoss:
		return b.CreateStopLossOrder(ctx, req.Symbol, req.Side, req.Quantity, req.Price)
	default:
		return b.CreateTakeProfitOrder(ctx, req.Symbol, req.Side, req.Quantity, req.Price)
	}
}

// CheckOrder validates req on behalf of exchange and returns it normalized.
func CheckOrder(exchange string, req OrderRequest) (OrderRequest, error) {
	if err := req.Validate(); err != nil {
		return req, NewError(exchange, "create order", ErrInvalidRequest, err)
	}
	return req.Normalized(), nil
}
