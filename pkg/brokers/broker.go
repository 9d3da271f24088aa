package brokers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Broker defines the uniform contract each exchange client satisfies.
// Implementations are immutable after construction and perform exactly one
// exchange call per method (two for Binance calls that sync the server clock).
type Broker interface {
	Name() string

	// Market data
	GetPrice(ctx context.Context, symbol string) (*Quote, error)
	GetKlines(ctx context.Context, symbol string) ([]Kline, error)
	Get24hStats(ctx context.Context, symbol string) (*Stats24h, error)
	GetServerTime(ctx context.Context) (time.Time, error)

	// Account
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)
	GetBalances(ctx context.Context) (Balances, error)
	GetOpenOrders(ctx context.Context) (OpenOrders, error)

	// Trading. Quantity is rounded to QuantityPrecision digits before it is sent.
	CreateMarketOrder(ctx context.Context, symbol string, side Side, quantity decimal.Decimal) (*OrderResult, error)
	CreateLimitOrder(ctx context.Context, symbol string, side Side, quantity, price decimal.Decimal) (*OrderResult, error)
	CreateStopLossOrder(ctx context.Context, symbol string, side Side, quantity, stopPrice decimal.Decimal) (*OrderResult, error)
	CreateTakeProfitOrder(ctx context.Context, symbol string, side Side, quantity, profitPrice decimal.Decimal) (*OrderResult, error)
}
