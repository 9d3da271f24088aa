package brokers

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side defines buy or sell direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// OrderKind defines the supported order types.
type OrderKind string

const (
	OrderKindMarket     OrderKind = "MARKET"
	OrderKindLimit      OrderKind = "LIMIT"
	OrderKindStopLoss   OrderKind = "STOP_LOSS"
	OrderKindTakeProfit OrderKind = "TAKE_PROFIT"
)

// Quote is the best bid/ask at call time. Never cached.
type Quote struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// Spread returns ask minus bid.
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// Kline is a one-minute candle. Raw keeps the exchange's native row as decoded.
type Kline struct {
	OpenTime    time.Time
	CloseTime   time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	VWAP        decimal.Decimal
	Trades      int64
	Raw         []any
}

// Stats24h holds the rolling 24 hour statistics of a symbol.
type Stats24h struct {
	Symbol string
	Volume decimal.Decimal
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Last   decimal.Decimal
}

// Balance is the holding of one asset.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Balances maps asset name to balance.
type Balances map[string]Balance

// NonZero drops assets with an empty total.
func (b Balances) NonZero() Balances {
	out := make(Balances, len(b))
	for asset, bal := range b {
		if !bal.Total().IsZero() {
			out[asset] = bal
		}
	}
	return out
}

// AccountInfo is the account snapshot. Raw is the exchange reply untouched.
type AccountInfo struct {
	Balances Balances
	Raw      json.RawMessage
}

// Order is an open order as reported by the exchange.
type Order struct {
	ID        string
	Symbol    string
	Side      Side
	Kind      string
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Filled    decimal.Decimal
	Status    string
	CreatedAt time.Time
}

// OpenOrders maps order id to order. Empty, never nil, when nothing is open.
type OpenOrders map[string]Order

// OrderResult is the exchange's reply to an accepted order submission.
type OrderResult struct {
	Exchange      string
	OrderIDs      []string
	ClientOrderID string
	Status        string
	Description   string
	Raw           json.RawMessage
}
