package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"brokerapi/pkg/brokers"
	"brokerapi/pkg/logger"
)

// Name identifies the exchange in errors, logs and metrics.
const Name = "binance"

const (
	spotBaseURL        = "https://api.binance.com"
	defaultRecvWindow  = 10 * time.Second
	defaultHTTPTimeout = 10 * time.Second
	klineInterval      = "1m"
)

// Config configures the Binance client.
type Config struct {
	Credentials brokers.Credentials

	// BaseURL overrides the spot API host (testnet, mocks).
	BaseURL    string
	RecvWindow time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger

	// Clock stamps order requests; defaults to time.Now.
	Clock func() time.Time
}

// Client implements brokers.Broker for the Binance spot REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
}

var _ brokers.Broker = (*Client)(nil)

// NewClient creates a new Binance adapter. Credentials may be empty for
// market-data-only use; authenticated calls then fail with brokers.ErrAuth.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Credentials.APIKey == "" && cfg.Credentials.Secret != "" {
		return nil, brokers.NewError(Name, "new client", brokers.ErrAuth, errMissingKey)
	}
	if cfg.Credentials.Secret == "" && cfg.Credentials.APIKey != "" {
		return nil, brokers.NewError(Name, "new client", brokers.ErrAuth, errMissingSecret)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = spotBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.With("exchange", Name),
	}, nil
}

// WithCredentials returns a copy of the client using creds.
func (c *Client) WithCredentials(creds brokers.Credentials) (*Client, error) {
	cfg := c.cfg
	cfg.Credentials = creds
	cfg.HTTPClient = c.httpClient
	cfg.Logger = c.log
	return NewClient(cfg)
}

func (c *Client) Name() string {
	return Name
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (*brokers.Quote, error) {
	const op = "get price"

	params := url.Values{"symbol": []string{normalizeSymbol(symbol)}}
	data, err := c.get(ctx, op, "/api/v3/ticker/bookTicker", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		Symbol   string `json:"symbol"`
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
		Msg      string `json:"msg"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, parseError(op, data, err)
	}

	bid, err := parseDecimal("bidPrice", res.BidPrice)
	if err != nil {
		return nil, parseErrorMsg(op, data, res.Msg, err)
	}
	ask, err := parseDecimal("askPrice", res.AskPrice)
	if err != nil {
		return nil, parseErrorMsg(op, data, res.Msg, err)
	}

	return &brokers.Quote{
		Symbol: res.Symbol,
		Bid:    bid,
		Ask:    ask,
	}, nil
}

func (c *Client) GetKlines(ctx context.Context, symbol string) ([]brokers.Kline, error) {
	const op = "get klines"

	params := url.Values{
		"symbol":   []string{normalizeSymbol(symbol)},
		"interval": []string{klineInterval},
	}
	data, err := c.get(ctx, op, "/api/v3/klines", params)
	if err != nil {
		return nil, err
	}

	klines, err := parseKlines(data)
	if err != nil {
		return nil, parseError(op, data, err)
	}
	return klines, nil
}

func (c *Client) Get24hStats(ctx context.Context, symbol string) (*brokers.Stats24h, error) {
	const op = "get 24h stats"

	params := url.Values{"symbol": []string{normalizeSymbol(symbol)}}
	data, err := c.get(ctx, op, "/api/v3/ticker/24hr", params)
	if err != nil {
		return nil, err
	}

	var res struct {
		Symbol    string `json:"symbol"`
		Volume    string `json:"volume"`
		OpenPrice string `json:"openPrice"`
		HighPrice string `json:"highPrice"`
		LowPrice  string `json:"lowPrice"`
		LastPrice string `json:"lastPrice"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, parseError(op, data, err)
	}

	stats := &brokers.Stats24h{Symbol: res.Symbol}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"volume", res.Volume, &stats.Volume},
		{"openPrice", res.OpenPrice, &stats.Open},
		{"highPrice", res.HighPrice, &stats.High},
		{"lowPrice", res.LowPrice, &stats.Low},
		{"lastPrice", res.LastPrice, &stats.Last},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.name, f.raw)
		if err != nil {
			return nil, parseError(op, data, err)
		}
		*f.dst = v
	}

	return stats, nil
}

func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	const op = "get server time"

	data, err := c.get(ctx, op, "/api/v3/time", nil)
	if err != nil {
		return time.Time{}, err
	}

	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return time.Time{}, parseError(op, data, err)
	}
	if res.ServerTime == 0 {
		return time.Time{}, parseError(op, data, errMissingField("serverTime"))
	}

	return time.UnixMilli(res.ServerTime), nil
}

func (c *Client) GetAccountInfo(ctx context.Context) (*brokers.AccountInfo, error) {
	const op = "get account info"

	if err := c.requireCredentials(op); err != nil {
		return nil, err
	}

	ts, err := c.GetServerTime(ctx)
	if err != nil {
		return nil, err
	}

	data, err := c.signed(ctx, op, http.MethodGet, "/api/v3/account", url.Values{}, ts)
	if err != nil {
		return nil, err
	}

	var res struct {
		Balances *[]struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, parseError(op, data, err)
	}
	if res.Balances == nil {
		return nil, parseError(op, data, errMissingField("balances"))
	}

	balances := make(brokers.Balances, len(*res.Balances))
	for _, b := range *res.Balances {
		free, err := parseDecimal("free", b.Free)
		if err != nil {
			return nil, parseError(op, data, err)
		}
		locked, err := parseDecimal("locked", b.Locked)
		if err != nil {
			return nil, parseError(op, data, err)
		}
		balances[b.Asset] = brokers.Balance{
			Asset:  b.Asset,
			Free:   free,
			Locked: locked,
		}
	}

	return &brokers.AccountInfo{
		Balances: balances,
		Raw:      json.RawMessage(data),
	}, nil
}

func (c *Client) GetBalances(ctx context.Context) (brokers.Balances, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}
	return info.Balances, nil
}

func (c *Client) GetOpenOrders(ctx context.Context) (brokers.OpenOrders, error) {
	const op = "get open orders"

	if err := c.requireCredentials(op); err != nil {
		return nil, err
	}

	ts, err := c.GetServerTime(ctx)
	if err != nil {
		return nil, err
	}

	data, err := c.signed(ctx, op, http.MethodGet, "/api/v3/openOrders", url.Values{}, ts)
	if err != nil {
		return nil, err
	}

	var res []struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		Type        string `json:"type"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		Time        int64  `json:"time"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, parseError(op, data, err)
	}

	orders := make(brokers.OpenOrders, len(res))
	for _, o := range res {
		price, err := parseDecimal("price", o.Price)
		if err != nil {
			return nil, parseError(op, data, err)
		}
		qty, err := parseDecimal("origQty", o.OrigQty)
		if err != nil {
			return nil, parseError(op, data, err)
		}
		filled, err := parseDecimal("executedQty", o.ExecutedQty)
		if err != nil {
			return nil, parseError(op, data, err)
		}

		id := strconv.FormatInt(o.OrderID, 10)
		side, _ := brokers.ParseSide(o.Side)
		orders[id] = brokers.Order{
			ID:        id,
			Symbol:    o.Symbol,
			Side:      side,
			Kind:      o.Type,
			Status:    o.Status,
			Price:     price,
			Quantity:  qty,
			Filled:    filled,
			CreatedAt: time.UnixMilli(o.Time),
		}
	}

	return orders, nil
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side brokers.Side, quantity decimal.Decimal) (*brokers.OrderResult, error) {
	return c.placeOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindMarket,
		Quantity: quantity,
	})
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side brokers.Side, quantity, price decimal.Decimal) (*brokers.OrderResult, error) {
	return c.placeOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindLimit,
		Quantity: quantity,
		Price:    price,
	})
}

func (c *Client) CreateStopLossOrder(ctx context.Context, symbol string, side brokers.Side, quantity, stopPrice decimal.Decimal) (*brokers.OrderResult, error) {
	return c.placeOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindStopLoss,
		Quantity: quantity,
		Price:    stopPrice,
	})
}

func (c *Client) CreateTakeProfitOrder(ctx context.Context, symbol string, side brokers.Side, quantity, profitPrice decimal.Decimal) (*brokers.OrderResult, error) {
	return c.placeOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindTakeProfit,
		Quantity: quantity,
		Price:    profitPrice,
	})
}

func (c *Client) placeOrder(ctx context.Context, req brokers.OrderRequest) (*brokers.OrderResult, error) {
	const op = brokers.OpCreateOrder

	if err := c.requireCredentials(op); err != nil {
		return nil, err
	}

	req, err := brokers.CheckOrder(Name, req)
	if err != nil {
		return nil, err
	}

	params := orderParams(req)
	params.Set("newClientOrderId", uuid.NewString())

	data, err := c.signed(ctx, op, http.MethodPost, "/api/v3/order", params, c.cfg.Clock())
	if err != nil {
		return nil, err
	}

	var res struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Symbol        string `json:"symbol"`
		Type          string `json:"type"`
		Side          string `json:"side"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, parseError(op, data, err)
	}

	return &brokers.OrderResult{
		Exchange:      Name,
		OrderIDs:      []string{strconv.FormatInt(res.OrderID, 10)},
		ClientOrderID: res.ClientOrderID,
		Status:        res.Status,
		Description:   strings.TrimSpace(strings.Join([]string{res.Side, res.Type, res.Symbol}, " ")),
		Raw:           json.RawMessage(data),
	}, nil
}

// orderParams maps a normalized request onto Binance order parameters.
// Stop-loss and take-profit are sent as their *_LIMIT variants with the
// trigger price used both as stopPrice and limit price.
func orderParams(req brokers.OrderRequest) url.Values {
	params := url.Values{
		"symbol":   []string{normalizeSymbol(req.Symbol)},
		"side":     []string{string(req.Side)},
		"quantity": []string{req.Quantity.String()},
	}

	switch req.Kind {
	case brokers.OrderKindMarket:
		params.Set("type", "MARKET")
	case brokers.OrderKindLimit:
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
	case brokers.OrderKindStopLoss:
		params.Set("type", "STOP_LOSS_LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
		params.Set("stopPrice", req.Price.String())
	case brokers.OrderKindTakeProfit:
		params.Set("type", "TAKE_PROFIT_LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
		params.Set("stopPrice", req.Price.String())
	}

	return params
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "-", ""))
}
