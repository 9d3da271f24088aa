package kraken

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	krakenapi "github.com/beldur/kraken-go-api-client"
	"github.com/shopspring/decimal"

	"brokerapi/pkg/brokers"
	"brokerapi/pkg/logger"
)

// Name identifies the exchange in errors, logs and metrics.
const Name = "kraken"

const (
	defaultHTTPTimeout = 10 * time.Second
	ohlcInterval       = "1"
)

// queryAPI is the slice of the kraken library this client relies on: the
// library signs private methods and returns the decoded "result" member.
type queryAPI interface {
	Query(method string, data map[string]string) (interface{}, error)
}

// Config configures the Kraken client.
type Config struct {
	Credentials brokers.Credentials

	// BaseURL redirects library calls to another host (mocks, proxies).
	BaseURL    string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Client implements brokers.Broker on top of the kraken-go-api-client library.
type Client struct {
	cfg Config
	api queryAPI
	log *logger.Logger
}

var _ brokers.Broker = (*Client)(nil)

// NewClient creates a new Kraken adapter.
func NewClient(cfg Config) (*Client, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	if cfg.BaseURL != "" {
		redirected, err := redirectClient(httpClient, cfg.BaseURL)
		if err != nil {
			return nil, brokers.NewError(Name, "new client", brokers.ErrInvalidRequest, err)
		}
		httpClient = redirected
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Client{
		cfg: cfg,
		api: krakenapi.NewWithClient(cfg.Credentials.APIKey, cfg.Credentials.Secret, httpClient),
		log: log.With("exchange", Name),
	}, nil
}

// WithCredentials returns a copy of the client using creds.
func (c *Client) WithCredentials(creds brokers.Credentials) (*Client, error) {
	cfg := c.cfg
	cfg.Credentials = creds
	cfg.Logger = c.log
	return NewClient(cfg)
}

func (c *Client) Name() string {
	return Name
}

type tickerInfo struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Close  []string `json:"c"`
	Volume []string `json:"v"`
	Low    []string `json:"l"`
	High   []string `json:"h"`
	Open   string   `json:"o"`
}

func (c *Client) ticker(ctx context.Context, op, symbol string) (string, tickerInfo, []byte, error) {
	var res map[string]tickerInfo
	raw, err := c.call(ctx, op, "Ticker", map[string]string{"pair": symbol}, &res)
	if err != nil {
		return "", tickerInfo{}, raw, err
	}

	pair, info, ok := firstPair(res)
	if !ok {
		return "", tickerInfo{}, raw, parseError(op, raw, errMissingField("result"))
	}
	return pair, info, raw, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (*brokers.Quote, error) {
	const op = "get price"

	pair, info, raw, err := c.ticker(ctx, op, symbol)
	if err != nil {
		return nil, err
	}

	bid, err := parseIndexed("b", info.Bid, 0)
	if err != nil {
		return nil, parseError(op, raw, err)
	}
	ask, err := parseIndexed("a", info.Ask, 0)
	if err != nil {
		return nil, parseError(op, raw, err)
	}

	return &brokers.Quote{
		Symbol: pair,
		Bid:    bid,
		Ask:    ask,
	}, nil
}

func (c *Client) GetKlines(ctx context.Context, symbol string) ([]brokers.Kline, error) {
	const op = "get klines"

	var res map[string]json.RawMessage
	raw, err := c.call(ctx, op, "OHLC", map[string]string{"pair": symbol, "interval": ohlcInterval}, &res)
	if err != nil {
		return nil, err
	}

	delete(res, "last")
	_, rows, ok := firstPair(res)
	if !ok {
		return nil, parseError(op, raw, errMissingField("result"))
	}

	klines, err := parseKlines(rows)
	if err != nil {
		return nil, parseError(op, raw, err)
	}
	return klines, nil
}

func (c *Client) Get24hStats(ctx context.Context, symbol string) (*brokers.Stats24h, error) {
	const op = "get 24h stats"

	pair, info, raw, err := c.ticker(ctx, op, symbol)
	if err != nil {
		return nil, err
	}

	stats := &brokers.Stats24h{Symbol: pair}
	fields := []struct {
		name   string
		values []string
		idx    int
		dst    *decimal.Decimal
	}{
		{"v", info.Volume, 1, &stats.Volume},
		{"o", []string{info.Open}, 0, &stats.Open},
		{"h", info.High, 1, &stats.High},
		{"l", info.Low, 1, &stats.Low},
		{"c", info.Close, 0, &stats.Last},
	}
	for _, f := range fields {
		v, err := parseIndexed(f.name, f.values, f.idx)
		if err != nil {
			return nil, parseError(op, raw, err)
		}
		*f.dst = v
	}

	return stats, nil
}

func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	const op = "get server time"

	var res struct {
		UnixTime int64 `json:"unixtime"`
	}
	raw, err := c.call(ctx, op, "Time", nil, &res)
	if err != nil {
		return time.Time{}, err
	}
	if res.UnixTime == 0 {
		return time.Time{}, parseError(op, raw, errMissingField("unixtime"))
	}

	return time.Unix(res.UnixTime, 0), nil
}

func (c *Client) GetAccountInfo(ctx context.Context) (*brokers.AccountInfo, error) {
	balances, raw, err := c.balances(ctx, "get account info")
	if err != nil {
		return nil, err
	}
	return &brokers.AccountInfo{
		Balances: balances,
		Raw:      json.RawMessage(raw),
	}, nil
}

func (c *Client) GetBalances(ctx context.Context) (brokers.Balances, error) {
	balances, _, err := c.balances(ctx, "get balances")
	return balances, err
}

func (c *Client) balances(ctx context.Context, op string) (brokers.Balances, []byte, error) {
	if err := c.requireCredentials(op); err != nil {
		return nil, nil, err
	}

	var res map[string]string
	raw, err := c.call(ctx, op, "Balance", nil, &res)
	if err != nil {
		return nil, raw, err
	}

	balances := make(brokers.Balances, len(res))
	for asset, amount := range res {
		free, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, raw, parseError(op, raw, err)
		}
		balances[asset] = brokers.Balance{
			Asset:  asset,
			Free:   free,
			Locked: decimal.Zero,
		}
	}

	return balances, raw, nil
}

func (c *Client) GetOpenOrders(ctx context.Context) (brokers.OpenOrders, error) {
	const op = "get open orders"

	if err := c.requireCredentials(op); err != nil {
		return nil, err
	}

	var res struct {
		Open map[string]struct {
			Status   string  `json:"status"`
			OpenTime float64 `json:"opentm"`
			Volume   string  `json:"vol"`
			Executed string  `json:"vol_exec"`
			Descr    struct {
				Pair      string `json:"pair"`
				Type      string `json:"type"`
				OrderType string `json:"ordertype"`
				Price     string `json:"price"`
			} `json:"descr"`
		} `json:"open"`
	}
	raw, err := c.call(ctx, op, "OpenOrders", nil, &res)
	if err != nil {
		return nil, err
	}

	orders := make(brokers.OpenOrders, len(res.Open))
	for txid, o := range res.Open {
		price, err := parseDecimal("descr.price", o.Descr.Price)
		if err != nil {
			return nil, parseError(op, raw, err)
		}
		volume, err := parseDecimal("vol", o.Volume)
		if err != nil {
			return nil, parseError(op, raw, err)
		}
		executed, err := parseDecimal("vol_exec", o.Executed)
		if err != nil {
			return nil, parseError(op, raw, err)
		}

		side, _ := brokers.ParseSide(o.Descr.Type)
		orders[txid] = brokers.Order{
			ID:        txid,
			Symbol:    o.Descr.Pair,
			Side:      side,
			Kind:      o.Descr.OrderType,
			Status:    o.Status,
			Price:     price,
			Quantity:  volume,
			Filled:    executed,
			CreatedAt: time.UnixMilli(int64(o.OpenTime * 1000)),
		}
	}

	c.log.Debugw("Kraken open orders", "count", len(orders), "bytes", len(raw))
	return orders, nil
}

func (c *Client) CreateMarketOrder(ctx context.Context, symbol string, side brokers.Side, quantity decimal.Decimal) (*brokers.OrderResult, error) {
	return c.addOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindMarket,
		Quantity: quantity,
	})
}

func (c *Client) CreateLimitOrder(ctx context.Context, symbol string, side brokers.Side, quantity, price decimal.Decimal) (*brokers.OrderResult, error) {
	return c.addOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindLimit,
		Quantity: quantity,
		Price:    price,
	})
}

func (c *Client) CreateStopLossOrder(ctx context.Context, symbol string, side brokers.Side, quantity, stopPrice decimal.Decimal) (*brokers.OrderResult, error) {
	return c.addOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindStopLoss,
		Quantity: quantity,
		Price:    stopPrice,
	})
}

func (c *Client) CreateTakeProfitOrder(ctx context.Context, symbol string, side brokers.Side, quantity, profitPrice decimal.Decimal) (*brokers.OrderResult, error) {
	return c.addOrder(ctx, brokers.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Kind:     brokers.OrderKindTakeProfit,
		Quantity: quantity,
		Price:    profitPrice,
	})
}

var orderTypes = map[brokers.OrderKind]string{
	brokers.OrderKindMarket:     "market",
	brokers.OrderKindLimit:      "limit",
	brokers.OrderKindStopLoss:   "stop-loss",
	brokers.OrderKindTakeProfit: "take-profit",
}

func (c *Client) addOrder(ctx context.Context, req brokers.OrderRequest) (*brokers.OrderResult, error) {
	const op = brokers.OpCreateOrder

	if err := c.requireCredentials(op); err != nil {
		return nil, err
	}

	req, err := brokers.CheckOrder(Name, req)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"pair":      req.Symbol,
		"type":      strings.ToLower(string(req.Side)),
		"ordertype": orderTypes[req.Kind],
		"volume":    req.Quantity.String(),
	}
	if req.Kind != brokers.OrderKindMarket {
		params["price"] = req.Price.String()
	}

	var res struct {
		Descr struct {
			Order string `json:"order"`
		} `json:"descr"`
		TxID []string `json:"txid"`
	}
	raw, err := c.call(ctx, op, "AddOrder", params, &res)
	if err != nil {
		return nil, err
	}

	return &brokers.OrderResult{
		Exchange:    Name,
		OrderIDs:    res.TxID,
		Status:      "submitted",
		Description: res.Descr.Order,
		Raw:         json.RawMessage(raw),
	}, nil
}

func (c *Client) requireCredentials(op string) error {
	if c.cfg.Credentials.APIKey == "" || c.cfg.Credentials.Secret == "" {
		return brokers.NewError(Name, op, brokers.ErrAuth, errNoCredentials)
	}
	return nil
}

// call runs one library query, re-encodes the decoded result and unmarshals it
// into out. The re-encoded bytes are returned for error reporting and Raw fields.
func (c *Client) call(ctx context.Context, op, method string, params map[string]string, out interface{}) ([]byte, error) {
	// The library has no context support; honour cancellation before the call.
	if err := ctx.Err(); err != nil {
		return nil, brokers.NewError(Name, op, brokers.ErrNetwork, err)
	}

	start := time.Now()
	result, err := c.api.Query(method, params)
	c.log.Debugw("Kraken request", "op", op, "method", method, "duration", time.Since(start), "error", err)
	if err != nil {
		berr := classifyError(op, err)
		if berr.Kind == brokers.ErrExchange || berr.Kind == brokers.ErrAuth {
			c.log.Warnw("Kraken rejected request", "op", op, "method", method, "error", berr)
		}
		return nil, berr
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, parseError(op, nil, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return raw, parseError(op, raw, err)
	}
	return raw, nil
}

// firstPair returns the entry with the smallest key so results are stable
// when Kraken answers with more than one pair.
func firstPair[T any](m map[string]T) (string, T, bool) {
	var zero T
	if len(m) == 0 {
		return "", zero, false
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0], m[keys[0]], true
}
