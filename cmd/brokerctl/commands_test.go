package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerapi/internal/adapters/config"
	"brokerapi/internal/metrics"
	"brokerapi/pkg/brokers"
	"brokerapi/pkg/crypto"
	"brokerapi/pkg/errors"
	"brokerapi/pkg/logger"
)

type placedOrder struct {
	kind   string
	symbol string
	side   brokers.Side
	qty    decimal.Decimal
	price  decimal.Decimal
}

type fakeBroker struct {
	quote    *brokers.Quote
	quoteErr error
	balances brokers.Balances
	orders   brokers.OpenOrders
	placed   []placedOrder
	polls    int
	onPoll   func()
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) GetPrice(ctx context.Context, symbol string) (*brokers.Quote, error) {
	f.polls++
	if f.onPoll != nil {
		f.onPoll()
	}
	return f.quote, f.quoteErr
}

func (f *fakeBroker) GetKlines(ctx context.Context, symbol string) ([]brokers.Kline, error) {
	return []brokers.Kline{{Open: decimal.NewFromInt(1), Trades: 3}}, nil
}

func (f *fakeBroker) Get24hStats(ctx context.Context, symbol string) (*brokers.Stats24h, error) {
	return &brokers.Stats24h{Symbol: symbol, Volume: decimal.NewFromInt(99)}, nil
}

func (f *fakeBroker) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (f *fakeBroker) GetAccountInfo(ctx context.Context) (*brokers.AccountInfo, error) {
	return &brokers.AccountInfo{Raw: json.RawMessage(`{"canTrade":true}`)}, nil
}

func (f *fakeBroker) GetBalances(ctx context.Context) (brokers.Balances, error) {
	return f.balances, nil
}

func (f *fakeBroker) GetOpenOrders(ctx context.Context) (brokers.OpenOrders, error) {
	return f.orders, nil
}

func (f *fakeBroker) record(kind, symbol string, side brokers.Side, qty, price decimal.Decimal) (*brokers.OrderResult, error) {
	f.placed = append(f.placed, placedOrder{kind: kind, symbol: symbol, side: side, qty: qty, price: price})
	return &brokers.OrderResult{Exchange: "fake", OrderIDs: []string{"42"}, Status: "NEW"}, nil
}

func (f *fakeBroker) CreateMarketOrder(ctx context.Context, symbol string, side brokers.Side, quantity decimal.Decimal) (*brokers.OrderResult, error) {
	return f.record("market", symbol, side, quantity, decimal.Zero)
}

func (f *fakeBroker) CreateLimitOrder(ctx context.Context, symbol string, side brokers.Side, quantity, price decimal.Decimal) (*brokers.OrderResult, error) {
	return f.record("limit", symbol, side, quantity, price)
}

func (f *fakeBroker) CreateStopLossOrder(ctx context.Context, symbol string, side brokers.Side, quantity, stopPrice decimal.Decimal) (*brokers.OrderResult, error) {
	return f.record("stop-loss", symbol, side, quantity, stopPrice)
}

func (f *fakeBroker) CreateTakeProfitOrder(ctx context.Context, symbol string, side brokers.Side, quantity, profitPrice decimal.Decimal) (*brokers.OrderResult, error) {
	return f.record("take-profit", symbol, side, quantity, profitPrice)
}

type fakeSource struct {
	broker    brokers.Broker
	connected *string
}

func (s fakeSource) GetClient(exchange string) (brokers.Broker, error) {
	if exchange != "fake" {
		return nil, errors.Wrapf(errors.ErrNotSupported, "exchange %q", exchange)
	}
	return s.broker, nil
}

func (s fakeSource) Connect(exchange, keyFile string) (brokers.Broker, error) {
	if s.connected != nil {
		*s.connected = keyFile
	}
	return s.GetClient(exchange)
}

type recordingTracker struct {
	mu       sync.Mutex
	captured []error
	tags     []map[string]string
	crumbs   []string
}

func (r *recordingTracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captured = append(r.captured, err)
	r.tags = append(r.tags, tags)
	return nil
}

func (r *recordingTracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	return nil
}

func (r *recordingTracker) AddBreadcrumb(ctx context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crumbs = append(r.crumbs, message)
}

func (r *recordingTracker) Flush(ctx context.Context) error { return nil }

func newTestApp(b *fakeBroker) (*app, *bytes.Buffer, *recordingTracker) {
	out := &bytes.Buffer{}
	tracker := &recordingTracker{}
	return &app{
		cfg:      &config.Config{},
		exchange: "fake",
		brokers:  fakeSource{broker: b},
		tracker:  tracker,
		out:      out,
		log:      logger.Nop().WithErrorTracker(tracker),
	}, out, tracker
}

func TestPriceCommand(t *testing.T) {
	b := &fakeBroker{quote: &brokers.Quote{
		Symbol: "BTCUSDT",
		Bid:    decimal.RequireFromString("4.00000000"),
		Ask:    decimal.RequireFromString("4.00000200"),
	}}
	a, out, tracker := newTestApp(b)

	require.NoError(t, a.run(context.Background(), []string{"price", "-symbol", "BTCUSDT"}))

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "fake", got["exchange"])
	assert.Equal(t, "BTCUSDT", got["symbol"])
	assert.Equal(t, "4", got["bid"])
	assert.Equal(t, "4.000002", got["ask"])
	assert.Equal(t, "0.000002", got["spread"])
	assert.Equal(t, []string{"brokerctl price"}, tracker.crumbs)
}

func TestCommandsRequireSymbol(t *testing.T) {
	for _, name := range []string{"price", "klines", "stats", "watch"} {
		t.Run(name, func(t *testing.T) {
			a, _, tracker := newTestApp(&fakeBroker{})
			err := a.run(context.Background(), []string{name})
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
			assert.Empty(t, tracker.captured, "bad input is not reported")
		})
	}
}

func TestUnknownCommandAndExchange(t *testing.T) {
	a, _, _ := newTestApp(&fakeBroker{})
	assert.ErrorIs(t, a.run(context.Background(), []string{"moon"}), errors.ErrNotSupported)

	a.exchange = "mtgox"
	assert.ErrorIs(t, a.run(context.Background(), []string{"orders"}), errors.ErrNotSupported)
}

func TestBalancesTable(t *testing.T) {
	b := &fakeBroker{balances: brokers.Balances{
		"BTC": {Asset: "BTC", Free: decimal.RequireFromString("1234.5"), Locked: decimal.RequireFromString("0.5")},
		"ETH": {Asset: "ETH"},
	}}
	a, out, _ := newTestApp(b)

	require.NoError(t, a.run(context.Background(), []string{"balances"}))
	text := out.String()
	assert.Contains(t, text, "ASSET")
	assert.Contains(t, text, "1,234.5")
	assert.Contains(t, text, "1,235")
	assert.NotContains(t, text, "ETH")

	out.Reset()
	require.NoError(t, a.run(context.Background(), []string{"balances", "-all"}))
	assert.Contains(t, out.String(), "ETH")
}

func TestOrdersCommandEmpty(t *testing.T) {
	a, out, _ := newTestApp(&fakeBroker{orders: brokers.OpenOrders{}})

	require.NoError(t, a.run(context.Background(), []string{"orders"}))
	assert.JSONEq(t, `{}`, out.String())
}

func TestAccountCommandPrintsRaw(t *testing.T) {
	a, out, _ := newTestApp(&fakeBroker{})

	require.NoError(t, a.run(context.Background(), []string{"account"}))
	assert.JSONEq(t, `{"canTrade":true}`, out.String())
}

func TestOrderCommands(t *testing.T) {
	tests := []struct {
		args  []string
		kind  string
		side  brokers.Side
		price string
	}{
		{[]string{"market", "-symbol", "BTCUSDT", "-side", "buy", "-qty", "1.1234567"}, "market", brokers.SideBuy, "0"},
		{[]string{"limit", "-symbol", "BTCUSDT", "-side", "SELL", "-qty", "1.1234567", "-price", "30000"}, "limit", brokers.SideSell, "30000"},
		{[]string{"stop-loss", "-symbol", "BTCUSDT", "-side", "sell", "-qty", "1.1234567", "-price", "29000"}, "stop-loss", brokers.SideSell, "29000"},
		{[]string{"take-profit", "-symbol", "BTCUSDT", "-side", "sell", "-qty", "1.1234567", "-price", "31000"}, "take-profit", brokers.SideSell, "31000"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			b := &fakeBroker{}
			a, out, _ := newTestApp(b)

			require.NoError(t, a.run(context.Background(), tt.args))
			require.Len(t, b.placed, 1)

			placed := b.placed[0]
			assert.Equal(t, tt.kind, placed.kind)
			assert.Equal(t, "BTCUSDT", placed.symbol)
			assert.Equal(t, tt.side, placed.side)
			assert.Equal(t, "1.1234567", placed.qty.String())
			assert.Equal(t, tt.price, placed.price.String())
			assert.Contains(t, out.String(), `"42"`)
		})
	}
}

func TestOrderCommandValidation(t *testing.T) {
	tests := map[string][]string{
		"bad side":      {"market", "-symbol", "BTCUSDT", "-side", "hold", "-qty", "1"},
		"bad qty":       {"market", "-symbol", "BTCUSDT", "-side", "buy", "-qty", "lots"},
		"missing price": {"limit", "-symbol", "BTCUSDT", "-side", "buy", "-qty", "1"},
		"unknown flag":  {"market", "-leverage", "100"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			b := &fakeBroker{}
			a, _, _ := newTestApp(b)

			err := a.run(context.Background(), args)
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
			assert.Empty(t, b.placed)
		})
	}
}

func TestWatchPollsCount(t *testing.T) {
	b := &fakeBroker{quote: &brokers.Quote{
		Symbol: "BTCUSDT",
		Bid:    decimal.NewFromInt(100),
		Ask:    decimal.NewFromInt(101),
	}}
	a, out, _ := newTestApp(b)

	require.NoError(t, a.run(context.Background(), []string{"watch", "-symbol", "BTCUSDT", "-interval", "1ms", "-count", "3"}))

	assert.Equal(t, 3, b.polls)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "bid 100 ask 101 spread 1")
}

func TestWatchKeepsPollingOnFailure(t *testing.T) {
	b := &fakeBroker{quoteErr: brokers.NewError("fake", "get price", brokers.ErrNetwork, nil)}
	a, out, tracker := newTestApp(b)

	require.NoError(t, a.run(context.Background(), []string{"watch", "-symbol", "BTCUSDT", "-interval", "1ms", "-count", "2"}))

	assert.Equal(t, 2, b.polls)
	assert.Contains(t, out.String(), "broker network failure")
	assert.Empty(t, tracker.captured)
}

func TestWatchStopsOnCancel(t *testing.T) {
	b := &fakeBroker{quote: &brokers.Quote{Symbol: "BTCUSDT"}}
	a, _, _ := newTestApp(b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, a.run(ctx, []string{"watch", "-symbol", "BTCUSDT", "-interval", "5ms"}))
	assert.GreaterOrEqual(t, b.polls, 1)
}

func TestSealCommand(t *testing.T) {
	const key = "0123456789abcdef0123456789abcdef"

	dir := t.TempDir()
	in := filepath.Join(dir, "plain")
	out := filepath.Join(dir, "sealed")
	require.NoError(t, os.WriteFile(in, []byte("KEY123\nSECRET456\n"), 0o600))

	a, _, _ := newTestApp(&fakeBroker{})
	a.exchange = "unused"
	a.cfg.Crypto.EncryptionKey = key

	require.NoError(t, a.run(context.Background(), []string{"seal", "-in", in, "-out", out}))

	enc, err := crypto.NewEncryptor(key)
	require.NoError(t, err)
	creds, err := brokers.LoadSealedCredentials(out, enc)
	require.NoError(t, err)
	assert.Equal(t, "KEY123", creds.APIKey)
	assert.Equal(t, "SECRET456", creds.Secret)
}

func TestSealCommandRequiresKey(t *testing.T) {
	a, _, _ := newTestApp(&fakeBroker{})

	err := a.run(context.Background(), []string{"seal", "-in", "a", "-out", "b"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestBrokerFailureIsReported(t *testing.T) {
	b := &fakeBroker{quoteErr: brokers.NewExchangeError("fake", "get price", -1121, "Invalid symbol.", nil)}
	a, _, tracker := newTestApp(b)

	err := a.run(context.Background(), []string{"price", "-symbol", "NOPE"})
	assert.ErrorIs(t, err, brokers.ErrExchange)
	require.Len(t, tracker.captured, 1)
	assert.ErrorIs(t, tracker.captured[0], brokers.ErrExchange)
	assert.Equal(t, map[string]string{"command": "price", "exchange": "fake"}, tracker.tags[0])
}

func TestKeysFlagConnects(t *testing.T) {
	var keyFile string
	a, out, _ := newTestApp(&fakeBroker{orders: brokers.OpenOrders{}})
	a.brokers = fakeSource{broker: a.brokers.(fakeSource).broker, connected: &keyFile}

	require.NoError(t, a.run(context.Background(), []string{"orders"}))
	assert.Empty(t, keyFile, "configured keys are used by default")

	a.keyFile = "/tmp/other-keys"
	out.Reset()
	require.NoError(t, a.run(context.Background(), []string{"orders"}))
	assert.Equal(t, "/tmp/other-keys", keyFile)
	assert.JSONEq(t, `{}`, out.String())
}

func quotePolls(t *testing.T, symbol, status string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, metrics.QuotePolls.WithLabelValues("fake", symbol, status).Write(m))
	return m.GetCounter().GetValue()
}

func TestWatchInterruptedPollIsNotAFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &fakeBroker{
		quoteErr: brokers.NewError("fake", "get price", brokers.ErrNetwork, context.Canceled),
		onPoll:   cancel,
	}
	a, out, tracker := newTestApp(b)

	require.NoError(t, a.run(ctx, []string{"watch", "-symbol", "INTRUSDT", "-interval", "1ms"}))

	assert.Equal(t, 1, b.polls)
	assert.Empty(t, out.String())
	assert.Empty(t, tracker.captured)
	assert.Zero(t, quotePolls(t, "INTRUSDT", "error"))
}
