package main

import (
	"context"
	"flag"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"brokerapi/internal/adapters/config"
	"brokerapi/internal/metrics"
	"brokerapi/pkg/brokers"
	"brokerapi/pkg/crypto"
	"brokerapi/pkg/errors"
	"brokerapi/pkg/logger"
)

// brokerSource hands out clients by exchange name.
type brokerSource interface {
	GetClient(exchange string) (brokers.Broker, error)
	Connect(exchange, keyFile string) (brokers.Broker, error)
}

type app struct {
	cfg      *config.Config
	exchange string
	keyFile  string
	brokers  brokerSource
	tracker  errors.Tracker
	out      io.Writer
	colors   bool
	log      *logger.Logger
}

type options struct {
	symbol   string
	side     string
	qty      string
	price    string
	interval time.Duration
	count    int
	all      bool
	in       string
	out      string
}

type command struct {
	name string
	help string
	// offline commands never touch an exchange
	offline bool
	run     func(a *app, ctx context.Context, b brokers.Broker, opts *options) error
}

var commands = []command{
	{name: "price", help: "best bid/ask (-symbol)", run: (*app).price},
	{name: "klines", help: "one-minute candles (-symbol)", run: (*app).klines},
	{name: "stats", help: "24h statistics (-symbol)", run: (*app).stats},
	{name: "time", help: "exchange server time and local clock skew", run: (*app).serverTime},
	{name: "account", help: "raw account snapshot", run: (*app).account},
	{name: "balances", help: "asset balances table (-all to include empty)", run: (*app).balances},
	{name: "orders", help: "open orders keyed by id", run: (*app).orders},
	{name: "market", help: "market order (-symbol -side -qty)", run: orderCommand(brokers.OrderKindMarket)},
	{name: "limit", help: "limit order (-symbol -side -qty -price)", run: orderCommand(brokers.OrderKindLimit)},
	{name: "stop-loss", help: "stop-loss order (-symbol -side -qty -price)", run: orderCommand(brokers.OrderKindStopLoss)},
	{name: "take-profit", help: "take-profit order (-symbol -side -qty -price)", run: orderCommand(brokers.OrderKindTakeProfit)},
	{name: "watch", help: "poll best bid/ask and serve /metrics (-symbol -interval -count)", run: (*app).watch},
	{name: "seal", help: "encrypt a key file with CREDENTIALS_ENCRYPTION_KEY (-in -out)", offline: true, run: (*app).seal},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.NewValidationError("command", "required", "")
	}

	cmd, ok := findCommand(args[0])
	if !ok {
		return errors.Wrapf(errors.ErrNotSupported, "unknown command %q", args[0])
	}

	opts, err := parseOptions(cmd.name, args[1:])
	if err != nil {
		return err
	}

	var b brokers.Broker
	if !cmd.offline {
		b, err = a.broker()
		if err != nil {
			return err
		}
	}

	a.tracker.AddBreadcrumb(ctx, "brokerctl "+cmd.name, "command", errors.LevelInfo, map[string]interface{}{
		"exchange": a.exchange,
		"symbol":   opts.symbol,
	})

	err = cmd.run(a, ctx, b, opts)
	if err != nil {
		a.report(ctx, cmd.name, err)
	}
	return err
}

func (a *app) broker() (brokers.Broker, error) {
	if a.keyFile != "" {
		return a.brokers.Connect(a.exchange, a.keyFile)
	}
	return a.brokers.GetClient(a.exchange)
}

// report logs unexpected failures through the tracker-backed logger. Bad
// input is the caller's problem and is only returned.
func (a *app) report(ctx context.Context, name string, err error) {
	metrics.RecordBrokerError(err)
	if errors.Is(err, errors.ErrInvalidInput) {
		return
	}
	a.log.ErrorWithContext(ctx, err, map[string]string{
		"command":  name,
		"exchange": a.exchange,
	})
}

func parseOptions(name string, args []string) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.symbol, "symbol", "", "Trading pair, e.g. BTCUSDT or XBTUSD")
	fs.StringVar(&opts.side, "side", "", "Order side (buy|sell)")
	fs.StringVar(&opts.qty, "qty", "", "Order quantity")
	fs.StringVar(&opts.price, "price", "", "Limit or trigger price")
	fs.DurationVar(&opts.interval, "interval", 5*time.Second, "Polling interval for watch")
	fs.IntVar(&opts.count, "count", 0, "Number of polls for watch (0 = until interrupted)")
	fs.BoolVar(&opts.all, "all", false, "Include empty balances")
	fs.StringVar(&opts.in, "in", "", "Plain key file to seal")
	fs.StringVar(&opts.out, "out", "", "Destination of the sealed key file")

	if err := fs.Parse(args); err != nil {
		return nil, errors.NewValidationError("flags", err.Error(), strings.Join(args, " "))
	}
	return opts, nil
}

func (o *options) requireSymbol() error {
	if o.symbol == "" {
		return errors.NewValidationError("symbol", "required", "")
	}
	return nil
}

func (a *app) price(ctx context.Context, b brokers.Broker, opts *options) error {
	if err := opts.requireSymbol(); err != nil {
		return err
	}

	quote, err := b.GetPrice(ctx, opts.symbol)
	if err != nil {
		return err
	}

	return writeJSON(a.out, quoteView{
		Exchange: b.Name(),
		Symbol:   quote.Symbol,
		Bid:      quote.Bid,
		Ask:      quote.Ask,
		Spread:   quote.Spread(),
	})
}

func (a *app) klines(ctx context.Context, b brokers.Broker, opts *options) error {
	if err := opts.requireSymbol(); err != nil {
		return err
	}

	klines, err := b.GetKlines(ctx, opts.symbol)
	if err != nil {
		return err
	}
	return writeJSON(a.out, klines)
}

func (a *app) stats(ctx context.Context, b brokers.Broker, opts *options) error {
	if err := opts.requireSymbol(); err != nil {
		return err
	}

	stats, err := b.Get24hStats(ctx, opts.symbol)
	if err != nil {
		return err
	}
	return writeJSON(a.out, stats)
}

func (a *app) serverTime(ctx context.Context, b brokers.Broker, _ *options) error {
	before := time.Now()
	serverTime, err := b.GetServerTime(ctx)
	if err != nil {
		return err
	}
	// Compare against the midpoint of the round trip.
	local := before.Add(time.Since(before) / 2)

	return writeJSON(a.out, timeView{
		Exchange:   b.Name(),
		ServerTime: serverTime.UTC(),
		LocalTime:  local.UTC(),
		Skew:       serverTime.Sub(local).Round(time.Millisecond).String(),
	})
}

func (a *app) account(ctx context.Context, b brokers.Broker, _ *options) error {
	info, err := b.GetAccountInfo(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.out, info.Raw)
}

func (a *app) balances(ctx context.Context, b brokers.Broker, opts *options) error {
	balances, err := b.GetBalances(ctx)
	if err != nil {
		return err
	}
	if !opts.all {
		balances = balances.NonZero()
	}
	return writeBalances(a.out, balances)
}

func (a *app) orders(ctx context.Context, b brokers.Broker, _ *options) error {
	orders, err := b.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	return writeJSON(a.out, orders)
}

func orderCommand(kind brokers.OrderKind) func(a *app, ctx context.Context, b brokers.Broker, opts *options) error {
	return func(a *app, ctx context.Context, b brokers.Broker, opts *options) error {
		req, err := opts.orderRequest(kind)
		if err != nil {
			return err
		}

		res, err := brokers.PlaceOrder(ctx, b, req)
		if err != nil {
			return err
		}

		a.log.Infow("Order submitted",
			"exchange", b.Name(),
			"kind", kind,
			"symbol", req.Symbol,
			"side", req.Side,
			"quantity", brokers.RoundQuantity(req.Quantity),
			"ids", res.OrderIDs,
		)
		return writeJSON(a.out, res)
	}
}

func (o *options) orderRequest(kind brokers.OrderKind) (brokers.OrderRequest, error) {
	req := brokers.OrderRequest{Symbol: o.symbol, Kind: kind}

	side, ok := brokers.ParseSide(o.side)
	if !ok {
		return req, errors.NewValidationError("side", "must be buy or sell", o.side)
	}
	req.Side = side

	qty, err := decimal.NewFromString(o.qty)
	if err != nil {
		return req, errors.NewValidationError("qty", "must be a decimal number", o.qty)
	}
	req.Quantity = qty

	if kind != brokers.OrderKindMarket {
		price, err := decimal.NewFromString(o.price)
		if err != nil {
			return req, errors.NewValidationError("price", "must be a decimal number", o.price)
		}
		req.Price = price
	}

	return req, nil
}

func (a *app) watch(ctx context.Context, b brokers.Broker, opts *options) error {
	if err := opts.requireSymbol(); err != nil {
		return err
	}
	if opts.interval <= 0 {
		return errors.NewValidationError("interval", "must be positive", opts.interval)
	}

	if a.cfg != nil && a.cfg.Metrics.Addr != "" {
		stop := a.serveMetrics(a.cfg.Metrics.Addr)
		defer stop()
	}

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	w := newQuoteWriter(a.out, a.colors)
	for i := 0; opts.count == 0 || i < opts.count; i++ {
		quote, err := b.GetPrice(ctx, opts.symbol)
		if ctx.Err() != nil {
			// Interrupted mid-poll, not a failed poll.
			return nil
		}

		metrics.RecordQuote(b.Name(), opts.symbol, quote, err)
		switch {
		case err != nil:
			a.log.Warnw("Quote poll failed", "exchange", b.Name(), "symbol", opts.symbol, "error", err)
			w.failure(time.Now(), opts.symbol, err)
		default:
			w.quote(time.Now(), quote)
		}

		if opts.count != 0 && i == opts.count-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	return nil
}

// serveMetrics exposes /metrics until the returned func is called.
func (a *app) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warnw("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.log.Infow("Serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func (a *app) seal(_ context.Context, _ brokers.Broker, opts *options) error {
	if opts.in == "" || opts.out == "" {
		return errors.NewValidationError("in/out", "both -in and -out are required", opts.in+" "+opts.out)
	}
	if a.cfg == nil || a.cfg.Crypto.EncryptionKey == "" {
		return errors.NewValidationError("CREDENTIALS_ENCRYPTION_KEY", "required to seal key files", "")
	}

	enc, err := crypto.NewEncryptor(a.cfg.Crypto.EncryptionKey)
	if err != nil {
		return err
	}

	plain, err := os.ReadFile(opts.in)
	if err != nil {
		return errors.Wrap(err, "read key file")
	}

	// Refuse to seal something that would not load back.
	creds, err := brokers.ParseCredentials(strings.NewReader(string(plain)))
	if err != nil {
		return err
	}

	sealed, err := enc.Seal(string(plain))
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.out, []byte(sealed+"\n"), 0o600); err != nil {
		return errors.Wrap(err, "write sealed key file")
	}

	a.log.Infow("Key file sealed", "out", opts.out, "credentials", creds.String())
	return writeJSON(a.out, map[string]string{"sealed": opts.out})
}
