package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"brokerapi/pkg/brokers"
	"brokerapi/pkg/errors"
)

var (
	// Exchange metrics
	ExchangeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerapi_exchange_requests_total",
			Help: "Total number of HTTP requests sent to exchanges",
		},
		[]string{"exchange", "method", "path", "code"}, // code: HTTP status or "error"
	)

	ExchangeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brokerapi_exchange_request_duration_seconds",
			Help:    "Exchange HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"exchange", "method", "path"},
	)

	// Broker metrics
	BrokerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerapi_broker_errors_total",
			Help: "Broker operation failures by kind",
		},
		[]string{"exchange", "op", "kind"}, // kind: network|parse|exchange|auth|invalid_request
	)

	// Watch metrics
	QuotePrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "brokerapi_quote_price",
			Help: "Last observed best bid/ask",
		},
		[]string{"exchange", "symbol", "side"}, // side: bid|ask
	)

	QuotePolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brokerapi_quote_polls_total",
			Help: "Total number of quote polls",
		},
		[]string{"exchange", "symbol", "status"}, // status: success|error
	)
)

var collectors = []prometheus.Collector{
	ExchangeRequests,
	ExchangeLatency,
	BrokerErrors,
	QuotePrice,
	QuotePolls,
}

// Init registers all metrics with the default registry
func Init() {
	MustRegister(prometheus.DefaultRegisterer)
}

// MustRegister registers all metrics with reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(collectors...)
}

// Handler returns HTTP handler for metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records one HTTP round trip to an exchange.
func RecordRequest(exchange, method, path string, status int, duration time.Duration, err error) {
	code := strconv.Itoa(status)
	if err != nil {
		code = "error"
	}
	ExchangeRequests.WithLabelValues(exchange, method, path, code).Inc()
	ExchangeLatency.WithLabelValues(exchange, method, path).Observe(duration.Seconds())
}

// RecordBrokerError counts a failed broker operation by its kind.
func RecordBrokerError(err error) {
	var berr *brokers.Error
	if !errors.As(err, &berr) {
		return
	}
	BrokerErrors.WithLabelValues(berr.Exchange, berr.Op, kindLabel(berr.Kind)).Inc()
}

// RecordQuote records the outcome of one quote poll.
func RecordQuote(exchange, symbol string, quote *brokers.Quote, err error) {
	if err != nil {
		QuotePolls.WithLabelValues(exchange, symbol, "error").Inc()
		RecordBrokerError(err)
		return
	}

	QuotePolls.WithLabelValues(exchange, symbol, "success").Inc()
	QuotePrice.WithLabelValues(exchange, symbol, "bid").Set(toFloat(quote.Bid))
	QuotePrice.WithLabelValues(exchange, symbol, "ask").Set(toFloat(quote.Ask))
}

func kindLabel(kind error) string {
	switch kind {
	case brokers.ErrNetwork:
		return "network"
	case brokers.ErrParse:
		return "parse"
	case brokers.ErrExchange:
		return "exchange"
	case brokers.ErrAuth:
		return "auth"
	case brokers.ErrInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
