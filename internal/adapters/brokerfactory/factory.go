package brokerfactory

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"brokerapi/internal/adapters/config"
	"brokerapi/internal/metrics"
	"brokerapi/pkg/brokers"
	"brokerapi/pkg/brokers/binance"
	"brokerapi/pkg/brokers/kraken"
	"brokerapi/pkg/crypto"
	"brokerapi/pkg/errors"
	"brokerapi/pkg/logger"
)

// Option customizes factory behavior.
type Option func(*Factory)

// WithLogger sets the logger handed to every client.
func WithLogger(log *logger.Logger) Option {
	return func(f *Factory) {
		f.log = log
	}
}

// WithMetrics instruments client HTTP traffic with Prometheus metrics.
func WithMetrics() Option {
	return func(f *Factory) {
		f.instrument = true
	}
}

// WithTransport overrides the base transport (proxies, tests).
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Factory) {
		f.transport = rt
	}
}

// Factory builds broker clients from configuration and caches one per exchange.
type Factory struct {
	cfg        *config.Config
	log        *logger.Logger
	transport  http.RoundTripper
	instrument bool

	mu      sync.RWMutex
	clients map[string]brokers.Broker
}

// NewFactory creates a pooled broker factory.
func NewFactory(cfg *config.Config, opts ...Option) *Factory {
	f := &Factory{
		cfg:     cfg,
		clients: make(map[string]brokers.Broker),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.log == nil {
		f.log = logger.Get().With("component", "broker_factory")
	}

	return f
}

// ListExchanges returns the supported exchange names.
func (f *Factory) ListExchanges() []string {
	return []string{binance.Name, kraken.Name}
}

// GetClient returns the client for exchange, creating it on first use.
func (f *Factory) GetClient(exchange string) (brokers.Broker, error) {
	exchange = strings.ToLower(strings.TrimSpace(exchange))

	f.mu.RLock()
	if client, ok := f.clients[exchange]; ok {
		f.mu.RUnlock()
		return client, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring lock
	if client, ok := f.clients[exchange]; ok {
		return client, nil
	}

	client, err := f.instantiate(exchange)
	if err != nil {
		return nil, err
	}

	f.clients[exchange] = client
	f.log.Infow("Broker client created", "exchange", exchange)

	return client, nil
}

// Connect returns a client for exchange that signs with the keys in keyFile.
// The pooled client is left as configured.
func (f *Factory) Connect(exchange, keyFile string) (brokers.Broker, error) {
	client, err := f.GetClient(exchange)
	if err != nil {
		return nil, err
	}

	creds, err := f.credentials(keyFile)
	if err != nil {
		return nil, err
	}

	switch c := client.(type) {
	case *binance.Client:
		return c.WithCredentials(creds)
	case *kraken.Client:
		return c.WithCredentials(creds)
	default:
		return nil, errors.Wrapf(errors.ErrNotSupported, "exchange %q", exchange)
	}
}

func (f *Factory) instantiate(exchange string) (brokers.Broker, error) {
	switch exchange {
	case binance.Name:
		creds, err := f.credentials(f.cfg.Binance.KeyFile)
		if err != nil {
			return nil, err
		}
		return binance.NewClient(binance.Config{
			Credentials: creds,
			BaseURL:     f.cfg.Binance.BaseURL,
			RecvWindow:  f.cfg.Binance.RecvWindow,
			HTTPClient:  f.httpClient(exchange, f.cfg.Binance.HTTPTimeout),
			Logger:      f.log,
		})

	case kraken.Name:
		creds, err := f.credentials(f.cfg.Kraken.KeyFile)
		if err != nil {
			return nil, err
		}
		return kraken.NewClient(kraken.Config{
			Credentials: creds,
			HTTPClient:  f.httpClient(exchange, f.cfg.Kraken.HTTPTimeout),
			Logger:      f.log,
		})

	default:
		return nil, errors.Wrapf(errors.ErrNotSupported, "exchange %q", exchange)
	}
}

// credentials loads a key file. No file means public endpoints only; a
// configured encryption key means the file is sealed.
func (f *Factory) credentials(path string) (brokers.Credentials, error) {
	if path == "" {
		return brokers.Credentials{}, nil
	}

	if f.cfg.Crypto.EncryptionKey == "" {
		return brokers.LoadCredentials(path)
	}

	enc, err := crypto.NewEncryptor(f.cfg.Crypto.EncryptionKey)
	if err != nil {
		return brokers.Credentials{}, errors.Wrap(err, "credentials encryption key")
	}
	return brokers.LoadSealedCredentials(path, enc)
}

func (f *Factory) httpClient(exchange string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout, Transport: f.transport}
	if f.instrument {
		client = metrics.InstrumentClient(exchange, client)
	}
	return client
}
