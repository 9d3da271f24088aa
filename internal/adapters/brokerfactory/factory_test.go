package brokerfactory

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerapi/internal/adapters/config"
	"brokerapi/pkg/brokers"
	"brokerapi/pkg/crypto"
	"brokerapi/pkg/errors"
	"brokerapi/pkg/logger"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Binance: config.BinanceConfig{
			BaseURL:     baseURL,
			RecvWindow:  10 * time.Second,
			HTTPTimeout: 5 * time.Second,
		},
		Kraken: config.KrakenConfig{HTTPTimeout: 5 * time.Second},
	}
}

func newAccountServer(t *testing.T, seenKey *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/time":
			_, _ = io.WriteString(w, `{"serverTime":1700000000123}`)
		case "/api/v3/account":
			*seenKey = r.Header.Get("X-MBX-APIKEY")
			_, _ = io.WriteString(w, `{"balances":[{"asset":"BTC","free":"1.5","locked":"0"}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetClientCaches(t *testing.T) {
	f := NewFactory(testConfig("http://127.0.0.1:1"), WithLogger(logger.Nop()))

	first, err := f.GetClient("binance")
	require.NoError(t, err)
	second, err := f.GetClient(" Binance ")
	require.NoError(t, err)
	assert.Same(t, first, second)

	k, err := f.GetClient("kraken")
	require.NoError(t, err)
	assert.Equal(t, "kraken", k.Name())

	assert.ElementsMatch(t, []string{"binance", "kraken"}, f.ListExchanges())
}

func TestGetClientUnknownExchange(t *testing.T) {
	f := NewFactory(testConfig(""), WithLogger(logger.Nop()))

	_, err := f.GetClient("mtgox")
	assert.ErrorIs(t, err, errors.ErrNotSupported)
}

func TestGetClientLoadsKeyFile(t *testing.T) {
	var seenKey string
	srv := newAccountServer(t, &seenKey)

	cfg := testConfig(srv.URL)
	cfg.Binance.KeyFile = writeKeyFile(t, "KEY123\nSECRET456\n")

	f := NewFactory(cfg, WithLogger(logger.Nop()), WithMetrics())
	client, err := f.GetClient("binance")
	require.NoError(t, err)

	balances, err := client.GetBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.5", balances["BTC"].Free.String())
	assert.Equal(t, "KEY123", seenKey)
}

func TestGetClientLoadsSealedKeyFile(t *testing.T) {
	var seenKey string
	srv := newAccountServer(t, &seenKey)

	enc, err := crypto.NewEncryptor(testEncryptionKey)
	require.NoError(t, err)
	sealed, err := enc.Seal("SEALEDKEY\nSECRET456\n")
	require.NoError(t, err)

	cfg := testConfig(srv.URL)
	cfg.Binance.KeyFile = writeKeyFile(t, sealed)
	cfg.Crypto.EncryptionKey = testEncryptionKey

	client, err := NewFactory(cfg, WithLogger(logger.Nop())).GetClient("binance")
	require.NoError(t, err)

	_, err = client.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SEALEDKEY", seenKey)
}

func TestGetClientMissingKeyFile(t *testing.T) {
	cfg := testConfig("")
	cfg.Kraken.KeyFile = filepath.Join(t.TempDir(), "absent")

	f := NewFactory(cfg, WithLogger(logger.Nop()))
	_, err := f.GetClient("kraken")
	assert.ErrorIs(t, err, brokers.ErrAuth)

	// A failed build is not cached.
	cfg.Kraken.KeyFile = ""
	_, err = f.GetClient("kraken")
	assert.NoError(t, err)
}

func TestConnectOverridesKeyFile(t *testing.T) {
	var seenKey string
	srv := newAccountServer(t, &seenKey)

	f := NewFactory(testConfig(srv.URL), WithLogger(logger.Nop()))
	client, err := f.Connect("binance", writeKeyFile(t, "OVERRIDE\nSECRET456\n"))
	require.NoError(t, err)

	_, err = client.GetBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OVERRIDE", seenKey)

	pooled, err := f.GetClient("binance")
	require.NoError(t, err)
	_, err = pooled.GetBalances(context.Background())
	assert.ErrorIs(t, err, brokers.ErrAuth, "pooled client keeps the configured keys")

	_, err = f.Connect("binance", filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, brokers.ErrAuth)
}

// rewriteTransport sends every request to target and remembers what it saw.
type rewriteTransport struct {
	target *url.URL

	mu      sync.Mutex
	paths   []string
	apiKeys []string
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.mu.Lock()
	rt.paths = append(rt.paths, req.URL.Path)
	rt.apiKeys = append(rt.apiKeys, req.Header.Get("API-Key"))
	rt.mu.Unlock()

	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = ""
	return http.DefaultTransport.RoundTrip(out)
}

func TestConnectKrakenThroughTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":[],"result":{"ZUSD":"10.5"}}`)
	}))
	t.Cleanup(srv.Close)

	target, err := url.Parse(srv.URL)
	require.NoError(t, err)
	rt := &rewriteTransport{target: target}

	f := NewFactory(testConfig(""), WithLogger(logger.Nop()), WithTransport(rt))
	// Kraken secrets are base64; this is "SECRET456".
	client, err := f.Connect("kraken", writeKeyFile(t, "KRAKENKEY\nU0VDUkVUNDU2\n"))
	require.NoError(t, err)

	balances, err := client.GetBalances(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.5", balances["ZUSD"].Free.String())

	rt.mu.Lock()
	defer rt.mu.Unlock()
	assert.Equal(t, []string{"/0/private/Balance"}, rt.paths)
	assert.Equal(t, []string{"KRAKENKEY"}, rt.apiKeys)
}

func TestConnectUnknownExchange(t *testing.T) {
	f := NewFactory(testConfig(""), WithLogger(logger.Nop()))

	_, err := f.Connect("mtgox", writeKeyFile(t, "KEY123\nSECRET456\n"))
	assert.ErrorIs(t, err, errors.ErrNotSupported)
}
