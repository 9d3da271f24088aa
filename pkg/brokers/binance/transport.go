package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"brokerapi/pkg/brokers"
)

const apiKeyHeader = "X-MBX-APIKEY"

// Error codes Binance uses for key/signature problems.
var authErrorCodes = map[int]bool{
	-1022: true, // signature for this request is not valid
	-2014: true, // API-key format invalid
	-2015: true, // invalid API-key, IP, or permissions for action
}

// Sign returns the hex encoded HMAC-SHA256 of payload keyed with secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	var query string
	if params != nil {
		query = params.Encode()
	}
	return c.doRequest(ctx, op, http.MethodGet, path, query, false)
}

// signed adds timestamp and recvWindow, signs the canonical query string and
// appends the signature as the last parameter.
func (c *Client) signed(ctx context.Context, op, method, path string, params url.Values, ts time.Time) ([]byte, error) {
	if err := c.requireCredentials(op); err != nil {
		return nil, err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow.Milliseconds(), 10))

	query := params.Encode()
	query += "&signature=" + Sign(c.cfg.Credentials.Secret, query)

	return c.doRequest(ctx, op, method, path, query, true)
}

func (c *Client) requireCredentials(op string) error {
	if c.cfg.Credentials.APIKey == "" || c.cfg.Credentials.Secret == "" {
		return brokers.NewError(Name, op, brokers.ErrAuth, errNoCredentials)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, op, method, path, query string, signed bool) ([]byte, error) {
	reqURL := c.cfg.BaseURL + path

	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if query != "" {
			reqURL = reqURL + "?" + query
		}
	default:
		body = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, brokers.NewError(Name, op, brokers.ErrInvalidRequest, err)
	}

	if signed {
		req.Header.Set(apiKeyHeader, c.cfg.Credentials.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debugw("Binance request failed", "op", op, "method", method, "path", path, "error", err)
		return nil, brokers.NewError(Name, op, brokers.ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, brokers.NewError(Name, op, brokers.ErrNetwork, err)
	}

	c.log.Debugw("Binance request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 400 {
		apiErr := parseAPIError(op, resp.StatusCode, payload)
		c.log.Warnw("Binance rejected request", "op", op, "status", resp.StatusCode, "error", apiErr)
		return nil, apiErr
	}

	return payload, nil
}

func parseAPIError(op string, status int, payload []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Code != 0 {
		berr := brokers.NewExchangeError(Name, op, apiErr.Code, apiErr.Msg, payload)
		if authErrorCodes[apiErr.Code] || status == http.StatusUnauthorized {
			berr.Kind = brokers.ErrAuth
		}
		return berr
	}

	berr := brokers.NewError(Name, op, brokers.ErrNetwork, fmt.Errorf("http %d", status))
	berr.Body = payload
	if status == http.StatusUnauthorized {
		berr.Kind = brokers.ErrAuth
	}
	return berr
}
