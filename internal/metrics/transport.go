package metrics

import (
	"net/http"
	"time"
)

// Transport is an http.RoundTripper that records request count and latency
// for one exchange.
type Transport struct {
	Exchange string
	Next     http.RoundTripper
}

// InstrumentClient returns a copy of client whose requests are recorded
// under exchange. A nil client is treated as a zero http.Client.
func InstrumentClient(exchange string, client *http.Client) *http.Client {
	var out http.Client
	if client != nil {
		out = *client
	}
	out.Transport = &Transport{Exchange: exchange, Next: out.Transport}
	return &out
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}

	start := time.Now()
	resp, err := next.RoundTrip(req)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	RecordRequest(t.Exchange, req.Method, req.URL.Path, status, time.Since(start), err)

	return resp, err
}
