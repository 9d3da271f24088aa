package kraken

import (
	"net/http"
	"net/url"

	"brokerapi/pkg/errors"
)

// hostRewriter sends every request to target while keeping the path the
// library built. The kraken library has its API URL compiled in.
type hostRewriter struct {
	target *url.URL
	next   http.RoundTripper
}

func (t *hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.target.Scheme
	out.URL.Host = t.target.Host
	out.Host = t.target.Host
	if t.target.Path != "" && t.target.Path != "/" {
		out.URL.Path = t.target.Path + out.URL.Path
	}
	return t.next.RoundTrip(out)
}

func redirectClient(base *http.Client, baseURL string) (*http.Client, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.Newf("base url %q must be absolute", baseURL)
	}

	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}

	client := *base
	client.Transport = &hostRewriter{target: target, next: next}
	return &client, nil
}
