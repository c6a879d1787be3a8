package proxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/failgate/failgate/internal/upstream"
)

// hopByHopHeaders are stripped in both directions per RFC 9110 §7.6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ForwarderConfig holds per-attempt timeout configuration.
type ForwarderConfig struct {
	// ConnectTimeout bounds the TCP connect of a single attempt.
	// Default: 2s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the wait for upstream response headers of a
	// single attempt. Default: 2s.
	ReadTimeout time.Duration
}

// Forwarder sends a single proxied attempt to one upstream target. Both
// timeouts apply per attempt, so one hung candidate cannot silently
// exhaust the whole request budget.
type Forwarder struct {
	transport *http.Transport
}

// NewForwarder creates a forwarder.
func NewForwarder(cfg ForwarderConfig) *Forwarder {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	return &Forwarder{
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConnsPerHost:   32,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}
}

// Forward sends the buffered inbound request to the given target. The
// caller owns the returned response body.
func (f *Forwarder) Forward(ctx context.Context, target upstream.Target, in *http.Request, body []byte) (*http.Response, error) {
	out := in.Clone(ctx)
	out.RequestURI = ""
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	base := target.URL()
	out.URL.Scheme = base.Scheme
	out.URL.Host = base.Host
	out.Host = base.Host

	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}
	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		prior := in.Header.Get("X-Forwarded-For")
		if prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	out.Header.Set("X-Forwarded-Host", in.Host)

	resp, err := f.transport.RoundTrip(out)
	if err != nil {
		return nil, err
	}
	for _, h := range hopByHopHeaders {
		resp.Header.Del(h)
	}
	return resp, nil
}

// CloseIdleConnections releases idle upstream connections.
func (f *Forwarder) CloseIdleConnections() {
	f.transport.CloseIdleConnections()
}
