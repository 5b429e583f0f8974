// Package httpclient builds the HTTP clients used for outbound calls, with
// optional HTTP or SOCKS5 proxying.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/MacJediWizard/pcapkeeper/internal/config"
)

// DefaultTimeout is the request timeout when none is given.
const DefaultTimeout = 30 * time.Second

// Options configures a client.
type Options struct {
	Timeout time.Duration
	Proxy   config.ProxyConfig
}

// New creates an HTTP client honoring opts.Proxy.
func New(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	switch {
	case opts.Proxy.SOCKS5 != "":
		dial, err := socks5Dialer(opts.Proxy.SOCKS5, dialer)
		if err != nil {
			return nil, err
		}
		transport.DialContext = dial
	case opts.Proxy.Enabled():
		p := opts.Proxy
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return proxyFor(req.URL, p)
		}
	}

	return &http.Client{Timeout: opts.Timeout, Transport: transport}, nil
}

func socks5Dialer(rawURL string, forward *net.Dialer) (func(ctx context.Context, network, addr string) (net.Conn, error), error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse SOCKS5 proxy URL: %w", err)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}

	d, err := proxy.SOCKS5("tcp", u.Host, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd.DialContext, nil
	}
	return func(_ context.Context, network, addr string) (net.Conn, error) {
		return d.Dial(network, addr)
	}, nil
}

// proxyFor picks the proxy for target, or nil for a direct connection.
func proxyFor(target *url.URL, p config.ProxyConfig) (*url.URL, error) {
	if bypass(target.Host, p.NoProxy) {
		return nil, nil
	}
	raw := p.HTTP
	if target.Scheme == "https" && p.HTTPS != "" {
		raw = p.HTTPS
	}
	if raw == "" {
		return nil, nil
	}
	return url.Parse(raw)
}

// bypass reports whether host matches a comma-separated no_proxy list.
// Entries match the host exactly or as a parent domain; "*" matches all.
func bypass(host, noProxy string) bool {
	if noProxy == "" {
		return false
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if entry == "*" {
			return true
		}
		entry = strings.TrimPrefix(entry, ".")
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}

// Describe summarizes p for logs with credentials masked.
func Describe(p config.ProxyConfig) string {
	if !p.Enabled() {
		return "direct"
	}

	var parts []string
	if p.SOCKS5 != "" {
		parts = append(parts, "socks5="+redactURL(p.SOCKS5))
	}
	if p.HTTP != "" {
		parts = append(parts, "http="+redactURL(p.HTTP))
	}
	if p.HTTPS != "" {
		parts = append(parts, "https="+redactURL(p.HTTPS))
	}
	if p.NoProxy != "" {
		parts = append(parts, "no_proxy="+p.NoProxy)
	}
	return strings.Join(parts, " ")
}

func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	return u.String()
}
