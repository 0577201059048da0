// Package httpclient builds the HTTP client used for remote batch API calls.
// Endpoints come from configuration, so every request and redirect is
// checked against a destination policy before it leaves the process.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/smtaidev/outbound/errors"
)

// Destinations never dialed unless the host is trusted
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/3"),
	netip.MustParsePrefix("::/127"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/9"),
	netip.MustParsePrefix("ff00::/8"),
}

// policy is what a Client may reach
type policy struct {
	schemes      []string
	blockPrivate bool
	trusted      []string // lower-cased hostnames exempt from address checks
	maxRedirects int
}

// Client is an http.Client that enforces a destination policy
type Client struct {
	*http.Client
	policy policy
}

// Option customizes a Client
type Option func(*policy)

// WithPrivateIPBlocking toggles rejection of loopback and private
// destinations for every host
func WithPrivateIPBlocking(block bool) Option {
	return func(p *policy) { p.blockPrivate = block }
}

// WithTrustedHosts exempts hostnames from the private-address checks, for a
// batch service hosted on the local network
func WithTrustedHosts(hosts ...string) Option {
	return func(p *policy) {
		for _, h := range hosts {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				p.trusted = append(p.trusted, h)
			}
		}
	}
}

// WithMaxRedirects sets how many redirects are followed
func WithMaxRedirects(n int) Option {
	return func(p *policy) { p.maxRedirects = n }
}

// WithAllowedSchemes restricts request schemes (default http and https)
func WithAllowedSchemes(schemes ...string) Option {
	return func(p *policy) { p.schemes = schemes }
}

func defaultPolicy() policy {
	return policy{schemes: []string{"http", "https"}, blockPrivate: true, maxRedirects: 10}
}

// New creates a client with the given overall request timeout
func New(timeout time.Duration, opts ...Option) *Client {
	p := defaultPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	c := &Client{Client: &http.Client{Timeout: timeout}, policy: p}
	c.CheckRedirect = c.checkRedirect
	if p.blockPrivate {
		c.Transport = c.transport()
	}
	return c
}

// Wrap adopts an existing http.Client with address checks off, for httptest
// servers
func Wrap(client *http.Client) *Client {
	p := defaultPolicy()
	p.blockPrivate = false
	return &Client{Client: client, policy: p}
}

func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.policy.maxRedirects {
		return errors.Newf("stopped after %d redirects", c.policy.maxRedirects)
	}
	return errors.Wrap(c.check(req.URL), "redirect blocked")
}

// transport resolves names itself so a DNS answer cannot swap in a private
// address after the URL check
func (c *Client) transport() *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			if c.trusted(host) {
				return dialer.DialContext(ctx, network, addr)
			}
			addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, a := range addrs {
				if isBlocked(a) {
					return nil, errors.Newf("private IP address blocked: %s resolves to %s", host, a)
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
		},
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

func (c *Client) trusted(host string) bool {
	return slices.Contains(c.policy.trusted, strings.ToLower(host))
}

func (c *Client) check(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(c.policy.schemes, scheme) {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.policy.schemes)
	}
	// http://api.example.com@127.0.0.1/
	if u.User != nil {
		return errors.New("URL contains userinfo (potential SSRF attempt)")
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if !c.policy.blockPrivate || c.trusted(host) {
		return nil
	}
	if isLocalhost(host) {
		return errors.New("localhost access blocked")
	}
	if a, err := netip.ParseAddr(host); err == nil && isBlocked(a) {
		return errors.Newf("private IP address blocked: %s", host)
	}
	return nil
}

// ValidateURL parses rawURL and applies the policy to it
func (c *Client) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do applies the policy, then sends req
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

func isBlocked(a netip.Addr) bool {
	a = a.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
