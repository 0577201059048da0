package httpclient

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Policy(t *testing.T) {
	client := New(30 * time.Second)
	assert.Equal(t, 30*time.Second, client.Timeout)
	assert.Equal(t, 10, client.policy.maxRedirects)
	assert.True(t, client.policy.blockPrivate)
	assert.NotNil(t, client.Transport)

	relaxed := New(time.Second, WithPrivateIPBlocking(false), WithMaxRedirects(2), WithAllowedSchemes("https"),
		WithTrustedHosts(" Batch.LAN ", ""))
	assert.False(t, relaxed.policy.blockPrivate)
	assert.Nil(t, relaxed.Transport)
	assert.Equal(t, 2, relaxed.policy.maxRedirects)
	assert.Equal(t, []string{"https"}, relaxed.policy.schemes)
	assert.Equal(t, []string{"batch.lan"}, relaxed.policy.trusted)
}

func TestValidateURL(t *testing.T) {
	client := New(30 * time.Second)

	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{"https", "https://docs-outbound.advanceaimarketing.cloud/outbound/all-batch-jobs/", ""},
		{"http", "http://example.com", ""},
		{"file scheme", "file:///etc/passwd", "not allowed"},
		{"userinfo", "http://example.com@127.0.0.1/", "userinfo"},
		{"localhost", "http://localhost:8080/", "localhost"},
		{"sub localhost", "http://api.localhost/", "localhost"},
		{"loopback ip", "http://127.0.0.1/", "private IP"},
		{"rfc1918", "http://10.1.2.3/", "private IP"},
		{"cgnat", "http://100.64.1.1/", "private IP"},
		{"metadata", "http://169.254.169.254/latest/meta-data", "private IP"},
		{"ipv6 loopback", "http://[::1]/", "private IP"},
		{"mapped v4", "http://[::ffff:10.0.0.1]/", "private IP"},
		{"no host", "http:///path", "missing hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidateURL_TrustedHost(t *testing.T) {
	client := New(time.Second, WithTrustedHosts("10.0.0.5", "batch.localhost"))

	_, err := client.ValidateURL("http://10.0.0.5:8000/outbound/start-batch-call")
	assert.NoError(t, err)
	_, err = client.ValidateURL("http://batch.localhost/")
	assert.NoError(t, err)
	_, err = client.ValidateURL("http://10.0.0.6/")
	assert.Error(t, err)

	_, err = client.ValidateURL("ftp://10.0.0.5/")
	assert.Error(t, err, "trust does not widen the scheme list")
}

func TestIsBlocked(t *testing.T) {
	blocked := []string{"10.0.0.1", "172.16.5.4", "192.168.1.1", "127.0.0.1", "0.0.0.0", "100.100.0.1",
		"224.0.0.1", "250.1.1.1", "255.255.255.255", "fd00::1", "fe80::1", "fec0::1", "::", "::1", "ff02::1",
		"::ffff:127.0.0.1"}
	public := []string{"8.8.8.8", "1.1.1.1", "100.128.0.1", "2606:4700:4700::1111"}

	for _, s := range blocked {
		assert.True(t, isBlocked(netip.MustParseAddr(s)), s)
	}
	for _, s := range public {
		assert.False(t, isBlocked(netip.MustParseAddr(s)), s)
	}
}

func TestDo_BlocksLocalTargets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = New(time.Second).Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request blocked")

	resp, err := Wrap(server.Client()).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDo_TrustedLocalTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := New(time.Second, WithTrustedHosts(u.Hostname())).Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRedirectLimit(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+"/again", http.StatusFound)
	}))
	defer server.Close()

	client := New(time.Second, WithPrivateIPBlocking(false), WithMaxRedirects(3))
	_, err := client.Get(server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 3 redirects")
}
