// Package httpclient builds the *http.Client shared by every outbound call
// the proxy makes (token acquisition and data fetch), so both get the same
// dial/idle timeouts instead of relying on http.DefaultClient.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// New returns an *http.Client configured with conservative timeouts for
// talking to a single well-known upstream. Mirrors the teacher's
// NewUpstreamClient transport, generalized for reuse by both the auth
// client and the data client.
func New() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport}
}
