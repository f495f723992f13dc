package backend

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// NewClient returns an HTTP client for talking to backends. timeout bounds the
// whole exchange including the body; connectTimeout bounds the TCP dial.
func NewClient(timeout, connectTimeout time.Duration) *http.Client {
	transport := cleanhttp.DefaultPooledTransport()
	transport.DialContext = (&net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
