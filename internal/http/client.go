// Package http builds the HTTP client shared by the cloud platforms: proxy
// modes, HTTP/2 and transparent retries of idempotent requests.
package http

import (
	"crypto/tls"
	"fmt"
	nethttp "net/http"
	"os"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/http2"

	"github.com/rescale/upsess/internal/config"
	"github.com/rescale/upsess/internal/constants"
	"github.com/rescale/upsess/internal/logging"
)

// retryLogger routes retryablehttp messages through zerolog.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// CreateClient returns the client used for ranged reads of remote objects.
//
// Key features:
//   - Proxy support (no-proxy, system, basic, ntlm) with a NoProxy bypass list
//   - HTTP/2 unless a proxy is active (proxies often break multiplexing);
//     DISABLE_HTTP2=true forces HTTP/1.1, FORCE_HTTP2=true keeps HTTP/2 behind a proxy
//   - Retries with backoff for connection errors and 5xx/429 responses
//   - No overall timeout; callers bound each request with a context
func CreateClient(cfg config.ProxyConfig, logger *logging.Logger) (*nethttp.Client, error) {
	logger = logger.Component("http")

	tr := newTransport()
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
	}

	disableHTTP2 := os.Getenv("DISABLE_HTTP2") == "true" ||
		(cfg.ProxyActive() && os.Getenv("FORCE_HTTP2") != "true")
	if disableHTTP2 {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	rt, err := configureProxy(tr, cfg, logger)
	if err != nil {
		return nil, err
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &nethttp.Client{Transport: rt}
	retryClient.RetryMax = constants.MaxRetries
	retryClient.RetryWaitMin = constants.RetryInitialDelay
	retryClient.RetryWaitMax = constants.RetryMaxDelay
	retryClient.Logger = &retryLogger{logger: logger}

	client := retryClient.StandardClient()
	client.Timeout = 0
	return client, nil
}
