package scripts

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/rehttp"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	httpClientTimeout    = time.Minute
	defaultHTTPRetries   = 3
	defaultHTTPBaseDelay = 50 * time.Millisecond
	defaultHTTPMaxDelay  = 5 * time.Second
	// maxScriptSize bounds the size of a fetched script.
	maxScriptSize = 1 << 20
)

// HTTPRetryConfiguration configures retries of script fetches.
type HTTPRetryConfiguration struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Statuses   []int
}

// NewDefaultHTTPRetryConf returns the retry policy used when none is
// configured.
func NewDefaultHTTPRetryConf() HTTPRetryConfiguration {
	return HTTPRetryConfiguration{
		MaxRetries: defaultHTTPRetries,
		BaseDelay:  defaultHTTPBaseDelay,
		MaxDelay:   defaultHTTPMaxDelay,
		Statuses: []int{
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			http.StatusRequestTimeout,
		},
	}
}

func newConfiguredBaseTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig:     &tls.Config{},
		Proxy:               http.ProxyFromEnvironment,
		IdleConnTimeout:     20 * time.Second,
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        50,
		DialContext: (&net.Dialer{
			Timeout: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// NewHTTPRetryableClient returns a client that retries GET requests on
// temporary errors and the configured statuses.
func NewHTTPRetryableClient(conf HTTPRetryConfiguration) *http.Client {
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultHTTPRetries
	}
	if conf.BaseDelay <= 0 {
		conf.BaseDelay = defaultHTTPBaseDelay
	}
	if conf.MaxDelay <= 0 {
		conf.MaxDelay = defaultHTTPMaxDelay
	}

	statusRetries := []rehttp.RetryFn{rehttp.RetryTemporaryErr()}
	if len(conf.Statuses) > 0 {
		statusRetries = append(statusRetries, rehttp.RetryStatuses(conf.Statuses...))
	}

	return &http.Client{
		Timeout: httpClientTimeout,
		Transport: rehttp.NewTransport(newConfiguredBaseTransport(),
			rehttp.RetryAll(
				rehttp.RetryAny(statusRetries...),
				rehttp.RetryHTTPMethods(http.MethodGet),
				rehttp.RetryMaxRetries(conf.MaxRetries),
			),
			rehttp.ExpJitterDelay(conf.BaseDelay, conf.MaxDelay)),
	}
}

// HTTPSource loads scripts referenced by http:// and https:// URLs.
type HTTPSource struct {
	Client *http.Client
}

// NewHTTPSource returns a source fetching with a retrying client.
func NewHTTPSource(conf HTTPRetryConfiguration) *HTTPSource {
	return &HTTPSource{Client: NewHTTPRetryableClient(conf)}
}

func (s *HTTPSource) Handles(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (s *HTTPSource) Load(ctx context.Context, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", errors.Wrapf(err, "making request for script '%s'", ref)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetching script '%s'", ref)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("fetching script '%s' returned status %d", ref, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize+1))
	if err != nil {
		return "", errors.Wrapf(err, "reading script '%s'", ref)
	}
	if len(body) > maxScriptSize {
		return "", errors.Errorf("script '%s' exceeds the maximum size of %s", ref, humanize.IBytes(maxScriptSize))
	}
	return string(body), nil
}
