package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"

	"github.com/openartifacts/canvasd/internal/artifact"
	"github.com/openartifacts/canvasd/internal/resilience"
)

// MaxBundleSize caps a fetched bundle at 10MB to bound memory use
const MaxBundleSize = 10 * 1024 * 1024

var (
	ErrTooLarge    = errors.New("bundle exceeds size limit")
	ErrNotDocument = errors.New("bundle is not an HTML document")
)

// Fetcher retrieves precompiled bundle documents from the storage service.
// Every fetch is origin-checked before any network activity, rate limited,
// retried on transient failure, and guarded by a circuit breaker.
type Fetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	allowed []string
}

// NewFetcher creates a fetcher restricted to the allowed origins
func NewFetcher(allowedOrigins []string) *Fetcher {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 3
	retry.RetryWaitMin = 500 * time.Millisecond
	retry.RetryWaitMax = 5 * time.Second
	retry.Logger = nil

	client := resty.New().
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "text/html").
		SetHeader("User-Agent", "canvasd-bundle/1.0")
	client.SetTransport(retry.HTTPClient.Transport)

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		breaker: resilience.New("bundle-storage", resilience.Settings{
			Cooldown:   30 * time.Second,
			ProbeLimit: 2,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		allowed: allowedOrigins,
	}
}

// Fetch downloads and decodes a bundle document. The origin allow-list is
// enforced first: a rejected URL never produces network traffic.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := artifact.ValidateBundleURL(url, f.allowed); err != nil {
		return "", err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var body []byte
	var contentType string
	err := f.breaker.Do(func() error {
		resp, err := f.client.R().SetContext(ctx).Get(url)
		if err != nil {
			return fmt.Errorf("fetch bundle: %w", err)
		}
		if code := resp.StatusCode(); code < 200 || code >= 300 {
			return fmt.Errorf("fetch bundle: HTTP %d", code)
		}
		body = resp.Body()
		contentType = resp.Header().Get("Content-Type")
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(body) > MaxBundleSize {
		return "", ErrTooLarge
	}

	if err := checkDocumentType(body, contentType); err != nil {
		return "", err
	}
	return decode(body, contentType)
}

// checkDocumentType verifies the response really is an HTML document.
// The declared header is not trusted on its own; content sniffing decides.
func checkDocumentType(body []byte, contentType string) error {
	mt := mimetype.Detect(body)
	if mt.Is("text/html") || strings.HasPrefix(contentType, "text/html") {
		return nil
	}
	return fmt.Errorf("%w: detected %s", ErrNotDocument, mt.String())
}

// decode converts the body to UTF-8, detecting the charset when the
// Content-Type header does not declare one.
func decode(body []byte, contentType string) (string, error) {
	if !strings.Contains(contentType, "charset") {
		det := chardet.NewTextDetector()
		if res, err := det.DetectBest(body); err == nil && res.Charset != "" {
			contentType = "text/html; charset=" + res.Charset
		}
	}
	reader, err := charset.NewReader(strings.NewReader(string(body)), contentType)
	if err != nil {
		// undetectable charset, assume UTF-8 rather than failing the render
		return string(body), nil
	}
	var sb strings.Builder
	buf := make([]byte, 32*1024)
	for {
		n, err := reader.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String(), nil
}

// BreakerState exposes breaker state for health reporting
func (f *Fetcher) BreakerState() resilience.State {
	return f.breaker.State()
}
