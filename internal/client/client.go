package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zmcp/odata-codec/internal/constants"
	"github.com/zmcp/odata-codec/internal/debug"
)

const userAgent = "odata-codec/1.0"

// MetadataClient downloads the $metadata document of a service
type MetadataClient struct {
	serviceRoot string
	httpClient  *http.Client
	username    string
	password    string
	retry       RetryPolicy
	logger      *zap.Logger
}

// NewMetadataClient creates a client for the service at serviceRoot
func NewMetadataClient(serviceRoot string, logger *zap.Logger) *MetadataClient {
	if !strings.HasSuffix(serviceRoot, "/") {
		serviceRoot += "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataClient{
		serviceRoot: serviceRoot,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retry:       DefaultRetryPolicy(),
		logger:      logger,
	}
}

// SetBasicAuth sends credentials with every request
func (c *MetadataClient) SetBasicAuth(username, password string) {
	c.username = username
	c.password = password
}

// SetRetryPolicy replaces the default retry policy
func (c *MetadataClient) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

// URL is the address the document is fetched from
func (c *MetadataClient) URL() string {
	return c.serviceRoot + constants.MetadataEndpoint
}

// Fetch downloads the metadata document, retrying transient failures
func (c *MetadataClient) Fetch(ctx context.Context) ([]byte, error) {
	url := c.URL()
	for attempt := 0; ; attempt++ {
		body, status, err := c.fetchOnce(ctx, url)
		if err == nil {
			c.logger.Debug("fetched metadata", zap.String("url", debug.MaskURL(url)), zap.Int("bytes", len(body)))
			return body, nil
		}
		if ctx.Err() != nil || !c.retry.Retryable(status, attempt) {
			return nil, err
		}

		delay := c.retry.Delay(attempt)
		c.logger.Warn("retrying metadata fetch",
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *MetadataClient) fetchOnce(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, constants.GET, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(constants.Accept, constants.ContentTypeXML)
	req.Header.Set("User-Agent", userAgent)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read metadata response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("metadata request returned HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
