package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-translator/pkg/config"
	"github.com/ekaya-inc/ekaya-translator/pkg/models"
	"github.com/ekaya-inc/ekaya-translator/pkg/retry"
)

// DefaultTimeout is the maximum time to wait for an application to answer.
const DefaultTimeout = 30 * time.Second

// maxManifestBytes bounds how much of a manifest response is read.
const maxManifestBytes = 32 << 20

// HTTPExtractor fetches manifests published by applications as JSON.
//
// The expected response body is:
//
//	{"messages": {"<key>": {"text": "...", "position": 0, "category": "...",
//	  "namespace": "...", "tool_id": "...", "same_tool": true, "format": "..."}}}
type HTTPExtractor struct {
	httpClient *http.Client
	path       string
	retry      *retry.Config
	resolveURL func(*url.URL)
	logger     *zap.Logger
}

// NewHTTPExtractor creates an extractor that requests manifestPath relative
// to each application URL.
func NewHTTPExtractor(manifestPath string, timeout time.Duration, logger *zap.Logger) *HTTPExtractor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPExtractor{
		httpClient: &http.Client{Timeout: timeout},
		path:       manifestPath,
		retry:      retry.DefaultConfig(),
		logger:     logger.Named("manifest-http"),
	}
}

// ResolveDockerHosts makes the extractor reach applications served on the
// host's loopback interface when running inside Docker.
func (e *HTTPExtractor) ResolveDockerHosts() *HTTPExtractor {
	e.resolveURL = config.ResolveURLForDocker
	return e
}

var _ Extractor = (*HTTPExtractor)(nil)

func (e *HTTPExtractor) Extract(ctx context.Context, appURL string) (models.Manifest, error) {
	endpoint, err := buildURL(appURL, e.path, e.resolveURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest URL: %w", err)
	}

	var manifest models.Manifest
	err = retry.DoIfRetryable(ctx, e.retry, func() error {
		var err error
		manifest, err = e.fetch(ctx, endpoint)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Fetched manifest",
		zap.String("app_url", appURL),
		zap.Int("messages", len(manifest)))
	return manifest, nil
}

func (e *HTTPExtractor) fetch(ctx context.Context, endpoint string) (models.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		e.logger.Warn("Application returned error for manifest",
			zap.String("url", endpoint),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("manifest request returned status %d", resp.StatusCode)
	}

	return Decode(body)
}

// Decode parses a manifest document.
func Decode(body []byte) (models.Manifest, error) {
	var doc struct {
		Messages models.Manifest `json:"messages"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if doc.Messages == nil {
		doc.Messages = models.Manifest{}
	}
	return doc.Messages, nil
}

// Encode is the inverse of Decode.
func Encode(m models.Manifest) ([]byte, error) {
	return json.Marshal(struct {
		Messages models.Manifest `json:"messages"`
	}{Messages: m})
}

// buildURL resolves manifestPath below the application URL.
func buildURL(appURL, manifestPath string, resolve func(*url.URL)) (string, error) {
	u, err := url.Parse(appURL)
	if err != nil {
		return "", fmt.Errorf("invalid application URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid application URL %q", appURL)
	}
	if resolve != nil {
		resolve(u)
	}
	u.Path = path.Join("/", u.Path, manifestPath)
	return u.String(), nil
}
