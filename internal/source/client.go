// Package source opens scenario series from local files, HTTP(S) URLs, and S3 objects.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rewired-gh/retroeval/internal/logger"
)

// ClientConfig holds transport tuning for remote sources.
type ClientConfig struct {
	DataDir        string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	S3Region       string
}

// S3API is the subset of the S3 client used to fetch objects.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client opens source locators. Relative file paths resolve against DataDir.
type Client struct {
	dataDir        string
	httpClient     *http.Client
	maxRetries     int
	retryDelayBase time.Duration
	s3Region       string

	s3Once sync.Once
	s3     S3API
	s3Err  error
}

// NewClient creates a new source client
func NewClient(cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		dataDir: cfg.DataDir,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxRetries:     cfg.MaxRetries,
		retryDelayBase: cfg.RetryDelayBase,
		s3Region:       cfg.S3Region,
	}
}

// WithS3 replaces the lazily built S3 client.
func (c *Client) WithS3(api S3API) *Client {
	c.s3Once.Do(func() {})
	c.s3 = api
	return c
}

// Open returns a reader for locator. The caller closes it.
func (c *Client) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return c.openHTTP(ctx, locator)
	case strings.HasPrefix(locator, "s3://"):
		return c.openS3(ctx, locator)
	default:
		return c.openFile(locator)
	}
}

func (c *Client) openFile(path string) (io.ReadCloser, error) {
	if !filepath.IsAbs(path) && c.dataDir != "" {
		path = filepath.Join(c.dataDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// openHTTP performs a GET with linear-backoff retry on transport and 5xx errors.
func (c *Client) openHTTP(ctx context.Context, urlStr string) (io.ReadCloser, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/csv")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Debug("GET %s failed (attempt %d/%d): %v", urlStr, i+1, c.maxRetries, err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			logger.Debug("GET %s returned %d (attempt %d/%d)", urlStr, resp.StatusCode, i+1, c.maxRetries)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp.Body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) s3Client(ctx context.Context) (S3API, error) {
	c.s3Once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if c.s3Region != "" {
			opts = append(opts, awsconfig.WithRegion(c.s3Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			c.s3Err = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		c.s3 = s3.NewFromConfig(cfg)
	})
	return c.s3, c.s3Err
}

// parseS3Locator splits "s3://bucket/key" into bucket and key.
func parseS3Locator(locator string) (string, string, error) {
	rest := strings.TrimPrefix(locator, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 locator %q", locator)
	}
	return bucket, key, nil
}

func (c *Client) openS3(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, key, err := parseS3Locator(locator)
	if err != nil {
		return nil, err
	}
	api, err := c.s3Client(ctx)
	if err != nil {
		return nil, err
	}
	out, err := api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3 object: %w", err)
	}
	return out.Body, nil
}
