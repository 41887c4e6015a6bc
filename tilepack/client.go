package tilepack

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
)

const (
	httpUserAgent = "go-topotiles/1.0"
)

// Client fetches the content of one endpoint. Only status 200 counts as
// success and carries a body; any other status, including the rest of 2xx,
// is reported without body and the tile is retried. A Client is used by one
// request at a time.
type Client interface {
	Get(ctx context.Context, endpoint string) (statusCode int, body []byte, err error)
}

type ClientOptions struct {
	Timeout   time.Duration
	UserAgent string
}

// NewTileClient returns a Client for http(s)://, s3:// and file:// endpoints.
func NewTileClient(opts ClientOptions) Client {
	// Configure the HTTP client with a timeout and its own connection pool
	httpClient := &http.Client{}
	httpClient.Timeout = opts.Timeout
	httpClient.Transport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		DisableCompression:  true,
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = httpUserAgent
	}

	return &tileClient{
		httpClient: httpClient,
		userAgent:  userAgent,
		newS3:      newS3Fetcher,
	}
}

type tileClient struct {
	httpClient *http.Client
	userAgent  string

	newS3  func() (*s3Fetcher, error)
	s3Once sync.Once
	s3     *s3Fetcher
	s3Err  error
}

func (c *tileClient) Get(ctx context.Context, endpoint string) (int, []byte, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, nil, err
	}

	switch u.Scheme {
	case "http", "https":
		return c.getHTTP(ctx, endpoint)
	case "s3":
		c.s3Once.Do(func() { c.s3, c.s3Err = c.newS3() })
		if c.s3Err != nil {
			return 0, nil, c.s3Err
		}
		return c.s3.get(ctx, u.Host, u.Path)
	case "file":
		return getFile(u.Path)
	}
	return 0, nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
}

func (c *tileClient) getHTTP(ctx context.Context, endpoint string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Add("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func getFile(path string) (int, []byte, error) {
	body, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return http.StatusNotFound, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, body, nil
}
