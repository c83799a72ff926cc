package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const (
	DefaultVersion = "v1/"
	DefaultTimeout = 30 * time.Second

	apiKeyHeader = "APIKEY"
)

type ClientConfig struct {
	Endpoint string        // e.g. https://api.simbachain.com/
	Version  string        // API version path, defaults to v1/
	APIKey   string        // sent as the APIKEY header
	Timeout  time.Duration // per request timeout
	Debug    bool          // dump requests and responses
}

// File is one part of a multipart upload
type File struct {
	Field    string
	Name     string
	MimeType string
	Content  []byte
}

// Client is a thin JSON-over-HTTP client for the SIMBA REST API.
// Relative paths are resolved against Endpoint+Version, absolute URLs
// (such as paging links returned by the service) are used as they are.
type Client struct {
	rc      *resty.Client
	baseURL string
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	u, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint %s", config.Endpoint)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid endpoint %s: scheme and host are required", config.Endpoint)
	}

	version := config.Version
	if version == "" {
		version = DefaultVersion
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	baseURL := withSlash(config.Endpoint) + withSlash(strings.TrimLeft(version, "/"))

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetDebug(config.Debug).
		SetHeader("Accept", "application/json")
	if config.APIKey != "" {
		rc.SetHeader(apiKeyHeader, config.APIKey)
	}

	return &Client{rc: rc, baseURL: baseURL}, nil
}

// BaseURL returns the URL relative paths are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// PostJSON sends body as JSON and decodes the response into result.
// result may be nil, a *string for the raw body, or any JSON target.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, result interface{}) error {
	req := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	return c.do(req, http.MethodPost, path, result)
}

// PostMultipart sends fields and files as multipart/form-data
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]string, files []File, result interface{}) error {
	req := c.rc.R().
		SetContext(ctx).
		SetMultipartFormData(fields)
	for _, f := range files {
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		req.SetMultipartField(f.Field, f.Name, mimeType, bytes.NewReader(f.Content))
	}
	return c.do(req, http.MethodPost, path, result)
}

// Get fetches path, bypassing any intermediate cache
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	req := c.rc.R().
		SetContext(ctx).
		SetHeader("pragma", "no-cache").
		SetHeader("cache-control", "no-cache")
	return c.do(req, http.MethodGet, path, result)
}

// GetStream copies the response body of path to w and returns the number
// of bytes written. Error responses are decoded like any other call.
func (c *Client) GetStream(ctx context.Context, path string, w io.Writer) (int64, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetDoNotParseResponse(true).
		Get(path)
	if err != nil {
		return 0, errors.Wrapf(err, "error in HTTP GET %s", path)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		raw, _ := io.ReadAll(body)
		return 0, newHTTPError(resp.StatusCode(), resp.Header().Get("Content-Type"), raw)
	}

	n, err := io.Copy(w, body)
	if err != nil {
		return n, errors.Wrapf(err, "error reading %s", path)
	}
	return n, nil
}

func (c *Client) do(req *resty.Request, method, path string, result interface{}) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "error in HTTP %s %s", method, path)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return newHTTPError(resp.StatusCode(), resp.Header().Get("Content-Type"), resp.Body())
	}

	return decodeResult(resp.Body(), result)
}

func decodeResult(body []byte, result interface{}) error {
	switch r := result.(type) {
	case nil:
		return nil
	case *string:
		*r = string(body)
		return nil
	}

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return errors.Wrap(err, "error decoding response")
	}
	return nil
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
