// Package httpclient is the client-side Gateway speaking to httpapi.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vivacius/asistenciacampo/internal/gateway"
	"github.com/vivacius/asistenciacampo/internal/gateway/query"
	"github.com/vivacius/asistenciacampo/internal/record"
)

// DefaultTimeout bounds every request that has no earlier deadline.
const DefaultTimeout = 20 * time.Second

// Client implements gateway.Gateway over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ gateway.Gateway = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// New creates a client for the gateway at baseURL, e.g. "http://host:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: HTTP %d", e.Status)
	}
	return fmt.Sprintf("gateway: HTTP %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps 409 to gateway.ErrDuplicateKey.
func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusConflict {
		return gateway.ErrDuplicateKey
	}
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			se.Code = env.Error.Code
			se.Message = env.Error.Message
		}
		return se
	}
	if decodeErr != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, decodeErr)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) InsertRecord(ctx context.Context, table gateway.Table, row gateway.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	path := "/api/v1/tables/" + url.PathEscape(string(table)) + "/rows"
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", nil)
}

func (c *Client) UploadBlob(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	escaped := (&url.URL{Path: strings.TrimPrefix(path, "/")}).EscapedPath()
	if err := c.do(ctx, http.MethodPut, "/api/v1/blobs/"+escaped, bytes.NewReader(data), contentType, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("upload %s: empty url in response", path)
	}
	return out.URL, nil
}

func (c *Client) QueryRecords(ctx context.Context, table gateway.Table, q query.Query) ([]gateway.Row, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	var rows []gateway.Row
	path := "/api/v1/tables/" + url.PathEscape(string(table)) + "/query"
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", &rows); err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []gateway.Row{}
	}
	return rows, nil
}

func (c *Client) ResolveZone(ctx context.Context, lat, lon float64) (*record.Zone, error) {
	v := url.Values{}
	v.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	v.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))

	var zone *record.Zone
	if err := c.do(ctx, http.MethodGet, "/api/v1/zones/resolve?"+v.Encode(), nil, "", &zone); err != nil {
		return nil, err
	}
	return zone, nil
}

// Ping reports whether the gateway answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}
