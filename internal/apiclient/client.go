// Package apiclient is the HTTP client for the stock-analysis backend. It
// attaches the bearer token, encodes JSON bodies, and normalizes backend
// failures into typed errors.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// DefaultTimeout bounds every request when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// TokenSource supplies the current bearer token; "" means none.
type TokenSource interface {
	Get() string
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	// Debug logs every request and response at debug level.
	Debug bool
}

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *resty.Client
	tokens  TokenSource
	log     *slog.Logger
}

// New creates a Client. tokens may be nil for an anonymous client.
func New(opts Options, tokens TokenSource, log *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log = log.With("component", "apiclient")

	rc := resty.New()
	rc.SetTimeout(timeout)
	rc.SetHeader("Content-Type", "application/json")
	rc.SetLogger(restyLogger{log})
	rc.SetDebug(opts.Debug)

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    rc,
		tokens:  tokens,
		log:     log,
	}
}

// BaseURL returns the backend origin the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// RequestOptions describes one call. The zero value is an authenticated GET.
type RequestOptions struct {
	Method     string
	Data       any
	NoAuth     bool
	Headers    map[string]string
	PathParams map[string]string
}

// Response is a successful (2xx) backend response. JSON bodies are kept in
// Data; any other body is returned as Text.
type Response struct {
	Status int
	OK     bool
	JSON   bool
	Data   json.RawMessage
	Text   string
}

// Decode unmarshals a JSON response body into v.
func (r *Response) Decode(v any) error {
	if !r.JSON {
		return fmt.Errorf("%w: body is not JSON", ErrUnexpectedShape)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}

// Request performs one HTTP call. Non-2xx responses are returned as
// *ValidationError or *APIError and transport failures as *TransportError.
// Requests are never retried.
func (c *Client) Request(ctx context.Context, endpoint Endpoint, opts RequestOptions) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	url := c.BuildURL(endpoint, opts.PathParams)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", uuid.NewString())
	for k, v := range opts.Headers {
		req.SetHeader(k, v)
	}
	if !opts.NoAuth && c.tokens != nil {
		if tok := c.tokens.Get(); tok != "" {
			req.SetAuthToken(tok)
		}
	}
	if opts.Data != nil {
		body, err := json.Marshal(opts.Data)
		if err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", endpoint, err)
		}
		req.SetBody(body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: err}
	}

	r := &Response{
		Status: resp.StatusCode(),
		OK:     resp.StatusCode() >= 200 && resp.StatusCode() < 300,
	}
	body := resp.Body()
	if strings.Contains(resp.Header().Get("Content-Type"), "application/json") {
		if len(body) > 0 && !json.Valid(body) {
			return nil, fmt.Errorf("%s %s: invalid JSON body (status %d)", method, url, r.Status)
		}
		r.JSON = true
		r.Data = json.RawMessage(body)
		if len(body) == 0 {
			r.Data = json.RawMessage("null")
		}
	} else {
		r.Text = string(body)
	}

	if !r.OK {
		apiErr := responseError(r)
		c.log.Debug("request failed", "method", method, "url", url, "status", r.Status, "error", apiErr)
		return nil, apiErr
	}
	return r, nil
}

// do performs a request and decodes the JSON body into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, endpoint Endpoint, opts RequestOptions, out any) error {
	resp, err := c.Request(ctx, endpoint, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", endpoint, err)
	}
	return nil
}

// restyLogger routes resty's own diagnostics into slog.
type restyLogger struct{ log *slog.Logger }

func (l restyLogger) Errorf(format string, v ...any) { l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...))) }
func (l restyLogger) Warnf(format string, v ...any) { l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, v...))) }
func (l restyLogger) Debugf(format string, v ...any) { l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...))) }
