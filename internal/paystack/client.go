package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client defaults.
const (
	DefaultBaseURL = "https://api.paystack.co"
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

var (
	// ErrInvalidKey is returned when a call is attempted without a usable secret key.
	ErrInvalidKey = errors.New("paystack secret key is not configured")

	// ErrMalformedResponse is returned when a response body cannot be decoded.
	ErrMalformedResponse = errors.New("malformed paystack response")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("paystack api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("paystack api error: status %d: %s", e.StatusCode, e.Message)
}

// ErrorMessage returns the remote message carried by err when there is one,
// otherwise err's own text.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// API is the set of Paystack calls the reconciler makes.
type API interface {
	// Verify pulls the current state of a transaction.
	Verify(ctx context.Context, reference string) (*Transaction, error)
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
	// HasValidKey reports whether a secret key is configured for this client.
	HasValidKey() bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithTimeout bounds every outbound call.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client is a Paystack REST client bound to one secret key.
type Client struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

// NewClient creates a client for the given secret key.
// Outbound requests are traced with otelhttp and bounded by DefaultTimeout.
func NewClient(secretKey string, opts ...Option) *Client {
	c := &Client{
		secretKey: secretKey,
		baseURL:   DefaultBaseURL,
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasValidKey reports whether the client has a Paystack secret key.
func (c *Client) HasValidKey() bool {
	return strings.HasPrefix(c.secretKey, "sk_")
}

// Verify calls GET transaction/verify/{reference}.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("verify: empty reference")
	}
	resp, err := c.Get(ctx, "transaction/verify/"+url.PathEscape(reference))
	if err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, &APIError{StatusCode: http.StatusOK, Message: resp.Message}
	}

	var txn Transaction
	if err := resp.Decode(&txn); err != nil {
		return nil, err
	}
	txn.Message = resp.Message
	return &txn, nil
}

// Get performs an authenticated GET against path.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs an authenticated POST of body as JSON against path.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*Response, error) {
	if !c.HasValidKey() {
		return nil, ErrInvalidKey
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paystack %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read paystack response: %w", err)
	}

	var parsed Response
	decodeErr := json.Unmarshal(raw, &parsed)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &APIError{StatusCode: res.StatusCode}
		if decodeErr == nil {
			apiErr.Message = parsed.Message
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	return &parsed, nil
}
