package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// HTTPClient implements Service over JSON/HTTP.
type HTTPClient struct {
	authURL string
	client  *http.Client
	logger  zerolog.Logger
	nowFunc func() time.Time
}

var _ Service = (*HTTPClient)(nil)

type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the default client, e.g. to set a transport or a
// timeout.
func WithHTTPClient(client *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

func WithLogger(logger zerolog.Logger) HTTPClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient targets the auth namespace under baseURL, e.g.
// http://localhost:8000/api/.
func NewHTTPClient(baseURL string, options ...HTTPClientOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("[NewHTTPClient] baseURL is required")
	}
	c := &HTTPClient{
		authURL: JoinURL(baseURL, AuthNamespace),
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  zerolog.Nop(),
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// URL returns the absolute URL for an endpoint path.
func (c *HTTPClient) URL(path string) string {
	return JoinURL(c.authURL, path)
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, PathLogin, "", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Register(ctx context.Context, req RegisterRequest) (map[string]any, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodPost, PathRegister, "", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) Logout(ctx context.Context, refresh string) error {
	return c.do(ctx, http.MethodPost, PathLogout, "", map[string]string{"refresh": refresh}, nil)
}

func (c *HTTPClient) RefreshToken(ctx context.Context, refresh string) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.do(ctx, http.MethodPost, PathTokenRefresh, "", map[string]string{"refresh": refresh}, &resp); err != nil {
		return nil, err
	}
	if resp.Access == "" {
		return nil, fmt.Errorf("%w: refresh response has no access token", ErrMalformedResponse)
	}
	return &resp, nil
}

func (c *HTTPClient) CheckAuth(ctx context.Context, access string) (*CheckAuthResponse, error) {
	var resp CheckAuthResponse
	if err := c.do(ctx, http.MethodGet, PathCheckAuth, access, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) VerifyEmail(ctx context.Context, key string) (map[string]any, error) {
	var resp map[string]any
	if err := c.do(ctx, http.MethodPost, PathVerifyEmail, "", map[string]string{"key": key}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) VerifySecondFactor(ctx context.Context, req SecondFactorRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, PathVerifySecondFactor, "", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, PathPasswordReset, "", map[string]string{"email": email}, nil)
}

func (c *HTTPClient) ConfirmPasswordReset(ctx context.Context, req PasswordResetConfirm) error {
	return c.do(ctx, http.MethodPost, PathPasswordResetConfirm, "", req, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	url := c.URL(path)

	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := c.nowFunc()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", method).Str("url", url).Msg("backend request failed")
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", c.nowFunc().Sub(start)).
		Msg("backend request")

	if resp.StatusCode >= http.StatusBadRequest {
		return newStatusError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	return nil
}
