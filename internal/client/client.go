// Package client talks to the patra gateway on behalf of a desk.
package client

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

	"go.uber.org/zap"

	"github.com/noah-isme/patra-api/internal/models"
	appErrors "github.com/noah-isme/patra-api/pkg/errors"
)

const maxErrorBody = 64 << 10

// CredentialSource supplies the bearer credential of the current session.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is the gateway root including the API prefix.
	BaseURL string
	// Timeout bounds a single request when the caller's context has no
	// deadline of its own.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a typed gateway client. Non-2xx answers are decoded from the
// response envelope back into the matching error code; transport failures
// surface as NETWORK_FAILURE.
type Client struct {
	baseURL     string
	http        *http.Client
	credentials CredentialSource
	logger      *zap.Logger
}

// New constructs a Client. credentials may be nil for the unauthenticated
// auth endpoints only.
func New(cfg Config, credentials CredentialSource, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        httpClient,
		credentials: credentials,
		logger:      logger,
	}
}

// WithCredentials returns a copy of c that authenticates with source.
func (c *Client) WithCredentials(source CredentialSource) *Client {
	clone := *c
	clone.credentials = source
	return &clone
}

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Error      *appErrors.Error   `json:"error"`
	Pagination *models.Pagination `json:"pagination"`
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	auth        bool
	credential  string
}

func jsonBody(v interface{}) (io.Reader, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to encode request")
	}
	return bytes.NewReader(payload), nil
}

// send performs req and returns the raw response for 2xx answers.
func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build request")
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	credential := req.credential
	if credential == "" && req.auth {
		if c.credentials == nil {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no active session")
		}
		credential, err = c.credentials.Credential(ctx)
		if err != nil {
			return nil, err
		}
	}
	if credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+credential)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("gateway request failed", zap.String("method", req.method), zap.String("path", req.path), zap.Error(err))
		return nil, transportError(err)
	}
	c.logger.Debug("gateway request",
		zap.String("method", req.method),
		zap.String("path", req.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(started)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close() //nolint:errcheck
		return nil, decodeError(resp)
	}
	return resp, nil
}

// do performs req and decodes the envelope data into out.
func (c *Client) do(ctx context.Context, req request, out interface{}) (*models.Pagination, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, transportError(fmt.Errorf("decode response: %w", err))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return env.Pagination, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return nil, transportError(fmt.Errorf("decode response data: %w", err))
	}
	return env.Pagination, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Code != "" {
		if known, ok := appErrors.Lookup(env.Error.Code); ok {
			return appErrors.Clone(known, env.Error.Message)
		}
		return appErrors.New(env.Error.Code, resp.StatusCode, env.Error.Message)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return appErrors.Clone(appErrors.ErrUnauthorized, "")
	case resp.StatusCode == http.StatusForbidden:
		return appErrors.Clone(appErrors.ErrForbidden, "")
	case resp.StatusCode == http.StatusNotFound:
		return appErrors.Clone(appErrors.ErrNotFound, "")
	case resp.StatusCode >= http.StatusInternalServerError:
		return appErrors.Clone(appErrors.ErrNetworkFailure, fmt.Sprintf("gateway answered %d", resp.StatusCode))
	default:
		return appErrors.New("HTTP_"+fmt.Sprint(resp.StatusCode), resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return appErrors.Wrap(err, appErrors.ErrNetworkFailure.Code, appErrors.ErrNetworkFailure.Status, "request canceled")
	}
	return appErrors.Wrap(err, appErrors.ErrNetworkFailure.Code, appErrors.ErrNetworkFailure.Status, "gateway unreachable")
}
