// Package client talks to the flood backend REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"floodwatch/internal/metrics"
	"floodwatch/internal/model"

	"go.uber.org/zap"
)

// Options configures a Client
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	ExtendedTimeout time.Duration
	Token           string
}

// Request is one outbound call. Target is either a path relative to the
// base URL or an absolute URL.
type Request struct {
	Method  string
	Target  string
	Body    json.RawMessage
	Headers map[string]string
}

// Response carries the unwrapped data of a {data, status} envelope
type Response struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Client is safe for concurrent use
type Client struct {
	baseURL  string
	timeout  time.Duration
	extended time.Duration
	token    string
	http     *http.Client
	logger   *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ExtendedTimeout < opts.Timeout {
		opts.ExtendedTimeout = opts.Timeout
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  opts.Timeout,
		extended: opts.ExtendedTimeout,
		token:    opts.Token,
		http:     &http.Client{},
		logger:   logger.Named("client"),
	}
}

// Send performs req. A timeout or connection failure is retried once with the
// extended timeout before it surfaces as a *model.NetworkError.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.attempt(ctx, req, c.timeout)
	if err == nil || !retryable(ctx, err) {
		c.count(req.Method, err, false)
		return resp, err
	}

	c.logger.Debug("Retrying backend request with extended timeout",
		zap.String("method", req.Method),
		zap.String("target", req.Target),
		zap.Error(err))
	resp, err = c.attempt(ctx, req, c.extended)
	c.count(req.Method, err, true)
	return resp, err
}

func (c *Client) attempt(ctx context.Context, req Request, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.resolve(req.Target), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classify(err)
	}

	if httpResp.StatusCode >= http.StatusBadRequest {
		return nil, serverError(httpResp.StatusCode, raw)
	}
	return &Response{Status: httpResp.StatusCode, Data: unwrap(raw)}, nil
}

func (c *Client) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return c.baseURL + "/" + strings.TrimLeft(target, "/")
}

func (c *Client) count(method string, err error, retried bool) {
	result := "ok"
	switch {
	case errors.Is(err, model.ErrOffline):
		result = "offline"
	case errors.Is(err, model.ErrNetworkTimeout):
		result = "timeout"
	case errors.Is(err, model.ErrServer):
		result = "server"
	case err != nil:
		result = "error"
	case retried:
		result = "retried"
	}
	metrics.BackendRequests.WithLabelValues(method, result).Inc()
}

// retryable is true for timeouts and connection failures, unless the caller gave up
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, model.ErrNetworkTimeout) || errors.Is(err, model.ErrOffline)
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &model.NetworkError{Kind: model.ErrNetworkTimeout, Err: err}
	}
	return &model.NetworkError{Kind: model.ErrOffline, Err: err}
}

// failureBody is the backend's error envelope
type failureBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
}

func serverError(status int, raw []byte) error {
	netErr := &model.NetworkError{Kind: model.ErrServer, Status: status}
	var body failureBody
	if json.Unmarshal(raw, &body) == nil {
		netErr.Message = body.Message
		netErr.Code = body.Code
	}
	if netErr.Message == "" {
		netErr.Message = http.StatusText(status)
	}
	return netErr
}

// unwrap returns the data field of a {data, status} envelope, or raw when the body is not one
func unwrap(raw []byte) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Data != nil {
		return envelope.Data
	}
	return json.RawMessage(raw)
}
