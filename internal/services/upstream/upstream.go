package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/citizenwallet/lazynode/pkg/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// SentinelID is the id of requests the proxy makes on its own behalf.
var SentinelID = jsonrpc.NumberID(1337)

var ErrInvalidJSON = errors.New("response is not valid JSON")

// TransportError is returned when the node could not be reached or answered
// with a non-success status.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream transport: %v", e.Err)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when the node's response does not have the
// expected shape.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("upstream decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Executor sends an encoded request to the node and returns the raw body of
// its response.
type Executor interface {
	Exec(ctx context.Context, body []byte) ([]byte, error)
}

type Client struct {
	url     string
	client  *http.Client
	seq     atomic.Uint64
	latency prometheus.Observer
	logger  *zap.Logger
}

// New creates a client for the node at url. The http client is shared by
// every call and may be used concurrently.
func New(url string, client *http.Client, latency prometheus.Observer, logger *zap.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		url:     url,
		client:  client,
		latency: latency,
		logger:  logger,
	}
}

// Exec posts body to the node.
func (c *Client) Exec(ctx context.Context, body []byte) ([]byte, error) {
	uid := c.seq.Add(1) - 1
	c.logger.Debug(">", zap.Uint64("uid", uid), zap.ByteString("body", body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	req.Header.Add("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if c.latency != nil {
		c.latency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("<", zap.Uint64("uid", uid), zap.Int("status", resp.StatusCode), zap.ByteString("body", data))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	return data, nil
}

// Forward sends an arbitrary request to the node and returns its response
// untouched.
func (c *Client) Forward(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	data, err := c.Exec(ctx, request)
	if err != nil {
		return nil, err
	}

	if !json.Valid(data) {
		return nil, &DecodeError{Body: string(data), Err: ErrInvalidJSON}
	}

	return data, nil
}

// Call invokes m on the node and decodes its result.
func Call[P, R any](ctx context.Context, e Executor, m jsonrpc.Method[P, R], params P) (R, error) {
	var result R

	body, err := json.Marshal(jsonrpc.NewRequest[P, R](m, params, SentinelID))
	if err != nil {
		return result, err
	}

	data, err := e.Exec(ctx, body)
	if err != nil {
		return result, err
	}

	resp, err := jsonrpc.DecodeResponse[P, R](m, data)
	if err != nil {
		return result, &DecodeError{Body: string(data), Err: err}
	}

	return resp.Result, nil
}
