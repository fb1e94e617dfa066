// Package dshackle turns the detailed health page of a dshackle load
// balancer into a plain health check for a single node.
package dshackle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	StatusOK          = "OK"
	StatusLagging     = "LAGGING"
	StatusUnavailable = "UNAVAILABLE"
)

var ErrNodeNotFound = errors.New("node lag not found in dshackle's detailed health page")

// Health is the state of one node as reported by dshackle.
type Health struct {
	Status string
	Lag    uint64
}

func (h Health) String() string {
	return fmt.Sprintf("%s(%d)", h.Status, h.Lag)
}

// HTTPStatus is 200 for a healthy node and 503 otherwise.
func (h Health) HTTPStatus() int {
	if h.Status == StatusOK {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

type Client struct {
	url    string
	maxLag *uint64
	line   *regexp.Regexp
	client *http.Client
	logger *zap.Logger
}

// New creates a client reading the health of nodeID from url. When maxLag is
// set it replaces dshackle's own judgement of OK and LAGGING nodes.
func New(url, nodeID string, maxLag *uint64, client *http.Client, logger *zap.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		url:    url,
		maxLag: maxLag,
		line:   regexp.MustCompile(regexp.QuoteMeta(nodeID) + ` (.*) with lag=(.*)`),
		client: client,
		logger: logger,
	}
}

// Health fetches the health page and parses the node's line. The page is
// read whatever the status code, since dshackle reports unhealthy upstreams
// with a 503.
func (c *Client) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Health{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Health{}, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Health{}, err
	}

	c.logger.Debug("dshackle responded", zap.Int("status", resp.StatusCode), zap.ByteString("body", body))

	return c.Parse(string(body))
}

// Parse finds the first line of page describing the node.
func (c *Client) Parse(page string) (Health, error) {
	for _, line := range strings.Split(page, "\n") {
		m := c.line.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		lag, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			return Health{}, fmt.Errorf("parsing lag %q: %w", m[2], err)
		}

		h := Health{Status: m[1], Lag: lag}

		if c.maxLag != nil && (h.Status == StatusOK || h.Status == StatusLagging) {
			h.Status = StatusOK
			if lag > *c.maxLag {
				h.Status = StatusLagging
			}
		}

		return h, nil
	}

	return Health{}, ErrNodeNotFound
}

// ServeHealth answers with the node's status and lag, e.g. "OK(0)".
func (c *Client) ServeHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	h, err := c.Health(r.Context())
	if err != nil {
		c.logger.Warn("error reading node health", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(err.Error()))
		return
	}

	c.logger.Info("node health", zap.Stringer("health", h))

	w.WriteHeader(h.HTTPStatus())
	w.Write([]byte(h.String()))
}
