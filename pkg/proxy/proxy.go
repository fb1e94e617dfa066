// Package proxy decides when eth_blockNumber is answered from the cache and
// forwards everything else to the upstream node.
package proxy

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync/atomic"

	"github.com/citizenwallet/lazynode/internal/services/upstream"
	"github.com/citizenwallet/lazynode/pkg/jsonrpc"
	"github.com/citizenwallet/lazynode/pkg/jsonrpc/eth"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BlockCache holds the last block number fetched from the upstream node.
// Zero means no fetch has succeeded yet.
type BlockCache struct {
	block atomic.Uint64
}

func NewBlockCache() *BlockCache {
	return &BlockCache{}
}

func (c *BlockCache) Load() uint64 {
	return c.block.Load()
}

func (c *BlockCache) Store(block uint64) {
	c.block.Store(block)
}

const maxBurst = 1 << 16

// Random returns a value in [0, 1).
type Random func() float64

// Upstream is the node the proxy talks to.
type Upstream interface {
	upstream.Executor
	Forward(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
}

type Config struct {
	// UpdateChance is the probability that a request refreshes a warm cache.
	UpdateChance float64
	// RefreshRateLimit caps warm cache refreshes per second. Zero disables it.
	RefreshRateLimit float64
}

type Proxy struct {
	upstream     Upstream
	cache        *BlockCache
	random       Random
	updateChance float64
	limiter      *rate.Limiter
	metrics      *Metrics
	logger       *zap.Logger
}

// New creates a proxy serving from cache. A nil random uses math/rand.
func New(conf Config, up Upstream, cache *BlockCache, random Random, metrics *Metrics, logger *zap.Logger) *Proxy {
	if random == nil {
		random = rand.Float64
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if conf.RefreshRateLimit > 0 {
		burst := maxBurst
		if conf.RefreshRateLimit < maxBurst {
			burst = int(conf.RefreshRateLimit)
		}
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(conf.RefreshRateLimit), burst)
	}

	return &Proxy{
		upstream:     up,
		cache:        cache,
		random:       random,
		updateChance: conf.UpdateChance,
		limiter:      limiter,
		metrics:      metrics,
		logger:       logger,
	}
}

func (p *Proxy) shouldRefresh() bool {
	roll := p.random()

	// a cold cache always refreshes
	if p.cache.Load() == 0 {
		return true
	}

	if roll >= p.updateChance {
		return false
	}

	return p.limiter == nil || p.limiter.Allow()
}

// BlockNumber answers an eth_blockNumber request. Upstream failures are
// logged and the cached value is served instead, so it never fails.
func (p *Proxy) BlockNumber(ctx context.Context, req *eth.BlockNumberRequest) *eth.BlockNumberResponse {
	p.logger.Debug("block number", zap.Stringer("id", req.ID))

	source := "cache"
	if p.shouldRefresh() {
		source = "upstream"

		block, err := upstream.Call[eth.NoParams, uint64](ctx, p.upstream, eth.BlockNumber{}, eth.NoParams{})
		if err != nil {
			p.logger.Warn("error updating latest block", zap.Error(err))
			p.metrics.refresh("error")
		} else {
			p.logger.Info("updated block number", zap.Uint64("block", block))
			p.cache.Store(block)
			p.metrics.refresh("success")
		}
	}

	block := p.cache.Load()
	p.metrics.blockNumber(source, block)

	return jsonrpc.NewResponse(req, block)
}

// Forward sends request to the upstream node as is. Failures are left to the
// caller to log.
func (p *Proxy) Forward(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	resp, err := p.upstream.Forward(ctx, request)
	if err != nil {
		p.metrics.passthrough("error")
		return nil, err
	}

	p.metrics.passthrough("success")
	return resp, nil
}
