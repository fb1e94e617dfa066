package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/citizenwallet/lazynode/internal/services/upstream"
	"github.com/citizenwallet/lazynode/pkg/jsonrpc"
	"github.com/citizenwallet/lazynode/pkg/jsonrpc/eth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeUpstream struct {
	mu        sync.Mutex
	block     uint64
	err       error
	calls     int
	forwarded []string
	response  string
}

func (u *fakeUpstream) Exec(ctx context.Context, body []byte) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","result":"0x%x","id":1337}`, u.block)), nil
}

func (u *fakeUpstream) Forward(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.forwarded = append(u.forwarded, string(request))
	if u.err != nil {
		return nil, u.err
	}
	return json.RawMessage(u.response), nil
}

func (u *fakeUpstream) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func (u *fakeUpstream) set(block uint64, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.block = block
	u.err = err
}

func fixed(v float64) Random {
	return func() float64 { return v }
}

func blockNumberRequest(t *testing.T, id string) *eth.BlockNumberRequest {
	req, err := eth.DecodeBlockNumberRequest([]byte(`{"jsonrpc":"2.0","method":"eth_blockNumber","params":[],"id":` + id + `}`))
	require.NoError(t, err)
	return req
}

func TestBlockNumber(t *testing.T) {
	ctx := context.Background()

	t.Run("always refreshes with chance 1", func(t *testing.T) {
		up := &fakeUpstream{block: 100}
		p := New(Config{UpdateChance: 1}, up, NewBlockCache(), nil, nil, nil)

		for i := 1; i <= 5; i++ {
			up.set(uint64(100+i), nil)
			resp := p.BlockNumber(ctx, blockNumberRequest(t, "1"))
			assert.Equal(t, uint64(100+i), resp.Result)
			assert.Equal(t, i, up.Calls())
		}
	})

	t.Run("never refreshes a warm cache with chance 0", func(t *testing.T) {
		up := &fakeUpstream{block: 42}
		p := New(Config{UpdateChance: 0}, up, NewBlockCache(), fixed(0), nil, nil)

		resp := p.BlockNumber(ctx, blockNumberRequest(t, "1"))
		assert.Equal(t, uint64(42), resp.Result)
		assert.Equal(t, 1, up.Calls())

		up.set(43, nil)
		for i := 0; i < 10; i++ {
			resp := p.BlockNumber(ctx, blockNumberRequest(t, "1"))
			assert.Equal(t, uint64(42), resp.Result)
		}
		assert.Equal(t, 1, up.Calls())
	})

	t.Run("cold cache forces one refresh", func(t *testing.T) {
		up := &fakeUpstream{block: 7}
		cache := NewBlockCache()
		p := New(Config{UpdateChance: 0}, up, cache, fixed(0.99), nil, nil)

		p.BlockNumber(ctx, blockNumberRequest(t, "1"))
		assert.Equal(t, 1, up.Calls())
		assert.Equal(t, uint64(7), cache.Load())
	})

	t.Run("roll decides a warm refresh", func(t *testing.T) {
		up := &fakeUpstream{block: 9}
		cache := NewBlockCache()
		cache.Store(8)

		roll := 0.3
		p := New(Config{UpdateChance: 0.25}, up, cache, func() float64 { return roll }, nil, nil)

		assert.Equal(t, uint64(8), p.BlockNumber(ctx, blockNumberRequest(t, "1")).Result)
		assert.Equal(t, 0, up.Calls())

		roll = 0.25
		assert.Equal(t, uint64(8), p.BlockNumber(ctx, blockNumberRequest(t, "1")).Result)
		assert.Equal(t, 0, up.Calls())

		roll = 0.2
		assert.Equal(t, uint64(9), p.BlockNumber(ctx, blockNumberRequest(t, "1")).Result)
		assert.Equal(t, 1, up.Calls())
	})

	t.Run("upstream failure serves the cached value", func(t *testing.T) {
		up := &fakeUpstream{err: &upstream.TransportError{StatusCode: 502, Body: "bad gateway"}}
		cache := NewBlockCache()
		cache.Store(1000)
		p := New(Config{UpdateChance: 1}, up, cache, nil, nil, nil)

		resp := p.BlockNumber(ctx, blockNumberRequest(t, `"x"`))
		assert.Equal(t, uint64(1000), resp.Result)
		assert.Equal(t, jsonrpc.StringID("x"), resp.ID)
		assert.Equal(t, 1, up.Calls())
	})

	t.Run("cold cache failure serves zero", func(t *testing.T) {
		up := &fakeUpstream{err: errors.New("connection refused")}
		p := New(Config{UpdateChance: 0}, up, NewBlockCache(), nil, nil, nil)

		resp := p.BlockNumber(ctx, blockNumberRequest(t, "1"))
		assert.Equal(t, uint64(0), resp.Result)

		// still cold, so the next call tries again
		p.BlockNumber(ctx, blockNumberRequest(t, "1"))
		assert.Equal(t, 2, up.Calls())
	})

	t.Run("keeps the request id", func(t *testing.T) {
		up := &fakeUpstream{block: 5}
		p := New(Config{UpdateChance: 0.25}, up, NewBlockCache(), nil, nil, nil)

		b, err := json.Marshal(p.BlockNumber(ctx, blockNumberRequest(t, `"a"`)))
		require.NoError(t, err)
		assert.Equal(t, `{"jsonrpc":"2.0","result":"0x5","id":"a"}`, string(b))
	})

	t.Run("rate limit", func(t *testing.T) {
		up := &fakeUpstream{block: 11}
		cache := NewBlockCache()
		cache.Store(10)
		p := New(Config{UpdateChance: 1, RefreshRateLimit: 1}, up, cache, nil, nil, nil)

		assert.Equal(t, uint64(11), p.BlockNumber(ctx, blockNumberRequest(t, "1")).Result)

		up.set(12, nil)
		assert.Equal(t, uint64(11), p.BlockNumber(ctx, blockNumberRequest(t, "1")).Result)
		assert.Equal(t, 1, up.Calls())
	})

	t.Run("rate limit does not block a cold cache", func(t *testing.T) {
		up := &fakeUpstream{err: errors.New("down")}
		p := New(Config{UpdateChance: 1, RefreshRateLimit: 1}, up, NewBlockCache(), nil, nil, nil)

		for i := 0; i < 3; i++ {
			p.BlockNumber(ctx, blockNumberRequest(t, "1"))
		}
		assert.Equal(t, 3, up.Calls())
	})
}

func TestRefreshLimiterBurst(t *testing.T) {
	cases := []struct {
		limit float64
		burst int
	}{
		{0.5, 1},
		{1, 1},
		{20, 20},
		{1e300, maxBurst},
	}

	for _, c := range cases {
		p := New(Config{UpdateChance: 1, RefreshRateLimit: c.limit}, &fakeUpstream{}, NewBlockCache(), nil, nil, nil)
		require.NotNil(t, p.limiter)
		assert.Equal(t, c.burst, p.limiter.Burst(), "limit %v", c.limit)
	}

	p := New(Config{UpdateChance: 1}, &fakeUpstream{}, NewBlockCache(), nil, nil, nil)
	assert.Nil(t, p.limiter)
}

func TestBlockNumberConcurrent(t *testing.T) {
	up := &fakeUpstream{block: 77}
	cache := NewBlockCache()
	p := New(Config{UpdateChance: 1}, up, cache, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := p.BlockNumber(context.Background(), blockNumberRequest(t, fmt.Sprint(i)))
			assert.Equal(t, uint64(77), resp.Result)
			assert.Equal(t, jsonrpc.NumberID(int64(i)), resp.ID)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, up.Calls())
	assert.Equal(t, uint64(77), cache.Load())
}

func TestForward(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		up := &fakeUpstream{response: `{"jsonrpc":"2.0","result":"0x0","id":2}`}
		m := NewMetrics(prometheus.NewRegistry())
		p := New(Config{}, up, NewBlockCache(), nil, m, nil)

		req := `{"jsonrpc":"2.0","method":"eth_getBalance","params":["0xabc","latest"],"id":2}`
		resp, err := p.Forward(ctx, json.RawMessage(req))
		require.NoError(t, err)

		assert.Equal(t, `{"jsonrpc":"2.0","result":"0x0","id":2}`, string(resp))
		assert.Equal(t, []string{req}, up.forwarded)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Passthrough.WithLabelValues("success")))
		assert.Equal(t, 0, up.Calls())
	})

	t.Run("error", func(t *testing.T) {
		upErr := &upstream.DecodeError{Body: "<html>", Err: upstream.ErrInvalidJSON}
		up := &fakeUpstream{err: upErr}
		m := NewMetrics(prometheus.NewRegistry())
		core, logs := observer.New(zap.DebugLevel)
		p := New(Config{}, up, NewBlockCache(), nil, m, zap.New(core))

		_, err := p.Forward(ctx, json.RawMessage(`{"method":"eth_call"}`))
		assert.ErrorIs(t, err, upstream.ErrInvalidJSON)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.Passthrough.WithLabelValues("error")))

		// the router logs the failure with the request id
		assert.Zero(t, logs.Len())
	})
}

func TestMetrics(t *testing.T) {
	up := &fakeUpstream{block: 3}
	m := NewMetrics(prometheus.NewRegistry())
	p := New(Config{UpdateChance: 0}, up, NewBlockCache(), fixed(0.5), m, nil)

	p.BlockNumber(context.Background(), blockNumberRequest(t, "1"))
	p.BlockNumber(context.Background(), blockNumberRequest(t, "2"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.BlockNumberRequests.WithLabelValues("upstream")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BlockNumberRequests.WithLabelValues("cache")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Refreshes.WithLabelValues("success")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.CachedBlock))
}
