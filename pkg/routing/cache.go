package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/ag-ui/go-dispatch/internal/utils"
	"github.com/ag-ui/go-dispatch/pkg/tools"
)

// CacheEntry is a cached routing result.
type CacheEntry struct {
	Key       string            `json:"key"`
	Result    *tools.ToolResult `json:"result"`
	ToolID    string            `json:"toolId"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// KeyInput is everything a cache key may depend on.
type KeyInput struct {
	Intent       string
	Params       map[string]interface{}
	Context      *tools.ExecutionContext
	CandidateIDs []string
}

// KeyFunc derives a cache key. Equal inputs must produce equal keys.
type KeyFunc func(KeyInput) (string, error)

// DefaultKeyFunc returns a KeyFunc hashing the normalized intent, the
// parameters minus ignored names, the context grants and the sorted
// candidate set. encoding/json sorts map keys, which makes the parameter
// encoding canonical.
func DefaultKeyFunc(ignoreParams []string) KeyFunc {
	ignored := make(map[string]bool, len(ignoreParams))
	for _, p := range ignoreParams {
		ignored[p] = true
	}
	return func(in KeyInput) (string, error) {
		params := make(map[string]interface{}, len(in.Params))
		for k, v := range in.Params {
			if !ignored[k] {
				params[k] = v
			}
		}
		ids := append([]string(nil), in.CandidateIDs...)
		sort.Strings(ids)

		grants := ""
		if in.Context != nil {
			grants = in.Context.GrantKey()
		}

		payload, err := json.Marshal(struct {
			Intent     string                 `json:"i"`
			Params     map[string]interface{} `json:"p"`
			Grants     string                 `json:"g"`
			Candidates []string               `json:"c"`
		}{utils.NormalizeIntent(in.Intent), params, grants, ids})
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(payload)
		return hex.EncodeToString(sum[:]), nil
	}
}

// ComputeFunc produces a result on a cache miss. cacheable=false keeps a
// successful result out of the cache.
type ComputeFunc func(ctx context.Context) (result *tools.ToolResult, cacheable bool, err error)

// ResultCache is a TTL + LRU cache with single-flight computation: at most
// one computation per key runs at a time and concurrent callers share its
// outcome. Only successful results are stored.
//
// A computation runs under its own context, cancelled once every caller
// waiting on it has given up. Clear starts a new generation: computations
// begun before it neither store their result nor accept new callers.
type ResultCache struct {
	lru   *expirable.LRU[string, CacheEntry]
	group singleflight.Group
	ttl   time.Duration

	mu         sync.Mutex
	flights    map[string]*flight
	generation uint64
	nextFlight uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// flight is one shared computation and the callers waiting on it.
type flight struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	waiters    int

	once   sync.Once
	result flightResult
	err    error
}

type flightResult struct {
	result *tools.ToolResult
	cached bool
}

// NewResultCache creates a cache holding at most size entries for ttl.
func NewResultCache(size int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		lru:     expirable.NewLRU[string, CacheEntry](size, nil, ttl),
		ttl:     ttl,
		flights: make(map[string]*flight),
	}
}

// Get returns an unexpired entry.
func (c *ResultCache) Get(key string) (CacheEntry, bool) {
	entry, ok := c.lru.Get(key)
	if !ok || time.Now().After(entry.ExpiresAt) {
		return CacheEntry{}, false
	}
	return entry, true
}

// join registers the caller on the live flight for key, starting one if
// none exists.
func (c *ResultCache) join(ctx context.Context, key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		c.nextFlight++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{
			id:         key + "#" + strconv.FormatUint(c.nextFlight, 10),
			ctx:        fctx,
			cancel:     cancel,
			generation: c.generation,
		}
		c.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops the caller from f. The last caller out cancels the
// computation and detaches the flight so later callers start afresh.
func (c *ResultCache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

// settle stores a successful result unless the flight was abandoned or
// predates a Clear, then detaches the flight. Both happen under c.mu so a
// caller arriving in between sees either the flight or the entry.
func (c *ResultCache) settle(key string, f *flight, res *tools.ToolResult, cacheable bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	live := f.generation == c.generation && f.ctx.Err() == nil
	if live && err == nil && cacheable && res != nil && res.Success {
		c.lru.Add(key, CacheEntry{
			Key:       key,
			Result:    res.Clone(),
			ToolID:    res.ToolID(),
			ExpiresAt: time.Now().Add(c.ttl),
		})
	}
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

// GetOrCompute returns the cached result for key or computes it. hit is
// true when the result came from the cache or from another caller's
// in-flight computation. A caller whose ctx ends stops waiting with a
// timeout or cancellation *tools.ToolError.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) (*tools.ToolResult, bool, error) {
	if entry, ok := c.Get(key); ok {
		c.hits.Add(1)
		return entry.Result.Clone(), true, nil
	}

	f := c.join(ctx, key)
	defer c.leave(key, f)

	var ran atomic.Bool
	ch := c.group.DoChan(f.id, func() (interface{}, error) {
		f.once.Do(func() {
			ran.Store(true)
			if entry, ok := c.Get(key); ok {
				c.settle(key, f, nil, false, nil)
				f.result = flightResult{result: entry.Result, cached: true}
				return
			}
			res, cacheable, err := compute(f.ctx)
			c.settle(key, f, res, cacheable, err)
			f.result, f.err = flightResult{result: res}, err
		})
		return f.result, f.err
	})

	select {
	case <-ctx.Done():
		return nil, false, abandoned(ctx.Err())
	case r := <-ch:
		fr, _ := r.Val.(flightResult)
		hit := !ran.Load() || fr.cached
		if hit {
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
		}
		return fr.result.Clone(), hit, r.Err
	}
}

// abandoned types the error of a caller that stopped waiting.
func abandoned(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return tools.NewToolError(tools.ErrorTypeTimeout, "TIMEOUT",
			"deadline passed before the routed call finished").WithCause(err)
	}
	return tools.NewCancelledError("", err)
}

// Clear evicts every entry immediately. Computations already running
// finish for their current callers without populating the cache.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	c.generation++
	clear(c.flights)
	c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *ResultCache) Len() int {
	return c.lru.Len()
}

// Stats returns the hit and miss counters.
func (c *ResultCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
