package matching

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/example/secret-coffee/internal/cache"
)

const (
	// DefaultTimeout bounds the single remote attempt.
	DefaultTimeout = 10 * time.Second
	// DefaultTTL is how long a pairing stays cached.
	DefaultTTL = time.Hour

	cacheKeyPrefix = "matching:pairs:"
)

// Client is the remote matching capability.
type Client interface {
	Match(ctx context.Context, candidates []Candidate) Result
}

// Source names where a pairing came from, for logging.
type Source string

const (
	SourceCache    Source = "cache"
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Options tunes an Adapter. Zero values select defaults.
type Options struct {
	Timeout time.Duration
	TTL     time.Duration
	// Rand shuffles fallback order. Nil seeds a fresh ChaCha8 stream.
	Rand   *rand.Rand
	Logger *slog.Logger
}

// Adapter computes pairings through the cache, the remote client and the
// local fallback, in that order. Concurrent calls for the same candidate set
// are serialised so only the first reaches the remote client.
type Adapter struct {
	client  Client
	cache   cache.Cache
	timeout time.Duration
	ttl     time.Duration
	logger  *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	locks keyedMutex
}

// NewAdapter builds an adapter. A nil client behaves as permanently unavailable.
func NewAdapter(client Client, c cache.Cache, opts Options) *Adapter {
	if client == nil {
		client = DisabledClient{}
	}
	if c == nil {
		c = cache.NewMemory(0, nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Adapter{
		client:  client,
		cache:   c,
		timeout: opts.Timeout,
		ttl:     opts.TTL,
		logger:  opts.Logger.With("component", "matching"),
		rng:     opts.Rand,
	}
}

// ComputePairs pairs candidates. Duplicate IDs are collapsed. Fewer than two
// candidates yield no pairs. Remote failures never surface; they only route
// the call to the local fallback.
func (a *Adapter) ComputePairs(ctx context.Context, candidates []Candidate) []Pair {
	pairs, _ := a.compute(ctx, candidates)
	return pairs
}

func (a *Adapter) compute(ctx context.Context, candidates []Candidate) ([]Pair, Source) {
	normalized := normalize(candidates)
	if len(normalized) < 2 {
		return nil, SourceFallback
	}

	ids := make([]string, len(normalized))
	for i, c := range normalized {
		ids[i] = c.ID
	}
	key := CacheKey(ids)
	logger := a.logger.With("cache_key", key, "candidates", len(normalized))

	unlock := a.locks.lock(key)
	defer unlock()

	if pairs, ok := a.cached(ctx, logger, key); ok {
		logger.InfoContext(ctx, "pairing served from cache", "pairs", len(pairs))
		return pairs, SourceCache
	}

	source := SourceRemote
	result := a.callRemote(ctx, normalized)
	pairs, usable := reconcile(normalized, result, a.fallback)
	if !usable {
		source = SourceFallback
		if result.Kind == KindUnavailable {
			logger.WarnContext(ctx, "remote matching unavailable, using fallback", "reason", result.Reason)
		} else {
			logger.WarnContext(ctx, "remote matching returned no usable pairs, using fallback")
		}
		pairs = a.fallback(normalized)
	}

	a.store(ctx, logger, key, pairs)
	logger.InfoContext(ctx, "pairing computed", "source", string(source), "pairs", len(pairs))
	return pairs, source
}

func (a *Adapter) cached(ctx context.Context, logger *slog.Logger, key string) ([]Pair, bool) {
	data, err := a.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			logger.WarnContext(ctx, "cache read failed", "error", err)
		}
		return nil, false
	}
	var pairs []Pair
	if err := cache.Unmarshal(data, &pairs); err != nil {
		logger.WarnContext(ctx, "discarding undecodable cache entry", "error", err)
		return nil, false
	}
	return pairs, true
}

func (a *Adapter) store(ctx context.Context, logger *slog.Logger, key string, pairs []Pair) {
	data, err := cache.Marshal(pairs)
	if err != nil {
		logger.WarnContext(ctx, "failed to encode pairing", "error", err)
		return
	}
	if err := a.cache.Set(ctx, key, data, a.ttl); err != nil {
		logger.WarnContext(ctx, "cache write failed", "error", err)
	}
}

// callRemote makes one bounded attempt. The bound holds even when the client
// ignores context cancellation.
func (a *Adapter) callRemote(ctx context.Context, candidates []Candidate) Result {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- a.client.Match(callCtx, candidates)
	}()

	select {
	case result := <-resultCh:
		return result
	case <-callCtx.Done():
		return Unavailable(&ExternalServiceError{Op: "match", Err: callCtx.Err()})
	}
}

func (a *Adapter) fallback(candidates []Candidate) []Pair {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return FallbackPairs(candidates, a.rng)
}

// reconcile keeps valid remote pairs and completes leftovers locally. It
// reports false when nothing from the remote answer is usable.
func reconcile(candidates []Candidate, result Result, complete func([]Candidate) []Pair) ([]Pair, bool) {
	if result.Kind != KindMatched || len(result.Pairs) == 0 {
		return nil, false
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	used := make(map[string]bool, len(candidates))
	pairs := make([]Pair, 0, len(candidates)/2)
	for _, p := range result.Pairs {
		if p.A == p.B || !known[p.A] || !known[p.B] || used[p.A] || used[p.B] {
			continue
		}
		used[p.A], used[p.B] = true, true
		pairs = append(pairs, p)
	}
	if len(pairs) == 0 {
		return nil, false
	}

	var leftovers []Candidate
	for _, c := range candidates {
		if !used[c.ID] {
			leftovers = append(leftovers, c)
		}
	}
	if len(leftovers) >= 2 {
		pairs = append(pairs, complete(leftovers)...)
	}
	return pairs, true
}

// normalize drops empty and duplicate IDs and sorts by ID.
func normalize(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CacheKey derives the cache key of a candidate set. Order and duplicates do
// not affect the key, and IDs are hashed so they never appear in the cache.
func CacheKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	unique := sorted[:0]
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		unique = append(unique, id)
	}
	sum := blake2b.Sum256([]byte(strings.Join(unique, "\n")))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

// keyedMutex serialises work per key without a global lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// DisabledClient is used when no remote service is configured.
type DisabledClient struct{}

// Match always reports the remote side as unavailable.
func (DisabledClient) Match(context.Context, []Candidate) Result {
	return Unavailable(ErrRemoteDisabled)
}
