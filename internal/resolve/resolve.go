// Package resolve looks up host names for client addresses.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/atikulmunna/logscope/internal/model"
)

// Unknown is reported when an address has no name.
const Unknown = "N/A"

// LookupFunc performs one reverse lookup. net.Resolver.LookupAddr satisfies it.
type LookupFunc func(ctx context.Context, addr string) ([]string, error)

// Options tunes the resolver.
type Options struct {
	TTL      time.Duration // how long answers, including failures, are cached
	Rate     float64       // lookups per second
	Burst    int
	Timeout  time.Duration // per lookup
	Parallel int
}

// DefaultOptions keeps answers for an hour and allows 20 lookups a second.
func DefaultOptions() Options {
	return Options{
		TTL:      time.Hour,
		Rate:     20,
		Burst:    5,
		Timeout:  2 * time.Second,
		Parallel: 8,
	}
}

// Resolver caches reverse lookups and rate-limits the ones it sends.
type Resolver struct {
	lookup  LookupFunc
	cache   *bigcache.BigCache
	limiter *rate.Limiter
	opts    Options
	log     *zap.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

// New builds a resolver; a nil lookup uses the system resolver.
func New(ctx context.Context, opts Options, lookup LookupFunc, log *zap.Logger) (*Resolver, error) {
	def := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = def.TTL
	}
	if opts.Rate <= 0 {
		opts.Rate = def.Rate
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.Parallel <= 0 {
		opts.Parallel = def.Parallel
	}
	if lookup == nil {
		lookup = net.DefaultResolver.LookupAddr
	}
	if log == nil {
		log = zap.NewNop()
	}

	cfg := bigcache.DefaultConfig(opts.TTL)
	cfg.Shards = 64
	cfg.MaxEntrySize = 256
	cfg.HardMaxCacheSize = 16
	cfg.Verbose = false
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating hostname cache: %w", err)
	}

	return &Resolver{
		lookup:   lookup,
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		opts:     opts,
		log:      log,
		inflight: make(map[string]chan struct{}),
	}, nil
}

// Hostname returns the first name for ip with its trailing dot removed,
// or Unknown when there is none or the lookup fails.
func (r *Resolver) Hostname(ctx context.Context, ip string) string {
	if ip == "" || ip == model.NoValue {
		return Unknown
	}
	if name, ok := r.cached(ip); ok {
		return name
	}

	// Collapse concurrent lookups of the same address.
	r.mu.Lock()
	if wait, ok := r.inflight[ip]; ok {
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return Unknown
		}
		if name, ok := r.cached(ip); ok {
			return name
		}
		return Unknown
	}
	done := make(chan struct{})
	r.inflight[ip] = done
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, ip)
		r.mu.Unlock()
		close(done)
	}()

	name, err := r.resolve(ctx, ip)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Unknown
		}
		r.log.Debug("reverse lookup failed", zap.String("ip", ip), zap.Error(err))
		name = Unknown
	}
	_ = r.cache.Set(ip, []byte(name))
	return name
}

// Hostnames resolves every address concurrently.
func (r *Resolver) Hostnames(ctx context.Context, ips []string) map[string]string {
	out := make(map[string]string, len(ips))
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.opts.Parallel)
	for _, ip := range ips {
		g.Go(func() error {
			name := r.Hostname(ctx, ip)
			mu.Lock()
			out[ip] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Close releases the cache.
func (r *Resolver) Close() error {
	return r.cache.Close()
}

func (r *Resolver) cached(ip string) (string, bool) {
	b, err := r.cache.Get(ip)
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (r *Resolver) resolve(ctx context.Context, ip string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	names, err := r.lookup(ctx, ip)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n = strings.TrimSuffix(n, "."); n != "" {
			return n, nil
		}
	}
	return "", errors.New("no names returned")
}
