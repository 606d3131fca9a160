package authz

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/keystone-pm/keystone/internal/observability"
)

const globalVersionName = "global"

// CacheBackend stores boolean decisions under versioned keys. Version
// counters implement invalidation: bumping a counter orphans every key that
// embedded the old value, and TTL expiry reclaims the orphans.
type CacheBackend interface {
	Get(ctx context.Context, key string) (value, ok bool, err error)
	Set(ctx context.Context, key string, value bool, ttl time.Duration) error
	Version(ctx context.Context, name string) (int64, error)
	Bump(ctx context.Context, name string) error
}

// --- In-process backend ---

type memoryEntry struct {
	value     bool
	expiresAt time.Time
}

// MemoryBackend is a process-local cache backend for single-instance
// deployments and tests.
type MemoryBackend struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	versions map[string]int64
	clock    func() time.Time
}

// NewMemoryBackend constructs an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries:  make(map[string]memoryEntry),
		versions: make(map[string]int64),
		clock:    time.Now,
	}
}

// Get returns the cached value when present and unexpired. Entries are
// never served past their deadline.
func (b *MemoryBackend) Get(_ context.Context, key string) (bool, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return false, false, nil
	}
	if !b.clock().Before(entry.expiresAt) {
		delete(b.entries, key)
		return false, false, nil
	}
	return entry.value, true, nil
}

// Set stores the value with the given TTL.
func (b *MemoryBackend) Set(_ context.Context, key string, value bool, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = memoryEntry{value: value, expiresAt: b.clock().Add(ttl)}
	return nil
}

// Version returns the named version counter, initialising it to 1.
func (b *MemoryBackend) Version(_ context.Context, name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.versions[name] == 0 {
		b.versions[name] = 1
	}
	return b.versions[name], nil
}

// Bump increments the named version counter.
func (b *MemoryBackend) Bump(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.versions[name] == 0 {
		b.versions[name] = 1
	}
	b.versions[name]++
	return nil
}

// --- Redis backend ---

// RedisBackend is the shared cache backend for multi-instance deployments.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend constructs a backend over an existing client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, prefix: "authz:"}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (bool, bool, error) {
	raw, err := b.client.Get(ctx, b.prefix+key).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return raw == "1", true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value bool, ttl time.Duration) error {
	payload := "0"
	if value {
		payload = "1"
	}
	return b.client.Set(ctx, b.prefix+key, payload, ttl).Err()
}

// Version returns the named version counter, initialising it to 1 when
// missing.
func (b *RedisBackend) Version(ctx context.Context, name string) (int64, error) {
	key := b.prefix + "version:" + name
	ver, err := b.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		if err := b.client.Set(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := b.client.Set(ctx, key, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

func (b *RedisBackend) Bump(ctx context.Context, name string) error {
	return b.client.Incr(ctx, b.prefix+"version:"+name).Err()
}

// --- Decision cache ---

// DecisionCache memoises resolver outputs behind versioned keys with a
// bounded TTL. The TTL is the soft consistency window for relationship
// expiry; version bumps are the explicit invalidation path for mutations.
type DecisionCache struct {
	backend CacheBackend
	ttl     time.Duration
}

// NewDecisionCache wraps a backend with a TTL.
func NewDecisionCache(backend CacheBackend, ttl time.Duration) *DecisionCache {
	return &DecisionCache{backend: backend, ttl: ttl}
}

// BuildKey composes the versioned key for a base request key.
func (c *DecisionCache) BuildKey(ctx context.Context, principal Principal, base string) (string, error) {
	global, err := c.backend.Version(ctx, globalVersionName)
	if err != nil {
		return "", err
	}
	pv, err := c.backend.Version(ctx, principalVersionName(principal))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("g%s:p%s:%s", strconv.FormatInt(global, 10), strconv.FormatInt(pv, 10), base), nil
}

// Get returns a fresh cached decision, if any.
func (c *DecisionCache) Get(ctx context.Context, key string) (bool, bool, error) {
	return c.backend.Get(ctx, key)
}

// Set stores a decision under the cache TTL.
func (c *DecisionCache) Set(ctx context.Context, key string, value bool) error {
	return c.backend.Set(ctx, key, value, c.ttl)
}

// InvalidatePrincipal purges every cached decision for one principal.
func (c *DecisionCache) InvalidatePrincipal(ctx context.Context, principal Principal) error {
	return c.backend.Bump(ctx, principalVersionName(principal))
}

// InvalidateAll purges every cached decision.
func (c *DecisionCache) InvalidateAll(ctx context.Context) error {
	return c.backend.Bump(ctx, globalVersionName)
}

func principalVersionName(p Principal) string {
	return "principal:" + string(p.Kind) + ":" + p.ID
}

// --- Cached service ---

// AssignmentDirectory lists the principals holding a role, for
// invalidate-by-role. Implemented by internal/roles.
type AssignmentDirectory interface {
	PrincipalsForRole(ctx context.Context, role CanonicalRole) ([]Principal, error)
}

// Service is the cache-fronted decision engine handed to handlers and
// middleware. Reads are safe under unbounded concurrent callers; identical
// concurrent misses collapse into a single resolver computation.
type Service struct {
	resolver  *Resolver
	cache     *DecisionCache
	directory AssignmentDirectory
	group     singleflight.Group
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService wires the cached decision service. metrics may be nil.
func NewService(resolver *Resolver, cache *DecisionCache, directory AssignmentDirectory, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{resolver: resolver, cache: cache, directory: directory, logger: logger, metrics: metrics}
}

// HasPermission answers the permission question, serving fresh cache
// entries when available. Cache failures degrade to a direct resolver
// call rather than failing the check.
func (s *Service) HasPermission(ctx context.Context, req CheckRequest) (bool, error) {
	if err := req.Validate(); err != nil {
		return false, err
	}
	return s.cached(ctx, req.Principal, req.CacheKey(), func(ctx context.Context) (bool, error) {
		allowed, err := s.resolver.HasPermission(ctx, req)
		if err == nil {
			s.metrics.Decision(allowed)
		}
		return allowed, err
	})
}

// CanAccess answers the ownership question with the same caching rules.
func (s *Service) CanAccess(ctx context.Context, principal Principal, resourceType ScopeType, resourceID string) (bool, error) {
	base := "access:" + string(principal.Kind) + ":" + principal.ID + ":" + string(resourceType) + ":" + resourceID
	return s.cached(ctx, principal, base, func(ctx context.Context) (bool, error) {
		return s.resolver.CanAccess(ctx, principal, resourceType, resourceID)
	})
}

func (s *Service) cached(ctx context.Context, principal Principal, base string, compute func(context.Context) (bool, error)) (bool, error) {
	key, err := s.cache.BuildKey(ctx, principal, base)
	if err != nil {
		s.logger.Warn("decision cache unavailable, resolving directly", slog.Any("error", err))
		return compute(ctx)
	}
	if value, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("decision cache read", slog.Any("error", err))
	} else if ok {
		s.metrics.CacheHit()
		return value, nil
	}
	s.metrics.CacheMiss()

	result, err, _ := s.group.Do(key, func() (any, error) {
		allowed, err := compute(ctx)
		if err != nil {
			return false, err
		}
		if err := s.cache.Set(ctx, key, allowed); err != nil {
			s.logger.Warn("decision cache write", slog.Any("error", err))
		}
		return allowed, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// InvalidatePrincipal purges cached decisions for one principal, called
// when its role assignments or owned scopes change.
func (s *Service) InvalidatePrincipal(ctx context.Context, principal Principal) error {
	return s.cache.InvalidatePrincipal(ctx, principal)
}

// InvalidateRole purges cached decisions for every principal holding the
// role. A role mutation has a wide blast radius, so this enumerates the
// assignments rather than tracking per-principal keys. When the listing
// fails the whole cache is flushed instead of risking stale grants.
func (s *Service) InvalidateRole(ctx context.Context, role CanonicalRole) error {
	principals, err := s.directory.PrincipalsForRole(ctx, role)
	if err != nil {
		s.logger.Warn("list principals for role, flushing whole cache",
			slog.String("role", string(role)), slog.Any("error", err))
		return s.cache.InvalidateAll(ctx)
	}
	for _, principal := range principals {
		if err := s.cache.InvalidatePrincipal(ctx, principal); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll purges the entire decision cache.
func (s *Service) InvalidateAll(ctx context.Context) error {
	return s.cache.InvalidateAll(ctx)
}
