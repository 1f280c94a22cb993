package rbac

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CheckObserver is notified of every check made through a Checker
type CheckObserver func(channel string, allowed, cached bool)

// Checker answers permission checks from a cache of per-user permission sets,
// loading misses from the provider. Concurrent misses for the same user share
// one load. The cache is invalidated by the events of the bus it is attached to.
type Checker struct {
	provider Provider
	cache    PermissionCache
	group    singleflight.Group
	log      logrus.FieldLogger
	observe  CheckObserver
	now      func() time.Time

	// generation is bumped on every invalidation; loads started under an
	// older generation do not populate the cache
	generation atomic.Uint64
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithCheckerLogger sets the checker logger
func WithCheckerLogger(log logrus.FieldLogger) CheckerOption {
	return func(c *Checker) {
		if log != nil {
			c.log = log
		}
	}
}

// WithCheckerClock overrides the clock used to expire cached permission sets
func WithCheckerClock(now func() time.Time) CheckerOption {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCheckObserver registers a callback for check outcomes
func WithCheckObserver(fn CheckObserver) CheckerOption {
	return func(c *Checker) {
		c.observe = fn
	}
}

// NewChecker creates a checker. A nil cache disables caching.
func NewChecker(provider Provider, cache PermissionCache, opts ...CheckerOption) *Checker {
	c := &Checker{
		provider: provider,
		cache:    cache,
		log:      logrus.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckPermission checks the role channel for userID
func (c *Checker) CheckPermission(ctx context.Context, userID string, perm Permission) (*PermissionCheckResult, error) {
	perms, cached, err := c.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, p := range perms {
		if p == perm {
			allowed = true
			break
		}
	}

	c.report(ChannelRole, allowed, cached)
	return &PermissionCheckResult{
		Allowed:   allowed,
		Channel:   ChannelRole,
		Cached:    cached,
		CheckedAt: c.now().UTC(),
	}, nil
}

// CheckResourcePermission checks the resource channel. Resource grants are not cached.
func (c *Checker) CheckResourcePermission(ctx context.Context, userID string, perm Permission, resourceType, resourceID string) (*PermissionCheckResult, error) {
	allowed, err := c.provider.HasResourcePermission(ctx, userID, perm, resourceType, resourceID)
	if err != nil {
		return nil, err
	}

	c.report(ChannelResource, allowed, false)
	return &PermissionCheckResult{
		Allowed:   allowed,
		Channel:   ChannelResource,
		CheckedAt: c.now().UTC(),
	}, nil
}

// EffectivePermissions returns the user's role-derived permissions and whether
// they came from the cache. A cached set is dropped once an assignment it was
// built from has expired.
func (c *Checker) EffectivePermissions(ctx context.Context, userID string) ([]Permission, bool, error) {
	if c.cache != nil {
		if set, ok := c.cache.Get(ctx, userID); ok {
			if !set.Expired(c.now()) {
				return set.Permissions, true, nil
			}
			c.cache.Invalidate(ctx, userID)
		}
	}

	gen := c.generation.Load()
	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		set, err := c.provider.GetUserPermissionSet(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.remember(ctx, userID, gen, set)
		return set, nil
	})
	if err != nil {
		return nil, false, err
	}
	return append([]Permission{}, v.(*PermissionSet).Permissions...), false, nil
}

// remember caches set unless an invalidation happened after gen was read.
// An invalidation landing between the check and the write is caught by the
// second generation read.
func (c *Checker) remember(ctx context.Context, userID string, gen uint64, set *PermissionSet) {
	if c.cache == nil || set.Expired(c.now()) || c.generation.Load() != gen {
		return
	}
	c.cache.Set(ctx, userID, set)
	if c.generation.Load() != gen {
		c.cache.Invalidate(ctx, userID)
	}
}

// InvalidateUser drops the cached permissions of one user
func (c *Checker) InvalidateUser(ctx context.Context, userID string) {
	c.generation.Add(1)
	if c.cache != nil {
		c.cache.Invalidate(ctx, userID)
	}
}

// InvalidateAll drops every cached permission set
func (c *Checker) InvalidateAll(ctx context.Context) {
	c.generation.Add(1)
	if c.cache != nil {
		c.cache.Purge(ctx)
	}
}

// HandleEvent invalidates cache entries affected by event
func (c *Checker) HandleEvent(ctx context.Context, event Event) {
	switch event.Type {
	case EventRoleAssigned, EventRoleRemoved:
		c.log.WithField("user_id", event.UserID).Debug("invalidating cached permissions")
		c.InvalidateUser(ctx, event.UserID)
	case EventRoleUpdated, EventRoleDeleted, EventPermissionAdded, EventPermissionRemoved:
		c.log.WithField("event_type", event.Type).Debug("invalidating all cached permissions")
		c.InvalidateAll(ctx)
	}
}

// Attach subscribes the checker to bus and returns the unsubscribe function
func (c *Checker) Attach(bus *EventBus) func() {
	return bus.Subscribe(c.HandleEvent)
}

func (c *Checker) report(channel string, allowed, cached bool) {
	if c.observe != nil {
		c.observe(channel, allowed, cached)
	}
}
