package services

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/trellis-pm/trellis/backend/internal/metrics"
)

const defaultCacheSize = 4096

// ResolutionCache memoizes resolver answers within one process. It is a pure
// optimization: correctness must hold with it disabled, and any mutation to a
// user's assignments clears every entry for that user. Over-invalidation is
// always safe; a stale entry must never outlive a revocation.
type ResolutionCache struct {
	decisions *lru.Cache[string, bool]
	sets      *lru.Cache[string, []string]
}

// NewResolutionCache builds a cache with the given capacity per keyspace.
// A size of 0 uses the default capacity.
func NewResolutionCache(size int) (*ResolutionCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	decisions, err := lru.New[string, bool](size)
	if err != nil {
		return nil, err
	}
	sets, err := lru.New[string, []string](size)
	if err != nil {
		return nil, err
	}
	return &ResolutionCache{decisions: decisions, sets: sets}, nil
}

// scopeKey renders a project scope; nil means a global (unscoped) check.
func scopeKey(projectID *uint) string {
	if projectID == nil {
		return "global"
	}
	return fmt.Sprintf("p%d", *projectID)
}

func decisionKey(userID uint, permission string, projectID *uint) string {
	return fmt.Sprintf("%d|%s|%s", userID, permission, scopeKey(projectID))
}

func setKey(userID uint, projectID *uint) string {
	return fmt.Sprintf("%d|*|%s", userID, scopeKey(projectID))
}

func userPrefix(userID uint) string {
	return fmt.Sprintf("%d|", userID)
}

// GetDecision returns a memoized HasPermission answer.
func (c *ResolutionCache) GetDecision(userID uint, permission string, projectID *uint) (bool, bool) {
	if c == nil {
		return false, false
	}
	v, ok := c.decisions.Get(decisionKey(userID, permission, projectID))
	if ok {
		metrics.IncCacheHit()
	} else {
		metrics.IncCacheMiss()
	}
	return v, ok
}

// PutDecision stores a HasPermission answer.
func (c *ResolutionCache) PutDecision(userID uint, permission string, projectID *uint, allowed bool) {
	if c == nil {
		return
	}
	c.decisions.Add(decisionKey(userID, permission, projectID), allowed)
}

// GetSet returns a memoized GetUserPermissions answer.
func (c *ResolutionCache) GetSet(userID uint, projectID *uint) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.sets.Get(setKey(userID, projectID))
	if ok {
		metrics.IncCacheHit()
	} else {
		metrics.IncCacheMiss()
	}
	return v, ok
}

// PutSet stores a GetUserPermissions answer.
func (c *ResolutionCache) PutSet(userID uint, projectID *uint, names []string) {
	if c == nil {
		return
	}
	c.sets.Add(setKey(userID, projectID), names)
}

// InvalidateUser removes every cached entry whose key belongs to the user.
// Called on every assignment mutation (grant, revoke, expiry sweep).
func (c *ResolutionCache) InvalidateUser(userID uint) {
	if c == nil {
		return
	}
	prefix := userPrefix(userID)
	for _, k := range c.decisions.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.decisions.Remove(k)
		}
	}
	for _, k := range c.sets.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.sets.Remove(k)
		}
	}
	metrics.IncCacheInvalidation()
}

// Purge drops every entry. Used by tests and by bulk catalog changes.
func (c *ResolutionCache) Purge() {
	if c == nil {
		return
	}
	c.decisions.Purge()
	c.sets.Purge()
}
