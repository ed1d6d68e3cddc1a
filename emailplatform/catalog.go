package emailplatform

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CatalogTTL is how long a fetched group catalog is served from memory.
const CatalogTTL = time.Hour

type groupLister interface {
	ListGroups(ctx context.Context) ([]Group, error)
}

// GroupCatalog caches the platform's group list process-wide. Concurrent
// misses share one fetch.
type GroupCatalog struct {
	lister groupLister
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	groups    []Group
	fetchedAt time.Time

	flight singleflight.Group
}

func NewGroupCatalog(lister groupLister, ttl time.Duration) *GroupCatalog {
	if ttl <= 0 {
		ttl = CatalogTTL
	}
	return &GroupCatalog{lister: lister, ttl: ttl, now: time.Now}
}

// Groups returns the cached catalog, fetching it when empty or stale.
func (g *GroupCatalog) Groups(ctx context.Context) ([]Group, error) {
	g.mu.RLock()
	if g.groups != nil && g.now().Sub(g.fetchedAt) < g.ttl {
		groups := g.groups
		g.mu.RUnlock()
		return groups, nil
	}
	g.mu.RUnlock()

	v, err, _ := g.flight.Do("groups", func() (interface{}, error) {
		groups, err := g.lister.ListGroups(ctx)
		if err != nil {
			return nil, err
		}
		if groups == nil {
			groups = []Group{}
		}
		g.mu.Lock()
		g.groups = groups
		g.fetchedAt = g.now()
		g.mu.Unlock()
		return groups, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Group), nil
}

// Lookup maps group ids to titles, leaving unknown ids out.
func (g *GroupCatalog) Lookup(ctx context.Context, ids []string) (map[string]string, error) {
	groups, err := g.Groups(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(ids))
	for _, id := range ids {
		for _, group := range groups {
			if group.ID == id {
				titles[id] = group.Title
				break
			}
		}
	}
	return titles, nil
}

// Invalidate drops the cached catalog so the next read refetches it.
func (g *GroupCatalog) Invalidate() {
	g.mu.Lock()
	g.groups = nil
	g.fetchedAt = time.Time{}
	g.mu.Unlock()
}
