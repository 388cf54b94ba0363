package ledger

import (
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tbourn/go-review-backend/internal/domain"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_version_cache_hits_total",
		Help: "Version lookups served from the in-memory cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_version_cache_misses_total",
		Help: "Version lookups that went to the store.",
	})
)

// VersionCache is a per-process LRU of versions keyed by submission id and
// version number. Versions are immutable once written and a re-created
// submission gets a new id, so an entry is never wrong for the id it was
// stored under; callers resolve the id from the store before reading. A nil
// *VersionCache is valid and caches nothing.
type VersionCache struct {
	lru *expirable.LRU[string, domain.Version]
}

// NewVersionCache returns a cache holding at most size versions for ttl.
func NewVersionCache(size int, ttl time.Duration) *VersionCache {
	return &VersionCache{lru: expirable.NewLRU[string, domain.Version](size, nil, ttl)}
}

func cachePrefix(submissionID string) string {
	return submissionID + "\x00"
}

func (c *VersionCache) Get(submissionID string, n int) (domain.Version, bool) {
	if c == nil {
		return domain.Version{}, false
	}
	v, ok := c.lru.Get(cachePrefix(submissionID) + strconv.Itoa(n))
	if ok {
		cacheHitsTotal.Inc()
		return v, true
	}
	cacheMissesTotal.Inc()
	return domain.Version{}, false
}

func (c *VersionCache) Add(submissionID string, v domain.Version) {
	if c == nil {
		return
	}
	c.lru.Add(cachePrefix(submissionID)+strconv.Itoa(v.Number), v)
}

// Forget drops every cached version of the submission.
func (c *VersionCache) Forget(submissionID string) {
	if c == nil {
		return
	}
	p := cachePrefix(submissionID)
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, p) {
			c.lru.Remove(k)
		}
	}
}

// Len returns the number of cached versions.
func (c *VersionCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
