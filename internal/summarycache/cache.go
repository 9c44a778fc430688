// Package summarycache implements the §4.D performance summary cache: a
// TTL+LRU map keyed by (user, lesson), read-through on miss and primed on
// write so a user observes their own just-recorded attempt without a DB
// round-trip.
package summarycache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// AttemptRecord is one entry in a lesson summary (§4.D).
type AttemptRecord struct {
	LevelID     string
	LevelNumber int
	Success     bool
	Difficulty  string
	AttemptTime int
	CreatedAt   time.Time
}

// Summary is the cached view for one (user, lesson): the last N attempts
// plus a running per-level fail count.
type Summary struct {
	Attempts    []AttemptRecord
	FailCounts  map[string]int // levelID -> fail count
}

func (s Summary) clone() Summary {
	out := Summary{
		Attempts:   append([]AttemptRecord(nil), s.Attempts...),
		FailCounts: make(map[string]int, len(s.FailCounts)),
	}
	for k, v := range s.FailCounts {
		out.FailCounts[k] = v
	}
	return out
}

// Loader fetches a lesson summary from the attempt store on a cache miss.
type Loader interface {
	LoadSummary(ctx context.Context, userID, lessonID string) (Summary, error)
}

const maxAttemptsPerSummary = 50

type key struct {
	userID   string
	lessonID string
}

type entry struct {
	key       key
	summary   Summary
	expiresAt time.Time
}

// Cache is a TTL-bounded LRU cache of lesson summaries. No third-party LRU
// in the retrieval pack offers both a TTL and the "merge a write into the
// cached head" primitive this component needs, so this is hand-rolled; see
// DESIGN.md.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	clock      quartz.Clock
	loader     Loader
	entries    map[key]*list.Element
	order      *list.List // front = most recently used
}

// New constructs a Cache. clock defaults to the real clock when nil.
func New(ttl time.Duration, maxEntries int, loader Loader, clock quartz.Clock) *Cache {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      clock,
		loader:     loader,
		entries:    make(map[key]*list.Element),
		order:      list.New(),
	}
}

// GetLessonSummary reads through the cache, falling back to the loader on a
// miss or expiry. A lessonID of "" is never cached (§4.D: "no cache is kept
// when lesson_id is null").
func (c *Cache) GetLessonSummary(ctx context.Context, userID, lessonID string) (Summary, error) {
	if lessonID == "" {
		return c.loader.LoadSummary(ctx, userID, lessonID)
	}

	k := key{userID: userID, lessonID: lessonID}

	c.mu.Lock()
	if el, ok := c.entries[k]; ok {
		ent := el.Value.(*entry)
		if c.clock.Now().Before(ent.expiresAt) {
			c.order.MoveToFront(el)
			summary := ent.summary.clone()
			c.mu.Unlock()
			return summary, nil
		}
		c.removeLocked(el)
	}
	c.mu.Unlock()

	summary, err := c.loader.LoadSummary(ctx, userID, lessonID)
	if err != nil {
		return Summary{}, err
	}
	c.store(k, summary)
	return summary, nil
}

// PrimeLessonSummary merges a just-written attempt into the cached entry
// (creating one if absent) so the writer's own next read observes it
// without querying the store. It has no effect for a null lessonID.
func (c *Cache) PrimeLessonSummary(userID, lessonID string, attempt AttemptRecord) {
	if lessonID == "" {
		return
	}
	k := key{userID: userID, lessonID: lessonID}

	c.mu.Lock()
	defer c.mu.Unlock()

	var summary Summary
	if el, ok := c.entries[k]; ok {
		ent := el.Value.(*entry)
		if c.clock.Now().Before(ent.expiresAt) {
			summary = ent.summary.clone()
		}
		c.removeLocked(el)
	}
	if summary.FailCounts == nil {
		summary.FailCounts = make(map[string]int)
	}

	summary.Attempts = append(summary.Attempts, attempt)
	if len(summary.Attempts) > maxAttemptsPerSummary {
		summary.Attempts = summary.Attempts[len(summary.Attempts)-maxAttemptsPerSummary:]
	}
	if !attempt.Success {
		summary.FailCounts[attempt.LevelID]++
	}

	c.insertLocked(k, summary)
}

func (c *Cache) store(k key, summary Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[k]; ok {
		c.removeLocked(el)
	}
	c.insertLocked(k, summary)
}

// insertLocked must be called with mu held. It adds to the front of the LRU
// order and evicts the oldest entry if the cache is over capacity.
func (c *Cache) insertLocked(k key, summary Summary) {
	ent := &entry{key: k, summary: summary, expiresAt: c.clock.Now().Add(c.ttl)}
	el := c.order.PushFront(ent)
	c.entries[k] = el

	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	ent := el.Value.(*entry)
	delete(c.entries, ent.key)
	c.order.Remove(el)
}
