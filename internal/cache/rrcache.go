package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/miekg/dns"
)

type rrKey struct {
	Name string
	Type uint16
}

type negKey struct {
	Name  string
	Type  uint16
	Rcode int
}

type rrValue[T any] struct {
	ExpireAt time.Time
	Data     T
}

// RRCaches holds answers built from the served zones: positive answers and,
// in a smaller table, negative ones (NXDOMAIN and NODATA). Entries expire
// after their TTL and are dropped early when the zone they came from is
// installed, replaced or retracted.
type RRCaches[T any] struct {
	clock clock.Clock

	posMu sync.Mutex
	negMu sync.Mutex
	pos   *lru.Cache[rrKey, rrValue[T]]
	neg   *lru.Cache[negKey, rrValue[struct{}]]
}

func NewRRCaches[T any](capacity int, c clock.Clock) (*RRCaches[T], error) {
	if c == nil {
		c = clock.New()
	}
	pos, err := lru.New[rrKey, rrValue[T]](capacity)
	if err != nil {
		return nil, err
	}
	neg, err := lru.New[negKey, rrValue[struct{}]](max(capacity/10, 1))
	if err != nil {
		return nil, err
	}
	return &RRCaches[T]{clock: c, pos: pos, neg: neg}, nil
}

func (c *RRCaches[T]) key(name string, qtype uint16) rrKey {
	return rrKey{Name: strings.ToLower(dns.Fqdn(name)), Type: qtype}
}

func (c *RRCaches[T]) GetPositive(name string, qtype uint16) (T, bool) {
	var zero T
	k := c.key(name, qtype)
	c.posMu.Lock()
	defer c.posMu.Unlock()
	if v, ok := c.pos.Get(k); ok {
		if c.clock.Now().Before(v.ExpireAt) {
			return v.Data, true
		}
		c.pos.Remove(k)
	}
	return zero, false
}

func (c *RRCaches[T]) PutPositive(name string, qtype uint16, data T, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.posMu.Lock()
	defer c.posMu.Unlock()
	c.pos.Add(c.key(name, qtype), rrValue[T]{ExpireAt: c.clock.Now().Add(ttl), Data: data})
}

func (c *RRCaches[T]) GetNegative(name string, qtype uint16, rcode int) bool {
	k := c.key(name, qtype)
	nk := negKey{Name: k.Name, Type: k.Type, Rcode: rcode}
	c.negMu.Lock()
	defer c.negMu.Unlock()
	if v, ok := c.neg.Get(nk); ok {
		if c.clock.Now().Before(v.ExpireAt) {
			return true
		}
		c.neg.Remove(nk)
	}
	return false
}

func (c *RRCaches[T]) PutNegative(name string, qtype uint16, rcode int, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	k := c.key(name, qtype)
	c.negMu.Lock()
	defer c.negMu.Unlock()
	c.neg.Add(negKey{Name: k.Name, Type: k.Type, Rcode: rcode}, rrValue[struct{}]{ExpireAt: c.clock.Now().Add(ttl)})
}

// InvalidateZone drops every entry at or below zone. Invalidating the root
// zone empties the cache.
func (c *RRCaches[T]) InvalidateZone(zone string) {
	zone = strings.ToLower(dns.Fqdn(zone))
	if zone == "." {
		c.Purge()
		return
	}
	c.posMu.Lock()
	for _, k := range c.pos.Keys() {
		if dns.IsSubDomain(zone, k.Name) {
			c.pos.Remove(k)
		}
	}
	c.posMu.Unlock()
	c.negMu.Lock()
	for _, k := range c.neg.Keys() {
		if dns.IsSubDomain(zone, k.Name) {
			c.neg.Remove(k)
		}
	}
	c.negMu.Unlock()
}

func (c *RRCaches[T]) Purge() {
	c.posMu.Lock()
	c.pos.Purge()
	c.posMu.Unlock()
	c.negMu.Lock()
	c.neg.Purge()
	c.negMu.Unlock()
}

// Len is the number of positive and negative entries, expired ones included.
func (c *RRCaches[T]) Len() int {
	c.posMu.Lock()
	n := c.pos.Len()
	c.posMu.Unlock()
	c.negMu.Lock()
	n += c.neg.Len()
	c.negMu.Unlock()
	return n
}
