package zone

import (
	"sort"
	"sync"

	"github.com/miekg/dns"
)

// Store is the runtime zone list that queries are answered from.
//
// Several sources may supply data for the same zone name (e.g. files
// "example.com" and "example.com."). All of them are kept; the one with the
// newest Mtime is served, the most recently installed winning ties.
type Store struct {
	mu         sync.RWMutex
	zones      map[string]*Zone   // key: lowercase zone fqdn; the served candidate
	candidates map[string][]*Zone // installed data per zone name, oldest install first
}

func NewStore() *Store {
	return &Store{zones: make(map[string]*Zone), candidates: make(map[string][]*Zone)}
}

// Find returns the zone with the longest name that encloses qname.
func (s *Store) Find(qname string) *Zone {
	name := dns.CanonicalName(qname)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for off, end := 0, false; !end; off, end = dns.NextLabel(name, off) {
		if z, ok := s.zones[name[off:]]; ok {
			return z
		}
	}
	return s.zones["."]
}

func (s *Store) Get(name string) *Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zones[dns.CanonicalName(name)]
}

// Update installs and retracts zone data in one step:
// (nil, z) adds z, (old, nil) retracts old, (old, z) replaces old with z.
// Retracting data that is not installed (e.g. already replaced) is a no-op.
// When old was being served and another source for its name remains, that
// source is served instead.
func (s *Store) Update(old, newz *Zone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old != nil {
		s.drop(old)
	}
	if newz != nil {
		s.candidates[newz.Name] = append(s.candidates[newz.Name], newz)
		s.elect(newz.Name)
	}
}

func (s *Store) drop(z *Zone) {
	list := s.candidates[z.Name]
	for i, c := range list {
		if c == z {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.candidates, z.Name)
	} else {
		s.candidates[z.Name] = list
	}
	s.elect(z.Name)
}

func (s *Store) elect(name string) {
	var best *Zone
	for _, c := range s.candidates[name] {
		if best == nil || !c.Mtime.Before(best.Mtime) {
			best = c
		}
	}
	if best == nil {
		delete(s.zones, name)
		return
	}
	s.zones[name] = best
}

// Sources is the number of installed candidates for zone name.
func (s *Store) Sources(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candidates[dns.CanonicalName(name)])
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.zones)
}

// Names returns the served zone names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.zones))
	for k := range s.zones {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (s *Store) Snapshot() map[string]*Zone {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Zone, len(s.zones))
	for k, v := range s.zones {
		out[k] = v
	}
	return out
}
