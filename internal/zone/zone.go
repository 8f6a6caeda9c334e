package zone

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

var (
	ErrNoSOA     = errors.New("zone has no SOA record at its apex")
	ErrNoNS      = errors.New("zone has no NS records at its apex")
	ErrOutOfZone = errors.New("record is outside the zone")
)

// Zone is the parsed, immutable data of one zone file. Owner names are
// lowercase FQDNs.
type Zone struct {
	Name   string
	Source string
	Serial uint32
	Mtime  time.Time
	SOA    *dns.SOA

	// name -> rrtype -> records; empty non-terminals map to no records
	ByName map[string]map[uint16][]dns.RR
	count  int
}

func newZone(name, source string) *Zone {
	return &Zone{
		Name:   dns.CanonicalName(name),
		Source: source,
		ByName: make(map[string]map[uint16][]dns.RR),
	}
}

// RRs returns the records of type qtype owned by name.
func (z *Zone) RRs(name string, qtype uint16) []dns.RR {
	if m := z.ByName[strings.ToLower(name)]; m != nil {
		return m[qtype]
	}
	return nil
}

func (z *Zone) HasName(name string) bool {
	_, ok := z.ByName[strings.ToLower(name)]
	return ok
}

// Len is the number of records in the zone.
func (z *Zone) Len() int { return z.count }

// NegativeTTL is the SOA-derived TTL for negative answers (RFC 2308).
func (z *Zone) NegativeTTL() uint32 {
	if z.SOA == nil {
		return 0
	}
	return min(z.SOA.Hdr.Ttl, z.SOA.Minttl)
}

func (z *Zone) add(rr dns.RR) error {
	hdr := rr.Header()
	owner := strings.ToLower(hdr.Name)
	if !dns.IsSubDomain(z.Name, owner) {
		return fmt.Errorf("%w: %s", ErrOutOfZone, hdr.Name)
	}
	hdr.Name = owner
	for off, end := dns.NextLabel(owner, 0); !end && len(owner)-off >= len(z.Name); off, end = dns.NextLabel(owner, off) {
		ensureName(z.ByName, owner[off:])
	}
	m := ensureName(z.ByName, owner)
	switch hdr.Rrtype {
	case dns.TypeSOA:
		if owner != z.Name {
			return fmt.Errorf("SOA record for %s is not at the zone apex", owner)
		}
		if z.SOA != nil {
			return fmt.Errorf("duplicate SOA record at %s", owner)
		}
		z.SOA = rr.(*dns.SOA)
		z.Serial = z.SOA.Serial
	case dns.TypeCNAME:
		if len(m) > 0 {
			return fmt.Errorf("CNAME must be unique at name %s", owner)
		}
	default:
		if _, ok := m[dns.TypeCNAME]; ok {
			return fmt.Errorf("CNAME must be unique at name %s", owner)
		}
	}
	m[hdr.Rrtype] = append(m[hdr.Rrtype], rr)
	z.count++
	return nil
}

func (z *Zone) finalize() error {
	if z.SOA == nil {
		return ErrNoSOA
	}
	if len(z.RRs(z.Name, dns.TypeNS)) == 0 {
		return ErrNoNS
	}
	return nil
}

func ensureName(by map[string]map[uint16][]dns.RR, name string) map[uint16][]dns.RR {
	if by[name] == nil {
		by[name] = make(map[uint16][]dns.RR)
	}
	return by[name]
}
