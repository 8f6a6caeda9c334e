package dnsserver

import (
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"zonewatch/internal/cache"
	logx "zonewatch/internal/log"
	"zonewatch/internal/zone"
)

const maxCNAME = 8

// Resolver answers queries authoritatively from the runtime zone list.
type Resolver struct {
	Logger  *slog.Logger
	Zones   *zone.Store
	Cache   *cache.RRCaches[*dns.Msg]
	Metrics *Metrics
}

func NewResolver(l *slog.Logger, zs *zone.Store, c *cache.RRCaches[*dns.Msg], m *Metrics) *Resolver {
	return &Resolver{Logger: logx.OrDiscard(l), Zones: zs, Cache: c, Metrics: m}
}

func (r *Resolver) ServeDNS(w dns.ResponseWriter, req *dns.Msg) {
	resp := r.answer(req)
	r.finish(w, req, resp)
	r.Metrics.query(resp.Rcode)
	if err := w.WriteMsg(resp); err != nil {
		r.Logger.Debug("write response", "err", err)
	}
}

func (r *Resolver) answer(req *dns.Msg) *dns.Msg {
	resp := new(dns.Msg)
	if len(req.Question) != 1 {
		return resp.SetRcode(req, dns.RcodeFormatError)
	}
	if req.Opcode != dns.OpcodeQuery {
		return resp.SetRcode(req, dns.RcodeNotImplemented)
	}
	q := req.Question[0]
	if q.Qclass != dns.ClassINET && q.Qclass != dns.ClassANY {
		return resp.SetRcode(req, dns.RcodeRefused)
	}
	qname := dns.CanonicalName(q.Name)

	if v, ok := r.cached(qname, q.Qtype); ok {
		v.SetReply(req)
		r.Metrics.cacheHit()
		return v
	}

	z := r.Zones.Find(qname)
	if z == nil {
		return resp.SetRcode(req, dns.RcodeRefused)
	}
	resp.SetReply(req)
	resp.Authoritative = true

	// Minimal ANY: avoid dumping whole RRsets. Return SOA only.
	if q.Qtype == dns.TypeANY {
		resp.Ns = append(resp.Ns, negativeSOA(z))
		return resp
	}

	if r.Cache != nil && r.Cache.GetNegative(qname, q.Qtype, dns.RcodeNameError) {
		r.Metrics.cacheHit()
		resp.Rcode = dns.RcodeNameError
		resp.Ns = append(resp.Ns, negativeSOA(z))
		return resp
	}

	r.lookup(z, qname, q.Qtype, resp)
	r.store(qname, q.Qtype, z, resp)
	return resp
}

// cached returns a copy of a cached positive answer.
func (r *Resolver) cached(qname string, qtype uint16) (*dns.Msg, bool) {
	if r.Cache == nil {
		return nil, false
	}
	v, ok := r.Cache.GetPositive(qname, qtype)
	if !ok {
		return nil, false
	}
	return v.Copy(), true
}

func (r *Resolver) store(qname string, qtype uint16, z *zone.Zone, resp *dns.Msg) {
	if r.Cache == nil {
		return
	}
	switch {
	case resp.Rcode == dns.RcodeNameError && len(resp.Answer) == 0:
		r.Cache.PutNegative(qname, qtype, dns.RcodeNameError, time.Duration(z.NegativeTTL())*time.Second)
	case resp.Rcode == dns.RcodeSuccess:
		ttl := minTTL(resp)
		if len(resp.Answer) == 0 && len(resp.Ns) > 0 && resp.Ns[0].Header().Rrtype == dns.TypeSOA {
			ttl = z.NegativeTTL()
		}
		r.Cache.PutPositive(qname, qtype, resp.Copy(), time.Duration(ttl)*time.Second)
	}
}

// lookup fills resp from zone z: an answer (following CNAMEs inside the
// zone), a referral at a zone cut, or a negative answer with the SOA.
func (r *Resolver) lookup(z *zone.Zone, qname string, qtype uint16, resp *dns.Msg) {
	cur := qname
	visited := map[string]struct{}{}
	for i := 0; i <= maxCNAME; i++ {
		if !dns.IsSubDomain(z.Name, cur) {
			// chain left the zone; the client follows it from here
			return
		}
		if ns := delegation(z, cur); ns != nil {
			if len(resp.Answer) == 0 {
				resp.Authoritative = false
			}
			resp.Ns = append(resp.Ns, ns...)
			resp.Extra = append(resp.Extra, glue(z, ns)...)
			return
		}

		rrs, exists := findRRSet(z, cur, qtype)
		if len(rrs) > 0 {
			resp.Answer = append(resp.Answer, rrs...)
			resp.Extra = append(resp.Extra, glue(z, rrs)...)
			return
		}
		if qtype != dns.TypeCNAME {
			if cname, _ := findRRSet(z, cur, dns.TypeCNAME); len(cname) > 0 {
				if _, seen := visited[cur]; seen {
					resp.Rcode = dns.RcodeServerFailure
					return
				}
				visited[cur] = struct{}{}
				resp.Answer = append(resp.Answer, cname...)
				cur = dns.CanonicalName(cname[0].(*dns.CNAME).Target)
				continue
			}
		}
		if !exists {
			resp.Rcode = dns.RcodeNameError
		}
		resp.Ns = append(resp.Ns, negativeSOA(z))
		return
	}
	r.Logger.Debug("CNAME chain too long", "qname", qname, "zone", z.Name)
	resp.Rcode = dns.RcodeServerFailure
}

// findRRSet returns the qtype records owned by name, synthesized from the
// closest encloser's wildcard when name does not exist. exists reports
// whether name (or a matching wildcard) exists at all.
func findRRSet(z *zone.Zone, name string, qtype uint16) (rrs []dns.RR, exists bool) {
	if z.HasName(name) {
		return z.RRs(name, qtype), true
	}
	wc := wildcard(z, name)
	if wc == "" {
		return nil, false
	}
	for _, rr := range z.RRs(wc, qtype) {
		c := dns.Copy(rr)
		c.Header().Name = name
		rrs = append(rrs, c)
	}
	return rrs, true
}

// wildcard returns the wildcard owner that covers the nonexistent name, or "".
func wildcard(z *zone.Zone, name string) string {
	for off, end := dns.NextLabel(name, 0); !end; off, end = dns.NextLabel(name, off) {
		encloser := name[off:]
		if !dns.IsSubDomain(z.Name, encloser) {
			return ""
		}
		if z.HasName(encloser) {
			if wc := "*." + encloser; z.HasName(wc) {
				return wc
			}
			return ""
		}
	}
	return ""
}

// delegation returns the NS records of the zone cut at or above name, below
// the apex, if there is one.
func delegation(z *zone.Zone, name string) []dns.RR {
	var cut []dns.RR
	for off, end := 0, false; !end; off, end = dns.NextLabel(name, off) {
		owner := name[off:]
		if owner == z.Name || !dns.IsSubDomain(z.Name, owner) {
			break
		}
		if ns := z.RRs(owner, dns.TypeNS); len(ns) > 0 {
			cut = ns
		}
	}
	return cut
}

// glue returns in-zone addresses for the targets of NS, MX and SRV records.
func glue(z *zone.Zone, rrs []dns.RR) []dns.RR {
	var extra []dns.RR
	for _, rr := range rrs {
		var host string
		switch x := rr.(type) {
		case *dns.NS:
			host = x.Ns
		case *dns.MX:
			host = x.Mx
		case *dns.SRV:
			host = x.Target
		default:
			continue
		}
		host = strings.ToLower(host)
		if !dns.IsSubDomain(z.Name, host) {
			continue
		}
		extra = append(extra, z.RRs(host, dns.TypeA)...)
		extra = append(extra, z.RRs(host, dns.TypeAAAA)...)
	}
	return extra
}

// negativeSOA is the apex SOA with its TTL capped for negative caching.
func negativeSOA(z *zone.Zone) dns.RR {
	soa := dns.Copy(z.SOA)
	soa.Header().Ttl = z.NegativeTTL()
	return soa
}

func minTTL(m *dns.Msg) uint32 {
	ttl := uint32(0)
	first := true
	for _, s := range [][]dns.RR{m.Answer, m.Ns} {
		for _, rr := range s {
			if t := rr.Header().Ttl; first || t < ttl {
				ttl, first = t, false
			}
		}
	}
	return ttl
}

// finish applies the per-request parts of a response: EDNS0 and, over UDP,
// truncation to the client's buffer size.
func (r *Resolver) finish(w dns.ResponseWriter, req, resp *dns.Msg) {
	size := dns.MinMsgSize
	if opt := req.IsEdns0(); opt != nil {
		size = max(int(opt.UDPSize()), dns.MinMsgSize)
		resp.SetEdns0(uint16(size), false)
	}
	if _, udp := w.RemoteAddr().(*net.UDPAddr); udp {
		resp.Truncate(size)
	}
}
