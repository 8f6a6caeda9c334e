package dnsserver

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zonewatch/internal/cache"
	"zonewatch/internal/zone"
)

const testZone = `$TTL 300
@	IN SOA ns1 hostmaster 1 7200 1800 1209600 60
@	IN NS ns1
@	IN MX 10 mail
ns1	IN A 192.0.2.1
mail	IN A 192.0.2.2
mail	IN AAAA 2001:db8::2
www	IN CNAME web
web	IN A 192.0.2.3
loop1	IN CNAME loop2
loop2	IN CNAME loop1
ext	IN CNAME www.example.org.
*.dyn	IN A 192.0.2.9
sub	IN NS ns.sub
ns.sub	IN A 192.0.2.53
`

// dnsRecorder captures the written DNS response.
type dnsRecorder struct {
	msg *dns.Msg
}

func (r *dnsRecorder) LocalAddr() net.Addr         { return &net.UDPAddr{} }
func (r *dnsRecorder) RemoteAddr() net.Addr        { return &net.UDPAddr{} }
func (r *dnsRecorder) WriteMsg(m *dns.Msg) error   { r.msg = m; return nil }
func (r *dnsRecorder) Write(b []byte) (int, error) { return len(b), nil }
func (r *dnsRecorder) Close() error                { return nil }
func (r *dnsRecorder) TsigStatus() error           { return nil }
func (r *dnsRecorder) TsigTimersOnly(bool)         {}
func (r *dnsRecorder) Hijack()                     {}

func mustParse(t *testing.T, name, body string) *zone.Zone {
	t.Helper()
	z, err := zone.Parse(name, strings.NewReader(body), name)
	require.NoError(t, err)
	return z
}

type fixture struct {
	store   *zone.Store
	cache   *cache.RRCaches[*dns.Msg]
	metrics *Metrics
	res     *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: zone.NewStore(), metrics: NewMetrics(prometheus.NewRegistry())}
	var err error
	f.cache, err = cache.NewRRCaches[*dns.Msg](1000, nil)
	require.NoError(t, err)
	f.store.Update(nil, mustParse(t, "example.com", testZone))
	f.res = NewResolver(nil, f.store, f.cache, f.metrics)
	return f
}

func (f *fixture) query(t *testing.T, name string, qtype uint16) *dns.Msg {
	t.Helper()
	w := &dnsRecorder{}
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(name), qtype)
	f.res.ServeDNS(w, req)
	require.NotNil(t, w.msg, "no response written")
	return w.msg
}

func TestAnswerFollowsCNAME(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "WWW.example.com", dns.TypeA)

	assert.Equal(t, dns.RcodeSuccess, m.Rcode)
	assert.True(t, m.Authoritative)
	require.Len(t, m.Answer, 2)
	assert.Equal(t, "web.example.com.", m.Answer[0].(*dns.CNAME).Target)
	assert.Equal(t, "192.0.2.3", m.Answer[1].(*dns.A).A.String())
	assert.Equal(t, "WWW.example.com.", m.Question[0].Name, "question echoed as asked")
}

func TestCNAMEQueryReturnsCNAMEOnly(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "www.example.com", dns.TypeCNAME)
	require.Len(t, m.Answer, 1)
	assert.Equal(t, dns.TypeCNAME, m.Answer[0].Header().Rrtype)
}

func TestCNAMEOutOfZone(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "ext.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, m.Rcode)
	require.Len(t, m.Answer, 1)
	assert.Equal(t, "www.example.org.", m.Answer[0].(*dns.CNAME).Target)
}

func TestCNAMELoopIsServerFailure(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "loop1.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeServerFailure, m.Rcode)
}

func TestMXAddsGlue(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "example.com", dns.TypeMX)
	require.Len(t, m.Answer, 1)
	require.Len(t, m.Extra, 2)
	assert.Equal(t, dns.TypeA, m.Extra[0].Header().Rrtype)
	assert.Equal(t, dns.TypeAAAA, m.Extra[1].Header().Rrtype)
}

func TestNegativeAnswers(t *testing.T) {
	f := newFixture(t)

	nx := f.query(t, "nope.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeNameError, nx.Rcode)
	assert.Empty(t, nx.Answer)
	require.Len(t, nx.Ns, 1)
	soa := nx.Ns[0].(*dns.SOA)
	assert.EqualValues(t, 60, soa.Hdr.Ttl)
	assert.EqualValues(t, 1, soa.Serial)

	nodata := f.query(t, "web.example.com", dns.TypeAAAA)
	assert.Equal(t, dns.RcodeSuccess, nodata.Rcode)
	assert.Empty(t, nodata.Answer)
	require.Len(t, nodata.Ns, 1)
	assert.Equal(t, dns.TypeSOA, nodata.Ns[0].Header().Rrtype)

	ent := f.query(t, "dyn.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, ent.Rcode, "empty non-terminal exists")
	assert.Empty(t, ent.Answer)
}

func TestWildcard(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "host.dyn.example.com", dns.TypeA)
	require.Len(t, m.Answer, 1)
	assert.Equal(t, "host.dyn.example.com.", m.Answer[0].Header().Name)
	assert.Equal(t, "192.0.2.9", m.Answer[0].(*dns.A).A.String())

	nodata := f.query(t, "host.dyn.example.com", dns.TypeMX)
	assert.Equal(t, dns.RcodeSuccess, nodata.Rcode)
	assert.Empty(t, nodata.Answer)
}

func TestReferralBelowZoneCut(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "deep.host.sub.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, m.Rcode)
	assert.False(t, m.Authoritative)
	assert.Empty(t, m.Answer)
	require.Len(t, m.Ns, 1)
	assert.Equal(t, "ns.sub.example.com.", m.Ns[0].(*dns.NS).Ns)
	require.Len(t, m.Extra, 1)
	assert.Equal(t, "192.0.2.53", m.Extra[0].(*dns.A).A.String())
}

func TestRefusedOutsideServedZones(t *testing.T) {
	f := newFixture(t)
	m := f.query(t, "example.org", dns.TypeA)
	assert.Equal(t, dns.RcodeRefused, m.Rcode)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.queries.WithLabelValues("REFUSED")))
}

func TestRootZoneCoversEverything(t *testing.T) {
	f := newFixture(t)
	root := ". 300 IN SOA a.root. hm.root. 7 2 3 4 5\n. 300 IN NS a.root.\na.root. 300 IN A 192.0.2.100\n"
	f.store.Update(nil, mustParse(t, ".", root))

	m := f.query(t, "example.org", dns.TypeA)
	assert.Equal(t, dns.RcodeNameError, m.Rcode)
	require.Len(t, m.Ns, 1)
	assert.EqualValues(t, 7, m.Ns[0].(*dns.SOA).Serial)

	m = f.query(t, "web.example.com", dns.TypeA)
	require.Len(t, m.Answer, 1, "the more specific zone wins")
}

func TestFormatError(t *testing.T) {
	f := newFixture(t)
	w := &dnsRecorder{}
	f.res.ServeDNS(w, new(dns.Msg))
	require.NotNil(t, w.msg)
	assert.Equal(t, dns.RcodeFormatError, w.msg.Rcode)
}

func TestCachedUntilZoneInvalidated(t *testing.T) {
	f := newFixture(t)
	first := f.query(t, "web.example.com", dns.TypeA)
	require.Len(t, first.Answer, 1)

	old := f.store.Get("example.com")
	replaced := strings.Replace(testZone, "web\tIN A 192.0.2.3", "web\tIN A 192.0.2.33", 1)
	f.store.Update(old, mustParse(t, "example.com", replaced))

	m := f.query(t, "web.example.com", dns.TypeA)
	assert.Equal(t, "192.0.2.3", m.Answer[0].(*dns.A).A.String(), "served from cache")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.cacheHits))

	f.cache.InvalidateZone("example.com.")
	m = f.query(t, "web.example.com", dns.TypeA)
	assert.Equal(t, "192.0.2.33", m.Answer[0].(*dns.A).A.String())
}

func TestNegativeCacheInvalidated(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, dns.RcodeNameError, f.query(t, "new.example.com", dns.TypeA).Rcode)

	old := f.store.Get("example.com")
	f.store.Update(old, mustParse(t, "example.com", testZone+"new\tIN A 192.0.2.77\n"))
	assert.Equal(t, dns.RcodeNameError, f.query(t, "new.example.com", dns.TypeA).Rcode)

	f.cache.InvalidateZone("example.com.")
	m := f.query(t, "new.example.com", dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, m.Rcode)
	require.Len(t, m.Answer, 1)
}

func TestEDNSEchoed(t *testing.T) {
	f := newFixture(t)
	w := &dnsRecorder{}
	req := new(dns.Msg)
	req.SetQuestion("web.example.com.", dns.TypeA)
	req.SetEdns0(1232, false)
	f.res.ServeDNS(w, req)
	require.NotNil(t, w.msg)
	opt := w.msg.IsEdns0()
	require.NotNil(t, opt)
	assert.EqualValues(t, 1232, opt.UDPSize())
}

func TestServerAnswersOverUDPAndTCP(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(nil, "127.0.0.1:0", "127.0.0.1:0", f.res)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() {
		cancel()
		srv.Wait()
	})

	udp, ok := srv.AddrUDP()
	require.True(t, ok)
	tcp, ok := srv.AddrTCP()
	require.True(t, ok)

	req := new(dns.Msg)
	req.SetQuestion("web.example.com.", dns.TypeA)
	for _, tc := range []struct{ net, addr string }{{"udp", udp.String()}, {"tcp", tcp.String()}} {
		c := &dns.Client{Net: tc.net, Timeout: 2 * time.Second}
		m, _, err := c.Exchange(req, tc.addr)
		require.NoError(t, err, tc.net)
		require.Len(t, m.Answer, 1, tc.net)
	}
}
