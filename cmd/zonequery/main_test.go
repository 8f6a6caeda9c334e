package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	v, err := parseType("aaaa")
	require.NoError(t, err)
	assert.Equal(t, dns.TypeAAAA, v)

	_, err = parseType("BOGUS")
	assert.Error(t, err)
}

func TestQueryAndPrint(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		m.Authoritative = true
		rr, _ := dns.NewRR("example.com. 300 IN A 192.0.2.1")
		m.Answer = append(m.Answer, rr)
		_ = w.WriteMsg(m)
	})}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	var r *dns.Msg
	require.Eventually(t, func() bool {
		r, err = query(pc.LocalAddr().String(), "example.com", dns.TypeA, false, time.Second)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	require.Len(t, r.Answer, 1)

	var out bytes.Buffer
	printResponse(&out, r)
	assert.Contains(t, out.String(), "NOERROR")
	assert.Contains(t, out.String(), "192.0.2.1")
}
