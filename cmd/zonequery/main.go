package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
)

func main() {
	server := flag.String("server", "127.0.0.1:53", "dns server ip:port")
	qname := flag.String("name", ".", "name to query")
	qtype := flag.String("type", "SOA", "query type")
	useTCP := flag.Bool("tcp", false, "query over TCP")
	timeout := flag.Duration("timeout", 3*time.Second, "query timeout")
	flag.Parse()

	t, err := parseType(*qtype)
	if err != nil {
		log.Fatal(err)
	}
	r, err := query(*server, *qname, t, *useTCP, *timeout)
	if err != nil {
		log.Fatal(err)
	}
	printResponse(os.Stdout, r)
	if r.Rcode != dns.RcodeSuccess {
		os.Exit(1)
	}
}

func query(server, name string, qtype uint16, useTCP bool, timeout time.Duration) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = false

	network := "udp"
	if useTCP {
		network = "tcp"
	}
	c := &dns.Client{Net: network, Timeout: timeout}
	r, _, err := c.Exchange(m, server)
	if err != nil {
		return nil, err
	}
	if r.Truncated && !useTCP {
		c.Net = "tcp"
		r, _, err = c.Exchange(m, server)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

func parseType(s string) (uint16, error) {
	if t, ok := dns.StringToType[strings.ToUpper(s)]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown query type %q", s)
}

func printResponse(w io.Writer, r *dns.Msg) {
	fmt.Fprintln(w, ";; ->>HEADER<<-", dns.RcodeToString[r.Rcode], "AA=", r.Authoritative, "TC=", r.Truncated)
	for _, a := range r.Answer {
		fmt.Fprintln(w, a.String())
	}
	for _, ns := range r.Ns {
		fmt.Fprintln(w, "AUTH:", ns.String())
	}
	for _, ex := range r.Extra {
		if ex.Header().Rrtype == dns.TypeOPT {
			continue
		}
		fmt.Fprintln(w, "EXTRA:", ex.String())
	}
}
