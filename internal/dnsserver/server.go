package dnsserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	logx "zonewatch/internal/log"
)

type Server struct {
	Logger  *slog.Logger
	UDPAddr string
	TCPAddr string
	Handler dns.Handler

	udpSrv *dns.Server
	tcpSrv *dns.Server
	wg     sync.WaitGroup
}

func NewServer(l *slog.Logger, udp, tcp string, h dns.Handler) *Server {
	return &Server{Logger: logx.OrDiscard(l), UDPAddr: udp, TCPAddr: tcp, Handler: h}
}

// Start binds both listeners and serves until ctx is done. Binding errors are
// returned; errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	mux := dns.NewServeMux()
	mux.Handle(".", s.Handler)

	pc, err := net.ListenPacket("udp", s.UDPAddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.UDPAddr, err)
	}
	ln, err := net.Listen("tcp", s.TCPAddr)
	if err != nil {
		_ = pc.Close()
		return fmt.Errorf("listen tcp %s: %w", s.TCPAddr, err)
	}

	up := make(chan struct{}, 2)
	started := func() { up <- struct{}{} }
	s.udpSrv = &dns.Server{PacketConn: pc, Net: "udp", UDPSize: 4096, Handler: mux, NotifyStartedFunc: started}
	s.tcpSrv = &dns.Server{Listener: ln, Net: "tcp", Handler: mux, NotifyStartedFunc: started}

	failed := make(chan error, 2)
	serve := func(name string, srv *dns.Server) {
		defer s.wg.Done()
		if err := srv.ActivateAndServe(); err != nil {
			s.Logger.Error(name+" server", "err", err)
			failed <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	s.wg.Add(2)
	go serve("udp", s.udpSrv)
	go serve("tcp", s.tcpSrv)
	for i := 0; i < 2; i++ {
		select {
		case <-up:
		case err := <-failed:
			_ = pc.Close()
			_ = ln.Close()
			return err
		}
	}
	s.Logger.Info("dns server listening", "udp", pc.LocalAddr().String(), "tcp", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.udpSrv.ShutdownContext(ctx2)
		_ = s.tcpSrv.ShutdownContext(ctx2)
	}()
	return nil
}

func (s *Server) AddrUDP() (net.Addr, bool) {
	if s.udpSrv != nil && s.udpSrv.PacketConn != nil {
		return s.udpSrv.PacketConn.LocalAddr(), true
	}
	return nil, false
}

func (s *Server) AddrTCP() (net.Addr, bool) {
	if s.tcpSrv != nil && s.tcpSrv.Listener != nil {
		return s.tcpSrv.Listener.Addr(), true
	}
	return nil, false
}

func (s *Server) Wait() { s.wg.Wait() }
