package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"zonewatch/internal/cache"
	"zonewatch/internal/config"
	"zonewatch/internal/dnsserver"
	logx "zonewatch/internal/log"
	"zonewatch/internal/reactor"
	"zonewatch/internal/watch"
	"zonewatch/internal/zone"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, "zonewatch:", err)
		os.Exit(2)
	}
	logger := logx.New(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("zonewatch", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := zone.NewStore()
	rrcache, err := cache.NewRRCaches[*dns.Msg](cfg.CacheSize, nil)
	if err != nil {
		return fmt.Errorf("cache init: %w", err)
	}
	zones := &zoneInstaller{logger: logger, store: store, cache: rrcache}

	w := watch.New(zones, watch.Options{
		Dir:            cfg.ZonesDir,
		Quiesce:        cfg.Quiesce,
		ShortQuiesce:   cfg.ShortQuiesce,
		ScanInterval:   cfg.ScanInterval,
		InitialQuiesce: cfg.InitialQuiesce,
		DisableNotify:  cfg.DisableNotify,
		PollFallback:   cfg.PollFallback,
		Logger:         logger,
		Metrics:        watch.NewMetrics(reg),
	})
	if err := w.LoadZones(ctx); err != nil {
		return fmt.Errorf("load zones: %w", err)
	}
	defer w.Unload()

	loop := reactor.New(nil)
	defer loop.Close()
	if err := w.Start(loop); err != nil {
		return fmt.Errorf("start zone watcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	res := dnsserver.NewResolver(logger, store, rrcache, dnsserver.NewMetrics(reg))
	srv := dnsserver.NewServer(logger, cfg.ListenUDP, cfg.ListenTCP, res)
	if err := srv.Start(gctx); err != nil {
		return err
	}
	g.Go(func() error {
		srv.Wait()
		return nil
	})

	var ready atomic.Bool
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpHandler(reg, store, &ready), ReadHeaderTimeout: 5 * time.Second}
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := loop.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	ready.Store(true)
	logger.Info("zonewatch started",
		"udp", cfg.ListenUDP, "tcp", cfg.ListenTCP, "http", cfg.HTTPAddr,
		"zones", store.Len(), "mode", w.Mode())
	err = g.Wait()
	logger.Info("shutting down")
	return err
}

// zoneInstaller is the runtime zone list the watcher feeds: the store that
// queries are answered from, plus cache invalidation.
type zoneInstaller struct {
	logger *slog.Logger
	store  *zone.Store
	cache  *cache.RRCaches[*dns.Msg]
}

func (z *zoneInstaller) Update(old, newz *zone.Zone) {
	z.store.Update(old, newz)
	if old != nil {
		z.cache.InvalidateZone(old.Name)
	}
	if newz != nil && (old == nil || newz.Name != old.Name) {
		z.cache.InvalidateZone(newz.Name)
	}
	switch {
	case newz == nil:
		z.logger.Info("zone removed", "zone", old.Name)
	case old == nil:
		z.logger.Info("zone added", "zone", newz.Name, "serial", newz.Serial, "source", newz.Source)
	default:
		z.logger.Info("zone reloaded", "zone", newz.Name, "serial", newz.Serial, "previous_serial", old.Serial)
	}
}

type zoneStatus struct {
	Name    string    `json:"name"`
	Source  string    `json:"source"`
	Serial  uint32    `json:"serial"`
	Mtime   time.Time `json:"mtime"`
	Records int       `json:"records"`
}

func httpHandler(reg *prometheus.Registry, store *zone.Store, ready *atomic.Bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "loading", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/zones", func(w http.ResponseWriter, r *http.Request) {
		snap := store.Snapshot()
		out := make([]zoneStatus, 0, len(snap))
		for _, name := range store.Names() {
			z, ok := snap[name]
			if !ok {
				continue
			}
			out = append(out, zoneStatus{Name: z.Name, Source: z.Source, Serial: z.Serial, Mtime: z.Mtime, Records: z.Len()})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
