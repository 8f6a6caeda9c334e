// Package watch keeps the runtime zone list in step with a directory of
// RFC 1035 zone files. Changes are detected by filesystem notifications or
// by periodic scans, debounced per file until the file's fingerprint stops
// changing, and only then parsed and installed.
//
// A Watcher is not safe for concurrent use: every method other than New must
// run on the goroutine driving its reactor, or while no reactor is running.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	logx "zonewatch/internal/log"
	"zonewatch/internal/reactor"
	"zonewatch/internal/zone"
)

var (
	ErrNotifyUnavailable = errors.New("filesystem notifications unavailable")
	ErrWatchLost         = errors.New("zones directory watch lost")
)

// ZoneList is the runtime zone list. Update(nil, z) adds, Update(old, nil)
// retracts and Update(old, z) atomically replaces.
type ZoneList interface {
	Update(old, newz *zone.Zone)
}

// ParseFunc builds zone data for zone name from the file at path.
type ParseFunc func(name, path string) (*zone.Zone, error)

type Options struct {
	Dir            string
	Quiesce        time.Duration // debounce window, and the delay after any repeated change
	ShortQuiesce   time.Duration // first delay after rename/delete notifications
	ScanInterval   time.Duration
	InitialQuiesce time.Duration // first delay for files found by the startup scan
	DisableNotify  bool
	PollFallback   bool

	Logger  *slog.Logger
	Clock   clock.Clock
	Parse   ParseFunc
	Metrics *Metrics
}

type Watcher struct {
	opts    Options
	dir     string
	logger  *slog.Logger
	clock   clock.Clock
	zones   ZoneList
	parse   ParseFunc
	metrics *Metrics

	registry   *Registry
	generation uint64

	loop   *reactor.Loop
	source ChangeSource
}

func New(zones ZoneList, opts Options) *Watcher {
	w := &Watcher{
		opts:     opts,
		dir:      filepath.Clean(opts.Dir),
		logger:   logx.OrDiscard(opts.Logger),
		clock:    opts.Clock,
		zones:    zones,
		parse:    opts.Parse,
		metrics:  opts.Metrics,
		registry: NewRegistry(),
	}
	if w.clock == nil {
		w.clock = clock.New()
	}
	if w.parse == nil {
		w.parse = zone.ParseFile
	}
	return w
}

func (w *Watcher) Registry() *Registry { return w.registry }

// Mode reports the active change source, or "" before LoadZones.
func (w *Watcher) Mode() string {
	if w.source == nil {
		return ""
	}
	return w.source.Mode()
}

// LoadZones performs the initial scan of the zones directory and runs all
// resulting reloads to completion on a private reactor, so the zone list is
// complete before serving starts. The change source is chosen first, so a
// notification watch also covers changes made during the initial load.
func (w *Watcher) LoadZones(ctx context.Context) error {
	if err := w.selectSource(); err != nil {
		return err
	}
	loop := reactor.New(w.clock)
	defer loop.Close()
	w.loop = loop
	defer func() { w.loop = nil }()

	w.scanDir(w.opts.InitialQuiesce)
	if err := loop.Drain(ctx); err != nil {
		return fmt.Errorf("initial zone load: %w", err)
	}
	w.logger.Info("zones loaded", "dir", w.dir, "files", w.registry.Len(), "mode", w.Mode())
	return nil
}

// Start registers change detection on the live reactor. Call it after
// LoadZones and before loop runs.
func (w *Watcher) Start(loop *reactor.Loop) error {
	if err := w.selectSource(); err != nil {
		return err
	}
	w.loop = loop
	return w.source.Start(loop)
}

// Unload stops change detection, retracts every installed zone and empties
// the registry.
func (w *Watcher) Unload() {
	if w.source != nil {
		if err := w.source.Stop(); err != nil {
			w.logger.Warn("stop zone change detection", "err", err)
		}
	}
	w.registry.Each(func(f *TrackedFile) {
		if f.zone != nil {
			w.zones.Update(f.zone, nil)
			w.metrics.addInstalled(-1)
		}
		w.registry.Remove(f)
	})
	w.metrics.setTracked(w.registry.Len())
}

func (w *Watcher) selectSource() error {
	if w.source != nil {
		return nil
	}
	if !w.opts.DisableNotify {
		src, err := newNotifySource(w)
		if err == nil {
			w.source = src
			w.logger.Info("using filesystem notifications for zone change detection", "dir", w.dir)
			return nil
		}
		if !w.opts.PollFallback {
			return err
		}
		w.logger.Warn("filesystem notifications unavailable, scanning for zone changes instead",
			"dir", w.dir, "interval", w.opts.ScanInterval, "err", err)
	}
	w.source = newPollSource(w)
	return nil
}

// fallbackToPoll replaces a failed notification source with scanning and
// scans immediately, since events may have been lost with the watch.
func (w *Watcher) fallbackToPoll(cause error) {
	if w.source != nil && w.source.Mode() == ModePoll {
		return
	}
	if w.source != nil {
		if err := w.source.Stop(); err != nil {
			w.logger.Warn("stop notification watch", "err", err)
		}
	}
	w.metrics.fallback()
	w.logger.Warn("falling back to scanning for zone changes",
		"dir", w.dir, "interval", w.opts.ScanInterval, "cause", cause)
	poll := newPollSource(w)
	w.source = poll
	if w.loop == nil {
		return
	}
	if err := poll.Start(w.loop); err != nil {
		w.logger.Error("start zone directory scanning", "err", err)
		return
	}
	w.scan()
}

// scan is one poll pass: enumerate the directory, then feed every entry not
// seen in this pass back through processFile so deletions are debounced too.
func (w *Watcher) scan() {
	w.generation++
	if w.scanDir(w.opts.Quiesce) {
		w.checkMissing()
	}
}

// scanDir runs processFile for every non-dot entry of the zones directory.
// It reports false, having processed nothing, if the directory could not be
// read.
func (w *Watcher) scanDir(initial time.Duration) bool {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Error("cannot read zones directory", "dir", w.dir, "err", err)
		return false
	}
	for _, e := range entries {
		if ignored(e.Name()) {
			continue
		}
		w.processFile(e.Name(), initial)
	}
	return true
}

func (w *Watcher) checkMissing() {
	var missing []string
	w.registry.Each(func(f *TrackedFile) {
		if f.generation != w.generation {
			missing = append(missing, f.name)
		}
	})
	for _, name := range missing {
		w.logger.Debug("zone file missing from scan", "file", name)
		w.processFile(name, w.opts.Quiesce)
	}
}

func ignored(name string) bool {
	return name == "" || strings.HasPrefix(name, ".")
}
