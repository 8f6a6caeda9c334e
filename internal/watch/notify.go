package watch

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"zonewatch/internal/reactor"
)

// notifySource watches the zones directory with fsnotify and forwards every
// event to the reactor.
//
// Rename (moved away) and Remove usually leave the file in the state the
// operator intended, so a window opened by them uses ShortQuiesce. Create,
// Write and Chmod are typically steps of an in-place rewrite and get the
// full Quiesce. fsnotify reports a file moved into the directory as Create,
// so that case takes the long delay too.
type notifySource struct {
	w   *Watcher
	dir string
	fsw *fsnotify.Watcher

	loop    *reactor.Loop
	stop    chan struct{}
	stopped bool
}

func newNotifySource(w *Watcher) (*notifySource, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotifyUnavailable, err)
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("%w: watch %s: %v", ErrNotifyUnavailable, w.dir, err)
	}
	return &notifySource{w: w, dir: w.dir, fsw: fsw, stop: make(chan struct{})}, nil
}

func (s *notifySource) Mode() string { return ModeNotify }

func (s *notifySource) Start(loop *reactor.Loop) error {
	if s.stopped {
		return fmt.Errorf("%w: watch already stopped", ErrNotifyUnavailable)
	}
	s.loop = loop
	go s.forward()
	return nil
}

// forward runs on its own goroutine and hands events to the reactor.
func (s *notifySource) forward() {
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.fsw.Events:
			if !ok {
				s.loop.Post(func() { s.fail(errors.New("event channel closed")) })
				return
			}
			s.loop.Post(func() { s.handle(ev) })
		case err, ok := <-s.fsw.Errors:
			if !ok {
				s.loop.Post(func() { s.fail(errors.New("error channel closed")) })
				return
			}
			s.loop.Post(func() { s.fail(err) })
		}
	}
}

func (s *notifySource) handle(ev fsnotify.Event) {
	if s.stopped {
		return
	}
	name := filepath.Clean(ev.Name)
	if name == s.dir {
		// Events on the directory itself are seen through its entries,
		// except losing the directory, which ends the watch. An unmount
		// arrives as an event with no op, after which the kernel drops the
		// watch silently.
		if ev.Op == 0 || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
			s.fail(fmt.Errorf("%w: %s: %s", ErrWatchLost, s.dir, ev.Op))
		}
		return
	}
	if filepath.Dir(name) != s.dir {
		return
	}
	base := filepath.Base(name)
	if ignored(base) {
		return
	}
	s.w.logger.Debug("zone file notification", "file", base, "op", ev.Op.String())

	delay := s.w.opts.Quiesce
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Chmod) {
		delay = s.w.opts.ShortQuiesce
	}
	s.w.processFile(base, delay)
}

// fail gives up on the watch (queue overflow, directory removed or renamed,
// closed channels) and hands change detection to the scanner.
func (s *notifySource) fail(err error) {
	if s.stopped {
		return
	}
	s.w.logger.Error("zone directory notifications cannot continue", "dir", s.dir, "err", err)
	s.w.fallbackToPoll(err)
}

func (s *notifySource) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.stop)
	if s.fsw == nil {
		return nil
	}
	return s.fsw.Close()
}
