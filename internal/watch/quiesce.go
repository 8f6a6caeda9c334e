package watch

import (
	"errors"
	"path/filepath"
	"time"

	"zonewatch/internal/zone"
)

var errNoZone = errors.New("parser returned no zone data")

// processFile records that name may have changed. It creates the entry for
// a newly seen file and opens, extends or leaves alone the file's
// quiescence window. initial is the delay for a window opened now; any
// further change inside an open window always waits the full Quiesce.
func (w *Watcher) processFile(name string, initial time.Duration) {
	path := filepath.Join(w.dir, name)
	fp := Sample(path)

	f := w.registry.Find(name)
	if f == nil {
		if fp.Missing() {
			return
		}
		f = newTrackedFile(name, path)
		w.registry.Insert(f)
		w.metrics.setTracked(w.registry.Len())
	}
	f.generation = w.generation

	switch {
	case f.timer != nil:
		if fp != f.pending {
			w.logger.Debug("change detected for already-pending zone file, delaying for further changes",
				"file", name, "delay", w.opts.Quiesce)
			f.pending = fp
			f.timer.Start(w.opts.Quiesce)
		}
	case f.stale(fp):
		if f.loaded.Missing() {
			w.logger.Debug("new zone file, delaying for further changes", "file", name, "delay", initial)
		} else {
			w.logger.Debug("change detected for stable zone file, delaying for further changes", "file", name, "delay", initial)
		}
		f.pending = fp
		f.timer = w.loop.NewTimer(func() { w.quiesceCheck(f) })
		f.timer.Start(initial)
	}
}

// quiesceCheck runs when f's quiescence window closes. Data is installed
// only if the fingerprint matched at arm time, at fire time and after
// parsing.
func (w *Watcher) quiesceCheck(f *TrackedFile) {
	fp := Sample(f.path)
	if fp != f.pending {
		w.restart(f, fp, "zone file changed again")
		return
	}
	if fp.Missing() {
		w.retire(f)
		return
	}

	z, err := w.load(f)
	if post := Sample(f.path); post != f.pending {
		// never install data read from a moving target
		w.restart(f, post, "zone file changed during parsing")
		return
	}
	f.timer = nil

	if err != nil {
		f.rejected = fp
		w.metrics.decision(resultFailed)
		w.logger.Error("zone file parse failed, keeping previous data until the file changes again",
			"file", f.name, "err", err)
		return
	}

	z.Mtime = time.Unix(0, fp.Mtime)
	old := f.zone
	f.loaded = fp
	f.rejected = Fingerprint{}
	f.zone = z
	w.zones.Update(old, z)
	if old == nil {
		w.metrics.addInstalled(1)
	}
	w.metrics.decision(resultInstalled)
	w.logger.Info("zone installed", "zone", z.Name, "file", f.name, "serial", z.Serial, "records", z.Len(), "replaced", old != nil)
}

func (w *Watcher) restart(f *TrackedFile, fp Fingerprint, why string) {
	w.logger.Debug(why+", restarting quiescence timer", "file", f.name, "delay", w.opts.Quiesce)
	f.pending = fp
	f.timer.Start(w.opts.Quiesce)
	w.metrics.decision(resultRestarted)
}

// retire handles a deletion that has stayed deleted for a full window.
func (w *Watcher) retire(f *TrackedFile) {
	if f.zone != nil {
		w.logger.Info("zone file deleted, removing zone", "zone", f.zone.Name, "file", f.name)
		w.zones.Update(f.zone, nil)
		w.metrics.addInstalled(-1)
		w.metrics.decision(resultRetracted)
	} else {
		w.logger.Debug("zone file deleted before it was loaded", "file", f.name)
	}
	w.registry.Remove(f)
	w.metrics.setTracked(w.registry.Len())
}

func (w *Watcher) load(f *TrackedFile) (*zone.Zone, error) {
	name, err := zone.NameFromFile(f.name)
	if err != nil {
		return nil, err
	}
	z, err := w.parse(name, f.path)
	if err == nil && z == nil {
		err = errNoZone
	}
	return z, err
}
