package watch

import (
	"zonewatch/internal/reactor"
	"zonewatch/internal/zone"
)

// TrackedFile is the state of one zone file in the zones directory.
//
// loaded is the fingerprint of the data in zone; both are set or both are
// empty. pending is the fingerprint seen when the quiescence timer was last
// (re)armed and only means something while timer is non-nil. rejected is
// the fingerprint of a version that failed to parse, so that scanning does
// not retry it until the file changes again.
type TrackedFile struct {
	name string // relative to the zones directory
	path string
	hash uint64

	generation uint64

	loaded   Fingerprint
	pending  Fingerprint
	rejected Fingerprint

	timer *reactor.Timer
	zone  *zone.Zone
}

func newTrackedFile(name, path string) *TrackedFile {
	return &TrackedFile{name: name, path: path, hash: hashName(name)}
}

func (f *TrackedFile) Name() string { return f.name }
func (f *TrackedFile) Zone() *zone.Zone { return f.zone }
func (f *TrackedFile) Loaded() Fingerprint { return f.loaded }
func (f *TrackedFile) PendingChange() bool { return f.timer != nil }
func (f *TrackedFile) PendingPrint() Fingerprint { return f.pending }

// stale reports whether fp should start a quiescence window for an entry
// with no change pending.
func (f *TrackedFile) stale(fp Fingerprint) bool {
	if fp.Missing() {
		return true
	}
	if fp == f.rejected {
		return false
	}
	return fp != f.loaded
}

// release drops everything the entry owns. The zone must already have been
// retracted from the runtime.
func (f *TrackedFile) release() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.zone = nil
	f.loaded = Fingerprint{}
}
