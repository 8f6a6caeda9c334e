package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"zonewatch/internal/reactor"
	"zonewatch/internal/zone"
)

const (
	testQuiesce      = 5 * time.Second
	testShortQuiesce = 1020 * time.Millisecond
	testScanInterval = 31 * time.Second
)

type update struct {
	old, new *zone.Zone
}

// recordingZones is a ZoneList that remembers every call and forwards it to
// a real Store.
type recordingZones struct {
	mu    sync.Mutex
	store *zone.Store
	calls []update
}

func newRecordingZones() *recordingZones {
	return &recordingZones{store: zone.NewStore()}
}

func (r *recordingZones) Update(old, newz *zone.Zone) {
	r.mu.Lock()
	r.calls = append(r.calls, update{old: old, new: newz})
	r.mu.Unlock()
	r.store.Update(old, newz)
}

func (r *recordingZones) Calls() []update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]update(nil), r.calls...)
}

type harness struct {
	t       *testing.T
	dir     string
	mock    *clock.Mock
	loop    *reactor.Loop
	zones   *recordingZones
	metrics *Metrics
	w       *Watcher

	mu     sync.Mutex
	parses []string
	// onParse runs inside the parser, before the file is read.
	onParse func(path string)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		dir:     t.TempDir(),
		mock:    clock.NewMock(),
		zones:   newRecordingZones(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	h.mock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h.loop = reactor.New(h.mock)
	h.w = New(h.zones, Options{
		Dir:           h.dir,
		Quiesce:       testQuiesce,
		ShortQuiesce:  testShortQuiesce,
		ScanInterval:  testScanInterval,
		DisableNotify: true,
		Clock:         h.mock,
		Parse:         h.parse,
		Metrics:       h.metrics,
	})
	// drive processFile/scan directly on the mock reactor
	h.w.loop = h.loop
	return h
}

func (h *harness) parse(name, path string) (*zone.Zone, error) {
	h.mu.Lock()
	h.parses = append(h.parses, name)
	hook := h.onParse
	h.mu.Unlock()
	if hook != nil {
		hook(path)
	}
	return zone.ParseFile(name, path)
}

func (h *harness) parseCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.parses)
}

// advance moves the mock clock and fires whatever became due.
func (h *harness) advance(d time.Duration) {
	h.mock.Add(d)
	h.loop.RunDue()
}

func (h *harness) path(name string) string { return filepath.Join(h.dir, name) }

func zoneBody(serial int) string {
	return fmt.Sprintf(`$TTL 300
@	IN SOA ns1 hostmaster %d 7200 1800 1209600 60
@	IN NS ns1
ns1	IN A 192.0.2.%d
`, serial, serial%250+1)
}

// writeZone writes a valid zone file and pins its mtime so every write has
// a distinct fingerprint regardless of filesystem timestamp granularity.
func (h *harness) writeZone(name string, serial int) Fingerprint {
	h.t.Helper()
	return h.writeRaw(name, zoneBody(serial), serial)
}

func (h *harness) writeRaw(name, body string, stamp int) Fingerprint {
	h.t.Helper()
	p := h.path(name)
	require.NoError(h.t, os.WriteFile(p, []byte(body), 0o644))
	h.touch(name, stamp)
	return Sample(p)
}

func (h *harness) touch(name string, stamp int) {
	h.t.Helper()
	mt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(stamp) * time.Minute)
	require.NoError(h.t, os.Chtimes(h.path(name), mt, mt))
}

func (h *harness) remove(name string) {
	h.t.Helper()
	require.NoError(h.t, os.Remove(h.path(name)))
}

func (h *harness) served(name string) *zone.Zone {
	return h.zones.store.Get(name)
}
