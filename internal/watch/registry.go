package watch

import "github.com/cespare/xxhash/v2"

const initialRegistrySize = 16

type slotState uint8

const (
	slotEmpty slotState = iota
	slotTombstone
	slotOccupied
)

type slot struct {
	state slotState
	file  *TrackedFile // set only when state == slotOccupied
}

// Registry maps zone file names to their TrackedFile. It is an open
// addressing table with triangular probing over a power-of-two number of
// slots, kept at most 25% full. Removed entries leave tombstones that
// lookups probe past; tombstones are reclaimed when the table is rehashed.
//
// Like the rest of the watcher it is used from the reactor goroutine only.
type Registry struct {
	slots      []slot
	live       int
	tombstones int
}

func NewRegistry() *Registry {
	return &Registry{slots: make([]slot, initialRegistrySize)}
}

func hashName(name string) uint64 { return xxhash.Sum64String(name) }

func (r *Registry) Len() int { return r.live }

// Cap is the current number of slots.
func (r *Registry) Cap() int { return len(r.slots) }

// Find returns the entry for name, or nil.
func (r *Registry) Find(name string) *TrackedFile {
	h := hashName(name)
	mask := uint64(len(r.slots) - 1)
	i := h & mask
	for step := uint64(1); step <= uint64(len(r.slots)); step++ {
		s := &r.slots[i]
		switch s.state {
		case slotEmpty:
			return nil
		case slotOccupied:
			if s.file.hash == h && s.file.name == name {
				return s.file
			}
		}
		i = (i + step) & mask
	}
	return nil
}

// Insert adds f. The caller must have checked that no entry for f's name
// exists.
func (r *Registry) Insert(f *TrackedFile) {
	switch {
	case (r.live+1)*4 > len(r.slots):
		r.rehash(len(r.slots) * 2)
	case (r.live+r.tombstones+1)*2 > len(r.slots):
		r.rehash(len(r.slots))
	}
	if r.place(f) {
		r.tombstones--
	}
	r.live++
}

// place puts f in the first free slot of its probe sequence and reports
// whether that slot held a tombstone.
func (r *Registry) place(f *TrackedFile) bool {
	mask := uint64(len(r.slots) - 1)
	i := f.hash & mask
	for step := uint64(1); r.slots[i].state == slotOccupied; step++ {
		i = (i + step) & mask
	}
	reused := r.slots[i].state == slotTombstone
	r.slots[i] = slot{state: slotOccupied, file: f}
	return reused
}

func (r *Registry) rehash(size int) {
	old := r.slots
	r.slots = make([]slot, size)
	r.tombstones = 0
	for _, s := range old {
		if s.state == slotOccupied {
			r.place(s.file)
		}
	}
}

// Remove tombstones f's slot and releases what f owns. It is a no-op if f
// is not in the registry.
func (r *Registry) Remove(f *TrackedFile) {
	mask := uint64(len(r.slots) - 1)
	i := f.hash & mask
	for step := uint64(1); step <= uint64(len(r.slots)); step++ {
		s := &r.slots[i]
		if s.state == slotEmpty {
			return
		}
		if s.state == slotOccupied && s.file == f {
			*s = slot{state: slotTombstone}
			r.live--
			r.tombstones++
			f.release()
			return
		}
		i = (i + step) & mask
	}
}

// Each calls fn for every live entry. fn may remove entries but must not
// insert any.
func (r *Registry) Each(fn func(*TrackedFile)) {
	for i := range r.slots {
		if r.slots[i].state == slotOccupied {
			fn(r.slots[i].file)
		}
	}
}
