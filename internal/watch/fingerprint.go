package watch

import "fmt"

// Fingerprint identifies the content of a path cheaply: mtime, inode and
// device. On a given system inode+device identify a file, and together with
// mtime they identify one version of its contents across create, modify,
// rename and remount.
//
// The zero value means the path does not exist or is not a regular file.
// On platforms without inode numbers Inode holds the file size and Device
// is zero.
type Fingerprint struct {
	Mtime  int64 // nanoseconds since the epoch
	Inode  uint64
	Device uint64
}

// Missing reports whether f is the nonexistent/invalid sentinel.
func (f Fingerprint) Missing() bool {
	return f == Fingerprint{}
}

func (f Fingerprint) String() string {
	if f.Missing() {
		return "missing"
	}
	return fmt.Sprintf("mtime=%d ino=%d dev=%d", f.Mtime, f.Inode, f.Device)
}
