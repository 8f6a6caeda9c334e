//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package watch

import "os"

// Sample lstats path without following symlinks. Platforms without inode
// numbers get an mtime-and-size fingerprint, with the size in Inode.
func Sample(path string) Fingerprint {
	fi, err := os.Lstat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return Fingerprint{}
	}
	return Fingerprint{Mtime: fi.ModTime().UnixNano(), Inode: uint64(fi.Size())}
}
