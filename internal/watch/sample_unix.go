//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package watch

import "golang.org/x/sys/unix"

// Sample lstats path without following symlinks. Anything that is not a
// regular file yields the zero Fingerprint.
func Sample(path string) Fingerprint {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return Fingerprint{}
	}
	if uint32(st.Mode)&unix.S_IFMT != unix.S_IFREG {
		return Fingerprint{}
	}
	return Fingerprint{
		Mtime:  st.Mtim.Nano(),
		Inode:  uint64(st.Ino),
		Device: uint64(st.Dev),
	}
}
