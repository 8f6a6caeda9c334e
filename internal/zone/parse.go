package zone

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/miekg/dns"
)

// ParseFile parses the RFC 1035 master file at path as zone name.
// It has no side effects on failure and may be called repeatedly.
func ParseFile(name, path string) (*Zone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(name, f, path)
}

// Parse reads zone name in master file format from r. file is used for
// error messages and the zone's Source.
func Parse(name string, r io.Reader, file string) (*Zone, error) {
	z := newZone(name, "rfc1035:"+filepath.Base(file))
	zp := dns.NewZoneParser(r, z.Name, file)
	for rr, ok := zp.Next(); ok; rr, ok = zp.Next() {
		if err := z.add(rr); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
	}
	if err := zp.Err(); err != nil {
		return nil, err
	}
	if err := z.finalize(); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return z, nil
}
