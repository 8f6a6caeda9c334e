package zone

import (
	"errors"
	"fmt"
	"strings"
)

// RootZoneFile is the file name that holds the root zone.
const RootZoneFile = "ROOT_ZONE"

const maxFileNameLen = 1004

var ErrIllegalName = errors.New("illegal zone file name")

// NameFromFile maps a file name in the zones directory to its zone name.
// "@" stands in for "/" so RFC 2317 style reverse delegations can be stored
// as files.
func NameFromFile(fn string) (string, error) {
	if fn == "" || len(fn) > maxFileNameLen {
		return "", fmt.Errorf("%w: %q", ErrIllegalName, fn)
	}
	if fn == RootZoneFile {
		return ".", nil
	}
	return strings.ReplaceAll(fn, "@", "/"), nil
}
