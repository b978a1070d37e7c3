// Package digest computes whole-file and block-level content digests for
// upload sessions: MD5, SHA-1, and the segmented SHA-1 used for remote dedup.
//
// Pure-Go implementations of MD5 and SHA-1 live next to a provider strategy that
// prefers the runtime's crypto packages when they are usable. Both paths produce
// identical digests.
package digest

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	MD5           Algorithm = "MD5"
	SHA1          Algorithm = "SHA1"
	SegmentedSHA1 Algorithm = "SEGMENTED_SHA1"
)

// ErrUnsupportedAlgorithm is returned for an algorithm name the engine does not know.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// ParseAlgorithm maps user input to an Algorithm. Matching is case-insensitive;
// "sha-1" and "pikpak" are accepted aliases.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MD5":
		return MD5, nil
	case "SHA1", "SHA-1":
		return SHA1, nil
	case "SEGMENTED_SHA1", "SEGMENTED-SHA1", "PIKPAK":
		return SegmentedSHA1, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	switch a {
	case MD5, SHA1, SegmentedSHA1:
		return true
	}
	return false
}

func (a Algorithm) String() string {
	return string(a)
}
