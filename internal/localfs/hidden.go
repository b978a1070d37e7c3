// Package localfs is the fsref platform for the local filesystem. Handles are
// absolute paths; readability is checked against the OS and confirmed with
// the user through a Prompter.
package localfs

import "strings"

// IsHiddenName reports whether a directory entry name is hidden (dot
// prefixed). "." and ".." are not.
func IsHiddenName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return strings.HasPrefix(name, ".")
}
