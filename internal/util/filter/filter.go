// Package filter decides which files found under a dropped folder become
// sessions.
package filter

import (
	"path"
	"path/filepath"
	"strings"
)

// Config holds filter configuration.
type Config struct {
	// Include patterns (glob-style) matched against the file name. Empty means include all.
	// Example: []string{"*.dat", "*.txt"}
	Include []string

	// Exclude patterns (glob-style). Takes precedence over Include.
	// Example: []string{"debug*", "temp*"}
	Exclude []string

	// Search terms (case-insensitive substring match).
	// File must match ALL search terms to be included.
	Search []string

	// PathInclude patterns match against the full relative path.
	// Supports standard glob patterns plus ** for multi-directory matching.
	// Example: []string{"run_1/*.dat", "run_*/output/*"}
	// For ** support: "**/results.dat" matches "a/b/c/results.dat"
	PathInclude []string
}

// Empty reports whether the config lets every file through.
func (c Config) Empty() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0 && len(c.Search) == 0 && len(c.PathInclude) == 0
}

// Match reports whether the file at relPath ("/"-separated, starting with
// the dropped folder's name) passes the filter.
func (c Config) Match(relPath string) bool {
	if c.Empty() {
		return true
	}
	if len(c.PathInclude) > 0 && !matchesPathFilter(relPath, c.PathInclude) {
		return false
	}
	return matchesFilter(filepath.Base(filepath.FromSlash(relPath)), c)
}

// matchesFilter checks a base file name against the name patterns and
// search terms.
func matchesFilter(name string, config Config) bool {
	// Exclude wins over include
	if matchesAny(name, config.Exclude) {
		return false
	}
	if len(config.Include) > 0 && !matchesAny(name, config.Include) {
		return false
	}

	lower := strings.ToLower(name)
	for _, term := range config.Search {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false // Must match ALL search terms
		}
	}
	return true
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// matchesPathFilter checks if a file path matches any of the path patterns.
func matchesPathFilter(filePath string, patterns []string) bool {
	segments := strings.Split(filepath.ToSlash(filePath), "/")
	for _, pattern := range patterns {
		if matchSegments(strings.Split(filepath.ToSlash(pattern), "/"), segments) {
			return true
		}
	}
	return false
}

// matchSegments matches path segments against pattern segments. A "**"
// segment matches zero or more whole segments; every other segment is a
// path.Match glob.
func matchSegments(pattern, segments []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			for i := 0; i <= len(segments); i++ {
				if matchSegments(pattern[1:], segments[i:]) {
					return true
				}
			}
			return false
		}
		if len(segments) == 0 {
			return false
		}
		if ok, err := path.Match(pattern[0], segments[0]); err != nil || !ok {
			return false
		}
		pattern, segments = pattern[1:], segments[1:]
	}
	return len(segments) == 0
}

// ParsePatternList parses a comma-separated list of patterns into a slice.
// Example: "*.dat,*.txt" -> []string{"*.dat", "*.txt"}
func ParsePatternList(patternStr string) []string {
	if patternStr == "" {
		return nil
	}
	parts := strings.Split(patternStr, ",")
	patterns := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			patterns = append(patterns, trimmed)
		}
	}
	return patterns
}
