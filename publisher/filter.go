package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters membership events by group name
type GlobFilter struct {
	groupGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter
// Empty patterns match everything
func NewGlobFilter(groupPatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		groupGlobs: make([]glob.Glob, 0, len(groupPatterns)),
	}

	for _, pattern := range groupPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid group pattern %q: %w", pattern, err)
		}
		filter.groupGlobs = append(filter.groupGlobs, g)
	}

	return filter, nil
}

// Match returns true if the group matches any configured pattern
// If no patterns are configured, all groups match
func (f *GlobFilter) Match(group string) bool {
	if len(f.groupGlobs) == 0 {
		return true
	}
	for _, g := range f.groupGlobs {
		if g.Match(group) {
			return true
		}
	}
	return false
}
