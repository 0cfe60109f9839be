package subscriber

import (
	"fmt"

	"github.com/gobwas/glob"
)

// TopicFilter filters deliveries using glob patterns. '/' separates topic
// levels: "people/*" matches "people/count" but not "people/lobby/count";
// "people/**" matches both.
type TopicFilter struct {
	globs []glob.Glob
}

// NewTopicFilter creates a new glob-based filter
// Empty patterns match everything
func NewTopicFilter(patterns []string) (*TopicFilter, error) {
	filter := &TopicFilter{
		globs: make([]glob.Glob, 0, len(patterns)),
	}

	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid topic pattern %q: %w", pattern, err)
		}
		filter.globs = append(filter.globs, g)
	}

	return filter, nil
}

// Match returns true if topic matches any configured pattern
// If no patterns are configured, all topics match
func (f *TopicFilter) Match(topic string) bool {
	if len(f.globs) == 0 {
		return true
	}

	for _, g := range f.globs {
		if g.Match(topic) {
			return true
		}
	}
	return false
}
