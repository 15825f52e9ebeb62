// Package filter selects which tables have their row changes written to the log.
package filter

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter matches tables by database and table glob patterns.
type GlobFilter struct {
	tableGlobs    []glob.Glob
	databaseGlobs []glob.Glob
	excludeGlobs  []glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// Empty include patterns match everything. Exclude patterns are matched
// against "db.table", where '*' does not cross the dot, and win over includes.
func NewGlobFilter(tablePatterns, dbPatterns, excludePatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{}
	var err error
	if filter.tableGlobs, err = compile("table", tablePatterns); err != nil {
		return nil, err
	}
	if filter.databaseGlobs, err = compile("database", dbPatterns); err != nil {
		return nil, err
	}
	if filter.excludeGlobs, err = compile("exclude", excludePatterns, '.'); err != nil {
		return nil, err
	}
	return filter, nil
}

func compile(kind string, patterns []string, separators ...rune) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, separators...)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func anyMatch(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// Match returns true if the database and table pass the filter.
// A nil filter matches everything.
func (f *GlobFilter) Match(database, table string) bool {
	if f == nil {
		return true
	}
	if len(f.databaseGlobs) > 0 && !anyMatch(f.databaseGlobs, database) {
		return false
	}
	if len(f.tableGlobs) > 0 && !anyMatch(f.tableGlobs, table) {
		return false
	}
	return !anyMatch(f.excludeGlobs, database+"."+table)
}
