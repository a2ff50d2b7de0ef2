// Package enrich implements the commit enrichment pipeline: ignore-pattern
// filtering, per-file language detection, and the heuristic commit
// classifier. Everything here is deterministic and side-effect free so the
// orchestrator can run it from many workers at once.
package enrich

import (
	"bufio"
	"os"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// IgnoreFilter drops uninteresting file paths (lockfiles, vendored dirs,
// generated artifacts) before language detection and persistence.
type IgnoreFilter struct {
	patterns []string
}

// NewIgnoreFilter builds a filter from an in-memory pattern list, typically
// the team's resolved ignore_patterns.
func NewIgnoreFilter(patterns []string) *IgnoreFilter {
	return &IgnoreFilter{patterns: patterns}
}

// LoadIgnoreFile reads a newline-delimited pattern file. Blank lines and
// lines starting with "#" are skipped. A missing file yields an empty
// filter rather than an error.
func LoadIgnoreFile(filePath string) (*IgnoreFilter, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("path", filePath).Warn("ignore file not found, no files ignored")
			return &IgnoreFilter{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return &IgnoreFilter{patterns: patterns}, nil
}

// Allowed reports whether a file path survives filtering. Dotfiles are
// always rejected; every pattern is tried as a suffix and as a glob over
// the base name.
func (f *IgnoreFilter) Allowed(filePath string) bool {
	if strings.HasPrefix(filePath, ".") {
		return false
	}
	base := path.Base(filePath)
	for _, p := range f.patterns {
		if strings.HasSuffix(filePath, p) {
			return false
		}
		if ok, _ := path.Match(p, base); ok {
			return false
		}
	}
	return true
}

// FilterPaths returns the subset of paths that pass Allowed, preserving
// order.
func (f *IgnoreFilter) FilterPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if f.Allowed(p) {
			out = append(out, p)
		}
	}
	return out
}
