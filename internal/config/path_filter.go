package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// PathFilter decides which slash-separated relative paths the enumerate
// command picks up: a path must match an include pattern (or there are
// none) and no exclude pattern.
type PathFilter struct {
	include []string
	exclude []string
}

// NewPathFilter builds a filter from the enumerator section. With
// RespectGitignore set, root/.gitignore adds exclusions.
func NewPathFilter(enum Enumerator, root string) (*PathFilter, error) {
	f := &PathFilter{
		include: append([]string{}, enum.Include...),
		exclude: append([]string{}, enum.Exclude...),
	}
	if enum.RespectGitignore && root != "" {
		patterns, err := LoadGitignorePatterns(root)
		if err != nil {
			return nil, err
		}
		f.exclude = DeduplicatePatterns(append(f.exclude, patterns...))
	}
	return f, nil
}

// Match reports whether relPath passes the filter
func (f *PathFilter) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pattern := range f.exclude {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, pattern := range f.include {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}

// SkipDir reports whether a whole directory is excluded, so a walk can skip it
func (f *PathFilter) SkipDir(relDir string) bool {
	relDir = filepath.ToSlash(relDir)
	for _, pattern := range f.exclude {
		if matched, _ := doublestar.Match(pattern, relDir+"/"); matched {
			return true
		}
		if matched, _ := doublestar.Match(pattern, relDir); matched && strings.HasSuffix(pattern, "/**") {
			return true
		}
	}
	return false
}

// Excludes returns the effective exclusion patterns
func (f *PathFilter) Excludes() []string {
	return f.exclude
}

// LoadGitignorePatterns converts root/.gitignore lines into doublestar
// exclusion patterns. Negations are not supported and are skipped.
// A missing file yields no patterns.
func LoadGitignorePatterns(root string) ([]string, error) {
	file, err := os.Open(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if pattern, ok := gitignoreToGlob(scanner.Text()); ok {
			patterns = append(patterns, pattern)
		}
	}
	return patterns, scanner.Err()
}

// gitignoreToGlob rewrites one .gitignore line:
//
//	build/     -> **/build/**
//	/out       -> out
//	*.tmp      -> **/*.tmp
//	docs/*.md  -> docs/*.md
func gitignoreToGlob(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return "", false
	}

	directory := strings.HasSuffix(line, "/")
	line = strings.TrimSuffix(line, "/")
	// a slash anywhere but the end anchors the pattern to the root
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" {
		return "", false
	}

	if !anchored && !strings.HasPrefix(line, "**/") {
		line = "**/" + line
	}
	if directory {
		line += "/**"
	}
	return line, true
}
