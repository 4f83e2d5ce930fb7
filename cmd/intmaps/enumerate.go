package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/intmaps/internal/config"
	"github.com/standardbeagle/intmaps/internal/debug"
	"github.com/standardbeagle/intmaps/internal/enumerator"

	"github.com/urfave/cli/v2"
)

// withEnumerator runs fn against the durable enumerator and closes it afterwards
func withEnumerator(c *cli.Context, fn func(cfg *config.Config, e *enumerator.Enumerator) error) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	e, err := enumerator.Open(cfg.EnumeratorDir(), cfg)
	if err != nil {
		return fmt.Errorf("failed to open enumerator: %w", err)
	}
	fnErr := fn(cfg, e)
	if err := e.Close(); err != nil && fnErr == nil {
		return fmt.Errorf("failed to close enumerator: %w", err)
	}
	return fnErr
}

// enumerateCommand prints "id<TAB>string" for every argument, or for every
// file under --root matching --glob (config includes when no glob is given)
func enumerateCommand(c *cli.Context) error {
	return withEnumerator(c, func(cfg *config.Config, e *enumerator.Enumerator) error {
		inputs := c.Args().Slice()

		globs := c.StringSlice("glob")
		if len(globs) == 0 && len(inputs) == 0 {
			globs = cfg.Enumerator.Include
		}
		if len(globs) > 0 {
			paths, err := matchPaths(c.String("root"), globs, cfg.Enumerator)
			if err != nil {
				return err
			}
			inputs = append(inputs, paths...)
		}
		if len(inputs) == 0 {
			return errors.New("nothing to enumerate: pass strings or --glob patterns")
		}

		for _, s := range inputs {
			id, err := e.Enumerate(s)
			if err != nil {
				return fmt.Errorf("failed to enumerate %q: %w", s, err)
			}
			fmt.Fprintf(c.App.Writer, "%d\t%s\n", id, s)
		}
		return nil
	})
}

// matchPaths globs files under root and drops the ones the exclusions
// (and .gitignore, if respected) filter out. Results are sorted and unique.
func matchPaths(root string, globs []string, enum config.Enumerator) ([]string, error) {
	for _, pattern := range globs {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid glob pattern %q", pattern)
		}
	}
	// globs replace the configured includes, exclusions still apply
	enum.Include = nil
	filter, err := config.NewPathFilter(enum, root)
	if err != nil {
		return nil, fmt.Errorf("failed to build path filter: %w", err)
	}

	fsys := os.DirFS(root)
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range globs {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to glob %q under %s: %w", pattern, root, err)
		}
		for _, path := range matches {
			if seen[path] {
				continue
			}
			seen[path] = true
			if !filter.Match(path) {
				debug.LogEnumerator("excluded %s\n", path)
				continue
			}
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// resolveCommand prints "id<TAB>string" for every id argument
func resolveCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("resolve expects at least one id")
	}
	ids := make([]int32, c.NArg())
	for i, arg := range c.Args().Slice() {
		id, err := strconv.ParseInt(arg, 10, 32)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		ids[i] = int32(id)
	}

	return withEnumerator(c, func(_ *config.Config, e *enumerator.Enumerator) error {
		for _, id := range ids {
			s, err := e.ValueOf(id)
			if err != nil {
				return fmt.Errorf("failed to resolve %d: %w", id, err)
			}
			fmt.Fprintf(c.App.Writer, "%d\t%s\n", id, s)
		}
		return nil
	})
}
