package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/standardbeagle/intmaps/internal/debug"
)

// LoadKDL loads .intmaps.kdl from dir. It returns nil, nil if there is none.
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadKDLFile(kdlPath)
}

// LoadKDLFile parses the KDL file at path. A relative storage dir is
// resolved against the directory containing the file.
func LoadKDLFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := parseKDL(string(content))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Storage.Dir = resolveDir(filepath.Dir(path), cfg.Storage.Dir)
	return cfg, nil
}

func resolveDir(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Clean(filepath.Join(base, dir))
}

// parseKDL applies the document on top of the defaults
//
//	storage { dir ".intmaps"; page_size "1MB"; segment_size "32KB" }
//	multimap { initial_capacity 1024; load_factor 0.4 }
//	concurrency { stripes 8 }
//	enumerator {
//	    include "**/*.go"
//	    exclude "**/vendor/**"
//	    respect_gitignore true
//	}
func parseKDL(content string) (*Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		case "storage":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "dir":
					if s, ok := firstStringArg(cn); ok {
						cfg.Storage.Dir = s
					}
				case "page_size":
					if err := assignSize(cn, &cfg.Storage.PageSize); err != nil {
						return nil, err
					}
				case "segment_size":
					if err := assignSize(cn, &cfg.Storage.SegmentSize); err != nil {
						return nil, err
					}
				}
			}
		case "multimap":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "initial_capacity":
					if v, ok := firstIntArg(cn); ok {
						cfg.Multimap.InitialCapacity = v
					}
				case "load_factor":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Multimap.LoadFactor = v
					}
				}
			}
		case "concurrency":
			for _, cn := range n.Children {
				if nodeName(cn) == "stripes" {
					if v, ok := firstIntArg(cn); ok {
						cfg.Concurrency.Stripes = v
					}
				}
			}
		case "enumerator":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "include":
					cfg.Enumerator.Include = append(cfg.Enumerator.Include, collectStringArgs(cn)...)
				case "exclude":
					// an exclude block replaces the default exclusions
					cfg.Enumerator.Exclude = collectStringArgs(cn)
				case "respect_gitignore":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Enumerator.RespectGitignore = b
					}
				}
			}
		default:
			debug.Printf("config: ignoring unknown node %q\n", nodeName(n))
		}
	}
	return cfg, nil
}

// assignSize accepts both 32768 and "32KB"
func assignSize(n *document.Node, target *Size) error {
	if v, ok := firstIntArg(n); ok {
		*target = Size(v)
		return nil
	}
	if s, ok := firstStringArg(n); ok {
		size, err := parseSize(s)
		if err != nil {
			return fmt.Errorf("invalid size %q for %s: %w", s, nodeName(n), err)
		}
		*target = Size(size)
	}
	return nil
}

// Helper functions over the kdl-go document model
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}
func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}
func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}
func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		debug.Warn("invalid float value for '%s' in KDL config, expected number but got %T\n", nodeName(n), n.Arguments[0].Value)
		return 0, false
	}
}
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	// inline form: exclude "a" "b"
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	// block form: exclude { "a"; "b" }, where each string is a child node name
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

// parseSize handles size strings like "10MB", "500KB", "1GB"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	var numStr string

	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	default:
		numStr = s
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}
