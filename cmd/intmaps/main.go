package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/standardbeagle/intmaps/internal/config"
	"github.com/standardbeagle/intmaps/internal/debug"
	"github.com/standardbeagle/intmaps/internal/ehmap"
	"github.com/standardbeagle/intmaps/internal/version"

	"github.com/urfave/cli/v2"
)

// loadConfigWithOverrides loads configuration and applies CLI flag overrides
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	configPath := c.String("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		if configPath == "" {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if dirFlag := c.String("dir"); dirFlag != "" {
		absDir, err := filepath.Abs(dirFlag)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dir %q: %w", dirFlag, err)
		}
		cfg.Storage.Dir = absDir
	}
	return cfg, nil
}

// openMap opens <dir>/map.ehmap, creating the storage dir on first use
func openMap(cfg *config.Config) (*ehmap.Map, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	m, err := ehmap.Open(cfg.MapPath(), cfg.MapOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open map: %w", err)
	}
	return m, nil
}

// withMap runs fn against the durable map and closes it afterwards
func withMap(c *cli.Context, fn func(m *ehmap.Map) error) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	m, err := openMap(cfg)
	if err != nil {
		return err
	}
	fnErr := fn(m)
	if err := m.Close(); err != nil && fnErr == nil {
		return fmt.Errorf("failed to close map: %w", err)
	}
	return fnErr
}

func newApp() *cli.App {
	return &cli.App{
		Name:                   "intmaps",
		Usage:                  "Durable int32 multimaps and string enumerators",
		Version:                version.Info(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path (.kdl or .toml); defaults to ~/" + config.ConfigFileName + " merged with ./" + config.ConfigFileName,
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Storage directory (overrides config)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Print storage and enumerator debug output to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "Add a key/value pair",
				ArgsUsage: "KEY VALUE",
				Action:    putCommand,
			},
			{
				Name:      "get",
				Usage:     "Print all values of a key",
				ArgsUsage: "KEY",
				Action:    getCommand,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Remove a key/value pair",
				ArgsUsage: "KEY VALUE",
				Action:    removeCommand,
			},
			{
				Name:      "replace",
				Usage:     "Replace one value of a key with another",
				ArgsUsage: "KEY OLD NEW",
				Action:    replaceCommand,
			},
			{
				Name:  "dump",
				Usage: "Print every key/value pair",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: dumpCommand,
			},
			{
				Name:   "clear",
				Usage:  "Remove every pair from the map",
				Action: clearCommand,
			},
			{
				Name:  "stats",
				Usage: "Show map statistics",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "json",
						Aliases: []string{"j"},
						Usage:   "Output as JSON",
					},
				},
				Action: statsCommand,
			},
			{
				Name:      "enumerate",
				Aliases:   []string{"enum"},
				Usage:     "Assign ids to strings, or to file paths matching globs",
				ArgsUsage: "[STRING...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "root",
						Aliases: []string{"r"},
						Usage:   "Directory to walk for --glob",
						Value:   ".",
					},
					&cli.StringSliceFlag{
						Name:    "glob",
						Aliases: []string{"g"},
						Usage:   "Enumerate paths under --root matching the pattern (e.g. --glob '**/*.go')",
					},
				},
				Action: enumerateCommand,
			},
			{
				Name:      "resolve",
				Usage:     "Print the strings behind enumerated ids",
				ArgsUsage: "ID...",
				Action:    resolveCommand,
			},
			{
				Name:  "bench",
				Usage: "Run a concurrent LookupOrInsert workload on an in-memory map",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Concurrent workers",
						Value:   8,
					},
					&cli.IntFlag{
						Name:    "keys",
						Aliases: []string{"k"},
						Usage:   "Distinct keys every worker inserts",
						Value:   100000,
					},
					&cli.IntFlag{
						Name:    "stripes",
						Aliases: []string{"s"},
						Usage:   "Lock stripes (0 = from config)",
					},
				},
				Action: benchCommand,
			},
		},
		Before: func(c *cli.Context) error {
			// warnings always reach stderr, debug output only with --verbose
			debug.SetDebugOutput(c.App.ErrWriter)
			if c.Bool("verbose") {
				debug.EnableDebug = "true"
			}
			return nil
		},
		After: func(c *cli.Context) error {
			debug.EnableDebug = "false"
			debug.SetDebugOutput(nil)
			return nil
		},
	}
}

func init() {
	// -v is --verbose
	cli.VersionFlag = &cli.BoolFlag{
		Name:  "version",
		Usage: "print the version",
	}
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Fprintln(c.App.Writer, version.FullInfo())
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
