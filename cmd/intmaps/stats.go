package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/standardbeagle/intmaps/internal/ehmap"

	"github.com/urfave/cli/v2"
)

// StatsReport represents the map stats for JSON output
type StatsReport struct {
	Timestamp         time.Time `json:"timestamp"`
	Path              string    `json:"path"`
	Entries           int       `json:"entries"`
	Segments          int       `json:"segments"`
	GlobalDepth       int       `json:"global_depth"`
	SegmentSizeBytes  int       `json:"segment_size_bytes"`
	FileSizeBytes     int64     `json:"file_size_bytes"`
	WasProperlyClosed bool      `json:"was_properly_closed"`
}

// statsCommand shows durable map statistics
func statsCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}
	m, err := openMap(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	stats, err := m.Stats()
	if err != nil {
		return fmt.Errorf("failed to get map stats: %w", err)
	}
	report := StatsReport{
		Timestamp:         time.Now(),
		Path:              cfg.MapPath(),
		Entries:           stats.Entries,
		Segments:          stats.Segments,
		GlobalDepth:       stats.GlobalDepth,
		SegmentSizeBytes:  stats.SegmentSize,
		FileSizeBytes:     stats.FileSize,
		WasProperlyClosed: m.WasProperlyClosed(),
	}

	if c.Bool("json") {
		encoder := json.NewEncoder(c.App.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return outputStatsHuman(c.App.Writer, report, m, c.Bool("verbose"))
}

// outputStatsHuman outputs map stats in human-readable format
func outputStatsHuman(w io.Writer, report StatsReport, m *ehmap.Map, verbose bool) error {
	fmt.Fprintf(w, "Map: %s\n", report.Path)
	fmt.Fprintf(w, "  Entries:          %s\n", humanize.Comma(int64(report.Entries)))
	fmt.Fprintf(w, "  Segments:         %d (global depth %d)\n", report.Segments, report.GlobalDepth)
	fmt.Fprintf(w, "  Segment size:     %s\n", humanize.IBytes(uint64(report.SegmentSizeBytes)))
	fmt.Fprintf(w, "  File size:        %s\n", humanize.IBytes(uint64(report.FileSizeBytes)))
	if report.WasProperlyClosed {
		fmt.Fprintf(w, "  Last session:     closed cleanly\n")
	} else {
		fmt.Fprintf(w, "  Last session:     NOT closed cleanly\n")
	}

	if verbose {
		dump, err := m.Dump()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nDirectory:\n%s", dump)
	}
	return nil
}
