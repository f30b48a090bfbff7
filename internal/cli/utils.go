// Package cli provides CLI output helpers for gamesense.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/hyperjump/gamesense/internal/models"
	"github.com/hyperjump/gamesense/pkg/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputTable renders a bordered table.
	OutputTable OutputFormat = "table"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const maxNameWidth = 48

// ParseOutputFormat accepts text, table or json (case-insensitive).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputTable, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, table or json)", s)
}

// WriteOutcome writes an upload response to w.
func WriteOutcome(w io.Writer, resp *models.UploadResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	if resp.Game != "" {
		fmt.Fprintf(w, "Game: %s\n", resp.Game)
	}
	if resp.Message != "" {
		fmt.Fprintln(w, resp.Message)
	}
	if len(resp.SimilarGames) > 0 {
		fmt.Fprintf(w, "Similar existing games: %s\n", strings.Join(resp.SimilarGames, ", "))
	}
	return nil
}

// WriteStats writes per-game vector counts to w in the given format.
// JSON output is the same object GET /stats returns.
func WriteStats(w io.Writer, stats []models.GameStat, format OutputFormat) error {
	switch format {
	case OutputJSON:
		m := make(map[string]int, len(stats))
		for _, s := range stats {
			m[s.Game] = s.Vectors
		}
		return writeJSON(w, m)
	case OutputTable:
		fmt.Fprintln(w, renderStatsTable(stats))
		return nil
	default:
		writeStatsText(w, stats)
		return nil
	}
}

func writeStatsText(w io.Writer, stats []models.GameStat) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No clusters yet.")
		return
	}
	total := 0
	for _, s := range stats {
		total += s.Vectors
	}
	fmt.Fprintf(w, "%d games, %d vectors\n\n", len(stats), total)
	for _, s := range stats {
		fmt.Fprintf(w, "%6d  %s\n", s.Vectors, s.Game)
	}
}

func renderStatsTable(stats []models.GameStat) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Game", "Vectors"})
	total := 0
	for _, s := range stats {
		tw.AppendRow(table.Row{utils.Truncate(s.Game, maxNameWidth), strconv.Itoa(s.Vectors)})
		total += s.Vectors
	}
	tw.AppendFooter(table.Row{"Total", strconv.Itoa(total)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft, AlignHeader: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft, AlignFooter: text.AlignRight},
	})
	return tw.Render()
}

// StatsFromMap converts a GET /stats body to a slice sorted by name.
func StatsFromMap(m map[string]int) []models.GameStat {
	out := make([]models.GameStat, 0, len(m))
	for game, n := range m {
		out = append(out, models.GameStat{Game: game, Vectors: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Game < out[j].Game })
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
