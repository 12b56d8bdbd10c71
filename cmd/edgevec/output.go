package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/kalambet/edgevec/internal/retrieval"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printResults writes search results to w, either as indented JSON or as a
// numbered list. An error row is returned as an error.
func printResults(w io.Writer, results []retrieval.SearchResult, asJSON bool) error {
	if retrieval.IsErrorResult(results) {
		return fmt.Errorf("search failed: %s", results[0].Content)
	}
	if asJSON {
		if results == nil {
			results = []retrieval.SearchResult{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(w, "No results.")
		return nil
	}
	for i, r := range results {
		header := fmt.Sprintf("%d. [%s] score=%.4f id=%s", i+1, r.SearchType(), r.Score, r.ID)
		fmt.Fprintln(w, colorize(colorBold, header))
		fmt.Fprintf(w, "   %s\n", r.Content)
		if meta := metadataLine(r.Metadata); meta != "" {
			fmt.Fprintf(w, "   %s\n", colorize(colorCyan, meta))
		}
	}
	return nil
}

// metadataLine renders metadata as sorted key=value pairs, leaving out the
// searchtype tag already shown in the header.
func metadataLine(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k != "searchtype" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, meta[k])
	}
	return strings.Join(parts, " ")
}
