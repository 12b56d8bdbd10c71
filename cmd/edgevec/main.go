package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "edgevec",
	Short: "Similarity, full-text and hybrid search over an edge SQL store",
	Long: `edgevec stores documents with their embeddings in a libSQL database
(the edge SQL service or a local SQLite file) and searches them by vector
similarity, full text, or both.

Examples:
  edgevec setup
  edgevec add --file ./notes.md --meta topic=go
  edgevec search hybrid "how do channels work" --kfts 3 --kvector 3
  edgevec serve --mcp`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// initLogging installs the default slog handler. Logs go to stderr so that
// stdout stays usable for results and the MCP stdio transport.
func initLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}
