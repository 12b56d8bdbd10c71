package main

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/edgevec/internal/api"
	"github.com/kalambet/edgevec/internal/config"
	"github.com/kalambet/edgevec/internal/dbservice"
	"github.com/kalambet/edgevec/internal/dbservice/edgesql"
	"github.com/kalambet/edgevec/internal/dbservice/sqlite"
	"github.com/kalambet/edgevec/internal/engine"
	"github.com/kalambet/edgevec/internal/loader"
	"github.com/kalambet/edgevec/internal/retrieval"
)

const defaultSearchK = 5

// runtime is what the in-process commands operate on.
type runtime struct {
	cfg    config.Config
	db     dbservice.Service
	engine engine.Engine
	store  *retrieval.Store
	close  func() error
}

var loadConfig = config.Load

// openRuntime builds the store described by cfg. With ensureEngine set the
// embeddings engine must be reachable and the model is pulled if missing.
var openRuntime = func(ctx context.Context, cfg config.Config, ensureEngine bool) (*runtime, error) {
	initLogging(cfg.Log.Level)

	eng, err := engine.Detect(engine.DetectConfig{
		Kind:          cfg.Engine.Kind,
		OllamaBaseURL: cfg.Ollama.BaseURL,
		MLXBaseURL:    cfg.Engine.MLXBaseURL,

		OllamaBatchSize: cfg.Ollama.BatchSize,
		OllamaKeepAlive: cfg.Ollama.KeepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting embeddings engine: %w", err)
	}
	if ensureEngine {
		if err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return nil, err
		}
	}

	db, closeDB, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	storeCfg := cfg.StoreConfig()
	storeCfg.Logger = slog.Default()
	store, err := retrieval.New(db, retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel), storeCfg)
	if err != nil {
		closeDB()
		return nil, err
	}

	return &runtime{cfg: cfg, db: db, engine: eng, store: store, close: closeDB}, nil
}

func openDatabase(cfg config.Config) (dbservice.Service, func() error, error) {
	switch cfg.Backend {
	case config.BackendEdgeSQL:
		return edgesql.NewWithBaseURL(cfg.EdgeSQL.Token, cfg.EdgeSQL.BaseURL), func() error { return nil }, nil
	default:
		svc, err := sqlite.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening local database: %w", err)
		}
		return svc, svc.Close, nil
	}
}

func withRuntime(cmd *cobra.Command, ensureEngine bool, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := openRuntime(ctx, cfg, ensureEngine)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(); err != nil {
			printWarning("closing database: %v", err)
		}
	}()
	return fn(ctx, rt)
}

// --- setup ---

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the database, table and indexes if they do not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd, true, func(ctx context.Context, rt *runtime) error {
			sc := rt.store.Config()
			printStep("Provisioning %s/%s (%s mode)", sc.Database, sc.Table, sc.Mode)
			if err := rt.store.Setup(ctx); err != nil {
				return err
			}
			printSuccess("Store %s/%s is ready", sc.Database, sc.Table)
			return nil
		})
	},
}

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Embed and store documents",
	Long: `Embed and store documents.

Files are read by extension: .pdf and .html/.htm are parsed, anything else
is read as UTF-8 text.

Examples:
  edgevec add --text "Channels are typed conduits" --meta topic=go
  edgevec add --file ./notes.md --file ./paper.pdf --meta project=search`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		files, _ := cmd.Flags().GetStringArray("file")
		pairs, _ := cmd.Flags().GetStringArray("meta")

		if strings.TrimSpace(text) == "" && len(files) == 0 {
			return fmt.Errorf("one of --text or --file is required")
		}
		meta, err := parseMeta(pairs)
		if err != nil {
			return err
		}
		docs, err := collectDocuments(text, files, meta)
		if err != nil {
			return err
		}

		return withRuntime(cmd, true, func(ctx context.Context, rt *runtime) error {
			if err := rt.store.AddDocuments(ctx, docs); err != nil {
				return err
			}
			printSuccess("Stored %d documents in %s", len(docs), rt.store.Config().Table)
			return nil
		})
	},
}

func init() {
	addCmd.Flags().String("text", "", "text content to add")
	addCmd.Flags().StringArray("file", nil, "file to load and add (repeatable)")
	addCmd.Flags().StringArray("meta", nil, "metadata key=value attached to every document (repeatable)")
}

// parseMeta turns key=value pairs into a metadata map.
func parseMeta(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --meta %q: want key=value", p)
		}
		meta[k] = strings.TrimSpace(v)
	}
	return meta, nil
}

// collectDocuments builds the documents for `add`. User metadata is applied
// on top of what the loader sets.
func collectDocuments(text string, files []string, meta map[string]any) ([]retrieval.Document, error) {
	var docs []retrieval.Document
	if strings.TrimSpace(text) != "" {
		docs = append(docs, retrieval.Document{
			Content:  text,
			Metadata: map[string]any{"source": "cli"},
		})
	}

	loaded, err := loader.LoadFiles(files)
	if err != nil {
		return nil, err
	}
	docs = append(docs, loaded...)

	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]any, len(meta))
		}
		maps.Copy(docs[i].Metadata, meta)
	}
	return docs, nil
}

// --- search ---

const (
	searchSimilarity = "similarity"
	searchFullText   = "fulltext"
	searchHybrid     = "hybrid"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored documents",
	Long: `Search stored documents by vector similarity, full text, or both.

Examples:
  edgevec search similarity "goroutine scheduling" --kvector 3
  edgevec search fulltext borrow checker --filter "topic = rust"
  edgevec search hybrid "error handling" --meta-items topic,source --json`,
}

var searchSimilarityCmd = &cobra.Command{
	Use:   "similarity <query...>",
	Short: "Nearest documents by embedding distance",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch(searchSimilarity),
}

var searchFullTextCmd = &cobra.Command{
	Use:   "fulltext <query...>",
	Short: "Documents matching any query word, ranked by the full-text index",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch(searchFullText),
}

var searchHybridCmd = &cobra.Command{
	Use:   "hybrid <query...>",
	Short: "Full-text and similarity results merged under separate quotas",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch(searchHybrid),
}

func init() {
	pf := searchCmd.PersistentFlags()
	pf.Int("kvector", defaultSearchK, "number of similarity results")
	pf.Int("kfts", defaultSearchK, "number of full-text results")
	pf.StringArray("filter", nil, `filter "column operator value" (repeatable)`)
	pf.String("meta-items", "", "comma-separated metadata keys to return")
	pf.Bool("json", false, "print results as JSON")
	pf.Bool("remote", false, "query a running `edgevec serve` (token from "+apiTokenEnv+")")

	searchCmd.AddCommand(searchSimilarityCmd)
	searchCmd.AddCommand(searchFullTextCmd)
	searchCmd.AddCommand(searchHybridCmd)
}

func runSearch(kind string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req, err := searchRequest(cmd, strings.Join(args, " "))
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		remote, _ := cmd.Flags().GetBool("remote")

		if remote {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newAPIClient(cfg, os.Getenv(apiTokenEnv))
			results, err := remoteSearch(cmd.Context(), client, kind, req)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results, asJSON)
		}

		return withRuntime(cmd, false, func(ctx context.Context, rt *runtime) error {
			results, err := localSearch(ctx, rt.store, kind, req)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results, asJSON)
		})
	}
}

func searchRequest(cmd *cobra.Command, query string) (api.SearchRequest, error) {
	kvector, _ := cmd.Flags().GetInt("kvector")
	kfts, _ := cmd.Flags().GetInt("kfts")
	rawFilters, _ := cmd.Flags().GetStringArray("filter")
	items, _ := cmd.Flags().GetString("meta-items")

	if strings.TrimSpace(query) == "" {
		return api.SearchRequest{}, fmt.Errorf("query must not be empty")
	}
	if kvector <= 0 || kfts <= 0 {
		return api.SearchRequest{}, fmt.Errorf("--kvector and --kfts must be positive")
	}
	filters, err := parseFilters(rawFilters)
	if err != nil {
		return api.SearchRequest{}, err
	}

	return api.SearchRequest{
		Query:         query,
		KVector:       kvector,
		KFTS:          kfts,
		Filters:       filters,
		MetadataItems: splitList(items),
	}, nil
}

func parseFilters(raw []string) ([]retrieval.Filter, error) {
	var filters []retrieval.Filter
	for _, r := range raw {
		f, err := retrieval.ParseFilter(r)
		if err != nil {
			return nil, fmt.Errorf("invalid --filter %q: %w", r, err)
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func localSearch(ctx context.Context, store api.Retriever, kind string, req api.SearchRequest) ([]retrieval.SearchResult, error) {
	opts := retrieval.SearchOptions{Filters: req.Filters, MetadataItems: req.MetadataItems}
	switch kind {
	case searchSimilarity:
		return store.SimilaritySearch(ctx, req.Query, retrieval.SimilarityOptions{KVector: req.KVector, SearchOptions: opts})
	case searchFullText:
		return store.FullTextSearch(ctx, req.Query, retrieval.FullTextOptions{KFTS: req.KFTS, SearchOptions: opts})
	case searchHybrid:
		return store.HybridSearch(ctx, req.Query, retrieval.HybridOptions{KFTS: req.KFTS, KVector: req.KVector, SearchOptions: opts})
	default:
		return nil, fmt.Errorf("unknown search kind %q", kind)
	}
}

func remoteSearch(ctx context.Context, client *apiClient, kind string, req api.SearchRequest) ([]retrieval.SearchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.post(ctx, "/search/"+kind, req)
	if err != nil {
		return nil, err
	}
	var out api.SearchResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend, store and engine status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			// Still show partial status even if config fails.
			printError("config error: %v", err)
			return nil
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		rt, err := openRuntime(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer rt.close()

		showStatus(ctx, rt, newAPIClient(cfg, ""))
		return nil
	},
}

func showStatus(ctx context.Context, rt *runtime, client *apiClient) {
	cfg := rt.cfg
	sc := rt.store.Config()

	if cfg.Backend == config.BackendEdgeSQL {
		printStatus("Backend", "edge SQL at %s", cfg.EdgeSQL.BaseURL)
	} else {
		printStatus("Backend", "local SQLite in %s", cfg.Storage.DataDir)
	}
	layout := "json"
	if sc.Expanded() {
		layout = "columns " + strings.Join(sc.MetadataColumns, ",")
	}
	printStatus("Store", "%s/%s (%s mode, %s metadata)", sc.Database, sc.Table, sc.Mode, layout)

	dbStatus, exists := databaseStatus(ctx, rt.db, sc.Database)
	printStatus("Database", "%s", dbStatus)
	if exists {
		tables, err := rt.db.ListTables(ctx, sc.Database)
		if err != nil {
			printStatus("Table", "unknown (%v)", err)
		} else {
			printStatus("Table", "%s", presence(tables, sc.Table))
			if sc.Mode == retrieval.ModeHybrid {
				printStatus("Full-text index", "%s", presence(tables, sc.Table+"_fts"))
			}
		}
	}

	if rt.engine.IsRunning(ctx) {
		printStatus("Engine", "%s running", engineName(cfg))
		if rt.engine.HasModel(ctx, cfg.Ollama.EmbedModel) {
			printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
		} else {
			printStatus("Embed model", "%s (not pulled)", cfg.Ollama.EmbedModel)
		}
	} else {
		printStatus("Engine", "%s not running", engineName(cfg))
	}

	if client.healthy(ctx) {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}
}

// databaseStatus describes the named database; ok reports whether it exists.
func databaseStatus(ctx context.Context, db dbservice.Service, name string) (status string, ok bool) {
	dbs, err := db.ListDatabases(ctx)
	if err != nil {
		return fmt.Sprintf("unreachable (%v)", err), false
	}
	for _, d := range dbs {
		if d.Name != name {
			continue
		}
		if d.Ready() {
			return "ready", true
		}
		return d.Status, true
	}
	return "missing, run `edgevec setup`", false
}

func presence(tables []string, name string) string {
	for _, t := range tables {
		if t == name {
			return name + " present"
		}
	}
	return name + " missing"
}

func engineName(cfg config.Config) string {
	if cfg.Engine.Kind == engine.KindMLX {
		return "MLX at " + cfg.Engine.MLXBaseURL
	}
	return "Ollama at " + cfg.Ollama.BaseURL
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Valid keys: ` + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the edge SQL API token in the platform secret store",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearToken, _ := cmd.Flags().GetBool("clear")
		if clearToken {
			if err := config.ClearToken(); err != nil {
				return err
			}
			printSuccess("Edge SQL token removed")
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("a token argument is required (or --clear)")
		}
		if err := config.SetToken(args[0]); err != nil {
			return err
		}
		printSuccess("Edge SQL token stored")
		return nil
	},
}

func init() {
	configSetTokenCmd.Flags().Bool("clear", false, "remove the stored token")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}
