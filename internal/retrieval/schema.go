package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/edgevec/internal/dbservice"
)

// dimensionProbe is embedded once to discover the vector dimension.
const dimensionProbe = "dimension probe"

// SchemaOptions tune a single Setup call.
type SchemaOptions struct {
	// Dimension of the embedding column. Zero asks the embedder.
	Dimension int
}

// Provisioner creates the database, table, vector index and, in hybrid
// mode, the full-text shadow table with its sync triggers.
type Provisioner struct {
	db      dbservice.Service
	emb     Embedder
	cfg     Config
	builder *StatementBuilder
	logger  *slog.Logger
}

// NewProvisioner returns a Provisioner for the schema described by cfg.
func NewProvisioner(db dbservice.Service, emb Embedder, cfg Config) *Provisioner {
	cfg = cfg.withDefaults()
	return &Provisioner{
		db:      db,
		emb:     emb,
		cfg:     cfg,
		builder: NewStatementBuilder(cfg),
		logger:  cfg.Logger,
	}
}

// Setup is idempotent: when the required tables already exist it returns
// without executing any DDL.
func (p *Provisioner) Setup(ctx context.Context, opts SchemaOptions) error {
	if err := p.cfg.Validate(); err != nil {
		return &SetupError{Step: "config", Err: err}
	}
	if err := p.ensureDatabase(ctx); err != nil {
		return err
	}

	tables, err := p.db.ListTables(ctx, p.cfg.Database)
	if err != nil {
		return &SetupError{Step: "tables", Err: err}
	}
	if p.hasSchema(tables) {
		p.logger.Debug("schema already present", "database", p.cfg.Database, "table", p.cfg.Table)
		return nil
	}

	dim := opts.Dimension
	if dim <= 0 {
		vec, err := p.emb.EmbedQuery(ctx, dimensionProbe)
		if err != nil {
			return &SetupError{Step: "dimension", Err: err}
		}
		dim = len(vec)
	}
	if dim <= 0 {
		return &SetupError{Step: "dimension", Err: errors.New("embedder returned an empty vector")}
	}

	stmts := p.builder.Schema(dim, p.cfg.Mode)
	if p.cfg.Mode == ModeHybrid && slices.Contains(tables, p.cfg.Table) {
		// The table predates the shadow table, so its rows never went
		// through the insert trigger.
		p.logger.Info("indexing existing rows for full-text search", "database", p.cfg.Database, "table", p.cfg.Table)
		stmts = append(stmts, p.builder.Backfill())
	}
	if err := p.db.Execute(ctx, p.cfg.Database, stmts); err != nil {
		return &SetupError{Step: "schema", Err: err}
	}
	p.logger.Info("schema created", "database", p.cfg.Database, "table", p.cfg.Table,
		"mode", p.cfg.Mode, "dimension", dim, "expanded", p.cfg.Expanded())
	return nil
}

func (p *Provisioner) hasSchema(tables []string) bool {
	if !slices.Contains(tables, p.cfg.Table) {
		return false
	}
	if p.cfg.Mode == ModeHybrid && !slices.Contains(tables, p.builder.ftsTable()) {
		return false
	}
	return true
}

// ensureDatabase creates the database when it is missing and waits until
// the service reports it ready.
func (p *Provisioner) ensureDatabase(ctx context.Context) error {
	dbs, err := p.db.ListDatabases(ctx)
	if err != nil {
		return &SetupError{Step: "database", Err: err}
	}

	db, found := findDatabase(dbs, p.cfg.Database)
	if found && db.Ready() {
		return nil
	}
	if !found {
		p.logger.Info("creating database", "database", p.cfg.Database)
		if err := p.db.CreateDatabase(ctx, p.cfg.Database); err != nil {
			return &SetupError{Step: "database", Err: err}
		}
	}
	return p.waitReady(ctx)
}

// waitReady polls ListDatabases until the database is ready or
// ReadyTimeout elapses.
func (p *Provisioner) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.ReadyPollInterval)
	defer ticker.Stop()

	for {
		dbs, err := p.db.ListDatabases(ctx)
		if err != nil && ctx.Err() == nil {
			return &SetupError{Step: "readiness", Err: err}
		}
		if db, ok := findDatabase(dbs, p.cfg.Database); ok && db.Ready() {
			return nil
		}

		select {
		case <-ctx.Done():
			return &SetupError{
				Step: "readiness",
				Err:  fmt.Errorf("database %s not ready after %s: %w", p.cfg.Database, p.cfg.ReadyTimeout, ctx.Err()),
			}
		case <-ticker.C:
			p.logger.Debug("waiting for database", "database", p.cfg.Database)
		}
	}
}

func findDatabase(dbs []dbservice.Database, name string) (dbservice.Database, bool) {
	for _, db := range dbs {
		if db.Name == name {
			return db, true
		}
	}
	return dbservice.Database{}, false
}

// Schema renders the DDL batch for a table with the given dimension.
func (b *StatementBuilder) Schema(dim int, mode Mode) []string {
	t, f := b.table, b.ftsTable()

	metaDefs := "metadata TEXT"
	metaCols := []string{"metadata"}
	if b.expanded() {
		metaCols = b.columns
		defs := make([]string, len(b.columns))
		for i, c := range b.columns {
			defs[i] = c + " TEXT"
		}
		metaDefs = strings.Join(defs, ", ")
	}

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, content TEXT NOT NULL, embedding F32_BLOB(%d), %s)",
			t, dim, metaDefs),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (libsql_vector_idx(embedding))", b.indexName(), t),
	}
	if mode != ModeHybrid {
		return stmts
	}

	cols := strings.Join(metaCols, ", ")
	newVals := prefixed("new.", metaCols)
	sets := make([]string, len(metaCols))
	for i, c := range metaCols {
		sets[i] = fmt.Sprintf("%s = new.%s", c, c)
	}

	return append(stmts,
		fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING fts5(content, id UNINDEXED, %s, tokenize = 'porter')", f, cols),
		fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS insert_into_%s AFTER INSERT ON %s BEGIN INSERT INTO %s (id, content, %s) VALUES (new.id, new.content, %s); END",
			f, t, f, cols, newVals),
		fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS update_%s AFTER UPDATE ON %s BEGIN UPDATE %s SET id = new.id, content = new.content, %s WHERE id = old.id; END",
			f, t, f, strings.Join(sets, ", ")),
		fmt.Sprintf("CREATE TRIGGER IF NOT EXISTS delete_%s AFTER DELETE ON %s BEGIN DELETE FROM %s WHERE id = old.id; END",
			f, t, f),
	)
}

// Backfill copies every row of the main table into the full-text table.
func (b *StatementBuilder) Backfill() string {
	cols := "metadata"
	if b.expanded() {
		cols = strings.Join(b.columns, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (id, content, %s) SELECT id, content, %s FROM %s", b.ftsTable(), cols, cols, b.table)
}

func prefixed(prefix string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return strings.Join(out, ", ")
}
