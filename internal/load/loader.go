package load

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/database"
	"github.com/sahapasci/pgloader/internal/ddl"
)

// ErrTableOIDNotFound aborts the run: index naming embeds table OIDs, so a
// partial mapping would generate colliding or dangling names.
var ErrTableOIDNotFound = errors.New("table OID not found after creation")

// Executor runs statements against the shared target connection.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WorkerConn is an independent connection owned by one worker.
type WorkerConn interface {
	Executor
	Close(ctx context.Context) error
}

// Cloner produces a fresh connection from the target's parameters. The
// shared connection is never used concurrently with worker connections.
type Cloner func(ctx context.Context) (WorkerConn, error)

// Introspector is the catalog lookup surface against the live target.
type Introspector interface {
	ListSchemas(ctx context.Context) ([]string, error)
	TableOIDs(ctx context.Context, schemas []string) (map[string]uint32, error)
	ListIndexNames(ctx context.Context, schema, table string) ([]string, error)
}

// Loader turns a catalog into ordered DDL against the target. Every
// operation is independently invocable; Run sequences them for a full load.
type Loader struct {
	exec     Executor
	insp     Introspector
	clone    Cloner
	opts     Options
	logger   *log.Logger
	progress *Progress

	// commentTag is generated once per run and reused as the dollar-quote
	// delimiter for every comment statement.
	commentTag string

	// rewriteTrigger is the hook translating trigger procedure bodies
	// before creation. The default keeps the body untouched.
	rewriteTrigger func(*catalog.Trigger) error
}

func NewLoader(exec Executor, insp Introspector, clone Cloner, opts Options, logger *log.Logger, progress *Progress) *Loader {
	return &Loader{
		exec:       exec,
		insp:       insp,
		clone:      clone,
		opts:       opts,
		logger:     logger,
		progress:   progress,
		commentTag: commentQuoteTag(),
	}
}

// WithTriggerRewriter installs the procedure-body translation hook.
func (l *Loader) WithTriggerRewriter(fn func(*catalog.Trigger) error) {
	l.rewriteTrigger = fn
}

func (l *Loader) ddlOptions() ddl.Options {
	opts := ddl.Options{
		IfNotExists:        l.opts.IfNotExists,
		PreserveIndexNames: l.opts.PreserveIndexNames,
	}
	if l.opts.DowncaseIdentifiers {
		opts.IdentifierCase = ddl.CaseDowncase
	}
	return opts
}

func (l *Loader) run(ctx context.Context, sql string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err := l.exec.Exec(ctx, sql)
	return err
}

// CreateSchemas creates every catalog schema. Existing schemas are dropped
// first (cascade) when includeDrop is set, and silently skipped otherwise;
// "already exists" is never an error here.
func (l *Loader) CreateSchemas(ctx context.Context, cat *catalog.Catalog, includeDrop bool) error {
	existing, err := l.insp.ListSchemas(ctx)
	if err != nil {
		return err
	}
	present := make(map[string]bool, len(existing))
	for _, name := range existing {
		present[name] = true
	}

	opts := l.ddlOptions()
	opts.Cascade = true
	for _, schema := range cat.Schemas {
		if includeDrop && present[schema.Name] {
			l.progress.Log(fmt.Sprintf("drop schema %s", schema.Name))
			if err := l.run(ctx, ddl.DropSchema(schema, opts)); err != nil {
				return err
			}
		}
		if includeDrop || !present[schema.Name] {
			l.progress.Log(fmt.Sprintf("create schema %s", schema.Name))
			if err := l.run(ctx, ddl.CreateSchema(schema, opts)); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateSqlTypes creates each custom type referenced anywhere in the
// catalog exactly once, deduplicated by name across all columns.
func (l *Loader) CreateSqlTypes(ctx context.Context, cat *catalog.Catalog) error {
	opts := l.ddlOptions()
	opts.Cascade = true
	for _, st := range cat.DistinctSqlTypes() {
		if l.opts.IncludeDrop {
			if err := l.run(ctx, ddl.DropSqlType(st, opts)); err != nil {
				return err
			}
		}
		l.progress.Log(fmt.Sprintf("create type %s", st.Name))
		if err := l.run(ctx, ddl.CreateSqlType(st, opts)); err != nil {
			// CREATE TYPE has no IF NOT EXISTS form; tolerate the
			// duplicate when idempotent creation was asked for.
			if l.opts.IfNotExists && isDuplicateObject(err) {
				l.logger.Printf("type %s already exists, skipped", st.Name)
				continue
			}
			return err
		}
	}
	return nil
}

// CreateTables issues optional drop plus create for every table, returning
// how many tables a create was issued for.
func (l *Loader) CreateTables(ctx context.Context, cat *catalog.Catalog) (int, error) {
	opts := l.ddlOptions()
	count := 0
	for _, t := range cat.TableList() {
		if l.opts.IncludeDrop {
			dropOpts := opts
			dropOpts.Cascade = true
			if err := l.run(ctx, ddl.DropTable(t, dropOpts)); err != nil {
				return count, err
			}
		}
		l.progress.Log(fmt.Sprintf("create table %s", t.QualifiedName()))
		if err := l.run(ctx, ddl.CreateTable(t, opts)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CreateViews mirrors CreateTables for schema-scoped views.
func (l *Loader) CreateViews(ctx context.Context, cat *catalog.Catalog) (int, error) {
	opts := l.ddlOptions()
	count := 0
	for _, schema := range cat.Schemas {
		for _, v := range schema.Views {
			if l.opts.IncludeDrop {
				dropOpts := opts
				dropOpts.Cascade = true
				if err := l.run(ctx, ddl.DropView(v, dropOpts)); err != nil {
					return count, err
				}
			}
			l.progress.Log(fmt.Sprintf("create view %s", v.QualifiedName()))
			if err := l.run(ctx, ddl.CreateView(v, opts)); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// CreateTriggers creates each trigger's procedure immediately before the
// trigger itself, executing both before moving on.
func (l *Loader) CreateTriggers(ctx context.Context, cat *catalog.Catalog) error {
	opts := l.ddlOptions()
	for _, t := range cat.TableList() {
		for _, tg := range t.Triggers {
			if l.rewriteTrigger != nil {
				if err := l.rewriteTrigger(tg); err != nil {
					return fmt.Errorf("rewrite trigger %s: %w", tg.Name, err)
				}
			}
			l.progress.Log(fmt.Sprintf("create trigger %s on %s", tg.Name, t.QualifiedName()))
			if err := l.run(ctx, ddl.CreateProcedure(tg.Procedure)); err != nil {
				return err
			}
			if err := l.run(ctx, ddl.CreateTrigger(tg, opts)); err != nil {
				return err
			}
		}
	}
	return nil
}

// foreignKeySet walks every foreign key reachable from the catalog: each
// table's own keys plus keys hanging off index fk-deps. A key reachable
// both ways is visited once; depCount reports how many keys were only
// reachable through an index, which signals a cross-table dependency not
// visible by walking tables alone.
func foreignKeySet(cat *catalog.Catalog) (keys []*catalog.ForeignKey, depCount int) {
	seen := make(map[*catalog.ForeignKey]bool)
	for _, t := range cat.TableList() {
		for _, fk := range t.ForeignKeys {
			if !seen[fk] {
				seen[fk] = true
				keys = append(keys, fk)
			}
		}
	}
	for _, t := range cat.TableList() {
		for _, idx := range t.Indexes {
			for _, fk := range idx.FkDeps {
				if !seen[fk] {
					seen[fk] = true
					keys = append(keys, fk)
					depCount++
				}
			}
		}
	}
	return keys, depCount
}

// DropForeignKeys drops every foreign key in the catalog, including keys
// only reachable as index dependents.
func (l *Loader) DropForeignKeys(ctx context.Context, cat *catalog.Catalog, cascadeDrop bool) error {
	opts := l.ddlOptions()
	opts.Cascade = cascadeDrop
	keys, depCount := foreignKeySet(cat)
	if depCount > 0 {
		l.logger.Printf("%d foreign keys found only through index dependencies", depCount)
	}
	for _, fk := range keys {
		if err := l.run(ctx, ddl.DropForeignKey(fk, opts)); err != nil {
			return err
		}
	}
	return nil
}

// CreateForeignKeys recreates every foreign key in the catalog, including
// keys only reachable as index dependents.
func (l *Loader) CreateForeignKeys(ctx context.Context, cat *catalog.Catalog) (int, error) {
	opts := l.ddlOptions()
	keys, depCount := foreignKeySet(cat)
	if depCount > 0 {
		l.logger.Printf("%d foreign keys found only through index dependencies", depCount)
	}
	count := 0
	for _, fk := range keys {
		l.progress.Log(fmt.Sprintf("create foreign key %s", fk.Name))
		if err := l.run(ctx, ddl.CreateForeignKey(fk, opts)); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// TruncateTables renders one combined TRUNCATE for the resolved table set
// (a catalog, a schema, or a single table) and returns the table count.
func (l *Loader) TruncateTables(ctx context.Context, target catalog.TableLister) (int, error) {
	tables := target.TableList()
	if len(tables) == 0 {
		return 0, nil
	}
	if err := l.run(ctx, ddl.TruncateTables(tables, l.ddlOptions())); err != nil {
		return 0, err
	}
	return len(tables), nil
}

// ResolveTableOIDs fills in every table's backend OID after creation.
// Any miss is fatal: index naming cannot proceed with a partial mapping.
func (l *Loader) ResolveTableOIDs(ctx context.Context, cat *catalog.Catalog) error {
	names := make([]string, 0, len(cat.Schemas))
	for _, s := range cat.Schemas {
		names = append(names, s.Name)
	}
	oids, err := l.insp.TableOIDs(ctx, names)
	if err != nil {
		return err
	}
	for _, t := range cat.TableList() {
		oid, ok := oids[t.QualifiedName()]
		if !ok {
			return fmt.Errorf("%w: %s", ErrTableOIDNotFound, t.QualifiedName())
		}
		t.OID = oid
	}
	return nil
}

func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	// 42710 duplicate_object, 42P07 duplicate_table
	return errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07")
}

var _ Introspector = (*liveIntrospector)(nil)

// liveIntrospector adapts the database package to the Introspector surface.
type liveIntrospector struct {
	q database.Querier
}

func NewIntrospector(q database.Querier) Introspector {
	return &liveIntrospector{q: q}
}

func (li *liveIntrospector) ListSchemas(ctx context.Context) ([]string, error) {
	return database.ListSchemas(ctx, li.q)
}

func (li *liveIntrospector) TableOIDs(ctx context.Context, schemas []string) (map[string]uint32, error) {
	return database.TableOIDs(ctx, li.q, schemas)
}

func (li *liveIntrospector) ListIndexNames(ctx context.Context, schema, table string) ([]string, error) {
	return database.ListIndexNames(ctx, li.q, schema, table)
}
