package ddl

import (
	"fmt"
	"strings"

	"github.com/sahapasci/pgloader/internal/catalog"
	"github.com/sahapasci/pgloader/internal/database"
)

// IdentifierCase controls how catalog names become SQL identifiers.
type IdentifierCase int

const (
	// CaseQuote keeps names exactly as the catalog carries them.
	CaseQuote IdentifierCase = iota
	// CaseDowncase lowercases names before quoting.
	CaseDowncase
)

// Options are threaded explicitly through every render call; there is no
// ambient rendering state.
type Options struct {
	IfNotExists        bool
	Cascade            bool
	PreserveIndexNames bool
	IdentifierCase     IdentifierCase
}

// Statement is one rendered DDL operation. Upgrade is only set for indexes
// flagged as primary-key candidates: it must not run at index-creation time
// but in the sequential post-phase, after the worker pool has drained.
type Statement struct {
	SQL     string
	Upgrade string
}

// Object is the closed set of catalog kinds the builder renders. New DDL
// object kinds are rare; keeping the variant closed means a missing
// renderer shows up as an error instead of silently generated garbage.
type Object interface {
	ddlObject()
}

// The eight kinds.
type (
	SchemaObject     struct{ *catalog.Schema }
	TableObject      struct{ *catalog.Table }
	ViewObject       struct{ *catalog.View }
	SqlTypeObject    struct{ *catalog.SqlType }
	IndexObject      struct{ *catalog.Index }
	ForeignKeyObject struct{ *catalog.ForeignKey }
	TriggerObject    struct{ *catalog.Trigger }
	ProcedureObject  struct{ *catalog.TriggerProcedure }
)

func (SchemaObject) ddlObject()     {}
func (TableObject) ddlObject()      {}
func (ViewObject) ddlObject()       {}
func (SqlTypeObject) ddlObject()    {}
func (IndexObject) ddlObject()      {}
func (ForeignKeyObject) ddlObject() {}
func (TriggerObject) ddlObject()    {}
func (ProcedureObject) ddlObject()  {}

// RenderCreate renders the create statement for any catalog object kind.
func RenderCreate(obj Object, opts Options) (Statement, error) {
	switch o := obj.(type) {
	case SchemaObject:
		return Statement{SQL: CreateSchema(o.Schema, opts)}, nil
	case TableObject:
		return Statement{SQL: CreateTable(o.Table, opts)}, nil
	case ViewObject:
		return Statement{SQL: CreateView(o.View, opts)}, nil
	case SqlTypeObject:
		return Statement{SQL: CreateSqlType(o.SqlType, opts)}, nil
	case IndexObject:
		sql, upgrade := CreateIndex(o.Index, opts)
		return Statement{SQL: sql, Upgrade: upgrade}, nil
	case ForeignKeyObject:
		return Statement{SQL: CreateForeignKey(o.ForeignKey, opts)}, nil
	case TriggerObject:
		return Statement{SQL: CreateTrigger(o.Trigger, opts)}, nil
	case ProcedureObject:
		return Statement{SQL: CreateProcedure(o.TriggerProcedure)}, nil
	default:
		return Statement{}, fmt.Errorf("no create renderer for %T", obj)
	}
}

// RenderDrop renders the drop statement for any catalog object kind.
func RenderDrop(obj Object, opts Options) (string, error) {
	switch o := obj.(type) {
	case SchemaObject:
		return DropSchema(o.Schema, opts), nil
	case TableObject:
		return DropTable(o.Table, opts), nil
	case ViewObject:
		return DropView(o.View, opts), nil
	case SqlTypeObject:
		return DropSqlType(o.SqlType, opts), nil
	case IndexObject:
		return DropIndex(o.Index, opts), nil
	case ForeignKeyObject:
		return DropForeignKey(o.ForeignKey, opts), nil
	case TriggerObject:
		return DropTrigger(o.Trigger, opts), nil
	case ProcedureObject:
		return DropProcedure(o.TriggerProcedure, opts), nil
	default:
		return "", fmt.Errorf("no drop renderer for %T", obj)
	}
}

func ident(name string, opts Options) string {
	if opts.IdentifierCase == CaseDowncase {
		name = strings.ToLower(name)
	}
	return database.QuoteIdent(name)
}

func qualified(schema, name string, opts Options) string {
	return ident(schema, opts) + "." + ident(name, opts)
}

func tableName(t *catalog.Table, opts Options) string {
	return qualified(t.Schema.Name, t.Name, opts)
}

func ifNotExists(opts Options) string {
	if opts.IfNotExists {
		return "IF NOT EXISTS "
	}
	return ""
}

func cascade(opts Options) string {
	if opts.Cascade {
		return " CASCADE"
	}
	return ""
}

func CreateSchema(s *catalog.Schema, opts Options) string {
	return fmt.Sprintf("CREATE SCHEMA %s%s", ifNotExists(opts), ident(s.Name, opts))
}

func DropSchema(s *catalog.Schema, opts Options) string {
	return fmt.Sprintf("DROP SCHEMA IF EXISTS %s%s", ident(s.Name, opts), cascade(opts))
}

func CreateTable(t *catalog.Table, opts Options) string {
	defs := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		def := ident(col.Name, opts) + " " + col.TypeName
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		if col.NotNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE %s%s (%s)", ifNotExists(opts), tableName(t, opts), strings.Join(defs, ", "))
}

func DropTable(t *catalog.Table, opts Options) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s%s", tableName(t, opts), cascade(opts))
}

func CreateView(v *catalog.View, opts Options) string {
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS %s", qualified(v.Schema.Name, v.Name, opts), v.Definition)
}

func DropView(v *catalog.View, opts Options) string {
	return fmt.Sprintf("DROP VIEW IF EXISTS %s%s", qualified(v.Schema.Name, v.Name, opts), cascade(opts))
}

func CreateSqlType(st *catalog.SqlType, opts Options) string {
	name := ident(st.Name, opts)
	if st.Schema != "" {
		name = qualified(st.Schema, st.Name, opts)
	}
	return fmt.Sprintf("CREATE TYPE %s AS %s", name, st.Definition)
}

func DropSqlType(st *catalog.SqlType, opts Options) string {
	name := ident(st.Name, opts)
	if st.Schema != "" {
		name = qualified(st.Schema, st.Name, opts)
	}
	return fmt.Sprintf("DROP TYPE IF EXISTS %s%s", name, cascade(opts))
}

// maxIdentifierLength is the Postgres NAMEDATALEN limit.
const maxIdentifierLength = 63

// IndexName returns the effective index name. Unless original names are
// preserved, the table OID is embedded so that names stay unique within a
// schema even when the source system allowed duplicates across tables.
// When the combination exceeds the identifier limit, the semantic name is
// truncated, never the OID prefix.
func IndexName(idx *catalog.Index, opts Options) string {
	if opts.PreserveIndexNames {
		return idx.Name
	}
	prefix := fmt.Sprintf("idx_%d_", idx.Table.OID)
	name := idx.Name
	if len(prefix)+len(name) > maxIdentifierLength {
		name = name[:maxIdentifierLength-len(prefix)]
	}
	return prefix + name
}

// CreateIndex renders the build statement and, for primary-key candidates,
// the deferred upgrade statement. The upgrade acquires a table-level lock
// and must only run once every sibling index build has finished.
func CreateIndex(idx *catalog.Index, opts Options) (sql string, upgrade string) {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	cols := make([]string, 0, len(idx.Columns))
	for _, c := range idx.Columns {
		cols = append(cols, ident(c, opts))
	}
	name := IndexName(idx, opts)
	sql = fmt.Sprintf("CREATE %sINDEX %s%s ON %s (%s)",
		unique, ifNotExists(opts), ident(name, opts), tableName(idx.Table, opts), strings.Join(cols, ", "))
	if idx.Filter != "" {
		sql += " WHERE " + idx.Filter
	}
	if idx.Primary {
		upgrade = fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY USING INDEX %s",
			tableName(idx.Table, opts), ident(name, opts))
	}
	return sql, upgrade
}

func DropIndex(idx *catalog.Index, opts Options) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s%s",
		qualified(idx.Table.Schema.Name, IndexName(idx, opts), opts), cascade(opts))
}

func CreateForeignKey(fk *catalog.ForeignKey, opts Options) string {
	local := make([]string, 0, len(fk.Columns))
	for _, c := range fk.Columns {
		local = append(local, ident(c, opts))
	}
	ref := make([]string, 0, len(fk.RefColumns))
	for _, c := range fk.RefColumns {
		ref = append(ref, ident(c, opts))
	}
	sql := fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		tableName(fk.Table, opts), ident(fk.Name, opts),
		strings.Join(local, ", "),
		qualified(fk.RefSchema, fk.RefTable, opts),
		strings.Join(ref, ", "))
	if fk.OnUpdate != "" {
		sql += " ON UPDATE " + fk.OnUpdate
	}
	if fk.OnDelete != "" {
		sql += " ON DELETE " + fk.OnDelete
	}
	return sql
}

func DropForeignKey(fk *catalog.ForeignKey, opts Options) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT IF EXISTS %s%s",
		tableName(fk.Table, opts), ident(fk.Name, opts), cascade(opts))
}

func CreateTrigger(tg *catalog.Trigger, opts Options) string {
	proc := ident(tg.Procedure.Name, opts)
	if tg.Procedure.Schema != "" {
		proc = qualified(tg.Procedure.Schema, tg.Procedure.Name, opts)
	}
	return fmt.Sprintf("CREATE TRIGGER %s %s %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()",
		ident(tg.Name, opts), tg.Timing, tg.Event, tableName(tg.Table, opts), proc)
}

func DropTrigger(tg *catalog.Trigger, opts Options) string {
	return fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
		ident(tg.Name, opts), tableName(tg.Table, opts))
}

// CreateProcedure returns the procedure body as-is: trigger procedures
// carry their full CREATE FUNCTION source, rewritten upstream.
func CreateProcedure(p *catalog.TriggerProcedure) string {
	return p.Body
}

func DropProcedure(p *catalog.TriggerProcedure, opts Options) string {
	name := ident(p.Name, opts)
	if p.Schema != "" {
		name = qualified(p.Schema, p.Name, opts)
	}
	return fmt.Sprintf("DROP FUNCTION IF EXISTS %s()%s", name, cascade(opts))
}

// TruncateTables renders one combined statement covering every table.
func TruncateTables(tables []*catalog.Table, opts Options) string {
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, tableName(t, opts))
	}
	return "TRUNCATE " + strings.Join(names, ", ")
}

// DisableTriggers and EnableTriggers bracket bulk inserts; see the trigger
// guard in the load package for the scoping contract.
func DisableTriggers(t *catalog.Table, opts Options) string {
	return fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER ALL", tableName(t, opts))
}

func EnableTriggers(t *catalog.Table, opts Options) string {
	return fmt.Sprintf("ALTER TABLE %s ENABLE TRIGGER ALL", tableName(t, opts))
}

// CommentOnTable and CommentOnColumn delimit user-supplied text with a
// per-run random dollar-quote tag; comments can contain anything,
// including quote syntax, and this path has no parameter binding.
func CommentOnTable(t *catalog.Table, tag string, opts Options) string {
	return fmt.Sprintf("COMMENT ON TABLE %s IS $%s$%s$%s$", tableName(t, opts), tag, t.Comment, tag)
}

func CommentOnColumn(t *catalog.Table, col *catalog.Column, tag string, opts Options) string {
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS $%s$%s$%s$",
		tableName(t, opts), ident(col.Name, opts), tag, col.Comment, tag)
}
