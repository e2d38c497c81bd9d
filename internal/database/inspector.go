package database

import (
	"context"
	"fmt"

	"github.com/sahapasci/pgloader/internal/catalog"
)

// ListSchemas returns the user-visible schema names present in the target.
func ListSchemas(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT nspname
		FROM pg_namespace
		WHERE nspname NOT IN ('pg_catalog', 'information_schema')
		  AND nspname NOT LIKE 'pg_toast%'
		ORDER BY nspname`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TableOIDs maps schema-qualified table names to their backend OIDs for
// every ordinary table in the given schemas. The loader resolves OIDs once,
// right after table creation; generated index names embed them.
func TableOIDs(ctx context.Context, q Querier, schemas []string) (map[string]uint32, error) {
	rows, err := q.Query(ctx, `
		SELECT n.nspname, c.relname, c.oid
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE c.relkind IN ('r', 'p')
		  AND n.nspname = ANY($1)`, schemas)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint32)
	for rows.Next() {
		var schema, name string
		var oid uint32
		if err := rows.Scan(&schema, &name, &oid); err != nil {
			return nil, err
		}
		out[schema+"."+name] = oid
	}
	return out, rows.Err()
}

// ListIndexNames returns the names of non-primary indexes currently
// existing on a table in the target. The drop gate counts these before
// deciding whether indexes get rebuilt at all.
func ListIndexNames(ctx context.Context, q Querier, schema, table string) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT i.relname
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		WHERE n.nspname=$1 AND t.relname=$2
		  AND NOT ix.indisprimary
		ORDER BY i.relname`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FetchCatalog introspects the source database and builds the catalog
// model for the named schemas. Index fk-deps are resolved in-memory once
// every table's keys are known.
func FetchCatalog(ctx context.Context, q Querier, schemas []string) (*catalog.Catalog, error) {
	cat := &catalog.Catalog{}
	for _, name := range schemas {
		sch := cat.AddSchema(name)

		tables, err := listTables(ctx, q, name)
		if err != nil {
			return nil, err
		}
		for _, tbl := range tables {
			t := sch.AddTable(tbl)
			if err := fetchTable(ctx, q, t); err != nil {
				return nil, fmt.Errorf("table %s.%s: %w", name, tbl, err)
			}
		}

		views, err := fetchViews(ctx, q, name)
		if err != nil {
			return nil, err
		}
		for _, v := range views {
			sch.AddView(v.name, v.definition)
		}
	}
	resolveIndexFkDeps(cat)
	return cat, nil
}

func listTables(ctx context.Context, q Querier, schema string) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT tablename FROM pg_tables WHERE schemaname=$1 ORDER BY tablename`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func fetchTable(ctx context.Context, q Querier, t *catalog.Table) error {
	if err := fetchColumns(ctx, q, t); err != nil {
		return err
	}
	if err := fetchIndexes(ctx, q, t); err != nil {
		return err
	}
	if err := fetchForeignKeys(ctx, q, t); err != nil {
		return err
	}
	if err := fetchTriggers(ctx, q, t); err != nil {
		return err
	}
	return fetchComments(ctx, q, t)
}

func fetchColumns(ctx context.Context, q Querier, t *catalog.Table) error {
	rows, err := q.Query(ctx, `
		SELECT a.attname,
			   pg_catalog.format_type(a.atttypid, a.atttypmod) AS data_type,
			   a.attnotnull,
			   pg_get_expr(ad.adbin, ad.adrelid) AS default_val,
			   tn.nspname AS type_schema,
			   ty.typname AS type_name,
			   ty.typtype
		FROM pg_attribute a
		JOIN pg_type ty ON ty.oid = a.atttypid
		JOIN pg_namespace tn ON tn.oid = ty.typnamespace
		LEFT JOIN pg_attrdef ad ON a.attrelid = ad.adrelid AND a.attnum = ad.adnum
		WHERE a.attrelid = $1::regclass
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum`,
		t.QualifiedName(),
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	type pending struct {
		col        *catalog.Column
		typeSchema string
		typeName   string
		typeKind   string
	}
	var pendings []pending
	for rows.Next() {
		var col catalog.Column
		var notNull bool
		var def *string
		var typeSchema, typeName, typeKind string
		if err := rows.Scan(&col.Name, &col.TypeName, &notNull, &def, &typeSchema, &typeName, &typeKind); err != nil {
			return err
		}
		col.NotNull = notNull
		if def != nil {
			col.Default = *def
		}
		c := t.AddColumn(&col)
		if typeSchema != "pg_catalog" && typeKind == "e" {
			pendings = append(pendings, pending{col: c, typeSchema: typeSchema, typeName: typeName, typeKind: typeKind})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range pendings {
		def, err := enumDefinition(ctx, q, p.typeSchema, p.typeName)
		if err != nil {
			return err
		}
		p.col.SqlType = &catalog.SqlType{Schema: p.typeSchema, Name: p.typeName, Definition: def}
	}
	return nil
}

func enumDefinition(ctx context.Context, q Querier, schema, name string) (string, error) {
	rows, err := q.Query(ctx, `
		SELECT e.enumlabel
		FROM pg_type t
		JOIN pg_enum e ON t.oid = e.enumtypid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname=$1 AND t.typname=$2
		ORDER BY e.enumsortorder`, schema, name)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	labels := ""
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return "", err
		}
		if labels != "" {
			labels += ", "
		}
		labels += "'" + label + "'"
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("ENUM (%s)", labels), nil
}

func fetchIndexes(ctx context.Context, q Querier, t *catalog.Table) error {
	rows, err := q.Query(ctx, `
		SELECT i.relname,
			   ix.indisunique,
			   ix.indisprimary,
			   (SELECT array_agg(a.attname ORDER BY k.ord)
				  FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
				  JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum),
			   coalesce(pg_get_expr(ix.indpred, ix.indrelid), '')
		FROM pg_index ix
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_class c ON c.oid = ix.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname=$1 AND c.relname=$2
		ORDER BY i.relname`, t.Schema.Name, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var idx catalog.Index
		if err := rows.Scan(&idx.Name, &idx.Unique, &idx.Primary, &idx.Columns, &idx.Filter); err != nil {
			return err
		}
		t.AddIndex(&idx)
	}
	return rows.Err()
}

var fkActions = map[string]string{
	"a": "",
	"r": "RESTRICT",
	"c": "CASCADE",
	"n": "SET NULL",
	"d": "SET DEFAULT",
}

func fetchForeignKeys(ctx context.Context, q Querier, t *catalog.Table) error {
	rows, err := q.Query(ctx, `
		SELECT con.conname,
			   (SELECT array_agg(att.attname ORDER BY u.ord)
				  FROM unnest(con.conkey) WITH ORDINALITY u(attnum, ord)
				  JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = u.attnum),
			   rn.nspname,
			   rc.relname,
			   (SELECT array_agg(att.attname ORDER BY u.ord)
				  FROM unnest(con.confkey) WITH ORDINALITY u(attnum, ord)
				  JOIN pg_attribute att ON att.attrelid = con.confrelid AND att.attnum = u.attnum),
			   con.confupdtype,
			   con.confdeltype
		FROM pg_constraint con
		JOIN pg_class rc ON rc.oid = con.confrelid
		JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		WHERE con.conrelid = $1::regclass
		  AND con.contype = 'f'
		ORDER BY con.conname`, t.QualifiedName())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var fk catalog.ForeignKey
		var upd, del string
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.RefSchema, &fk.RefTable, &fk.RefColumns, &upd, &del); err != nil {
			return err
		}
		fk.OnUpdate = fkActions[upd]
		fk.OnDelete = fkActions[del]
		t.AddForeignKey(&fk)
	}
	return rows.Err()
}

func fetchTriggers(ctx context.Context, q Querier, t *catalog.Table) error {
	rows, err := q.Query(ctx, `
		SELECT tg.tgname,
			   CASE WHEN tg.tgtype & 2 > 0 THEN 'BEFORE'
					WHEN tg.tgtype & 64 > 0 THEN 'INSTEAD OF'
					ELSE 'AFTER' END,
			   CASE WHEN tg.tgtype & 4 > 0 THEN 'INSERT'
					WHEN tg.tgtype & 8 > 0 THEN 'DELETE'
					WHEN tg.tgtype & 16 > 0 THEN 'UPDATE'
					ELSE 'TRUNCATE' END,
			   pn.nspname,
			   p.proname,
			   pg_get_functiondef(p.oid)
		FROM pg_trigger tg
		JOIN pg_proc p ON p.oid = tg.tgfoid
		JOIN pg_namespace pn ON pn.oid = p.pronamespace
		WHERE tg.tgrelid = $1::regclass
		  AND NOT tg.tgisinternal
		ORDER BY tg.tgname`, t.QualifiedName())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var tg catalog.Trigger
		var proc catalog.TriggerProcedure
		if err := rows.Scan(&tg.Name, &tg.Timing, &tg.Event, &proc.Schema, &proc.Name, &proc.Body); err != nil {
			return err
		}
		tg.Procedure = &proc
		t.AddTrigger(&tg)
	}
	return rows.Err()
}

func fetchComments(ctx context.Context, q Querier, t *catalog.Table) error {
	var comment *string
	err := q.QueryRow(ctx, `SELECT obj_description($1::regclass, 'pg_class')`, t.QualifiedName()).Scan(&comment)
	if err == nil && comment != nil {
		t.Comment = *comment
	}

	rows, err := q.Query(ctx, `
		SELECT a.attname, col_description(a.attrelid, a.attnum)
		FROM pg_attribute a
		WHERE a.attrelid = $1::regclass
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		  AND col_description(a.attrelid, a.attnum) IS NOT NULL`, t.QualifiedName())
	if err != nil {
		return err
	}
	defer rows.Close()

	comments := make(map[string]string)
	for rows.Next() {
		var name, c string
		if err := rows.Scan(&name, &c); err != nil {
			return err
		}
		comments[name] = c
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, col := range t.Columns {
		if c, ok := comments[col.Name]; ok {
			col.Comment = c
		}
	}
	return nil
}

type viewDef struct {
	name       string
	definition string
}

func fetchViews(ctx context.Context, q Querier, schema string) ([]viewDef, error) {
	rows, err := q.Query(ctx, `SELECT viewname, pg_get_viewdef(schemaname || '.' || viewname, true) FROM pg_views WHERE schemaname=$1 ORDER BY viewname`, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []viewDef
	for rows.Next() {
		var v viewDef
		if err := rows.Scan(&v.name, &v.definition); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// resolveIndexFkDeps links every unique index to the foreign keys that
// reference exactly its column set. Those keys must be dropped before the
// index is dropped and recreated once it is rebuilt.
func resolveIndexFkDeps(cat *catalog.Catalog) {
	for _, t := range cat.TableList() {
		for _, idx := range t.Indexes {
			if !idx.Unique && !idx.Primary {
				continue
			}
			for _, other := range cat.TableList() {
				for _, fk := range other.ForeignKeys {
					if fk.RefSchema == t.Schema.Name && fk.RefTable == t.Name && sameColumns(fk.RefColumns, idx.Columns) {
						idx.FkDeps = append(idx.FkDeps, fk)
					}
				}
			}
		}
	}
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
