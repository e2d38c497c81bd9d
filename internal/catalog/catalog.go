package catalog

import "fmt"

// Catalog is the in-memory model of the database to materialize. It is
// built once, before loading starts, and the loader treats it as read-only
// except for two mutations: table OID assignment and index renaming. Both
// happen before any SQL referencing those identifiers is generated.
type Catalog struct {
	Name    string
	Schemas []*Schema
}

type Schema struct {
	Name   string
	Tables []*Table
	Views  []*View
}

type Table struct {
	Schema  *Schema
	Name    string
	Comment string

	// OID is the backend identifier assigned after table creation. Zero
	// means "not resolved yet"; once set it stays fixed for the run.
	OID uint32

	Columns     []*Column
	Indexes     []*Index
	ForeignKeys []*ForeignKey
	Triggers    []*Trigger
}

type Column struct {
	Name     string
	TypeName string
	// SqlType is set when TypeName refers to a custom type that has to be
	// created before the table.
	SqlType    *SqlType
	Default    string
	NotNull    bool
	Comment    string
}

// SqlType is a named custom data type (enum, composite, domain). The same
// type may be referenced by columns of many tables; creation dedupes by
// name across the whole catalog.
type SqlType struct {
	Schema     string
	Name       string
	Definition string
}

type Index struct {
	Table *Table
	// Name may be rewritten once (OID-based) to guarantee uniqueness
	// within the schema.
	Name    string
	Columns []string
	Filter  string
	Unique  bool
	// Primary marks a unique index that gets upgraded to a primary key
	// constraint after the parallel build phase.
	Primary bool
	// FkDeps are foreign keys elsewhere in the catalog whose existence
	// depends on this index. They must be dropped before the index is
	// dropped and recreated after it is rebuilt.
	FkDeps []*ForeignKey
}

type ForeignKey struct {
	Table      *Table
	Name       string
	Columns    []string
	RefSchema  string
	RefTable   string
	RefColumns []string
	OnUpdate   string
	OnDelete   string
}

type Trigger struct {
	Table     *Table
	Name      string
	Timing    string // BEFORE, AFTER, INSTEAD OF
	Event     string // INSERT, UPDATE, DELETE, ...
	Procedure *TriggerProcedure
}

// TriggerProcedure is owned by its trigger and created immediately before it.
type TriggerProcedure struct {
	Schema string
	Name   string
	Body   string // full CREATE FUNCTION source
}

type View struct {
	Schema     *Schema
	Name       string
	Definition string
	Comment    string
}

// AddSchema appends a schema, keeping names unique within the catalog.
func (c *Catalog) AddSchema(name string) *Schema {
	for _, s := range c.Schemas {
		if s.Name == name {
			return s
		}
	}
	s := &Schema{Name: name}
	c.Schemas = append(c.Schemas, s)
	return s
}

func (c *Catalog) Schema(name string) *Schema {
	for _, s := range c.Schemas {
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (s *Schema) AddTable(name string) *Table {
	t := &Table{Schema: s, Name: name}
	s.Tables = append(s.Tables, t)
	return t
}

func (s *Schema) AddView(name, definition string) *View {
	v := &View{Schema: s, Name: name, Definition: definition}
	s.Views = append(s.Views, v)
	return v
}

func (t *Table) AddColumn(c *Column) *Column {
	t.Columns = append(t.Columns, c)
	return c
}

func (t *Table) AddIndex(idx *Index) *Index {
	idx.Table = t
	t.Indexes = append(t.Indexes, idx)
	return idx
}

func (t *Table) AddForeignKey(fk *ForeignKey) *ForeignKey {
	fk.Table = t
	t.ForeignKeys = append(t.ForeignKeys, fk)
	return fk
}

func (t *Table) AddTrigger(tg *Trigger) *Trigger {
	tg.Table = t
	t.Triggers = append(t.Triggers, tg)
	return tg
}

// QualifiedName returns the schema-qualified name, unquoted.
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("%s.%s", t.Schema.Name, t.Name)
}

func (v *View) QualifiedName() string {
	return fmt.Sprintf("%s.%s", v.Schema.Name, v.Name)
}

// TableLister is anything that resolves to a concrete set of tables: the
// whole catalog, a single schema, or a single table. Truncation and the
// sequence reset accept any of the three.
type TableLister interface {
	TableList() []*Table
}

func (c *Catalog) TableList() []*Table {
	var out []*Table
	for _, s := range c.Schemas {
		out = append(out, s.Tables...)
	}
	return out
}

func (s *Schema) TableList() []*Table { return s.Tables }

func (t *Table) TableList() []*Table { return []*Table{t} }

// CountIndexes returns the number of indexes across all tables, which is
// also the number of results the parallel build phase must drain.
func (c *Catalog) CountIndexes() int {
	n := 0
	for _, t := range c.TableList() {
		n += len(t.Indexes)
	}
	return n
}

// DistinctSqlTypes collects the custom types referenced by any column of
// any table, deduplicated by name. Each type is created exactly once no
// matter how many columns use it.
func (c *Catalog) DistinctSqlTypes() []*SqlType {
	seen := make(map[string]bool)
	var out []*SqlType
	for _, t := range c.TableList() {
		for _, col := range t.Columns {
			if col.SqlType == nil || seen[col.SqlType.Name] {
				continue
			}
			seen[col.SqlType.Name] = true
			out = append(out, col.SqlType)
		}
	}
	return out
}
