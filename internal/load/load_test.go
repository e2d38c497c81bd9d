package load

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sahapasci/pgloader/internal/catalog"
)

// journal collects events across the shared connection and every worker
// connection, so tests can assert cross-connection ordering.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(event string) {
	j.mu.Lock()
	j.events = append(j.events, event)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

type fakeExec struct {
	mu    sync.Mutex
	stmts []string
	fail  map[string]error // substring match against the statement
	j     *journal
}

func (f *fakeExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for frag, err := range f.fail {
		if strings.Contains(sql, frag) {
			return pgconn.CommandTag{}, err
		}
	}
	f.stmts = append(f.stmts, sql)
	if f.j != nil {
		f.j.add("shared: " + sql)
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeExec) statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stmts...)
}

type fakeIntrospector struct {
	schemas []string
	oids    map[string]uint32
	indexes map[string][]string // "schema.table" -> index names
}

func (f *fakeIntrospector) ListSchemas(ctx context.Context) ([]string, error) {
	return f.schemas, nil
}

func (f *fakeIntrospector) TableOIDs(ctx context.Context, schemas []string) (map[string]uint32, error) {
	return f.oids, nil
}

func (f *fakeIntrospector) ListIndexNames(ctx context.Context, schema, table string) ([]string, error) {
	return f.indexes[schema+"."+table], nil
}

type fakeWorkerConn struct {
	j    *journal
	fail string // substring that makes Exec fail
}

func (c *fakeWorkerConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.fail != "" && strings.Contains(sql, c.fail) {
		return pgconn.CommandTag{}, errors.New("worker exec failed")
	}
	c.j.add("worker: " + sql)
	return pgconn.CommandTag{}, nil
}

func (c *fakeWorkerConn) Close(ctx context.Context) error {
	c.j.add("worker closed")
	return nil
}

func workerCloner(j *journal, fail string) Cloner {
	return func(ctx context.Context) (WorkerConn, error) {
		return &fakeWorkerConn{j: j, fail: fail}, nil
	}
}

func newTestLoader(opts Options, exec Executor, insp Introspector, clone Cloner) *Loader {
	return NewLoader(exec, insp, clone, opts,
		log.New(io.Discard, "", 0), NewProgress(nil, nil))
}

// shopCatalog builds the fixture used across the load tests: two tables in
// public, the orders foreign key hanging off the customers pkey index.
func shopCatalog() *catalog.Catalog {
	cat := &catalog.Catalog{Name: "shop"}
	pub := cat.AddSchema("public")

	customers := pub.AddTable("customers")
	customers.OID = 16401
	customers.AddColumn(&catalog.Column{Name: "id", TypeName: "bigint", NotNull: true})
	pkey := customers.AddIndex(&catalog.Index{Name: "customers_pkey", Columns: []string{"id"}, Unique: true, Primary: true})

	orders := pub.AddTable("orders")
	orders.OID = 16407
	orders.AddColumn(&catalog.Column{Name: "id", TypeName: "bigint", NotNull: true})
	orders.AddColumn(&catalog.Column{Name: "customer_id", TypeName: "bigint"})
	orders.AddIndex(&catalog.Index{Name: "orders_customer_idx", Columns: []string{"customer_id"}})
	fk := orders.AddForeignKey(&catalog.ForeignKey{
		Name: "orders_customer_fk", Columns: []string{"customer_id"},
		RefSchema: "public", RefTable: "customers", RefColumns: []string{"id"},
	})
	pkey.FkDeps = append(pkey.FkDeps, fk)

	return cat
}

func TestCreateSchemasSkipsExisting(t *testing.T) {
	cat := &catalog.Catalog{}
	cat.AddSchema("public")
	cat.AddSchema("audit")

	exec := &fakeExec{}
	insp := &fakeIntrospector{schemas: []string{"public"}}
	l := newTestLoader(Options{}, exec, insp, nil)

	if err := l.CreateSchemas(context.Background(), cat, false); err != nil {
		t.Fatal(err)
	}
	stmts := exec.statements()
	if len(stmts) != 1 || stmts[0] != `CREATE SCHEMA "audit"` {
		t.Errorf("statements = %q, want only the audit create", stmts)
	}

	// Second run against a target where both schemas now exist issues
	// nothing at all.
	exec2 := &fakeExec{}
	insp.schemas = []string{"public", "audit"}
	l2 := newTestLoader(Options{}, exec2, insp, nil)
	if err := l2.CreateSchemas(context.Background(), cat, false); err != nil {
		t.Fatal(err)
	}
	if got := exec2.statements(); len(got) != 0 {
		t.Errorf("rerun issued %q, want nothing", got)
	}
}

func TestCreateSchemasIncludeDrop(t *testing.T) {
	cat := &catalog.Catalog{}
	cat.AddSchema("public")
	cat.AddSchema("audit")

	exec := &fakeExec{}
	insp := &fakeIntrospector{schemas: []string{"public"}}
	l := newTestLoader(Options{}, exec, insp, nil)

	if err := l.CreateSchemas(context.Background(), cat, true); err != nil {
		t.Fatal(err)
	}
	want := []string{
		`DROP SCHEMA IF EXISTS "public" CASCADE`,
		`CREATE SCHEMA "public"`,
		`CREATE SCHEMA "audit"`,
	}
	got := exec.statements()
	if len(got) != len(want) {
		t.Fatalf("statements = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCreateSqlTypesDeduped(t *testing.T) {
	cat := &catalog.Catalog{}
	pub := cat.AddSchema("public")
	mood := &catalog.SqlType{Name: "mood", Definition: "ENUM ('sad', 'ok')"}
	a := pub.AddTable("a")
	a.AddColumn(&catalog.Column{Name: "feel", TypeName: "mood", SqlType: mood})
	b := pub.AddTable("b")
	b.AddColumn(&catalog.Column{Name: "feel", TypeName: "mood", SqlType: mood})

	exec := &fakeExec{}
	l := newTestLoader(Options{}, exec, &fakeIntrospector{}, nil)
	if err := l.CreateSqlTypes(context.Background(), cat); err != nil {
		t.Fatal(err)
	}
	if got := exec.statements(); len(got) != 1 {
		t.Errorf("statements = %q, want one CREATE TYPE", got)
	}
}

func TestCreateSqlTypesDuplicateTolerated(t *testing.T) {
	cat := &catalog.Catalog{}
	pub := cat.AddSchema("public")
	tbl := pub.AddTable("a")
	tbl.AddColumn(&catalog.Column{Name: "feel", TypeName: "mood",
		SqlType: &catalog.SqlType{Name: "mood", Definition: "ENUM ('sad')"}})

	dup := &pgconn.PgError{Code: "42710", Message: "type already exists"}

	exec := &fakeExec{fail: map[string]error{"CREATE TYPE": dup}}
	l := newTestLoader(Options{IfNotExists: true}, exec, &fakeIntrospector{}, nil)
	if err := l.CreateSqlTypes(context.Background(), cat); err != nil {
		t.Errorf("duplicate type not tolerated under ifNotExists: %v", err)
	}

	exec = &fakeExec{fail: map[string]error{"CREATE TYPE": dup}}
	l = newTestLoader(Options{}, exec, &fakeIntrospector{}, nil)
	if err := l.CreateSqlTypes(context.Background(), cat); err == nil {
		t.Errorf("duplicate type swallowed without ifNotExists")
	}
}

func TestCreateTablesAndViews(t *testing.T) {
	cat := shopCatalog()
	cat.Schema("public").AddView("recent_orders", "SELECT * FROM public.orders")

	exec := &fakeExec{}
	l := newTestLoader(Options{IncludeDrop: true}, exec, &fakeIntrospector{}, nil)

	n, err := l.CreateTables(context.Background(), cat)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CreateTables = %d, want 2", n)
	}

	v, err := l.CreateViews(context.Background(), cat)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Errorf("CreateViews = %d, want 1", v)
	}

	stmts := exec.statements()
	// IncludeDrop pairs each create with a preceding cascade drop.
	if len(stmts) != 6 {
		t.Fatalf("statements = %q, want drop+create per object", stmts)
	}
	if !strings.HasPrefix(stmts[0], "DROP TABLE IF EXISTS ") || !strings.HasSuffix(stmts[0], " CASCADE") {
		t.Errorf("first statement = %q, want cascading table drop", stmts[0])
	}
}

func TestCreateTriggersRunsRewriteHook(t *testing.T) {
	cat := shopCatalog()
	orders := cat.Schema("public").Tables[1]
	orders.AddTrigger(&catalog.Trigger{
		Name: "orders_audit", Timing: "AFTER", Event: "INSERT",
		Procedure: &catalog.TriggerProcedure{Schema: "public", Name: "audit_orders",
			Body: "CREATE FUNCTION public.audit_orders() ... LANGUAGE sql"},
	})

	exec := &fakeExec{}
	l := newTestLoader(Options{}, exec, &fakeIntrospector{}, nil)
	l.WithTriggerRewriter(func(tg *catalog.Trigger) error {
		tg.Procedure.Body = strings.Replace(tg.Procedure.Body, "LANGUAGE sql", "LANGUAGE plpgsql", 1)
		return nil
	})

	if err := l.CreateTriggers(context.Background(), cat); err != nil {
		t.Fatal(err)
	}
	stmts := exec.statements()
	if len(stmts) != 2 {
		t.Fatalf("statements = %q, want procedure then trigger", stmts)
	}
	if !strings.Contains(stmts[0], "LANGUAGE plpgsql") {
		t.Errorf("procedure body not rewritten: %q", stmts[0])
	}
	if !strings.HasPrefix(stmts[1], "CREATE TRIGGER ") {
		t.Errorf("second statement = %q, want the trigger create", stmts[1])
	}
}

func TestForeignKeySetDedupes(t *testing.T) {
	cat := shopCatalog()

	// The orders fk is reachable both from its owning table and from the
	// customers pkey fk-deps; it must be visited once and not counted as
	// dep-only.
	keys, depCount := foreignKeySet(cat)
	if len(keys) != 1 {
		t.Fatalf("foreignKeySet = %d keys, want 1", len(keys))
	}
	if depCount != 0 {
		t.Errorf("depCount = %d, want 0", depCount)
	}

	// A key hanging only off an index (owned by a table outside the
	// catalog selection) is still collected, and reported as dep-only.
	other := &catalog.Catalog{}
	ext := other.AddSchema("ext").AddTable("shipments")
	extFk := ext.AddForeignKey(&catalog.ForeignKey{
		Name: "shipments_customer_fk", Columns: []string{"customer_id"},
		RefSchema: "public", RefTable: "customers", RefColumns: []string{"id"},
	})
	pkey := cat.Schema("public").Tables[0].Indexes[0]
	pkey.FkDeps = append(pkey.FkDeps, extFk)

	keys, depCount = foreignKeySet(cat)
	if len(keys) != 2 {
		t.Fatalf("foreignKeySet = %d keys, want 2", len(keys))
	}
	if depCount != 1 {
		t.Errorf("depCount = %d, want 1", depCount)
	}
}

func TestCreateForeignKeys(t *testing.T) {
	cat := shopCatalog()
	exec := &fakeExec{}
	l := newTestLoader(Options{}, exec, &fakeIntrospector{}, nil)

	n, err := l.CreateForeignKeys(context.Background(), cat)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("CreateForeignKeys = %d, want 1", n)
	}
	stmts := exec.statements()
	if len(stmts) != 1 || !strings.Contains(stmts[0], `ADD CONSTRAINT "orders_customer_fk"`) {
		t.Errorf("statements = %q", stmts)
	}
}

func TestTruncateTables(t *testing.T) {
	cat := shopCatalog()
	exec := &fakeExec{}
	l := newTestLoader(Options{}, exec, &fakeIntrospector{}, nil)

	n, err := l.TruncateTables(context.Background(), cat)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("TruncateTables = %d, want 2", n)
	}
	stmts := exec.statements()
	if len(stmts) != 1 {
		t.Fatalf("statements = %q, want one combined TRUNCATE", stmts)
	}
	if stmts[0] != `TRUNCATE "public"."customers", "public"."orders"` {
		t.Errorf("statement = %q", stmts[0])
	}

	// A single table resolves through the same interface.
	exec2 := &fakeExec{}
	l2 := newTestLoader(Options{}, exec2, &fakeIntrospector{}, nil)
	n, err = l2.TruncateTables(context.Background(), cat.Schema("public").Tables[1])
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("single-table truncate = %d, want 1", n)
	}

	// An empty selection issues nothing.
	exec3 := &fakeExec{}
	l3 := newTestLoader(Options{}, exec3, &fakeIntrospector{}, nil)
	n, err = l3.TruncateTables(context.Background(), &catalog.Catalog{})
	if err != nil || n != 0 {
		t.Errorf("empty truncate = (%d, %v), want (0, nil)", n, err)
	}
	if got := exec3.statements(); len(got) != 0 {
		t.Errorf("empty truncate issued %q", got)
	}
}

func TestResolveTableOIDs(t *testing.T) {
	cat := shopCatalog()
	for _, tbl := range cat.TableList() {
		tbl.OID = 0
	}

	insp := &fakeIntrospector{oids: map[string]uint32{
		"public.customers": 24001,
		"public.orders":    24002,
	}}
	l := newTestLoader(Options{}, &fakeExec{}, insp, nil)
	if err := l.ResolveTableOIDs(context.Background(), cat); err != nil {
		t.Fatal(err)
	}
	if got := cat.Schema("public").Tables[0].OID; got != 24001 {
		t.Errorf("customers OID = %d, want 24001", got)
	}

	// A missing table is fatal, not skipped.
	delete(insp.oids, "public.orders")
	err := l.ResolveTableOIDs(context.Background(), cat)
	if !errors.Is(err, ErrTableOIDNotFound) {
		t.Errorf("err = %v, want ErrTableOIDNotFound", err)
	}
	if err != nil && !strings.Contains(err.Error(), "public.orders") {
		t.Errorf("err = %v, want the missing table named", err)
	}
}

func TestIsDuplicateObject(t *testing.T) {
	if !isDuplicateObject(&pgconn.PgError{Code: "42710"}) {
		t.Errorf("42710 not recognized")
	}
	if !isDuplicateObject(&pgconn.PgError{Code: "42P07"}) {
		t.Errorf("42P07 not recognized")
	}
	if isDuplicateObject(&pgconn.PgError{Code: "23505"}) {
		t.Errorf("unique violation misread as duplicate object")
	}
	if isDuplicateObject(errors.New("plain")) {
		t.Errorf("non-pg error misread as duplicate object")
	}
}
