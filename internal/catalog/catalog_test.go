package catalog

import "testing"

func buildCatalog() *Catalog {
	cat := &Catalog{Name: "shop"}

	pub := cat.AddSchema("public")
	orders := pub.AddTable("orders")
	mood := &SqlType{Name: "mood", Definition: "ENUM ('sad', 'ok', 'happy')"}
	orders.AddColumn(&Column{Name: "id", TypeName: "bigint", NotNull: true})
	orders.AddColumn(&Column{Name: "feel", TypeName: "mood", SqlType: mood})
	orders.AddIndex(&Index{Name: "orders_pkey", Columns: []string{"id"}, Unique: true, Primary: true})

	customers := pub.AddTable("customers")
	customers.AddColumn(&Column{Name: "feel", TypeName: "mood", SqlType: mood})
	customers.AddIndex(&Index{Name: "customers_pkey", Columns: []string{"id"}, Unique: true, Primary: true})
	customers.AddIndex(&Index{Name: "customers_feel_idx", Columns: []string{"feel"}})

	audit := cat.AddSchema("audit")
	audit.AddTable("events")

	return cat
}

func TestAddSchemaDedupes(t *testing.T) {
	cat := &Catalog{}
	a := cat.AddSchema("public")
	b := cat.AddSchema("public")
	if a != b {
		t.Errorf("AddSchema created a duplicate schema")
	}
	if len(cat.Schemas) != 1 {
		t.Errorf("len(Schemas) = %d, want 1", len(cat.Schemas))
	}
}

func TestTableListVariants(t *testing.T) {
	cat := buildCatalog()

	if got := len(cat.TableList()); got != 3 {
		t.Errorf("catalog TableList = %d tables, want 3", got)
	}
	if got := len(cat.Schema("public").TableList()); got != 2 {
		t.Errorf("schema TableList = %d tables, want 2", got)
	}
	orders := cat.Schema("public").Tables[0]
	if got := orders.TableList(); len(got) != 1 || got[0] != orders {
		t.Errorf("table TableList = %v", got)
	}
}

func TestBackPointers(t *testing.T) {
	cat := buildCatalog()
	for _, s := range cat.Schemas {
		for _, tbl := range s.Tables {
			if tbl.Schema != s {
				t.Errorf("table %s has wrong schema back-pointer", tbl.Name)
			}
			for _, idx := range tbl.Indexes {
				if idx.Table != tbl {
					t.Errorf("index %s has wrong table back-pointer", idx.Name)
				}
			}
		}
	}
}

func TestCountIndexes(t *testing.T) {
	cat := buildCatalog()
	if got := cat.CountIndexes(); got != 3 {
		t.Errorf("CountIndexes = %d, want 3", got)
	}
}

func TestDistinctSqlTypes(t *testing.T) {
	cat := buildCatalog()

	// The mood enum is referenced by columns on two tables but must be
	// created exactly once.
	types := cat.DistinctSqlTypes()
	if len(types) != 1 {
		t.Fatalf("DistinctSqlTypes = %d types, want 1", len(types))
	}
	if types[0].Name != "mood" {
		t.Errorf("type name = %q, want mood", types[0].Name)
	}
}

func TestQualifiedName(t *testing.T) {
	cat := buildCatalog()
	orders := cat.Schema("public").Tables[0]
	if got := orders.QualifiedName(); got != "public.orders" {
		t.Errorf("QualifiedName = %q", got)
	}
}
