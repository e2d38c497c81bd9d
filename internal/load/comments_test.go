package load

import (
	"context"
	"strings"
	"testing"
)

func TestCommentQuoteTagShape(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tag := commentQuoteTag()
		if len(tag) != 11 {
			t.Fatalf("tag %q has length %d, want 11", tag, len(tag))
		}
		if tag[5] != '_' {
			t.Fatalf("tag %q missing the separator", tag)
		}
		for j, c := range tag {
			if j == 5 {
				continue
			}
			if c < 'A' || c > 'Z' {
				t.Fatalf("tag %q carries non-uppercase byte at %d", tag, j)
			}
		}
		seen[tag] = true
	}
	if len(seen) < 2 {
		t.Errorf("50 tags produced %d distinct values", len(seen))
	}
}

func TestInstallComments(t *testing.T) {
	cat := shopCatalog()
	orders := cat.Schema("public").Tables[1]
	// Comment text is arbitrary and may itself contain dollar-quote syntax.
	orders.Comment = "orders; see $audit$ notes $$ and 'quotes'"
	orders.Columns[1].Comment = "references customers"

	exec := &fakeExec{}
	l := newTestLoader(Options{}, exec, &fakeIntrospector{}, nil)

	n, err := l.InstallComments(context.Background(), cat)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("InstallComments = %d, want 2", n)
	}

	stmts := exec.statements()
	if len(stmts) != 2 {
		t.Fatalf("statements = %q", stmts)
	}
	delim := "$" + l.commentTag + "$"
	want := `COMMENT ON TABLE "public"."orders" IS ` + delim + orders.Comment + delim
	if stmts[0] != want {
		t.Errorf("table comment = %q, want %q", stmts[0], want)
	}
	if !strings.HasPrefix(stmts[1], `COMMENT ON COLUMN "public"."orders"."customer_id" IS `) {
		t.Errorf("column comment = %q", stmts[1])
	}
	// The delimiter must not occur inside the delimited text.
	if strings.Contains(orders.Comment, l.commentTag) {
		t.Errorf("run tag %q collides with comment text", l.commentTag)
	}
}

func TestInstallCommentsNothingToDo(t *testing.T) {
	cat := shopCatalog()
	exec := &fakeExec{}
	l := newTestLoader(Options{}, exec, &fakeIntrospector{}, nil)

	n, err := l.InstallComments(context.Background(), cat)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("InstallComments = %d, want 0", n)
	}
	if got := exec.statements(); len(got) != 0 {
		t.Errorf("statements = %q, want none", got)
	}
}
