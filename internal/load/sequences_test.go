package load

import (
	"context"
	"errors"
	"testing"
)

func TestResetSequencesRequiresResolvedOIDs(t *testing.T) {
	cat := shopCatalog()
	for _, tbl := range cat.TableList() {
		tbl.OID = 0
	}

	l := newTestLoader(Options{}, &fakeExec{}, &fakeIntrospector{}, nil)

	// An unresolved table set must fail before any statement runs; the
	// nil connection is never touched. Falling through would widen the
	// reset to every sequence in the database.
	_, err := l.ResetSequences(context.Background(), nil, cat)
	if !errors.Is(err, ErrTableOIDNotFound) {
		t.Errorf("err = %v, want ErrTableOIDNotFound", err)
	}
	for _, ph := range l.progress.Snapshot().Phases {
		if ph.Name == "Reset Sequences" {
			t.Errorf("phase recorded despite the early failure")
		}
	}
}

func TestParseSequenceResetCount(t *testing.T) {
	tests := []struct {
		payload string
		want    int
		wantErr bool
	}{
		// Zero is a legitimate count, distinct from no notification.
		{"0", 0, false},
		{"42", 42, false},
		{"", 0, true},
		{"lots", 0, true},
	}
	for _, tt := range tests {
		got, err := parseSequenceResetCount(tt.payload)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseSequenceResetCount(%q) = %d, want error", tt.payload, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSequenceResetCount(%q): %v", tt.payload, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSequenceResetCount(%q) = %d, want %d", tt.payload, got, tt.want)
		}
	}
}
