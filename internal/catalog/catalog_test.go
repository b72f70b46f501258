package catalog

import "testing"

// TestTableName verifies the snake_case conversion used for table names.
func TestTableName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Offender Profile", "offender_profile"},
		{"Probation and Parole Client Profile", "probation_and_parole_client_profile"},
		{"Court Commmitment", "court_commmitment"},
		{"  Foo--Bar  ", "foo_bar"},
		{"ABC123", "abc123"},
		{"__x__", "x"},
		{"", ""},
		{"Café Menu", "caf_menu"},
	}
	for _, tc := range tests {
		if got := TableName(tc.in); got != tc.want {
			t.Fatalf("TableName(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestCatalogLookup verifies lookups are case-insensitive and that every
// catalog entry carries a download URL derived from its id.
func TestCatalogLookup(t *testing.T) {
	t.Parallel()

	all := All()
	if len(all) != 12 {
		t.Fatalf("len(All())=%d, want 12", len(all))
	}
	for _, f := range all {
		got, ok := Lookup(f.ID)
		if !ok || got.ID != f.ID {
			t.Fatalf("Lookup(%q)=%v,%v", f.ID, got, ok)
		}
		if want := baseURL + f.ID + ".zip"; f.URL != want {
			t.Fatalf("%s URL=%q, want %q", f.ID, f.URL, want)
		}
	}

	ref, ok := Lookup("ofnt3aa1")
	if !ok || ref.Name != "Offender Profile" {
		t.Fatalf("Lookup(lowercase)=%v,%v", ref, ok)
	}
	if ref.Table() != "offender_profile" {
		t.Fatalf("Table()=%q", ref.Table())
	}
	if _, ok := Lookup("NOPE"); ok {
		t.Fatalf("Lookup(NOPE) should fail")
	}
}

// TestOthers verifies the reference file is excluded and order is kept.
func TestOthers(t *testing.T) {
	t.Parallel()

	others := Others(DefaultReference)
	if len(others) != 11 {
		t.Fatalf("len(Others)=%d, want 11", len(others))
	}
	for _, f := range others {
		if f.ID == DefaultReference {
			t.Fatalf("reference %s must be excluded", DefaultReference)
		}
	}
	if others[0].ID != "APPT7AA1" {
		t.Fatalf("first other=%s, want APPT7AA1", others[0].ID)
	}
}
