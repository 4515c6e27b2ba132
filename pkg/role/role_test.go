package role

import "testing"

func TestOrdinal(t *testing.T) {
	cases := map[Role]string{
		Concept:        "00",
		Builder:        "01",
		AssetRegistrar: "01a",
		Texture:        "02",
		Lighting:       "02a",
		Validator:      "02b",
		Render:         "03",
		Animation:      "04",
		Save:           "05",
		Reviewer:       "",
	}
	for r, want := range cases {
		if got := r.Ordinal(); got != want {
			t.Errorf("%s.Ordinal() = %q, want %q", r, got, want)
		}
	}
}

func TestParseSetSkipsUnknown(t *testing.T) {
	s := ParseSet([]string{"concept", "builder", "not-a-role"})
	if len(s) != 2 {
		t.Fatalf("expected 2 roles, got %d: %v", len(s), s)
	}
	if !s.Contains(Concept) || !s.Contains(Builder) {
		t.Errorf("expected concept and builder, got %v", s)
	}
	if s.Contains(Role("not-a-role")) {
		t.Error("unknown role should not be retained")
	}
}
