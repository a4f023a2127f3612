package ids

import "testing"

func TestDeterministicIsStable(t *testing.T) {
	a := Deterministic("tenant-1", "document", "doc-42")
	b := Deterministic("tenant-1", "document", "doc-42")
	if a != b {
		t.Fatalf("Deterministic should be stable across calls, got %s != %s", a, b)
	}
}

func TestDeterministicDistinguishesTenant(t *testing.T) {
	a := Deterministic("tenant-1", "document", "doc-42")
	b := Deterministic("tenant-2", "document", "doc-42")
	if a == b {
		t.Fatal("Deterministic should vary across tenants")
	}
}

func TestDeterministicDistinguishesSchema(t *testing.T) {
	a := Deterministic("tenant-1", "document", "doc-42")
	b := Deterministic("tenant-1", "note", "doc-42")
	if a == b {
		t.Fatal("Deterministic should vary across schema short names")
	}
}

func TestDeterministicDistinguishesKey(t *testing.T) {
	a := Deterministic("tenant-1", "document", "doc-42")
	b := Deterministic("tenant-1", "document", "doc-43")
	if a == b {
		t.Fatal("Deterministic should vary across key values")
	}
}

func TestNewIsRandom(t *testing.T) {
	a := New()
	b := New()
	if a == b {
		t.Fatal("New should not return the same id twice")
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := New()
	got, err := Parse(want.String())
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if got != want {
		t.Fatalf("Parse(%s) = %s", want, got)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("Parse should reject a malformed uuid")
	}
}
