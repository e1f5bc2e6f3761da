package canonical

import (
	"math"
	"strings"
	"testing"
)

func TestCanonicalizeScalars(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"null", nil, "null"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"negative int", -7, "-7"},
		{"negative zero float", math.Copysign(0, -1), "0"},
		{"integer float", 5.0, "5"},
		{"fraction", 5.5, "5.5"},
		{"string with quote", `a"b`, `"a\"b"`},
		{"string with newline", "a\nb", `"a\nb"`},
		{"empty seq", []any{}, "[]"},
		{"seq", []any{1, 2, 3}, "[1,2,3]"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Canonicalize(c.in)
			if err != nil {
				t.Fatalf("Canonicalize(%v): %v", c.in, err)
			}
			if string(got) != c.want {
				t.Errorf("Canonicalize(%v) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestCanonicalizeMapKeyOrderIsStable(t *testing.T) {
	m1 := map[string]any{"b": 1, "a": 2, "c": 3}
	m2 := map[string]any{"c": 3, "a": 2, "b": 1}

	got1, err := Canonicalize(m1)
	if err != nil {
		t.Fatalf("Canonicalize(m1): %v", err)
	}
	got2, err := Canonicalize(m2)
	if err != nil {
		t.Fatalf("Canonicalize(m2): %v", err)
	}
	if string(got1) != string(got2) {
		t.Errorf("key-order permutation produced different output: %q vs %q", got1, got2)
	}
	want := `{"a":2,"b":1,"c":3}`
	if string(got1) != want {
		t.Errorf("Canonicalize(m1) = %q, want %q", got1, want)
	}
}

func TestCanonicalizeOmitsAbsentKeys(t *testing.T) {
	m := map[string]any{"present": 1, "absent": Omit}
	got, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	if string(got) != `{"present":1}` {
		t.Errorf("got %q, want absent key omitted", got)
	}
}

func TestCanonicalizeRejectsNonFiniteNumbers(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Canonicalize(v); err == nil {
			t.Errorf("expected error for non-finite %v", v)
		} else if !strings.Contains(err.Error(), "invalid input") {
			t.Errorf("expected invalid input error, got %v", err)
		}
	}
}

func TestCanonicalizeRejectsNonPlainMapping(t *testing.T) {
	type weird struct{ X int }
	if _, err := Canonicalize(weird{X: 1}); err == nil {
		t.Error("expected error for non-plain-mapping struct")
	}
}

func TestCanonicalizeNestedDeterminism(t *testing.T) {
	v1 := map[string]any{
		"outer": map[string]any{"z": 1, "a": []any{1, 2, map[string]any{"y": 2, "x": 1}}},
		"id":    "abc",
	}
	v2 := map[string]any{
		"id":    "abc",
		"outer": map[string]any{"a": []any{1, 2, map[string]any{"x": 1, "y": 2}}, "z": 1},
	}
	g1, err1 := Canonicalize(v1)
	g2, err2 := Canonicalize(v2)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if string(g1) != string(g2) {
		t.Errorf("nested permutation mismatch: %q vs %q", g1, g2)
	}
}

func TestIDDeterministicAcrossKeyPermutation(t *testing.T) {
	v1 := map[string]any{"a": 1, "b": 2}
	v2 := map[string]any{"b": 2, "a": 1}

	id1, err := ID(v1)
	if err != nil {
		t.Fatalf("ID(v1): %v", err)
	}
	id2, err := ID(v2)
	if err != nil {
		t.Fatalf("ID(v2): %v", err)
	}
	if id1 != id2 {
		t.Errorf("ID not permutation-invariant: %s vs %s", id1, id2)
	}
	if !Valid(id1) {
		t.Errorf("ID %s does not match expected shape", id1)
	}
	if Short(id1) != id1[:8] {
		t.Errorf("Short(%s) = %s, want first 8 chars", id1, Short(id1))
	}
}

func TestIDErrorsPropagateFromCanonicalize(t *testing.T) {
	if _, err := ID(math.NaN()); err == nil {
		t.Error("expected ID to propagate canonicalization error")
	}
}
