package db

import (
	"math"
	"testing"
)

func TestToVectorLiteral(t *testing.T) {
	t.Parallel()

	got, err := toVectorLiteral([]float64{0.5, -1, 2.25})
	if err != nil {
		t.Fatalf("toVectorLiteral: %v", err)
	}
	if got != "[0.5,-1,2.25]" {
		t.Fatalf("literal = %q", got)
	}

	if _, err := toVectorLiteral(nil); err == nil {
		t.Fatal("empty embedding accepted")
	}
	if _, err := toVectorLiteral([]float64{math.NaN()}); err == nil {
		t.Fatal("NaN accepted")
	}
	if _, err := toVectorLiteral([]float64{math.Inf(1)}); err == nil {
		t.Fatal("Inf accepted")
	}
}

func TestParseVectorLiteral(t *testing.T) {
	t.Parallel()

	got, err := parseVectorLiteral("[0.5, -1, 2.25]")
	if err != nil {
		t.Fatalf("parseVectorLiteral: %v", err)
	}
	if len(got) != 3 || got[0] != 0.5 || got[1] != -1 || got[2] != 2.25 {
		t.Fatalf("parsed = %v", got)
	}

	for _, bad := range []string{"", "0.5,1", "[]", "[a,b]"} {
		if _, err := parseVectorLiteral(bad); err == nil {
			t.Errorf("accepted %q", bad)
		}
	}
}
