package id

import "testing"

func TestParseAmountBaseUnits(t *testing.T) {
	n, err := ParseAmount("1000000", "", 6)
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if n.String() != "1000000" {
		t.Fatalf("unexpected result: %s", n)
	}
}

func TestParseAmountDecimal(t *testing.T) {
	n, err := ParseAmount("", "1.25", 6)
	if err != nil {
		t.Fatalf("ParseAmount failed: %v", err)
	}
	if n.String() != "1250000" {
		t.Fatalf("unexpected result: %s", n)
	}
}

func TestParseAmountValidation(t *testing.T) {
	if _, err := ParseAmount("10", "1", 6); err == nil {
		t.Fatal("expected mutual exclusivity error")
	}
	if _, err := ParseAmount("", "1.1234567", 6); err == nil {
		t.Fatal("expected precision error")
	}
	if _, err := ParseAmount("0", "", 6); err == nil {
		t.Fatal("expected positive amount error")
	}
	if _, err := ParseAmount("-5", "", 6); err == nil {
		t.Fatal("expected positive amount error")
	}
}

func TestFormatUnits(t *testing.T) {
	cases := map[string]string{
		"0":        "0",
		"1250000":  "1.25",
		"1":        "0.000001",
		"12000000": "12",
	}
	for in, want := range cases {
		if got := FormatUnits(in, 6); got != want {
			t.Fatalf("FormatUnits(%s) = %s, want %s", in, got, want)
		}
	}
}
