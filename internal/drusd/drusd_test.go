package drusd

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one drusd", "1.00", 1_000_000},
		{"fifty cents", "0.50", 500_000},
		{"hundred", "100", 100_000_000},
		{"smallest unit", "0.000001", 1},
		{"whole and frac", "1.500000", 1_500_000},
		{"no frac", "1", 1_000_000},
		{"short frac", "1.5", 1_500_000},
		{"six decimals", "1.123456", 1_123_456},
		{"extra decimals truncated", "1.1234567", 1_123_456},
		{"large amount", "999999.999999", 999_999_999_999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_InvalidAmounts(t *testing.T) {
	for _, input := range []string{"-1.00", "1.2.3", "abc", "1,50"} {
		if _, ok := Parse(input); ok {
			t.Errorf("Parse(%q) returned ok=true, want false", input)
		}
	}
}

func TestParse_EmptyIsZero(t *testing.T) {
	got, ok := Parse("")
	if !ok || got.Sign() != 0 {
		t.Errorf("Parse(\"\") = %v, %v, want 0, true", got, ok)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected string
	}{
		{"one drusd", 1_000_000, "1.000000"},
		{"fifty cents", 500_000, "0.500000"},
		{"smallest unit", 1, "0.000001"},
		{"zero", 0, "0.000000"},
		{"large", 123_456_789_012, "123456.789012"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(big.NewInt(tt.input))
			if got != tt.expected {
				t.Errorf("Format(%d) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormat_Nil(t *testing.T) {
	if got := Format(nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q, want 0.000000", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000000", "1.500000", "250.000000", "0.000001"} {
		parsed, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(parsed); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
	}
}

func TestAdd(t *testing.T) {
	got, ok := Add("100.50", "0.000001")
	if !ok || got != "100.500001" {
		t.Errorf("Add = %q, %v, want 100.500001, true", got, ok)
	}
	if _, ok := Add("abc", "1"); ok {
		t.Error("Add with invalid input returned ok=true")
	}
}

func TestSub(t *testing.T) {
	got, ok := Sub("100", "25.5")
	if !ok || got != "74.500000" {
		t.Errorf("Sub = %q, %v, want 74.500000, true", got, ok)
	}
	if _, ok := Sub("1", "2"); ok {
		t.Error("Sub with negative result returned ok=true")
	}
}

func TestCmp(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1", "1.000000", 0},
		{"2", "1", 1},
		{"0.5", "1", -1},
	}
	for _, tt := range tests {
		got, ok := Cmp(tt.a, tt.b)
		if !ok || got != tt.want {
			t.Errorf("Cmp(%q, %q) = %d, %v, want %d, true", tt.a, tt.b, got, ok, tt.want)
		}
	}
}

func TestToFloat(t *testing.T) {
	if got := ToFloat(big.NewInt(1_500_000)); got != 1.5 {
		t.Errorf("ToFloat(1500000) = %f, want 1.5", got)
	}
	if got := ToFloat(nil); got != 0 {
		t.Errorf("ToFloat(nil) = %f, want 0", got)
	}
}
