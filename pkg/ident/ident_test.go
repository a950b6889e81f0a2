package ident

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "OrderId", "OrderId"},
		{"spaces", "Fecha de Alta", "Fecha_de_Alta"},
		{"accents", "Número Teléfono", "N_mero_Tel_fono"},
		{"keeps dots and hyphens", "dbo.Orders-2024", "dbo.Orders-2024"},
		{"collapses runs", "a   b///c", "a_b_c"},
		{"trims underscores", "__Total__", "Total"},
		{"empty", "", "NA"},
		{"only junk", "¿¿??", "NA"},
		{"mixed junk", "  (Monto $) ", "Monto"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"OrderId",
		"Fecha de Alta (local)",
		"__x__y__",
		"",
		strings.Repeat("columna larga ", 40),
	}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestSanitize_Bounds(t *testing.T) {
	long := strings.Repeat("abc_", 100)
	got := Sanitize(long)
	if len(got) > MaxLength {
		t.Errorf("length %d exceeds %d", len(got), MaxLength)
	}
	if got == "" {
		t.Error("result must not be empty")
	}
	for _, r := range got {
		ok := r == '_' || r == '.' || r == '-' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !ok {
			t.Errorf("character %q outside allowed alphabet", r)
		}
	}
	if strings.HasPrefix(got, "_") || strings.HasSuffix(got, "_") {
		t.Errorf("leading/trailing underscore in %q", got)
	}
}
