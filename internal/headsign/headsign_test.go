package headsign

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ALCALÁ DE HENARES", "Alcalá de Henares"},
		{"LORA DEL RÍO", "Lora del Río"},
		{"SAN FERNANDO DE HENARES", "San Fernando de Henares"},
		{"PUERTA DEL SOL", "Puerta del Sol"},
		{"COLMENAR VIEJO", "Colmenar Viejo"},
		// A particle at position 0 keeps its capital.
		{"EL ESCORIAL", "El Escorial"},
		{"LAS ROZAS", "Las Rozas"},
		// Mixed-case input is returned as-is.
		{"Lora del Río", "Lora del Río"},
		{"Plentzia", "Plentzia"},
		{"", ""},
		{"  GUADALAJARA  ", "Guadalajara"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, in := range []string{"ALCALÁ DE HENARES", "EL ESCORIAL", "CERCEDILLA"} {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}
