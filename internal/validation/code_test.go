package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
		err  error
	}{
		{
			name: "already canonical",
			raw:  "ELIXR8967FF",
			want: "ELIXR8967FF",
		},
		{
			name: "lower case",
			raw:  "elixr8967ff",
			want: "ELIXR8967FF",
		},
		{
			name: "mixed case with spaces",
			raw:  "  ElIxR8967Ff\t",
			want: "ELIXR8967FF",
		},
		{
			name: "max length",
			raw:  strings.Repeat("a", MaxCodeLength),
			want: strings.Repeat("A", MaxCodeLength),
		},
		{
			name: "empty string",
			raw:  "",
			err:  ErrInvalidFormat,
		},
		{
			name: "only whitespace",
			raw:  "   ",
			err:  ErrInvalidFormat,
		},
		{
			name: "too long",
			raw:  strings.Repeat("a", MaxCodeLength+1),
			err:  ErrInvalidFormat,
		},
		{
			name: "contains dash",
			raw:  "ELIXR-8967",
			err:  ErrInvalidFormat,
		},
		{
			name: "contains inner space",
			raw:  "ELIXR 8967",
			err:  ErrInvalidFormat,
		},
		{
			name: "non ascii letter",
			raw:  "ELIXRÄ",
			err:  ErrInvalidFormat,
		},
		{
			name: "sql wildcard",
			raw:  "ELIXR%",
			err:  ErrInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("Normalize(%q) error = %v, want %v", tt.raw, err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalize_CaseVariantsAgree(t *testing.T) {
	variants := []string{"elixr8967ff", "ElIxR8967Ff", "ELIXR8967FF", "eLiXr8967fF"}

	want, err := Normalize(variants[0])
	if err != nil {
		t.Fatalf("Normalize error: %v", err)
	}

	for _, v := range variants[1:] {
		got, err := Normalize(v)
		if err != nil {
			t.Fatalf("Normalize(%q) error: %v", v, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})

	for i := 0; i < 20; i++ {
		code, err := GenerateCode(CodePrefix)
		if err != nil {
			t.Fatalf("GenerateCode error: %v", err)
		}
		if !strings.HasPrefix(code, CodePrefix) {
			t.Fatalf("code %q has no prefix %q", code, CodePrefix)
		}
		if len(code) != len(CodePrefix)+6 {
			t.Fatalf("code %q has length %d, want %d", code, len(code), len(CodePrefix)+6)
		}
		canonical, err := Normalize(code)
		if err != nil || canonical != code {
			t.Fatalf("generated code %q is not canonical", code)
		}
		seen[code] = struct{}{}
	}

	if len(seen) < 2 {
		t.Fatalf("GenerateCode returned the same code every time")
	}
}
