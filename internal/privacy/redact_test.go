package privacy

import (
	"testing"
)

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New([]string{`ok`, `[invalid`}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestNew_EmptyIsNil(t *testing.T) {
	r, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if r != nil {
		t.Fatal("expected nil redactor for no patterns")
	}
	if r.Len() != 0 {
		t.Errorf("len = %d, want 0", r.Len())
	}
}

func TestRedact(t *testing.T) {
	r, err := New([]string{`(?i)token`, `\+7\d{10}`})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"single", "My API Token is abc123", "My API [REDACTED] is abc123"},
		{"both patterns", "token +79991234567", "[REDACTED] [REDACTED]"},
		{"repeated", "token, token", "[REDACTED], [REDACTED]"},
		{"no match", "nothing here", "nothing here"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Redact(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedact_NilRedactor(t *testing.T) {
	var r *Redactor
	if got := r.Redact("keep me"); got != "keep me" {
		t.Errorf("got %q, want unchanged", got)
	}
}
