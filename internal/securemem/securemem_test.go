package securemem

import (
	"testing"
)

func TestNewString(t *testing.T) {
	s := NewString("test-secret-123")
	defer s.Destroy()

	if s.String() != "test-secret-123" {
		t.Errorf("expected %q, got %q", "test-secret-123", s.String())
	}
	if s.IsEmpty() {
		t.Error("expected non-empty secret")
	}
}

func TestEqualIsExact(t *testing.T) {
	s := NewString("abc")
	defer s.Destroy()

	tests := []struct {
		other string
		want  bool
	}{
		{"abc", true},
		{"abd", false},
		{"ab", false},
		{"abcd", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := s.Equal(tt.other); got != tt.want {
			t.Errorf("Equal(%q) = %v, want %v", tt.other, got, tt.want)
		}
	}
}

func TestNewRandomHex(t *testing.T) {
	a := NewRandomHex(16)
	b := NewRandomHex(16)
	defer a.Destroy()
	defer b.Destroy()

	if len(a.String()) != 32 {
		t.Fatalf("expected 32 hex characters, got %d", len(a.String()))
	}
	if a.String() == b.String() {
		t.Error("two random secrets should differ")
	}
}

func TestDestroy(t *testing.T) {
	s := NewString("gone")
	s.Destroy()
	s.Destroy()

	if !s.IsEmpty() {
		t.Error("destroyed secret should be empty")
	}
	if s.Equal("gone") {
		t.Error("destroyed secret should not match its old value")
	}
	if s.String() != "" {
		t.Errorf("destroyed secret should render empty, got %q", s.String())
	}

	var nilSecret *String
	if !nilSecret.IsEmpty() || nilSecret.Equal("") {
		t.Error("nil secret should be empty and match nothing")
	}
}
