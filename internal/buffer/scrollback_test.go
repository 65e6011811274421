package buffer

import (
	"bytes"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewScrollback(t *testing.T) {
	s := NewScrollback(100)
	if s.Cap() != 100 {
		t.Errorf("Expected capacity 100, got %d", s.Cap())
	}
	if s.Len() != 0 {
		t.Errorf("Expected length 0, got %d", s.Len())
	}
	if s.Snapshot() != nil {
		t.Errorf("Expected nil snapshot for empty scrollback")
	}

	if got := NewScrollback(0).Cap(); got != DefaultCapacity {
		t.Errorf("Expected default capacity %d, got %d", DefaultCapacity, got)
	}
}

func TestScrollback_Write(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"fits", []string{"hello", "world"}, "helloworld"},
		{"overflow discards oldest", []string{"0123456789", "abc"}, "3456789abc"},
		{"single write larger than capacity", []string{"0123456789abcdef"}, "6789abcdef"},
		{"wraps more than once", []string{"01234", "56789", "abcde", "fgh"}, "89abcdefgh"},
		{"empty write", []string{"abc", ""}, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScrollback(10)
			for _, w := range tt.writes {
				n, err := s.Write([]byte(w))
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if n != len(w) {
					t.Errorf("Expected n=%d, got %d", len(w), n)
				}
			}
			if got := string(s.Snapshot()); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestScrollback_Reset(t *testing.T) {
	s := NewScrollback(10)
	s.WriteString("some output")
	s.Reset()

	if s.Len() != 0 || s.Total() != 0 {
		t.Errorf("Expected empty scrollback after reset, got len=%d total=%d", s.Len(), s.Total())
	}

	s.WriteString("new")
	if got := string(s.Snapshot()); got != "new" {
		t.Errorf("Expected %q after reset, got %q", "new", got)
	}
}

func TestScrollback_LastLine(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"empty", "", ""},
		{"single line", "hello", "hello"},
		{"prompt after output", "total 0\r\nuser@host:~$ ", "user@host:~$"},
		{"trailing newlines", "first\nsecond\n\n", "second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScrollback(64)
			s.WriteString(tt.output)
			if got := s.LastLine(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestScrollback_KeepsTailProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot is the tail of everything written", prop.ForAll(
		func(writes []string, capacity int) bool {
			s := NewScrollback(capacity)
			var all bytes.Buffer
			for _, w := range writes {
				s.WriteString(w)
				all.WriteString(w)
			}

			want := all.Bytes()
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			return bytes.Equal(s.Snapshot(), want) &&
				s.Len() == len(want) &&
				s.Total() == uint64(all.Len())
		},
		gen.SliceOf(gen.AlphaString()),
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}
