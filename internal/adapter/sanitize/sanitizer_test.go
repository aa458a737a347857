package sanitize

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
}

type withHidden struct {
	Visible string
	Skipped string `json:"-"`
	hidden  string
}

type badError struct{}

func (*badError) Error() string { panic("no message") }

func TestSanitize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewSanitizer([]string{"email", "password"}, logger)

	loop := &node{Name: "a"}
	loop.Next = loop

	wide := make(map[string]int, 25)
	for i := 0; i < 25; i++ {
		wide[fmt.Sprintf("k%02d", i)] = i
	}

	tests := []struct {
		name     string
		input    any
		expected string // JSON of the sanitized value
	}{
		{
			name:     "Redact configured fields",
			input:    map[string]any{"email": "a@b.c", "user_id": 7, "password": "hunter2"},
			expected: `{"email":"[REDACTED]","password":"[REDACTED]","user_id":7}`,
		},
		{
			name:     "Nil passes through",
			input:    nil,
			expected: `null`,
		},
		{
			name:     "Depth beyond three is cut",
			input:    map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": map[string]any{"e": 1}}}}},
			expected: `{"a":{"b":{"c":{"d":"[Max Depth Reached]"}}}}`,
		},
		{
			name:     "Pointer cycle",
			input:    loop,
			expected: `{"name":"a","next":"[Circular Reference]"}`,
		},
		{
			name:     "Functions and channels filtered",
			input:    map[string]any{"fn": func() {}, "ch": make(chan int)},
			expected: `{"ch":"[Filtered]","fn":"[Filtered]"}`,
		},
		{
			name:     "Arrays capped at ten items",
			input:    []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			expected: `[1,2,3,4,5,6,7,8,9,10]`,
		},
		{
			name:     "Binary rendered as size",
			input:    map[string]any{"payload": []byte{1, 2, 3}},
			expected: `{"payload":"[Binary: 3 bytes]"}`,
		},
		{
			name:     "Struct fields use json names",
			input:    withHidden{Visible: "v", Skipped: "s", hidden: "h"},
			expected: `{"Visible":"v"}`,
		},
		{
			name:     "Errors become their message",
			input:    map[string]any{"err": errors.New("boom")},
			expected: `{"err":"boom"}`,
		},
		{
			name:     "Non-finite floats become markers",
			input:    map[string]any{"score": math.NaN(), "inf": math.Inf(1), "neg": float32(math.Inf(-1)), "ok": 1.5},
			expected: `{"inf":"[Infinity]","neg":"[-Infinity]","ok":1.5,"score":"[NaN]"}`,
		},
		{
			name:     "Panicking value collapses to placeholder",
			input:    &badError{},
			expected: `"[Serialization Error]"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			data, err := json.Marshal(got)
			if err != nil {
				t.Fatalf("sanitized value is not serializable: %v", err)
			}
			if string(data) != tt.expected {
				t.Errorf("got %s, want %s", data, tt.expected)
			}
		})
	}

	t.Run("Wide objects keep twenty keys", func(t *testing.T) {
		got, ok := s.Sanitize(wide).(map[string]any)
		if !ok {
			t.Fatalf("unexpected type %T", s.Sanitize(wide))
		}
		if len(got) != 21 {
			t.Fatalf("got %d keys, want 20 plus marker", len(got))
		}
		if got["..."] != "[5 more keys]" {
			t.Errorf("marker = %v", got["..."])
		}
	})

	t.Run("Long strings truncated", func(t *testing.T) {
		got := s.Sanitize(strings.Repeat("x", 600)).(string)
		if len(got) != 500+len(TruncatedSuffix) || !strings.HasSuffix(got, TruncatedSuffix) {
			t.Errorf("got length %d", len(got))
		}
	})

	t.Run("Truncation keeps runes whole", func(t *testing.T) {
		got := s.Sanitize(strings.Repeat("a", 499) + "é" + strings.Repeat("b", 10)).(string)
		if !utf8.ValidString(got) {
			t.Fatalf("invalid UTF-8: %q", got[490:])
		}
		if want := strings.Repeat("a", 499) + TruncatedSuffix; got != want {
			t.Errorf("got tail %q", got[490:])
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 5, "abc"},
		{"ascii", "abcdef", 3, "abc"},
		{"backs up to rune start", "aé", 2, "a"},
		{"whole multibyte rune", "aé", 3, "aé"},
		{"zero", "abc", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}
