package facematch

import (
	"slices"
	"testing"
)

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Honza", "Honza"},
		{"Jiří", "Jiri"},
		{"café", "cafe"},
		{"naïve", "naive"},
		{"hello", "hello"},
		{"Žluťoučký kůň", "Zlutoucky kun"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNormalizeMark(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Mole on chin", "mole on chin"},
		{"  mole   on chin ", "mole on chin"},
		{"Jizva na čele", "jizva na cele"},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := NormalizeMark(tt.input)
			if result != tt.expected {
				t.Errorf("NormalizeMark(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestUnionMarks(t *testing.T) {
	tests := []struct {
		name     string
		lists    [][]string
		expected []string
	}{
		{
			name:     "parent first then new volunteer marks",
			lists:    [][]string{{"mole on chin", "scar"}, {"Scar", "freckles"}},
			expected: []string{"mole on chin", "scar", "freckles"},
		},
		{
			name:     "diacritics collapse",
			lists:    [][]string{{"Jizva na čele"}, {"jizva na cele"}},
			expected: []string{"Jizva na čele"},
		},
		{
			name:     "blanks dropped",
			lists:    [][]string{{"", "  "}, {" tattoo "}},
			expected: []string{"tattoo"},
		},
		{
			name:     "empty",
			lists:    [][]string{nil, nil},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := UnionMarks(tt.lists...)
			if !slices.Equal(result, tt.expected) {
				t.Errorf("UnionMarks = %q, want %q", result, tt.expected)
			}
		})
	}
}
