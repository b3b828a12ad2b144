package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsString(t *testing.T) {
	tests := []struct {
		name     string
		slice    []string
		item     string
		expected bool
	}{
		{"item exists in slice", []string{"write_file", "edit_file"}, "edit_file", true},
		{"item does not exist in slice", []string{"write_file"}, "read_file", false},
		{"empty slice", []string{}, "write_file", false},
		{"case sensitive match", []string{"Write_File"}, "write_file", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContainsString(tt.slice, tt.item))
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		maxLen        int
		preserveWords bool
		expected      string
	}{
		{"no truncation needed", "short text", 20, false, "short text"},
		{"simple truncation", "This is a long text that needs truncation", 20, false, "This is a long te..."},
		{"word-preserving truncation", "This is a long text that needs truncation", 20, true, "This is a long..."},
		{"maxLen zero", "any text", 0, false, ""},
		{"maxLen smaller than ellipsis", "text", 2, false, ".."},
		{"multibyte runes", "数据库系统用户信息", 5, false, "数据..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TruncateString(tt.input, tt.maxLen, tt.preserveWords))
		})
	}
}

func TestExtractURLs(t *testing.T) {
	text := `See https://go.dev/doc/effective_go. Also (https://pkg.go.dev/net/http) and
https://go.dev/doc/effective_go again, plus http://example.com/a?b=1, done.`
	assert.Equal(t, []string{
		"https://go.dev/doc/effective_go",
		"https://pkg.go.dev/net/http",
		"http://example.com/a?b=1",
	}, ExtractURLs(text))
	assert.Empty(t, ExtractURLs("no links here"))
}
