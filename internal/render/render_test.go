package render

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgellow/mcp-local/internal/dispatch"
	"github.com/stretchr/testify/assert"
)

func TestBacktick(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "sha256",
			in:   "Sample: abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234",
			want: []string{"`abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234`"},
		},
		{
			name: "file names",
			in:   "Found in dropper.exe and shell32.dll",
			want: []string{"`dropper.exe`", "`shell32.dll`"},
		},
		{
			name: "hex addresses",
			in:   "Jump occurs at 0xdeadbeef",
			want: []string{"`0xdeadbeef`"},
		},
		{
			name: "symbols",
			in:   "Found in _start and called from _main",
			want: []string{"`_start`", "`_main`"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Backtick(tt.in)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestBacktick_NoDoubleWrapping(t *testing.T) {
	assert.Equal(t, "see `_main.exe`", Backtick("see _main.exe"))
	assert.Equal(t, "already `0x10` here", Backtick("already `0x10` here"))
	assert.Equal(t, "`0x10` and `0x20`", Backtick(Backtick("0x10 and 0x20")))
}

func TestBacktick_LeavesPlainWordsAndFences(t *testing.T) {
	assert.Equal(t, "nothing to see", Backtick("nothing to see"))
	assert.Equal(t, "short abc123 hash", Backtick("short abc123 hash"))

	fenced := "```json\n{\"address\": \"0x1000\", \"symbol\": \"_main\"}\n```"
	assert.Equal(t, fenced, Backtick(fenced))
}

func TestMarkdown(t *testing.T) {
	answer := strings.Join([]string{
		"The sample is a RedLine stealer.",
		"It was first seen yesterday.",
		"{\"sha256\": \"x\", \"tags\": [\"redline\"]}",
		"- dropper.exe",
		"# Notes",
		"",
		"Entry point at 0x401000 in _start.",
	}, "\n")

	got := Markdown(answer)

	assert.True(t, strings.HasPrefix(got, ResponseHeader+"\n\n"))
	assert.Contains(t, got, "The sample is a RedLine stealer.\nIt was first seen yesterday.")
	assert.Contains(t, got, "```json\n{\"sha256\": \"x\", \"tags\": [\"redline\"]}\n```")
	assert.Contains(t, got, "- `dropper.exe`")
	assert.Contains(t, got, "\n# Notes\n")
	assert.Contains(t, got, "Entry point at `0x401000` in `_start`.")
}

func TestError(t *testing.T) {
	got := Error(&dispatch.UnknownToolError{Tool: "format_disk"})
	assert.True(t, strings.HasPrefix(got, ErrorHeader))
	assert.Contains(t, got, "**UnknownToolError**")
	assert.Contains(t, got, `unknown tool "format_disk"`)

	got = Error(errors.New("ollama is down"))
	assert.Contains(t, got, "**Error**: ollama is down")
}
