// Package render formats agent answers and errors as Markdown.
package render

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dgellow/mcp-local/internal/dispatch"
)

const (
	ResponseHeader = "## MCP Agent Response"
	ErrorHeader    = "## ❌ Error"
)

var (
	// file names, SHA-256 digests, hex values and underscore symbols
	tokenRegex    = regexp.MustCompile(`\b(?:[A-Za-z0-9_]+\.(?:exe|dll|bin|so)|[a-fA-F0-9]{64}|0x[0-9a-fA-F]+|_[a-zA-Z0-9_]+)\b`)
	listItemRegex = regexp.MustCompile(`^[*#-] `)
	codeSpanRegex = regexp.MustCompile("`[^`\n]*`")
)

// Markdown turns a raw answer into the response document: single-line JSON
// objects are fenced, list items, headings and blank lines stand alone, and
// runs of prose are kept together.
func Markdown(answer string) string {
	var (
		formatted []string
		buffer    []string
	)
	flush := func() {
		if len(buffer) > 0 {
			formatted = append(formatted, strings.Join(buffer, "\n"))
			buffer = buffer[:0]
		}
	}

	for _, line := range strings.Split(answer, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}"):
			flush()
			formatted = append(formatted, "```json\n"+trimmed+"\n```")
		case trimmed == "" || listItemRegex.MatchString(trimmed):
			flush()
			formatted = append(formatted, line)
		default:
			buffer = append(buffer, line)
		}
	}
	flush()

	return Backtick(ResponseHeader + "\n\n" + strings.Join(formatted, "\n"))
}

// Backtick wraps file names, SHA-256 digests, 0x hex values and _symbols in
// backticks. Fenced blocks and existing code spans are left alone.
func Backtick(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		lines[i] = backtickLine(line)
	}
	return strings.Join(lines, "\n")
}

func backtickLine(line string) string {
	var b strings.Builder
	last := 0
	for _, span := range codeSpanRegex.FindAllStringIndex(line, -1) {
		b.WriteString(tokenRegex.ReplaceAllString(line[last:span[0]], "`$0`"))
		b.WriteString(line[span[0]:span[1]])
		last = span[1]
	}
	b.WriteString(tokenRegex.ReplaceAllString(line[last:], "`$0`"))
	return b.String()
}

// Error renders err as the terminal message of a failed turn
func Error(err error) string {
	kind := dispatch.Kind(err)
	var hint string
	switch kind {
	case "ParseError":
		hint = "The model did not produce a valid tool call. Try rephrasing the request."
	case "UnknownToolError":
		hint = "The model asked for a tool that no configured server provides."
	case "InvocationError":
		hint = "The tool server failed to answer. Check the logs for details."
	default:
		hint = "The request could not be completed. Check the logs for details."
	}
	return fmt.Sprintf("%s\n\n%s\n\n**%s**: %s", ErrorHeader, hint, kind, err.Error())
}
