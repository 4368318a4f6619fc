package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ToolCall is a structured request emitted by the model
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Parse reads model output as a tool call. The text must be exactly one JSON
// object with the keys "name" and "arguments" and nothing else; only
// surrounding whitespace is tolerated. Numbers in arguments are kept as
// json.Number.
func Parse(text string) (*ToolCall, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &ParseError{Text: text, Reason: "empty output"}
	}
	if trimmed[0] != '{' {
		return nil, &ParseError{Text: text, Reason: "output is not a JSON object"}
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return nil, &ParseError{Text: text, Reason: "malformed JSON", Err: err}
	}

	var (
		call    ToolCall
		seen    = map[string]bool{}
		rawName json.RawMessage
		rawArgs json.RawMessage
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, &ParseError{Text: text, Reason: "malformed JSON", Err: err}
		}
		key, _ := tok.(string)
		if key != "name" && key != "arguments" {
			return nil, &ParseError{Text: text, Reason: fmt.Sprintf("unexpected key %q", key)}
		}
		if seen[key] {
			return nil, &ParseError{Text: text, Reason: fmt.Sprintf("duplicate key %q", key)}
		}
		seen[key] = true

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, &ParseError{Text: text, Reason: "malformed JSON", Err: err}
		}
		if key == "name" {
			rawName = raw
		} else {
			rawArgs = raw
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, &ParseError{Text: text, Reason: "malformed JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Text: text, Reason: "unexpected data after the tool call"}
	}

	for _, key := range []string{"name", "arguments"} {
		if !seen[key] {
			return nil, &ParseError{Text: text, Reason: fmt.Sprintf("missing key %q", key)}
		}
	}

	if err := json.Unmarshal(rawName, &call.Name); err != nil {
		return nil, &ParseError{Text: text, Reason: "name must be a string"}
	}
	if strings.TrimSpace(call.Name) == "" {
		return nil, &ParseError{Text: text, Reason: "name must not be empty"}
	}

	rawArgs = bytes.TrimSpace(rawArgs)
	if len(rawArgs) == 0 || rawArgs[0] != '{' {
		return nil, &ParseError{Text: text, Reason: "arguments must be an object"}
	}
	argDec := json.NewDecoder(bytes.NewReader(rawArgs))
	argDec.UseNumber()
	if err := argDec.Decode(&call.Arguments); err != nil {
		return nil, &ParseError{Text: text, Reason: "arguments must be an object", Err: err}
	}
	return &call, nil
}
