package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dgellow/mcp-local/internal/config"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaURL = "https://mcp-local.invalid/tool.json"

// ValidateArguments checks args against the tool's input schema. Address keys
// of hex-formatting servers accept integers or strings whatever the declared
// type. A tool without a schema accepts any arguments.
func ValidateArguments(tool config.ToolDescriptor, spec *config.ServerSpec, args map[string]any) error {
	if tool.InputSchema == nil {
		return nil
	}
	fail := func(err error) error {
		return &ParseError{Reason: fmt.Sprintf("arguments for %s", tool.Name), Err: err}
	}

	doc, err := schemaDocument(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", tool.Name, err)
	}

	instance := make(map[string]any, len(args))
	for k, v := range args {
		instance[k] = v
	}

	for key, value := range args {
		if spec == nil || !spec.IsAddressKey(key) {
			continue
		}
		if !isInteger(value) && !isString(value) {
			return fail(fmt.Errorf("%s: address must be an integer or a string", key))
		}
		delete(instance, key)
		dropProperty(doc, key)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return fmt.Errorf("schema for %s: %w", tool.Name, err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", tool.Name, err)
	}

	if err := schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return fail(errors.New(violations(verr)))
		}
		return fail(err)
	}
	return nil
}

// schemaDocument returns s as a generic JSON document with numbers kept as
// json.Number
func schemaDocument(s *config.Schema) (any, error) {
	data, err := s.Document()
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

// dropProperty removes key from the top-level properties and required lists
func dropProperty(doc any, key string) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return
	}
	if props, ok := obj["properties"].(map[string]any); ok {
		delete(props, key)
	}
	if required, ok := obj["required"].([]any); ok {
		kept := required[:0]
		for _, r := range required {
			if r != key {
				kept = append(kept, r)
			}
		}
		obj["required"] = kept
	}
}

// violations flattens a validation error into one line per failing location,
// leaving out the summary line naming the schema URL
func violations(verr *jsonschema.ValidationError) string {
	msg := verr.Error()
	if _, rest, ok := strings.Cut(msg, "\n"); ok {
		msg = rest
	}
	lines := strings.Split(strings.TrimSpace(msg), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimPrefix(strings.TrimSpace(line), "- ")
	}
	return strings.Join(lines, "; ")
}

func isString(value any) bool {
	_, ok := value.(string)
	return ok
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == math.Trunc(v)
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return true
		}
		f, err := v.Float64()
		return err == nil && f == math.Trunc(f)
	}
	return false
}
