package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrDuplicateServer is returned when two servers share a name
	ErrDuplicateServer = errors.New("duplicate server name")

	// ErrMissingEnv is returned when an {"$env": ...} reference is not set
	ErrMissingEnv = errors.New("required environment variable not set")
)

// ServerList is the "mcpServers" object decoded in file order.
// Order matters: keyword routing falls back to the first server.
type ServerList []*ServerSpec

// Get returns the server called name, or nil
func (l ServerList) Get(name string) *ServerSpec {
	for _, s := range l {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Names returns the server names in order
func (l ServerList) Names() []string {
	names := make([]string, len(l))
	for i, s := range l {
		names[i] = s.Name
	}
	return names
}

// UnmarshalJSON walks the object key by key so that order is kept and
// duplicate names, which encoding/json would silently collapse, are rejected
func (l *ServerList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	if err := expectDelim(dec, '{'); err != nil {
		return fmt.Errorf("mcpServers must be an object")
	}

	list := ServerList{}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		if name == "" {
			return fmt.Errorf("server name must not be empty")
		}
		if seen[name] {
			return fmt.Errorf("%w: %q", ErrDuplicateServer, name)
		}
		seen[name] = true

		spec := &ServerSpec{Name: name}
		if err := dec.Decode(spec); err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
		list = append(list, spec)
	}

	if err := expectDelim(dec, '}'); err != nil {
		return err
	}
	*l = list
	return nil
}

// MarshalJSON writes the servers back as an object in order
func (l ServerList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", s.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// serverKeys collects the keys of "mcpServers" without decoding the specs.
// ValidateFile uses it to find duplicates in files that do not fully load.
type serverKeys struct {
	names      []string
	duplicates []string
}

func (k *serverKeys) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)
		if seen[name] {
			k.duplicates = append(k.duplicates, name)
		} else {
			k.names = append(k.names, name)
		}
		seen[name] = true

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
