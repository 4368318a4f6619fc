package config

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UnmarshalJSON implements custom unmarshaling for ServerSpec so that
// command, args, cwd and env may carry {"$env": ...} references
func (s *ServerSpec) UnmarshalJSON(data []byte) error {
	type rawSpec struct {
		Description   string           `json:"description"`
		Keywords      []string         `json:"keywords"`
		FormatHexKeys bool             `json:"format_hex_keys"`
		AddressKeys   []string         `json:"address_keys"`
		TransportType TransportType    `json:"transportType"`
		Command       *ConfigValue     `json:"command"`
		Args          ConfigValueSlice `json:"args"`
		Cwd           *ConfigValue     `json:"cwd"`
		Env           ConfigValueMap   `json:"env"`
		EnvFile       *ConfigValue     `json:"envFile"`
		Instructions  []string         `json:"instructions"`
		Tools         []ToolDescriptor `json:"tools"`
		Discover      *bool            `json:"discover"`
		Timeout       Duration         `json:"timeout"`
	}

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return fmt.Errorf("server must be an object")
	}

	var raw rawSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	name := s.Name
	*s = ServerSpec{
		Name:          name,
		Description:   raw.Description,
		Keywords:      raw.Keywords,
		FormatHexKeys: raw.FormatHexKeys,
		AddressKeys:   raw.AddressKeys,
		TransportType: raw.TransportType,
		Args:          raw.Args.Strings(),
		Env:           raw.Env.Strings(),
		Instructions:  raw.Instructions,
		Tools:         raw.Tools,
		Discover:      raw.Discover,
		Timeout:       raw.Timeout,
	}
	if raw.Command != nil {
		s.Command = raw.Command.String()
	}
	if raw.Cwd != nil {
		s.Cwd = raw.Cwd.String()
	}
	if raw.EnvFile != nil {
		s.EnvFile = raw.EnvFile.String()
	}
	return nil
}
