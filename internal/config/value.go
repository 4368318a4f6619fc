package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ConfigValue is a string that can be written either literally or as an
// environment reference: {"$env": "NAME"} or {"$env": "NAME", "default": "x"}.
// References are resolved while the config is decoded, so secrets live in the
// environment of mcp-local and are only handed to the server processes.
type ConfigValue struct {
	value      string
	envName    string
	envDefault *string
}

// String returns the resolved value
func (cv *ConfigValue) String() string {
	return cv.value
}

// IsEnvRef returns true if the value came from an environment reference
func (cv *ConfigValue) IsEnvRef() bool {
	return cv.envName != ""
}

// UnmarshalJSON implements custom JSON unmarshaling
func (cv *ConfigValue) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		cv.value = str
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("value must be a string or an {\"$env\": ...} reference")
	}

	envName, ok := obj["$env"].(string)
	if !ok || envName == "" {
		return fmt.Errorf("unknown reference type in value")
	}
	cv.envName = envName
	if def, ok := obj["default"]; ok {
		s := fmt.Sprint(def)
		cv.envDefault = &s
	}
	return cv.resolve()
}

func (cv *ConfigValue) resolve() error {
	value, ok := os.LookupEnv(cv.envName)
	if !ok || value == "" {
		if cv.envDefault != nil {
			cv.value = *cv.envDefault
			return nil
		}
		return fmt.Errorf("%w: %s", ErrMissingEnv, cv.envName)
	}
	cv.value = value
	return nil
}

// ConfigValueMap represents a map of config values
type ConfigValueMap map[string]*ConfigValue

// Strings returns the resolved values
func (cvm ConfigValueMap) Strings() map[string]string {
	if cvm == nil {
		return nil
	}
	result := make(map[string]string, len(cvm))
	for k, v := range cvm {
		result[k] = v.String()
	}
	return result
}

// UnmarshalJSON implements custom JSON unmarshaling for the map
func (cvm *ConfigValueMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*cvm = make(ConfigValueMap, len(raw))
	for k, v := range raw {
		cv := &ConfigValue{}
		if err := json.Unmarshal(v, cv); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		(*cvm)[k] = cv
	}
	return nil
}

// ConfigValueSlice represents a slice of config values
type ConfigValueSlice []*ConfigValue

// Strings returns the resolved values
func (cvs ConfigValueSlice) Strings() []string {
	if cvs == nil {
		return nil
	}
	result := make([]string, len(cvs))
	for i, v := range cvs {
		result[i] = v.String()
	}
	return result
}

// UnmarshalJSON implements custom JSON unmarshaling for the slice
func (cvs *ConfigValueSlice) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*cvs = make(ConfigValueSlice, len(raw))
	for i, v := range raw {
		cv := &ConfigValue{}
		if err := json.Unmarshal(v, cv); err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		(*cvs)[i] = cv
	}
	return nil
}
