package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dgellow/mcp-local/internal"
	"github.com/joho/godotenv"
)

// LoadEnvFile reads a dotenv file. An empty path yields no variables.
func LoadEnvFile(envFile string) (map[string]string, error) {
	envFile = strings.TrimSpace(envFile)
	if envFile == "" {
		return nil, nil
	}
	resolved, err := internal.ExpandHome(envFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read envfile %q: %w", resolved, err)
	}
	parsed, err := parseEnvFileContent(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse envfile %q: %w", resolved, err)
	}
	return parsed, nil
}

func parseEnvFileContent(content string) (map[string]string, error) {
	env, err := godotenv.Unmarshal(content)
	if err != nil {
		return nil, err
	}
	if _, ok := env[""]; ok {
		return nil, errors.New("entry with an empty key")
	}
	return env, nil
}

// ProcessEnv returns the variables to overlay on the inherited environment
// when launching spec: the envFile contents, then env on top.
func (s *ServerSpec) ProcessEnv() (map[string]string, error) {
	fromFile, err := LoadEnvFile(s.EnvFile)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(fromFile)+len(s.Env))
	for k, v := range fromFile {
		env[k] = v
	}
	for k, v := range s.Env {
		env[k] = v
	}
	return env, nil
}
