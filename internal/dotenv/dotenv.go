// Package dotenv loads KEY=VALUE pairs from a local .env file into the
// process environment for development runs.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads path and sets each variable that is not already
// present in the environment. A missing file is not an error; real
// deployments configure the process directly.
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %q: %w", path, err)
	}

	pairs, err := Parse(string(raw))
	if err != nil {
		return fmt.Errorf("parse env file %q: %w", path, err)
	}
	for key, val := range pairs {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("set %s from %q: %w", key, path, err)
		}
	}
	return nil
}

// Parse reads dotenv syntax: one KEY=VALUE per line, optional "export "
// prefix, # comments, and single or double quotes around values. Later
// assignments win within the same file.
func Parse(src string) (map[string]string, error) {
	pairs := make(map[string]string)
	for lineno, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, val, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("line %d: not a KEY=VALUE pair", lineno+1)
		}
		pairs[key] = unquote(strings.TrimSpace(val))
	}
	return pairs, nil
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	open := val[0]
	if (open == '"' || open == '\'') && val[len(val)-1] == open {
		return val[1 : len(val)-1]
	}
	return val
}
