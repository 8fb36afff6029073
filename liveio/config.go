// Package liveio implements the two side-effect handlers the runtime
// reaches through the Host Interface's non-deterministic dispatch: a web
// handler and a language-model handler (spec §4.6). Both are policy-driven
// — a persistent mock table checked first, a live backend otherwise — and
// both satisfy engine.WebHandler/engine.LLMHandler structurally, without
// either package importing the other. Grounded in the teacher's
// cmd/cli/devnet.go style of YAML-configured components — it unmarshals a
// node list into []core.Config with gopkg.in/yaml.v3, the same library this
// package uses to load its mock table.
package liveio

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// WebMockEntry is one persistent URL-regex mock (spec §4.6 "mock-table
// lookup by URL-regex").
type WebMockEntry struct {
	Status int    `yaml:"status"`
	Body   string `yaml:"body"`
}

// MockTable is the on-disk shape loaded by LoadMockTable — a YAML document
// with separate web and language-model sections, each keyed by regex.
type MockTable struct {
	Web map[string]WebMockEntry `yaml:"web"`
	LLM map[string]string       `yaml:"llm"`
}

// LoadMockTable reads and parses a mock-table YAML file. A missing file is
// not an error — it's the same as an empty table, since both handlers are
// optional per spec §4.6 ("neither is required").
func LoadMockTable(path string) (MockTable, error) {
	if path == "" {
		return MockTable{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return MockTable{}, nil
	}
	if err != nil {
		return MockTable{}, fmt.Errorf("liveio: read mock table %s: %w", path, err)
	}
	var table MockTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return MockTable{}, fmt.Errorf("liveio: parse mock table %s: %w", path, err)
	}
	return table, nil
}

func matchFirst[T any](table map[string]T, subject string) (T, bool) {
	for pattern, entry := range table {
		if ok, _ := regexp.MatchString(pattern, subject); ok {
			return entry, true
		}
	}
	var zero T
	return zero, false
}
