// Copyright 2020-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ccp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes how translation units are preprocessed.
//
// The YAML form uses the snake_case keys given in the field tags:
//
//	include_dirs: [include, "arch/*/include"]
//	defines: ["DEBUG", "VERSION=3", "MAX(a,b)=((a) > (b) ? (a) : (b))"]
//	undefines: [__STDC_HOSTED__]
//	max_parallelism: 4
type Config struct {
	// Directories searched for all includes, as with -I. Entries may be
	// doublestar glob patterns, which are expanded to the matching
	// directories.
	IncludeDirs []string `yaml:"include_dirs"`
	// Directories searched for quoted includes only, as with -iquote.
	QuoteDirs []string `yaml:"quote_dirs"`
	// Command-line macro definitions, as with -D. Each entry is NAME,
	// NAME=REPLACEMENT or NAME(PARAMS)=REPLACEMENT. A bare NAME is defined
	// to 1.
	Defines []string `yaml:"defines"`
	// Macros undefined after all definitions were made, as with -U.
	Undefines []string `yaml:"undefines"`
	// Files processed before each translation unit, as with -include.
	Preincludes []string `yaml:"preincludes"`
	// The target's builtin macros, from signature to replacement. If nil,
	// [DefaultBuiltins] is used.
	Builtins map[string]string `yaml:"builtins"`
	// The maximum number of translation units processed at once. If
	// non-positive, min(runtime.NumCPU(), runtime.GOMAXPROCS(-1)) is used.
	MaxParallelism int `yaml:"max_parallelism"`
}

// DefaultBuiltins are the builtin macros of a hosted C17 target.
var DefaultBuiltins = map[string]string{
	"__STDC__":         "1",
	"__STDC_VERSION__": "201710L",
	"__STDC_HOSTED__":  "1",
}

// ParseConfig parses a YAML configuration. Unknown keys are an error.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads and parses the YAML configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Merge overlays other onto c: list entries of other are appended after
// those of c, builtins of other are added to those of c, and a positive
// MaxParallelism of other wins.
func (c *Config) Merge(other *Config) {
	c.IncludeDirs = append(c.IncludeDirs, other.IncludeDirs...)
	c.QuoteDirs = append(c.QuoteDirs, other.QuoteDirs...)
	c.Defines = append(c.Defines, other.Defines...)
	c.Undefines = append(c.Undefines, other.Undefines...)
	c.Preincludes = append(c.Preincludes, other.Preincludes...)
	if other.Builtins != nil {
		if c.Builtins == nil {
			c.Builtins = make(map[string]string, len(other.Builtins))
		}
		maps.Copy(c.Builtins, other.Builtins)
	}
	if other.MaxParallelism > 0 {
		c.MaxParallelism = other.MaxParallelism
	}
}

func (c *Config) builtins() map[string]string {
	if c.Builtins == nil {
		return DefaultBuiltins
	}
	return c.Builtins
}

// splitDefine splits a -D style definition into its signature and
// replacement list.
func splitDefine(def string) (signature, repl string) {
	signature, repl, ok := strings.Cut(def, "=")
	if !ok {
		return def, "1"
	}
	return signature, repl
}

// parseSignature parses a macro signature, such as NAME or NAME(a, ...). A
// nil params means the macro is object-like.
func parseSignature(sig string) (name string, params []string, variadic bool, err error) {
	name, rest, funcLike := strings.Cut(strings.TrimSpace(sig), "(")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, false, fmt.Errorf("macro signature %q has no name", sig)
	}
	if !funcLike {
		return name, nil, false, nil
	}
	rest, ok := strings.CutSuffix(strings.TrimSpace(rest), ")")
	if !ok {
		return "", nil, false, fmt.Errorf("macro signature %q: missing ')'", sig)
	}
	params = []string{}
	if strings.TrimSpace(rest) == "" {
		return name, params, false, nil
	}
	fields := strings.Split(rest, ",")
	for i, field := range fields {
		field = strings.TrimSpace(field)
		switch {
		case field == "...":
			if i != len(fields)-1 {
				return "", nil, false, fmt.Errorf("macro signature %q: '...' must come last", sig)
			}
			variadic = true
		case field == "":
			return "", nil, false, fmt.Errorf("macro signature %q: empty parameter", sig)
		default:
			params = append(params, field)
		}
	}
	return name, params, variadic, nil
}
