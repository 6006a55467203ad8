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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()
	cfg, err := ParseConfig([]byte(`
include_dirs: [include, "arch/*/include"]
quote_dirs: [.]
defines:
  - DEBUG
  - "MAX(a,b)=((a) > (b) ? (a) : (b))"
undefines: [__STDC_HOSTED__]
preincludes: [config.h]
builtins:
  __GNUC__: "4"
max_parallelism: 2
`))
	require.NoError(t, err)
	want := &Config{
		IncludeDirs:    []string{"include", "arch/*/include"},
		QuoteDirs:      []string{"."},
		Defines:        []string{"DEBUG", "MAX(a,b)=((a) > (b) ? (a) : (b))"},
		Undefines:      []string{"__STDC_HOSTED__"},
		Preincludes:    []string{"config.h"},
		Builtins:       map[string]string{"__GNUC__": "4"},
		MaxParallelism: 2,
	}
	assert.Empty(t, cmp.Diff(want, cfg))

	cfg, err = ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)

	_, err = ParseConfig([]byte("include_dir: [x]\n"))
	require.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ccp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defines: [A=1]\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A=1"}, cfg.Defines)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigMerge(t *testing.T) {
	t.Parallel()
	cfg := Config{
		IncludeDirs:    []string{"a"},
		Defines:        []string{"X"},
		MaxParallelism: 4,
	}
	assert.Equal(t, DefaultBuiltins, cfg.builtins())

	cfg.Merge(&Config{
		IncludeDirs: []string{"b"},
		Defines:     []string{"Y=2"},
		Undefines:   []string{"Z"},
		Builtins:    map[string]string{"__GNUC__": "4"},
	})
	assert.Equal(t, []string{"a", "b"}, cfg.IncludeDirs)
	assert.Equal(t, []string{"X", "Y=2"}, cfg.Defines)
	assert.Equal(t, []string{"Z"}, cfg.Undefines)
	assert.Equal(t, 4, cfg.MaxParallelism)
	assert.Equal(t, map[string]string{"__GNUC__": "4"}, cfg.builtins())

	cfg.Merge(&Config{MaxParallelism: 1})
	assert.Equal(t, 1, cfg.MaxParallelism)
}

func TestSplitDefine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		def, sig, repl string
	}{
		{"A", "A", "1"},
		{"A=", "A", ""},
		{"A=b=c", "A", "b=c"},
		{"F(x)=x+1", "F(x)", "x+1"},
	}
	for _, test := range tests {
		sig, repl := splitDefine(test.def)
		assert.Equal(t, test.sig, sig, test.def)
		assert.Equal(t, test.repl, repl, test.def)
	}
}

func TestParseSignature(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sig      string
		name     string
		params   []string
		variadic bool
		err      bool
	}{
		{sig: "A", name: "A"},
		{sig: " A ", name: "A"},
		{sig: "F()", name: "F", params: []string{}},
		{sig: "F(a, b)", name: "F", params: []string{"a", "b"}},
		{sig: "F(a, ...)", name: "F", params: []string{"a"}, variadic: true},
		{sig: "F(...)", name: "F", params: []string{}, variadic: true},
		{sig: "", err: true},
		{sig: "(a)", err: true},
		{sig: "F(a", err: true},
		{sig: "F(a,,b)", err: true},
		{sig: "F(..., a)", err: true},
	}
	for _, test := range tests {
		t.Run(test.sig, func(t *testing.T) {
			t.Parallel()
			name, params, variadic, err := parseSignature(test.sig)
			if test.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.name, name)
			assert.Equal(t, test.params, params)
			assert.Equal(t, test.variadic, variadic)
		})
	}
}
