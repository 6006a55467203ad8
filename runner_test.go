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

package ccp_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/ccp"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
)

func format(t *testing.T, u *ccp.Unit) []string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, u.Format(&b))
	return strings.Fields(b.String())
}

func TestRun(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		config ccp.Config
		files  map[string]string
		want   []string
	}{
		{
			name:  "builtins",
			files: map[string]string{"main.c": "__STDC__ __STDC_VERSION__ __STDC_HOSTED__\n"},
			want:  []string{"1", "201710L", "1"},
		},
		{
			name:   "custom builtins",
			config: ccp.Config{Builtins: map[string]string{"__GNUC__": "4", "__has_x(x)": "0"}},
			files:  map[string]string{"main.c": "__GNUC__ __has_x(y) __STDC__\n"},
			// Custom builtins replace the default ones.
			want: []string{"4", "0", "__STDC__"},
		},
		{
			name:   "defines",
			config: ccp.Config{Defines: []string{"A=2", "F(x)=x+1", "B", "E="}},
			files:  map[string]string{"main.c": "A F(3) B E;\n"},
			want:   []string{"2", "3", "+1", "1", ";"},
		},
		{
			name:   "undefines",
			config: ccp.Config{Defines: []string{"A"}, Undefines: []string{"A", "__STDC_HOSTED__"}},
			files:  map[string]string{"main.c": "A __STDC_HOSTED__\n"},
			want:   []string{"A", "__STDC_HOSTED__"},
		},
		{
			name:   "preincludes",
			config: ccp.Config{Preincludes: []string{"pre.h"}},
			files: map[string]string{
				"pre.h":  "#define P 7\n",
				"main.c": "P\n",
			},
			want: []string{"7"},
		},
		{
			name:   "include dirs",
			config: ccp.Config{IncludeDirs: []string{"inc"}, QuoteDirs: []string{"quote"}},
			files: map[string]string{
				"inc/a.h":   "int a;\n",
				"quote/b.h": "int b;\n",
				"main.c":    "#include <a.h>\n#include \"b.h\"\n",
			},
			want: []string{"int", "a;", "int", "b;"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			runner := ccp.Runner{
				Config:  test.config,
				Opener:  source.NewMap(test.files),
				WorkDir: ".",
			}
			units, err := runner.Run(context.Background(), "main.c")
			require.NoError(t, err)
			require.Len(t, units, 1)
			assert.Equal(t, "main.c", units[0].Path)
			assert.Equal(t, test.want, format(t, units[0]))
		})
	}
}

func TestRunParallel(t *testing.T) {
	t.Parallel()
	files := make(map[string]string)
	var names []string
	for i := range 20 {
		name := fmt.Sprintf("unit%d.c", i)
		files[name] = fmt.Sprintf("#define N %d\nint x = N;\n", i)
		names = append(names, name)
	}
	runner := ccp.Runner{
		Config: ccp.Config{MaxParallelism: 3},
		Opener: source.NewMap(files),
	}
	units, err := runner.Run(context.Background(), names...)
	require.NoError(t, err)
	require.Len(t, units, len(names))
	for i, u := range units {
		assert.Equal(t, names[i], u.Path)
		assert.Equal(t, []string{"int", "x", "=", fmt.Sprintf("%d;", i)}, format(t, u))
	}
}

func TestRunErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		config ccp.Config
		files  map[string]string
		kind   error
	}{
		{
			name:  "error directive",
			files: map[string]string{"main.c": "#error boom\n"},
			kind:  reporter.ErrDirective,
		},
		{
			name:  "missing file",
			files: map[string]string{},
			kind:  reporter.ErrIO,
		},
		{
			name:   "missing preinclude",
			config: ccp.Config{Preincludes: []string{"nope.h"}},
			files:  map[string]string{"main.c": "int x;\n"},
			kind:   reporter.ErrResolution,
		},
		{
			name:   "bad builtin",
			config: ccp.Config{Builtins: map[string]string{"F(a,,b)": ""}},
			files:  map[string]string{"main.c": "int x;\n"},
			kind:   reporter.ErrDirective,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			var reported []reporter.ErrorWithPos
			runner := ccp.Runner{
				Config:  test.config,
				Opener:  source.NewMap(test.files),
				WorkDir: ".",
				Reporter: reporter.NewReporter(func(err reporter.ErrorWithPos) error {
					reported = append(reported, err)
					return err
				}, nil),
			}
			_, err := runner.Run(context.Background(), "main.c")
			require.ErrorIs(t, err, test.kind)
			assert.Len(t, reported, 1)
		})
	}
}

func TestRunNoFiles(t *testing.T) {
	t.Parallel()
	units, err := (&ccp.Runner{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestUnitDepreprocess(t *testing.T) {
	t.Parallel()
	runner := ccp.Runner{
		Config: ccp.Config{Defines: []string{"WIDTH=80"}},
		Opener: source.NewMap(map[string]string{
			"main.c": "#define FOO 1\n#define BAR 2\nint x = FOO;\nint w = WIDTH;\n",
		}),
	}
	units, err := runner.Run(context.Background(), "main.c")
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, units[0].Depreprocess("out.c", &b, false))
	out := b.String()
	assert.Contains(t, out, "#define WIDTH 80\n")
	assert.Contains(t, out, "#define FOO 1\n")
	assert.NotContains(t, out, "BAR")
	assert.Contains(t, out, "int x = FOO;\n")
	assert.Contains(t, out, "int w = WIDTH;\n")
	assert.Empty(t, units[0].Remarks())

	b.Reset()
	units, err = runner.Run(context.Background(), "main.c")
	require.NoError(t, err)
	require.NoError(t, units[0].Depreprocess("out.c", &b, true))
	assert.Contains(t, b.String(), "int x = 1;\n")
	assert.Contains(t, b.String(), "int w = 80;\n")
}
