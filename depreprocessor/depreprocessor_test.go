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

package depreprocessor_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/ccp/depreprocessor"
	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/preprocessor"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

func preprocess(t *testing.T, files map[string]string) (*ppresult.Result, *reporter.Handler) {
	t.Helper()
	sp := &source.SearchPath{Opener: source.NewMap(files)}
	handler := reporter.NewHandler(nil)
	res, err := preprocessor.New(sp, nil, handler).Run("main.c")
	require.NoError(t, err)
	return res, handler
}

func mainRoot(res *ppresult.Result) ppresult.NodeRef {
	roots := res.Roots()
	return roots[len(roots)-1]
}

// declarations returns the expanded tokens of each ";"-terminated piece of
// the output, without surrounding whitespace.
func declarations(res *ppresult.Result) []token.Range {
	pp := res.PP()
	var out []token.Range
	begin := 0
	for i, tok := range pp {
		if !tok.Is(";") {
			continue
		}
		for begin < i && pp[begin].Kind.IsTrivial() {
			begin++
		}
		out = append(out, token.Range{Begin: begin, End: i + 1})
		begin = i + 1
	}
	return out
}

func write(t *testing.T, d *depreprocessor.Depreprocessor) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, d.Write("out.c", &b))
	return b.String()
}

func topLevel(t *testing.T, text string, expand bool) string {
	t.Helper()
	res, handler := preprocess(t, map[string]string{"main.c": text})
	d := depreprocessor.New(res, handler)
	d.AppendTopLevel(mainRoot(res), expand)
	return write(t, d)
}

// assertOrder asserts that each of wants occurs in s, in order.
func assertOrder(t *testing.T, s string, wants ...string) {
	t.Helper()
	at := 0
	for _, want := range wants {
		i := strings.Index(s[at:], want)
		if !assert.GreaterOrEqual(t, i, 0, "%q not found in order in:\n%s", want, s) {
			return
		}
		at += i + len(want)
	}
}

func TestDefineThenExpandedUse(t *testing.T) {
	t.Parallel()
	out := topLevel(t, "#define FOO 1\nFOO", true)
	assertOrder(t, out, "#define FOO 1\n", "\n1\n")
	assert.NotContains(t, out, "\nFOO")
}

func TestKeepInvocation(t *testing.T) {
	t.Parallel()
	out := topLevel(t, "#define FOO 1\nint x = FOO;\n", false)
	assertOrder(t, out, "#define FOO 1\n", "int x = FOO;\n")
	assert.Equal(t, 1, strings.Count(out, "#define"))
}

func TestExpandInvocation(t *testing.T) {
	t.Parallel()
	out := topLevel(t, "#define ADD(a, b) ((a) + (b))\nint x = ADD(1, 2);\n", true)
	assertOrder(t, out, "#define ADD(a, b) ((a) + (b))\n", "int x = ((1) + (2));\n")
}

func TestUnusedDefinesDropped(t *testing.T) {
	t.Parallel()
	out := topLevel(t, "#define UNUSED 1\n#define USED 2\nint x = USED;\n", false)
	assert.NotContains(t, out, "UNUSED")
	assertOrder(t, out, "#define USED 2\n", "int x = USED;\n")
}

func TestFileMarker(t *testing.T) {
	t.Parallel()
	out := topLevel(t, "int x;\n", false)
	assert.Equal(t, "/* klp-ccp: from main.c */\nint x;\n", out)
}

func TestOriginalUndefKept(t *testing.T) {
	t.Parallel()
	out := topLevel(t, "#define X 1\nint a = X;\n#undef X\nint X;\n", false)
	assertOrder(t, out, "#define X 1\n", "int a = X;\n", "#undef X\n", "int X;\n")
}

func TestSynthesizedUndef(t *testing.T) {
	t.Parallel()
	res, handler := preprocess(t, map[string]string{
		"main.c": "int X;\n#define X 1\nint a = X;\n",
	})
	decls := declarations(res)
	require.Len(t, decls, 2)

	// Write the declarations in reverse: X is defined for the first and
	// must go away for the second.
	d := depreprocessor.New(res, handler)
	for _, i := range []int{1, 0} {
		c := depreprocessor.NewChunk(res, decls[i])
		c.CopyRange(decls[i], false)
		d.AppendChunk(c)
	}
	out := write(t, d)
	assertOrder(t, out, "#define X 1\n", "int a = X;\n", "#undef X\nint X;\n")
}

func TestRedefinition(t *testing.T) {
	t.Parallel()
	out := topLevel(t, "#define V 1\nint a = V;\n#undef V\n#define V 2\nint b = V;\n", false)
	assertOrder(t, out, "#define V 1\n", "int a = V;\n", "#undef V\n", "#define V 2\n", "int b = V;\n")
}

func TestFunctionLikeConstraint(t *testing.T) {
	t.Parallel()
	// f is only followed by "(" in the second declaration, where a
	// function-like f must not be defined.
	out := topLevel(t, "#define f(x) x\nint a = f(1);\n#undef f\nint b = f (2);\n", false)
	assertOrder(t, out, "#define f(x) x\n", "int a = f(1);\n", "#undef f\n", "int b = f (2);\n")
}

func TestEditedChunk(t *testing.T) {
	t.Parallel()
	res, handler := preprocess(t, map[string]string{
		"main.c": "int a = 1;\n",
	})
	decls := declarations(res)
	require.Len(t, decls, 1)
	pp := res.PP()

	var a, one int
	for i := decls[0].Begin; i < decls[0].End; i++ {
		switch pp[i].Value {
		case "a":
			a = i
		case "1":
			one = i
		}
	}

	d := depreprocessor.New(res, handler)
	c := depreprocessor.NewChunk(res, decls[0])
	c.CopyRange(decls[0], false)
	c.ReplaceToken(a, token.Token{Kind: token.ID, Value: "p"}, true)
	c.InsertToken(one, token.Token{Kind: token.Punctuator, Value: "-"}, false, false)
	d.AppendChunk(c)
	out := write(t, d)
	assert.Contains(t, out, "int (*p) = -1;\n")
}

func TestRewriteInvocation(t *testing.T) {
	t.Parallel()
	res, handler := preprocess(t, map[string]string{
		"main.c": "#define ID(x) x\nint a = ID(b);\n",
	})
	decls := declarations(res)
	require.Len(t, decls, 1)
	pp := res.PP()

	b := -1
	for i := decls[0].Begin; i < decls[0].End; i++ {
		if pp[i].Value == "b" {
			b = i
		}
	}
	require.GreaterOrEqual(t, b, 0)

	d := depreprocessor.New(res, handler)
	c := depreprocessor.NewChunk(res, decls[0])
	c.CopyRange(decls[0], false)
	c.ReplaceToken(b, token.Token{Kind: token.ID, Value: "renamed"}, false)
	d.AppendChunk(c)
	out := write(t, d)
	assertOrder(t, out, "#define ID(x) x\n", "int a = ID(renamed);\n")
}

func TestConditionals(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		input  string
		wants  []string
		leaked string
	}{
		{
			name:  "else taken",
			input: "#ifdef FOO\nint a;\n#else\nint b;\n#endif\n",
			wants: []string{
				"#ifdef FOO\n#error \"klp-ccp: non-taken branch\"\n#else\n",
				"int b;\n",
				"#endif\n",
			},
			leaked: "int a;",
		},
		{
			name:  "if taken without else",
			input: "#define A 1\n#if A\nint a;\n#endif\n",
			wants: []string{
				"#define A 1\n",
				"#if A\n",
				"int a;\n",
				"#else\n#error \"klp-ccp: non-taken branch\"\n#endif\n",
			},
			leaked: "int b;",
		},
		{
			name:  "elif taken",
			input: "#if 0\nint a;\n#elif 1\nint b;\n#else\nint c;\n#endif\n",
			wants: []string{
				"#if 0\n#error \"klp-ccp: non-taken branch\"\n#elif 1\n",
				"int b;\n",
				"#else\n#error \"klp-ccp: non-taken branch\"\n#endif\n",
			},
			leaked: "int c;",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			out := topLevel(t, test.input, false)
			assertOrder(t, out, test.wants...)
			assert.NotContains(t, out, test.leaked, "non-taken tokens leaked")
		})
	}
}

func TestHeaders(t *testing.T) {
	t.Parallel()

	t.Run("include kept", func(t *testing.T) {
		t.Parallel()
		res, handler := preprocess(t, map[string]string{
			"main.c": "#include \"a.h\"\nint x = FOO;\n",
			"a.h":    "#define FOO 2\n",
		})
		d := depreprocessor.New(res, handler)
		d.AppendTopLevel(mainRoot(res), false)
		out := write(t, d)
		assertOrder(t, out, "#include \"a.h\"\n", "int x = FOO;\n")
		assert.NotContains(t, out, "#define FOO")
	})
	t.Run("undef before include", func(t *testing.T) {
		t.Parallel()
		res, handler := preprocess(t, map[string]string{
			"main.c": "#define N 1\nint a = N;\n#undef N\n#include \"a.h\"\n",
			"a.h":    "int N;\n",
		})
		d := depreprocessor.New(res, handler)
		d.AppendTopLevel(mainRoot(res), false)
		out := write(t, d)
		assertOrder(t, out, "#define N 1\n", "int a = N;\n", "#undef N\n", "#include \"a.h\"\n")
	})
	t.Run("guarded header", func(t *testing.T) {
		t.Parallel()
		res, handler := preprocess(t, map[string]string{
			"main.c": "#include \"a.h\"\nint x = G;\n",
			"a.h":    "#ifndef A_H\n#define A_H\n#define G 3\n#endif\n",
		})
		d := depreprocessor.New(res, handler)
		d.AppendTopLevel(mainRoot(res), false)
		out := write(t, d)
		assertOrder(t, out, "#include \"a.h\"\n", "int x = G;\n")
		assert.NotContains(t, out, "#ifndef")
	})
}

func TestSpecialMacroUndefined(t *testing.T) {
	t.Parallel()
	res, handler := preprocess(t, map[string]string{
		"main.c": "int a = __LINE__;\n#undef __LINE__\nint __LINE__;\n",
	})
	decls := declarations(res)
	require.Len(t, decls, 2)

	d := depreprocessor.New(res, handler)
	for _, i := range []int{1, 0} {
		c := depreprocessor.NewChunk(res, decls[i])
		c.CopyRange(decls[i], false)
		d.AppendChunk(c)
	}
	var b strings.Builder
	err := d.Write("out.c", &b)
	require.ErrorIs(t, err, reporter.ErrInvalidSource)
	assertOrder(t, b.String(),
		"#undef __LINE__\n",
		"int __LINE__;\n",
		"#error \"required special macro __LINE__ has been undefined before\"\n",
		"int a = __LINE__;\n",
	)
	assert.True(t, handler.Remarks().AnyFatal())
}

func TestPlacementSoundness(t *testing.T) {
	t.Parallel()
	res, handler := preprocess(t, map[string]string{
		"main.c": "#define A 1\nint x = A;\n#undef A\nint A;\n#define A 2\nint y = A;\n",
	})
	decls := declarations(res)
	require.Len(t, decls, 3)

	d := depreprocessor.New(res, handler)
	for _, i := range []int{2, 1, 0} {
		c := depreprocessor.NewChunk(res, decls[i])
		c.CopyRange(decls[i], false)
		d.AppendChunk(c)
	}
	out := write(t, d)
	assertOrder(t, out,
		"#define A 2\n", "int y = A;\n",
		"#undef A\n", "int A;\n",
		"#define A 1\n", "int x = A;\n",
	)
}

func TestWriteOnce(t *testing.T) {
	t.Parallel()
	res, handler := preprocess(t, map[string]string{"main.c": "int x;\n"})
	d := depreprocessor.New(res, handler)
	d.AppendTopLevel(mainRoot(res), false)
	var b strings.Builder
	require.NoError(t, d.Write("out.c", &b))
	require.Error(t, d.Write("out.c", &b))
}
