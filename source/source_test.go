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

package source_test

import (
	"io/fs"
	"os"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/ccp/source"
)

func TestLineMap(t *testing.T) {
	t.Parallel()

	var m source.LineMap
	m.AddLine(6) // "hello\n"
	m.AddLine(4) // "abc\n"

	tests := []struct {
		offset, line, start int
	}{
		{0, 1, 0},
		{5, 1, 0},
		{6, 2, 6},
		{9, 2, 6},
		{10, 3, 10},
		{42, 3, 10},
	}
	for _, test := range tests {
		line, start := m.Line(test.offset)
		assert.Equal(t, test.line, line, "offset %d", test.offset)
		assert.Equal(t, test.start, start, "offset %d", test.offset)
	}
	assert.Equal(t, 2, m.Lines())
}

func TestFilePos(t *testing.T) {
	t.Parallel()

	f := source.NewFile("a.c", "int x;\n  héllo y;\n")
	assert.Equal(t, source.Pos{Filename: "a.c", Line: 1, Col: 1, Offset: 0}, f.Pos(0))
	assert.Equal(t, source.Pos{Filename: "a.c", Line: 2, Col: 3, Offset: 9}, f.Pos(9))
	// é is two bytes but one column.
	assert.Equal(t, 8, f.Pos(strings.Index(f.Text(), "o")+1).Col)
	assert.Equal(t, "a.c:2:3", f.Pos(9).String())

	text, err := f.Slice(0, 3)
	require.NoError(t, err)
	assert.Equal(t, "int", text)
	_, err = f.Slice(3, 100)
	assert.Error(t, err)
}

func TestOpeners(t *testing.T) {
	t.Parallel()

	m := source.NewMap(map[string]string{"a.h": "A"})
	fsys := &source.FS{FS: fstest.MapFS{"inc/b.h": {Data: []byte("B")}}}
	openers := source.Openers{m, fsys}

	f, err := openers.Open("a.h")
	require.NoError(t, err)
	assert.Equal(t, "A", f.Text())

	f, err = openers.Open("inc/b.h")
	require.NoError(t, err)
	assert.Equal(t, "B", f.Text())

	_, err = openers.Open("c.h")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestSearchPath(t *testing.T) {
	t.Parallel()

	opener := source.NewMap(map[string]string{
		"src/main.c":      "",
		"src/local.h":     "",
		"quote/q.h":       "",
		"include/local.h": "",
		"include/sys.h":   "",
		"cwd/pre.h":       "",
	})
	sp := &source.SearchPath{
		Opener:      opener,
		QuoteDirs:   []string{"quote"},
		IncludeDirs: []string{"include"},
		WorkDir:     "cwd",
	}

	tests := []struct {
		name string
		mode source.IncludeMode
		want string
	}{
		{"local.h", source.Quoted, "src/local.h"},
		{"local.h", source.Angle, "include/local.h"},
		{"q.h", source.Quoted, "quote/q.h"},
		{"q.h", source.Angle, ""},
		{"sys.h", source.Quoted, "include/sys.h"},
		{"pre.h", source.CWD, "cwd/pre.h"},
		{"missing.h", source.Quoted, ""},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, sp.Resolve(test.name, "src/main.c", test.mode), "%s %v", test.name, test.mode)
	}

	f1, err := sp.Open("src/local.h")
	require.NoError(t, err)
	f2, err := sp.Open("src/local.h")
	require.NoError(t, err)
	assert.Same(t, f1, f2)
}

func TestExpandDirs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, sub := range []string{"a/include", "b/include", "b/src"} {
		require.NoError(t, os.MkdirAll(dir+"/"+sub, 0o755))
	}
	dirs, err := source.ExpandDirs([]string{"plain", dir + "/*/include"})
	require.NoError(t, err)
	assert.Equal(t, []string{"plain", dir + "/a/include", dir + "/b/include"}, dirs)
}

func TestWriter(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	w := source.NewWriter(&b)
	assert.True(t, w.AtLineStart())
	w.Append("int x;")
	assert.False(t, w.AtLineStart())
	w.AppendNewline()
	assert.Equal(t, 2, w.Line())
	w.AppendRange(source.NewFile("f", "a\nb\nc"), 0, 4)
	assert.Equal(t, 4, w.Line())
	require.NoError(t, w.Flush())
	assert.Equal(t, "int x;\na\nb\n", b.String())
}
