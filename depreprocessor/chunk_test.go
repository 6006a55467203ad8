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

package depreprocessor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/preprocessor"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// Expanded token indices of threeDecls:
//
//	int a = 1; int b = 2; int c = 3;\n
//	0  2   4 67  9  11  15   18  20  24
const threeDecls = "int a = 1; int b = 2; int c = 3;\n"

func preprocess(t *testing.T, text string) *ppresult.Result {
	t.Helper()
	sp := &source.SearchPath{Opener: source.NewMap(map[string]string{"main.c": text})}
	res, err := preprocessor.New(sp, nil, reporter.NewHandler(nil)).Run("main.c")
	require.NoError(t, err)
	return res
}

type opSummary struct {
	Action string
	Range  token.Range
}

func summarize(c *Chunk) []opSummary {
	out := make([]opSummary, len(c.ops))
	for i, o := range c.ops {
		out[i] = opSummary{o.action.String(), o.rng}
	}
	return out
}

func checkInvariant(t *testing.T, c *Chunk) {
	t.Helper()
	for i, o := range c.ops {
		assert.LessOrEqual(t, o.rng.Begin, o.rng.End, "op %d", i)
		if i > 0 {
			assert.LessOrEqual(t, c.ops[i-1].rng.End, o.rng.Begin, "ops %d and %d overlap", i-1, i)
		}
	}
}

func rng(begin, end int) token.Range {
	return token.Range{Begin: begin, End: end}
}

func TestChunkOps(t *testing.T) {
	t.Parallel()
	res := preprocess(t, threeDecls)
	require.Len(t, res.PP(), 27)

	c := NewChunk(res, rng(0, 27))
	c.CopyRange(rng(0, 8), false)
	c.CopyRange(rng(9, 17), false)
	checkInvariant(t, c)
	// Only whitespace lies between the two copies.
	assert.Empty(t, cmp.Diff([]opSummary{{"copy", rng(0, 17)}}, summarize(c)))

	c.PurgeRange(rng(2, 3), false)
	checkInvariant(t, c)
	assert.Empty(t, cmp.Diff([]opSummary{
		{"copy", rng(0, 2)},
		{"copy", rng(3, 17)},
	}, summarize(c)))

	c.ReplaceToken(6, token.Token{Kind: token.PPNumber, Value: "42"}, false)
	checkInvariant(t, c)
	assert.Empty(t, cmp.Diff([]opSummary{
		{"copy", rng(0, 2)},
		{"copy", rng(3, 6)},
		{"replace", rng(6, 7)},
		{"copy", rng(7, 17)},
	}, summarize(c)))

	c.InsertToken(9, token.Token{Kind: token.ID, Value: "static"}, false, true)
	checkInvariant(t, c)
	assert.Empty(t, cmp.Diff([]opSummary{
		{"copy", rng(0, 2)},
		{"copy", rng(3, 6)},
		{"replace", rng(6, 7)},
		{"copy", rng(7, 9)},
		{"insert", rng(9, 9)},
		{"insert-ws", rng(9, 9)},
		{"copy", rng(9, 17)},
	}, summarize(c)))
	assert.Equal(t, stickyRight, c.ops[4].sticky)

	head := c.SplitHeadOff(rng(8, 9))
	checkInvariant(t, head)
	checkInvariant(t, c)
	assert.Equal(t, rng(0, 8), head.Bounds())
	assert.Equal(t, rng(9, 27), c.Bounds())
	assert.Empty(t, cmp.Diff([]opSummary{
		{"copy", rng(0, 2)},
		{"copy", rng(3, 6)},
		{"replace", rng(6, 7)},
		{"copy", rng(7, 8)},
	}, summarize(head)))
	assert.Empty(t, cmp.Diff([]opSummary{
		{"insert", rng(9, 9)},
		{"insert-ws", rng(9, 9)},
		{"copy", rng(9, 17)},
	}, summarize(c)))
}

func TestChunkInvariantUnderEdits(t *testing.T) {
	t.Parallel()
	res := preprocess(t, threeDecls)

	type edit func(c *Chunk)
	tests := []struct {
		name  string
		edits []edit
	}{
		{
			name: "purge everything",
			edits: []edit{
				func(c *Chunk) { c.CopyRange(rng(0, 26), false) },
				func(c *Chunk) { c.PurgeRange(rng(0, 26), true) },
			},
		},
		{
			name: "overlapping copies",
			edits: []edit{
				func(c *Chunk) { c.CopyRange(rng(0, 10), false) },
				func(c *Chunk) { c.CopyRange(rng(5, 20), true) },
				func(c *Chunk) { c.CopyRange(rng(18, 26), false) },
			},
		},
		{
			name: "replace twice",
			edits: []edit{
				func(c *Chunk) { c.CopyRange(rng(0, 26), false) },
				func(c *Chunk) { c.ReplaceToken(2, token.Token{Kind: token.ID, Value: "x"}, true) },
				func(c *Chunk) { c.ReplaceToken(2, token.Token{Kind: token.ID, Value: "y"}, false) },
			},
		},
		{
			name: "inserts at one point",
			edits: []edit{
				func(c *Chunk) { c.CopyRange(rng(0, 26), false) },
				func(c *Chunk) { c.InsertToken(4, token.Token{Kind: token.Punctuator, Value: "*"}, true, false) },
				func(c *Chunk) { c.InsertToken(4, token.Token{Kind: token.ID, Value: "p"}, false, true) },
				func(c *Chunk) { c.PurgeRange(rng(2, 4), false) },
			},
		},
		{
			name: "purge across ops",
			edits: []edit{
				func(c *Chunk) { c.CopyRange(rng(0, 26), false) },
				func(c *Chunk) { c.ReplaceToken(11, token.Token{Kind: token.ID, Value: "z"}, false) },
				func(c *Chunk) { c.InsertToken(15, token.Token{Kind: token.PPNumber, Value: "0"}, false, false) },
				func(c *Chunk) { c.PurgeRange(rng(9, 20), true) },
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			c := NewChunk(res, rng(0, 27))
			for _, e := range test.edits {
				e(c)
				checkInvariant(t, c)
			}
		})
	}
}

func TestChunkTrim(t *testing.T) {
	t.Parallel()
	res := preprocess(t, threeDecls)

	c := NewChunk(res, rng(0, 27))
	c.PurgeRange(rng(0, 2), true)
	c.CopyRange(rng(2, 8), true)
	c.PurgeRange(rng(8, 9), true)
	c.PurgeRange(rng(9, 10), true)
	c.CopyRange(rng(11, 17), true)
	c.PurgeRange(rng(17, 27), true)
	c.trim()
	checkInvariant(t, c)

	var actions []string
	for _, o := range c.ops {
		actions = append(actions, o.action.String())
	}
	assert.Equal(t, []string{"copy", "insert-ws", "copy"}, actions)
}

func TestFindConstraints(t *testing.T) {
	t.Parallel()
	// int x = FOO;\n
	// 0   2   4 6 7
	res := preprocess(t, "#define FOO 1\nint x = FOO;\n")
	foo := res.Macros()[len(res.Macros())-1]
	require.Equal(t, "FOO", foo.Name)

	t.Run("kept", func(t *testing.T) {
		t.Parallel()
		c := NewChunk(res, rng(0, 8))
		c.CopyRange(rng(0, 8), false)
		recs, _ := c.findConstraints(false)
		assert.Empty(t, c.expanded)
		assert.Contains(t, recs, record{pos: chunkPos{0, 6}, macro: foo})
		assert.Contains(t, recs, record{pos: chunkPos{0, 0}, constraint: ppresult.Constraint{Name: "int", FuncLikeAllowed: true}})
		assert.Contains(t, recs, record{pos: chunkPos{0, 2}, constraint: ppresult.Constraint{Name: "x", FuncLikeAllowed: true}})
	})
	t.Run("expanded", func(t *testing.T) {
		t.Parallel()
		c := NewChunk(res, rng(0, 8))
		c.CopyRange(rng(0, 8), false)
		c.EmitExpanded(rng(0, 8))
		recs, _ := c.findConstraints(false)
		assert.Equal(t, []token.Range{rng(6, 7)}, c.expanded)
		assert.True(t, c.isExpanded(6))
		assert.False(t, c.isExpanded(7))
		assert.Contains(t, recs, record{pos: chunkPos{0, 7}, macro: foo})
	})
	t.Run("parenthesized", func(t *testing.T) {
		t.Parallel()
		c := NewChunk(res, rng(0, 8))
		c.CopyRange(rng(0, 3), false)
		c.InsertToken(3, token.Token{Kind: token.Punctuator, Value: "("}, false, false)
		recs, nextIsParen := c.findConstraints(false)
		assert.False(t, nextIsParen)
		assert.Contains(t, recs, record{pos: chunkPos{0, 2}, constraint: ppresult.Constraint{Name: "x"}})
	})
}

func TestDirectiveRangeToPos(t *testing.T) {
	t.Parallel()
	// Raw: int a = 1; \n #define B 2 \n int c = B;
	res := preprocess(t, "int a = 1;\n#define B 2\nint c = B;\n")
	pp := res.PP()
	var newline int
	for i, tok := range pp {
		if tok.Kind == token.Newline {
			newline = i
			break
		}
	}

	c := NewChunk(res, rng(0, len(pp)))
	c.CopyRange(rng(0, len(pp)), false)
	macro := res.Macros()[len(res.Macros())-1]
	require.Equal(t, "B", macro.Name)

	// The directive goes right after the newline ending the first line.
	assert.Equal(t, chunkPos{0, newline + 1}, c.directiveRangeToPos(macro.Directive))
	assert.Equal(t, chunkPos{0, 0}, c.directiveRangeToPos(token.Point(0)))
	assert.Equal(t, c.end(), c.directiveRangeToPos(token.Point(len(res.Raw()))))
}
