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

package token_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/ccp/token"
)

func TestStringify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind  token.Kind
		value string
		want  string
	}{
		{token.ID, "foo", "foo"},
		{token.Str, `a\"b`, `"a\"b"`},
		{token.WStr, "x", `L"x"`},
		{token.UStr8, "x", `u8"x"`},
		{token.Chr, "c", `'c'`},
		{token.UChr32, "c", `U'c'`},
		{token.HStr, "stdio.h", "<stdio.h>"},
		{token.QStr, "a.h", `"a.h"`},
		{token.Newline, "", "\n"},
		{token.Empty, "", ""},
		{token.Punctuator, "->", "->"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, token.Stringify(test.kind, test.value), "%v %q", test.kind, test.value)
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "plain", token.Quote("plain"))
	assert.Equal(t, `\"a\\\"b\"`, token.Quote(`"a\"b"`))
}

func TestRange(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	r := token.Range{2, 5}
	assert.Equal(3, r.Len())
	assert.True(r.Contains(2))
	assert.False(r.Contains(5))
	assert.True(r.Covers(token.Range{3, 5}))
	assert.False(r.Covers(token.Range{1, 3}))
	assert.True(r.Overlaps(token.Range{4, 9}))
	assert.False(r.Overlaps(token.Range{5, 9}))
	assert.True(r.Overlaps(token.Point(3)))
	assert.False(r.Overlaps(token.Point(2)))
	assert.Equal(token.Range{0, 5}, r.Union(token.Range{0, 1}))
	assert.True(token.Range{0, 2}.Before(r))
}

func TestConcat(t *testing.T) {
	t.Parallel()

	type tok struct {
		kind  token.Kind
		value string
	}
	tests := []struct {
		name        string
		left, right tok
		want        tok
		err         bool
	}{
		{name: "ids", left: tok{token.ID, "x"}, right: tok{token.ID, "y"}, want: tok{token.ID, "xy"}},
		{name: "id-number", left: tok{token.ID, "x"}, right: tok{token.PPNumber, "12"}, want: tok{token.ID, "x12"}},
		{name: "id-bad-number", left: tok{token.ID, "x"}, right: tok{token.PPNumber, "1.2"}, err: true},
		{name: "number-id", left: tok{token.PPNumber, "1"}, right: tok{token.ID, "e"}, want: tok{token.PPNumber, "1e"}},
		{name: "exponent", left: tok{token.PPNumber, "1e"}, right: tok{token.Punctuator, "-"}, want: tok{token.PPNumber, "1e-"}},
		{name: "no-exponent", left: tok{token.PPNumber, "1"}, right: tok{token.Punctuator, "-"}, err: true},
		{name: "dot-number", left: tok{token.Punctuator, "."}, right: tok{token.PPNumber, "5"}, want: tok{token.PPNumber, ".5"}},
		{name: "punctuators", left: tok{token.Punctuator, "+"}, right: tok{token.Punctuator, "="}, want: tok{token.Punctuator, "+="}},
		{name: "hashes", left: tok{token.Punctuator, "#"}, right: tok{token.Punctuator, "#"}, want: tok{token.Punctuator, "##"}},
		{name: "bad-punctuators", left: tok{token.Punctuator, "+"}, right: tok{token.Punctuator, "/"}, err: true},
		{name: "strings", left: tok{token.Str, "a"}, right: tok{token.Str, "b"}, err: true},
		{name: "chars", left: tok{token.Chr, "a"}, right: tok{token.Chr, "b"}, err: true},
		{name: "prefix", left: tok{token.ID, "L"}, right: tok{token.Str, "b"}, want: tok{token.WStr, "b"}},
		{name: "placemarker-left", left: tok{token.Empty, ""}, right: tok{token.Str, "b"}, want: tok{token.Str, "b"}},
		{name: "placemarker-right", left: tok{token.ID, "a"}, right: tok{token.Empty, ""}, want: tok{token.ID, "a"}},
		{name: "mixed", left: tok{token.ID, "a"}, right: tok{token.Punctuator, "+"}, err: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			kind, value, err := token.Concat(test.left.kind, test.left.value, test.right.kind, test.right.value)
			if test.err {
				var concatErr *token.ConcatError
				require.ErrorAs(t, err, &concatErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, tok{kind, value})
		})
	}
}

func TestAdjacency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lk     token.Kind
		lv     string
		rk     token.Kind
		rv     string
		expect token.Separation
	}{
		{token.Punctuator, "+", token.Punctuator, "+", token.Separate},
		{token.Punctuator, "-", token.Punctuator, ">", token.Separate},
		{token.Punctuator, "+", token.Punctuator, "-", token.NoSeparation},
		{token.ID, "a", token.ID, "b", token.Separate},
		{token.ID, "a", token.PPNumber, "1", token.Separate},
		{token.PPNumber, "1", token.Punctuator, ".", token.Separate},
		{token.Punctuator, ".", token.PPNumber, "1", token.Separate},
		{token.Punctuator, "<", token.Punctuator, "<=", token.Separate},
		{token.Punctuator, ":", token.Punctuator, ":", token.SeparateIfSynthesized},
		{token.Punctuator, "#", token.Punctuator, "#", token.SeparateIfSynthesized},
		{token.Punctuator, "(", token.ID, "x", token.NoSeparation},
		{token.Str, "x", token.ID, "y", token.NoSeparation},
	}
	for _, test := range tests {
		assert.Equal(t, test.expect, token.Adjacency(test.lk, test.lv, test.rk, test.rv),
			"%s %s", token.Stringify(test.lk, test.lv), token.Stringify(test.rk, test.rv))
	}
}

func TestIsPunctuator(t *testing.T) {
	t.Parallel()
	for _, p := range token.Punctuators {
		assert.True(t, token.IsPunctuator(p), p)
	}
	assert.True(t, token.IsPunctuator("#"))
	assert.False(t, token.IsPunctuator("+/"))
	assert.False(t, token.IsPunctuator("@"))
}
