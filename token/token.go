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

// Package token defines the preprocessing token model shared by the lexer,
// the preprocessor and the depreprocessor.
//
// Tokens are plain values. Everything that refers to a token does so by its
// index in one of the two append-only sequences kept by a ppresult.Result:
// the raw sequence, as produced by the lexer, and the expanded sequence.
package token

import (
	"fmt"
	"strings"
)

// Range is a half-open range [Begin, End) of token indices.
//
// Depending on context this indexes either raw tokens or expanded tokens.
type Range struct {
	Begin, End int
}

// Point returns the empty range located at i.
func Point(i int) Range {
	return Range{i, i}
}

// Len returns the number of indices in this range.
func (r Range) Len() int {
	return r.End - r.Begin
}

// IsEmpty returns whether this range contains no indices.
func (r Range) IsEmpty() bool {
	return r.Begin == r.End
}

// Contains returns whether i lies in this range.
func (r Range) Contains(i int) bool {
	return r.Begin <= i && i < r.End
}

// Covers returns whether that lies completely within r.
func (r Range) Covers(that Range) bool {
	return r.Begin <= that.Begin && that.End <= r.End
}

// Overlaps returns whether the two ranges share an index. Empty ranges
// overlap a non-empty range if they lie strictly inside it.
func (r Range) Overlaps(that Range) bool {
	if r.IsEmpty() {
		return that.Begin < r.Begin && r.Begin < that.End
	}
	if that.IsEmpty() {
		return r.Begin < that.Begin && that.Begin < r.End
	}
	return r.Begin < that.End && that.Begin < r.End
}

// Union returns the smallest range covering both r and that.
func (r Range) Union(that Range) Range {
	return Range{min(r.Begin, that.Begin), max(r.End, that.End)}
}

// Before returns whether r lies entirely before that.
func (r Range) Before(that Range) bool {
	return r.End <= that.Begin && r != that
}

// String implements [fmt.Stringer].
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Begin, r.End)
}

// Raw is a token exactly as produced by the lexer from one file's bytes.
//
// Value excludes the delimiters and encoding prefix of literals; see
// [Stringify].
type Raw struct {
	Kind  Kind
	Value string

	// Byte offsets of this token in the file it was lexed from.
	Offset, End int
}

// Is returns whether this token is a punctuator spelled p.
func (t Raw) Is(p string) bool {
	return t.Kind == Punctuator && t.Value == p
}

// IsID returns whether this token is the identifier name.
func (t Raw) IsID(name string) bool {
	return t.Kind == ID && t.Value == name
}

// String implements [fmt.Stringer].
func (t Raw) String() string {
	return Stringify(t.Kind, t.Value)
}

// Token is an expanded token: one element of the final preprocessed stream.
type Token struct {
	Kind  Kind
	Value string

	// The raw tokens this token was produced from. For tokens produced by a
	// macro this is the raw range of the whole top-level invocation.
	Source Range
}

// Is returns whether this token is a punctuator spelled p.
func (t Token) Is(p string) bool {
	return t.Kind == Punctuator && t.Value == p
}

// String implements [fmt.Stringer].
func (t Token) String() string {
	return Stringify(t.Kind, t.Value)
}

// Stringify returns the source spelling of a token with the given kind and
// value.
func Stringify(kind Kind, value string) string {
	switch kind {
	case Newline:
		return "\n"
	case Empty, EOF:
		return ""
	}

	prefix, open, closing := kind.delimiters()
	if open == 0 {
		return value
	}

	var b strings.Builder
	b.Grow(len(prefix) + len(value) + 2)
	b.WriteString(prefix)
	b.WriteByte(open)
	b.WriteString(value)
	b.WriteByte(closing)
	return b.String()
}

// Quote escapes s so that it may appear as the value of a [Str] token,
// escaping backslashes and double quotes.
func Quote(s string) string {
	if !strings.ContainsAny(s, `"\`) {
		return s
	}
	var b strings.Builder
	for i := range len(s) {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
