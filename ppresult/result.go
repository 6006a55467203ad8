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

// Package ppresult contains the provenance model produced by the
// preprocessor.
//
// A [Result] owns the sequence of raw tokens lexed from every file, the
// sequence of expanded tokens, and side tables recording directives, macro
// definitions, macro undefs, macro invocations and the inclusion tree. Every
// expanded token refers back to the range of raw tokens it was produced from,
// and every raw range can be mapped to the expanded tokens it produced.
//
// A Result is built by the preprocessor through a [Builder] and is read-only
// afterwards.
package ppresult

import (
	"iter"
	"sort"

	"github.com/bufbuild/ccp/internal/arena"
	"github.com/bufbuild/ccp/internal/interval"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// RawToken is a raw token together with the header node it was lexed from.
type RawToken struct {
	token.Raw
	Header NodeRef
}

// Directive is a preprocessing directive line, including its terminating
// newline.
type Directive struct {
	// The directive name, such as "define", or "" for the null directive.
	Name  string
	Range token.Range
}

// Invocation is a top-level macro invocation: a macro whose expansion was
// not itself part of another macro's replacement list or arguments.
type Invocation struct {
	// The macro invoked. If an invocation's expansion ends in the name of a
	// function-like macro whose arguments follow in the source, both are
	// merged into one invocation of the first macro.
	Macro *Macro
	// The raw tokens spanned by the invocation.
	Raw token.Range
	// The expanded tokens the invocation produced. Every such token has Raw
	// as its source.
	PP token.Range

	// Every macro the expansion depended on.
	Used UsedMacros
	// Every identifier the expansion depended on not being a macro.
	Constraints Constraints

	// Argument tokens substituted verbatim into the expansion.
	Passthrough []Passthrough
}

// Passthrough records that the raw token at index Raw, part of some macro
// argument, appears unmodified as expanded token PP.
type Passthrough struct {
	Raw, PP int
}

// Result is the provenance model of one preprocessing run.
type Result struct {
	raw []RawToken
	pp  []token.Token

	nodes arena.Arena[Node]
	roots []NodeRef

	directives  interval.Map[int, Directive]
	skipped     interval.Map[int, struct{}]
	invocations interval.Map[int, *Invocation]

	macros []*Macro
	undefs []*MacroUndef
}

// Raw returns every raw token. The returned slice must not be modified.
func (r *Result) Raw() []RawToken {
	return r.raw
}

// PP returns every expanded token. The returned slice must not be modified.
func (r *Result) PP() []token.Token {
	return r.pp
}

// Node dereferences a node of the inclusion tree.
func (r *Result) Node(ref NodeRef) *Node {
	return r.nodes.Deref(ref)
}

// Roots returns the roots of the inclusion tree, in preprocessing order.
func (r *Result) Roots() []NodeRef {
	return r.roots
}

// File returns the file the raw token at index was lexed from.
func (r *Result) File(index int) *source.File {
	return r.Node(r.raw[index].Header).File
}

// Pos returns the source position of the raw token at index.
func (r *Result) Pos(index int) source.Pos {
	if len(r.raw) == 0 {
		return source.Pos{}
	}
	index = min(index, len(r.raw)-1)
	return r.File(index).Pos(r.raw[index].Offset)
}

// PPToRaw maps a range of expanded tokens to the range of raw tokens they
// were produced from. An empty range maps to the point where its first
// token's source begins.
func (r *Result) PPToRaw(rng token.Range) token.Range {
	if rng.IsEmpty() {
		switch {
		case rng.Begin < len(r.pp):
			return token.Point(r.pp[rng.Begin].Source.Begin)
		case len(r.pp) > 0:
			return token.Point(r.pp[len(r.pp)-1].Source.End)
		default:
			return token.Point(0)
		}
	}
	return token.Range{
		Begin: r.pp[rng.Begin].Source.Begin,
		End:   r.pp[rng.End-1].Source.End,
	}
}

// RawToPP maps a range of raw tokens to the range of expanded tokens
// produced from it. If rng begins or ends within a macro invocation, the
// result is widened to the whole of the invocation's expansion.
func (r *Result) RawToPP(rng token.Range) token.Range {
	begin := sort.Search(len(r.pp), func(i int) bool {
		src := r.pp[i].Source
		return src.End > rng.Begin || src.Begin >= rng.Begin && !rng.IsEmpty()
	})
	if rng.IsEmpty() {
		return token.Point(begin)
	}
	end := sort.Search(len(r.pp), func(i int) bool {
		return r.pp[i].Source.Begin >= rng.End
	})
	return token.Range{Begin: begin, End: max(begin, end)}
}

// Directives returns the directives overlapping the raw range rng, in order.
func (r *Result) Directives(rng token.Range) iter.Seq[Directive] {
	return func(yield func(Directive) bool) {
		for iv := range r.directives.Overlapping(rng.Begin, rng.End) {
			if !yield(*iv.Value) {
				return
			}
		}
	}
}

// DirectiveAt returns the directive starting at the raw token at index.
func (r *Result) DirectiveAt(index int) (Directive, bool) {
	iv := r.directives.Get(index)
	if iv.Value == nil || iv.Start != index {
		return Directive{}, false
	}
	return *iv.Value, true
}

// Skipped returns the raw ranges within rng that lie in conditional branches
// which were not taken, in order.
func (r *Result) Skipped(rng token.Range) iter.Seq[token.Range] {
	return func(yield func(token.Range) bool) {
		for iv := range r.skipped.Overlapping(rng.Begin, rng.End) {
			if !yield(token.Range{Begin: iv.Start, End: iv.End}) {
				return
			}
		}
	}
}

// Invocations returns the macro invocations overlapping the raw range rng,
// in order.
func (r *Result) Invocations(rng token.Range) iter.Seq[*Invocation] {
	return func(yield func(*Invocation) bool) {
		for iv := range r.invocations.Overlapping(rng.Begin, rng.End) {
			if !yield(*iv.Value) {
				return
			}
		}
	}
}

// InvocationOf returns the invocation the expanded token at index was
// produced by, or nil if it was copied from the input.
func (r *Result) InvocationOf(index int) *Invocation {
	iv := r.invocations.Get(r.pp[index].Source.Begin)
	if iv.Value == nil || !(*iv.Value).PP.Contains(index) {
		return nil
	}
	return *iv.Value
}

// Macros returns every macro ever defined, ordered by [CompareMacros].
func (r *Result) Macros() []*Macro {
	return r.macros
}

// Undefs returns every macro undef, ordered by [CompareUndefs].
func (r *Result) Undefs() []*MacroUndef {
	return r.undefs
}

// MacrosIn returns the macros whose #define directive lies within the raw
// range rng.
func (r *Result) MacrosIn(rng token.Range) []*Macro {
	i := sort.Search(len(r.macros), func(i int) bool {
		m := r.macros[i]
		return m.Origin == FromSource && m.Directive.Begin >= rng.Begin
	})
	j := i
	for j < len(r.macros) && r.macros[j].Directive.End <= rng.End {
		j++
	}
	return r.macros[i:j]
}

// UndefsIn returns the undefs whose #undef directive lies within the raw
// range rng.
func (r *Result) UndefsIn(rng token.Range) []*MacroUndef {
	i := sort.Search(len(r.undefs), func(i int) bool {
		u := r.undefs[i]
		return u.Origin == FromSource && u.Directive.Begin >= rng.Begin
	})
	j := i
	for j < len(r.undefs) && r.undefs[j].Directive.End <= rng.End {
		j++
	}
	return r.undefs[i:j]
}

// Sources returns, for the raw range rng, each maximal subrange lexed from a
// single file together with that file's header node.
func (r *Result) Sources(rng token.Range) iter.Seq2[NodeRef, token.Range] {
	return func(yield func(NodeRef, token.Range) bool) {
		for begin := rng.Begin; begin < rng.End; {
			header := r.raw[begin].Header
			end := begin + 1
			for end < rng.End && r.raw[end].Header == header {
				end++
			}
			if !yield(header, token.Range{Begin: begin, End: end}) {
				return
			}
			begin = end
		}
	}
}
