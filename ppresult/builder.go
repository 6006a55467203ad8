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

package ppresult

import (
	"fmt"

	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// Builder appends to a [Result] while preprocessing.
//
// Raw and expanded tokens, and every side-table record, must be appended in
// input order. The only way to remove anything is [Builder.DropPPTail].
type Builder struct {
	res *Result
	// Open nodes of the inclusion tree, innermost last.
	open []NodeRef
	// The innermost open header.
	header NodeRef
}

// NewBuilder returns a builder for a new, empty result.
func NewBuilder() *Builder {
	return &Builder{res: new(Result)}
}

// Result returns the result being built.
func (b *Builder) Result() *Result {
	return b.res
}

// RawLen returns the number of raw tokens appended so far.
func (b *Builder) RawLen() int {
	return len(b.res.raw)
}

// PPLen returns the number of expanded tokens appended so far.
func (b *Builder) PPLen() int {
	return len(b.res.pp)
}

// AppendRaw appends a raw token lexed from the innermost open header,
// returning its index.
func (b *Builder) AppendRaw(tok token.Raw) int {
	if b.header.Nil() {
		panic("ppresult: raw token appended outside of any header")
	}
	b.res.raw = append(b.res.raw, RawToken{Raw: tok, Header: b.header})
	return len(b.res.raw) - 1
}

// AppendPP appends an expanded token, returning its index.
func (b *Builder) AppendPP(tok token.Token) int {
	b.res.pp = append(b.res.pp, tok)
	return len(b.res.pp) - 1
}

// AddDirective records a directive.
func (b *Builder) AddDirective(d Directive) {
	if overlap := b.res.directives.Insert(d.Range.Begin, d.Range.End, d); overlap.Value != nil {
		panic(fmt.Sprintf("ppresult: directive %v overlaps %v", d.Range, overlap.Value.Range))
	}
}

// AddSkipped records a raw range within a branch that was not taken.
func (b *Builder) AddSkipped(rng token.Range) {
	if rng.IsEmpty() {
		return
	}
	b.res.skipped.Insert(rng.Begin, rng.End, struct{}{})
}

// AddMacro records a macro definition.
func (b *Builder) AddMacro(m *Macro) {
	b.res.macros = append(b.res.macros, m)
}

// AddUndef records a macro undef.
func (b *Builder) AddUndef(u *MacroUndef) {
	b.res.undefs = append(b.res.undefs, u)
}

// AddInvocation records a new top-level macro invocation.
func (b *Builder) AddInvocation(inv *Invocation) {
	if overlap := b.res.invocations.Insert(inv.Raw.Begin, inv.Raw.End, inv); overlap.Value != nil {
		panic(fmt.Sprintf("ppresult: invocation at %v overlaps %v", inv.Raw, (*overlap.Value).Raw))
	}
}

// ExtendInvocation widens the last recorded invocation to cover raw, and its
// expansion to end at ppEnd. The sources of the invocation's expanded tokens
// are updated accordingly.
func (b *Builder) ExtendInvocation(inv *Invocation, raw token.Range, ppEnd int) {
	b.res.invocations.DeleteFrom(inv.Raw.Begin)
	inv.Raw = inv.Raw.Union(raw)
	inv.PP.End = ppEnd
	for i := inv.PP.Begin; i < inv.PP.End; i++ {
		b.res.pp[i].Source = inv.Raw
	}
	b.AddInvocation(inv)
}

// DropPPTail removes every expanded token from index n onwards, together
// with the invocations lying entirely within the removed tokens. It returns
// everything the removed invocations depended on.
func (b *Builder) DropPPTail(n int) (UsedMacros, Constraints) {
	var used UsedMacros
	var constraints Constraints
	if n >= len(b.res.pp) {
		return used, constraints
	}
	for _, iv := range b.res.invocations.DeleteFrom(b.res.pp[n].Source.Begin) {
		inv := *iv.Value
		if inv.PP.Begin < n {
			// Straddles the cut; keep it.
			b.AddInvocation(inv)
			continue
		}
		used.AddAll(inv.Used)
		constraints.AddAll(inv.Constraints)
	}
	b.res.pp = b.res.pp[:n]
	return used, constraints
}

// EnterRoot opens a new root of the inclusion tree for file.
func (b *Builder) EnterRoot(file *source.File) NodeRef {
	if len(b.open) > 0 {
		panic("ppresult: root entered within another node")
	}
	ref := b.res.nodes.New(Node{
		Kind:  HeaderRoot,
		File:  file,
		Range: token.Point(len(b.res.raw)),
		Taken: -1,
	})
	b.res.roots = append(b.res.roots, ref)
	b.push(ref)
	return ref
}

// EnterHeader opens a node for a file #include'd by the directive at
// include.
func (b *Builder) EnterHeader(file *source.File, include token.Range, used UsedMacros, constraints Constraints) NodeRef {
	return b.enter(Node{
		Kind:        HeaderChild,
		File:        file,
		Include:     include,
		Range:       token.Point(len(b.res.raw)),
		Taken:       -1,
		Used:        used,
		Constraints: constraints,
	})
}

// LeaveHeader closes the innermost open node, which must be a header.
func (b *Builder) LeaveHeader() {
	n := b.top()
	if !n.IsHeader() {
		panic("ppresult: header left while a conditional is open")
	}
	n.Range.End = len(b.res.raw)
	b.pop()
}

// EnterConditional opens a conditional group whose first directive spans
// directive.
func (b *Builder) EnterConditional(directive token.Range) NodeRef {
	return b.enter(Node{
		Kind:     Conditional,
		Range:    token.Point(directive.Begin),
		Branches: []token.Range{directive},
		Taken:    -1,
	})
}

// AddBranch adds an #elif or #else directive to the innermost open
// conditional group.
func (b *Builder) AddBranch(directive token.Range) {
	n := b.top()
	n.Branches = append(n.Branches, directive)
}

// TakeBranch marks the innermost conditional's most recent branch as taken.
func (b *Builder) TakeBranch() {
	n := b.top()
	n.Taken = len(n.Branches) - 1
}

// AddConditionDeps records what evaluating a branch condition of the
// innermost conditional depended on.
func (b *Builder) AddConditionDeps(used UsedMacros, constraints Constraints) {
	n := b.top()
	n.Used.AddAll(used)
	n.Constraints.AddAll(constraints)
}

// LeaveConditional closes the innermost open node, which must be a
// conditional, at the #endif directive spanning endif.
func (b *Builder) LeaveConditional(endif token.Range) {
	n := b.top()
	if n.Kind != Conditional {
		panic("ppresult: conditional left while a header is open")
	}
	n.EndIf = endif
	n.Range.End = endif.End
	b.pop()
}

// Current returns the innermost open node.
func (b *Builder) Current() NodeRef {
	if len(b.open) == 0 {
		return 0
	}
	return b.open[len(b.open)-1]
}

// CurrentHeader returns the innermost open header.
func (b *Builder) CurrentHeader() NodeRef {
	return b.header
}

func (b *Builder) enter(n Node) NodeRef {
	parent := b.Current()
	if parent.Nil() {
		panic("ppresult: node entered outside of any root")
	}
	n.Parent = parent
	ref := b.res.nodes.New(n)
	p := b.res.Node(parent)
	p.Children = append(p.Children, ref)
	b.push(ref)
	return ref
}

func (b *Builder) push(ref NodeRef) {
	b.open = append(b.open, ref)
	if b.res.Node(ref).IsHeader() {
		b.header = ref
	}
}

func (b *Builder) pop() {
	b.open = b.open[:len(b.open)-1]
	b.header = 0
	for i := len(b.open) - 1; i >= 0; i-- {
		if b.res.Node(b.open[i]).IsHeader() {
			b.header = b.open[i]
			break
		}
	}
}

func (b *Builder) top() *Node {
	ref := b.Current()
	if ref.Nil() {
		panic("ppresult: no open node")
	}
	return b.res.Node(ref)
}
