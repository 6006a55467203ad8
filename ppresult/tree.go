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
	"github.com/bufbuild/ccp/internal/arena"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// NodeKind distinguishes the nodes of the inclusion tree.
type NodeKind uint8

const (
	// HeaderRoot is a file preprocessed on its own: the main file, or a file
	// given with -include.
	HeaderRoot NodeKind = iota + 1
	// HeaderChild is a file included with #include.
	HeaderChild
	// Conditional is an #if ... #endif group.
	Conditional
)

// String implements [fmt.Stringer].
func (k NodeKind) String() string {
	switch k {
	case HeaderRoot:
		return "root"
	case HeaderChild:
		return "header"
	case Conditional:
		return "conditional"
	default:
		return "invalid"
	}
}

// NodeRef is a reference to a node of the inclusion tree.
type NodeRef = arena.Pointer[Node]

// Node is a node of the inclusion tree.
//
// Each node covers a contiguous range of raw tokens, and children's ranges
// nest within their parent's in order.
type Node struct {
	Kind     NodeKind
	Parent   NodeRef
	Children []NodeRef

	// For headers, every raw token lexed from the file including its
	// trailing EOF token. For conditionals, everything from the first
	// branch's directive through the end of the #endif line.
	Range token.Range

	// The file a header node was lexed from.
	File *source.File
	// The raw range of the #include directive in the parent, for
	// [HeaderChild] nodes.
	Include token.Range

	// The raw ranges of each branch's directive, for [Conditional] nodes.
	Branches []token.Range
	// The index of the branch taken, or -1 if no branch was.
	Taken int
	// The raw range of the #endif directive.
	EndIf token.Range

	// The macros and non-definedness constraints the macro expansion of an
	// #include operand, or of all evaluated branch conditions, depended on.
	Used        UsedMacros
	Constraints Constraints
}

// IsHeader returns whether n is a [HeaderRoot] or a [HeaderChild].
func (n *Node) IsHeader() bool {
	return n.Kind == HeaderRoot || n.Kind == HeaderChild
}

// HasElse returns whether a conditional's last branch is an #else.
func (n *Node) HasElse(res *Result) bool {
	if len(n.Branches) < 2 {
		return false
	}
	return res.DirectiveName(n.Branches[len(n.Branches)-1]) == "else"
}

// Header returns the innermost header node containing ref, which may be
// ref itself.
func (r *Result) Header(ref NodeRef) NodeRef {
	for !ref.Nil() {
		n := r.Node(ref)
		if n.IsHeader() {
			return ref
		}
		ref = n.Parent
	}
	return ref
}

// Innermost returns the deepest node whose range contains the raw token at
// index, or nil if index lies outside every root.
func (r *Result) Innermost(index int) NodeRef {
	var found NodeRef
	children := r.roots
	for {
		next := r.childContaining(children, index)
		if next.Nil() {
			return found
		}
		found = next
		children = r.Node(next).Children
	}
}

func (r *Result) childContaining(children []NodeRef, index int) NodeRef {
	lo, hi := 0, len(children)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		rng := r.Node(children[mid]).Range
		switch {
		case index < rng.Begin:
			hi = mid
		case index >= rng.End:
			lo = mid + 1
		default:
			return children[mid]
		}
	}
	return 0
}

// Ancestors returns the chain of nodes from a root down to, and including,
// ref.
func (r *Result) Ancestors(ref NodeRef) []NodeRef {
	var chain []NodeRef
	for ; !ref.Nil(); ref = r.Node(ref).Parent {
		chain = append(chain, ref)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// Descendants calls visit for every node below ref in preorder.
func (r *Result) Descendants(ref NodeRef, visit func(NodeRef, *Node)) {
	for _, child := range r.Node(ref).Children {
		visit(child, r.Node(child))
		r.Descendants(child, visit)
	}
}

// Intersecting calls visit, in preorder, for every node whose range
// intersects rng. An empty rng intersects the nodes containing its point.
// Subtrees outside rng are not descended into.
func (r *Result) Intersecting(rng token.Range, visit func(NodeRef, *Node) bool) {
	var walk func(children []NodeRef) bool
	walk = func(children []NodeRef) bool {
		for _, ref := range children {
			n := r.Node(ref)
			if n.Range.Begin >= rng.End && !(rng.IsEmpty() && n.Range.Begin == rng.Begin) {
				return true
			}
			if !n.Range.Overlaps(rng) && !(rng.IsEmpty() && n.Range.Contains(rng.Begin)) {
				continue
			}
			if !visit(ref, n) || !walk(n.Children) {
				return false
			}
		}
		return true
	}
	walk(r.roots)
}

// IsHeaderGuard returns whether a conditional node is a header's include
// guard: the only branch is "#ifndef NAME" immediately followed by
// "#define NAME", the group spans the whole header modulo whitespace, and the
// header is an #include'd child.
func (r *Result) IsHeaderGuard(ref NodeRef) bool {
	n := r.Node(ref)
	if n.Kind != Conditional || len(n.Branches) != 1 {
		return false
	}
	header := r.Node(n.Parent)
	if header.Kind != HeaderChild {
		return false
	}

	raw := r.raw
	trivial := func(from, to int) bool {
		for i := from; i < to; i++ {
			if k := raw[i].Kind; k != token.WS && k != token.Newline && k != token.EOF {
				return false
			}
		}
		return true
	}
	if !trivial(header.Range.Begin, n.Range.Begin) || !trivial(n.Range.End, header.Range.End) {
		return false
	}

	name, ok := r.directiveOperand(n.Branches[0], "ifndef")
	if !ok {
		return false
	}
	next := n.Branches[0].End
	for next < n.Range.End && (raw[next].Kind == token.WS || raw[next].Kind == token.Newline) {
		next++
	}
	define := r.directives.Get(next)
	if define.Value == nil || define.Start != next {
		return false
	}
	defined, ok := r.directiveOperand(define.Value.Range, "define")
	return ok && defined == name
}

// directiveOperand returns the identifier following the directive name in
// the directive spanning rng, if the directive is called name.
func (r *Result) directiveOperand(rng token.Range, name string) (string, bool) {
	if r.DirectiveName(rng) != name {
		return "", false
	}
	seenName := false
	for _, tok := range r.raw[rng.Begin:rng.End] {
		switch {
		case tok.Kind == token.WS || tok.Is("#") || tok.Is("%:"):
		case !seenName:
			seenName = true
		case tok.Kind == token.ID:
			return tok.Value, true
		default:
			return "", false
		}
	}
	return "", false
}

// DirectiveName returns the name of the directive spanning rng, such as
// "define", or "" for the null directive.
func (r *Result) DirectiveName(rng token.Range) string {
	for _, tok := range r.raw[rng.Begin:rng.End] {
		switch {
		case tok.Kind == token.WS || tok.Is("#") || tok.Is("%:"):
		case tok.Kind == token.ID:
			return tok.Value
		default:
			return ""
		}
	}
	return ""
}
