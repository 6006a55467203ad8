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
	"slices"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/token"
)

// transition enters or leaves the taken branch of a conditional.
type transition struct {
	node  ppresult.NodeRef
	enter bool
}

// conditionalChain returns the conditionals enclosing the raw token at
// index, outermost first. Include guards are left out.
func conditionalChain(res *ppresult.Result, index int) []ppresult.NodeRef {
	var chain []ppresult.NodeRef
	for _, ref := range res.Ancestors(res.Innermost(index)) {
		if res.Node(ref).Kind == ppresult.Conditional && !res.IsHeaderGuard(ref) {
			chain = append(chain, ref)
		}
	}
	return chain
}

// transitions returns the transitions leading from within the conditionals
// from to within the conditionals to.
func transitions(from, to []ppresult.NodeRef) []transition {
	k := 0
	for k < len(from) && k < len(to) && from[k] == to[k] {
		k++
	}
	var out []transition
	for i := len(from) - 1; i >= k; i-- {
		out = append(out, transition{node: from[i]})
	}
	for _, ref := range to[k:] {
		out = append(out, transition{node: ref, enter: true})
	}
	return out
}

// chainChange is a point within a chunk where the enclosing conditionals
// change.
type chainChange struct {
	at    int // Expanded token index.
	trans []transition
}

// chains returns the conditionals enclosing the chunk's first and last
// tokens, and the changes in between. It reports false if the chunk has no
// tokens from the input.
func (c *Chunk) chains() (first, last []ppresult.NodeRef, changes []chainChange, seen bool) {
	pp := c.res.PP()
	visit := func(at, raw int) {
		chain := conditionalChain(c.res, raw)
		if !seen {
			first, last, seen = chain, chain, true
			return
		}
		if tr := transitions(last, chain); len(tr) > 0 {
			changes = append(changes, chainChange{at, tr})
			last = chain
		}
	}

	for k := range c.ops {
		o := &c.ops[k]
		switch o.action {
		case copyOp:
			for t := o.rng.Begin; t < o.rng.End; t++ {
				tok := pp[t]
				if tok.Kind.IsTrivial() || tok.Source.IsEmpty() {
					continue
				}
				visit(t, tok.Source.Begin)
				if inv := c.res.InvocationOf(t); inv != nil {
					t = max(t, min(inv.PP.End, o.rng.End)-1)
				}
			}
		case replaceOp:
			visit(o.rng.Begin, pp[o.rng.Begin].Source.Begin)
		case rewriteOp:
			visit(o.rng.Begin, o.inv.Raw.Begin)
		}
	}
	return first, last, changes, seen
}

// insertTransitions adds the transitions between conditionals the output
// passes through, either as elements of their own between other elements or
// as ops within chunks.
func (d *Depreprocessor) insertTransitions() {
	var cur []ppresult.NodeRef
	var out []*element
	add := func(to []ppresult.NodeRef) {
		if tr := transitions(cur, to); len(tr) > 0 {
			out = append(out, &element{kind: transitionElem, trans: tr})
		}
		cur = to
	}

	for _, e := range d.elems {
		switch e.kind {
		case headerElem:
			node := d.res.Node(e.header)
			var chain []ppresult.NodeRef
			if node.Kind == ppresult.HeaderChild {
				chain = conditionalChain(d.res, node.Include.Begin)
			}
			add(chain)
			out = append(out, e)

		case chunkElem:
			c := e.chunk
			first, last, changes, ok := c.chains()
			if !ok {
				out = append(out, e)
				continue
			}
			add(first)
			for _, ch := range slices.Backward(changes) {
				i := c.prepareInsert(token.Point(ch.at))
				c.ops = slices.Insert(c.ops, i, op{action: transitionOp, rng: token.Point(ch.at), trans: ch.trans, sticky: stickyRight})
			}
			out = append(out, e)
			cur = last

		default:
			out = append(out, e)
		}
	}
	add(nil)
	d.elems = out
}
