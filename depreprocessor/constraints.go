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
	"maps"
	"slices"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/token"
)

// record is a dependency of the output on the macro state at some position:
// either a macro that must be defined as it was, or a name that must not be
// a macro.
type record struct {
	pos chunkPos
	// The macro that must be defined. Nil for a constraint.
	macro      *ppresult.Macro
	constraint ppresult.Constraint
}

func (r *record) name() string {
	if r.macro != nil {
		return r.macro.Name
	}
	return r.constraint.Name
}

// compareRecords orders records by position. At the same position,
// constraints come before uses.
func compareRecords(a, b record) int {
	if c := a.pos.compare(b.pos); c != 0 {
		return c
	}
	switch {
	case a.macro == nil && b.macro != nil:
		return -1
	case a.macro != nil && b.macro == nil:
		return 1
	}
	return 0
}

type records []record

func (r *records) use(pos chunkPos, used ppresult.UsedMacros) {
	for _, m := range used.Sorted() {
		*r = append(*r, record{pos: pos, macro: m})
	}
}

func (r *records) constrain(pos chunkPos, name string, funcLikeAllowed bool) {
	*r = append(*r, record{pos: pos, constraint: ppresult.Constraint{Name: name, FuncLikeAllowed: funcLikeAllowed}})
}

func (r *records) constrainAll(pos chunkPos, cs ppresult.Constraints) {
	for _, c := range cs.Sorted() {
		*r = append(*r, record{pos: pos, constraint: c})
	}
}

// finish sorts records collected back to front and drops redundant ones:
// duplicate uses of a macro at the same position, and constraints on the
// same name at the same position, which are merged into the stricter one.
func (r *records) finish() {
	slices.Reverse(*r)
	slices.SortStableFunc(*r, compareRecords)

	out := (*r)[:0]
	for _, rec := range *r {
		dup := -1
		for k := len(out) - 1; k >= 0 && out[k].pos == rec.pos; k-- {
			if out[k].macro == rec.macro && out[k].name() == rec.name() {
				dup = k
				break
			}
		}
		if dup < 0 {
			out = append(out, rec)
			continue
		}
		if rec.macro == nil {
			out[dup].constraint.FuncLikeAllowed = out[dup].constraint.FuncLikeAllowed && rec.constraint.FuncLikeAllowed
		}
	}
	*r = out
}

// findConstraints computes the dependencies of the chunk's output on the
// macro state, walking the ops back to front. nextIsParen says whether the
// output following the chunk begins with an opening parenthesis; the
// returned bool says the same of the chunk itself.
//
// Invocations that cannot be kept as written are recorded in c.expanded.
func (c *Chunk) findConstraints(nextIsParen bool) (records, bool) {
	pp := c.res.PP()
	var recs records
	c.expanded = nil

	plain := func(k, t int) {
		tok := pp[t]
		switch {
		case tok.Kind == token.ID:
			recs.constrain(chunkPos{k, t}, tok.Value, !nextIsParen)
			nextIsParen = false
		case tok.Is("("):
			nextIsParen = true
		case tok.Kind.IsTrivial():
		default:
			nextIsParen = false
		}
	}

	for k := len(c.ops) - 1; k >= 0; k-- {
		o := &c.ops[k]
		switch o.action {
		case insertWSOp:

		case insertOp:
			if o.tok.Kind == token.ID {
				recs.constrain(chunkPos{op: k}, o.tok.Value, !nextIsParen)
				nextIsParen = false
			} else {
				nextIsParen = o.tok.Is("(")
			}

		case replaceOp:
			switch {
			case o.tok.Kind == token.ID:
				if o.deref {
					nextIsParen = false
				}
				recs.constrain(chunkPos{op: k}, o.tok.Value, !nextIsParen)
				nextIsParen = o.deref
			case o.deref:
				nextIsParen = true
			default:
				nextIsParen = o.tok.Is("(")
			}

		case transitionOp:
			for _, tr := range o.trans {
				if tr.enter {
					n := c.res.Node(tr.node)
					recs.use(chunkPos{op: k}, n.Used)
					recs.constrainAll(chunkPos{op: k}, n.Constraints)
				}
			}
			nextIsParen = false

		case rewriteOp:
			pos := chunkPos{op: k}
			c.retain(&recs, pos, o.inv, nextIsParen)
			for _, raw := range slices.Sorted(maps.Keys(o.subst)) {
				if sub := o.subst[raw]; sub.tok.Kind == token.ID {
					recs.constrain(pos, sub.tok.Value, false)
				}
			}
			nextIsParen = false

		case copyOp:
			for t := o.rng.End - 1; t >= o.rng.Begin; {
				inv := c.res.InvocationOf(t)
				switch {
				case inv == nil:
					plain(k, t)
					t--
				case c.retainable(inv, o):
					c.retain(&recs, chunkPos{k, inv.PP.Begin}, inv, nextIsParen)
					nextIsParen = false
					t = inv.PP.Begin - 1
				default:
					lo := max(inv.PP.Begin, o.rng.Begin)
					c.expanded = append(c.expanded, token.Range{Begin: lo, End: t + 1})
					recs.use(c.next(chunkPos{k, t}), inv.Used)
					for ; t >= lo; t-- {
						plain(k, t)
					}
				}
			}
		}
	}

	recs.finish()
	slices.SortFunc(c.expanded, func(a, b token.Range) int { return a.Begin - b.Begin })
	return recs, nextIsParen
}

// retain records the dependencies of writing inv as written at pos.
func (c *Chunk) retain(recs *records, pos chunkPos, inv *ppresult.Invocation, nextIsParen bool) {
	recs.use(pos, inv.Used)
	recs.constrainAll(pos, inv.Constraints)
	if !nextIsParen {
		return
	}

	// If the expansion ends in an identifier followed by "(", the
	// identifier must not become a function-like macro either.
	pp := c.res.PP()
	for t := inv.PP.End - 1; t >= inv.PP.Begin; t-- {
		tok := pp[t]
		if tok.Kind.IsTrivial() {
			continue
		}
		if tok.Kind == token.ID && !usesName(inv.Used, tok.Value) {
			recs.constrain(pos, tok.Value, false)
		}
		return
	}
}

// retainable returns whether inv, whose expansion overlaps o, may be
// written as the invocation rather than its expansion.
func (c *Chunk) retainable(inv *ppresult.Invocation, o *op) bool {
	return o.rng.Covers(inv.PP) && !c.isForced(inv.PP) && !hasDirective(c.res, inv.Raw)
}

func (c *Chunk) isForced(r token.Range) bool {
	for _, f := range c.forced {
		if f.Overlaps(r) {
			return true
		}
	}
	return false
}

// isExpanded returns whether the expanded token t is written as is rather
// than as part of an invocation.
func (c *Chunk) isExpanded(t int) bool {
	_, found := slices.BinarySearchFunc(c.expanded, t, func(r token.Range, t int) int {
		switch {
		case r.End <= t:
			return -1
		case r.Begin > t:
			return 1
		default:
			return 0
		}
	})
	return found
}

func hasDirective(res *ppresult.Result, raw token.Range) bool {
	for range res.Directives(raw) {
		return true
	}
	return false
}

func usesName(used ppresult.UsedMacros, name string) bool {
	for m := range used {
		if m.Name == name {
			return true
		}
	}
	return false
}

