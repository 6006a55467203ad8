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
	"cmp"
	"fmt"
	"slices"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/token"
)

type action uint8

const (
	copyOp action = iota
	replaceOp
	insertOp
	insertWSOp
	transitionOp
	rewriteOp
)

// String implements [fmt.Stringer].
func (a action) String() string {
	switch a {
	case copyOp:
		return "copy"
	case replaceOp:
		return "replace"
	case insertOp:
		return "insert"
	case insertWSOp:
		return "insert-ws"
	case transitionOp:
		return "transition"
	case rewriteOp:
		return "rewrite"
	default:
		return fmt.Sprintf("action(%d)", a)
	}
}

// sticky says which of the raw tokens around a zero-width op the op is
// attributed to.
type sticky uint8

const (
	stickyNone sticky = iota
	stickyLeft
	stickyRight
)

// op is one editing operation of a [Chunk].
type op struct {
	action action
	// The expanded tokens this op stands for. Empty for inserts and
	// transitions.
	rng    token.Range
	sticky sticky

	tok   token.Token
	deref bool

	trans []transition

	inv   *ppresult.Invocation
	subst map[int]op // Raw token index to its replacement.
}

// chunkPos is a position within a chunk: before the token tok of the copy
// op at index op, or before the op itself for other kinds of ops, in which
// case tok is zero.
type chunkPos struct {
	op, tok int
}

func (p chunkPos) compare(q chunkPos) int {
	if c := cmp.Compare(p.op, q.op); c != 0 {
		return c
	}
	return cmp.Compare(p.tok, q.tok)
}

// Chunk is a piece of the regenerated output derived from a range of
// expanded tokens. The tokens are copied verbatim, purged or edited
// individually; copied macro invocations are kept as written wherever the
// macro state at their new position allows.
//
// A new chunk is empty: everything to be kept must be copied explicitly.
type Chunk struct {
	res    *ppresult.Result
	bounds token.Range
	ops    []op

	forced []token.Range

	// Computed once the chunk is written.
	raw      token.Range
	expanded []token.Range
}

// NewChunk returns a new, empty chunk for the expanded tokens in bounds.
func NewChunk(res *ppresult.Result, bounds token.Range) *Chunk {
	return &Chunk{res: res, bounds: bounds}
}

// Bounds returns the range of expanded tokens the chunk may touch.
func (c *Chunk) Bounds() token.Range {
	return c.bounds
}

// CopyRange copies the expanded tokens r to the output. If wsBefore is set,
// the copy is separated from whatever precedes it by whitespace.
//
// Copies separated only by whitespace in the input are joined.
func (c *Chunk) CopyRange(r token.Range, wsBefore bool) {
	c.checkBounds(r)
	if r.IsEmpty() {
		return
	}

	i := c.prepareInsert(r)
	prev := i - 1
	for prev >= 0 && c.ops[prev].action == insertWSOp {
		prev--
	}
	if prev >= 0 && c.ops[prev].action == copyOp && c.onlyWS(c.ops[prev].rng.End, r.Begin) {
		c.ops[prev].rng.End = r.End
		c.ops = slices.Delete(c.ops, prev+1, i)
		i = prev
	} else {
		if wsBefore && !c.wsBefore(i, r.Begin) {
			c.ops = slices.Insert(c.ops, i, op{action: insertWSOp, rng: token.Point(r.Begin), sticky: stickyRight})
			i++
		}
		c.ops = slices.Insert(c.ops, i, op{action: copyOp, rng: r})
	}

	next := i + 1
	for next < len(c.ops) && c.ops[next].action == insertWSOp {
		next++
	}
	if next < len(c.ops) && c.ops[next].action == copyOp && c.onlyWS(r.End, c.ops[next].rng.Begin) {
		c.ops[i].rng.End = c.ops[next].rng.End
		c.ops = slices.Delete(c.ops, i+1, next+1)
	}
}

// PurgeRange drops the expanded tokens r from the output, replacing them
// with whitespace if wsBefore is set.
func (c *Chunk) PurgeRange(r token.Range, wsBefore bool) {
	c.checkBounds(r)
	i := c.prepareInsert(r)
	if wsBefore && !c.wsBefore(i, r.Begin) {
		c.ops = slices.Insert(c.ops, i, op{action: insertWSOp, rng: token.Point(r.Begin), sticky: stickyLeft})
	}
}

// ReplaceToken replaces the expanded token at index with tok. If deref is
// set, tok is written as a pointer dereference, "(*tok)".
func (c *Chunk) ReplaceToken(index int, tok token.Token, deref bool) {
	r := token.Range{Begin: index, End: index + 1}
	c.checkBounds(r)
	i := c.prepareInsert(r)
	c.ops = slices.Insert(c.ops, i, op{action: replaceOp, rng: r, tok: tok, deref: deref})
}

// InsertToken inserts tok before the expanded token at pos. Tokens inserted
// at the same position are written in insertion order.
func (c *Chunk) InsertToken(pos int, tok token.Token, wsBefore, wsAfter bool) {
	c.checkBounds(token.Point(pos))
	i := c.prepareInsert(token.Point(pos))

	side := stickyLeft
	if !wsBefore && wsAfter {
		side = stickyRight
	}
	if wsBefore && !c.wsBefore(i, pos) {
		c.ops = slices.Insert(c.ops, i, op{action: insertWSOp, rng: token.Point(pos), sticky: side})
		i++
	}
	c.ops = slices.Insert(c.ops, i, op{action: insertOp, rng: token.Point(pos), tok: tok, sticky: side})
	if wsAfter {
		c.ops = slices.Insert(c.ops, i+1, op{action: insertWSOp, rng: token.Point(pos), sticky: side})
	}
}

// SplitHeadOff splits c at r, which is purged. Everything before r is
// returned as a new chunk, everything after it stays in c.
func (c *Chunk) SplitHeadOff(r token.Range) *Chunk {
	c.checkBounds(r)
	i := c.prepareInsert(r)
	head := NewChunk(c.res, token.Range{Begin: c.bounds.Begin, End: r.Begin})
	head.ops = slices.Clone(c.ops[:i])
	for _, f := range c.forced {
		if f.Begin < r.Begin {
			head.forced = append(head.forced, f)
		}
	}
	c.ops = slices.Delete(c.ops, 0, i)
	c.bounds.Begin = r.End
	return head
}

// EmitExpanded forces every macro invocation overlapping the expanded
// tokens r to be written in expanded form, even where keeping the
// invocation would have been possible.
func (c *Chunk) EmitExpanded(r token.Range) {
	c.checkBounds(r)
	c.forced = append(c.forced, r)
}

func (c *Chunk) checkBounds(r token.Range) {
	if r.Begin < c.bounds.Begin || r.End > c.bounds.End || r.Begin > r.End {
		panic(fmt.Sprintf("depreprocessor: range %v outside chunk bounds %v", r, c.bounds))
	}
}

// prepareInsert makes room for an op covering sub: ops overlapping it are
// shrunk, split or removed. It returns the index the new op goes to, which
// is after any zero-width ops already at sub's start.
func (c *Chunk) prepareInsert(sub token.Range) int {
	i := 0
	for i < len(c.ops) && c.ops[i].rng.End <= sub.Begin {
		i++
	}

	if sub.IsEmpty() {
		if i < len(c.ops) && c.ops[i].rng.Begin < sub.Begin {
			tail := c.ops[i]
			tail.rng.Begin = sub.Begin
			c.ops[i].rng.End = sub.Begin
			c.ops = slices.Insert(c.ops, i+1, tail)
			return i + 1
		}
		return i
	}

	j := i
	for j < len(c.ops) && c.ops[j].rng.Begin < sub.End {
		j++
	}
	if i < j && c.ops[i].rng.Begin < sub.Begin {
		if c.ops[i].rng.End > sub.End {
			tail := c.ops[i]
			tail.rng.Begin = sub.End
			c.ops[i].rng.End = sub.Begin
			c.ops = slices.Insert(c.ops, i+1, tail)
			return i + 1
		}
		c.ops[i].rng.End = sub.Begin
		i++
	}
	if i < j && c.ops[j-1].rng.End > sub.End {
		c.ops[j-1].rng.Begin = sub.End
		j--
	}
	c.ops = slices.Delete(c.ops, i, j)
	return i
}

func (c *Chunk) wsBefore(i, pos int) bool {
	return i > 0 && c.ops[i-1].action == insertWSOp && c.ops[i-1].rng.End == pos
}

// onlyWS returns whether the expanded tokens [begin, end) are all
// whitespace.
func (c *Chunk) onlyWS(begin, end int) bool {
	for _, tok := range c.res.PP()[begin:end] {
		if tok.Kind != token.WS && tok.Kind != token.Newline {
			return false
		}
	}
	return true
}

// trim strips leading and trailing whitespace insertions and collapses runs
// of them.
func (c *Chunk) trim() {
	out := c.ops[:0]
	for i, o := range c.ops {
		if o.action == insertWSOp {
			if len(out) == 0 || out[len(out)-1].action == insertWSOp {
				continue
			}
			rest := i + 1
			for rest < len(c.ops) && c.ops[rest].action == insertWSOp {
				rest++
			}
			if rest == len(c.ops) {
				break
			}
		}
		out = append(out, o)
	}
	c.ops = out
}

func (c *Chunk) begin() chunkPos {
	return c.opStart(0)
}

func (c *Chunk) end() chunkPos {
	return chunkPos{op: len(c.ops)}
}

func (c *Chunk) opStart(i int) chunkPos {
	if i < len(c.ops) && c.ops[i].action == copyOp {
		return chunkPos{i, c.ops[i].rng.Begin}
	}
	return chunkPos{op: i}
}

func (c *Chunk) next(p chunkPos) chunkPos {
	if o := &c.ops[p.op]; o.action == copyOp && p.tok+1 < o.rng.End {
		return chunkPos{p.op, p.tok + 1}
	}
	return c.opStart(p.op + 1)
}

// opRaw returns the raw tokens an op is attributed to. Zero-width ops are
// attributed to one end of the raw tokens between their neighbors, as
// selected by their stickiness.
func (c *Chunk) opRaw(o *op) token.Range {
	if !o.rng.IsEmpty() {
		return c.res.PPToRaw(o.rng)
	}

	pp := c.res.PP()
	p := o.rng.Begin
	if p > 0 && p < len(pp) && pp[p-1].Source.Begin == pp[p].Source.Begin {
		// Both neighbors come from the same invocation.
		return c.res.PPToRaw(o.rng)
	}

	end := len(c.res.Raw())
	if p < len(pp) {
		end = pp[p].Source.Begin
	}
	begin := 0
	if p > 0 {
		begin = min(pp[p-1].Source.End, end)
	}
	if o.sticky == stickyRight {
		return token.Point(end)
	}
	return token.Point(begin)
}

func (c *Chunk) rawRange() token.Range {
	if len(c.ops) == 0 {
		return token.Point(c.res.PPToRaw(token.Point(c.bounds.Begin)).Begin)
	}
	first := c.opRaw(&c.ops[0])
	last := c.opRaw(&c.ops[len(c.ops)-1])
	return token.Range{Begin: first.Begin, End: max(first.Begin, last.End)}
}

// directiveRangeToPos returns the position in the chunk a directive with the
// raw range d would have to be written at to keep its place relative to
// the chunk's tokens.
func (c *Chunk) directiveRangeToPos(d token.Range) chunkPos {
	pp := c.res.PP()
	for k := range c.ops {
		r := c.opRaw(&c.ops[k])
		if r.End <= d.Begin {
			continue
		}
		if d.End <= r.Begin || c.ops[k].action != copyOp {
			return c.opStart(k)
		}
		o := &c.ops[k]
		for t := o.rng.Begin; t < o.rng.End; t++ {
			if d.End <= pp[t].Source.Begin {
				return chunkPos{k, t}
			}
		}
		return c.opStart(k + 1)
	}
	return c.end()
}
