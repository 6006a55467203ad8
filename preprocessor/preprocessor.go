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

// Package preprocessor contains a C preprocessor which records, for every
// token it produces, where that token came from.
//
// The output of a run is a [ppresult.Result]: the raw tokens of every file
// read, the expanded tokens, and side tables describing directives, macro
// definitions, macro invocations and the inclusion tree. The depreprocessor
// consumes this to regenerate source code.
package preprocessor

import (
	"io"
	"strings"

	"github.com/bufbuild/ccp/lexer"
	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// MaxIncludeDepth is the maximum nesting depth of #include directives.
const MaxIncludeDepth = 200

// Preprocessor preprocesses a sequence of root files sharing one macro
// state, such as pre-included headers followed by a main file.
//
// A Preprocessor is used for a single run and is not safe for concurrent
// use.
type Preprocessor struct {
	resolver source.Resolver
	opener   source.Opener
	handler  *reporter.Handler

	b *ppresult.Builder

	macros map[string]*ppresult.Macro
	// The number of builtins and predefines registered so far.
	predefs int
	// The value of the next __COUNTER__.
	counter int
	// Files containing #pragma once.
	once map[string]bool

	roots    []*source.File
	nextRoot int
	files    []*fileState
	conds    []*condState
	// The nesting depth of conditionals within a branch not taken.
	skipDepth int
	eof       *ptoken

	root expansionState
	// Non-zero while macro arguments are being read.
	collecting int

	queue     []ptoken
	lineEmpty bool
	rec       recorder
}

type fileState struct {
	file      *source.File
	lex       *lexer.Lexer
	lineStart bool
	// The number of open conditionals when the file was entered.
	conds int
}

type condState struct {
	file *fileState
	// Whether the current branch is being processed.
	active bool
	// Whether any branch has been taken so far.
	taken    bool
	elseSeen bool
	// Where the current branch's body starts, if not active.
	skipFrom int
}

// New creates a preprocessor. Headers are looked up with resolver and read
// with opener. If opener is nil, resolver is used if it implements
// [source.Opener]; otherwise files are read from the host filesystem.
//
// All errors and warnings are reported to handler.
func New(resolver source.Resolver, opener source.Opener, handler *reporter.Handler) *Preprocessor {
	if opener == nil {
		if o, ok := resolver.(source.Opener); ok {
			opener = o
		} else {
			opener = source.OS()
		}
	}
	if handler == nil {
		handler = reporter.NewHandler(nil)
	}
	p := &Preprocessor{
		resolver:  resolver,
		opener:    opener,
		handler:   handler,
		b:         ppresult.NewBuilder(),
		macros:    make(map[string]*ppresult.Macro),
		once:      make(map[string]bool),
		lineEmpty: true,
	}
	p.rec.b = p.b
	p.registerSpecials()
	return p
}

// Run preprocesses the given root files, in order, and returns the result.
// The last root is the one __BASE_FILE__ refers to.
//
// Run may only be called once.
func (p *Preprocessor) Run(roots ...string) (*ppresult.Result, error) {
	if err := p.start(roots); err != nil {
		return nil, err
	}
	for {
		tok, err := p.next()
		if err != nil {
			return nil, err
		}
		if tok.kind == token.EOF {
			break
		}
		p.rec.record(tok)
	}
	if err := p.handler.Error(); err != nil {
		return nil, err
	}
	return p.b.Result(), nil
}

func (p *Preprocessor) start(roots []string) error {
	if len(p.roots) > 0 || p.eof != nil {
		panic("preprocessor: Run called twice")
	}
	for _, path := range roots {
		f, err := p.opener.Open(path)
		if err != nil {
			return p.handler.HandleErrorf(source.Pos{Filename: path}, reporter.ErrIO, "%v", err)
		}
		p.roots = append(p.roots, f)
	}
	if len(p.roots) == 0 {
		eof := eofToken(0)
		p.eof = &eof
		return nil
	}
	p.enterRoot()
	return nil
}

func (p *Preprocessor) enterRoot() {
	f := p.roots[p.nextRoot]
	p.nextRoot++
	p.b.EnterRoot(f)
	p.pushFile(f)
}

func (p *Preprocessor) pushFile(f *source.File) {
	p.files = append(p.files, &fileState{
		file:      f,
		lex:       lexer.New(f, p.handler),
		lineStart: true,
		conds:     len(p.conds),
	})
}

// leaveFile is called once the EOF token of the innermost file, at index eof,
// has been read.
func (p *Preprocessor) leaveFile(eof int) error {
	f := p.files[len(p.files)-1]
	if len(p.conds) > f.conds {
		return p.errorf(token.Point(eof), reporter.ErrStructural, "missing #endif at end of file")
	}
	if p.collecting > 0 {
		return p.errorf(token.Point(eof), reporter.ErrMacro, "unterminated argument list invoking macro")
	}
	p.b.LeaveHeader()
	p.files = p.files[:len(p.files)-1]
	if len(p.files) > 0 {
		return nil
	}
	if p.nextRoot < len(p.roots) {
		p.enterRoot()
		return nil
	}
	eofTok := eofToken(p.b.RawLen())
	p.eof = &eofTok
	return nil
}

func (p *Preprocessor) inactive() bool {
	return p.skipDepth > 0 || len(p.conds) > 0 && !p.conds[len(p.conds)-1].active
}

// readPlain returns the next raw token to be expanded from the file being
// read, handling directives and skipping everything within branches not
// taken.
func (p *Preprocessor) readPlain() (ptoken, error) {
	for {
		if p.eof != nil {
			return *p.eof, nil
		}
		f := p.files[len(p.files)-1]
		raw, err := f.lex.Next()
		if err != nil {
			return ptoken{}, err
		}
		idx := p.b.AppendRaw(raw)

		switch {
		case raw.Kind == token.EOF:
			if err := p.leaveFile(idx); err != nil {
				return ptoken{}, err
			}
			continue
		case raw.Kind == token.Newline:
			f.lineStart = true
		case f.lineStart && (raw.Is("#") || raw.Is("%:")):
			if err := p.directive(f, idx); err != nil {
				return ptoken{}, err
			}
			f.lineStart = true
			continue
		case raw.Kind != token.WS:
			f.lineStart = false
		}

		if p.inactive() {
			continue
		}
		return ptoken{
			kind:  raw.Kind,
			value: raw.Value,
			src:   token.Range{Begin: idx, End: idx + 1},
			raw:   idx,
		}, nil
	}
}

func (p *Preprocessor) expandRoot() (ptoken, error) {
	tok, err := p.expand(&p.root, p.readPlain, false)
	tok.history = nil
	return tok, err
}

// next returns the next token of the output. Whitespace is normalized and
// inserted where needed so that preprocessing the output again yields the
// same tokens:
//   - Whitespace at the end of a line is turned into an empty marker.
//   - Of a sequence of whitespace and empty markers, only the first
//     whitespace is kept; the rest become empty markers.
//   - Empty lines are dropped.
//   - A space is inserted between tokens which would otherwise lex
//     differently when written next to each other.
//
// The queue holds one of: a whitespace followed by empty markers; empty
// markers followed by a newline or EOF; empty markers followed by a
// whitespace; or empty markers, possibly an inserted whitespace, and some
// other token.
func (p *Preprocessor) next() (ptoken, error) {
	if len(p.queue) > 0 {
		front := p.queue[0]
		if front.kind == token.Empty || front.kind == token.Newline || front.kind == token.EOF ||
			len(p.queue) > 1 && front.kind == token.WS && p.queue[len(p.queue)-1].kind != token.Empty {
			p.queue = p.queue[1:]
			if front.kind != token.Newline {
				return front, nil
			}
			if !p.lineEmpty {
				p.lineEmpty = true
				return front, nil
			}
		}
	}

	for {
		tok, err := p.expandRoot()
		if err != nil {
			return tok, err
		}

		if len(p.queue) > 0 && p.queue[0].kind == token.WS {
			switch tok.kind {
			case token.Newline, token.EOF:
				ws := p.queue[0]
				ws.kind, ws.value = token.Empty, ""
				p.queue = append(p.queue[1:], tok)
				return ws, nil
			case token.Empty:
				p.queue = append(p.queue, tok)
				continue
			case token.WS:
				tok.kind, tok.value = token.Empty, ""
				p.queue = append(p.queue, tok)
				continue
			}
			p.lineEmpty = false
			ws := p.queue[0]
			p.queue = append(p.queue[1:], tok)
			return ws, nil
		}

		var prev ptoken
		if len(p.queue) == 0 {
			switch tok.kind {
			case token.WS:
				p.queue = append(p.queue, tok)
				continue
			case token.Newline:
				if p.lineEmpty {
					continue
				}
				p.lineEmpty = true
				return tok, nil
			case token.Empty, token.EOF:
				return tok, nil
			}
			prev = tok
			if tok, err = p.expandRoot(); err != nil {
				return tok, err
			}
		} else {
			prev = p.queue[0]
			p.queue = p.queue[1:]
		}

		p.lineEmpty = false
		for tok.kind == token.Empty {
			p.queue = append(p.queue, tok)
			if tok, err = p.expandRoot(); err != nil {
				return tok, err
			}
		}
		switch tok.kind {
		case token.WS, token.Newline, token.EOF:
			p.queue = append(p.queue, tok)
			return prev, nil
		}

		switch token.Adjacency(prev.kind, prev.value, tok.kind, tok.value) {
		case token.Separate:
			p.queue = append(p.queue, spacer(tok))
		case token.SeparateIfSynthesized:
			if prev.top != nil || tok.top != nil || len(p.queue) > 0 {
				p.queue = append(p.queue, spacer(tok))
			}
		}
		p.queue = append(p.queue, tok)
		return prev, nil
	}
}

func spacer(before ptoken) ptoken {
	return ptoken{kind: token.WS, value: " ", src: token.Point(before.src.Begin), raw: -1}
}

func (p *Preprocessor) pos(src token.Range) source.Pos {
	return p.b.Result().Pos(src.Begin)
}

func (p *Preprocessor) errorf(src token.Range, kind error, format string, args ...any) error {
	return p.handler.HandleErrorf(p.pos(src), kind, format, args...)
}

func (p *Preprocessor) warnf(src token.Range, format string, args ...any) {
	p.handler.HandleWarningf(p.pos(src), format, args...)
}

// recorder appends expanded tokens to a result, keeping track of the
// invocation they belong to.
type recorder struct {
	b   *ppresult.Builder
	cur *ppresult.Invocation
}

func (r *recorder) record(tok ptoken) int {
	inv := r.cur
	part := inv != nil &&
		(tok.top != nil && inv.Raw.Overlaps(tok.src) || tok.src.IsEmpty() && inv.Raw.Contains(tok.src.Begin))

	switch {
	case part:
		var idx int
		if !inv.Raw.Covers(tok.src) {
			idx = r.b.AppendPP(token.Token{Kind: tok.kind, Value: tok.value, Source: tok.src})
			r.b.ExtendInvocation(inv, tok.src, idx+1)
		} else {
			idx = r.b.AppendPP(token.Token{Kind: tok.kind, Value: tok.value, Source: inv.Raw})
			inv.PP.End = idx + 1
		}
		r.addTo(inv, tok, idx)
		return idx

	case tok.top != nil:
		idx := r.b.AppendPP(token.Token{Kind: tok.kind, Value: tok.value, Source: tok.src})
		inv = &ppresult.Invocation{
			Macro: tok.top,
			Raw:   tok.src,
			PP:    token.Range{Begin: idx, End: idx + 1},
		}
		r.addTo(inv, tok, idx)
		r.b.AddInvocation(inv)
		r.cur = inv
		return idx

	default:
		if !tok.src.IsEmpty() {
			r.cur = nil
		}
		return r.b.AppendPP(token.Token{Kind: tok.kind, Value: tok.value, Source: tok.src})
	}
}

func (r *recorder) addTo(inv *ppresult.Invocation, tok ptoken, idx int) {
	inv.Used.AddAll(tok.used)
	inv.Constraints.AddAll(tok.constraints)
	if tok.raw >= 0 {
		inv.Passthrough = append(inv.Passthrough, ppresult.Passthrough{Raw: tok.raw, PP: idx})
	}
}

// Format writes the expanded tokens of res as text. Empty markers produce
// nothing.
func Format(w io.Writer, res *ppresult.Result) error {
	var b strings.Builder
	for _, tok := range res.PP() {
		b.WriteString(tok.String())
	}
	if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
