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

package preprocessor

import (
	"maps"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/token"
)

// history is the set of macros whose expansion a token already went
// through. A token naming a macro in its own history is not expanded again.
//
// Histories are shared between tokens and must never be mutated once
// attached to one.
type history map[*ppresult.Macro]struct{}

func (h history) has(m *ppresult.Macro) bool {
	_, ok := h[m]
	return ok
}

func (h history) with(m *ppresult.Macro) history {
	if h.has(m) {
		return h
	}
	out := make(history, len(h)+1)
	maps.Copy(out, h)
	out[m] = struct{}{}
	return out
}

func (h history) union(that history) history {
	switch {
	case len(that) == 0:
		return h
	case len(h) == 0:
		return that
	}
	out := maps.Clone(h)
	maps.Copy(out, that)
	return out
}

func (h history) intersect(that history) history {
	var out history
	for m := range h {
		if that.has(m) {
			if out == nil {
				out = make(history)
			}
			out[m] = struct{}{}
		}
	}
	return out
}

// ptoken is a token on its way through expansion.
type ptoken struct {
	kind  token.Kind
	value string
	// The raw tokens this token stems from: the token itself if it was read
	// from a file, otherwise the whole invocation of the outermost macro
	// that produced it.
	src     token.Range
	history history

	// What producing this token depended on. Neither map is ever mutated
	// once attached to a token; see [ptoken.addDeps].
	used        ppresult.UsedMacros
	constraints ppresult.Constraints

	// The outermost macro whose expansion produced this token, or nil if it
	// was copied from a file.
	top *ppresult.Macro
	// The index of the raw token this token is an unmodified copy of, or -1.
	// Tokens passed through macro arguments keep this.
	raw int
}

func (t *ptoken) is(p string) bool {
	return t.kind == token.Punctuator && t.value == p
}

func (t *ptoken) addDeps(used ppresult.UsedMacros, constraints ppresult.Constraints) {
	if len(used) > 0 {
		u := t.used.Clone()
		u.AddAll(used)
		t.used = u
	}
	if len(constraints) > 0 {
		c := maps.Clone(t.constraints)
		c.AddAll(constraints)
		t.constraints = c
	}
}

func (t *ptoken) addConstraint(name string, funcLikeAllowed bool) {
	c := maps.Clone(t.constraints)
	c.Add(name, funcLikeAllowed)
	t.constraints = c
}

func eofToken(at int) ptoken {
	return ptoken{kind: token.EOF, src: token.Point(at), raw: -1}
}

// deps accumulates dependencies which end up attached to every token a macro
// instance produces.
type deps struct {
	used        ppresult.UsedMacros
	constraints ppresult.Constraints
}

// take moves tok's dependencies into d.
func (d *deps) take(tok *ptoken) {
	d.used.AddAll(tok.used)
	d.constraints.AddAll(tok.constraints)
	tok.used = nil
	tok.constraints = nil
}

// reader supplies the tokens to expand: a file, a directive's operand, or a
// macro argument.
type reader func() (ptoken, error)

// sliceReader reads toks, followed by an EOF token at eof.
func sliceReader(toks []ptoken, eof int) reader {
	return func() (ptoken, error) {
		if len(toks) == 0 {
			return eofToken(eof), nil
		}
		tok := toks[0]
		toks = toks[1:]
		return tok, nil
	}
}

// expansionState is the stack of macro instances being read from, plus the
// tokens read ahead while looking for a function-like macro's arguments.
type expansionState struct {
	instances []*instance
	pending   []ptoken
}

// expand returns the next token of read with macros expanded. inCond
// enables the defined operator.
func (p *Preprocessor) expand(st *expansionState, read reader, inCond bool) (ptoken, error) {
	next := func() (ptoken, error) {
		for len(st.instances) > 0 {
			in := st.instances[len(st.instances)-1]
			tok, err := in.next()
			if err != nil {
				return tok, err
			}
			if tok.kind != token.EOF {
				return tok, nil
			}
			st.instances = st.instances[:len(st.instances)-1]
		}
		return read()
	}

	for {
		var tok ptoken
		if len(st.pending) > 0 {
			tok = st.pending[0]
			st.pending = st.pending[1:]
		} else {
			var err error
			if tok, err = next(); err != nil {
				return tok, err
			}
		}
		if tok.kind != token.ID {
			return tok, nil
		}

		m := p.macros[tok.value]
		switch {
		case m != nil && m.IsSpecial():
			return p.special(m, tok), nil

		case m != nil && tok.history.has(m):
			// Painted: this token came out of its own macro's expansion.
			return tok, nil

		case m != nil && !m.FuncLike:
			st.instances = append(st.instances, p.newInstance(m, tok, tok.history.with(m), deps{
				used:        tok.used,
				constraints: tok.constraints,
			}, nil, tok.src))
			continue

		case m != nil:
			la, err := p.lookahead(st, next)
			if err != nil {
				return la, err
			}
			if !la.is("(") {
				st.pending = append(st.pending, la)
				if tok.top != nil {
					// Had the name been an object-like macro, it would have
					// been expanded.
					tok.addConstraint(m.Name, true)
				}
				return tok, nil
			}
			in, err := p.invokeFunc(m, tok, st, la, next)
			if err != nil {
				return ptoken{}, err
			}
			st.instances = append(st.instances, in)
			continue
		}

		if inCond && tok.value == "defined" {
			return p.defined(st, tok, next)
		}
		if tok.top != nil || inCond {
			la, err := p.lookahead(st, next)
			if err != nil {
				return la, err
			}
			st.pending = append(st.pending, la)
			tok.addConstraint(tok.value, !la.is("("))
		}
		return tok, nil
	}
}

// lookahead reads up to the next token that is not whitespace, a newline or
// an empty marker. Skipped tokens are queued as pending; the returned token
// is not.
func (p *Preprocessor) lookahead(st *expansionState, next reader) (ptoken, error) {
	for {
		tok, err := next()
		if err != nil {
			return tok, err
		}
		if !tok.kind.IsTrivial() {
			return tok, nil
		}
		st.pending = append(st.pending, tok)
	}
}

// invokeFunc collects the arguments of an invocation of the function-like
// macro m, whose name tok was followed by the opening parenthesis lparen.
func (p *Preprocessor) invokeFunc(m *ppresult.Macro, tok ptoken, st *expansionState, lparen ptoken, next reader) (*instance, error) {
	base := deps{used: tok.used.Clone(), constraints: cloneConstraints(tok.constraints)}
	for i := range st.pending {
		base.take(&st.pending[i])
	}
	st.pending = nil
	base.take(&lparen)

	p.collecting++
	defer func() { p.collecting-- }()

	var args [][]ptoken
	var rparen ptoken
	if n := len(m.Params); n > 0 {
		last := n
		if m.Variadic {
			last = n - 1
		}
		for i := 0; i < n; {
			arg, delim, err := p.collectArg(next, m.Variadic && i == m.NonVariadicParams(), &base)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			i++
			switch {
			case i < last:
				if !delim.is(",") {
					return nil, p.errorf(delim.src, reporter.ErrMacro, "too few parameters in macro invocation")
				}
			case i == n-1:
				// Only reachable for variadic macros, whose variadic
				// argument may be left out entirely.
				if delim.is(")") {
					args = append(args, nil)
					i++
				}
			case i == n:
				if !delim.is(")") {
					return nil, p.errorf(delim.src, reporter.ErrMacro, "too many parameters in macro invocation")
				}
			}
			rparen = delim
		}
	} else {
		arg, delim, err := p.collectArg(next, false, &base)
		if err != nil {
			return nil, err
		}
		if len(arg) > 0 || !delim.is(")") {
			return nil, p.errorf(delim.src, reporter.ErrMacro, "too many parameters in macro invocation")
		}
		rparen = delim
	}

	src := token.Range{Begin: tok.src.Begin, End: max(tok.src.End, rparen.src.End)}
	hist := tok.history.intersect(rparen.history).with(m)
	return p.newInstance(m, tok, hist, base, args, src), nil
}

// collectArg reads one macro argument, up to and excluding the delimiting
// comma or closing parenthesis, which is returned separately. Whitespace is
// collapsed into single spaces and stripped at both ends; empty markers are
// dropped. Dependencies of everything read are moved into base.
func (p *Preprocessor) collectArg(next reader, variadic bool, base *deps) ([]ptoken, ptoken, error) {
	var arg []ptoken
	var ws *ptoken
	depth := 0
	for {
		tok, err := next()
		if err != nil {
			return nil, tok, err
		}
		base.take(&tok)

		switch tok.kind {
		case token.Empty:
			continue
		case token.EOF:
			return nil, tok, p.errorf(tok.src, reporter.ErrMacro, "no closing right parenthesis in macro invocation")
		case token.WS, token.Newline:
			if ws == nil && len(arg) > 0 {
				tok.kind, tok.value, tok.raw = token.WS, " ", -1
				ws = &tok
			}
			continue
		}

		if depth == 0 && (tok.is(")") || !variadic && tok.is(",")) {
			return arg, tok, nil
		}
		if tok.is("(") {
			depth++
		} else if tok.is(")") {
			depth--
		}
		if ws != nil {
			arg = append(arg, *ws)
			ws = nil
		}
		arg = append(arg, tok)
	}
}

// defined evaluates the defined operator of an #if condition, whose name
// token was tok.
func (p *Preprocessor) defined(st *expansionState, tok ptoken, next reader) (ptoken, error) {
	var d deps
	d.used.AddAll(tok.used)
	d.constraints.AddAll(tok.constraints)

	operand, err := p.lookahead(st, next)
	if err != nil {
		return operand, err
	}
	// The skipped whitespace belongs to the operator.
	for i := range st.pending {
		d.take(&st.pending[i])
	}
	st.pending = nil
	d.take(&operand)

	end := operand
	if operand.is("(") {
		arg, delim, err := p.collectArg(next, false, &d)
		if err != nil {
			return delim, err
		}
		if delim.is(",") {
			return delim, p.errorf(delim.src, reporter.ErrDirective, "too many arguments to \"defined\" operator")
		}
		if len(arg) != 1 || arg[0].kind != token.ID {
			return delim, p.errorf(delim.src, reporter.ErrDirective, "invalid argument to \"defined\" operator")
		}
		operand, end = arg[0], delim
	} else if operand.kind != token.ID {
		return operand, p.errorf(operand.src, reporter.ErrDirective, "operator \"defined\" requires an identifier")
	}

	value := "0"
	if m := p.macros[operand.value]; m != nil {
		value = "1"
		d.used.Add(m)
	} else {
		d.constraints.Add(operand.value, false)
	}
	return ptoken{
		kind:        token.PPNumber,
		value:       value,
		src:         tok.src.Union(end.src),
		used:        d.used,
		constraints: d.constraints,
		top:         tok.top,
		raw:         -1,
	}, nil
}

func cloneConstraints(c ppresult.Constraints) ppresult.Constraints {
	return maps.Clone(c)
}
