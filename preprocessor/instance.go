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
	"strings"

	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/token"
)

// instance produces the replacement tokens of one macro invocation, one at a
// time. Once exhausted it returns an EOF token.
//
// If the replacement is empty, a single [token.Empty] token is produced so
// that the invocation is still visible downstream.
type instance struct {
	p     *Preprocessor
	macro *ppresult.Macro
	top   *ppresult.Macro
	src   token.Range
	hist  history

	// Attached to every token produced: the invocation's own dependencies
	// plus the macro itself.
	used        ppresult.UsedMacros
	constraints ppresult.Constraints

	args     [][]ptoken
	expanded [][]ptoken
	// Whether expanded[i] has been computed.
	expandedDone []bool

	// Position in the replacement list.
	pos int
	// The argument currently being substituted, if active.
	arg       []ptoken
	argPos    int
	argActive bool

	// Whether the next operand is the right-hand side of a ##.
	inConcat bool
	// The result of the ## operations so far.
	concat *ptoken

	emitted bool
	// Set if expanding an argument failed.
	err error
}

func (p *Preprocessor) newInstance(m *ppresult.Macro, name ptoken, hist history, base deps, args [][]ptoken, src token.Range) *instance {
	top := name.top
	if top == nil {
		top = m
	}
	used := base.used.Clone()
	used.Add(m)
	return &instance{
		p:            p,
		macro:        m,
		top:          top,
		src:          src,
		hist:         hist,
		used:         used,
		constraints:  cloneConstraints(base.constraints),
		args:         args,
		expanded:     make([][]ptoken, len(args)),
		expandedDone: make([]bool, len(args)),
	}
}

// produce creates a token produced by this instance.
func (in *instance) produce(kind token.Kind, value string) ptoken {
	return ptoken{
		kind:        kind,
		value:       value,
		src:         in.src,
		history:     in.hist,
		used:        in.used,
		constraints: in.constraints,
		top:         in.top,
		raw:         -1,
	}
}

func (in *instance) next() (ptoken, error) {
	for {
		if in.err != nil {
			return ptoken{}, in.err
		}
		if in.argActive {
			tok, ok, err := in.substitute()
			if err != nil || ok {
				return tok, err
			}
			continue
		}
		tok, ok, err := in.replace()
		if err != nil || ok {
			return tok, err
		}
	}
}

// substitute continues substituting the active argument. ok reports whether
// a token was produced; if not, the caller must try again.
func (in *instance) substitute() (tok ptoken, ok bool, err error) {
	switch {
	case len(in.arg) == 0:
		in.argActive = false
		plain := !in.inConcat && !in.isConcat(in.pos+1)
		in.pos++
		switch {
		case in.isConcat(in.pos):
			in.inConcat = true
			in.pos++
		case in.inConcat:
			in.inConcat = false
			if in.concat != nil {
				return in.yieldConcat(), true, nil
			}
		case plain:
			in.emitted = true
			return in.produce(token.Empty, ""), true, nil
		}
		return ptoken{}, false, nil

	case in.argPos == 0 && in.inConcat:
		// The argument is the right-hand operand of a ##: its first token
		// is pasted, the rest is emitted as-is.
		if err := in.addConcat(in.arg[0]); err != nil {
			return ptoken{}, false, err
		}
		in.argPos++
		if in.argPos == len(in.arg) {
			in.argActive = false
			in.pos++
		}
		if in.argActive || !in.isConcat(in.pos) {
			in.inConcat = false
			return in.yieldConcat(), true, nil
		}
		// A single-token argument between two ## operators.
		in.pos++
		return ptoken{}, false, nil

	case in.argPos+1 == len(in.arg) && in.isConcat(in.pos+1):
		// The argument's last token is the left-hand operand of a ##.
		if err := in.addConcat(in.arg[in.argPos]); err != nil {
			return ptoken{}, false, err
		}
		in.argPos++
		in.argActive = false
		in.inConcat = true
		in.pos += 2
		return ptoken{}, false, nil

	default:
		from := in.arg[in.argPos]
		tok := in.produce(from.kind, from.value)
		tok.history = in.hist.union(from.history)
		tok.addDeps(from.used, from.constraints)
		tok.raw = from.raw
		in.argPos++
		if in.argPos == len(in.arg) {
			in.argActive = false
			in.pos++
		}
		in.emitted = true
		return tok, true, nil
	}
}

// replace continues with the replacement list.
func (in *instance) replace() (tok ptoken, ok bool, err error) {
	repl := in.macro.Repl

	// Every operand of a ## but the last.
	for in.pos < len(repl) && in.isConcat(in.skipOperand(in.pos)) {
		t := repl[in.pos]
		if t.Kind == token.ID {
			if arg, ok := in.resolve(t.Value, false); ok {
				in.activate(arg)
				return ptoken{}, false, nil
			}
		} else if in.macro.Variadic && t.Is(",") && in.pos+2 < len(repl) &&
			repl[in.pos+2].IsID(in.macro.Params[len(in.macro.Params)-1]) {
			// GNU: in ", ## __VA_ARGS__" the comma disappears if the
			// variadic argument is empty, and is not pasted otherwise.
			if len(in.args[len(in.args)-1]) == 0 {
				in.pos += 2
				continue
			}
			if in.concat != nil {
				if err := in.addConcat(in.produce(t.Kind, t.Value)); err != nil {
					return ptoken{}, false, err
				}
				in.pos += 2
				return in.yieldConcat(), true, nil
			}
			in.pos += 2
			in.inConcat = true
			in.emitted = true
			return in.produce(t.Kind, t.Value), true, nil
		}

		if in.isStringify(in.pos) {
			if err := in.addConcat(in.stringify()); err != nil {
				return ptoken{}, false, err
			}
		} else {
			if err := in.addConcat(in.produce(t.Kind, t.Value)); err != nil {
				return ptoken{}, false, err
			}
			in.pos++
		}
		// Skip the ##.
		in.pos++
		in.inConcat = true
	}

	if in.pos == len(repl) {
		if !in.emitted {
			in.emitted = true
			return in.produce(token.Empty, ""), true, nil
		}
		return eofToken(in.src.End), true, nil
	}

	t := repl[in.pos]
	if t.Kind == token.ID {
		if arg, ok := in.resolve(t.Value, !in.inConcat); ok {
			in.activate(arg)
			return ptoken{}, false, nil
		}
	}

	if in.inConcat {
		if in.isStringify(in.pos) {
			err = in.addConcat(in.stringify())
		} else {
			err = in.addConcat(in.produce(t.Kind, t.Value))
			in.pos++
		}
		if err != nil {
			return ptoken{}, false, err
		}
		in.inConcat = false
		return in.yieldConcat(), true, nil
	}

	in.emitted = true
	if in.isStringify(in.pos) {
		return in.stringify(), true, nil
	}
	in.pos++
	return in.produce(t.Kind, t.Value), true, nil
}

func (in *instance) activate(arg []ptoken) {
	in.arg = arg
	in.argPos = 0
	in.argActive = true
}

// resolve returns the argument for the parameter name, macro-expanded if
// expanded is set.
func (in *instance) resolve(name string, expanded bool) ([]ptoken, bool) {
	i := in.macro.ParamIndex(name)
	if i < 0 {
		return nil, false
	}
	if !expanded {
		return in.args[i], true
	}
	if !in.expandedDone[i] {
		in.expanded[i], in.err = in.p.expandArg(in.args[i], in.src.End)
		in.expandedDone[i] = true
	}
	return in.expanded[i], true
}

func (in *instance) isConcat(i int) bool {
	return i < len(in.macro.Repl) && in.macro.Repl[i].Is("##")
}

func (in *instance) isStringify(i int) bool {
	return in.macro.FuncLike && in.macro.Repl[i].Is("#")
}

// skipOperand returns the position after the operand at i, which is two
// tokens long for a stringification.
func (in *instance) skipOperand(i int) int {
	if in.isStringify(i) {
		return i + 2
	}
	return i + 1
}

// stringify applies the # operator at the current position.
func (in *instance) stringify() ptoken {
	arg, _ := in.resolve(in.macro.Repl[in.pos+1].Value, false)
	in.pos += 2

	var b strings.Builder
	for _, tok := range arg {
		b.WriteString(token.Stringify(tok.kind, tok.value))
	}
	return in.produce(token.Str, token.Quote(b.String()))
}

func (in *instance) addConcat(tok ptoken) error {
	if in.concat == nil {
		c := in.produce(tok.kind, tok.value)
		c.history = in.hist.union(tok.history)
		in.concat = &c
		return nil
	}
	kind, value, err := token.Concat(in.concat.kind, in.concat.value, tok.kind, tok.value)
	if err != nil {
		return in.p.errorf(in.src, reporter.ErrMacro, "%v", err)
	}
	in.concat.kind, in.concat.value = kind, value
	in.concat.history = in.concat.history.union(tok.history)
	return nil
}

func (in *instance) yieldConcat() ptoken {
	tok := *in.concat
	in.concat = nil
	in.emitted = true
	return tok
}

// expandArg fully macro-expands an argument on its own.
func (p *Preprocessor) expandArg(arg []ptoken, eof int) ([]ptoken, error) {
	var st expansionState
	read := sliceReader(arg, eof)
	var out []ptoken
	for {
		tok, err := p.expand(&st, read, false)
		if err != nil {
			return nil, err
		}
		if tok.kind == token.EOF {
			return out, nil
		}
		out = append(out, tok)
	}
}
