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
	"math"
	"strconv"
	"strings"

	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/token"
)

// evalCondition evaluates the condition of an #if or #elif, whose operand
// starts at raw index i.
func (p *Preprocessor) evalCondition(d dirLine, i int) (bool, deps, error) {
	toks, dp, err := p.expandLine(i, d.end, true)
	if err != nil {
		return false, dp, err
	}
	toks = significant(toks)
	if len(toks) == 0 {
		return false, dp, p.errorf(d.src(i-1), reporter.ErrDirective, "#if with no expression")
	}

	e := &exprParser{p: p, toks: toks, eol: token.Point(d.end)}
	v, err := e.conditional(true)
	if err != nil {
		return false, dp, err
	}
	if e.pos < len(e.toks) {
		tok := e.toks[e.pos]
		return false, dp, p.errorf(tok.src, reporter.ErrDirective, "missing binary operator before token %q", token.Stringify(tok.kind, tok.value))
	}
	return v.v != 0, dp, nil
}

// value is an intmax_t or uintmax_t.
type value struct {
	v        uint64
	unsigned bool
}

func signed(v int64) value {
	return value{v: uint64(v)}
}

func boolean(b bool) value {
	if b {
		return signed(1)
	}
	return signed(0)
}

func (v value) int() int64 {
	return int64(v.v)
}

// binaryPrec gives the precedence of binary operators; higher binds
// tighter.
var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

// exprParser parses and evaluates an integer constant expression. Operands
// that are not evaluated, such as the right-hand side of 0 && x, are parsed
// with eval unset, which suppresses errors like division by zero.
type exprParser struct {
	p    *Preprocessor
	toks []ptoken
	pos  int
	eol  token.Range
}

func (e *exprParser) peek() *ptoken {
	if e.pos < len(e.toks) {
		return &e.toks[e.pos]
	}
	return nil
}

func (e *exprParser) errorf(tok *ptoken, format string, args ...any) error {
	src := e.eol
	if tok != nil {
		src = tok.src
	}
	return e.p.errorf(src, reporter.ErrDirective, format, args...)
}

func (e *exprParser) conditional(eval bool) (value, error) {
	cond, err := e.binary(1, eval)
	if err != nil {
		return value{}, err
	}
	q := e.peek()
	if q == nil || !q.is("?") {
		return cond, nil
	}
	e.pos++
	then, err := e.conditional(eval && cond.v != 0)
	if err != nil {
		return value{}, err
	}
	if c := e.peek(); c == nil || !c.is(":") {
		return value{}, e.errorf(q, "'?' without following ':'")
	}
	e.pos++
	otherwise, err := e.conditional(eval && cond.v == 0)
	if err != nil {
		return value{}, err
	}
	result := otherwise
	if cond.v != 0 {
		result = then
	}
	result.unsigned = then.unsigned || otherwise.unsigned
	return result, nil
}

func (e *exprParser) binary(minPrec int, eval bool) (value, error) {
	lhs, err := e.unary(eval)
	if err != nil {
		return value{}, err
	}
	for {
		op := e.peek()
		if op == nil || op.kind != token.Punctuator {
			return lhs, nil
		}
		prec, ok := binaryPrec[op.value]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		e.pos++

		evalRHS := eval
		switch op.value {
		case "&&":
			evalRHS = eval && lhs.v != 0
		case "||":
			evalRHS = eval && lhs.v == 0
		}
		rhs, err := e.binary(prec+1, evalRHS)
		if err != nil {
			return value{}, err
		}
		if lhs, err = e.apply(op, lhs, rhs, eval); err != nil {
			return value{}, err
		}
	}
}

func (e *exprParser) apply(op *ptoken, lhs, rhs value, eval bool) (value, error) {
	switch op.value {
	case "&&":
		return boolean(lhs.v != 0 && rhs.v != 0), nil
	case "||":
		return boolean(lhs.v != 0 || rhs.v != 0), nil
	case "<<", ">>":
		return shift(op.value, lhs, rhs), nil
	}

	unsigned := lhs.unsigned || rhs.unsigned
	switch op.value {
	case "==":
		return boolean(lhs.v == rhs.v), nil
	case "!=":
		return boolean(lhs.v != rhs.v), nil
	case "<", ">", "<=", ">=":
		var less, equal bool
		if unsigned {
			less, equal = lhs.v < rhs.v, lhs.v == rhs.v
		} else {
			less, equal = lhs.int() < rhs.int(), lhs.v == rhs.v
		}
		switch op.value {
		case "<":
			return boolean(less), nil
		case ">":
			return boolean(!less && !equal), nil
		case "<=":
			return boolean(less || equal), nil
		default:
			return boolean(!less), nil
		}
	}

	var v uint64
	switch op.value {
	case "|":
		v = lhs.v | rhs.v
	case "^":
		v = lhs.v ^ rhs.v
	case "&":
		v = lhs.v & rhs.v
	case "+":
		v = lhs.v + rhs.v
	case "-":
		v = lhs.v - rhs.v
	case "*":
		v = lhs.v * rhs.v
	case "/", "%":
		if rhs.v == 0 {
			if !eval {
				return value{unsigned: unsigned}, nil
			}
			return value{}, e.errorf(op, "division by zero in #if")
		}
		switch {
		case unsigned && op.value == "/":
			v = lhs.v / rhs.v
		case unsigned:
			v = lhs.v % rhs.v
		case op.value == "/":
			v = uint64(lhs.int() / rhs.int())
		default:
			v = uint64(lhs.int() % rhs.int())
		}
	}
	return value{v: v, unsigned: unsigned}, nil
}

// shift keeps the type of the left operand. Out-of-range shift counts
// shift out every bit.
func shift(op string, lhs, rhs value) value {
	count := rhs.v
	left := op == "<<"
	if !rhs.unsigned && rhs.int() < 0 {
		count = uint64(-rhs.int())
		left = !left
	}
	switch {
	case left && count >= 64:
		return value{unsigned: lhs.unsigned}
	case left:
		return value{v: lhs.v << count, unsigned: lhs.unsigned}
	case lhs.unsigned && count >= 64:
		return value{unsigned: true}
	case lhs.unsigned:
		return value{v: lhs.v >> count, unsigned: true}
	default:
		return signed(lhs.int() >> min(count, 63))
	}
}

func (e *exprParser) unary(eval bool) (value, error) {
	tok := e.peek()
	if tok == nil {
		return value{}, e.errorf(nil, "#if with no expression")
	}
	if tok.kind == token.Punctuator {
		switch tok.value {
		case "+", "-", "~", "!":
			e.pos++
			v, err := e.unary(eval)
			if err != nil {
				return value{}, err
			}
			switch tok.value {
			case "-":
				v.v = -v.v
			case "~":
				v.v = ^v.v
			case "!":
				v = boolean(v.v == 0)
			}
			return v, nil

		case "(":
			e.pos++
			if c := e.peek(); c != nil && c.is(")") {
				return value{}, e.errorf(c, "missing expression between '(' and ')'")
			}
			v, err := e.conditional(eval)
			if err != nil {
				return value{}, err
			}
			if c := e.peek(); c == nil || !c.is(")") {
				return value{}, e.errorf(c, "missing ')' in expression")
			}
			e.pos++
			return v, nil
		}
	}

	e.pos++
	switch {
	case tok.kind == token.PPNumber:
		return e.number(tok)
	case tok.kind.IsCharLiteral():
		return e.char(tok)
	case tok.kind == token.ID:
		// Whatever is left after macro expansion.
		return signed(0), nil
	case tok.kind == token.Punctuator:
		return value{}, e.errorf(tok, "operator '%s' has no left operand", tok.value)
	default:
		return value{}, e.errorf(tok, "token %q is not valid in preprocessor expressions", token.Stringify(tok.kind, tok.value))
	}
}

func (e *exprParser) number(tok *ptoken) (value, error) {
	text := strings.ToLower(tok.value)
	digits := strings.TrimRight(text, "ul")
	suffix := text[len(digits):]
	switch suffix {
	case "", "u", "l", "ul", "lu", "ll", "ull", "llu":
	default:
		return value{}, e.errorf(tok, "invalid suffix %q on integer constant", tok.value[len(digits):])
	}

	base := 10
	switch {
	case strings.HasPrefix(digits, "0x"):
		base, digits = 16, digits[2:]
	case strings.HasPrefix(digits, "0b"):
		base, digits = 2, digits[2:]
	case len(digits) > 1 && digits[0] == '0':
		base, digits = 8, digits[1:]
	}
	if strings.ContainsAny(digits, ".") || base == 10 && strings.ContainsAny(digits, "e") ||
		base == 16 && strings.ContainsAny(digits, "p") {
		return value{}, e.errorf(tok, "floating constant in preprocessor expression")
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil {
		return value{}, e.errorf(tok, "invalid integer constant %q in #if", tok.value)
	}

	unsigned := strings.Contains(suffix, "u")
	if !unsigned && v > math.MaxInt64 {
		if base == 10 {
			e.p.warnf(tok.src, "integer constant is so large that it is unsigned")
		}
		unsigned = true
	}
	return value{v: v, unsigned: unsigned}, nil
}

// char evaluates a character constant. Plain char is signed; a multi-char
// constant combines its characters big-endian.
func (e *exprParser) char(tok *ptoken) (value, error) {
	chars, err := unescape(tok.value)
	if err != nil {
		return value{}, e.errorf(tok, "%v in character constant", err)
	}
	if len(chars) == 0 {
		return value{}, e.errorf(tok, "empty character constant")
	}

	switch tok.kind {
	case token.Chr:
		if len(chars) == 1 {
			return signed(int64(int8(chars[0]))), nil
		}
		var v int64
		for _, c := range chars {
			v = v<<8 | int64(c&0xff)
		}
		return signed(int64(int32(v))), nil
	case token.WChr:
		return signed(int64(int32(chars[len(chars)-1]))), nil
	case token.UChr16:
		return value{v: uint64(chars[len(chars)-1] & 0xffff), unsigned: true}, nil
	default:
		return value{v: uint64(chars[len(chars)-1] & 0xffffffff), unsigned: true}, nil
	}
}

type escapeError string

func (e escapeError) Error() string {
	return string(e)
}

// unescape decodes the escape sequences of a character constant's body.
func unescape(s string) ([]uint32, error) {
	var out []uint32
	for i := 0; i < len(s); {
		c := s[i]
		if c != '\\' {
			out = append(out, uint32(c))
			i++
			continue
		}
		i++
		if i == len(s) {
			return nil, escapeError("incomplete escape sequence")
		}
		c = s[i]
		i++
		switch c {
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case 'r':
			out = append(out, '\r')
		case 'a':
			out = append(out, 7)
		case 'b':
			out = append(out, 8)
		case 'f':
			out = append(out, 12)
		case 'v':
			out = append(out, 11)
		case 'e', 'E':
			out = append(out, 27)
		case '\\', '\'', '"', '?':
			out = append(out, uint32(c))
		case 'x':
			start := i
			var v uint32
			for i < len(s) && isHex(s[i]) {
				d, _ := strconv.ParseUint(s[i:i+1], 16, 8)
				v = v<<4 | uint32(d)
				i++
			}
			if i == start {
				return nil, escapeError("\\x used with no following hex digits")
			}
			out = append(out, v)
		case '0', '1', '2', '3', '4', '5', '6', '7':
			v := uint32(c - '0')
			for n := 1; n < 3 && i < len(s) && s[i] >= '0' && s[i] <= '7'; n++ {
				v = v<<3 | uint32(s[i]-'0')
				i++
			}
			out = append(out, v)
		default:
			return nil, escapeError("unknown escape sequence '\\" + string(c) + "'")
		}
	}
	return out, nil
}

func isHex(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
