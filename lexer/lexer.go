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

// Package lexer splits C source files into raw preprocessing tokens.
//
// Backslash-newline sequences are spliced out of token values but remain
// part of the byte ranges tokens cover, so that copying a token's range
// reproduces the original spelling exactly. Comments become a single
// whitespace token whose value is " ".
package lexer

import (
	"strings"

	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
	"github.com/bufbuild/ccp/token"
)

// headerState tracks whether the lexer is in a position where a header name
// (<...> or "..." without escapes) may appear, i.e. after "# include".
type headerState uint8

const (
	lineStart headerState = iota
	sharpSeen
	expectHeader
	midLine
)

var (
	stringPrefixes = map[string]token.Kind{"L": token.WStr, "u": token.UStr16, "U": token.UStr32, "u8": token.UStr8}
	charPrefixes   = map[string]token.Kind{"L": token.WChr, "u": token.UChr16, "U": token.UChr32}
)

// Lexer produces raw tokens from a single file.
type Lexer struct {
	file    *source.File
	text    string
	handler *reporter.Handler

	// Offset of the current logical character. Always positioned after any
	// line splices.
	pos int
	// Offset just past the last consumed character.
	consumed int
	state    headerState
	done     bool
}

// New creates a lexer for file. Errors and warnings go to handler.
func New(file *source.File, handler *reporter.Handler) *Lexer {
	l := &Lexer{
		file:    file,
		text:    file.Text(),
		handler: handler,
	}
	l.pos = l.skipSplices(0)
	l.consumed = l.pos
	return l
}

// Tokenize lexes all of file, including the trailing [token.EOF] token.
func Tokenize(file *source.File, handler *reporter.Handler) ([]token.Raw, error) {
	l := New(file, handler)
	var toks []token.Raw
	for {
		tok, err := l.Next()
		if err != nil {
			return toks, err
		}
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks, nil
		}
	}
}

// Next returns the next token. Once [token.EOF] has been returned, every
// subsequent call returns it again.
func (l *Lexer) Next() (token.Raw, error) {
	if err := l.handler.ReporterError(); err != nil {
		return token.Raw{}, err
	}

	start := l.pos
	c := l.peek(0)
	switch {
	case l.atEOF():
		if !l.done {
			l.done = true
			if n := len(l.text); n > 0 && l.text[n-1] == '\\' {
				return token.Raw{}, l.errorf(n-1, "no newline after continuation")
			}
		}
		n := len(l.text)
		return token.Raw{Kind: token.EOF, Offset: n, End: n}, nil

	case c == '\n':
		l.state = lineStart
		l.advance(1)
		return l.token(token.Newline, "\n", start), nil

	case isHorizontalSpace(c):
		return l.whitespace(start), nil

	case c == '/' && l.peek(1) == '*':
		l.advance(2)
		return l.blockComment(start)

	case c == '/' && l.peek(1) == '/':
		l.advance(2)
		return l.lineComment(start), nil

	case c == '\'':
		l.state = midLine
		l.advance(1)
		return l.literal(start, '\'', true, token.Chr)

	case c == '"':
		l.advance(1)
		if l.state == expectHeader {
			l.state = midLine
			return l.literal(start, '"', false, token.QStr)
		}
		l.state = midLine
		return l.literal(start, '"', true, token.Str)

	case c == '<' && l.state == expectHeader:
		l.state = midLine
		l.advance(1)
		return l.literal(start, '>', false, token.HStr)

	case isIdentStart(c):
		return l.identifier(start)

	case isDigit(c), c == '.' && isDigit(l.peek(1)):
		l.state = midLine
		return l.number(start), nil

	case c == '#':
		if l.state == lineStart && l.peek(1) != '#' {
			l.state = sharpSeen
		} else {
			l.state = midLine
		}
		return l.punctuator(start), nil

	case strings.IndexByte("[](){}.&*+-~!/%<>^|?:;=,", c) >= 0:
		l.state = midLine
		return l.punctuator(start), nil

	default:
		l.state = midLine
		l.advance(1)
		return l.token(token.NonWSChar, string(c), start), nil
	}
}

func (l *Lexer) whitespace(start int) token.Raw {
	var b strings.Builder
	for c := l.peek(0); isHorizontalSpace(c) && !l.atEOF(); c = l.peek(0) {
		b.WriteByte(c)
		l.advance(1)
	}
	return l.token(token.WS, b.String(), start)
}

func (l *Lexer) blockComment(start int) (token.Raw, error) {
	for !l.atEOF() {
		if l.peek(0) == '*' && l.peek(1) == '/' {
			l.advance(2)
			return l.token(token.WS, " ", start), nil
		}
		l.advance(1)
	}
	return token.Raw{}, l.errorf(l.pos, "EOF within C-style comment")
}

func (l *Lexer) lineComment(start int) token.Raw {
	for !l.atEOF() && l.peek(0) != '\n' {
		l.advance(1)
	}
	if l.atEOF() {
		l.handler.HandleWarningf(l.file.Pos(l.pos), "EOF within C++-style comment")
	}
	return l.token(token.WS, " ", start)
}

// literal lexes the body of a character constant, string literal or header
// name whose opening delimiter has already been consumed.
func (l *Lexer) literal(start int, closing byte, escapable bool, kind token.Kind) (token.Raw, error) {
	var b strings.Builder
	escaped := false
	for !l.atEOF() {
		c := l.peek(0)
		l.advance(1)
		if c == closing && !(escapable && escaped) {
			return l.token(kind, b.String(), start), nil
		}
		escaped = !escaped && c == '\\'
		b.WriteByte(c)
	}
	return token.Raw{}, l.errorf(l.pos, "encountered EOF while searching for end of string")
}

func (l *Lexer) identifier(start int) (token.Raw, error) {
	var b strings.Builder
	for c := l.peek(0); isIdentChar(c) && !l.atEOF(); c = l.peek(0) {
		b.WriteByte(c)
		l.advance(1)
	}
	id := b.String()

	// Encoding prefixes.
	switch next := l.peek(0); {
	case next == '"' && stringPrefixes[id] != 0:
		l.state = midLine
		l.advance(1)
		return l.literal(start, '"', true, stringPrefixes[id])
	case next == '\'' && charPrefixes[id] != 0:
		l.state = midLine
		l.advance(1)
		return l.literal(start, '\'', true, charPrefixes[id])
	}

	if l.state == sharpSeen && id == "include" {
		l.state = expectHeader
	} else {
		l.state = midLine
	}
	return l.token(token.ID, id, start), nil
}

// number lexes a pp-number: a digit or '.' digit, followed by identifier
// characters, '.', and signs directly after an exponent marker.
func (l *Lexer) number(start int) token.Raw {
	var b strings.Builder
	for !l.atEOF() {
		c := l.peek(0)
		switch {
		case (c == 'e' || c == 'E' || c == 'p' || c == 'P') && (l.peek(1) == '+' || l.peek(1) == '-'):
			b.WriteByte(c)
			b.WriteByte(l.peek(1))
			l.advance(2)
		case isIdentChar(c) || c == '.':
			b.WriteByte(c)
			l.advance(1)
		default:
			return l.token(token.PPNumber, b.String(), start)
		}
	}
	return l.token(token.PPNumber, b.String(), start)
}

func (l *Lexer) punctuator(start int) token.Raw {
	for _, p := range token.Punctuators {
		if l.lookingAt(p) {
			l.advance(len(p))
			return l.token(token.Punctuator, p, start)
		}
	}
	c := l.peek(0)
	l.advance(1)
	return l.token(token.Punctuator, string(c), start)
}

func (l *Lexer) token(kind token.Kind, value string, start int) token.Raw {
	return token.Raw{Kind: kind, Value: value, Offset: start, End: l.end()}
}

func (l *Lexer) errorf(offset int, format string, args ...any) error {
	return l.handler.HandleErrorf(l.file.Pos(offset), reporter.ErrLexical, format, args...)
}

// end returns the offset just past the last consumed character. Splices
// following a token are not part of it.
func (l *Lexer) end() int {
	return l.consumed
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.text)
}

// peek returns the nth logical character ahead, or 0 past the end.
func (l *Lexer) peek(n int) byte {
	pos := l.pos
	for ; n > 0 && pos < len(l.text); n-- {
		pos = l.skipSplices(pos + 1)
	}
	if pos >= len(l.text) {
		return 0
	}
	return l.text[pos]
}

func (l *Lexer) lookingAt(s string) bool {
	for i := range len(s) {
		if l.peek(i) != s[i] {
			return false
		}
	}
	return true
}

// advance consumes n logical characters.
func (l *Lexer) advance(n int) {
	for ; n > 0 && l.pos < len(l.text); n-- {
		l.consumed = l.pos + 1
		l.pos = l.skipSplices(l.pos + 1)
	}
}

func (l *Lexer) skipSplices(pos int) int {
	for pos+1 < len(l.text) && l.text[pos] == '\\' && l.text[pos+1] == '\n' {
		pos += 2
	}
	return pos
}

func isHorizontalSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\f' || c == '\v' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}
