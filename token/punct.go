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

package token

import (
	"fmt"
	"strings"
)

// Punctuators lists every multi-character punctuator, longest first within
// each leading character so that a lexer may use it for maximal munch.
var Punctuators = []string{
	"%:%:", "...", "<<=", ">>=",
	"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=", "&&", "||",
	"*=", "/=", "%=", "+=", "-=", "&=", "^=", "|=", "##",
	"<:", ":>", "<%", "%>", "%:",
}

const singlePunctuators = "[](){}.&*+-~!/%<>^|?:;=,#"

var multiPunctuators = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Punctuators))
	for _, p := range Punctuators {
		m[p] = struct{}{}
	}
	return m
}()

// IsPunctuator returns whether s spells exactly one punctuator.
func IsPunctuator(s string) bool {
	if len(s) == 1 {
		return strings.IndexByte(singlePunctuators, s[0]) >= 0
	}
	_, ok := multiPunctuators[s]
	return ok
}

// ConcatError is returned by [Concat] when two tokens cannot be pasted.
type ConcatError struct {
	Left, Right string
	Reason      string
}

func (e *ConcatError) Error() string {
	return fmt.Sprintf("can't concatenate %s and %s: %s", e.Left, e.Right, e.Reason)
}

// Concat pastes two tokens together as the ## operator does, returning the
// kind and value of the resulting token.
//
// An [Empty] operand is a placemarker: the other operand is returned as-is.
func Concat(lk Kind, lv string, rk Kind, rv string) (Kind, string, error) {
	if lk == Empty {
		return rk, rv, nil
	}
	if rk == Empty {
		return lk, lv, nil
	}

	fail := func(reason string) (Kind, string, error) {
		return Unrecognized, "", &ConcatError{
			Left:   Stringify(lk, lv),
			Right:  Stringify(rk, rv),
			Reason: reason,
		}
	}

	switch {
	case lk == ID && rk == ID:
		return ID, lv + rv, nil

	case lk == ID && rk == PPNumber:
		for i := range len(rv) {
			if !isIdentChar(rv[i]) {
				return fail("result is not an identifier")
			}
		}
		return ID, lv + rv, nil

	case lk == ID && (rk == Str || rk == Chr):
		// Forming an encoding prefix, as in L ## "x".
		if kind, ok := prefixed(lv, rk); ok {
			return kind, rv, nil
		}
		return fail("tokens of different type")

	case lk == PPNumber && (rk == ID || rk == PPNumber):
		return PPNumber, lv + rv, nil

	case lk == PPNumber && rk == Punctuator:
		switch rv {
		case ".":
			return PPNumber, lv + rv, nil
		case "+", "-":
			if strings.ContainsRune("eEpP", rune(lv[len(lv)-1])) {
				return PPNumber, lv + rv, nil
			}
		}
		return fail("tokens of different type")

	case lk == Punctuator && rk == PPNumber:
		if lv == "." && rv[0] >= '0' && rv[0] <= '9' {
			return PPNumber, lv + rv, nil
		}
		return fail("tokens of different type")

	case lk == Punctuator && rk == Punctuator:
		if IsPunctuator(lv + rv) {
			return Punctuator, lv + rv, nil
		}
		return fail("result is not a valid punctuator")

	case lk.IsCharLiteral() || rk.IsCharLiteral():
		return fail("can't concatenate character constants")

	case lk.IsStringLiteral() || rk.IsStringLiteral():
		return fail("can't concatenate string literals")

	case lk == NonWSChar || rk == NonWSChar:
		return fail("stray character")

	default:
		return fail("tokens of different type")
	}
}

func prefixed(prefix string, kind Kind) (Kind, bool) {
	switch {
	case kind == Str && prefix == "L":
		return WStr, true
	case kind == Str && prefix == "u8":
		return UStr8, true
	case kind == Str && prefix == "u":
		return UStr16, true
	case kind == Str && prefix == "U":
		return UStr32, true
	case kind == Chr && prefix == "L":
		return WChr, true
	case kind == Chr && prefix == "u":
		return UChr16, true
	case kind == Chr && prefix == "U":
		return UChr32, true
	}
	return Unrecognized, false
}

func isIdentChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
