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

import "fmt"

// Kind is the lexical category of a preprocessing token.
type Kind uint8

const (
	Unrecognized Kind = iota

	WS      // A run of horizontal whitespace, or a comment.
	Newline // A physical line break.

	ID
	PPNumber

	Chr    // 'x'
	WChr   // L'x'
	UChr16 // u'x'
	UChr32 // U'x'

	Str    // "x"
	WStr   // L"x"
	UStr8  // u8"x"
	UStr16 // u"x"
	UStr32 // U"x"

	QStr // "x" header name in an #include.
	HStr // <x> header name in an #include.

	Punctuator
	NonWSChar // Any other single character, such as a stray '@' or '\'.

	// Empty is a zero-width marker emitted at macro expansion boundaries.
	// It never produces text but carries provenance.
	Empty
	EOF
)

var kindNames = [...]string{
	Unrecognized: "unrecognized",
	WS:           "ws",
	Newline:      "newline",
	ID:           "id",
	PPNumber:     "pp_number",
	Chr:          "chr",
	WChr:         "wchr",
	UChr16:       "uchr16",
	UChr32:       "uchr32",
	Str:          "str",
	WStr:         "wstr",
	UStr8:        "ustr8",
	UStr16:       "ustr16",
	UStr32:       "ustr32",
	QStr:         "qstr",
	HStr:         "hstr",
	Punctuator:   "punctuator",
	NonWSChar:    "non_ws_char",
	Empty:        "empty",
	EOF:          "eof",
}

// String implements [fmt.Stringer].
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// IsCharLiteral returns whether this is one of the character constant kinds.
func (k Kind) IsCharLiteral() bool {
	switch k {
	case Chr, WChr, UChr16, UChr32:
		return true
	default:
		return false
	}
}

// IsStringLiteral returns whether this is one of the string literal kinds.
// Header names are not string literals.
func (k Kind) IsStringLiteral() bool {
	switch k {
	case Str, WStr, UStr8, UStr16, UStr32:
		return true
	default:
		return false
	}
}

// IsTrivial returns whether tokens of this kind are skipped when looking for
// the next meaningful token, e.g. the '(' of a function-like macro invocation.
func (k Kind) IsTrivial() bool {
	return k == WS || k == Newline || k == Empty
}

// prefix returns the encoding prefix and delimiters for literal kinds.
func (k Kind) delimiters() (prefix string, open, closing byte) {
	switch k {
	case Chr:
		return "", '\'', '\''
	case WChr:
		return "L", '\'', '\''
	case UChr16:
		return "u", '\'', '\''
	case UChr32:
		return "U", '\'', '\''
	case Str, QStr:
		return "", '"', '"'
	case WStr:
		return "L", '"', '"'
	case UStr8:
		return "u8", '"', '"'
	case UStr16:
		return "u", '"', '"'
	case UStr32:
		return "U", '"', '"'
	case HStr:
		return "", '<', '>'
	default:
		return "", 0, 0
	}
}
