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

package reporter

import (
	"errors"
	"fmt"

	"github.com/bufbuild/ccp/source"
)

// ErrInvalidSource is a sentinel error returned by [Handler.Error] when
// fatal remarks were recorded but the configured [ErrorReporter] swallowed
// every error, or when a fatal remark was recorded without aborting.
var ErrInvalidSource = errors.New("preprocessing failed: invalid C source")

// The error taxonomy. Every fatal error produced by this module satisfies
// errors.Is against exactly one of these.
var (
	// ErrLexical is a malformed token, or an unterminated comment or literal.
	ErrLexical = errors.New("lexical error")
	// ErrDirective is a malformed #define, #undef, #include or conditional.
	ErrDirective = errors.New("directive syntax error")
	// ErrMacro is an incompatible redefinition, invalid # or ## usage or
	// result, wrong argument count or missing closing parenthesis.
	ErrMacro = errors.New("macro error")
	// ErrStructural is an #endif without #if, or a missing #endif.
	ErrStructural = errors.New("structural error")
	// ErrResolution is a header that could not be found.
	ErrResolution = errors.New("header resolution error")
	// ErrIO is a failure opening, reading or writing a file.
	ErrIO = errors.New("i/o error")
)

// ErrorWithPos is an error about a C source file that includes information
// about the location in the file that caused the error.
//
// The value of Error() will contain both the position and the underlying
// error. The value of Unwrap() will only be the underlying error.
type ErrorWithPos interface {
	error
	GetPosition() source.Pos
	Unwrap() error
}

// Error wraps err with a position.
func Error(pos source.Pos, err error) ErrorWithPos {
	return errorWithSourcePos{pos: pos, underlying: err}
}

// Errorf constructs a new error of the given kind at pos. kind should be one
// of the taxonomy sentinels, such as [ErrMacro].
func Errorf(pos source.Pos, kind error, format string, args ...any) ErrorWithPos {
	return errorWithSourcePos{
		pos:        pos,
		underlying: kindError{kind: kind, msg: fmt.Sprintf(format, args...)},
	}
}

// errorWithSourcePos is an error about a C source file that includes
// information about the location in the file that caused the error.
//
// Calling code that is trying to examine errors with location info should
// look for instances of the ErrorWithPos interface.
type errorWithSourcePos struct {
	underlying error
	pos        source.Pos
}

func (e errorWithSourcePos) Error() string {
	return fmt.Sprintf("%s: %v", e.pos, e.underlying)
}

// GetPosition implements the ErrorWithPos interface.
func (e errorWithSourcePos) GetPosition() source.Pos {
	return e.pos
}

// Unwrap implements the ErrorWithPos interface, supplying the underlying
// error. This error will not include location information.
func (e errorWithSourcePos) Unwrap() error {
	return e.underlying
}

var _ ErrorWithPos = errorWithSourcePos{}

// kindError is a message classified by one of the taxonomy sentinels. The
// sentinel is not part of the message.
type kindError struct {
	kind error
	msg  string
}

func (e kindError) Error() string {
	return e.msg
}

func (e kindError) Is(target error) bool {
	return target == e.kind
}

// Kind returns which taxonomy sentinel err belongs to, or nil if it belongs
// to none of them.
func Kind(err error) error {
	for _, kind := range []error{ErrLexical, ErrDirective, ErrMacro, ErrStructural, ErrResolution, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
