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

package source

import (
	"bufio"
	"io"
	"strings"
)

// Writer writes generated source text, keeping track of the current line
// number for diagnostics about the output.
//
// Write errors are sticky: after the first one, further appends are no-ops
// and the error is reported by [Writer.Flush].
type Writer struct {
	w    *bufio.Writer
	line int
	last byte
	err  error
}

// NewWriter returns a writer appending to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), line: 1}
}

// Append appends literal text.
func (w *Writer) Append(text string) {
	if w.err != nil || text == "" {
		return
	}
	_, w.err = w.w.WriteString(text)
	w.line += strings.Count(text, "\n")
	w.last = text[len(text)-1]
}

// AppendNewline appends a line break.
func (w *Writer) AppendNewline() {
	w.Append("\n")
}

// AppendRange copies the bytes [start, end) of r verbatim.
func (w *Writer) AppendRange(r Reader, start, end int) {
	if w.err != nil {
		return
	}
	text, err := r.Slice(start, end)
	if err != nil {
		w.err = err
		return
	}
	w.Append(text)
}

// Line returns the 1-indexed line the next appended byte will land on.
func (w *Writer) Line() int {
	return w.line
}

// AtLineStart returns whether nothing has been written yet on the current
// line.
func (w *Writer) AtLineStart() bool {
	return w.last == 0 || w.last == '\n'
}

// Flush flushes buffered output and returns the first error encountered.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.w.Flush()
}
