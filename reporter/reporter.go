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

// Package reporter contains the types used for reporting errors and warnings
// from preprocessing and depreprocessing.
package reporter

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bufbuild/ccp/source"
)

// ErrorReporter is responsible for reporting the given error. Errors are
// always fatal to the current run; the returned error is what the run
// aborts with. Returning nil makes the run abort with [ErrInvalidSource].
type ErrorReporter func(err ErrorWithPos) error

// WarningReporter is responsible for reporting the given warning. Warnings
// never interrupt a run.
type WarningReporter func(ErrorWithPos)

// Reporter is the combination of an [ErrorReporter] and a [WarningReporter].
type Reporter interface {
	Error(ErrorWithPos) error
	Warning(ErrorWithPos)
}

// NewReporter creates a new reporter that invokes the given functions on
// error or warning.
func NewReporter(errs ErrorReporter, warnings WarningReporter) Reporter {
	return reporterFuncs{errs: errs, warnings: warnings}
}

type reporterFuncs struct {
	errs     ErrorReporter
	warnings WarningReporter
}

func (r reporterFuncs) Error(err ErrorWithPos) error {
	if r.errs == nil {
		return err
	}
	return r.errs(err)
}

func (r reporterFuncs) Warning(err ErrorWithPos) {
	if r.warnings != nil {
		r.warnings(err)
	}
}

// Handler is used by the preprocessor and depreprocessor to report errors
// and warnings. It records every diagnostic as a [Remark] and remembers the
// first error, which aborts the run.
type Handler struct {
	reporter Reporter

	mu           sync.Mutex
	errsReported bool
	err          error
	remarks      Remarks
}

// NewHandler creates a new handler. A nil rep reports errors as-is and
// discards warnings.
func NewHandler(rep Reporter) *Handler {
	if rep == nil {
		rep = NewReporter(nil, nil)
	}
	return &Handler{reporter: rep}
}

// HandleErrorf constructs and handles an error of the given kind. It
// returns the error the caller must abort with.
func (h *Handler) HandleErrorf(pos source.Pos, kind error, format string, args ...any) error {
	return h.HandleError(Errorf(pos, kind, format, args...))
}

// HandleError handles err, returning the error the caller must abort with.
// Once an error has been handled, every later call returns that same
// error.
func (h *Handler) HandleError(err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return h.err
	}
	var ewp ErrorWithPos
	if errors.As(err, &ewp) {
		h.errsReported = true
		h.remarks = append(h.remarks, Remark{Fatal, ewp.GetPosition(), ewp.Unwrap().Error()})
		err = h.reporter.Error(ewp)
		if err == nil {
			err = ErrInvalidSource
		}
	}
	h.err = err
	return err
}

// HandleWarningf reports a warning at pos.
func (h *Handler) HandleWarningf(pos source.Pos, format string, args ...any) {
	err := fmt.Errorf(format, args...)
	h.mu.Lock()
	h.remarks = append(h.remarks, Remark{Warning, pos, err.Error()})
	h.mu.Unlock()
	h.reporter.Warning(errorWithSourcePos{pos: pos, underlying: err})
}

// HandleFatalRemarkf records a fatal remark without aborting the run. This is
// used where output has already been partially written; [Handler.Error] will
// still report failure at the end.
func (h *Handler) HandleFatalRemarkf(pos source.Pos, format string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errsReported = true
	h.remarks.Fatalf(pos, format, args...)
}

// Error returns the error the run failed with, if any.
func (h *Handler) Error() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.errsReported && h.err == nil {
		return ErrInvalidSource
	}
	return h.err
}

// ReporterError returns the error returned by the reporter, ignoring fatal
// remarks that did not abort.
func (h *Handler) ReporterError() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.err
}

// Remarks returns a copy of all remarks recorded so far, in the order they
// were raised.
func (h *Handler) Remarks() Remarks {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append(Remarks(nil), h.remarks...)
}
