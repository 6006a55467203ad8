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

package reporter_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
)

func TestErrorf(t *testing.T) {
	t.Parallel()

	pos := source.Pos{Filename: "a.c", Line: 3, Col: 7}
	err := reporter.Errorf(pos, reporter.ErrMacro, "too many parameters in macro invocation")

	assert.Equal(t, "a.c:3:7: too many parameters in macro invocation", err.Error())
	assert.Equal(t, pos, err.GetPosition())
	assert.ErrorIs(t, err, reporter.ErrMacro)
	assert.NotErrorIs(t, err, reporter.ErrLexical)
	assert.Equal(t, reporter.ErrMacro, reporter.Kind(err))
	assert.Nil(t, reporter.Kind(errors.New("other")))
}

func TestHandler(t *testing.T) {
	t.Parallel()

	var warnings []string
	h := reporter.NewHandler(reporter.NewReporter(nil, func(err reporter.ErrorWithPos) {
		warnings = append(warnings, err.Error())
	}))

	h.HandleWarningf(source.Pos{Filename: "a.c", Line: 1, Col: 1}, "garbage after #endif")
	require.NoError(t, h.Error())
	assert.Equal(t, []string{"a.c:1:1: garbage after #endif"}, warnings)

	first := h.HandleErrorf(source.Pos{Filename: "a.c", Line: 2, Col: 1}, reporter.ErrStructural, "#endif without #if")
	require.ErrorIs(t, first, reporter.ErrStructural)
	second := h.HandleErrorf(source.Pos{Filename: "a.c", Line: 5, Col: 1}, reporter.ErrMacro, "ignored")
	assert.Equal(t, first, second)
	assert.Equal(t, first, h.Error())

	remarks := h.Remarks()
	require.Len(t, remarks, 2)
	assert.Equal(t, reporter.Warning, remarks[0].Severity)
	assert.Equal(t, reporter.Fatal, remarks[1].Severity)
	assert.True(t, remarks.AnyFatal())
}

func TestHandlerSwallowingReporter(t *testing.T) {
	t.Parallel()

	h := reporter.NewHandler(reporter.NewReporter(func(reporter.ErrorWithPos) error { return nil }, nil))
	err := h.HandleErrorf(source.Pos{}, reporter.ErrIO, "boom")
	assert.ErrorIs(t, err, reporter.ErrInvalidSource)
	assert.ErrorIs(t, h.Error(), reporter.ErrInvalidSource)
}

func TestFatalRemark(t *testing.T) {
	t.Parallel()

	h := reporter.NewHandler(nil)
	h.HandleFatalRemarkf(source.Pos{Filename: "out.c", Line: 4}, "unable to emit define for required special macro %q", "__LINE__")
	assert.NoError(t, h.ReporterError())
	assert.ErrorIs(t, h.Error(), reporter.ErrInvalidSource)
}

func TestRemarksSortAndPrint(t *testing.T) {
	t.Parallel()

	var r reporter.Remarks
	r.Fatalf(source.Pos{Filename: "b.c", Line: 1, Col: 1, Offset: 0}, "b")
	r.Warnf(source.Pos{Filename: "a.c", Line: 2, Col: 1, Offset: 10}, "a2")
	r.Warnf(source.Pos{Filename: "a.c", Line: 1, Col: 1, Offset: 0}, "a1")
	r.Sort()

	var b strings.Builder
	require.NoError(t, r.Print(&b))
	assert.Equal(t, "a.c:1:1: warning: a1\na.c:2:1: warning: a2\nb.c:1:1: fatal: b\n", b.String())
}
