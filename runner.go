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

package ccp

import (
	"context"
	"io"
	"maps"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bufbuild/ccp/depreprocessor"
	"github.com/bufbuild/ccp/ppresult"
	"github.com/bufbuild/ccp/preprocessor"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
)

const commandLine = "<command-line>"

// Runner preprocesses translation units.
type Runner struct {
	// How units are preprocessed.
	Config Config
	// Reads source files. If unspecified, files are read from the host
	// filesystem.
	Opener source.Opener
	// The working directory preincluded files are resolved against. If
	// unspecified, the process's working directory is used.
	WorkDir string
	// A custom error and warning reporter. If unspecified a default reporter
	// is used, which fails a unit at its first error and ignores warnings.
	// The reporter may be called from several goroutines at once.
	Reporter reporter.Reporter
}

// Unit is a preprocessed translation unit.
type Unit struct {
	// The path of the unit's main file, as given to [Runner.Run].
	Path string
	// Where every expanded token of the unit came from.
	Result *ppresult.Result

	handler *reporter.Handler
}

// Remarks returns the warnings and errors reported for the unit so far.
func (u *Unit) Remarks() reporter.Remarks {
	return u.handler.Remarks()
}

// Format writes the expanded tokens of the unit as text.
func (u *Unit) Format(w io.Writer) error {
	return preprocessor.Format(w, u.Result)
}

// Depreprocess writes the main file of the unit back out as source code
// named name: every top-level declaration is kept, with the #defines,
// #undefs and #includes it needs. If expand is set, macro invocations are
// written expanded.
//
// Errors raised while writing are reported through the unit's reporter and
// added to its remarks.
func (u *Unit) Depreprocess(name string, w io.Writer, expand bool) error {
	roots := u.Result.Roots()
	d := depreprocessor.New(u.Result, u.handler)
	d.AppendTopLevel(roots[len(roots)-1], expand)
	return d.Write(name, w)
}

// Run preprocesses the given files, each as a translation unit of its own,
// and returns the units in the same order. Units are processed in parallel;
// the first one to fail cancels the rest and its error is returned.
func (r *Runner) Run(ctx context.Context, files ...string) ([]*Unit, error) {
	if len(files) == 0 {
		return nil, nil
	}

	par := r.Config.MaxParallelism
	if par <= 0 {
		par = min(runtime.GOMAXPROCS(-1), runtime.NumCPU())
	}
	includeDirs, err := source.ExpandDirs(r.Config.IncludeDirs)
	if err != nil {
		return nil, err
	}

	s := semaphore.NewWeighted(int64(par))
	grp, ctx := errgroup.WithContext(ctx)
	units := make([]*Unit, len(files))
	for i, file := range files {
		grp.Go(func() error {
			if err := s.Acquire(ctx, 1); err != nil {
				return err
			}
			defer s.Release(1)

			u, err := r.preprocess(file, includeDirs)
			if err != nil {
				return err
			}
			units[i] = u
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

func (r *Runner) preprocess(file string, includeDirs []string) (*Unit, error) {
	h := reporter.NewHandler(r.Reporter)
	sp := &source.SearchPath{
		Opener:      r.Opener,
		QuoteDirs:   r.Config.QuoteDirs,
		IncludeDirs: includeDirs,
		WorkDir:     r.WorkDir,
	}
	p := preprocessor.New(sp, nil, h)
	if err := r.predefine(p, h); err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(r.Config.Preincludes)+1)
	for _, name := range r.Config.Preincludes {
		path := sp.Resolve(name, file, source.CWD)
		if path == "" {
			return nil, h.HandleErrorf(source.Pos{Filename: commandLine}, reporter.ErrResolution,
				"no include path in which to search for %s", name)
		}
		roots = append(roots, path)
	}
	roots = append(roots, file)

	res, err := p.Run(roots...)
	if err != nil {
		return nil, err
	}
	return &Unit{Path: file, Result: res, handler: h}, nil
}

// predefine registers the builtins and the command-line definitions with p.
// Builtins are registered in lexical order of their signatures.
func (r *Runner) predefine(p *preprocessor.Preprocessor, h *reporter.Handler) error {
	builtins := r.Config.builtins()
	for _, sig := range slices.Sorted(maps.Keys(builtins)) {
		name, params, variadic, err := parseSignature(sig)
		if err != nil {
			return h.HandleErrorf(source.Pos{Filename: commandLine}, reporter.ErrDirective, "%v", err)
		}
		if err := p.RegisterBuiltinFunc(name, params, variadic, builtins[sig]); err != nil {
			return err
		}
	}
	for _, def := range r.Config.Defines {
		if err := p.RegisterPredefined(splitDefine(def)); err != nil {
			return err
		}
	}
	for _, name := range r.Config.Undefines {
		p.RegisterPredefinedUndef(name)
	}
	return nil
}
