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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/bufbuild/ccp"
	"github.com/bufbuild/ccp/reporter"
	"github.com/bufbuild/ccp/source"
)

// errReported is returned by commands whose failure was already printed.
var errReported = errors.New("failure reported")

// options are the flags shared by all commands.
type options struct {
	config      string
	includeDirs []string
	quoteDirs   []string
	defines     []string
	undefines   []string
	preincludes []string
	jobs        int
	color       string

	// Overrides the host filesystem in tests.
	opener source.Opener
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "ccp",
		Short: "C preprocessor with provenance tracking",
		Long: `ccp preprocesses C source files, remembering where every output token
came from, and can write a translation unit back out as C source that keeps
macro invocations and #includes intact along with only the directives the
kept code needs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.config, "config", "", "YAML configuration file")
	flags.StringArrayVarP(&opts.includeDirs, "include-dir", "I", nil, "Add a directory to the include search path")
	flags.StringArrayVar(&opts.quoteDirs, "iquote", nil, "Add a directory to the search path of quoted includes")
	flags.StringArrayVarP(&opts.defines, "define", "D", nil, "Define a macro: NAME, NAME=VALUE or NAME(PARAMS)=VALUE")
	flags.StringArrayVarP(&opts.undefines, "undefine", "U", nil, "Undefine a macro")
	flags.StringArrayVar(&opts.preincludes, "include", nil, "Process a file before each translation unit")
	flags.IntVarP(&opts.jobs, "jobs", "j", 0, "Number of translation units processed at once (default: number of CPUs)")
	flags.StringVar(&opts.color, "color", "auto", "Color diagnostics: auto, always, never")

	cmd.AddCommand(newPreprocessCommand(opts))
	cmd.AddCommand(newDepreprocessCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// loadConfig combines the configuration file, if any, with the flags.
func (o *options) loadConfig() (*ccp.Config, error) {
	cfg := &ccp.Config{}
	if o.config != "" {
		loaded, err := ccp.LoadConfig(o.config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Merge(&ccp.Config{
		IncludeDirs:    o.includeDirs,
		QuoteDirs:      o.quoteDirs,
		Defines:        o.defines,
		Undefines:      o.undefines,
		Preincludes:    o.preincludes,
		MaxParallelism: o.jobs,
	})
	return cfg, nil
}

func (o *options) styles() (*styles, error) {
	switch o.color {
	case "always":
		return newStyles(true), nil
	case "never":
		return newStyles(false), nil
	case "auto":
		return newStyles(!color.NoColor), nil
	default:
		return nil, fmt.Errorf("invalid --color value %q: must be auto, always or never", o.color)
	}
}

// run preprocesses files, printing warnings and errors to the command's
// error stream as they are reported.
func (o *options) run(cmd *cobra.Command, files []string) ([]*ccp.Unit, *styles, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := o.styles()
	if err != nil {
		return nil, nil, err
	}

	errOut := cmd.ErrOrStderr()
	var mu sync.Mutex
	report := func(severity reporter.Severity, err reporter.ErrorWithPos) {
		mu.Lock()
		defer mu.Unlock()
		s.remark(errOut, reporter.Remark{Severity: severity, Pos: err.GetPosition(), Message: err.Unwrap().Error()})
	}
	runner := ccp.Runner{
		Config: *cfg,
		Opener: o.opener,
		Reporter: reporter.NewReporter(
			func(err reporter.ErrorWithPos) error {
				report(reporter.Fatal, err)
				return err
			},
			func(err reporter.ErrorWithPos) {
				report(reporter.Warning, err)
			},
		),
	}
	units, err := runner.Run(cmd.Context(), files...)
	if err != nil {
		var ewp reporter.ErrorWithPos
		if errors.As(err, &ewp) || errors.Is(err, context.Canceled) {
			return nil, nil, errReported
		}
		return nil, nil, err
	}
	return units, s, nil
}

// styles renders remarks.
type styles struct {
	fatal    *color.Color
	warning  *color.Color
	location *color.Color
}

func newStyles(enabled bool) *styles {
	s := &styles{
		fatal:    color.New(color.Bold, color.FgRed),
		warning:  color.New(color.Bold, color.FgYellow),
		location: color.New(color.Bold),
	}
	if !enabled {
		s.fatal.DisableColor()
		s.warning.DisableColor()
		s.location.DisableColor()
	} else {
		s.fatal.EnableColor()
		s.warning.EnableColor()
		s.location.EnableColor()
	}
	return s
}

func (s *styles) remark(w io.Writer, r reporter.Remark) {
	severity := s.warning
	if r.Severity == reporter.Fatal {
		severity = s.fatal
	}
	fmt.Fprintf(w, "%s %s %s\n",
		s.location.Sprintf("%s:", r.Pos),
		severity.Sprintf("%s:", r.Severity),
		r.Message,
	)
}

// fatalRemarks prints the fatal remarks among remarks, in position order.
func (s *styles) fatalRemarks(w io.Writer, remarks reporter.Remarks) {
	remarks.Sort()
	for _, r := range remarks {
		if r.Severity == reporter.Fatal {
			s.remark(w, r)
		}
	}
}
