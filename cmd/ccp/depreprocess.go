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
	"bufio"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/bufbuild/ccp/reporter"
)

func newDepreprocessCommand(opts *options) *cobra.Command {
	var (
		output string
		expand bool
	)
	cmd := &cobra.Command{
		Use:   "depreprocess FILE",
		Short: "Regenerate minimal C source from a translation unit",
		Long: `Preprocess FILE and write its top-level declarations back out as C
source. Macro invocations and #includes of FILE are kept where possible, and
only the #define and #undef directives the written code depends on are
emitted. Branches of conditionals that were not taken are replaced with
#error directives.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, s, err := opts.run(cmd, args)
			if err != nil {
				return err
			}
			u := units[0]

			name, w := "<stdout>", cmd.OutOrStdout()
			var f *os.File
			if output != "" {
				f, err = os.Create(output)
				if err != nil {
					return err
				}
				name, w = output, f
			}
			bw := bufio.NewWriter(w)
			err = u.Depreprocess(name, bw, expand)
			if flushErr := bw.Flush(); err == nil {
				err = flushErr
			}
			if f != nil {
				if closeErr := f.Close(); err == nil {
					err = closeErr
				}
			}
			var ewp reporter.ErrorWithPos
			switch {
			case errors.Is(err, reporter.ErrInvalidSource):
				s.fatalRemarks(cmd.ErrOrStderr(), u.Remarks())
				return errReported
			case errors.As(err, &ewp):
				return errReported
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the regenerated source to this file instead of standard output")
	cmd.Flags().BoolVar(&expand, "expand", false, "Write all macro invocations expanded")
	return cmd
}
