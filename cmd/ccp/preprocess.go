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
	"github.com/spf13/cobra"
)

func newPreprocessCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preprocess FILE...",
		Short: "Print the preprocessed tokens of translation units",
		Long: `Preprocess each FILE as a translation unit of its own and print the
expanded tokens of each to standard output, in the order given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			units, _, err := opts.run(cmd, args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range units {
				if err := u.Format(out); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
