// Copyright 2021-2024
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-eod/common"
)

var deps bool

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().BoolVar(&deps, "deps", false, "print dependencies")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Print the version number`,
	Args:  cobra.NoArgs,
	// skip logging, cache and tracing setup
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		var modules []common.Dependency
		if deps {
			modules = common.Dependencies()
		}
		writeVersion(cmd.OutOrStdout(), deps, modules)
	},
}

// writeVersion prints the version string followed, when withDeps is set, by
// a table of the modules compiled into the binary
func writeVersion(w io.Writer, withDeps bool, modules []common.Dependency) {
	fmt.Fprintln(w, common.BuildVersionString())
	if !withDeps {
		return
	}

	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Module", "Version"})
	table.SetBorder(false)
	for _, dep := range modules {
		table.Append([]string{dep.Path, dep.Version})
	}
	table.Render()
}
