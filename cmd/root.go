/*
Copyright © 2021 Edmond Cotterell

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"

	"github.com/Daskott/kontacts/version"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverConfigFile string
	isDevEnv         bool

	red = color.New(color.FgRed).SprintFunc()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd *cobra.Command

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd = createRootCmd()
	rootCmd.Version = fmt.Sprintf("v%s", version.Version)

	rootCmd.AddCommand(createServerCmd(), createMigrateCmd())
}

func createRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "kontacts",
		Short: `kontacts is a REST backend for managing your personal contacts.

Each account keeps its own address book, searchable by name, email & phone number,
along with a list of the birthdays coming up this week.`,
	}

	cmd.PersistentFlags().StringVar(&serverConfigFile, "sconfig", "", "server config file (required unless --dev is set)")
	cmd.PersistentFlags().BoolVarP(&isDevEnv, "dev", "", false, "run in development mode")

	return cmd
}

func formattedError(format string, a ...interface{}) error {
	return fmt.Errorf(red(format), a...)
}
