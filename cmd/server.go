package cmd

import (
	"github.com/Daskott/kontacts/server"
	"github.com/spf13/cobra"
)

func createServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start a kontacts server",
		Long: `Start the kontacts REST API.

The server is configured by the yml file passed with --sconfig. Any value in it can be
overridden with an env var prefixed with KONTACTS_, e.g. KONTACTS_DATABASE_DRIVER=postgres`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadServerConfig(serverConfigFile, isDevEnv)
			if err != nil {
				return err
			}

			server.Start(config, isDevEnv)
			return nil
		},
	}
}
