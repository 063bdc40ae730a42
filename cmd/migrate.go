package cmd

import (
	"github.com/Daskott/kontacts/server"
	"github.com/spf13/cobra"
)

func createMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the kontacts db schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadServerConfig(serverConfigFile, isDevEnv)
			if err != nil {
				return err
			}

			server.Migrate(config, isDevEnv)
			return nil
		},
	}
}
