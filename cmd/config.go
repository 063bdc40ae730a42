package cmd

import (
	"strings"

	devconfig "github.com/Daskott/kontacts/dev/config"
	"github.com/Daskott/kontacts/shared"
	"github.com/go-playground/validator"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "KONTACTS"

// loadServerConfig reads the server config from configFile, or from the
// built-in dev config when devMode is set & no file is given. Env vars
// prefixed with KONTACTS_ override file values.
func loadServerConfig(configFile string, devMode bool) (*shared.ServerConfig, error) {
	config := viper.New()
	config.SetEnvPrefix(ENV_PREFIX)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	// Let the standard google env var stand in for the config value
	config.BindEnv("google.applicationCredentials", "GOOGLE_APPLICATION_CREDENTIALS")

	switch {
	case configFile != "":
		config.SetConfigFile(configFile)
		if err := config.ReadInConfig(); err != nil {
			return nil, formattedError("error reading server config file: %v", err)
		}
	case devMode:
		config.SetConfigType("yaml")
		if err := config.ReadConfig(strings.NewReader(devconfig.SERVER_YML)); err != nil {
			return nil, formattedError("error reading dev server config: %v", err)
		}
	default:
		return nil, formattedError("must set --sconfig when not in dev mode")
	}

	serverConfig := &shared.ServerConfig{}
	if err := config.Unmarshal(serverConfig); err != nil {
		return nil, formattedError("unable to decode server config: %v", err)
	}

	if err := validator.New().Struct(serverConfig); err != nil {
		return nil, formattedError("invalid server config:\n%v", err)
	}

	return serverConfig, nil
}
