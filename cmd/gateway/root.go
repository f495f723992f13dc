package main

import (
	"github.com/spf13/cobra"

	"github.com/angeloszaimis/ocr-gateway/config"
)

type rootFlags struct {
	configFile string
	envFile    string
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(config.LoadOptions{
		ConfigFile: f.configFile,
		EnvFile:    f.envFile,
	})
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "gateway",
		Short:         "OCR gateway",
		Long:          "Routes OCR requests to the backend named by the client and monitors backend health",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pflags := cmd.PersistentFlags()
	pflags.StringVar(&flags.configFile, "config", "", "Path to the config file")
	pflags.StringVar(&flags.envFile, "env-file", "", "Path to the env file")

	cmd.AddCommand(newServeCmd(flags), newProbeCmd(flags))
	cmd.CompletionOptions.HiddenDefaultCmd = true

	return cmd
}
