package cli

import (
	"io"

	"github.com/spf13/cobra"
)

type runtimeState struct {
	cfg    Config
	writer io.Writer
}

// NewRootCommand builds the relay command tree. A nil out writes to the
// command's default stdout.
func NewRootCommand(cfg Config, out io.Writer) *cobra.Command {
	rt := &runtimeState{cfg: cfg, writer: out}

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay kintone record webhooks as templated mail",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = cmd.OutOrStdout()
			}
			if cmd.Name() == "version" {
				return nil
			}
			if err := rt.cfg.LoadEnvFile(); err != nil {
				return err
			}
			// Values from the env file only apply where no flag was given.
			if !cmd.Flags().Changed("config") {
				rt.cfg.ConfigPath = getEnvString("RELAY_CONFIG_PATH", rt.cfg.ConfigPath)
			}
			if !cmd.Flags().Changed("debug") {
				rt.cfg.Debug = getEnvBool("RELAY_DEBUG", rt.cfg.Debug)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.cfg.ConfigPath, "config", cfg.ConfigPath, "Path to the relay configuration file (env RELAY_CONFIG_PATH)")
	root.PersistentFlags().BoolVar(&rt.cfg.Debug, "debug", cfg.Debug, "Enable debug level logging (env RELAY_DEBUG)")
	root.PersistentFlags().StringVar(&rt.cfg.EnvFile, "env-file", cfg.EnvFile, "Env file to load before reading the configuration (env RELAY_ENV_FILE, default .env if present)")

	root.AddCommand(
		newServeCommand(rt),
		newRenderCommand(rt),
		newCheckConfigCommand(rt),
		newVersionCommand(rt),
	)
	return root
}
