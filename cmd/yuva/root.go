package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/yuva/internal/config"
	"github.com/MrWong99/yuva/internal/tokenstore"
)

const defaultConfigPath = "yuva.yaml"

var (
	configPath string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "yuva",
	Short: "Voice assistant client",
	Long: `yuva is the client core of the YUVA assistant. It boots, signs in
against the assistant backend, keeps the realtime channel to the core open
and relays typed or spoken commands.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runClient,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive client (default)",
	Args:  cobra.NoArgs,
	RunE:  runClient,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := tokenStore(cfg)
		if err != nil {
			return err
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "stored token removed from %s\n", store.Path())
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "yuva %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config. A missing file at the default location yields
// the built-in defaults; watch reports whether the file exists and can be
// reloaded.
func loadConfig(cmd *cobra.Command) (cfg *config.Config, watch bool, err error) {
	cfg, err = config.Load(configPath)
	switch {
	case err == nil:
		return cfg, true, nil
	case errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config"):
		return config.Default(), false, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("config file %q not found", configPath)
	default:
		return nil, false, err
	}
}

func tokenStore(cfg *config.Config) (*tokenstore.File, error) {
	path := cfg.Storage.TokenPath
	if path == "" {
		p, err := tokenstore.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return tokenstore.NewFile(path), nil
}
