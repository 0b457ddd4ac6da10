package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codefionn/buildwire/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	projectDir string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "buildwire",
		Short:         "Build server speaking JSON-RPC over a per-project socket",
		Long:          "buildwire runs a build server for a project directory and connects clients to it. Clients send command lines, stream their output and can cancel running work.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", config.GetConfigPath(), "config file (JSON, YAML or TOML)")
	rootCmd.PersistentFlags().StringVarP(&opts.projectDir, "project", "C", ".", "project directory")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newClientCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func (o *rootOptions) load() (*config.Config, string, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, "", err
	}
	project, err := filepath.Abs(o.projectDir)
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(project); err != nil {
		return nil, "", err
	}
	return cfg, project, nil
}
