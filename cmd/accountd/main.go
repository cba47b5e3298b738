package main

import (
	"fmt"
	"io"
	"os"

	"mai-accounts/accountd/internal/config"
	"mai-accounts/accountd/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// cli carries what the root command resolves before any subcommand runs.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg       config.Config
	log       *logrus.Logger
	logCloser io.Closer
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:           "accountd",
		Short:         "Account signup, verification and login service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logCloser != nil {
				_ = c.logCloser.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to YAML config file (optional)")
	cmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "Override log format (text, json)")

	cmd.AddCommand(newServeCommand(c))
	cmd.AddCommand(newMigrateCommand(c))
	cmd.AddCommand(newAccountCommand(c))

	return cmd
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}

	log, closer, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	c.log = log
	c.logCloser = closer

	if cfg.Dev {
		filled, err := cfg.FillDevSecrets()
		if err != nil {
			return fmt.Errorf("generate dev secrets: %w", err)
		}
		for _, name := range filled {
			log.WithField("setting", name).Warn("dev mode: generated a random secret; sessions will not survive a restart")
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.cfg = cfg
	return nil
}
