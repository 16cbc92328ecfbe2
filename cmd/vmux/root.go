package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zimwip/vmux/internal/config"
	"github.com/zimwip/vmux/internal/logging"
)

// app carries the state shared by subcommands once the root
// command has loaded the configuration.
type app struct {
	configPath string
	logLevel   string

	cfg      *config.Config
	log      *zap.Logger
	closeLog func() error
}

func newRootCommand() *cobra.Command {
	a := &app{log: zap.NewNop()}

	root := &cobra.Command{
		Use:           "vmux",
		Short:         "Encode and mux video streams into container files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: vmux.yaml in ., $HOME/.vmux, /etc/vmux)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	root.AddCommand(newMuxCommand(a))
	root.AddCommand(newFormatsCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.closeLog = cfg, log, closeLog
	return nil
}
