package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/config"
	"github.com/jacksonlee411/loanportal/internal/logging"
)

type app struct {
	configFile string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "server",
		Short:         "Loan portal API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(a.configFile)
			if err != nil {
				return err
			}
			a.cfg, err = config.Load(v)
			if err != nil {
				return err
			}
			a.logger, err = logging.New(a.cfg.Log)
			if err != nil {
				return err
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "optional YAML config file")
	root.AddCommand(newServeCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
