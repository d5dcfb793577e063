package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/config"
	"github.com/jacksonlee411/loanportal/internal/logging"
)

type tool struct {
	configFile string
	url        string

	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
}

// dsn prefers --url over the configured database.
func (t *tool) dsn() string {
	if t.url != "" {
		return t.url
	}
	return t.cfg.Database.DSN()
}

func newRootCmd() *cobra.Command {
	t := &tool{}
	root := &cobra.Command{
		Use:           "dbtool",
		Short:         "Schema and configuration tooling for the loan portal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			var err error
			t.v, err = config.NewViper(t.configFile)
			if err != nil {
				return err
			}
			t.cfg, err = config.Decode(t.v)
			if err != nil {
				return err
			}
			t.logger, err = logging.New(t.cfg.Log)
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if t.logger != nil {
				_ = t.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&t.configFile, "config", "", "optional YAML config file")
	root.PersistentFlags().StringVar(&t.url, "url", "", "postgres connection string (overrides the configured database)")
	root.AddCommand(newMigrateCmd(t), newCheckConfigCmd(t), newRLSSmokeCmd(t))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
