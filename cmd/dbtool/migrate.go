package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/db"
)

func newMigrateCmd(t *tool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, revert or list the embedded schema migrations",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return t.withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
					steps, err := m.Up(ctx)
					for _, s := range steps {
						t.logger.Info("migration applied", zap.Int64("version", s.Version), zap.String("path", s.Path), zap.Bool("ok", s.Applied))
					}
					if err == nil && len(steps) == 0 {
						t.logger.Info("schema up to date")
					}
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the most recent migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return t.withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
					s, err := m.Down(ctx)
					if err != nil {
						return err
					}
					t.logger.Info("migration reverted", zap.Int64("version", s.Version), zap.String("path", s.Path))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether each is applied",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return t.withMigrator(cmd.Context(), func(ctx context.Context, m *db.Migrator) error {
					steps, err := m.Status(ctx)
					if err != nil {
						return err
					}
					printStatus(cmd.OutOrStdout(), steps)
					return nil
				})
			},
		},
	)
	return cmd
}

func (t *tool) withMigrator(ctx context.Context, fn func(context.Context, *db.Migrator) error) error {
	conn, err := db.Open(t.dsn())
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	m, err := db.NewMigrator(conn)
	if err != nil {
		return err
	}
	return fn(ctx, m)
}

func printStatus(w io.Writer, steps []db.Step) {
	for _, s := range steps {
		state := "pending"
		if s.Applied {
			state = "applied"
		}
		_, _ = fmt.Fprintf(w, "%05d  %-8s %s\n", s.Version, state, s.Path)
	}
}
