package commands

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cashapp/pg-cdc/internal/check"
	"github.com/cashapp/pg-cdc/internal/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run preflight checks against the source database without streaming",
	Long: `check opens a plain (non-replication) connection to the source
database and runs the same preflight checks "run" performs before it
starts streaming: wal_level, the connecting role's REPLICATION
attribute, and whether the configured publication exists.`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logrus.StandardLogger()

	connString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
	conn, err := pgconn.Connect(cmd.Context(), connString)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if err := check.Run(cmd.Context(), check.ScopePreflight, conn, check.Config{PublicationName: cfg.PublicationName}, logger); err != nil {
		return err
	}
	fmt.Println("all preflight checks passed")
	return nil
}
