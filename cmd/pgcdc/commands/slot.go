package commands

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cashapp/pg-cdc/internal/config"
	"github.com/cashapp/pg-cdc/internal/replication"
)

var slotCmd = &cobra.Command{
	Use:   "slot",
	Short: "Inspect or remove the configured replication slot",
}

var slotStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the configured replication slot's state on the server",
	RunE:  runSlotStatus,
}

var slotDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the configured replication slot",
	Long: `drop removes the replication slot named by PGCDC_SLOT_NAME. The
slot must not be in use by an active streaming connection; drop it only
when decommissioning a consumer for good, since PostgreSQL begins
retaining WAL for a new slot from whatever position it is created at.`,
	RunE: runSlotDrop,
}

func init() {
	slotCmd.AddCommand(slotStatusCmd)
	slotCmd.AddCommand(slotDropCmd)
}

func connectedSlotSession(ctx context.Context) (*replication.Session, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	sessionCfg := replication.Config{
		Host:            cfg.Host,
		Port:            uint16(cfg.Port),
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SlotName:        cfg.SlotName,
		PublicationName: cfg.PublicationName,
	}
	session := replication.New(sessionCfg, nil, logrus.StandardLogger(), nil)
	if err := session.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return session, nil
}

func runSlotStatus(cmd *cobra.Command, args []string) error {
	session, err := connectedSlotSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(context.Background()) }()

	info, err := session.SlotStatus(cmd.Context())
	if err != nil {
		return err
	}
	if info == nil {
		fmt.Println("slot does not exist")
		return nil
	}
	fmt.Printf("slot=%s active=%t plugin=%s restart_lsn=%s\n", info.SlotName, info.Active, info.Plugin, info.RestartLSN)
	return nil
}

func runSlotDrop(cmd *cobra.Command, args []string) error {
	session, err := connectedSlotSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = session.Close(context.Background()) }()

	if err := session.DropSlot(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("slot dropped")
	return nil
}
