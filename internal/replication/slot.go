package replication

import (
	"context"
	"fmt"
)

// SlotInfo describes a replication slot's state on the server.
type SlotInfo struct {
	SlotName   string
	Active     bool
	Plugin     string
	RestartLSN string
}

const slotStatusQuery = `SELECT active, plugin, restart_lsn::text FROM pg_replication_slots WHERE slot_name = $1`

// SlotStatus queries pg_replication_slots for the configured slot. The
// session must already be connected; it does not need to hold the slot
// itself (another process may), which is why this runs a plain query
// instead of going through the replication protocol.
func (s *Session) SlotStatus(ctx context.Context) (*SlotInfo, error) {
	if s.conn == nil {
		return nil, fmt.Errorf("replication: SlotStatus called before Connect")
	}

	reader := s.conn.ExecParams(ctx, slotStatusQuery, [][]byte{[]byte(s.cfg.SlotName)}, nil, nil, nil)
	var active, plugin, restartLSN string
	found := false
	for reader.NextRow() {
		values := reader.Values()
		active, plugin, restartLSN = string(values[0]), string(values[1]), string(values[2])
		found = true
	}
	_, err := reader.Close()
	if err != nil {
		return nil, fmt.Errorf("replication: query slot status: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &SlotInfo{
		SlotName:   s.cfg.SlotName,
		Active:     active == "t",
		Plugin:     plugin,
		RestartLSN: restartLSN,
	}, nil
}

// DropSlot removes the configured replication slot. The session must be
// connected but not streaming.
func (s *Session) DropSlot(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("replication: DropSlot called before Connect")
	}
	_, err := s.conn.Exec(ctx, fmt.Sprintf("DROP_REPLICATION_SLOT %s", s.cfg.SlotName)).ReadAll()
	if err != nil {
		return fmt.Errorf("replication: drop replication slot: %w", err)
	}
	return nil
}
