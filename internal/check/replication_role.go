package check

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

func init() {
	registerCheck("replication_role", replicationRoleCheck, ScopePreflight)
}

const replicationRoleQuery = `SELECT (rolsuper OR rolreplication)::text FROM pg_roles WHERE rolname = current_user`

// replicationRoleCheck verifies the connecting role has the REPLICATION
// attribute (or superuser, which implies it): reject early, with a clear
// message, rather than fail deep inside the replication protocol.
func replicationRoleCheck(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
	value, found, err := execScalar(ctx, conn, replicationRoleQuery)
	if err != nil {
		return fmt.Errorf("query role attributes: %w", err)
	}
	if !found {
		return fmt.Errorf("could not determine role attributes for current_user")
	}
	logger.WithField("has_replication_or_superuser", value).Info("checked replication role")
	if value != "t" {
		return fmt.Errorf("current user lacks the REPLICATION attribute (and is not superuser)")
	}
	return nil
}
