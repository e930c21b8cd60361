package check

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

func init() {
	registerCheck("wal_level", walLevelCheck, ScopePreflight)
}

// walLevelCheck verifies the server has wal_level=logical, the prerequisite
// for any replication slot using the pgoutput plugin to be created at all.
func walLevelCheck(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
	value, found, err := execScalar(ctx, conn, `SHOW wal_level`)
	if err != nil {
		return fmt.Errorf("query wal_level: %w", err)
	}
	if !found {
		return fmt.Errorf("could not determine wal_level")
	}
	logger.WithField("wal_level", value).Info("checked wal_level")
	if value != "logical" {
		return fmt.Errorf("wal_level is %q, must be \"logical\"", value)
	}
	return nil
}
