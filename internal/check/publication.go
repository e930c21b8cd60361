package check

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

func init() {
	registerCheck("publication_exists", publicationExistsCheck, ScopePreflight)
}

const publicationExistsQuery = `SELECT 1::text FROM pg_publication WHERE pubname = $1`

// publicationExistsCheck verifies the configured publication exists before
// START_REPLICATION is attempted, so a typo in configuration fails fast
// with a clear message instead of a cryptic protocol error.
func publicationExistsCheck(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
	if cfg.PublicationName == "" {
		return fmt.Errorf("publication name is not configured")
	}
	_, found, err := execScalar(ctx, conn, publicationExistsQuery, []byte(cfg.PublicationName))
	if err != nil {
		return fmt.Errorf("query pg_publication: %w", err)
	}
	logger.WithField("publication", cfg.PublicationName).WithField("found", found).Info("checked publication")
	if !found {
		return fmt.Errorf("publication %q does not exist", cfg.PublicationName)
	}
	return nil
}
