// Package check runs preflight checks against the source PostgreSQL server
// before a replication session is started, gating the session on schema
// and role prerequisites before streaming begins.
package check

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
)

// Scope selects which checks a caller wants to run. Only ScopePreflight
// exists today; the registry's shape allows a later scope (e.g. a
// periodic health recheck) to be added without reworking how checks
// register themselves.
type Scope int

const (
	ScopePreflight Scope = iota
)

// Config carries the values checks need to evaluate server state against
// what pg-cdc has been configured to use.
type Config struct {
	PublicationName string
}

// Func is one preflight check. It receives the already-connected control
// connection (a plain, non-replication connection, distinct from the
// replication session's own connection) and returns an error describing
// what's missing if the check fails.
type Func func(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error

type registration struct {
	name  string
	fn    Func
	scope Scope
}

var registry []registration

func registerCheck(name string, fn Func, scope Scope) {
	registry = append(registry, registration{name: name, fn: fn, scope: scope})
}

// Run executes every check registered for scope, in registration order,
// stopping at the first failure.
func Run(ctx context.Context, scope Scope, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for _, reg := range registry {
		if reg.scope != scope {
			continue
		}
		logger.WithField("check", reg.name).Info("running preflight check")
		if err := reg.fn(ctx, conn, cfg, logger); err != nil {
			return fmt.Errorf("check %q failed: %w", reg.name, err)
		}
	}
	return nil
}

func execScalar(ctx context.Context, conn *pgconn.PgConn, sql string, params ...[]byte) (string, bool, error) {
	reader := conn.ExecParams(ctx, sql, params, nil, nil, nil)
	var value string
	found := false
	for reader.NextRow() {
		values := reader.Values()
		if len(values) > 0 {
			value = string(values[0])
		}
		found = true
	}
	_, err := reader.Close()
	if err != nil {
		return "", false, err
	}
	return value, found, nil
}
