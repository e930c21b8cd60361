package check

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_StopsAtFirstFailure(t *testing.T) {
	saved := registry
	defer func() { registry = saved }()
	registry = nil

	var calledSecond, calledThird bool
	registerCheck("first", func(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
		return nil
	}, ScopePreflight)
	registerCheck("second", func(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
		calledSecond = true
		return errors.New("boom")
	}, ScopePreflight)
	registerCheck("third", func(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
		calledThird = true
		return nil
	}, ScopePreflight)

	err := Run(context.Background(), ScopePreflight, nil, Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"second"`)
	assert.True(t, calledSecond)
	assert.False(t, calledThird)
}

func TestRun_SkipsOtherScopes(t *testing.T) {
	saved := registry
	defer func() { registry = saved }()
	registry = nil

	var called bool
	registerCheck("wrong_scope", func(ctx context.Context, conn *pgconn.PgConn, cfg Config, logger logrus.FieldLogger) error {
		called = true
		return nil
	}, Scope(99))

	err := Run(context.Background(), ScopePreflight, nil, Config{}, nil)
	require.NoError(t, err)
	assert.False(t, called)
}

func TestPublicationExistsCheck_RejectsEmptyName(t *testing.T) {
	err := publicationExistsCheck(context.Background(), nil, Config{}, logrus.StandardLogger())
	require.Error(t, err)
}
