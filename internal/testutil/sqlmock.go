package testutil

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/granaryml/granary/pkg/database"
)

// NewMockDB returns a database client backed by sqlmock, using regexp query
// matching. The underlying connection is closed when the test completes.
func NewMockDB(t *testing.T) (database.ClientInterface, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close mock db: %v", err)
		}
	})

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cfg := &database.Config{
		Host:         "mock",
		Database:     "mock",
		Username:     "mock",
		QueryTimeout: 5 * time.Second,
	}

	return database.NewClientFromDB(logger, cfg, db), mock
}
