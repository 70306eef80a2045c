package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockClient(t *testing.T) (*client, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return &client{
		log:          logrus.New().WithField("component", "database"),
		db:           db,
		cfg:          &Config{QueryTimeout: 5 * time.Second},
		queryTimeout: 5 * time.Second,
	}, mock
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:   "valid config",
			config: Config{Host: "localhost", Database: "ml", Username: "svc", SSLMode: "disable"},
		},
		{
			name:    "missing host",
			config:  Config{Database: "ml", Username: "svc"},
			wantErr: ErrHostRequired,
		},
		{
			name:    "missing database",
			config:  Config{Host: "localhost", Username: "svc"},
			wantErr: ErrDatabaseRequired,
		},
		{
			name:    "missing username",
			config:  Config{Host: "localhost", Database: "ml"},
			wantErr: ErrUsernameRequired,
		},
		{
			name:    "bad ssl mode",
			config:  Config{Host: "localhost", Database: "ml", Username: "svc", SSLMode: "sometimes"},
			wantErr: ErrInvalidSSLMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{
		Host:     "db.internal",
		Port:     5432,
		Database: "ml_features",
		Username: "svc",
		Password: "secret",
		SSLMode:  "require",
	}

	dsn := cfg.DSN()
	assert.Equal(t, "host=db.internal port=5432 dbname=ml_features user=svc password=secret sslmode=require", dsn)
}

func TestConfigDSNOmitsEmptyPassword(t *testing.T) {
	cfg := Config{Host: "localhost", Port: 5432, Database: "ml", Username: "svc", SSLMode: "disable"}

	assert.NotContains(t, cfg.DSN(), "password=")
}

func TestClientQuery(t *testing.T) {
	c, mock := newMockClient(t)

	rows := sqlmock.NewRows([]string{"entity_id", "observation_date"}).
		AddRow("c_001", "2024-01-31").
		AddRow("c_002", "2024-01-31")

	mock.ExpectQuery(`SELECT .+ FROM grain`).WillReturnRows(rows)

	results, err := c.Query(context.Background(), "SELECT entity_id, observation_date FROM grain")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c_001", results[0]["entity_id"])
	assert.Equal(t, "2024-01-31", results[0]["observation_date"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClientQueryWrapsDataAccessError(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT`).WillReturnError(assert.AnError)

	_, err := c.Query(context.Background(), "SELECT 1")
	require.Error(t, err)

	var daErr *DataAccessError
	assert.ErrorAs(t, err, &daErr)
	assert.Equal(t, "query", daErr.Op)
}

func TestClientQueryRow(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(42)))

	row, err := c.QueryRow(context.Background(), "SELECT COUNT(*) AS total FROM events")
	require.NoError(t, err)
	assert.Equal(t, int64(42), row["total"])
}

func TestClientQueryRowNoRows(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"x"}))

	row, err := c.QueryRow(context.Background(), "SELECT x FROM t")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestClientStream(t *testing.T) {
	c, mock := newMockClient(t)

	rows := sqlmock.NewRows([]string{"entity_id", "amount"}).
		AddRow("c_001", 10.5).
		AddRow("c_002", 20.0).
		AddRow("c_003", nil)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	var seen [][]any

	count, err := c.Stream(context.Background(), "SELECT entity_id, amount FROM dataset", func(cols []string, values []any) error {
		assert.Equal(t, []string{"entity_id", "amount"}, cols)
		row := make([]any, len(values))
		copy(row, values)
		seen = append(seen, row)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Len(t, seen, 3)
	assert.Nil(t, seen[2][1])
}

func TestClientExplain(t *testing.T) {
	c, mock := newMockClient(t)

	mock.ExpectExec(`EXPLAIN SELECT`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := c.Explain(context.Background(), "SELECT 1")
	assert.NoError(t, err)
}
