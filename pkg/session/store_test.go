package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/granaryml/granary/internal/testutil"
	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/redis"
	"github.com/granaryml/granary/pkg/session"
)

func newTestStore(t *testing.T) session.StoreInterface {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)

	cfg := &redis.Config{Address: "unused", Prefix: "granary"}
	require.NoError(t, cfg.Validate())

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, err := session.NewStore(logger, client, cfg, time.Hour)
	require.NoError(t, err)

	return store
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Revision)

	loaded, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Nil(t, loaded.Grain)
}

func TestGetMissingSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-session")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestPutBumpsRevision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.Create(ctx)
	require.NoError(t, err)

	state.Grain = &grain.Definition{
		Strategy:              grain.StrategyColumn,
		SourceTable:           "loan_applications",
		EntityIDColumn:        "customer_id",
		ObservationDateColumn: "application_date",
	}
	require.NoError(t, store.Put(ctx, state))
	assert.Equal(t, int64(2), state.Revision)

	loaded, err := store.Get(ctx, state.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded.Grain)
	assert.Equal(t, "loan_applications", loaded.Grain.SourceTable)
	assert.Equal(t, int64(2), loaded.Revision)
}

func TestPutRejectsDeletedSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, state.ID))

	err = store.Put(ctx, state)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestDeleteMissingSession(t *testing.T) {
	store := newTestStore(t)

	err := store.Delete(context.Background(), "no-such-session")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
