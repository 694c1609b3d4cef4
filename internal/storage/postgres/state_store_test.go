package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tap-acuite/internal/state"
)

func newMockStore(t *testing.T) (*StateStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStateStoreWithPool(mock, "tap_state", "acuite-prod")
	require.NoError(t, err)
	return store, mock
}

func TestNewStateStoreWithPoolValidates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStateStoreWithPool(nil, "", "id")
	assert.Error(t, err)
	_, err = NewStateStoreWithPool(mock, "bad-name; drop", "id")
	assert.Error(t, err)
	_, err = NewStateStoreWithPool(mock, "", "")
	assert.Error(t, err)

	store, err := NewStateStoreWithPool(mock, "", "id")
	require.NoError(t, err)
	assert.Equal(t, defaultTable, store.table)
}

func TestNewStateStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewStateStore(context.Background(), Config{})
	assert.Error(t, err)
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tap_state").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadReturnsStoredState(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT state FROM tap_state WHERE tap_id").
		WithArgs("acuite-prod").
		WillReturnRows(mock.NewRows([]string{"state"}).AddRow([]byte(`{"projects": {"since": "2024-01-01T00:00:00"}}`)))

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.State{"projects": {Since: "2024-01-01T00:00:00"}}, st)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadWithoutRowIsEmpty(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT state FROM tap_state").
		WithArgs("acuite-prod").
		WillReturnRows(mock.NewRows([]string{"state"}))

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, st)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT state FROM tap_state").
		WithArgs("acuite-prod").
		WillReturnError(errors.New("connection reset"))

	_, err := store.Load(context.Background())
	require.ErrorContains(t, err, "connection reset")
}

func TestSaveUpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectExec("INSERT INTO tap_state").
		WithArgs("acuite-prod", []byte(`{"rfis":{"since":"2024-05-01T10:00:00"}}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Save(context.Background(), state.State{"rfis": {Since: "2024-05-01T10:00:00"}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExecError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO tap_state").
		WithArgs("acuite-prod", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("read only"))

	err := store.Save(context.Background(), state.State{})
	require.ErrorContains(t, err, "upsert state")
}
