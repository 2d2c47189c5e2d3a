package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockEngine(t *testing.T) (*Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	engine, err := NewEngineWithDB(mock, "documents")
	require.NoError(t, err)
	return engine, mock
}

func TestNewEngineWithDBValidation(t *testing.T) {
	t.Parallel()

	_, err := NewEngineWithDB(nil, "documents")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewEngineWithDB(mock, "bad-table;drop")
	require.Error(t, err)

	engine, err := NewEngineWithDB(mock, "")
	require.NoError(t, err)
	require.Equal(t, "documents", engine.table)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	engine, mock := newMockEngine(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, engine.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionPut(t *testing.T) {
	t.Parallel()

	engine, mock := newMockEngine(t)
	coll := engine.Open("local")

	mock.ExpectExec("INSERT INTO documents").
		WithArgs("local", "https://x.com/a", []byte(`{"id":"a1"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, coll.Put(context.Background(), "https://x.com/a", []byte(`{"id":"a1"}`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionGet(t *testing.T) {
	t.Parallel()

	engine, mock := newMockEngine(t)
	coll := engine.Open("local")
	ctx := context.Background()

	mock.ExpectQuery("SELECT doc FROM documents").
		WithArgs("local", "https://x.com/a").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}).AddRow([]byte(`{"id":"a1"}`)))

	doc, ok, err := coll.Get(ctx, "https://x.com/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":"a1"}`, string(doc))

	mock.ExpectQuery("SELECT doc FROM documents").
		WithArgs("local", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"doc"}))

	_, ok, err = coll.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionGetQueryError(t *testing.T) {
	t.Parallel()

	engine, mock := newMockEngine(t)
	coll := engine.Open("local")

	mock.ExpectQuery("SELECT doc FROM documents").
		WithArgs("local", "k").
		WillReturnError(errors.New("connection reset"))

	_, _, err := coll.Get(context.Background(), "k")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionAll(t *testing.T) {
	t.Parallel()

	engine, mock := newMockEngine(t)
	coll := engine.Open("local")

	mock.ExpectQuery("SELECT key, doc FROM documents").
		WithArgs("local").
		WillReturnRows(pgxmock.NewRows([]string{"key", "doc"}).
			AddRow("k1", []byte("a")).
			AddRow("k2", []byte("b")))

	all, err := coll.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, []byte("a"), all["k1"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionDelete(t *testing.T) {
	t.Parallel()

	engine, mock := newMockEngine(t)
	coll := engine.Open("local")

	mock.ExpectExec("DELETE FROM documents").
		WithArgs("local", "k1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, coll.Delete(context.Background(), "k1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectionUpdatesNeverFires(t *testing.T) {
	t.Parallel()

	engine, _ := newMockEngine(t)
	coll := engine.Open("local")

	select {
	case <-coll.Updates():
		t.Fatal("node-local collection must not emit peer updates")
	default:
	}
	require.NoError(t, coll.Close())
}
