package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"newsmesh/internal/news"
)

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	cid, err := s.Put(ctx, []byte(`{"kind":"article"}`))
	require.NoError(t, err)
	require.NotEmpty(t, cid)

	got, err := s.Get(ctx, cid)
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"article"}`, string(got))
}

func TestIdenticalContentSameCID(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	cid1, err := s.Put(ctx, []byte("payload"))
	require.NoError(t, err)
	cid2, err := s.Put(ctx, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, cid1, cid2)
	require.Equal(t, 1, s.Len())
}

func TestGetMissing(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.Get(context.Background(), "bafymissing")
	require.ErrorIs(t, err, news.ErrBlobNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()

	cid, err := s.Put(ctx, []byte("abc"))
	require.NoError(t, err)

	got, err := s.Get(ctx, cid)
	require.NoError(t, err)
	got[0] = 'z'

	again, err := s.Get(ctx, cid)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}
