package tests

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pixelvault/moderation-server/storage"
)

func RunStoreTests(t *testing.T, s storage.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s storage.Store){
		testPutAndFetch,
		testFetchMissing,
		testListAll,
		testDeleteBucket,
	} {
		tf(t, s)
		teardown()
	}
}

func testPutAndFetch(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "job-bucket", "input/manifest.jsonl", []byte("line")))

	data, err := s.Fetch(ctx, "job-bucket", "input/manifest.jsonl")
	require.NoError(t, err)
	require.Equal(t, []byte("line"), data)

	// Overwrite
	require.NoError(t, s.Put(ctx, "job-bucket", "input/manifest.jsonl", []byte("line2")))
	data, err = s.Fetch(ctx, "job-bucket", "input/manifest.jsonl")
	require.NoError(t, err)
	require.Equal(t, []byte("line2"), data)
}

func testFetchMissing(t *testing.T, s storage.Store) {
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "job-bucket", "a", []byte("x")))

	_, err := s.Fetch(ctx, "job-bucket", "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testListAll(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("output/result-%d.jsonl", i)
		require.NoError(t, s.Put(ctx, "job-bucket", key, []byte("data")))
	}

	objects, err := s.ListAll(ctx, "job-bucket")
	require.NoError(t, err)
	require.Len(t, objects, 5)
	for _, obj := range objects {
		require.EqualValues(t, 4, obj.Size)
	}
}

func testDeleteBucket(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put(ctx, "job-bucket", fmt.Sprintf("k-%d", i), []byte("data")))
	}

	require.NoError(t, s.DeleteBucket(ctx, "job-bucket"))

	_, err := s.ListAll(ctx, "job-bucket")
	require.Error(t, err)
}
