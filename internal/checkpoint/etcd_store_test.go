package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chtzvt/docslurp/internal/testutil"
)

func TestEtcdStoreSaveLoad(t *testing.T) {
	cli, prefix := testutil.StartEtcd(t)
	store := NewEtcdStoreFromClient(cli, prefix, "app/events")
	ctx := context.Background()
	require.Equal(t, prefix+"/app/events/checkpoint", store.Key())

	cp, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, cp.IsZero())

	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	require.NoError(t, store.Save(ctx, Checkpoint{Cursor: ts, Processed: 7}))

	cp, err = store.Load(ctx)
	require.NoError(t, err)
	require.True(t, cp.Cursor.Equal(ts))
	require.EqualValues(t, 7, cp.Processed)

	resp, err := cli.Get(ctx, store.Key())
	require.NoError(t, err)
	require.Equal(t, "2024-05-06T07:08:09Z,7", string(resp.Kvs[0].Value))

	// wrapping a caller-owned client never closes it
	require.NoError(t, store.Close())
	_, err = cli.Get(ctx, store.Key())
	require.NoError(t, err)
}
