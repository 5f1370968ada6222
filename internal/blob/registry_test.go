package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndForName(t *testing.T) {
	dummyFactory := func(opts map[string]interface{}) (Store, error) {
		return nil, nil
	}
	Register("dummy", dummyFactory)

	got, ok := ForName("dummy")
	require.True(t, ok)
	require.NotNil(t, got)

	_, ok = ForName("not-exist")
	require.False(t, ok)

	require.Subset(t, Names(), []string{"azureblob", "disk", "dummy", "s3"})
}

func TestOpenUnknownStore(t *testing.T) {
	_, err := Open("ftp", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ftp")
}

func TestJoin(t *testing.T) {
	require.Equal(t, "app/events/checkpoint", Join("app/events", "checkpoint"))
	require.Equal(t, "app/events/export/chunk_1.parquet", Join("/app/events/", "export", "chunk_1.parquet"))
}
