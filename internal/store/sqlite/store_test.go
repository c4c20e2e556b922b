package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"castbox/internal/store/storetest"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, filepath.Join(t.TempDir(), "castbox.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	require.NoError(t, st.Ping(ctx))
	storetest.Run(t, st)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "castbox.db")
	st, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	st.Close()

	again, err := Open(ctx, path)
	require.NoError(t, err)
	again.Close()
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}
