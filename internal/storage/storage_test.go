package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "prionotify/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	name := "state.json"
	if driver == "sqlite" {
		name = "state.db"
	}
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), name)}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreStateRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openDriver(t, driver)

			_, err := st.LoadState(ctx)
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.SaveState(ctx, []byte(`{"v":1}`)))
			require.NoError(t, st.SaveState(ctx, []byte(`{"v":2}`)))
			got, err := st.LoadState(ctx)
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":2}`, string(got))
		})
	}
}

func TestStoreQuarantine(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openDriver(t, driver)
			require.NoError(t, st.SaveState(ctx, []byte("{broken")))

			where, err := st.QuarantineState(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, where)

			_, err = st.LoadState(ctx)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestFileQuarantineNaming(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.SaveState(ctx, []byte("garbage")))
	where, err := st.QuarantineState(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(where, path+".backup."), where)

	b, err := os.ReadFile(where)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(b))
}

func TestFileSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.SaveState(context.Background(), []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}
}

func TestAuditRecent(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openDriver(t, driver)
			for _, a := range []string{"snooze", "unsnooze", "mute"} {
				require.NoError(t, st.AppendAudit(ctx, AuditEntry{ID: a, Kind: "command", Action: a, OK: true}))
			}
			got, err := st.RecentAudit(ctx, 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "unsnooze", got[0].Action)
			assert.Equal(t, "mute", got[1].Action)
			assert.True(t, got[1].OK)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.Error(t, err)
}
