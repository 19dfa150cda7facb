package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWatchCSV_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.csv")
	require.NoError(t, os.WriteFile(path, []byte("Program,Year,Role,Name\nSLI,2023,Coordinator,Ada Lee\n"), 0o600))

	records, err := LoadCSVFile(path)
	require.NoError(t, err)
	store := NewMemoryStore(records...)
	w, err := WatchCSV(context.Background(), path, store, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(
		"Program,Year,Role,Name\nSLI,2023,Coordinator,Ada Lee\nCCB,2024,Director,Bo Chan\n"), 0o600))

	var count int
	require.Eventually(t, func() bool {
		select {
		case count = <-w.Reloads():
			return count == 2
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, store.Len())

	got, err := store.ExecuteRead(context.Background(), &cyibot.DirectoryQuery{
		Constraints: []cyibot.Constraint{{Column: "program", Values: []any{"CCB"}}},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Bo Chan", got[0].Name)
}

func TestWatchCSV_KeepsRecordsOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.csv")
	require.NoError(t, os.WriteFile(path, []byte("Program,Year,Role,Name\nSLI,2023,Coordinator,Ada Lee\n"), 0o600))
	records, err := LoadCSVFile(path)
	require.NoError(t, err)
	store := NewMemoryStore(records...)

	w, err := WatchCSV(context.Background(), path, store, nil)
	require.NoError(t, err)
	w.reload()
	<-w.Reloads()

	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
	w.reload()
	assert.Equal(t, 1, store.Len())
	require.NoError(t, w.Close())
}

func TestWatchCSV_MissingDirectory(t *testing.T) {
	_, err := WatchCSV(context.Background(), filepath.Join(t.TempDir(), "gone", "directory.csv"), NewMemoryStore(), nil)
	assert.Error(t, err)
}
