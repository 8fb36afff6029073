package liveio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMockTableMissingPathIsEmptyNotError(t *testing.T) {
	table, err := LoadMockTable("")
	require.NoError(t, err)
	require.Empty(t, table.Web)
	require.Empty(t, table.LLM)

	table, err = LoadMockTable(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Empty(t, table.Web)
}

func TestLoadMockTableParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mocks.yaml")
	doc := "web:\n  \"^https://example.com$\":\n    status: 200\n    body: hi\nllm:\n  \"^ping$\": pong\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	table, err := LoadMockTable(path)
	require.NoError(t, err)
	require.Equal(t, 200, table.Web["^https://example.com$"].Status)
	require.Equal(t, "hi", table.Web["^https://example.com$"].Body)
	require.Equal(t, "pong", table.LLM["^ping$"])
}
