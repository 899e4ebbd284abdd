package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpen_WritesMarkersAndEvents(t *testing.T) {
	dir := t.TempDir()

	logs, err := Open(dir)
	require.NoError(t, err)
	require.NotEmpty(t, logs.RunID())

	logs.Event("server started", "node", "local", "port", 5201)
	logs.Failure("operation failed", "op", "start", "exit_code", 1)
	logs.Close()

	runData, err := os.ReadFile(filepath.Join(dir, RunLogName))
	require.NoError(t, err)
	run := string(runData)
	require.Contains(t, run, "run started")
	require.Contains(t, run, "server started")
	require.Contains(t, run, "run finished")
	require.Contains(t, run, logs.RunID())

	errData, err := os.ReadFile(filepath.Join(dir, ErrorLogName))
	require.NoError(t, err)
	require.Contains(t, string(errData), "operation failed")
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	logs, err := Open(dir)
	require.NoError(t, err)
	defer logs.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestOpen_AppendsAcrossRuns(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	require.NoError(t, err)
	firstID := first.RunID()
	first.Close()

	second, err := Open(dir)
	require.NoError(t, err)
	secondID := second.RunID()
	second.Close()

	require.NotEqual(t, firstID, secondID)

	data, err := os.ReadFile(filepath.Join(dir, RunLogName))
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, firstID)
	require.Contains(t, content, secondID)
	require.Equal(t, 2, strings.Count(content, "run started"))
}

func TestClose_Idempotent(t *testing.T) {
	dir := t.TempDir()
	logs, err := Open(dir)
	require.NoError(t, err)

	logs.Close()
	logs.Close() // must not panic or double-write

	data, err := os.ReadFile(filepath.Join(dir, RunLogName))
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "run finished"))
}

func TestNilLogsAreSafe(t *testing.T) {
	var logs *Logs
	logs.Event("ignored")
	logs.Warn("ignored")
	logs.Failure("ignored")
	logs.Close()
}
