package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
	"github.com/zhouzirui/tavern-link/backend/internal/service/memory"
	"github.com/zhouzirui/tavern-link/backend/internal/storage"
)

func seedDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("DATA_DIR", dir)

	docs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	store, err := memory.Open(context.Background(), docs, memory.FixedLimits(100, 30))
	require.NoError(t, err)
	store.Append(context.Background(), chat.RoleUser, "来一杯麦酒")
	store.Append(context.Background(), chat.RoleAssistant, "麦酒来了")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMemoryStats(t *testing.T) {
	seedDataDir(t)

	out, err := execute(t, "memory", "stats")
	require.NoError(t, err)

	var stats memory.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Equal(t, 2, stats.TotalMessages)
}

func TestMemorySearch(t *testing.T) {
	seedDataDir(t)

	out, err := execute(t, "memory", "search", "麦酒", "-n", "1")
	require.NoError(t, err)
	require.Contains(t, out, "麦酒来了")
	require.NotContains(t, out, "来一杯")
}

func TestMemoryResetRequiresConfirmation(t *testing.T) {
	seedDataDir(t)

	_, err := execute(t, "memory", "reset")
	require.Error(t, err)

	out, err := execute(t, "memory", "reset", "--yes")
	require.NoError(t, err)
	require.Contains(t, out, "removed 2 turn(s)")

	out, err = execute(t, "memory", "stats")
	require.NoError(t, err)
	require.Contains(t, out, `"totalMessages": 0`)
}
