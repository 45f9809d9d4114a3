package storage

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"todo-api/domain"
)

func ptrString(s string) *string { return &s }
func ptrBool(b bool) *bool       { return &b }

// runStoreContract exercises the behavior every domain.Store must share.
func runStoreContract(t *testing.T, s domain.Store) {
	t.Helper()
	ctx := context.Background()

	tasks, err := s.ScanTasks(ctx)
	require.NoError(t, err)
	require.Empty(t, tasks)

	_, ok, err := s.ScanCounter(ctx)
	require.NoError(t, err)
	require.False(t, ok, "fresh store must not report a counter")

	require.NoError(t, s.UpsertCounter(ctx, 1))
	require.NoError(t, s.UpsertCounter(ctx, 3))
	v, ok, err := s.ScanCounter(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), v)

	require.NoError(t, s.InsertTask(ctx, domain.Task{ID: 0, Task: "buy milk"}))
	require.NoError(t, s.InsertTask(ctx, domain.Task{ID: 1, Task: "walk dog", Description: "around the block"}))
	require.NoError(t, s.InsertTask(ctx, domain.Task{ID: 2, Task: "water plants"}))

	require.NoError(t, s.UpdateTask(ctx, 0, domain.Patch{Complete: ptrBool(true)}))
	require.NoError(t, s.UpdateTask(ctx, 1, domain.Patch{Task: ptrString("walk cat")}))
	require.NoError(t, s.UpdateTask(ctx, 42, domain.Patch{Task: ptrString("ghost")}), "missing id must be a no-op")

	require.NoError(t, s.DeleteTask(ctx, 2))
	require.NoError(t, s.DeleteTask(ctx, 2), "deleting twice must not fail")

	tasks, err = s.ScanTasks(ctx)
	require.NoError(t, err)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	require.Equal(t, []domain.Task{
		{ID: 0, Task: "buy milk", Complete: true},
		{ID: 1, Task: "walk cat", Description: "around the block"},
	}, tasks)
}
