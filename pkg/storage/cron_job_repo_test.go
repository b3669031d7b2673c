package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariacore/aria/pkg/storage"
	"github.com/stretchr/testify/require"
)

func TestCronJobUpsertAndRecordRun(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	job := &storage.CronJobRow{
		Name:     "nightly-digest",
		Schedule: "0 6 * * *",
		Skill:    "notify",
		Action:   "digest",
		Args:     map[string]any{"channel": "ops"},
	}
	require.NoError(t, client.CronJobs.Upsert(ctx, job))

	got, err := client.CronJobs.Get(ctx, "nightly-digest")
	require.NoError(t, err)
	require.Equal(t, "0 6 * * *", got.Schedule)
	require.Equal(t, "ops", got.Args["channel"])

	next := time.Now().Add(24 * time.Hour)
	require.NoError(t, client.CronJobs.RecordRun(ctx, "nightly-digest", time.Now(), "ok", next))

	got, err = client.CronJobs.Get(ctx, "nightly-digest")
	require.NoError(t, err)
	require.Equal(t, "ok", *got.LastRunStatus)

	all, err := client.CronJobs.All(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	require.NoError(t, client.CronJobs.Delete(ctx, "nightly-digest"))
	_, err = client.CronJobs.Get(ctx, "nightly-digest")
	require.Error(t, err)
}
