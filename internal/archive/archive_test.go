package archive_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"

	"github.com/kode4food/conduit/internal/archive"
	"github.com/kode4food/conduit/internal/assert/helpers"
	"github.com/kode4food/conduit/internal/config"
	"github.com/kode4food/conduit/pkg/api"
	"github.com/kode4food/conduit/pkg/trace"
)

const testPrefix = "runs/"

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	b, err := archive.OpenBucket(context.Background(), "mem://")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func finishedRun(
	t *testing.T, tr *trace.Tracer, name string, age time.Duration,
) *api.FlowRunTrace {
	t.Helper()
	ctx := context.Background()

	run := api.NewRunTrace(name, []string{"A", "B"}, api.TriggerTrace{
		Kind: "webhook",
	})
	rt, err := tr.StartRun(ctx, run)
	require.NoError(t, err)
	for i := range run.Tasks {
		st := rt.Step(i)
		require.NoError(t, st.SetStatus(ctx, api.StepState{
			Kind: api.StepOngoing,
		}))
		require.NoError(t, st.SetStatus(ctx, api.StepState{
			Kind: api.StepSuccess, Data: "null",
		}))
	}

	done := rt.Trace().SetCompletedAt(time.Now().Add(-age))
	require.NoError(t, tr.Runs().Set(ctx, done))
	return done
}

func newArchiver(
	t *testing.T, tr *trace.Tracer, b *blob.Bucket, remove bool,
) *archive.Archiver {
	t.Helper()
	w, err := archive.NewWriter(b, testPrefix)
	require.NoError(t, err)
	a, err := archive.New(tr, w, config.ArchiveConfig{
		Prefix:   testPrefix,
		Interval: 10 * time.Millisecond,
		MaxAge:   time.Hour,
		Remove:   remove,
	})
	require.NoError(t, err)
	return a
}

func TestRunOnceArchivesOldRuns(t *testing.T) {
	ctx := context.Background()
	tr, _ := helpers.NewTestTracer(t)
	b := openBucket(t)

	old := finishedRun(t, tr, "old", 2*time.Hour)
	recent := finishedRun(t, tr, "recent", time.Minute)
	pending := api.NewRunTrace("pending", []string{"A"}, api.TriggerTrace{})
	_, err := tr.StartRun(ctx, pending)
	require.NoError(t, err)

	a := newArchiver(t, tr, b, false)
	n, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err := b.ReadAll(ctx, testPrefix+string(old.ID)+".json")
	require.NoError(t, err)

	var rec archive.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, old.ID, rec.Run.ID)
	require.Len(t, rec.Steps, 2)
	assert.Equal(t, "A", rec.Steps[0].Name)
	assert.Equal(t, "B", rec.Steps[1].Name)

	exists, err := b.Exists(ctx, testPrefix+string(recent.ID)+".json")
	require.NoError(t, err)
	assert.False(t, exists)

	_, ok, err := tr.Runs().GetByID(ctx, string(old.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunOnceRemovesArchivedRuns(t *testing.T) {
	ctx := context.Background()
	tr, _ := helpers.NewTestTracer(t)
	b := openBucket(t)

	old := finishedRun(t, tr, "old", 2*time.Hour)

	a := newArchiver(t, tr, b, true)
	n, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := tr.Runs().GetByID(ctx, string(old.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := tr.Steps(old.ID).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestArchiverLoop(t *testing.T) {
	tr, _ := helpers.NewTestTracer(t)
	b := openBucket(t)
	old := finishedRun(t, tr, "old", 2*time.Hour)

	a := newArchiver(t, tr, b, true)
	a.Start()
	defer a.Stop()

	assert.Eventually(t, func() bool {
		ok, err := b.Exists(context.Background(),
			testPrefix+string(old.ID)+".json")
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunOnceStoreUnavailable(t *testing.T) {
	tr, r := helpers.NewTestTracer(t)
	b := openBucket(t)
	a := newArchiver(t, tr, b, false)

	r.Server.Close()
	_, err := a.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	tr, _ := helpers.NewTestTracer(t)
	b := openBucket(t)
	w, err := archive.NewWriter(b, "")
	require.NoError(t, err)

	_, err = archive.New(nil, w, config.ArchiveConfig{Interval: time.Second})
	assert.ErrorIs(t, err, archive.ErrTracerRequired)
	_, err = archive.New(tr, nil, config.ArchiveConfig{Interval: time.Second})
	assert.ErrorIs(t, err, archive.ErrWriterRequired)
	_, err = archive.New(tr, w, config.ArchiveConfig{})
	assert.ErrorIs(t, err, archive.ErrIntervalInvalid)

	_, err = archive.NewWriter(nil, "")
	assert.ErrorIs(t, err, archive.ErrBucketRequired)
}

func TestWriterKeys(t *testing.T) {
	b := openBucket(t)

	w, err := archive.NewWriter(b, "")
	require.NoError(t, err)
	assert.Equal(t, "abc.json", w.Key("abc"))

	w, err = archive.NewWriter(b, "archive")
	require.NoError(t, err)
	assert.Equal(t, "archive/abc.json", w.Key("abc"))

	assert.ErrorIs(t, w.Write(context.Background(), nil),
		archive.ErrRecordRequired)
}

func TestOpenBucketUnknownScheme(t *testing.T) {
	_, err := archive.OpenBucket(context.Background(), "nope://bucket")
	assert.ErrorIs(t, err, archive.ErrOpenBucket)
}
