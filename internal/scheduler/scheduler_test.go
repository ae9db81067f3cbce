package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/justyntemme/calibrewebui/internal/storage"
)

func TestRunnerRunsJobs(t *testing.T) {
	r := New(zap.NewNop(), context.Background())

	var runs atomic.Int32
	_, err := r.Add("@every 1s", func(context.Context) { runs.Add(1) })
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Add("every hour", func(context.Context) {})
	assert.Error(t, err)

	_, err = r.Add("0 */5 * * *", func(context.Context) {})
	assert.NoError(t, err)
}

func TestSweepScratch(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFileStorage(dir)
	require.NoError(t, err)

	stale := filepath.Join(dir, "42-abc.mobi")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	SweepScratch(fs, time.Hour, zap.NewNop())(context.Background())
	assert.NoFileExists(t, stale)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	require.NoError(t, os.Chtimes(stale, past, past))
	SweepScratch(fs, time.Hour, zap.NewNop())(ctx)
	assert.FileExists(t, stale)
}
