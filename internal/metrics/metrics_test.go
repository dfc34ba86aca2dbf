package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveCheckpointRecordsSuccess(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.ObserveCheckpoint(5*time.Millisecond, nil)

	require.Equal(t, float64(1), testutil.ToFloat64(reg.CheckpointTotal))
	require.Equal(t, float64(0), testutil.ToFloat64(reg.CheckpointFail))
	require.Equal(t, 1, testutil.CollectAndCount(reg.CheckpointSecs))
}

func TestObserveCheckpointRecordsFailure(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.ObserveCheckpoint(time.Millisecond, errors.New("checkpoint failed"))

	require.Equal(t, float64(1), testutil.ToFloat64(reg.CheckpointTotal))
	require.Equal(t, float64(1), testutil.ToFloat64(reg.CheckpointFail))
}

func TestSyncCacheStatsSetsGauges(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.SyncCacheStats(10, 3, 1)

	require.Equal(t, float64(10), testutil.ToFloat64(reg.CacheHits))
	require.Equal(t, float64(3), testutil.ToFloat64(reg.CacheMisses))
	require.Equal(t, float64(1), testutil.ToFloat64(reg.CacheEvictions))

	// A later sync overwrites rather than accumulates, since the pager
	// reports cumulative counters itself.
	reg.SyncCacheStats(12, 3, 2)
	require.Equal(t, float64(12), testutil.ToFloat64(reg.CacheHits))
	require.Equal(t, float64(2), testutil.ToFloat64(reg.CacheEvictions))
}

func TestSyncWalStatsSetsGauges(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.SyncWalStats(4096, 2, 512)

	require.Equal(t, float64(4096), testutil.ToFloat64(reg.WalSizeBytes))
	require.Equal(t, float64(2), testutil.ToFloat64(reg.ActiveReaders))
	require.Equal(t, float64(512), testutil.ToFloat64(reg.ReaderLagPages))
}

func TestGCReclaimedIsACounter(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.GCReclaimed.Add(3)
	reg.GCReclaimed.Add(2)

	require.Equal(t, float64(5), testutil.ToFloat64(reg.GCReclaimed))
}

func TestGathererExposesRegisteredMetrics(t *testing.T) {
	reg := New(prometheus.NewRegistry())
	reg.CacheHits.Set(1)

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
