package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	id := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{SessionID: id, TS: now, Stage: progress.StageSessionStart, Target: "alice"},
		{SessionID: id, TS: now, Stage: progress.StageCollect, Target: "alice", Current: 50, Total: 120, Percent: 41.7},
		{SessionID: id, TS: now, Stage: progress.StageItemAnalyzed, Handle: "a", Dur: 3 * time.Second},
		{SessionID: id, TS: now, Stage: progress.StageItemAnalyzed, Handle: "b", Reason: "ratio"},
		{SessionID: id, TS: now, Stage: progress.StageItemSkipped, Handle: "c"},
		{SessionID: id, TS: now, Stage: progress.StageItemFailed, Handle: "d"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.sessionsRunning))
	require.InDelta(t, 41.7, testutil.ToFloat64(sink.collectPercent.WithLabelValues("alice")), 1e-9)
	for _, outcome := range []string{"clean", "suspicious", "skipped", "failed"} {
		require.Equal(t, 1.0, testutil.ToFloat64(sink.items.WithLabelValues(outcome)), outcome)
	}
	require.Equal(t, 1, testutil.CollectAndCount(sink.itemDuration, "followeraudit_item_duration_seconds"))

	done := []progress.Event{
		{SessionID: id, TS: now, Stage: progress.StageSessionStopped, Dur: time.Minute},
		{SessionID: id, TS: now, Stage: progress.StageSessionStopped, Dur: time.Minute},
	}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.sessionsEnded.WithLabelValues("stopped")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.sessionsRunning))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
