package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/follower-audit/internal/progress"
)

// Snapshot is the folded state of one session as seen through its events.
type Snapshot struct {
	SessionID      uuid.UUID      `json:"session_id"`
	Target         string         `json:"target"`
	Stage          progress.Stage `json:"stage"`
	Collected      int64          `json:"collected"`
	Total          int64          `json:"total"`
	CollectPercent float64        `json:"collect_percent"`
	Analyzed       int64          `json:"analyzed"`
	Skipped        int64          `json:"skipped"`
	Failed         int64          `json:"failed"`
	Suspicious     int64          `json:"suspicious"`
	LastHandle     string         `json:"last_handle,omitempty"`
	Note           string         `json:"note,omitempty"`
	Updated        time.Time      `json:"updated"`
}

// Processed counts every follower the loop has visited.
func (s Snapshot) Processed() int64 {
	return s.Analyzed + s.Skipped + s.Failed
}

// RecorderSink keeps a Snapshot per session in memory. The CLI renders from
// it and the HTTP surface serves it.
type RecorderSink struct {
	mu       sync.RWMutex
	sessions map[[16]byte]*Snapshot
	latest   [16]byte
	onUpdate func(Snapshot)
}

// NewRecorderSink returns an empty recorder. onUpdate, when set, is called on
// the hub goroutine with the new snapshot after each batch.
func NewRecorderSink(onUpdate func(Snapshot)) *RecorderSink {
	return &RecorderSink{
		sessions: make(map[[16]byte]*Snapshot),
		onUpdate: onUpdate,
	}
}

// Consume folds batch into the per-session snapshots.
func (r *RecorderSink) Consume(_ context.Context, batch []progress.Event) error {
	touched := make(map[[16]byte]struct{})
	r.mu.Lock()
	for _, evt := range batch {
		r.apply(evt)
		touched[evt.SessionID] = struct{}{}
	}
	updates := make([]Snapshot, 0, len(touched))
	for id := range touched {
		updates = append(updates, *r.sessions[id])
	}
	r.mu.Unlock()

	if r.onUpdate != nil {
		for _, snap := range updates {
			r.onUpdate(snap)
		}
	}
	return nil
}

func (r *RecorderSink) apply(evt progress.Event) {
	snap, ok := r.sessions[evt.SessionID]
	if !ok {
		snap = &Snapshot{SessionID: evt.SessionUUID()}
		r.sessions[evt.SessionID] = snap
	}
	r.latest = evt.SessionID
	snap.Updated = evt.TS
	if evt.Target != "" {
		snap.Target = evt.Target
	}
	switch evt.Stage {
	case progress.StageCollect:
		snap.Collected, snap.Total, snap.CollectPercent = evt.Current, evt.Total, evt.Percent
		return
	case progress.StageItemAnalyzed:
		snap.Analyzed++
	case progress.StageItemSkipped:
		snap.Skipped++
	case progress.StageItemFailed:
		snap.Failed++
		snap.Note = evt.Note
	default:
		snap.Stage = evt.Stage
		if evt.Note != "" {
			snap.Note = evt.Note
		}
		return
	}
	snap.LastHandle = evt.Handle
	snap.Suspicious = evt.Suspicious
}

// Snapshot returns the state of session id.
func (r *RecorderSink) Snapshot(id uuid.UUID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.sessions[progress.UUIDToBytes(id)]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Latest returns the session that most recently emitted an event.
func (r *RecorderSink) Latest() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.sessions[r.latest]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Close implements the Sink interface; it performs no action.
func (r *RecorderSink) Close(context.Context) error {
	return nil
}
