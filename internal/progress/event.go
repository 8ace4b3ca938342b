// Package progress defines the event structures emitted by audit sessions.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart   Stage = "SESSION_START"
	StageCollect        Stage = "COLLECT_PROGRESS"
	StageItemAnalyzed   Stage = "ITEM_ANALYZED"
	StageItemSkipped    Stage = "ITEM_SKIPPED"
	StageItemFailed     Stage = "ITEM_FAILED"
	StageSessionPaused  Stage = "SESSION_PAUSED"
	StageSessionResumed Stage = "SESSION_RESUMED"
	StageSessionDone    Stage = "SESSION_DONE"
	StageSessionStopped Stage = "SESSION_STOPPED"
	StageSessionError   Stage = "SESSION_ERROR"
)

// Terminal reports whether the stage ends a session.
func (s Stage) Terminal() bool {
	return s == StageSessionDone || s == StageSessionStopped || s == StageSessionError
}

// Item reports whether the stage describes a single follower.
func (s Stage) Item() bool {
	return s == StageItemAnalyzed || s == StageItemSkipped || s == StageItemFailed
}

// Event captures one step of an audit session.
type Event struct {
	// SessionID uniquely identifies a session using the 16-byte UUID form.
	SessionID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or item milestone occurred.
	Stage Stage
	// Target is the audited account handle.
	Target string
	// Handle names the follower for item stages.
	Handle string
	// Current and Total count followers collected or processed so far.
	Current int64
	Total   int64
	// Percent is Current/Total rounded to one decimal.
	Percent float64
	// Suspicious is the running count of flagged followers.
	Suspicious int64
	// Reason carries the flag reason on ITEM_ANALYZED, comma separated.
	Reason string
	// Dur captures item latency or whole-session runtime.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == [16]byte{} {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch {
	case e.Stage.Item():
		if e.Handle == "" {
			return fmt.Errorf("%s requires handle", e.Stage)
		}
	case e.Stage == StageCollect:
		if e.Total < 0 || e.Current < 0 {
			return errors.New("collect progress counts must be >= 0")
		}
	case e.Stage == StageSessionStart, e.Stage == StageSessionPaused, e.Stage == StageSessionResumed,
		e.Stage.Terminal():
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// SessionUUID converts the binary session ID to uuid.UUID.
func (e Event) SessionUUID() uuid.UUID {
	return uuid.UUID(e.SessionID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
