package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/control"
)

// ErrInvalidHandle is returned for an empty or malformed target handle.
var ErrInvalidHandle = errors.New("invalid target handle")

// NormalizeHandle trims whitespace and a leading "@" and lowercases the
// handle. Platform handles are case-insensitive.
func NormalizeHandle(raw string) (string, error) {
	h := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
	if h == "" || strings.ContainsAny(h, " /?#&") {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, raw)
	}
	return h, nil
}

// StartOptions tune how a session treats earlier results.
type StartOptions struct {
	// Fresh ignores any saved record and starts with an empty analyzed set.
	// The saved record is overwritten when the session ends.
	Fresh bool
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID      string    `json:"session_id"`
	Target         string    `json:"target"`
	State          string    `json:"state"`
	Resumed        bool      `json:"resumed"`
	Collected      int       `json:"collected"`
	Total          int64     `json:"total"`
	CollectPercent float64   `json:"collect_percent"`
	Processed      int       `json:"processed"`
	Analyzed       int       `json:"analyzed"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	Suspicious     int       `json:"suspicious"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitzero"`
	Error          string    `json:"error,omitempty"`
}

// Session is one audit run over a target. It owns its settings, control
// machine, and accumulated results; the run goroutine is the only writer of
// the results and readers go through snapshot methods. A resumed run replaces
// the classifier part of Settings with the saved snapshot before it starts.
type Session struct {
	ID       uuid.UUID
	Target   string
	Settings audit.Settings
	Options  StartOptions

	machine *control.Machine
	cancel  context.CancelFunc
	done    chan struct{}

	mu         sync.Mutex
	status     Status
	suspicious []audit.FlaggedFollower
	record     audit.ProgressRecord
	err        error
}

// NewSession builds an idle session.
func NewSession(id uuid.UUID, target string, settings audit.Settings, opts StartOptions) *Session {
	return &Session{
		ID:       id,
		Target:   target,
		Settings: settings,
		Options:  opts,
		machine:  control.New(),
		done:     make(chan struct{}),
		status:   Status{SessionID: id.String(), Target: target},
	}
}

// Machine exposes the session's control machine.
func (s *Session) Machine() *control.Machine {
	return s.machine
}

// Done is closed when the run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Active reports whether the run has not returned yet.
func (s *Session) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Status returns a copy of the session's counters with the live state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.machine.State().String()
	return st
}

// Suspicious returns a copy of the flagged followers gathered so far.
func (s *Session) Suspicious() []audit.FlaggedFollower {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.FlaggedFollower, len(s.suspicious))
	copy(out, s.suspicious)
	return out
}

// Result returns the saved record and the run error once Done is closed.
func (s *Session) Result() (audit.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record, s.err
}

func (s *Session) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func (s *Session) flag(f audit.FlaggedFollower) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspicious = append(s.suspicious, f)
	s.status.Suspicious = len(s.suspicious)
	return len(s.suspicious)
}

func (s *Session) seed(items []audit.FlaggedFollower) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspicious = append(s.suspicious[:0], items...)
	s.status.Suspicious = len(s.suspicious)
}

func (s *Session) finish(record audit.ProgressRecord, finishedAt time.Time, err error) {
	s.mu.Lock()
	s.record = record
	s.err = err
	s.status.FinishedAt = finishedAt
	if err != nil {
		s.status.Error = err.Error()
	}
	s.mu.Unlock()
	close(s.done)
}
