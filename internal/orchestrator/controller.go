package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/progress"
	"github.com/JakeFAU/follower-audit/internal/report"
)

// IDGenerator produces session identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Controller is the command surface over one active session at a time. It is
// safe for concurrent use.
type Controller struct {
	orch     *Orchestrator
	ids      IDGenerator
	defaults audit.Settings
	logger   *zap.Logger

	mu      sync.Mutex
	current *Session
}

// NewController builds a Controller. defaults are used by Start when the
// caller passes zero settings.
func NewController(orch *Orchestrator, ids IDGenerator, defaults audit.Settings) *Controller {
	return &Controller{
		orch:     orch,
		ids:      ids,
		defaults: defaults,
		logger:   orch.logger.Named("controller"),
	}
}

// Defaults returns the settings Start falls back to.
func (c *Controller) Defaults() audit.Settings {
	return c.defaults
}

// Start launches a session for target on its own goroutine. The run context
// is detached from ctx so request-scoped callers do not end the session; use
// Abort to interrupt it.
func (c *Controller) Start(ctx context.Context, target string, settings audit.Settings, opts StartOptions) (Status, error) {
	handle, err := NormalizeHandle(target)
	if err != nil {
		return Status{}, err
	}
	if settings == (audit.Settings{}) {
		settings = c.defaults
	}
	raw, err := c.ids.NewID()
	if err != nil {
		return Status{}, fmt.Errorf("generate session id: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Status{}, fmt.Errorf("parse session id: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.Active() {
		return Status{}, fmt.Errorf("%w: @%s", audit.ErrSessionActive, c.current.Target)
	}
	s := NewSession(id, handle, settings, opts)
	if err := s.machine.Start(); err != nil {
		return Status{}, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	c.current = s
	go func() {
		defer cancel()
		_ = c.orch.Run(runCtx, s)
	}()
	c.logger.Info("session launched", zap.String("session_id", id.String()), zap.String("target", handle))
	return s.Status(), nil
}

// Pause holds the active session at its next item boundary.
func (c *Controller) Pause() error {
	s, err := c.active()
	if err != nil {
		return err
	}
	if err := s.machine.Pause(); err != nil {
		return err
	}
	c.orch.emit(s, progress.Event{Stage: progress.StageSessionPaused})
	return nil
}

// Resume releases a paused session.
func (c *Controller) Resume() error {
	s, err := c.active()
	if err != nil {
		return err
	}
	if err := s.machine.Resume(); err != nil {
		return err
	}
	c.orch.emit(s, progress.Event{Stage: progress.StageSessionResumed})
	return nil
}

// Stop requests a cooperative stop. The session saves what it has analyzed
// once the stop is observed.
func (c *Controller) Stop() error {
	s, err := c.active()
	if err != nil {
		return err
	}
	return s.machine.Stop()
}

// Abort cancels the active session's context. Nothing is saved.
func (c *Controller) Abort() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Wait blocks until the latest session returns and reports its saved record
// and run error.
func (c *Controller) Wait(ctx context.Context) (audit.ProgressRecord, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return audit.ProgressRecord{}, audit.ErrNoSession
	}
	select {
	case <-s.Done():
		return s.Result()
	case <-ctx.Done():
		return audit.ProgressRecord{}, fmt.Errorf("wait for session: %w", ctx.Err())
	}
}

// Status reports the latest session, active or not.
func (c *Controller) Status() (Status, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return Status{}, audit.ErrNoSession
	}
	return s.Status(), nil
}

// LoadPrevious returns the saved record for target.
func (c *Controller) LoadPrevious(ctx context.Context, target string) (audit.ProgressRecord, bool, error) {
	handle, err := NormalizeHandle(target)
	if err != nil {
		return audit.ProgressRecord{}, false, err
	}
	return c.orch.store.Load(ctx, handle)
}

// ExportResults renders the flagged followers of target as CSV. An empty
// target selects the latest session. While that session is still running the
// in-memory results are exported; otherwise the saved record is.
func (c *Controller) ExportResults(ctx context.Context, target string, extended bool) (string, error) {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	handle := ""
	if target == "" {
		if s == nil {
			return "", audit.ErrNoSession
		}
		handle = s.Target
	} else {
		var err error
		if handle, err = NormalizeHandle(target); err != nil {
			return "", err
		}
	}

	var items []audit.FlaggedFollower
	if s != nil && s.Target == handle && s.Active() {
		items = s.Suspicious()
	} else {
		record, found, err := c.orch.store.Load(ctx, handle)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("%w for @%s", audit.ErrNoResults, handle)
		}
		items = record.SuspiciousItems
	}
	if extended {
		return report.ExtendedCSV(items), nil
	}
	return report.CSV(items), nil
}

// Clear removes the saved record for target. It refuses while a session for
// the same target is active.
func (c *Controller) Clear(ctx context.Context, target string) error {
	handle, err := NormalizeHandle(target)
	if err != nil {
		return err
	}
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil && s.Target == handle && s.Active() {
		return fmt.Errorf("%w: @%s", audit.ErrSessionActive, handle)
	}
	return c.orch.store.Clear(ctx, handle)
}

// Targets lists handles with saved records.
func (c *Controller) Targets(ctx context.Context) ([]string, error) {
	return c.orch.store.Targets(ctx)
}

// Close aborts any active session and waits for it to return.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil || !s.Active() {
		return nil
	}
	s.cancel()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close controller: %w", ctx.Err())
	}
}

func (c *Controller) active() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.current.Active() {
		return nil, audit.ErrNoSession
	}
	return c.current, nil
}
