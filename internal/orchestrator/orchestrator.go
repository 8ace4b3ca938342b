// Package orchestrator sequences an audit session: resolve the target,
// collect its followers, then analyze them one at a time under the control
// machine, persisting the progress record once when the loop ends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/classify"
	"github.com/JakeFAU/follower-audit/internal/collector"
	"github.com/JakeFAU/follower-audit/internal/control"
	"github.com/JakeFAU/follower-audit/internal/metrics"
	"github.com/JakeFAU/follower-audit/internal/progress"
)

const publishTimeout = 10 * time.Second

// Platform is the remote account API.
type Platform interface {
	collector.PageSource
	ResolveUserID(ctx context.Context, handle string) (string, error)
	FollowerDetail(ctx context.Context, handle string) (audit.FollowerDetail, error)
}

// Store persists progress records per target.
type Store interface {
	Save(ctx context.Context, target string, record audit.ProgressRecord) error
	Load(ctx context.Context, target string) (audit.ProgressRecord, bool, error)
	Clear(ctx context.Context, target string) error
	Targets(ctx context.Context) ([]string, error)
}

// Config wires the orchestrator's collaborators. Emitter, Publisher, and
// Logger are optional.
type Config struct {
	Platform  Platform
	Store     Store
	Clock     audit.Clock
	Emitter   progress.Emitter
	Publisher audit.Publisher
	// Topic receives the session summary. Empty disables publishing.
	Topic    string
	MaxPages int
	Logger   *zap.Logger
}

// Orchestrator runs sessions.
type Orchestrator struct {
	platform  Platform
	store     Store
	clock     audit.Clock
	emitter   progress.Emitter
	publisher audit.Publisher
	topic     string
	maxPages  int
	logger    *zap.Logger
}

// New validates cfg and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Platform == nil {
		return nil, errors.New("orchestrator: platform is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("orchestrator: clock is required")
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		platform:  cfg.Platform,
		store:     cfg.Store,
		clock:     cfg.Clock,
		emitter:   emitter,
		publisher: cfg.Publisher,
		topic:     cfg.Topic,
		maxPages:  cfg.MaxPages,
		logger:    logger,
	}, nil
}

// Run executes s to the end and records its outcome on the session.
//
// Collection-stage failures abort the session without saving. A canceled ctx
// is an ungraceful interruption and is not saved either. Otherwise the record
// is saved exactly once, whether the loop ran out of followers or observed a
// stop request.
func (o *Orchestrator) Run(ctx context.Context, s *Session) error {
	logger := o.logger.With(zap.String("session_id", s.ID.String()), zap.String("target", s.Target))
	// No-op unless the caller left the machine Idle.
	_ = s.machine.Start()

	started := o.clock.Now()
	s.update(func(st *Status) { st.StartedAt = started })
	index, err := o.resume(ctx, s, logger)
	metrics.SessionStarted()
	o.emit(s, progress.Event{Stage: progress.StageSessionStart, Note: "policy=" + policyName(s.Settings)})
	logger.Info("audit session started", zap.String("policy", policyName(s.Settings)), zap.Bool("fresh", s.Options.Fresh))

	var record audit.ProgressRecord
	if err == nil {
		record, err = o.run(ctx, s, index, logger)
	}
	finished := o.clock.Now()

	evt := progress.Event{
		Dur:        finished.Sub(started),
		Total:      record.TotalFollowerCount,
		Current:    int64(record.AnalyzedCount),
		Percent:    percent(int64(record.AnalyzedCount), record.TotalFollowerCount),
		Suspicious: int64(len(record.SuspiciousItems)),
	}
	state := s.machine.State()
	switch {
	case err != nil:
		// Also reached after Complete or Stop when the final save fails.
		_ = s.machine.Fail()
		state = control.Failed
		evt.Stage = progress.StageSessionError
		evt.Note = err.Error()
		logger.Error("audit session failed", zap.Error(err))
	case state == control.Stopped:
		evt.Stage = progress.StageSessionStopped
		logger.Info("audit session stopped",
			zap.Int("analyzed", record.AnalyzedCount),
			zap.Int("suspicious", len(record.SuspiciousItems)),
		)
	default:
		evt.Stage = progress.StageSessionDone
		logger.Info("audit session completed",
			zap.Int("analyzed", record.AnalyzedCount),
			zap.Int("suspicious", len(record.SuspiciousItems)),
			zap.Float64("suspicious_percent", record.SuspiciousPercent()),
		)
	}
	o.emit(s, evt)
	metrics.SessionFinished(state.String())
	o.publish(ctx, newSummary(s, record, state.String(), finished, err), logger)
	s.finish(record, finished, err)
	return err
}

// resume seeds s from the saved record unless the session is fresh. A
// resumed session continues under the classifier settings it was saved with,
// so every flagged entry in the record comes from one policy; pacing keeps the
// caller's values.
func (o *Orchestrator) resume(ctx context.Context, s *Session, logger *zap.Logger) (*audit.AnalyzedIndex, error) {
	if s.Options.Fresh {
		return audit.NewAnalyzedIndex(nil), nil
	}
	prev, found, err := o.store.Load(ctx, s.Target)
	if err != nil {
		return nil, fmt.Errorf("load previous results: %w", err)
	}
	if !found {
		return audit.NewAnalyzedIndex(nil), nil
	}
	if prev.Settings.Policy != "" {
		if prev.Settings.Policy != s.Settings.Policy ||
			prev.Settings.FiveSignal != s.Settings.FiveSignal ||
			prev.Settings.TwoSignal != s.Settings.TwoSignal {
			logger.Info("keeping saved classifier settings",
				zap.String("saved_policy", string(prev.Settings.Policy)),
				zap.String("requested_policy", policyName(s.Settings)),
			)
		}
		s.Settings.Policy = prev.Settings.Policy
		s.Settings.FiveSignal = prev.Settings.FiveSignal
		s.Settings.TwoSignal = prev.Settings.TwoSignal
	}
	s.seed(prev.SuspiciousItems)
	s.update(func(st *Status) { st.Resumed = true })
	logger.Info("resuming previous audit",
		zap.Int("analyzed", len(prev.AnalyzedHandles)),
		zap.Int("suspicious", len(prev.SuspiciousItems)),
	)
	return audit.NewAnalyzedIndex(prev.AnalyzedHandles), nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	s *Session,
	index *audit.AnalyzedIndex,
	logger *zap.Logger,
) (audit.ProgressRecord, error) {
	classifier, err := classify.New(s.Settings)
	if err != nil {
		return audit.ProgressRecord{}, fmt.Errorf("select classifier: %w", err)
	}

	userID, err := o.platform.ResolveUserID(ctx, s.Target)
	if err != nil {
		return audit.ProgressRecord{}, fmt.Errorf("resolve %s: %w", s.Target, err)
	}
	coll, err := collector.New(o.platform, o.clock, collector.Config{
		PageSize:  s.Settings.PageSize,
		PageDelay: s.Settings.PageDelay,
		MaxPages:  o.maxPages,
		Logger:    logger.Named("collector"),
	})
	if err != nil {
		return audit.ProgressRecord{}, err
	}
	collected, err := coll.CollectAll(ctx, userID, func(p collector.Progress) {
		s.update(func(st *Status) {
			st.Collected, st.Total, st.CollectPercent = p.Current, p.Total, p.Percent
		})
		o.emit(s, progress.Event{
			Stage:   progress.StageCollect,
			Current: int64(p.Current),
			Total:   p.Total,
			Percent: p.Percent,
		})
	}, s.machine.StopRequested)
	if err != nil {
		return audit.ProgressRecord{}, fmt.Errorf("collect followers: %w", err)
	}

	if err := o.analyze(ctx, s, collected.Refs, index, classifier, logger); err != nil {
		return audit.ProgressRecord{}, err
	}
	status, err := o.settle(ctx, s)
	if err != nil {
		return audit.ProgressRecord{}, err
	}

	handles := index.Handles()
	record := audit.ProgressRecord{
		TargetHandle:       s.Target,
		SessionID:          s.ID.String(),
		Status:             status,
		Settings:           s.Settings,
		AnalyzedHandles:    handles,
		SuspiciousItems:    s.Suspicious(),
		TotalFollowerCount: collected.Total,
		AnalyzedCount:      len(handles),
		LastUpdate:         o.clock.Now().UTC(),
	}
	if err := o.store.Save(ctx, s.Target, record); err != nil {
		return record, fmt.Errorf("save progress: %w", err)
	}
	return record, nil
}

// analyze walks refs in order. It returns nil when the list is exhausted or a
// stop is observed, and an error only when ctx ends.
func (o *Orchestrator) analyze(
	ctx context.Context,
	s *Session,
	refs []audit.FollowerRef,
	index *audit.AnalyzedIndex,
	classifier classify.Classifier,
	logger *zap.Logger,
) error {
	total := int64(len(refs))
	for i, ref := range refs {
		state, err := s.machine.Checkpoint(ctx)
		if err != nil {
			return fmt.Errorf("session interrupted: %w", err)
		}
		if state == control.Stopped {
			logger.Info("stop observed", zap.Int("position", i), zap.Int("remaining", len(refs)-i))
			return nil
		}

		pos := int64(i + 1)
		evt := progress.Event{Handle: ref.Handle, Current: pos, Total: total, Percent: percent(pos, total)}
		if index.Has(ref.Handle) {
			s.update(func(st *Status) { st.Processed++; st.Skipped++ })
			evt.Stage = progress.StageItemSkipped
			evt.Suspicious = int64(s.Status().Suspicious)
			o.emit(s, evt)
			continue
		}

		if err := o.clock.Sleep(ctx, s.Settings.ItemCooldown); err != nil {
			return fmt.Errorf("session interrupted: %w", err)
		}
		began := o.clock.Now()
		detail, verdict, err := o.inspect(ctx, ref.Handle, classifier)
		evt.Dur = o.clock.Now().Sub(began)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("session interrupted: %w", ctx.Err())
			}
			level := zap.WarnLevel
			if !audit.IsItemError(err) {
				level = zap.ErrorLevel
			}
			logger.Log(level, "follower skipped", zap.String("handle", ref.Handle), zap.Error(err))
			s.update(func(st *Status) { st.Processed++; st.Failed++ })
			evt.Stage = progress.StageItemFailed
			evt.Note = err.Error()
			evt.Suspicious = int64(s.Status().Suspicious)
			o.emit(s, evt)
			continue
		}

		index.Add(ref.Handle)
		s.update(func(st *Status) { st.Processed++; st.Analyzed++ })
		flagged := s.Status().Suspicious
		if verdict.Suspicious {
			detail.Handle = ref.Handle
			flagged = s.flag(audit.FlaggedFollower{
				FollowerDetail: detail,
				Reasons:        verdict.Reasons,
				Metrics:        verdict.Metrics,
			})
			evt.Reason = joinReasons(verdict.Reasons)
			logger.Debug("follower flagged", zap.String("handle", ref.Handle), zap.String("reasons", evt.Reason))
		}
		evt.Stage = progress.StageItemAnalyzed
		evt.Suspicious = int64(flagged)
		o.emit(s, evt)
	}
	return nil
}

func (o *Orchestrator) inspect(
	ctx context.Context,
	handle string,
	classifier classify.Classifier,
) (audit.FollowerDetail, audit.Verdict, error) {
	detail, err := o.platform.FollowerDetail(ctx, handle)
	if err != nil {
		return audit.FollowerDetail{}, audit.Verdict{}, fmt.Errorf("fetch detail: %w", err)
	}
	verdict, err := classifier.Classify(detail, o.clock.Now())
	if err != nil {
		return audit.FollowerDetail{}, audit.Verdict{}, fmt.Errorf("classify: %w", err)
	}
	return detail, verdict, nil
}

// settle passes the end of the list through the gate one more time so a
// pause after the last item holds the session, then moves it to Completed
// unless a stop got there first.
func (o *Orchestrator) settle(ctx context.Context, s *Session) (audit.RecordStatus, error) {
	for {
		state, err := s.machine.Checkpoint(ctx)
		if err != nil {
			return "", fmt.Errorf("session interrupted: %w", err)
		}
		switch state {
		case control.Stopped:
			return audit.RecordStopped, nil
		case control.Running:
			if s.machine.Complete() == nil {
				return audit.RecordCompleted, nil
			}
		default:
			return "", fmt.Errorf("unexpected session state %s", state)
		}
	}
}

func (o *Orchestrator) emit(s *Session, evt progress.Event) {
	evt.SessionID = progress.UUIDToBytes(s.ID)
	evt.TS = o.clock.Now().UTC()
	evt.Target = s.Target
	o.emitter.Emit(evt)
}

func (o *Orchestrator) publish(ctx context.Context, sum Summary, logger *zap.Logger) {
	if o.publisher == nil || o.topic == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	id, err := o.publisher.Publish(ctx, o.topic, sum)
	if err != nil {
		logger.Warn("publish session summary", zap.String("topic", o.topic), zap.Error(err))
		return
	}
	logger.Debug("session summary published", zap.String("topic", o.topic), zap.String("message_id", id))
}

func policyName(s audit.Settings) string {
	if s.Policy == "" {
		return string(audit.PolicyFiveSignalOr)
	}
	return string(s.Policy)
}

func joinReasons(reasons []audit.Reason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ",")
}

func percent(current, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return audit.RoundPercent(min(float64(current)/float64(total), 1))
}
