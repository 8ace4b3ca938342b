package orchestrator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/clock/fake"
	"github.com/JakeFAU/follower-audit/internal/control"
	"github.com/JakeFAU/follower-audit/internal/progress"
	"github.com/JakeFAU/follower-audit/internal/publisher/memory"
	kvmemory "github.com/JakeFAU/follower-audit/internal/storage/memory"
	"github.com/JakeFAU/follower-audit/internal/store"
)

const cooldown = 3 * time.Second

var testSettings = audit.Settings{
	Policy:       audit.PolicyTwoSignalAnd,
	TwoSignal:    audit.TwoSignalSettings{MaxPosts: 5, MinFollowers: 1000},
	PageSize:     50,
	ItemCooldown: cooldown,
	PageDelay:    time.Second,
}

func clean(handle string) audit.FollowerDetail {
	return audit.FollowerDetail{Handle: handle, PostCount: 100, FollowerCount: 50, FollowingCount: 60}
}

func bot(handle string) audit.FollowerDetail {
	return audit.FollowerDetail{Handle: handle, PostCount: 1, FollowerCount: 5000, FollowingCount: 7}
}

// fakePlatform serves every follower on one page unless perPage is set.
// pageErr is returned by page call number failPage; the one-item count
// request is call 1.
type fakePlatform struct {
	mu         sync.Mutex
	refs       []audit.FollowerRef
	details    map[string]audit.FollowerDetail
	failures   map[string]error
	resolveErr error
	detailLog  []string
	onDetail   func(handle string)
	perPage    int
	pageErr    error
	failPage   int
	pageCalls  int
}

func newFakePlatform(details ...audit.FollowerDetail) *fakePlatform {
	p := &fakePlatform{details: map[string]audit.FollowerDetail{}, failures: map[string]error{}}
	for _, d := range details {
		p.refs = append(p.refs, audit.FollowerRef{ID: "id-" + d.Handle, Handle: d.Handle})
		p.details[d.Handle] = d
	}
	return p
}

func (p *fakePlatform) ResolveUserID(context.Context, string) (string, error) {
	if p.resolveErr != nil {
		return "", p.resolveErr
	}
	return "42", nil
}

func (p *fakePlatform) FollowerPage(_ context.Context, _ string, _ int, after string) (audit.CursorPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pageCalls++
	if p.pageCalls == p.failPage {
		return audit.CursorPage{}, p.pageErr
	}
	total := int64(len(p.refs))
	if p.perPage <= 0 {
		items := make([]audit.FollowerRef, len(p.refs))
		copy(items, p.refs)
		return audit.CursorPage{Items: items, TotalCount: total}, nil
	}
	start := 0
	if after != "" {
		start, _ = strconv.Atoi(after)
	}
	end := min(start+p.perPage, len(p.refs))
	items := make([]audit.FollowerRef, end-start)
	copy(items, p.refs[start:end])
	page := audit.CursorPage{Items: items, TotalCount: total, HasMore: end < len(p.refs)}
	if page.HasMore {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (p *fakePlatform) FollowerDetail(_ context.Context, handle string) (audit.FollowerDetail, error) {
	p.mu.Lock()
	p.detailLog = append(p.detailLog, handle)
	d, err, hook := p.details[handle], p.failures[handle], p.onDetail
	p.mu.Unlock()
	if hook != nil {
		hook(handle)
	}
	if err != nil {
		return audit.FollowerDetail{}, err
	}
	return d, nil
}

func (p *fakePlatform) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.detailLog))
	copy(out, p.detailLog)
	return out
}

func (p *fakePlatform) reset() {
	p.mu.Lock()
	p.detailLog = nil
	p.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (l *eventLog) Emit(evt progress.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) stages() []progress.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]progress.Stage, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Stage)
	}
	return out
}

func (l *eventLog) count(stage progress.Stage) int {
	n := 0
	for _, s := range l.stages() {
		if s == stage {
			n++
		}
	}
	return n
}

type harness struct {
	orch     *Orchestrator
	platform *fakePlatform
	kv       *kvmemory.Store
	store    *store.ProgressStore
	clock    *fake.Clock
	events   *eventLog
	pub      *memory.Publisher
}

func newHarness(t *testing.T, platform *fakePlatform) *harness {
	t.Helper()
	kv := kvmemory.New()
	ps, err := store.New(kv, "")
	require.NoError(t, err)
	h := &harness{
		platform: platform,
		kv:       kv,
		store:    ps,
		clock:    fake.New(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		events:   &eventLog{},
		pub:      memory.New(),
	}
	h.orch, err = New(Config{
		Platform:  platform,
		Store:     ps,
		Clock:     h.clock,
		Emitter:   h.events,
		Publisher: h.pub,
		Topic:     "audits",
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, ctx context.Context, opts StartOptions) (*Session, error) {
	t.Helper()
	s := NewSession(uuid.Must(uuid.NewV7()), "target", testSettings, opts)
	err := h.orch.Run(ctx, s)
	<-s.Done()
	return s, err
}

func (h *harness) saved(t *testing.T) (audit.ProgressRecord, bool) {
	t.Helper()
	rec, found, err := h.store.Load(context.Background(), "target")
	require.NoError(t, err)
	return rec, found
}

func handles(items []audit.FlaggedFollower) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Handle)
	}
	return out
}

func TestRunAnalyzesAllAndSavesOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakePlatform(clean("a"), bot("b"), clean("c")))
	s, err := h.run(t, context.Background(), StartOptions{})
	require.NoError(t, err)
	require.Equal(t, control.Completed, s.Machine().State())

	rec, found := h.saved(t)
	require.True(t, found)
	require.Equal(t, audit.RecordCompleted, rec.Status)
	require.Equal(t, []string{"a", "b", "c"}, rec.AnalyzedHandles)
	require.Equal(t, 3, rec.AnalyzedCount)
	require.Equal(t, int64(3), rec.TotalFollowerCount)
	require.Equal(t, []string{"b"}, handles(rec.SuspiciousItems))
	require.Equal(t, []audit.Reason{audit.ReasonLowPostsHighFollowers}, rec.SuspiciousItems[0].Reasons)
	require.Equal(t, s.ID.String(), rec.SessionID)

	require.Equal(t, []time.Duration{cooldown, cooldown, cooldown}, h.clock.Sleeps())

	stages := h.events.stages()
	require.Equal(t, progress.StageSessionStart, stages[0])
	require.Equal(t, progress.StageSessionDone, stages[len(stages)-1])
	require.Equal(t, 3, h.events.count(progress.StageItemAnalyzed))

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "audits", msgs[0].Topic)
	require.JSONEq(t, `{
		"session_id": "`+s.ID.String()+`",
		"target": "target",
		"state": "completed",
		"policy": "two_signal_and",
		"total_followers": 3,
		"analyzed": 3,
		"suspicious": 1,
		"suspicious_percent": 33.3,
		"started_at": "2024-06-01T00:00:00Z",
		"finished_at": "2024-06-01T00:00:09Z"
	}`, string(msgs[0].Data))
}

func TestRunResumeFetchesOnlyUnanalyzed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakePlatform(clean("a"), bot("b"), clean("c")))
	prior := audit.ProgressRecord{
		TargetHandle:    "target",
		AnalyzedHandles: []string{"a", "b"},
		SuspiciousItems: []audit.FlaggedFollower{{FollowerDetail: bot("b"), Reasons: []audit.Reason{audit.ReasonLowPostsHighFollowers}}},
		AnalyzedCount:   2,
	}
	require.NoError(t, h.store.Save(context.Background(), "target", prior))

	s, err := h.run(t, context.Background(), StartOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, h.platform.calls())
	require.True(t, s.Status().Resumed)
	require.Equal(t, 2, s.Status().Skipped)

	rec, _ := h.saved(t)
	require.Equal(t, []string{"a", "b", "c"}, rec.AnalyzedHandles)
	require.Equal(t, []string{"b"}, handles(rec.SuspiciousItems))
	require.Equal(t, 2, h.events.count(progress.StageItemSkipped))
}

func TestRunFreshIgnoresSavedRecord(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakePlatform(clean("a"), clean("b")))
	require.NoError(t, h.store.Save(context.Background(), "target", audit.ProgressRecord{
		AnalyzedHandles: []string{"a", "b", "zz"},
		SuspiciousItems: []audit.FlaggedFollower{{FollowerDetail: bot("zz")}},
	}))

	_, err := h.run(t, context.Background(), StartOptions{Fresh: true})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, h.platform.calls())
	rec, _ := h.saved(t)
	require.Equal(t, []string{"a", "b"}, rec.AnalyzedHandles)
	require.Empty(t, rec.SuspiciousItems)
}

func TestRunStopSavesItemsProcessedBeforeStop(t *testing.T) {
	t.Parallel()

	p := newFakePlatform(clean("a"), bot("b"), bot("c"), clean("d"))
	h := newHarness(t, p)
	var session *Session
	p.onDetail = func(handle string) {
		if handle == "b" {
			require.NoError(t, session.Machine().Stop())
		}
	}
	session = NewSession(uuid.Must(uuid.NewV7()), "target", testSettings, StartOptions{})

	require.NoError(t, h.orch.Run(context.Background(), session))
	require.Equal(t, control.Stopped, session.Machine().State())
	// The fetch for b was in flight when the stop arrived, so it completes.
	require.Equal(t, []string{"a", "b"}, p.calls())

	rec, found := h.saved(t)
	require.True(t, found)
	require.Equal(t, audit.RecordStopped, rec.Status)
	require.Equal(t, 2, rec.AnalyzedCount)
	require.Equal(t, []string{"a", "b"}, rec.AnalyzedHandles)
	index := audit.NewAnalyzedIndex(rec.AnalyzedHandles)
	for _, it := range rec.SuspiciousItems {
		require.True(t, index.Has(it.Handle), it.Handle)
	}
	stages := h.events.stages()
	require.Equal(t, progress.StageSessionStopped, stages[len(stages)-1])
}

func TestRunFailingItemIsRetriedOnEveryResume(t *testing.T) {
	t.Parallel()

	p := newFakePlatform(clean("a"), clean("b"), bot("c"))
	p.failures["c"] = &audit.HTTPError{URL: "https://platform.test/c", Status: 500}
	h := newHarness(t, p)

	s, err := h.run(t, context.Background(), StartOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, s.Status().Failed)
	require.Equal(t, 1, h.events.count(progress.StageItemFailed))
	rec, _ := h.saved(t)
	require.Equal(t, []string{"a", "b"}, rec.AnalyzedHandles)

	p.reset()
	_, err = h.run(t, context.Background(), StartOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, p.calls())
	rec, _ = h.saved(t)
	require.Equal(t, []string{"a", "b"}, rec.AnalyzedHandles)

	delete(p.failures, "c")
	p.reset()
	_, err = h.run(t, context.Background(), StartOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, p.calls())
	rec, _ = h.saved(t)
	require.Equal(t, []string{"a", "b", "c"}, rec.AnalyzedHandles)
	require.Equal(t, []string{"c"}, handles(rec.SuspiciousItems))
}

func TestRunClassificationInputErrorSkipsItem(t *testing.T) {
	t.Parallel()

	p := newFakePlatform(clean("a"))
	h := newHarness(t, p)
	s := NewSession(uuid.Must(uuid.NewV7()), "target", audit.Settings{Policy: audit.PolicyFiveSignalOr}, StartOptions{})

	require.NoError(t, h.orch.Run(context.Background(), s))
	rec, _ := h.saved(t)
	require.Empty(t, rec.AnalyzedHandles)
	require.Equal(t, 1, s.Status().Failed)
}

func TestRunResolveFailureAbortsWithoutSaving(t *testing.T) {
	t.Parallel()

	p := newFakePlatform(clean("a"))
	p.resolveErr = audit.ErrUserNotFound
	h := newHarness(t, p)

	s, err := h.run(t, context.Background(), StartOptions{})
	require.ErrorIs(t, err, audit.ErrUserNotFound)
	require.Equal(t, control.Failed, s.Machine().State())
	_, found := h.saved(t)
	require.False(t, found)
	require.Equal(t, 1, h.events.count(progress.StageSessionError))
	require.Empty(t, p.calls())

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Contains(t, string(msgs[0].Data), `"state":"failed"`)
	_, runErr := s.Result()
	require.ErrorIs(t, runErr, audit.ErrUserNotFound)
}

func TestRunCanceledContextDoesNotSave(t *testing.T) {
	t.Parallel()

	p := newFakePlatform(clean("a"), clean("b"))
	h := newHarness(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	p.onDetail = func(string) { cancel() }

	_, err := h.run(t, ctx, StartOptions{})
	require.True(t, errors.Is(err, context.Canceled))
	_, found := h.saved(t)
	require.False(t, found)
	require.Equal(t, 1, h.events.count(progress.StageSessionError))
}

func TestRunResumeKeepsSavedClassifierSettings(t *testing.T) {
	t.Parallel()

	p := newFakePlatform(bot("a"), bot("b"))
	h := newHarness(t, p)
	require.NoError(t, h.store.Save(context.Background(), "target", audit.ProgressRecord{
		TargetHandle:    "target",
		Settings:        testSettings,
		AnalyzedHandles: []string{"a"},
		SuspiciousItems: []audit.FlaggedFollower{{FollowerDetail: bot("a"), Reasons: []audit.Reason{audit.ReasonLowPostsHighFollowers}}},
		AnalyzedCount:   1,
	}))

	requested := audit.Settings{Policy: audit.PolicyFiveSignalOr, PageSize: 10, ItemCooldown: 7 * time.Second}
	s := NewSession(uuid.Must(uuid.NewV7()), "target", requested, StartOptions{})
	require.NoError(t, h.orch.Run(context.Background(), s))

	require.Equal(t, []string{"b"}, p.calls())
	require.Zero(t, s.Status().Failed)
	require.Equal(t, []time.Duration{7 * time.Second}, h.clock.Sleeps())

	rec, _ := h.saved(t)
	require.Equal(t, audit.PolicyTwoSignalAnd, rec.Settings.Policy)
	require.Equal(t, testSettings.TwoSignal, rec.Settings.TwoSignal)
	require.Equal(t, 7*time.Second, rec.Settings.ItemCooldown)
	require.Equal(t, []string{"a", "b"}, rec.AnalyzedHandles)
	require.Equal(t, []string{"a", "b"}, handles(rec.SuspiciousItems))

	h.events.mu.Lock()
	start := h.events.events[0]
	h.events.mu.Unlock()
	require.Equal(t, progress.StageSessionStart, start.Stage)
	require.Equal(t, "policy=two_signal_and", start.Note)
	require.Contains(t, string(h.pub.Messages()[0].Data), `"policy":"two_signal_and"`)
}

func TestRunFreshUsesRequestedSettings(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakePlatform(bot("a")))
	prior := testSettings
	prior.TwoSignal.MinFollowers = 1_000_000
	require.NoError(t, h.store.Save(context.Background(), "target", audit.ProgressRecord{
		Settings:        prior,
		AnalyzedHandles: []string{"a"},
	}))

	_, err := h.run(t, context.Background(), StartOptions{Fresh: true})
	require.NoError(t, err)
	rec, _ := h.saved(t)
	require.Equal(t, testSettings.TwoSignal, rec.Settings.TwoSignal)
	require.Equal(t, []string{"a"}, handles(rec.SuspiciousItems))
}

func TestRunPaginationFailureKeepsPreviousRecord(t *testing.T) {
	t.Parallel()

	p := newFakePlatform(clean("a"), clean("b"), clean("c"))
	p.perPage = 2
	p.failPage = 3
	p.pageErr = &audit.HTTPError{URL: "https://platform.test/graphql", Status: 500}
	h := newHarness(t, p)
	require.NoError(t, h.store.Save(context.Background(), "target", audit.ProgressRecord{
		TargetHandle:    "target",
		Settings:        testSettings,
		AnalyzedHandles: []string{"a"},
		AnalyzedCount:   1,
	}))
	before, found, err := h.kv.Get(context.Background(), h.store.Key("target"))
	require.NoError(t, err)
	require.True(t, found)

	s, err := h.run(t, context.Background(), StartOptions{})
	var httpErr *audit.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, control.Failed, s.Machine().State())
	require.Equal(t, 3, p.pageCalls)
	require.Empty(t, p.calls())

	after, found, err := h.kv.Get(context.Background(), h.store.Key("target"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, before, after)
	require.Equal(t, 1, h.events.count(progress.StageSessionError))
	require.Zero(t, h.events.count(progress.StageSessionDone))
}

// failingStore loads normally but refuses to save.
type failingStore struct {
	*store.ProgressStore
	err error
}

func (f failingStore) Save(context.Context, string, audit.ProgressRecord) error {
	return f.err
}

func TestRunSaveFailureReportsFailedState(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newFakePlatform(clean("a")))
	orch, err := New(Config{
		Platform:  h.platform,
		Store:     failingStore{ProgressStore: h.store, err: errors.New("disk full")},
		Clock:     h.clock,
		Emitter:   h.events,
		Publisher: h.pub,
		Topic:     "audits",
	})
	require.NoError(t, err)

	s := NewSession(uuid.Must(uuid.NewV7()), "target", testSettings, StartOptions{})
	err = orch.Run(context.Background(), s)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, control.Failed, s.Machine().State())
	require.Equal(t, "failed", s.Status().State)
	require.Equal(t, "save progress: disk full", s.Status().Error)

	stages := h.events.stages()
	require.Equal(t, progress.StageSessionError, stages[len(stages)-1])
	require.Contains(t, string(h.pub.Messages()[0].Data), `"state":"failed"`)
}

func TestRunAnalyzedCountIncludesEarlierRuns(t *testing.T) {
	t.Parallel()

	// "gone" unfollowed since the last run; it stays in the analyzed set.
	h := newHarness(t, newFakePlatform(clean("a"), clean("b")))
	require.NoError(t, h.store.Save(context.Background(), "target", audit.ProgressRecord{
		AnalyzedHandles: []string{"a", "gone"},
		AnalyzedCount:   2,
	}))

	_, err := h.run(t, context.Background(), StartOptions{})
	require.NoError(t, err)
	rec, _ := h.saved(t)
	require.Equal(t, []string{"a", "gone", "b"}, rec.AnalyzedHandles)
	require.Equal(t, len(rec.AnalyzedHandles), rec.AnalyzedCount)
	require.Equal(t, int64(2), rec.TotalFollowerCount)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	clk := fake.New(time.Unix(0, 0))
	ps, err := store.New(kvmemory.New(), "")
	require.NoError(t, err)

	_, err = New(Config{Store: ps, Clock: clk})
	require.Error(t, err)
	_, err = New(Config{Platform: newFakePlatform(), Clock: clk})
	require.Error(t, err)
	_, err = New(Config{Platform: newFakePlatform(), Store: ps})
	require.Error(t, err)
}
