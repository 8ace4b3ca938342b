package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/clock/fake"
)

const testURL = "https://platform.test/api"

type step struct {
	status int
	body   string
	err    error
}

type scriptedTransport struct {
	mu    sync.Mutex
	steps []step
	calls []Request
}

func (s *scriptedTransport) Do(_ context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.steps) == 0 {
		return Response{}, errors.New("script exhausted")
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	if next.err != nil {
		return Response{}, next.err
	}
	return Response{Status: next.status, Body: []byte(next.body)}, nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type countingWaiter struct {
	calls int
}

func (w *countingWaiter) Wait(context.Context, string) error {
	w.calls++
	return nil
}

func newTestFetcher(t *testing.T, tr Transport) (*Fetcher, *fake.Clock) {
	t.Helper()
	clk := fake.New(time.Unix(0, 0))
	f, err := New(tr, clk, Config{})
	require.NoError(t, err)
	return f, clk
}

func TestFetchReturnsFirstSuccess(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{steps: []step{{status: http.StatusOK, body: "ok"}}}
	f, clk := newTestFetcher(t, tr)

	body, err := f.Fetch(context.Background(), testURL, map[string]string{"X-IG-App-ID": "1"})
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))
	require.Equal(t, 1, tr.Calls())
	require.Empty(t, clk.Sleeps())
	require.Equal(t, "1", tr.calls[0].Headers["X-IG-App-ID"])
}

func TestFetchSucceedsOnSecondAttemptAfterFixedDelay(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{steps: []step{
		{err: errors.New("connection reset")},
		{status: http.StatusOK, body: "second"},
	}}
	f, clk := newTestFetcher(t, tr)

	body, err := f.Fetch(context.Background(), testURL, nil)
	require.NoError(t, err)
	require.Equal(t, "second", string(body))
	require.Equal(t, 2, tr.Calls())
	require.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
}

func TestFetchRateLimitedEveryAttempt(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{steps: []step{
		{status: http.StatusTooManyRequests},
		{status: http.StatusTooManyRequests},
		{status: http.StatusTooManyRequests},
	}}
	f, clk := newTestFetcher(t, tr)

	body, err := f.Fetch(context.Background(), testURL, nil)
	require.Nil(t, body)
	require.ErrorIs(t, err, audit.ErrRateLimitExhausted)
	require.Equal(t, 3, tr.Calls())
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, clk.Sleeps())
	require.Equal(t, 30*time.Second, clk.TotalSlept())
}

func TestFetchHTTPErrorIsRetriedLikeNetworkError(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{steps: []step{
		{status: http.StatusInternalServerError},
		{status: http.StatusBadGateway},
		{status: http.StatusNotFound},
	}}
	f, clk := newTestFetcher(t, tr)

	_, err := f.Fetch(context.Background(), testURL, nil)
	var httpErr *audit.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.Status)
	require.Equal(t, 3, tr.Calls())
	require.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clk.Sleeps())
}

func TestFetchNetworkErrorOnLastAttemptPropagates(t *testing.T) {
	t.Parallel()

	dial := errors.New("dial tcp: no such host")
	tr := &scriptedTransport{steps: []step{{err: dial}, {err: dial}, {err: dial}}}
	f, _ := newTestFetcher(t, tr)

	_, err := f.Fetch(context.Background(), testURL, nil)
	var netErr *audit.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.ErrorIs(t, err, dial)
	require.Equal(t, testURL, netErr.URL)
}

func TestFetchRateLimitThenFailureOnLastAttempt(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{steps: []step{
		{status: http.StatusTooManyRequests},
		{status: http.StatusTooManyRequests},
		{status: http.StatusServiceUnavailable},
	}}
	f, clk := newTestFetcher(t, tr)

	_, err := f.Fetch(context.Background(), testURL, nil)
	var httpErr *audit.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, clk.Sleeps())
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &scriptedTransport{steps: []step{{err: context.Canceled}}}
	f, clk := newTestFetcher(t, tr)

	_, err := f.Fetch(ctx, testURL, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, audit.IsItemError(err))
	require.Empty(t, clk.Sleeps())
}

func TestFetchWaitsOnLimiterEachAttempt(t *testing.T) {
	t.Parallel()

	tr := &scriptedTransport{steps: []step{
		{status: http.StatusTooManyRequests},
		{status: http.StatusOK},
	}}
	waiter := &countingWaiter{}
	f, err := New(tr, fake.New(time.Unix(0, 0)), Config{Limiter: waiter})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), testURL, nil)
	require.NoError(t, err)
	require.Equal(t, 2, waiter.calls)
}

func TestNewValidatesCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, fake.New(time.Unix(0, 0)), Config{})
	require.Error(t, err)
	_, err = New(&scriptedTransport{}, nil, Config{})
	require.Error(t, err)

	f, err := New(&scriptedTransport{}, fake.New(time.Unix(0, 0)), Config{})
	require.NoError(t, err)
	require.Equal(t, DefaultRetryPolicy(), f.policy)
}
