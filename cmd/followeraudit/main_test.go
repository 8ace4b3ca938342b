package main

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/app"
	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/clock/fake"
	"github.com/JakeFAU/follower-audit/internal/config"
	"github.com/JakeFAU/follower-audit/internal/fetcher"
	"github.com/JakeFAU/follower-audit/internal/progress"
	"github.com/JakeFAU/follower-audit/internal/progress/sinks"
)

var profiles = map[string]string{
	"brand": `{"data":{"user":{"id":"7","username":"brand","edge_owner_to_timeline_media":{"count":10},
		"edge_followed_by":{"count":2},"edge_follow":{"count":1}}}}`,
	"real": `{"data":{"user":{"id":"1","username":"real","biography":"hi","profile_pic_url":"https://cdn.test/r.jpg",
		"edge_owner_to_timeline_media":{"count":300},"edge_followed_by":{"count":500},"edge_follow":{"count":100},
		"created_at":1577836800}}}`,
	"bot1": `{"data":{"user":{"id":"2","username":"bot1","biography":"","profile_pic_url":"https://cdn.test/b.jpg",
		"edge_owner_to_timeline_media":{"count":0},"edge_followed_by":{"count":2},"edge_follow":{"count":900},
		"created_at":1577836800}}}`,
}

const followersPage = `{"data":{"user":{"edge_followed_by":{"count":2,"page_info":{"has_next_page":false},
	"edges":[{"node":{"id":"1","username":"real"}},{"node":{"id":"2","username":"bot1"}}]}}}}`

type stubTransport struct{}

func (stubTransport) Do(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return fetcher.Response{}, err
	}
	if strings.Contains(u.Path, "graphql") {
		return fetcher.Response{Status: 200, Body: []byte(followersPage)}, nil
	}
	body, ok := profiles[u.Query().Get("username")]
	if !ok {
		return fetcher.Response{Status: 404}, nil
	}
	return fetcher.Response{Status: 200, Body: []byte(body)}, nil
}

// useStubApp swaps the app factory for one that never touches the network.
// Tests that call it must not run in parallel.
func useStubApp(t *testing.T) {
	t.Helper()
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(ctx context.Context, cfg config.Config, opts app.Options) (*app.App, error) {
		opts.Transport = stubTransport{}
		opts.Clock = fake.New(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
		opts.Registerer = prometheus.NewRegistry()
		return orig(ctx, cfg, opts)
	}
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  backend: bolt\n  bolt:\n    path: " + dir + "\n" +
		"progress:\n  max_batch_wait: 10ms\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestAuditThenManageResults(t *testing.T) {
	useStubApp(t)
	cfg := writeConfig(t)

	out, _, err := run(t, "--config", cfg, "audit", "@Brand")
	require.NoError(t, err)
	require.Contains(t, out, "audit of @brand complete: 2 analyzed, 1 suspicious (50.0%)")

	out, _, err = run(t, "--config", cfg, "list")
	require.NoError(t, err)
	require.Equal(t, "brand\tcompleted\t2 analyzed\t1 suspicious\n", out)

	out, _, err = run(t, "--config", cfg, "export", "brand")
	require.NoError(t, err)
	require.Equal(t, "username,posts,followers\nbot1,0,2\n", out)

	dest := filepath.Join(t.TempDir(), "out.csv")
	_, _, err = run(t, "--config", cfg, "export", "brand", "--extended", "--out", dest)
	require.NoError(t, err)
	written, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(written), "username,"))
	require.Contains(t, string(written), "bot1")

	out, _, err = run(t, "--config", cfg, "show", "brand")
	require.NoError(t, err)
	require.Contains(t, out, "# Follower audit: @brand")

	// A second run resumes and has nothing left to fetch.
	out, _, err = run(t, "--config", cfg, "audit", "brand")
	require.NoError(t, err)
	require.Contains(t, out, "resuming @brand: 2 followers already analyzed, 1 flagged")

	out, _, err = run(t, "--config", cfg, "clear", "brand")
	require.NoError(t, err)
	require.Contains(t, out, "cleared saved progress for @brand")

	_, _, err = run(t, "--config", cfg, "export", "brand")
	require.ErrorIs(t, err, audit.ErrNoResults)
}

func TestAuditRejectsUnknownPolicy(t *testing.T) {
	useStubApp(t)

	_, _, err := run(t, "--config", writeConfig(t), "audit", "brand", "--policy", "vibes")
	require.ErrorContains(t, err, "vibes")
}

func TestAuditFreshAndResumeAreExclusive(t *testing.T) {
	useStubApp(t)

	_, _, err := run(t, "--config", writeConfig(t), "audit", "brand", "--fresh", "--resume")
	require.Error(t, err)
}

func TestMissingConfigFileFails(t *testing.T) {
	_, _, err := run(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "list")
	require.ErrorContains(t, err, "load config")
}

func TestRenderSnapshot(t *testing.T) {
	t.Parallel()

	require.Equal(t, "collecting followers: 50/120 (41.7%)", renderSnapshot(sinks.Snapshot{
		Stage: progress.StageSessionStart, Collected: 50, Total: 120, CollectPercent: 41.7,
	}))
	require.Equal(t, "analyzed 3/10  skipped 1  failed 0  suspicious 2  last @x", renderSnapshot(sinks.Snapshot{
		Stage: progress.StageSessionResumed, Collected: 10, Analyzed: 2, Skipped: 1, Suspicious: 2, LastHandle: "x",
	}))
	require.Equal(t, "auditing @x (policy=five_signal_or)", renderSnapshot(sinks.Snapshot{
		Stage: progress.StageSessionStart, Target: "x", Note: "policy=five_signal_or",
	}))
	require.Empty(t, renderSnapshot(sinks.Snapshot{Stage: progress.StageSessionDone, Analyzed: 3}))
}
