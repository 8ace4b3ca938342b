package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func defaultFive() audit.FiveSignalSettings {
	return audit.FiveSignalSettings{
		FollowersFollowingRatio: 2.0,
		MinPostsPerMonth:        2,
		MinEngagementRate:       0.01,
		MinAccountAgeDays:       30,
		RequireProfilePic:       true,
		RequireBio:              true,
	}
}

func canonical() audit.FollowerDetail {
	return audit.FollowerDetail{
		Handle:         "alice",
		PostCount:      30,
		FollowerCount:  100,
		FollowingCount: 10,
		HasAvatar:      true,
		HasBio:         true,
		CreatedAt:      now.Add(-200 * day),
	}
}

func TestFiveSignalOrCanonicalRecord(t *testing.T) {
	t.Parallel()

	v, err := FiveSignalOr{Settings: defaultFive()}.Classify(canonical(), now)
	require.NoError(t, err)
	require.False(t, v.Suspicious)
	require.Empty(t, v.Reasons)
	require.InDelta(t, 10.0, v.Metrics.Ratio, 1e-9)
	require.InDelta(t, 4.5, v.Metrics.PostsPerMonth, 1e-9)
	require.InDelta(t, 30.0, v.Metrics.EngagementRate, 1e-9)
	require.Equal(t, int64(200), v.Metrics.AccountAgeDays)
}

func TestFiveSignalOrReasonsInOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*audit.FollowerDetail)
		want   audit.Reason
	}{
		{"ratio", func(d *audit.FollowerDetail) { d.FollowingCount = 200 }, audit.ReasonRatio},
		{"ratio wins over no bio", func(d *audit.FollowerDetail) { d.FollowingCount = 200; d.HasBio = false }, audit.ReasonRatio},
		{"posts per month", func(d *audit.FollowerDetail) { d.PostCount = 10 }, audit.ReasonPostsPerMonth},
		{"no followers fails ratio first", func(d *audit.FollowerDetail) {
			d.FollowerCount = 0
			d.FollowingCount = 0
		}, audit.ReasonRatio},
		{"account age", func(d *audit.FollowerDetail) {
			d.CreatedAt = now.Add(-20 * day)
			d.PostCount = 2
		}, audit.ReasonAccountAge},
		{"no avatar", func(d *audit.FollowerDetail) { d.HasAvatar = false }, audit.ReasonNoAvatar},
		{"no bio", func(d *audit.FollowerDetail) { d.HasBio = false }, audit.ReasonNoBio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := canonical()
			tt.mutate(&d)
			v, err := FiveSignalOr{Settings: defaultFive()}.Classify(d, now)
			require.NoError(t, err)
			require.True(t, v.Suspicious)
			require.Equal(t, []audit.Reason{tt.want}, v.Reasons)
		})
	}
}

func TestFiveSignalOrEngagementFailsWithoutFollowers(t *testing.T) {
	t.Parallel()

	s := defaultFive()
	s.FollowersFollowingRatio = 0
	d := canonical()
	d.FollowerCount = 0
	v, err := FiveSignalOr{Settings: s}.Classify(d, now)
	require.NoError(t, err)
	require.Equal(t, []audit.Reason{audit.ReasonEngagement}, v.Reasons)
	require.Zero(t, v.Metrics.EngagementRate)
}

func TestFiveSignalOrOptionalProfileChecks(t *testing.T) {
	t.Parallel()

	s := defaultFive()
	s.RequireBio = false
	s.RequireProfilePic = false
	d := canonical()
	d.HasAvatar = false
	d.HasBio = false
	v, err := FiveSignalOr{Settings: s}.Classify(d, now)
	require.NoError(t, err)
	require.False(t, v.Suspicious)
}

func TestFiveSignalOrRequiresCreatedAt(t *testing.T) {
	t.Parallel()

	d := canonical()
	d.CreatedAt = time.Time{}
	_, err := FiveSignalOr{Settings: defaultFive()}.Classify(d, now)
	var inputErr *audit.ClassificationInputError
	require.ErrorAs(t, err, &inputErr)
	require.Equal(t, "created_at", inputErr.Field)
	require.True(t, audit.IsItemError(err))
}

func TestMeasureBrandNewAccount(t *testing.T) {
	t.Parallel()

	d := canonical()
	d.CreatedAt = now.Add(-time.Hour)
	m := Measure(d, now)
	require.Zero(t, m.AccountAgeDays)
	require.InDelta(t, 900.0, m.PostsPerMonth, 1e-9)
}

func TestTwoSignalAnd(t *testing.T) {
	t.Parallel()

	p := TwoSignalAnd{Settings: audit.TwoSignalSettings{MaxPosts: 3, MinFollowers: 1000}}

	d := audit.FollowerDetail{Handle: "bot", PostCount: 1, FollowerCount: 5000}
	v, err := p.Classify(d, now)
	require.NoError(t, err)
	require.True(t, v.Suspicious)
	require.Equal(t, []audit.Reason{audit.ReasonLowPostsHighFollowers}, v.Reasons)

	d.PostCount = 4
	v, err = p.Classify(d, now)
	require.NoError(t, err)
	require.False(t, v.Suspicious)

	d.PostCount = 3
	d.FollowerCount = 1000
	v, err = p.Classify(d, now)
	require.NoError(t, err)
	require.False(t, v.Suspicious)
}

func TestNewSelectsPolicy(t *testing.T) {
	t.Parallel()

	c, err := New(audit.Settings{})
	require.NoError(t, err)
	require.IsType(t, FiveSignalOr{}, c)

	c, err = New(audit.Settings{Policy: audit.PolicyTwoSignalAnd})
	require.NoError(t, err)
	require.IsType(t, TwoSignalAnd{}, c)

	_, err = New(audit.Settings{Policy: "both"})
	require.Error(t, err)
}
