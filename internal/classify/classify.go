// Package classify decides whether a follower looks like a fake or inactive
// account. Each policy is a Classifier; New picks one by name.
package classify

import (
	"fmt"
	"math"
	"time"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

// Classifier evaluates one detail record. now anchors the account age.
type Classifier interface {
	Classify(detail audit.FollowerDetail, now time.Time) (audit.Verdict, error)
}

// New returns the policy named in settings. An empty name selects
// FiveSignalOr.
func New(settings audit.Settings) (Classifier, error) {
	switch settings.Policy {
	case "", audit.PolicyFiveSignalOr:
		return FiveSignalOr{Settings: settings.FiveSignal}, nil
	case audit.PolicyTwoSignalAnd:
		return TwoSignalAnd{Settings: settings.TwoSignal}, nil
	default:
		return nil, fmt.Errorf("unknown classification policy %q", settings.Policy)
	}
}

// FiveSignalOr flags an account when any signal fails. Signals are checked in
// a fixed order and the first failure is the only reason recorded.
type FiveSignalOr struct {
	Settings audit.FiveSignalSettings
}

const day = 24 * time.Hour

// Classify implements Classifier.
func (p FiveSignalOr) Classify(d audit.FollowerDetail, now time.Time) (audit.Verdict, error) {
	if d.CreatedAt.IsZero() {
		return audit.Verdict{}, &audit.ClassificationInputError{Handle: d.Handle, Field: "created_at"}
	}
	m := Measure(d, now)
	s := p.Settings

	checks := []struct {
		failed bool
		reason audit.Reason
	}{
		{m.Ratio < s.FollowersFollowingRatio, audit.ReasonRatio},
		{m.PostsPerMonth < s.MinPostsPerMonth, audit.ReasonPostsPerMonth},
		{d.FollowerCount <= 0 || m.EngagementRate < s.MinEngagementRate, audit.ReasonEngagement},
		{m.AccountAgeDays < s.MinAccountAgeDays, audit.ReasonAccountAge},
		{s.RequireProfilePic && !d.HasAvatar, audit.ReasonNoAvatar},
		{s.RequireBio && !d.HasBio, audit.ReasonNoBio},
	}
	for _, c := range checks {
		if c.failed {
			return audit.Verdict{Suspicious: true, Reasons: []audit.Reason{c.reason}, Metrics: m}, nil
		}
	}
	return audit.Verdict{Metrics: m}, nil
}

// Measure derives the ratio, posting cadence, engagement, and age of an
// account. An account younger than one day counts as one day old for the
// posting cadence.
func Measure(d audit.FollowerDetail, now time.Time) audit.Metrics {
	m := audit.Metrics{
		Ratio: float64(d.FollowerCount) / float64(max(d.FollowingCount, 1)),
	}
	if d.FollowerCount > 0 {
		m.EngagementRate = float64(d.PostCount) * 100 / float64(d.FollowerCount)
	}
	if !d.CreatedAt.IsZero() {
		m.AccountAgeDays = int64(math.Floor(float64(now.Sub(d.CreatedAt)) / float64(day)))
		m.PostsPerMonth = float64(d.PostCount) / float64(max(m.AccountAgeDays, 1)) * 30
	}
	return m
}

// TwoSignalAnd flags accounts that post little yet have many followers.
type TwoSignalAnd struct {
	Settings audit.TwoSignalSettings
}

// Classify implements Classifier. CreatedAt is not required.
func (p TwoSignalAnd) Classify(d audit.FollowerDetail, now time.Time) (audit.Verdict, error) {
	v := audit.Verdict{Metrics: Measure(d, now)}
	if d.PostCount <= p.Settings.MaxPosts && d.FollowerCount > p.Settings.MinFollowers {
		v.Suspicious = true
		v.Reasons = []audit.Reason{audit.ReasonLowPostsHighFollowers}
	}
	return v, nil
}
