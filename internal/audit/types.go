// Package audit defines the shared domain types, collaborator interfaces, and
// error taxonomy used by the follower audit pipeline.
package audit

import (
	"context"
	"time"
)

// FollowerRef identifies one follower as returned by the listing endpoint.
// Order is server-defined and preserved by the collector.
type FollowerRef struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
}

// FollowerDetail is the per-account record fetched from the detail endpoint.
type FollowerDetail struct {
	Handle         string    `json:"username"`
	FullName       string    `json:"full_name,omitempty"`
	PostCount      int64     `json:"posts"`
	FollowerCount  int64     `json:"followers"`
	FollowingCount int64     `json:"following"`
	HasAvatar      bool      `json:"has_avatar"`
	HasBio         bool      `json:"has_bio"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

// Reason tags the signal that flagged an account.
type Reason string

// Reasons emitted by the classification policies.
const (
	ReasonRatio                 Reason = "ratio"
	ReasonPostsPerMonth         Reason = "posts_per_month"
	ReasonEngagement            Reason = "engagement"
	ReasonAccountAge            Reason = "account_age"
	ReasonNoAvatar              Reason = "no_avatar"
	ReasonNoBio                 Reason = "no_bio"
	ReasonLowPostsHighFollowers Reason = "low_posts_high_followers"
)

// Metrics are the derived figures a classifier computed for one account.
// Fields a policy does not evaluate stay zero.
type Metrics struct {
	Ratio          float64 `json:"ratio"`
	PostsPerMonth  float64 `json:"posts_per_month"`
	EngagementRate float64 `json:"engagement_rate"`
	AccountAgeDays int64   `json:"account_age_days"`
}

// Verdict is the outcome of classifying one FollowerDetail.
type Verdict struct {
	Suspicious bool
	Reasons    []Reason
	Metrics    Metrics
}

// FlaggedFollower is a suspicious account together with the verdict that
// flagged it.
type FlaggedFollower struct {
	FollowerDetail
	Reasons []Reason `json:"reasons"`
	Metrics Metrics  `json:"metrics"`
}

// CursorPage is one page of the listing endpoint.
type CursorPage struct {
	Items      []FollowerRef
	HasMore    bool
	NextCursor string
	TotalCount int64
}

// PolicyName selects a classification strategy.
type PolicyName string

// Supported classification policies.
const (
	PolicyFiveSignalOr PolicyName = "five_signal_or"
	PolicyTwoSignalAnd PolicyName = "two_signal_and"
)

// FiveSignalSettings are the thresholds of the OR-of-signals policy.
type FiveSignalSettings struct {
	FollowersFollowingRatio float64 `json:"followers_following_ratio" mapstructure:"followers_following_ratio"`
	MinPostsPerMonth        float64 `json:"min_posts_per_month" mapstructure:"min_posts_per_month"`
	MinEngagementRate       float64 `json:"min_engagement_rate" mapstructure:"min_engagement_rate"`
	MinAccountAgeDays       int64   `json:"min_account_age_days" mapstructure:"min_account_age_days"`
	RequireProfilePic       bool    `json:"require_profile_pic" mapstructure:"require_profile_pic"`
	RequireBio              bool    `json:"require_bio" mapstructure:"require_bio"`
}

// TwoSignalSettings are the thresholds of the AND-of-two-signals policy.
type TwoSignalSettings struct {
	MaxPosts     int64 `json:"max_posts" mapstructure:"max_posts"`
	MinFollowers int64 `json:"min_followers" mapstructure:"min_followers"`
}

// Settings is the configuration snapshot a session runs with. It is persisted
// alongside the progress record so a resumed session can report what it used.
type Settings struct {
	Policy       PolicyName         `json:"policy"`
	FiveSignal   FiveSignalSettings `json:"five_signal"`
	TwoSignal    TwoSignalSettings  `json:"two_signal"`
	PageSize     int                `json:"page_size"`
	ItemCooldown time.Duration      `json:"item_cooldown"`
	PageDelay    time.Duration      `json:"page_delay"`
}

// RecordStatus records how the run that last saved a record ended.
type RecordStatus string

// Record statuses.
const (
	RecordCompleted RecordStatus = "completed"
	RecordStopped   RecordStatus = "stopped"
)

// ProgressRecord is the persisted snapshot of one target's audit.
type ProgressRecord struct {
	TargetHandle       string            `json:"target_handle"`
	SessionID          string            `json:"session_id,omitempty"`
	Status             RecordStatus      `json:"status,omitempty"`
	Settings           Settings          `json:"settings"`
	AnalyzedHandles    []string          `json:"analyzed_handles"`
	SuspiciousItems    []FlaggedFollower `json:"suspicious_items"`
	TotalFollowerCount int64             `json:"total_follower_count"`
	AnalyzedCount      int               `json:"analyzed_count"`
	LastUpdate         time.Time         `json:"last_update"`
}

// SuspiciousPercent is the share of analyzed accounts that were flagged,
// rounded to one decimal. Zero when nothing was analyzed.
func (r ProgressRecord) SuspiciousPercent() float64 {
	if r.AnalyzedCount == 0 {
		return 0
	}
	return RoundPercent(float64(len(r.SuspiciousItems)) / float64(r.AnalyzedCount))
}

// RoundPercent converts a fraction into a percentage with one decimal.
func RoundPercent(fraction float64) float64 {
	return float64(int64(fraction*1000+0.5)) / 10
}

// Fetcher retrieves a URL body applying the retry policy.
type Fetcher interface {
	Fetch(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

// Clock abstracts time so waits and timestamps are testable.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// KeyValue is the string key-value persistence collaborator.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// KeyLister is implemented by backends that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Publisher delivers session summaries to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
