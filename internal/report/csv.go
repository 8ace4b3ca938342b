// Package report renders audit results: the CSV export of flagged followers
// and a Markdown session report.
package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

var (
	basicHeader    = []string{"username", "posts", "followers"}
	extendedHeader = []string{
		"username", "posts", "followers", "following",
		"ratio", "engagement_rate", "account_age_days", "reasons",
	}
)

// CSV renders flagged followers as "username,posts,followers" rows. Rows are
// newline separated with no trailing newline and no quoting; handles never
// contain commas.
func CSV(items []audit.FlaggedFollower) string {
	return render(basicHeader, items, func(f audit.FlaggedFollower) []string {
		return []string{
			f.Handle,
			strconv.FormatInt(f.PostCount, 10),
			strconv.FormatInt(f.FollowerCount, 10),
		}
	})
}

// ExtendedCSV adds the following count, derived metrics, and the flag
// reasons joined with "|".
func ExtendedCSV(items []audit.FlaggedFollower) string {
	return render(extendedHeader, items, func(f audit.FlaggedFollower) []string {
		reasons := make([]string, len(f.Reasons))
		for i, r := range f.Reasons {
			reasons[i] = string(r)
		}
		return []string{
			f.Handle,
			strconv.FormatInt(f.PostCount, 10),
			strconv.FormatInt(f.FollowerCount, 10),
			strconv.FormatInt(f.FollowingCount, 10),
			strconv.FormatFloat(f.Metrics.Ratio, 'f', 2, 64),
			strconv.FormatFloat(f.Metrics.EngagementRate, 'f', 4, 64),
			strconv.FormatInt(f.Metrics.AccountAgeDays, 10),
			strings.Join(reasons, "|"),
		}
	})
}

func render(header []string, items []audit.FlaggedFollower, row func(audit.FlaggedFollower) []string) string {
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, strings.Join(header, ","))
	for _, item := range items {
		lines = append(lines, strings.Join(row(item), ","))
	}
	return strings.Join(lines, "\n")
}

// FileName is the default export file name for target on day.
func FileName(target string, day time.Time) string {
	return "suspicious_" + target + "_" + day.UTC().Format(time.DateOnly) + ".csv"
}
