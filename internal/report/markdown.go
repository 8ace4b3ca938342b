package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

// maxRows caps the flagged-account table; the CSV export has every row.
const maxRows = 200

// Markdown writes a session report for record to w.
func Markdown(w io.Writer, record audit.ProgressRecord) error {
	md := markdown.NewMarkdown(w)

	md.H1("Follower audit: @" + record.TargetHandle)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Target", "`" + record.TargetHandle + "`"},
			{"Status", statusText(record.Status)},
			{"Policy", policyName(record.Settings.Policy)},
			{"Last update", formatTime(record.LastUpdate)},
			{"Followers", strconv.FormatInt(record.TotalFollowerCount, 10)},
			{"Analyzed", strconv.Itoa(record.AnalyzedCount)},
			{"Suspicious", strconv.Itoa(len(record.SuspiciousItems))},
			{"Suspicious share", strconv.FormatFloat(record.SuspiciousPercent(), 'f', 1, 64) + "%"},
		},
	})
	md.PlainText("")

	switch {
	case record.Status == audit.RecordStopped:
		md.Note(fmt.Sprintf("Audit was stopped after %d of %d followers; resume to finish.",
			record.AnalyzedCount, record.TotalFollowerCount))
		md.PlainText("")
	case len(record.SuspiciousItems) == 0:
		md.Tip("No suspicious followers found.")
		md.PlainText("")
		return md.Build()
	}

	writeReasons(md, record.SuspiciousItems)
	writeFlagged(md, record.SuspiciousItems)
	return md.Build()
}

func writeReasons(md *markdown.Markdown, items []audit.FlaggedFollower) {
	counts := map[audit.Reason]int{}
	var order []audit.Reason
	for _, item := range items {
		for _, r := range item.Reasons {
			if counts[r] == 0 {
				order = append(order, r)
			}
			counts[r]++
		}
	}
	if len(order) == 0 {
		return
	}
	rows := make([][]string, 0, len(order))
	for _, r := range order {
		rows = append(rows, []string{string(r), strconv.Itoa(counts[r])})
	}
	md.H2("Reasons")
	md.PlainText("")
	md.Table(markdown.TableSet{Header: []string{"Reason", "Accounts"}, Rows: rows})
	md.PlainText("")
}

func writeFlagged(md *markdown.Markdown, items []audit.FlaggedFollower) {
	md.H2("Suspicious followers")
	md.PlainText("")
	shown := items
	if len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	rows := make([][]string, 0, len(shown))
	for _, f := range shown {
		reasons := make([]string, len(f.Reasons))
		for i, r := range f.Reasons {
			reasons[i] = string(r)
		}
		rows = append(rows, []string{
			"@" + f.Handle,
			strconv.FormatInt(f.PostCount, 10),
			strconv.FormatInt(f.FollowerCount, 10),
			strconv.FormatInt(f.FollowingCount, 10),
			strings.Join(reasons, ", "),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Account", "Posts", "Followers", "Following", "Reasons"},
		Rows:   rows,
	})
	md.PlainText("")
	if len(items) > maxRows {
		md.PlainTextf("%d more accounts omitted; use `followeraudit export` for the full list.", len(items)-maxRows)
	}
}

func statusText(s audit.RecordStatus) string {
	switch s {
	case audit.RecordCompleted:
		return "Completed"
	case audit.RecordStopped:
		return "Stopped (partial)"
	default:
		return "Unknown"
	}
}

func policyName(p audit.PolicyName) string {
	if p == "" {
		return string(audit.PolicyFiveSignalOr)
	}
	return string(p)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}
