package orchestrator

import (
	"strconv"
	"time"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

// Summary is published when a session ends.
type Summary struct {
	SessionID         string    `json:"session_id"`
	Target            string    `json:"target"`
	State             string    `json:"state"`
	Policy            string    `json:"policy"`
	TotalFollowers    int64     `json:"total_followers"`
	Analyzed          int       `json:"analyzed"`
	Suspicious        int       `json:"suspicious"`
	SuspiciousPercent float64   `json:"suspicious_percent"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	Error             string    `json:"error,omitempty"`
}

// Attributes are attached to broker messages for subscription filtering.
func (s Summary) Attributes() map[string]string {
	return map[string]string{
		"target":     s.Target,
		"state":      s.State,
		"suspicious": strconv.Itoa(s.Suspicious),
	}
}

func newSummary(s *Session, record audit.ProgressRecord, state string, finishedAt time.Time, err error) Summary {
	st := s.Status()
	sum := Summary{
		SessionID:         s.ID.String(),
		Target:            s.Target,
		State:             state,
		Policy:            string(s.Settings.Policy),
		TotalFollowers:    record.TotalFollowerCount,
		Analyzed:          record.AnalyzedCount,
		Suspicious:        len(record.SuspiciousItems),
		SuspiciousPercent: record.SuspiciousPercent(),
		StartedAt:         st.StartedAt,
		FinishedAt:        finishedAt,
	}
	if sum.Policy == "" {
		sum.Policy = string(audit.PolicyFiveSignalOr)
	}
	if err != nil {
		sum.Error = err.Error()
		sum.TotalFollowers = st.Total
		sum.Analyzed = st.Analyzed
		sum.Suspicious = st.Suspicious
	}
	return sum
}
