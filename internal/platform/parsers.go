package platform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

type countNode struct {
	Count *int64 `json:"count"`
}

type profileUser struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	FullName         string    `json:"full_name"`
	Biography        string    `json:"biography"`
	ProfilePicURL    string    `json:"profile_pic_url"`
	AnonymousPicture bool      `json:"has_anonymous_profile_picture"`
	Media            countNode `json:"edge_owner_to_timeline_media"`
	FollowedBy       countNode `json:"edge_followed_by"`
	Follow           countNode `json:"edge_follow"`
	MediaCount       *int64    `json:"media_count"`
	FollowerCount    *int64    `json:"follower_count"`
	FollowingCount   *int64    `json:"following_count"`
	CreatedAt        flexTime  `json:"created_at"`
}

type profileEnvelope struct {
	Data struct {
		User *profileUser `json:"user"`
	} `json:"data"`
}

func parseProfile(body []byte) (profileUser, error) {
	var env profileEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return profileUser{}, fmt.Errorf("%w: %v", audit.ErrMalformedResponse, err)
	}
	if env.Data.User == nil {
		return profileUser{}, audit.ErrUserNotFound
	}
	return *env.Data.User, nil
}

// detail maps the profile payload onto a FollowerDetail. GraphQL edge counts
// win over the flat legacy counters when both are present.
func (u profileUser) detail(requested string) (audit.FollowerDetail, error) {
	handle := u.Username
	if handle == "" {
		handle = requested
	}
	posts, ok := firstCount(u.Media.Count, u.MediaCount)
	if !ok {
		return audit.FollowerDetail{}, fmt.Errorf("%w: %q has no post count", audit.ErrMalformedResponse, handle)
	}
	followers, ok := firstCount(u.FollowedBy.Count, u.FollowerCount)
	if !ok {
		return audit.FollowerDetail{}, fmt.Errorf("%w: %q has no follower count", audit.ErrMalformedResponse, handle)
	}
	following, ok := firstCount(u.Follow.Count, u.FollowingCount)
	if !ok {
		return audit.FollowerDetail{}, fmt.Errorf("%w: %q has no following count", audit.ErrMalformedResponse, handle)
	}
	return audit.FollowerDetail{
		Handle:         handle,
		FullName:       u.FullName,
		PostCount:      posts,
		FollowerCount:  followers,
		FollowingCount: following,
		HasAvatar:      u.ProfilePicURL != "" && !u.AnonymousPicture,
		HasBio:         strings.TrimSpace(u.Biography) != "",
		CreatedAt:      u.CreatedAt.Time,
	}, nil
}

func firstCount(values ...*int64) (int64, bool) {
	for _, v := range values {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

type pageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

type edgeList struct {
	Count    int64    `json:"count"`
	PageInfo pageInfo `json:"page_info"`
	Edges    []struct {
		Node struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"node"`
	} `json:"edges"`
}

type pageEnvelope struct {
	Data struct {
		User *struct {
			FollowedBy *edgeList `json:"edge_followed_by"`
			Follow     *edgeList `json:"edge_follow"`
		} `json:"user"`
	} `json:"data"`
}

func parsePage(body []byte, edge Edge) (audit.CursorPage, error) {
	var env pageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return audit.CursorPage{}, fmt.Errorf("%w: %v", audit.ErrMalformedResponse, err)
	}
	if env.Data.User == nil {
		return audit.CursorPage{}, audit.ErrUserNotFound
	}
	list := env.Data.User.FollowedBy
	if edge == EdgeFollowing {
		list = env.Data.User.Follow
	}
	if list == nil {
		return audit.CursorPage{}, fmt.Errorf("%w: missing %s edge", audit.ErrMalformedResponse, edge)
	}
	items := make([]audit.FollowerRef, 0, len(list.Edges))
	for _, e := range list.Edges {
		items = append(items, audit.FollowerRef{ID: e.Node.ID, Handle: e.Node.Username})
	}
	return audit.CursorPage{
		Items:      items,
		HasMore:    list.PageInfo.HasNextPage,
		NextCursor: list.PageInfo.EndCursor,
		TotalCount: list.Count,
	}, nil
}

// flexTime decodes unix seconds, unix milliseconds, numeric strings, or
// RFC 3339 timestamps. null and "" decode to the zero time.
type flexTime struct {
	time.Time
}

// Values above this are taken to be milliseconds (year 33658 in seconds).
const millisThreshold = 1e12

func (t *flexTime) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode timestamp: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		raw = []byte(s)
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return fmt.Errorf("decode timestamp %q: %w", raw, err)
	}
	if n >= millisThreshold {
		t.Time = time.UnixMilli(int64(n)).UTC()
		return nil
	}
	t.Time = time.Unix(int64(n), 0).UTC()
	return nil
}
