package discovery

import (
	"strings"
	"time"
)

// Creator is the unified, deduplicated record held in a job's result bucket.
// Field semantics vary by platform; RankScore is the platform's primary
// ranking metric (set at the provider normalization boundary) and is the only
// metric the merge engine compares across observations.
type Creator struct {
	Platform    string `json:"platform"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
	Bio         string `json:"bio,omitempty"`

	FollowerCount  int64   `json:"follower_count"`
	EngagementRate float64 `json:"engagement_rate,omitempty"`
	ViewCount      int64   `json:"view_count,omitempty"`
	LikeCount      int64   `json:"like_count,omitempty"`
	CommentCount   int64   `json:"comment_count,omitempty"`
	ShareCount     int64   `json:"share_count,omitempty"`
	RankScore      int64   `json:"rank_score"`

	Emails []string `json:"emails,omitempty"`

	// Provenance
	SourceKeyword string    `json:"source_keyword,omitempty"`
	FetchedAt     time.Time `json:"fetched_at"`

	// Set only for entries without a usable handle, so they still get a
	// unique identity instead of being collapsed or dropped.
	SyntheticKey string `json:"synthetic_key,omitempty"`
}

// DedupKey returns the lower-cased (platform, handle) identity, or the
// synthetic key for handle-less entries.
func (c Creator) DedupKey() string {
	if strings.TrimSpace(c.Handle) == "" {
		return "synthetic|" + c.SyntheticKey
	}
	return strings.ToLower(c.Platform) + "|" + strings.ToLower(strings.TrimSpace(c.Handle))
}

// Result is the single accumulating bucket of deduplicated creators for one job.
type Result struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID         string    `gorm:"size:26;uniqueIndex;not null" json:"job_id"`
	Creators      []Creator `gorm:"type:text;serializer:json" json:"creators"`
	TotalCreators int       `gorm:"not null;default:0" json:"total_creators"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Result) TableName() string { return "scraping_results" }
