package provider

import (
	"context"
	"time"
)

// PageRequest asks a platform provider for one page of candidates. Cursor is
// the opaque token returned by the previous page ("" for the first page).
type PageRequest struct {
	Platform string
	Keywords []string
	Handle   string
	Cursor   string
	PageSize int
	Settings map[string]any
}

// Candidate is the single canonical shape the merge engine sees. Each adapter
// normalizes its raw provider payload into this at the boundary, so no
// downstream code probes provider-specific nested objects.
type Candidate struct {
	Platform    string
	Handle      string
	DisplayName string
	Bio         string

	FollowerCount  int64
	EngagementRate float64
	ViewCount      int64
	LikeCount      int64
	CommentCount   int64
	ShareCount     int64

	// RankScore is the platform's primary ranking metric: the merge engine
	// keeps the observation with the higher score on a dedup collision.
	RankScore int64

	// Email-bearing fields the extraction pass is allowed to inspect.
	Email           string
	ContactEmail    string
	EnrichmentEmail string

	SourceKeyword string
	FetchedAt     time.Time
}

// Page is one bounded unit of provider output.
type Page struct {
	Candidates []Candidate
	NextCursor string
	HasMore    bool

	// Done signals explicit terminal success: the provider considers the
	// search finished regardless of remaining pages.
	Done bool

	// Failed signals terminal failure. It takes precedence over HasMore ==
	// false: a failed run must never be promoted to completed just because
	// no pages remain.
	Failed     bool
	FailReason string
}

// Provider fetches one page of raw candidates for a cursor. Transient fetch
// errors are returned as error (the same cursor is retried); terminal
// conditions travel inside Page.
type Provider interface {
	FetchPage(ctx context.Context, req PageRequest) (*Page, error)
}
