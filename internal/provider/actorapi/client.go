// Package actorapi fetches candidate creators from an actor-run scraping API
// (Apify-style): each page is one synchronous actor run returning dataset
// items, with the cursor encoding the dataset offset.
package actorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scoutline/discovery/internal/provider"
)

// Actor IDs per platform (provider-internal identifiers).
var actorIDs = map[string]string{
	"tiktok":    "clockworks~tiktok-scraper",
	"instagram": "apify~instagram-search-scraper",
	"youtube":   "streamers~youtube-scraper",
}

const defaultPageSize = 40

type Client struct {
	baseURL  string
	apiToken string
	platform string
	client   *http.Client
}

func New(baseURL, apiToken, platform string) (*Client, error) {
	if apiToken == "" {
		return nil, fmt.Errorf("actorapi: api token not set")
	}
	if _, ok := actorIDs[strings.ToLower(platform)]; !ok {
		return nil, fmt.Errorf("actorapi: no actor configured for platform %q", platform)
	}
	if baseURL == "" {
		baseURL = "https://api.apify.com/v2"
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		platform: strings.ToLower(platform),
		client:   &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

type runInput struct {
	SearchQueries []string `json:"searchQueries,omitempty"`
	Profiles      []string `json:"profiles,omitempty"`
	ResultsLimit  int      `json:"resultsLimit"`
	Offset        int      `json:"offset"`
}

// rawItem is the provider's item shape. Only the fields the normalization
// boundary consumes are declared; everything else is ignored.
type rawItem struct {
	UniqueID string `json:"uniqueId"`
	Username string `json:"username"`
	Handle   string `json:"handle"`
	Nickname string `json:"nickname"`
	FullName string `json:"fullName"`
	Bio      string `json:"signature"`
	Biograph string `json:"biography"`

	Email   string `json:"email"`
	Contact struct {
		Email string `json:"email"`
	} `json:"contact"`
	Creator struct {
		Email string `json:"email"`
	} `json:"creator"`
	Enrichment struct {
		Summary struct {
			Email string `json:"email"`
		} `json:"summary"`
	} `json:"enrichment"`

	Followers int64 `json:"followers"`
	FansCount int64 `json:"fans"`
	Stats     struct {
		FollowerCount int64 `json:"followerCount"`
		HeartCount    int64 `json:"heartCount"`
		VideoCount    int64 `json:"videoCount"`
	} `json:"stats"`
	PlayCount    int64   `json:"playCount"`
	ViewCount    int64   `json:"viewCount"`
	LikeCount    int64   `json:"likeCount"`
	CommentCount int64   `json:"commentCount"`
	ShareCount   int64   `json:"shareCount"`
	Engagement   float64 `json:"engagementRate"`
}

// FetchPage runs the platform's actor once and returns the normalized page.
func (c *Client) FetchPage(ctx context.Context, req provider.PageRequest) (*provider.Page, error) {
	offset := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return &provider.Page{Failed: true, FailReason: fmt.Sprintf("bad cursor %q", req.Cursor)}, nil
		}
		offset = n
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	input := runInput{
		SearchQueries: req.Keywords,
		ResultsLimit:  pageSize,
		Offset:        offset,
	}
	if req.Handle != "" {
		input.Profiles = []string{req.Handle}
		input.SearchQueries = nil
	}

	items, status, err := c.runActor(ctx, input)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusPaymentRequired, http.StatusForbidden:
		// The provider rejected the job outright; retrying the cursor
		// cannot help.
		return &provider.Page{Failed: true, FailReason: fmt.Sprintf("provider rejected run: HTTP %d", status)}, nil
	case http.StatusOK, http.StatusCreated:
	default:
		return nil, fmt.Errorf("actorapi: unexpected status %d", status)
	}

	keyword := ""
	if len(req.Keywords) > 0 {
		keyword = req.Keywords[0]
	}
	now := time.Now()
	cands := make([]provider.Candidate, 0, len(items))
	for _, it := range items {
		cands = append(cands, c.normalize(it, keyword, now))
	}

	hasMore := len(items) >= pageSize
	page := &provider.Page{
		Candidates: cands,
		HasMore:    hasMore,
	}
	if hasMore {
		page.NextCursor = strconv.Itoa(offset + len(items))
	}
	return page, nil
}

func (c *Client) runActor(ctx context.Context, input runInput) ([]rawItem, int, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, 0, err
	}

	url := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		c.baseURL, actorIDs[c.platform], c.apiToken)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("actorapi: run actor: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("actorapi: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, resp.StatusCode, nil
	}

	var items []rawItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("actorapi: decode items: %w", err)
	}
	return items, resp.StatusCode, nil
}

// normalize maps one raw item into the canonical candidate shape. RankScore
// is the platform's primary ranking metric: video plays for tiktok and
// youtube, follower count for instagram.
func (c *Client) normalize(it rawItem, keyword string, fetchedAt time.Time) provider.Candidate {
	handle := it.UniqueID
	if handle == "" {
		handle = it.Username
	}
	if handle == "" {
		handle = it.Handle
	}

	name := it.Nickname
	if name == "" {
		name = it.FullName
	}

	bio := it.Bio
	if bio == "" {
		bio = it.Biograph
	}

	followers := it.Stats.FollowerCount
	if followers == 0 {
		followers = it.Followers
	}
	if followers == 0 {
		followers = it.FansCount
	}

	views := it.PlayCount
	if views == 0 {
		views = it.ViewCount
	}

	cand := provider.Candidate{
		Platform:        c.platform,
		Handle:          handle,
		DisplayName:     name,
		Bio:             bio,
		FollowerCount:   followers,
		EngagementRate:  it.Engagement,
		ViewCount:       views,
		LikeCount:       it.LikeCount,
		CommentCount:    it.CommentCount,
		ShareCount:      it.ShareCount,
		Email:           it.Email,
		ContactEmail:    firstNonEmpty(it.Contact.Email, it.Creator.Email),
		EnrichmentEmail: it.Enrichment.Summary.Email,
		SourceKeyword:   keyword,
		FetchedAt:       fetchedAt,
	}

	switch c.platform {
	case "instagram":
		cand.RankScore = followers
	default:
		cand.RankScore = views
	}
	if cand.RankScore == 0 {
		cand.RankScore = followers
	}
	return cand
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
