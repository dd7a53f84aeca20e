// Package webdir scrapes an HTML creator-directory site for platforms that
// have no API provider. One page of the directory's search results is one
// bounded unit of work; the cursor is the page number.
package webdir

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/scoutline/discovery/internal/provider"
)

type Scanner struct {
	baseURL  string
	platform string
	client   *http.Client
}

func New(baseURL, platform string, client *http.Client) *Scanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Scanner{baseURL: strings.TrimRight(baseURL, "/"), platform: platform, client: client}
}

func (s *Scanner) FetchPage(ctx context.Context, req provider.PageRequest) (*provider.Page, error) {
	pageNum := 1
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return &provider.Page{Failed: true, FailReason: fmt.Sprintf("bad cursor %q", req.Cursor)}, nil
		}
		pageNum = n
	}

	pageURL, err := s.buildSearchURL(req, pageNum)
	if err != nil {
		return nil, err
	}

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	keyword := ""
	if len(req.Keywords) > 0 {
		keyword = req.Keywords[0]
	}

	now := time.Now()
	var cands []provider.Candidate
	doc.Find("div.creator-card").Each(func(i int, card *goquery.Selection) {
		handle := strings.TrimPrefix(strings.TrimSpace(card.Find(".creator-handle").Text()), "@")
		name := strings.TrimSpace(card.Find(".creator-name").Text())
		bio := strings.TrimSpace(card.Find(".creator-bio").Text())
		followers := parseCount(card.Find(".creator-followers").Text())
		email, _ := card.Find("a.creator-email").Attr("href")
		email = strings.TrimPrefix(email, "mailto:")

		cands = append(cands, provider.Candidate{
			Platform:      s.platform,
			Handle:        handle,
			DisplayName:   name,
			Bio:           bio,
			FollowerCount: followers,
			RankScore:     followers,
			ContactEmail:  email,
			SourceKeyword: keyword,
			FetchedAt:     now,
		})
	})

	hasMore := doc.Find("a.pagination-next").Length() > 0
	page := &provider.Page{Candidates: cands, HasMore: hasMore}
	if hasMore {
		page.NextCursor = strconv.Itoa(pageNum + 1)
	}
	return page, nil
}

func (s *Scanner) buildSearchURL(req provider.PageRequest, pageNum int) (string, error) {
	u, err := url.Parse(s.baseURL + "/search")
	if err != nil {
		return "", fmt.Errorf("webdir: parse base url: %w", err)
	}
	q := u.Query()
	if req.Handle != "" {
		q.Set("handle", req.Handle)
	} else {
		q.Set("q", strings.Join(req.Keywords, " "))
	}
	q.Set("page", strconv.Itoa(pageNum))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Scanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("webdir: build request: %w", err)
	}
	req.Header.Set("User-Agent", "discovery/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdir: request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("webdir: directory returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("webdir: parse document: %w", err)
	}
	return doc, nil
}

// parseCount handles "12.5K followers" style counts.
func parseCount(s string) int64 {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " followers")
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "m"):
		mult, s = 1_000_000, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "k"):
		mult, s = 1_000, strings.TrimSuffix(s, "k")
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(f * float64(mult))
}
