package webdir

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/scoutline/discovery/internal/provider"
)

const pageWithNext = `<html><body>
<div class="creator-card">
  <span class="creator-handle">@dancequeen</span>
  <span class="creator-name">Dance Queen</span>
  <p class="creator-bio">daily choreo</p>
  <span class="creator-followers">12.5K followers</span>
  <a class="creator-email" href="mailto:dq@agency.io">contact</a>
</div>
<div class="creator-card">
  <span class="creator-handle">@cookwithme</span>
  <span class="creator-name">Cook With Me</span>
  <span class="creator-followers">2M followers</span>
</div>
<a class="pagination-next" href="?page=3">next</a>
</body></html>`

const lastPage = `<html><body>
<div class="creator-card">
  <span class="creator-handle">@solo</span>
  <span class="creator-followers">300 followers</span>
</div>
</body></html>`

func TestFetchPage_ParsesCards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "dance" {
			t.Errorf("unexpected query %q", got)
		}
		if got := r.URL.Query().Get("page"); got != "2" {
			t.Errorf("unexpected page %q", got)
		}
		_, _ = w.Write([]byte(pageWithNext))
	}))
	defer srv.Close()

	s := New(srv.URL, "webdir", srv.Client())
	page, err := s.FetchPage(context.Background(), provider.PageRequest{
		Keywords: []string{"dance"},
		Cursor:   "2",
	})
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}

	if len(page.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(page.Candidates))
	}
	c := page.Candidates[0]
	if c.Handle != "dancequeen" {
		t.Fatalf("handle = %q", c.Handle)
	}
	if c.FollowerCount != 12500 {
		t.Fatalf("followers = %d", c.FollowerCount)
	}
	if c.ContactEmail != "dq@agency.io" {
		t.Fatalf("email = %q", c.ContactEmail)
	}
	if page.Candidates[1].FollowerCount != 2_000_000 {
		t.Fatalf("followers = %d", page.Candidates[1].FollowerCount)
	}

	if !page.HasMore || page.NextCursor != "3" {
		t.Fatalf("pagination: hasMore=%v next=%q", page.HasMore, page.NextCursor)
	}
}

func TestFetchPage_LastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(lastPage))
	}))
	defer srv.Close()

	s := New(srv.URL, "webdir", srv.Client())
	page, err := s.FetchPage(context.Background(), provider.PageRequest{Keywords: []string{"x"}})
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if page.HasMore || page.NextCursor != "" {
		t.Fatalf("last page reported more: hasMore=%v next=%q", page.HasMore, page.NextCursor)
	}
}

func TestFetchPage_BadCursorIsTerminal(t *testing.T) {
	s := New("http://localhost", "webdir", nil)
	page, err := s.FetchPage(context.Background(), provider.PageRequest{Cursor: "not-a-number"})
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if !page.Failed {
		t.Fatalf("bad cursor should be a terminal failure")
	}
}

func TestFetchPage_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(srv.URL, "webdir", srv.Client())
	if _, err := s.FetchPage(context.Background(), provider.PageRequest{Keywords: []string{"x"}}); err == nil {
		t.Fatalf("expected transient error for 502")
	}
}
