package discovery

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/scoutline/discovery/internal/provider"
)

// Merge collapses the existing bucket plus one incoming page into a unique
// creator set keyed by lower-cased (platform, handle). On a collision the
// observation with the higher RankScore survives, keeping the position of the
// first observation so pagination stays stable across merges. Entries without
// a usable handle get a synthetic unique key instead of being dropped.
func Merge(existing []Creator, incoming []provider.Candidate) []Creator {
	out := make([]Creator, len(existing))
	copy(out, existing)

	index := make(map[string]int, len(out))
	for i, c := range out {
		index[c.DedupKey()] = i
	}

	for _, cand := range incoming {
		c := fromCandidate(cand)
		i, ok := index[c.DedupKey()]
		if !ok {
			index[c.DedupKey()] = len(out)
			out = append(out, c)
			continue
		}
		if c.RankScore > out[i].RankScore {
			// Keep emails collected from earlier observations.
			c.Emails = mergeEmails(out[i].Emails, c.Emails)
			out[i] = c
		} else {
			out[i].Emails = mergeEmails(out[i].Emails, c.Emails)
		}
	}
	return out
}

func fromCandidate(cand provider.Candidate) Creator {
	c := Creator{
		Platform:       cand.Platform,
		Handle:         strings.TrimSpace(cand.Handle),
		DisplayName:    cand.DisplayName,
		Bio:            cand.Bio,
		FollowerCount:  cand.FollowerCount,
		EngagementRate: cand.EngagementRate,
		ViewCount:      cand.ViewCount,
		LikeCount:      cand.LikeCount,
		CommentCount:   cand.CommentCount,
		ShareCount:     cand.ShareCount,
		RankScore:      cand.RankScore,
		Emails:         ExtractEmails(cand),
		SourceKeyword:  cand.SourceKeyword,
		FetchedAt:      cand.FetchedAt,
	}
	if c.Handle == "" {
		c.SyntheticKey = uuid.NewString()
	}
	return c
}

func mergeEmails(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	out := a
	for _, e := range a {
		seen[strings.ToLower(e)] = struct{}{}
	}
	for _, e := range b {
		k := strings.ToLower(e)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// emailPattern gates every candidate string: word/dot/hyphen/plus local part,
// dotted domain with a 2+ letter TLD. Deliberately strict so that @mentions
// and hashtags in free text never pass.
var emailPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*@[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}$`)

var bioEmailPattern = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9._+-]*@[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}`)

// ExtractEmails inspects only the known email-bearing fields of a candidate
// (top-level email, contact object, enrichment summary) plus the bio, where a
// match must satisfy the strict pattern in full. No other free text is
// scanned.
func ExtractEmails(cand provider.Candidate) []string {
	var out []string
	seen := make(map[string]struct{})

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || len(s) > 254 || !emailPattern.MatchString(s) {
			return
		}
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}

	add(cand.Email)
	add(cand.ContactEmail)
	add(cand.EnrichmentEmail)

	for _, m := range bioEmailPattern.FindAllString(cand.Bio, -1) {
		add(m)
	}
	return out
}
