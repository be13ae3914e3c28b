package dedup

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/pulsewire/harvester/internal/provider"
)

// Article is one deduplicated candidate: the chosen primary plus every other
// raw hit that described the same article, retained so provenance is not lost.
type Article struct {
	Primary         provider.Candidate
	CanonicalURL    string
	NormalizedTitle string
	Sources         []provider.Candidate
}

// Stats summarizes one deduplication pass.
type Stats struct {
	Input             int
	Unique            int
	GroupedDuplicates int
	AlreadyStored     int
}

// Deduplicator collapses candidates that are the same article by normalized
// title or canonical URL. The priority function breaks publication-date ties
// between providers (lower wins).
type Deduplicator struct {
	priority func(providerName string) int
}

func New(priority func(providerName string) int) *Deduplicator {
	if priority == nil {
		priority = func(string) int { return 0 }
	}
	return &Deduplicator{priority: priority}
}

// Collapse groups same-run duplicates and drops candidates whose canonical URL
// is already persisted (keyed by existingURLs). Dropped candidates are counted
// in the stats, not returned.
func (d *Deduplicator) Collapse(candidates []provider.Candidate, existingURLs map[string]bool) ([]Article, Stats) {
	stats := Stats{Input: len(candidates)}

	groups := make([][]provider.Candidate, 0, len(candidates))
	byTitle := make(map[string]int)
	byURL := make(map[string]int)

	for _, candidate := range candidates {
		titleKey := NormalizeTitle(candidate.Title)
		urlKey := CanonicalizeURL(candidate.URL)

		groupIdx := -1
		if titleKey != "" {
			if idx, ok := byTitle[titleKey]; ok {
				groupIdx = idx
			}
		}
		if groupIdx < 0 && urlKey != "" {
			if idx, ok := byURL[urlKey]; ok {
				groupIdx = idx
			}
		}

		if groupIdx < 0 {
			groupIdx = len(groups)
			groups = append(groups, nil)
		}
		groups[groupIdx] = append(groups[groupIdx], candidate)
		if titleKey != "" {
			byTitle[titleKey] = groupIdx
		}
		if urlKey != "" {
			byURL[urlKey] = groupIdx
		}
	}

	articles := make([]Article, 0, len(groups))
	for _, group := range groups {
		primaryIdx := d.pickPrimary(group)
		primary := group[primaryIdx]

		canonical := CanonicalizeURL(primary.URL)
		if canonical == "" {
			canonical = strings.TrimSpace(primary.URL)
		}

		stats.GroupedDuplicates += len(group) - 1

		if existingURLs[canonical] {
			stats.AlreadyStored++
			continue
		}

		sources := make([]provider.Candidate, 0, len(group)-1)
		for idx, member := range group {
			if idx != primaryIdx {
				sources = append(sources, member)
			}
		}

		articles = append(articles, Article{
			Primary:         primary,
			CanonicalURL:    canonical,
			NormalizedTitle: NormalizeTitle(primary.Title),
			Sources:         sources,
		})
	}

	stats.Unique = len(articles) + stats.AlreadyStored
	return articles, stats
}

// pickPrimary chooses the earliest published candidate; unknown dates sort
// last and provider priority breaks ties.
func (d *Deduplicator) pickPrimary(group []provider.Candidate) int {
	best := 0
	for idx := 1; idx < len(group); idx++ {
		if d.earlier(group[idx], group[best]) {
			best = idx
		}
	}
	return best
}

func (d *Deduplicator) earlier(a, b provider.Candidate) bool {
	switch {
	case a.PublishedAt != nil && b.PublishedAt == nil:
		return true
	case a.PublishedAt == nil && b.PublishedAt != nil:
		return false
	case a.PublishedAt != nil && b.PublishedAt != nil && !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.Before(*b.PublishedAt)
	default:
		return d.priority(a.Provider) < d.priority(b.Provider)
	}
}

// NormalizeTitle lowercases a title, strips punctuation, and collapses
// whitespace so syndicated reprints with cosmetic differences compare equal.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

var trackingParams = map[string]struct{}{
	"fbclid":        {},
	"gclid":         {},
	"igshid":        {},
	"mc_cid":        {},
	"mc_eid":        {},
	"ref":           {},
	"ref_src":       {},
	"spm":           {},
	"_hsenc":        {},
	"_hsmi":         {},
	"cmpid":         {},
	"ncid":          {},
	"ocid":          {},
	"sr_share":      {},
	"WT.mc_id":      {},
	"mkt_tok":       {},
	"yclid":         {},
	"twclid":        {},
	"s_cid":         {},
	"partnerref":    {},
	"smid":          {},
	"share":         {},
	"output":        {},
	"CMP":           {},
	"ito":           {},
	"intcmp":        {},
	"source":        {},
	"guccounter":    {},
	"guce_referrer": {},
}

// CanonicalizeURL normalizes an article URL into the uniqueness key used for
// persistence: lowercase scheme and host, default ports and fragments dropped,
// tracking query parameters removed, remaining parameters sorted, trailing
// path slash trimmed. Invalid or non-HTTP URLs canonicalize to "".
func CanonicalizeURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ""
	}
	if port := parsed.Port(); port != "" {
		if !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
			host += ":" + port
		}
	}

	path := parsed.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}

	query := parsed.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		if isTrackingParam(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	kept := url.Values{}
	for _, key := range keys {
		for _, value := range query[key] {
			kept.Add(key, value)
		}
	}

	canonical := scheme + "://" + host + path
	if encoded := kept.Encode(); encoded != "" {
		canonical += "?" + encoded
	}
	return canonical
}

func isTrackingParam(key string) bool {
	if strings.HasPrefix(strings.ToLower(key), "utm_") {
		return true
	}
	_, tracked := trackingParams[key]
	return tracked
}

// Host extracts the lowercase hostname from a canonical URL.
func Host(canonicalURL string) string {
	parsed, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
