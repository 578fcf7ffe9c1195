// Package blocklist holds the fixed set of ad/tracker domain patterns and the
// classifier that judges a queried domain against it.
package blocklist

import "strings"

// DefaultPatterns is the built-in list used when the config file supplies none.
var DefaultPatterns = []string{
	"ads.google.com",
	"doubleclick.net",
	"googlesyndication.com",
	"googleadservices.com",
	"adservice.google.com",
	"ad.doubleclick.net",
	"pagead2.googlesyndication.com",
	"static.doubleclick.net",
	"www.googleadservices.com",
	"adclick.g.doubleclick.net",
	"googleads.g.doubleclick.net",
	"www.googletagmanager.com",
	"googletagmanager.com",
	"www.google-analytics.com",
	"google-analytics.com",
	"ssl.google-analytics.com",
	"www.facebook.com",
	"facebook.com",
	"ads.facebook.com",
	"an.facebook.com",
	"www.youtube.com",
	"youtube.com",
	"ads.youtube.com",
	"www.instagram.com",
	"instagram.com",
	"ads.instagram.com",
}

// Store is an immutable set of domain substring patterns.
// Patterns are normalised to lower case at construction.
type Store struct {
	patterns []string
}

// NewStore builds a Store from patterns. Blank entries and duplicates are dropped.
func NewStore(patterns []string) *Store {
	seen := make(map[string]struct{}, len(patterns))
	s := &Store{patterns: make([]string, 0, len(patterns))}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		s.patterns = append(s.patterns, p)
	}
	return s
}

// ContainsMatch reports whether any pattern is a case-insensitive substring of domain.
// Matching is substring containment, not suffix or exact matching.
func (s *Store) ContainsMatch(domain string) bool {
	if domain == "" {
		return false
	}
	domain = strings.ToLower(domain)
	for _, p := range s.patterns {
		if strings.Contains(domain, p) {
			return true
		}
	}
	return false
}

func (s *Store) Len() int { return len(s.patterns) }

// Patterns returns a copy of the normalised patterns.
func (s *Store) Patterns() []string {
	out := make([]string, len(s.patterns))
	copy(out, s.patterns)
	return out
}
