package analytics_transport

import (
	"net/url"
	"strings"
)

// Referrer classifications
const (
	ReferrerDirect   = "direct"
	ReferrerInternal = "internal"
	ReferrerSearch   = "search"
	ReferrerSocial   = "social"
	ReferrerExternal = "external"
)

var searchEngines = []string{
	"google.", "bing.com", "duckduckgo.com", "yahoo.", "baidu.com",
	"yandex.", "ecosia.org", "search.brave.com", "startpage.com",
}

var socialNetworks = []string{
	"facebook.com", "t.co", "twitter.com", "x.com", "linkedin.com",
	"reddit.com", "instagram.com", "pinterest.", "youtube.com",
	"news.ycombinator.com", "mastodon.", "threads.net", "lnkd.in",
}

// ClassifyReferrer reports where a visit came from relative to the
// current page.
func ClassifyReferrer(referrer, pageURL string) ReferrerInfo {
	if referrer == "" {
		return ReferrerInfo{Type: ReferrerDirect}
	}

	ref, err := url.Parse(referrer)
	if err != nil || ref.Hostname() == "" {
		return ReferrerInfo{Type: ReferrerDirect}
	}
	host := strings.ToLower(ref.Hostname())

	if page, err := url.Parse(pageURL); err == nil && strings.EqualFold(page.Hostname(), host) {
		return ReferrerInfo{Type: ReferrerInternal, Host: host}
	}
	if hostMatches(host, searchEngines) {
		return ReferrerInfo{Type: ReferrerSearch, Host: host}
	}
	if hostMatches(host, socialNetworks) {
		return ReferrerInfo{Type: ReferrerSocial, Host: host}
	}
	return ReferrerInfo{Type: ReferrerExternal, Host: host}
}

// hostMatches matches whole domains ("t.co" matches "t.co" and
// "www.t.co", not "at.com") and prefixes ending in a dot ("google."
// matches "www.google.de").
func hostMatches(host string, patterns []string) bool {
	host = strings.TrimPrefix(host, "www.")
	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, ".") {
			if strings.HasPrefix(host, pattern) || strings.Contains(host, "."+pattern) {
				return true
			}
			continue
		}
		if host == pattern || strings.HasSuffix(host, "."+pattern) {
			return true
		}
	}
	return false
}
