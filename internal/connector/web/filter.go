package web

import (
	"net/url"
	"strings"

	"github.com/finchsearch/finch/internal/pattern"
)

// Path prefixes that never lead to indexable content.
var skipPathPrefixes = []string{
	"/cgi-bin/",
	"/wp-admin/",
	"/wp-login",
	"/login",
	"/logout",
	"/signin",
	"/signup",
	"/cart",
	"/checkout",
}

// Extensions that denote binary or non-page resources.
var skipExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {},
	".ico": {}, ".css": {}, ".js": {}, ".zip": {}, ".gz": {}, ".tar": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {},
	".pptx": {}, ".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {},
	".exe": {}, ".dmg": {}, ".iso": {}, ".bin": {}, ".woff": {}, ".woff2": {},
	".ttf": {}, ".eot": {},
}

// LinkFilter decides which discovered links are worth enqueueing.
type LinkFilter struct {
	seedHost       string
	sameDomainOnly bool
	include        []pattern.Glob
	exclude        []pattern.Glob
}

// NewLinkFilter compiles the include and exclude patterns up front so bad
// patterns surface before a crawl starts.
func NewLinkFilter(seed *url.URL, sameDomainOnly bool, includePatterns, excludePatterns []string) (*LinkFilter, error) {
	include, err := pattern.CompileAll(includePatterns)
	if err != nil {
		return nil, err
	}
	exclude, err := pattern.CompileAll(excludePatterns)
	if err != nil {
		return nil, err
	}
	return &LinkFilter{
		seedHost:       strings.ToLower(seed.Hostname()),
		sameDomainOnly: sameDomainOnly,
		include:        include,
		exclude:        exclude,
	}, nil
}

// Allow reports whether the link passes the domain constraint, the path and
// extension skip lists, and the include/exclude patterns.
func (f *LinkFilter) Allow(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if f.sameDomainOnly && strings.ToLower(u.Hostname()) != f.seedHost {
		return false
	}
	lowerPath := strings.ToLower(u.Path)
	for _, prefix := range skipPathPrefixes {
		if strings.HasPrefix(lowerPath, prefix) {
			return false
		}
	}
	if idx := strings.LastIndex(lowerPath, "."); idx >= 0 {
		if _, skip := skipExtensions[lowerPath[idx:]]; skip {
			return false
		}
	}
	if len(f.exclude) > 0 && pattern.MatchAny(f.exclude, link) {
		return false
	}
	if len(f.include) > 0 && !pattern.MatchAny(f.include, link) {
		return false
	}
	return true
}
