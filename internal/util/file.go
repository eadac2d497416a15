package util

import (
	"net/url"
	"strings"
)

// ResolveMediaURL turns an image reference from the exam API into an absolute URL
// on the API host. Absolute URLs are returned unchanged.
func ResolveMediaURL(apiBase, src string) string {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}

	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return src
	}
	origin := u.Scheme + "://" + u.Host

	switch {
	case strings.HasPrefix(src, "/media/"):
		return origin + src
	case strings.HasPrefix(src, "media/"):
		return origin + "/" + src
	}
	return origin + "/media/" + strings.TrimPrefix(src, "/")
}
