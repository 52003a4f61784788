// Package classify extracts and categorizes candidate media URLs from one
// post's data record. It does no I/O; resolving and downloading the URLs
// is up to the caller.
package classify

import (
	"regexp"
	"strings"

	"github.com/zikzikkh/myred/api"
)

var (
	imageExtRe = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp)($|\?)`)
	videoExtRe = regexp.MustCompile(`(?i)\.(mp4|webm|avi|mov)($|\?)`)
)

// Unescape undoes the html entity escaping reddit applies to media URLs.
func Unescape(u string) string {
	return strings.ReplaceAll(u, "&amp;", "&")
}

// IsRedditVideoURL reports whether the URL points at the v.redd.it
// redirector. Such URLs serve an html page, not the media bytes, and need
// resolving before download.
func IsRedditVideoURL(u string) bool {
	return strings.Contains(u, "v.redd.it")
}

// IsRedgifsURL reports whether the URL points at the redgifs redirector.
func IsRedgifsURL(u string) bool {
	return strings.Contains(u, "redgifs.com")
}

func isVideoRedirectorURL(u string) bool {
	return IsRedditVideoURL(u) || IsRedgifsURL(u)
}

// IsDownloadableImageURL reports whether the URL can be fetched directly
// as image bytes.
func IsDownloadableImageURL(u string) bool {
	if strings.Contains(u, "i.redd.it") {
		return true
	}
	if strings.Contains(u, "preview.redd.it") {
		hasImageFormat := strings.Contains(u, "format=pjpg") ||
			strings.Contains(u, "format=png") ||
			strings.Contains(u, "format=jpg")
		return imageExtRe.MatchString(u) || hasImageFormat
	}
	if strings.Contains(u, "i.imgur.com") {
		return true
	}
	return imageExtRe.MatchString(u)
}

// IsDownloadableVideoURL reports whether the URL is either a known video
// redirector or ends in a common video extension.
func IsDownloadableVideoURL(u string) bool {
	return isVideoRedirectorURL(u) || videoExtRe.MatchString(u)
}

// Images returns the post's image URLs in download order.
// Duplicates are collapsed by filename (last path segment, query
// stripped); the earliest source wins.
func Images(p *api.PostData) []string {
	urls := make([]string, 0, 4)
	seen := make(map[string]struct{})

	add := func(u string) {
		if u == "" {
			return
		}
		name := filename(u)
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		urls = append(urls, u)
	}

	if u := p.URLOverriddenByDest; IsDownloadableImageURL(u) && !isVideoRedirectorURL(u) {
		add(u)
	}
	if u := p.URL; u != p.URLOverriddenByDest && IsDownloadableImageURL(u) && !isVideoRedirectorURL(u) {
		add(u)
	}

	for _, u := range galleryImageURLs(p) {
		add(u)
	}

	if p.Preview != nil {
		for _, img := range p.Preview.Images {
			if img.Source == nil || img.Source.URL == "" {
				continue
			}
			u := Unescape(img.Source.URL)
			if isVideoRedirectorURL(u) {
				continue
			}
			add(u)
		}
	}

	return urls
}

// Videos returns the post's video URLs in download order, unresolved.
// Redirector URLs are added as-is and must go through the resolver later.
func Videos(p *api.PostData) []string {
	urls := make([]string, 0, 2)

	for _, u := range []string{p.URLOverriddenByDest, p.URL} {
		if u != "" && IsRedditVideoURL(u) {
			urls = append(urls, u)
		}
	}
	for _, u := range []string{p.URLOverriddenByDest, p.URL} {
		if u != "" && IsRedgifsURL(u) {
			urls = append(urls, u)
		}
	}
	if p.IsVideo {
		for _, u := range []string{p.URLOverriddenByDest, p.URL} {
			if u != "" && !isVideoRedirectorURL(u) && videoExtRe.MatchString(u) {
				urls = append(urls, u)
			}
		}
	}
	if p.Preview != nil {
		for _, img := range p.Preview.Images {
			if img.Variants == nil || img.Variants.MP4 == nil || img.Variants.MP4.Source == nil {
				continue
			}
			if u := img.Variants.MP4.Source.URL; u != "" {
				urls = append(urls, Unescape(u))
			}
		}
	}

	return dedup(urls)
}

// ExternalLink returns the post's plain url when the classifier found no
// images to download for it.
func ExternalLink(p *api.PostData) (string, bool) {
	if len(Images(p)) != 0 {
		return "", false
	}
	if p.URL == "" {
		return "", false
	}
	return p.URL, true
}

// galleryImageURLs resolves every gallery item against the media_metadata
// map. A missing key means that item contributes no URL.
func galleryImageURLs(p *api.PostData) []string {
	if p.GalleryData == nil || p.MediaMetadata == nil {
		return nil
	}
	urls := make([]string, 0, len(p.GalleryData.Items))
	for _, item := range p.GalleryData.Items {
		meta, ok := p.MediaMetadata[item.MediaID]
		if !ok || meta.S == nil || meta.S.URL == "" {
			continue
		}
		urls = append(urls, Unescape(meta.S.URL))
	}
	return urls
}

// filename is the image dedup key: last path segment with the query
// string stripped, case-sensitive.
func filename(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		u = u[i+1:]
	}
	return u
}

func dedup(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
