// Package resolve turns indirect video URLs (platform redirectors that
// serve an html page instead of the media bytes) into final, directly
// downloadable URLs. Both strategies are best-effort: a miss is reported
// as an error and the caller skips that URL.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zikzikkh/myred/api"
)

const (
	defaultVRedditBase = "https://v.redd.it"
	defaultRedditBase  = "https://www.reddit.com"
	defaultRedgifsBase = "https://api.redgifs.com"

	// minPlausibleSize rejects empty or placeholder dash renditions.
	minPlausibleSize = 10000
)

// dashTiers are the candidate renditions, highest quality first.
var dashTiers = []string{
	"DASH_1080.mp4",
	"DASH_720.mp4",
	"DASH_480.mp4",
	"DASH_360.mp4",
	"DASH_240.mp4",
}

var (
	fallbackURLRe = regexp.MustCompile(`"fallback_url"\s*:\s*"([^"]+)"`)
	tokenRe       = regexp.MustCompile(`"token"\s*:\s*"([^"]+)"`)
	hdURLRe       = regexp.MustCompile(`"hd"\s*:\s*"([^"]+)"`)
)

var ErrNoPlayableSource = errors.New("no playable source found")

// Resolver is stateless per call and safe for concurrent use; it only
// shares the underlying http client.
type Resolver struct {
	client      *http.Client
	vredditBase string
	redditBase  string
	redgifsBase string
}

func New(client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	return &Resolver{
		client:      client,
		vredditBase: defaultVRedditBase,
		redditBase:  defaultRedditBase,
		redgifsBase: defaultRedgifsBase,
	}
}

func (r *Resolver) WithVRedditBase(u string) *Resolver {
	r.vredditBase = u
	return r
}

func (r *Resolver) WithRedditBase(u string) *Resolver {
	r.redditBase = u
	return r
}

func (r *Resolver) WithRedgifsBase(u string) *Resolver {
	r.redgifsBase = u
	return r
}

// RedditVideo resolves a v.redd.it redirector URL by probing the dash
// renditions in descending quality order, falling back to the video json
// lookup when none of them is servable.
func (r *Resolver) RedditVideo(ctx context.Context, redirectorURL string) (string, error) {
	videoID := trailingSegment(redirectorURL)
	if videoID == "" {
		return "", fmt.Errorf("%w: no video id in %q", ErrNoPlayableSource, redirectorURL)
	}

	// One probe at a time on purpose, reddit throttles aggressive clients.
	for _, tier := range dashTiers {
		candidate := fmt.Sprintf("%s/%s/%s", r.vredditBase, videoID, tier)
		length, ok := r.probe(ctx, candidate)
		if ok && length > minPlausibleSize {
			log.Debug().Str("url", candidate).Msg("found reddit video url")
			return candidate, nil
		}
	}

	return r.redditVideoFallback(ctx, videoID)
}

// redditVideoFallback asks the public video endpoint for the post and
// pattern-matches the fallback_url field out of the response.
func (r *Resolver) redditVideoFallback(ctx context.Context, videoID string) (string, error) {
	body, err := r.get(ctx, fmt.Sprintf("%s/video/%s.json", r.redditBase, videoID), "")
	if err != nil {
		return "", fmt.Errorf("%w: fallback lookup failed: %s", ErrNoPlayableSource, err)
	}

	m := fallbackURLRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: no fallback_url for %q", ErrNoPlayableSource, videoID)
	}

	u := strings.ReplaceAll(string(m[1]), `\`, "")
	log.Debug().Str("url", u).Msg("found reddit fallback video url")

	return u, nil
}

// Redgifs resolves a redgifs redirector URL by acquiring a short-lived
// anonymous token and pattern-matching the hd rendition out of the item
// lookup response.
func (r *Resolver) Redgifs(ctx context.Context, redirectorURL string) (string, error) {
	id := strings.ToLower(trailingSegment(redirectorURL))
	if id == "" {
		return "", fmt.Errorf("%w: no gif id in %q", ErrNoPlayableSource, redirectorURL)
	}

	body, err := r.get(ctx, r.redgifsBase+"/v2/auth/temporary", "")
	if err != nil {
		return "", fmt.Errorf("%w: redgifs token request failed: %s", ErrNoPlayableSource, err)
	}
	m := tokenRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: no token in redgifs auth response", ErrNoPlayableSource)
	}
	token := string(m[1])

	body, err = r.get(ctx, r.redgifsBase+"/v2/gifs/"+id, token)
	if err != nil {
		return "", fmt.Errorf("%w: redgifs lookup failed: %s", ErrNoPlayableSource, err)
	}
	m = hdURLRe.FindSubmatch(body)
	if m == nil {
		return "", fmt.Errorf("%w: no hd rendition for %q", ErrNoPlayableSource, id)
	}

	return strings.ReplaceAll(string(m[1]), `\`, ""), nil
}

// probe issues an existence check with no body transfer and reports the
// declared content length.
func (r *Resolver) probe(ctx context.Context, u string) (length int64, ok bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, http.NoBody)
	if err != nil {
		return 0, false
	}
	req.Header.Set("User-Agent", api.UserAgent)

	res, err := r.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return 0, false
	}
	return res.ContentLength, true
}

func (r *Resolver) get(ctx context.Context, u, bearer string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", api.UserAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status: %s", http.StatusText(res.StatusCode))
	}

	return io.ReadAll(res.Body)
}

func trailingSegment(u string) string {
	u = strings.TrimSuffix(u, "/")
	if i := strings.LastIndexByte(u, '/'); i >= 0 {
		return u[i+1:]
	}
	return u
}
