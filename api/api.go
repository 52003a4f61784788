// Package api contains the reddit listing schema and the code required to
// authenticate and fetch pages of posts from the oauth api.
// This package is specialized to the use-case required by myred: it only
// deserializes the fields the rest of the app actually consumes.
package api

import (
	"encoding/json"
	"fmt"
)

// Listing is one fetched page of posts. It is immutable once decoded.
type Listing struct {
	Kind string      `json:"kind"`
	Data ListingData `json:"data"`
}

type ListingData struct {
	// After is the pagination cursor. Empty means there is no next page.
	After    string `json:"after"`
	Children []Post `json:"children"`
}

type Post struct {
	Kind string   `json:"kind"`
	Data PostData `json:"data"`
}

// PostData is the subset of a reddit post the pipeline cares about.
// Preview, GalleryData and MediaMetadata are each independently optional
// and must be treated as absent-safe.
type PostData struct {
	ID         string  `json:"id"`
	Subreddit  string  `json:"subreddit"`
	Author     string  `json:"author"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Created    float64 `json:"created"`
	CreatedUTC float64 `json:"created_utc"`
	Over18     bool    `json:"over_18"`
	IsVideo    bool    `json:"is_video"`
	Thumbnail  string  `json:"thumbnail"`

	URL                 string `json:"url"`
	URLOverriddenByDest string `json:"url_overridden_by_dest"`

	Preview       *Preview             `json:"preview,omitempty"`
	GalleryData   *GalleryData         `json:"gallery_data,omitempty"`
	MediaMetadata map[string]MediaMeta `json:"media_metadata,omitempty"`
}

type Preview struct {
	Enabled bool           `json:"enabled"`
	Images  []PreviewImage `json:"images"`
}

type PreviewImage struct {
	ID          string           `json:"id"`
	Source      *ImageSource     `json:"source,omitempty"`
	Resolutions []ImageSource    `json:"resolutions,omitempty"`
	Variants    *PreviewVariants `json:"variants,omitempty"`
}

type PreviewVariants struct {
	MP4 *VariantMedia `json:"mp4,omitempty"`
}

type VariantMedia struct {
	Source *ImageSource `json:"source,omitempty"`
}

type ImageSource struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type GalleryData struct {
	Items []GalleryItem `json:"items"`
}

type GalleryItem struct {
	MediaID string `json:"media_id"`
	ID      int64  `json:"id"`
}

// MediaMeta is one entry of the media_metadata map, keyed by the media id
// referenced from GalleryData.Items. S holds the full-size rendition.
type MediaMeta struct {
	Status string     `json:"status"`
	E      string     `json:"e"`
	M      string     `json:"m"`
	S      *FullImage `json:"s,omitempty"`
	ID     string     `json:"id"`
}

type FullImage struct {
	X   int    `json:"x"`
	Y   int    `json:"y"`
	URL string `json:"u"`
}

// DecodeListing decodes one raw api response. Malformed JSON is a hard
// failure for the fetch that produced it.
func DecodeListing(raw []byte) (*Listing, error) {
	l := &Listing{}
	if err := json.Unmarshal(raw, l); err != nil {
		return nil, fmt.Errorf("%w: couldn't decode listing", err)
	}
	return l, nil
}

// EncodeListing re-encodes a decoded listing for persistence. The written
// file is the schema round-trip, not the original bytes.
func EncodeListing(l *Listing) ([]byte, error) {
	b, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't encode listing", err)
	}
	return b, nil
}
