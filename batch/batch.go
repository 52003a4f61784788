// Package batch persists fetched listing pages under
// <root>/<subreddit>/<timestamp>.json and dispatches the media downloads
// for every post in the page. It also knows how to enumerate and reload
// previously persisted batches.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zikzikkh/myred/api"
	"github.com/zikzikkh/myred/classify"
	"github.com/zikzikkh/myred/download"
)

// saveTimeLayout renders "MMMMdd-HH_mm_ss": month name plus zero-padded
// day. Filenames sort lexicographically within a day but not across
// months; known limitation, kept for on-disk compatibility.
const saveTimeLayout = "January02-15_04_05"

// nextPrefix marks continuation pages. Nothing reads files back by this
// prefix; it is an audit trail only.
const nextPrefix = "next_"

type Persister struct {
	wg sync.WaitGroup

	root string
	dl   *download.Downloader
	loc  *time.Location
	now  func() time.Time
}

func NewPersister(root string, dl *download.Downloader) *Persister {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		log.Err(err).Msg("couldn't load save timezone, falling back to UTC")
		loc = time.UTC
	}
	return &Persister{
		root: root,
		dl:   dl,
		loc:  loc,
		now:  time.Now,
	}
}

// WithClock overrides the wall clock used for save filenames.
func (p *Persister) WithClock(now func() time.Time) *Persister {
	p.now = now
	return p
}

// Persist writes the round-tripped listing JSON to disk and dispatches
// the media downloads for every post, one concurrent dispatch per post.
// It returns the written file path; the downloads are not awaited.
func (p *Persister) Persist(ctx context.Context, subreddit string, listing *api.Listing, isContinuation bool) (string, error) {
	b, err := api.EncodeListing(listing)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(p.root, subreddit)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("%w: couldn't create directory(name=%s)", err, dir)
	}

	name := p.now().In(p.loc).Format(saveTimeLayout)
	if isContinuation {
		name = nextPrefix + name
	}
	path := filepath.Join(dir, name+".json")

	if err := os.WriteFile(path, b, 0o600); err != nil {
		return "", fmt.Errorf("%w: couldn't write batch file(path=%s)", err, path)
	}
	log.Info().Str("path", path).Int("posts", len(listing.Data.Children)).Msg("saved batch")

	for _, post := range listing.Data.Children {
		data := post.Data
		urls := append(classify.Images(&data), classify.Videos(&data)...)
		if len(urls) == 0 {
			continue
		}
		p.wg.Add(1)
		go func(postID string, urls []string) {
			defer p.wg.Done()
			p.dl.DownloadAll(ctx, subreddit, postID, urls)
		}(data.ID, urls)
	}

	return path, nil
}

// Wait blocks until every dispatched download has been attempted.
func (p *Persister) Wait() {
	p.wg.Wait()
}

// Load reads one persisted batch file back into a Listing.
func (p *Persister) Load(path string) (*api.Listing, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't read batch file(path=%s)", err, path)
	}
	return api.DecodeListing(b)
}

// Subreddits lists the subreddit directories under the app root.
func (p *Persister) Subreddits() ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: couldn't list app directory", err)
	}
	subs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			subs = append(subs, e.Name())
		}
	}
	return subs, nil
}

// Batches lists a subreddit's persisted batch files, newest first.
func (p *Persister) Batches(subreddit string) ([]string, error) {
	dir := filepath.Join(p.root, subreddit)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't list batches(subreddit=%s)", err, subreddit)
	}

	type batchFile struct {
		path    string
		modTime time.Time
	}
	files := make([]batchFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, batchFile{
			path:    filepath.Join(dir, e.Name()),
			modTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.After(files[j].modTime)
	})

	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.path)
	}
	return paths, nil
}
