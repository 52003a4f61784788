// Package app is the fetch orchestrator behind the UI: it owns the
// observable state snapshot, accepts user intents as method calls and
// coordinates the token provider, the listing fetcher and the batch
// persister. The presentation layer consumes State values and never
// shares them mutably.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zikzikkh/myred/api"
	"github.com/zikzikkh/myred/settings"
)

type Sort string

const (
	SortHot Sort = "hot"
	SortNew Sort = "new"
)

var (
	ErrNoMorePosts   = errors.New("no more posts available")
	ErrFetchInFlight = errors.New("a fetch is already in progress")
	ErrBadLimit      = errors.New("limit must be between 1 and 100")
	ErrNoBatch       = errors.New("no batch selected")
)

// TokenProvider hands out a bearer token expected to be valid for the
// duration of the next request.
type TokenProvider interface {
	CurrentAccessToken(ctx context.Context) (string, error)
}

// ListingFetcher fetches one raw page of listings.
type ListingFetcher interface {
	FetchListing(ctx context.Context, token string, req api.ListingRequest) ([]byte, error)
}

// Persister writes a fetched batch to disk and kicks off its media
// downloads; it also enumerates and reloads saved batches.
type Persister interface {
	Persist(ctx context.Context, subreddit string, listing *api.Listing, isContinuation bool) (string, error)
	Load(path string) (*api.Listing, error)
	Subreddits() ([]string, error)
	Batches(subreddit string) ([]string, error)
}

// SettingsStore is the whole-record preferences access.
type SettingsStore interface {
	Get(ctx context.Context) (settings.Settings, error)
	Save(ctx context.Context, s settings.Settings) error
}

// State is one immutable snapshot of everything the UI renders.
type State struct {
	DarkMode     bool
	Loading      bool
	ErrorMessage string

	Subreddit string
	Sort      Sort
	After     string

	Batch     *api.Listing
	BatchFile string

	Subreddits   []string
	BatchFiles   []string
	ClickedImage string
}

type App struct {
	mu    sync.Mutex
	state State
	subs  []chan State

	tokens    TokenProvider
	listings  ListingFetcher
	persister Persister
	settings  SettingsStore
}

func New(ctx context.Context, tokens TokenProvider, listings ListingFetcher, persister Persister, store SettingsStore) *App {
	a := &App{
		state: State{Sort: SortHot},

		tokens:    tokens,
		listings:  listings,
		persister: persister,
		settings:  store,
	}
	if store != nil {
		if s, err := store.Get(ctx); err == nil {
			a.state.DarkMode = s.DarkMode
		} else {
			log.Err(err).Msg("couldn't load settings")
		}
	}
	return a
}

// State returns the current snapshot.
func (a *App) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe returns a channel that receives a snapshot after every state
// transition. Slow subscribers miss intermediate snapshots instead of
// blocking the orchestrator.
func (a *App) Subscribe() <-chan State {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan State, 1)
	a.subs = append(a.subs, ch)
	return ch
}

// update applies one reducer-style transition and publishes the result.
func (a *App) update(fn func(*State)) State {
	a.mu.Lock()
	fn(&a.state)
	snapshot := a.state
	subs := a.subs
	a.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
	return snapshot
}

// Fetch runs a fresh first-page fetch for the subreddit and replaces the
// selected batch with the result.
func (a *App) Fetch(ctx context.Context, subreddit string, sort Sort, limit int) error {
	return a.fetch(ctx, subreddit, sort, limit, "", false)
}

// FetchNextBatch continues the selected batch from its pagination cursor.
// An empty cursor is rejected before any network call.
func (a *App) FetchNextBatch(ctx context.Context, limit int) error {
	s := a.State()
	if s.Batch == nil {
		return a.fail(ErrNoBatch)
	}
	if s.After == "" {
		return a.fail(ErrNoMorePosts)
	}
	return a.fetch(ctx, s.Subreddit, s.Sort, limit, s.After, true)
}

// RefreshCurrent re-fetches the first page of the selected batch's
// subreddit with its current sort.
func (a *App) RefreshCurrent(ctx context.Context, limit int) error {
	s := a.State()
	if s.Batch == nil {
		return a.fail(ErrNoBatch)
	}
	return a.fetch(ctx, s.Subreddit, s.Sort, limit, "", false)
}

func (a *App) fetch(ctx context.Context, subreddit string, sort Sort, limit int, after string, isContinuation bool) error {
	if limit < 1 || limit > 100 {
		return a.fail(ErrBadLimit)
	}
	if subreddit == "" {
		return a.fail(errors.New("no subreddit provided"))
	}

	if err := a.beginLoading(); err != nil {
		return err
	}

	token, err := a.tokens.CurrentAccessToken(ctx)
	if err != nil {
		return a.failLoading(fmt.Errorf("couldn't get access token: %w", err))
	}

	raw, err := a.listings.FetchListing(ctx, token, api.ListingRequest{
		Subreddit: subreddit,
		Sort:      string(sort),
		Limit:     limit,
		After:     after,
	})
	if err != nil {
		return a.failLoading(fmt.Errorf("fetch failed: %w", err))
	}

	listing, err := api.DecodeListing(raw)
	if err != nil {
		return a.failLoading(err)
	}
	if len(listing.Data.Children) == 0 {
		return a.failLoading(ErrNoMorePosts)
	}
	log.Info().Int("posts", len(listing.Data.Children)).Str("subreddit", subreddit).Msg("fetched listing")

	// The response's own subreddit field wins over the requested name.
	actual := listing.Data.Children[0].Data.Subreddit
	if actual == "" {
		actual = subreddit
	}

	path, err := a.persister.Persist(ctx, actual, listing, isContinuation)
	if err != nil {
		return a.failLoading(err)
	}

	// The selected batch is replaced straight from the decoded response;
	// the written continuation file is never read back.
	a.update(func(s *State) {
		s.Loading = false
		s.ErrorMessage = ""
		s.Subreddit = actual
		s.Sort = sort
		s.After = listing.Data.After
		s.Batch = listing
		s.BatchFile = path
	})

	return nil
}

// beginLoading flips the loading flag, serializing top-level fetches: a
// second fetch intent is rejected while one is in flight.
func (a *App) beginLoading() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Loading {
		return ErrFetchInFlight
	}
	a.state.Loading = true
	a.state.ErrorMessage = ""
	return nil
}

func (a *App) fail(err error) error {
	a.update(func(s *State) {
		s.ErrorMessage = err.Error()
	})
	return err
}

func (a *App) failLoading(err error) error {
	log.Err(err).Msg("fetch failed")
	a.update(func(s *State) {
		s.Loading = false
		s.ErrorMessage = err.Error()
	})
	return err
}

// LoadBatch replaces the selected batch with a previously persisted one.
func (a *App) LoadBatch(path string) error {
	listing, err := a.persister.Load(path)
	if err != nil {
		return a.fail(err)
	}

	subreddit := ""
	if len(listing.Data.Children) > 0 {
		subreddit = listing.Data.Children[0].Data.Subreddit
	}

	a.update(func(s *State) {
		s.ErrorMessage = ""
		s.Batch = listing
		s.BatchFile = path
		s.After = listing.Data.After
		if subreddit != "" {
			s.Subreddit = subreddit
		}
	})
	return nil
}

// RefreshSubreddits re-reads the fetched subreddit list from disk.
func (a *App) RefreshSubreddits() error {
	subs, err := a.persister.Subreddits()
	if err != nil {
		return a.fail(err)
	}
	a.update(func(s *State) {
		s.Subreddits = subs
	})
	return nil
}

// SelectSubreddit lists the stored batches of one subreddit, newest
// first.
func (a *App) SelectSubreddit(subreddit string) error {
	files, err := a.persister.Batches(subreddit)
	if err != nil {
		return a.fail(err)
	}
	a.update(func(s *State) {
		s.Subreddit = subreddit
		s.BatchFiles = files
	})
	return nil
}

// ToggleDarkMode flips the preference and persists the settings record.
func (a *App) ToggleDarkMode(ctx context.Context) error {
	snapshot := a.update(func(s *State) {
		s.DarkMode = !s.DarkMode
	})

	if a.settings == nil {
		return nil
	}
	current, err := a.settings.Get(ctx)
	if err != nil {
		return a.fail(err)
	}
	current.DarkMode = snapshot.DarkMode
	if err := a.settings.Save(ctx, current); err != nil {
		return a.fail(err)
	}
	return nil
}

// ShowImage marks a media file as viewed full-screen.
func (a *App) ShowImage(path string) {
	a.update(func(s *State) {
		s.ClickedImage = path
	})
}

// ExitImage leaves the full-screen view.
func (a *App) ExitImage() {
	a.update(func(s *State) {
		s.ClickedImage = ""
	})
}
