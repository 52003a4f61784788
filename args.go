package main

// AppArguments is the cli surface. The graphical shell drives the same
// orchestrator; this entry point exists for scripted fetches and for
// browsing what was already fetched.
type AppArguments struct {
	Subreddit string `arg:"-r,--subreddit" help:"subreddit to fetch"`
	Sort      string `arg:"-s,--sort" default:"hot" help:"listing sort (hot, new)"`
	Limit     int    `arg:"-l,--limit" default:"25" help:"amount of posts to fetch (1-100)"`
	Next      bool   `arg:"-n,--next" help:"continue the newest saved batch instead of fetching the first page"`

	Directory string `arg:"-d,--dir" help:"app data directory (default ~/.myred)"`

	ListFetched    bool `arg:"--list" help:"list fetched subreddits and their batches, then exit"`
	VerboseLogging bool `arg:"-v,--verbose" help:"enable debug logging"`
}
