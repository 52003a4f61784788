package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zikzikkh/myred/api"
	"github.com/zikzikkh/myred/app"
	"github.com/zikzikkh/myred/batch"
	"github.com/zikzikkh/myred/download"
	"github.com/zikzikkh/myred/settings"
)

func main() {
	var args AppArguments
	p := arg.MustParse(&args)

	if args.VerboseLogging {
		log.Logger = log.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Level(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if !args.ListFetched && args.Subreddit == "" {
		p.Fail("you must provide a subreddit using -r or --subreddit")
	}
	if args.Sort != string(app.SortHot) && args.Sort != string(app.SortNew) {
		p.Fail("sort must be either hot or new")
	}

	log.Debug().Any("app_arguments", args).Send()

	if err := run(&args); err != nil {
		log.Fatal().Err(err).Msg("error running the app")
	}
}

func run(args *AppArguments) error {
	// CLIENT_ID/CLIENT_SECRET may come from a .env file next to the
	// binary; a missing file is fine.
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	root := args.Directory
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%w: couldn't resolve home directory", err)
		}
		root = filepath.Join(home, ".myred")
	}
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return fmt.Errorf("%w: couldn't create app directory(name=%s)", err, root)
	}

	store, err := settings.Open(filepath.Join(root, "myred.db"))
	if err != nil {
		return err
	}
	defer store.Close()

	httpClient := &http.Client{Timeout: time.Minute}
	auth := api.NewAuthenticator(os.Getenv("CLIENT_ID"), os.Getenv("CLIENT_SECRET"), root, store)
	client := api.NewClient(httpClient)
	persister := batch.NewPersister(root, download.New(root, httpClient))

	ctx := context.Background()
	a := app.New(ctx, auth, client, persister, store)

	if args.ListFetched {
		return listFetched(a)
	}

	if args.Next {
		if err := loadNewestBatch(a, persister, args.Subreddit); err != nil {
			return err
		}
		if err := a.FetchNextBatch(ctx, args.Limit); err != nil {
			return err
		}
	} else {
		if err := a.Fetch(ctx, args.Subreddit, app.Sort(args.Sort), args.Limit); err != nil {
			return err
		}
	}

	state := a.State()
	log.Info().
		Str("subreddit", state.Subreddit).
		Str("batch_file", state.BatchFile).
		Str("after", state.After).
		Msg("batch fetched, waiting for media downloads")

	// The orchestrator never awaits the media fan-out; a one-shot cli
	// invocation has to, or the process would exit mid-download.
	persister.Wait()

	return nil
}

func listFetched(a *app.App) error {
	if err := a.RefreshSubreddits(); err != nil {
		return err
	}
	for _, sub := range a.State().Subreddits {
		fmt.Println(sub)
		if err := a.SelectSubreddit(sub); err != nil {
			continue
		}
		for _, file := range a.State().BatchFiles {
			fmt.Printf("  %s\n", filepath.Base(file))
		}
	}
	return nil
}

// loadNewestBatch selects the most recent saved batch so FetchNextBatch
// has a cursor to continue from.
func loadNewestBatch(a *app.App, persister *batch.Persister, subreddit string) error {
	files, err := persister.Batches(subreddit)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no saved batches for %s, fetch a first page before using --next", subreddit)
	}
	return a.LoadBatch(files[0])
}
