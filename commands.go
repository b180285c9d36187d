package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Nbk-Juno/rss-gator/backend"
	"github.com/Nbk-Juno/rss-gator/backend/data"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
	"github.com/vaughan0/go-ini"
	"golang.org/x/sync/errgroup"
	log "gopkg.in/inconshreveable/log15.v2"
)

type environment struct {
	conf        ini.File
	logger      log.Logger
	store       data.Store
	sessionPath string
	out         io.Writer
}

type EnvActionFunc func(c *cli.Context, env *environment) error

type UserActionFunc func(c *cli.Context, env *environment, user *data.User) error

// withEnv loads the configuration, logger and store before running f and
// closes the store afterwards.
func withEnv(f EnvActionFunc) func(c *cli.Context) error {
	return func(c *cli.Context) error {
		conf, err := loadConfig(c.GlobalString("config"))
		if err != nil {
			return err
		}

		logger, err := newLogger(conf)
		if err != nil {
			return err
		}

		path, err := sessionPath(conf)
		if err != nil {
			return err
		}

		store, err := newStore(context.Background(), conf, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		env := &environment{conf: conf, logger: logger, store: store, sessionPath: path, out: c.App.Writer}
		return f(c, env)
	}
}

// requireUser resolves the session to a user once and hands it to f.
func requireUser(f UserActionFunc) EnvActionFunc {
	return func(c *cli.Context, env *environment) error {
		name, err := readSession(env.sessionPath)
		if err != nil {
			return err
		}
		if name == "" {
			return errNotLoggedIn
		}

		user, err := env.store.SelectUserByName(context.Background(), name)
		if errors.Is(err, data.ErrNotFound) {
			return fmt.Errorf("current user %s does not exist: %w", name, errNotLoggedIn)
		} else if err != nil {
			return err
		}

		return f(c, env, user)
	}
}

func usageError(c *cli.Context) error {
	return fmt.Errorf("usage: %s %s %s", c.App.Name, c.Command.Name, c.Command.ArgsUsage)
}

func userNameArg(c *cli.Context) (string, error) {
	if len(c.Args()) != 1 {
		return "", usageError(c)
	}
	name := strings.TrimSpace(c.Args().First())
	if name == "" {
		return "", errors.New("user name cannot be blank")
	}
	return name, nil
}

func Register(c *cli.Context, env *environment) error {
	name, err := userNameArg(c)
	if err != nil {
		return err
	}

	user, err := env.store.CreateUser(context.Background(), name)
	var dupErr data.DuplicationError
	if errors.As(err, &dupErr) {
		return fmt.Errorf("user %s already exists", name)
	} else if err != nil {
		return err
	}

	if err := writeSession(env.sessionPath, user.Name); err != nil {
		return err
	}

	fmt.Fprintf(env.out, "User %s created\n", user.Name)
	return nil
}

func Login(c *cli.Context, env *environment) error {
	name, err := userNameArg(c)
	if err != nil {
		return err
	}

	user, err := env.store.SelectUserByName(context.Background(), name)
	if errors.Is(err, data.ErrNotFound) {
		return fmt.Errorf("user %s does not exist", name)
	} else if err != nil {
		return err
	}

	if err := writeSession(env.sessionPath, user.Name); err != nil {
		return err
	}

	fmt.Fprintf(env.out, "Logged in as %s\n", user.Name)
	return nil
}

func Reset(c *cli.Context, env *environment) error {
	err := env.store.DeleteAllUsers(context.Background())
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	fmt.Fprintln(env.out, "Database reset")
	return nil
}

func Users(c *cli.Context, env *environment) error {
	current, err := readSession(env.sessionPath)
	if err != nil {
		return err
	}

	users, err := env.store.SelectUsers(context.Background())
	if err != nil {
		return err
	}

	for _, u := range users {
		if u.Name == current {
			fmt.Fprintf(env.out, "* %s (current)\n", u.Name)
		} else {
			fmt.Fprintf(env.out, "* %s\n", u.Name)
		}
	}
	return nil
}

// Aggregate validates the interval before touching the configuration so a
// malformed token fails fast.
func Aggregate(c *cli.Context) error {
	if len(c.Args()) != 1 {
		return usageError(c)
	}

	interval, err := backend.ParseInterval(c.Args().First())
	if err != nil {
		return err
	}

	return withEnv(func(c *cli.Context, env *environment) error {
		return runAggregator(c, env, interval)
	})(c)
}

func runAggregator(c *cli.Context, env *environment, interval time.Duration) error {
	config, err := loadAggConfig(env.conf)
	if err != nil {
		return err
	}
	if c.IsSet("status-addr") {
		config.statusAddress = c.String("status-addr")
	}

	fetcher := backend.NewFeedFetcher(config.fetcher, env.logger.New("module", "fetcher"))
	updater := backend.NewFeedUpdater(env.store, env.store, fetcher, env.logger.New("module", "feedUpdater"))
	updater.StopTimeout = config.stopTimeout

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(env.out, "Collecting feeds every %s\n", backend.FormatInterval(interval))
	if err := updater.Start(interval); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var server *http.Server
	if config.statusAddress != "" {
		server = &http.Server{
			Addr:    config.statusAddress,
			Handler: backend.NewStatusHandler(updater, env.logger.New("module", "http")),
		}
		g.Go(func() error {
			env.logger.Info("serving status", "address", config.statusAddress)
			err := server.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		env.logger.Info("shutting down")

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				env.logger.Error("status server shutdown failed", "error", err)
			}
		}

		return updater.Stop()
	})

	err = g.Wait()

	status := updater.Status()
	fmt.Fprintf(env.out, "Stopped after %s ticks\n", humanize.Comma(status.Ticks))
	return err
}

func AddFeed(c *cli.Context, env *environment, user *data.User) error {
	if len(c.Args()) != 2 {
		return usageError(c)
	}
	name, url := c.Args().Get(0), c.Args().Get(1)
	ctx := context.Background()

	feed, err := env.store.CreateFeed(ctx, name, url, user.ID)
	var dupErr data.DuplicationError
	if errors.As(err, &dupErr) {
		return fmt.Errorf("a feed with URL %s already exists", url)
	} else if err != nil {
		return err
	}

	follow, err := env.store.CreateFeedFollow(ctx, user.ID, feed.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.out, "Feed %s added (%s)\n", feed.Name, feed.URL)
	fmt.Fprintf(env.out, "%s now follows %s\n", follow.UserName, follow.FeedName)
	return nil
}

func Feeds(c *cli.Context, env *environment) error {
	feeds, err := env.store.SelectFeeds(context.Background())
	if err != nil {
		return err
	}

	for _, f := range feeds {
		lastFetched := "never"
		if f.LastFetchedAt != nil {
			lastFetched = humanize.Time(*f.LastFetchedAt)
		}
		fmt.Fprintf(env.out, "* %s\n  URL:          %s\n  Added by:     %s\n  Last fetched: %s\n", f.Name, f.URL, f.UserName, lastFetched)
	}
	return nil
}

func Follow(c *cli.Context, env *environment, user *data.User) error {
	if len(c.Args()) != 1 {
		return usageError(c)
	}
	url := c.Args().First()
	ctx := context.Background()

	feed, err := env.store.SelectFeedByURL(ctx, url)
	if errors.Is(err, data.ErrNotFound) {
		return fmt.Errorf("no feed with URL %s", url)
	} else if err != nil {
		return err
	}

	follow, err := env.store.CreateFeedFollow(ctx, user.ID, feed.ID)
	var dupErr data.DuplicationError
	if errors.As(err, &dupErr) {
		return fmt.Errorf("%s already follows %s", user.Name, feed.Name)
	} else if err != nil {
		return err
	}

	fmt.Fprintf(env.out, "%s now follows %s\n", follow.UserName, follow.FeedName)
	return nil
}

func Following(c *cli.Context, env *environment, user *data.User) error {
	follows, err := env.store.SelectFeedFollowsForUser(context.Background(), user.ID)
	if err != nil {
		return err
	}

	if len(follows) == 0 {
		fmt.Fprintf(env.out, "%s does not follow any feeds\n", user.Name)
		return nil
	}
	for _, ff := range follows {
		fmt.Fprintf(env.out, "* %s\n", ff.FeedName)
	}
	return nil
}

func Unfollow(c *cli.Context, env *environment, user *data.User) error {
	if len(c.Args()) != 1 {
		return usageError(c)
	}
	url := c.Args().First()

	err := env.store.DeleteFeedFollow(context.Background(), user.ID, url)
	if errors.Is(err, data.ErrNotFound) {
		return fmt.Errorf("%s does not follow %s", user.Name, url)
	} else if err != nil {
		return err
	}

	fmt.Fprintf(env.out, "%s unfollowed %s\n", user.Name, url)
	return nil
}

const defaultBrowseLimit = 2

func Browse(c *cli.Context, env *environment, user *data.User) error {
	limit := defaultBrowseLimit
	switch len(c.Args()) {
	case 0:
	case 1:
		n, err := strconv.Atoi(c.Args().First())
		if err != nil || n <= 0 {
			return fmt.Errorf("limit must be a positive integer, got %q", c.Args().First())
		}
		limit = n
	default:
		return usageError(c)
	}

	posts, err := env.store.SelectPostsForUser(context.Background(), user.ID, limit)
	if err != nil {
		return err
	}

	for _, p := range posts {
		published := "unknown date"
		if p.PublishedAt != nil {
			published = humanize.Time(*p.PublishedAt)
		}
		fmt.Fprintf(env.out, "%s (%s, %s)\n  %s\n", p.Title, p.FeedName, published, p.URL)
		if p.Description != nil {
			fmt.Fprintf(env.out, "  %s\n", *p.Description)
		}
	}
	return nil
}
