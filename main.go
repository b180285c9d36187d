package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const version = "0.1.0"

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "gator"
	app.Usage = "RSS feed aggregator"
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config, c", Value: defaultConfigPath, Usage: "path to config file"},
	}

	app.Commands = []cli.Command{
		{
			Name:      "register",
			Usage:     "create a user and log in as them",
			ArgsUsage: "NAME",
			Action:    withEnv(Register),
		},
		{
			Name:      "login",
			Usage:     "log in as an existing user",
			ArgsUsage: "NAME",
			Action:    withEnv(Login),
		},
		{
			Name:   "reset",
			Usage:  "delete all users and everything they own",
			Action: withEnv(Reset),
		},
		{
			Name:   "users",
			Usage:  "list users",
			Action: withEnv(Users),
		},
		{
			Name:      "agg",
			Usage:     "collect feeds until interrupted",
			ArgsUsage: "TIME_BETWEEN_REQS",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "status-addr", Usage: "serve updater status on this address"},
			},
			Action: Aggregate,
		},
		{
			Name:      "addfeed",
			Usage:     "add a feed and follow it",
			ArgsUsage: "NAME URL",
			Action:    withEnv(requireUser(AddFeed)),
		},
		{
			Name:   "feeds",
			Usage:  "list all feeds",
			Action: withEnv(Feeds),
		},
		{
			Name:      "follow",
			Usage:     "follow an existing feed",
			ArgsUsage: "URL",
			Action:    withEnv(requireUser(Follow)),
		},
		{
			Name:   "following",
			Usage:  "list the feeds you follow",
			Action: withEnv(requireUser(Following)),
		},
		{
			Name:      "unfollow",
			Usage:     "stop following a feed",
			ArgsUsage: "URL",
			Action:    withEnv(requireUser(Unfollow)),
		},
		{
			Name:      "browse",
			Usage:     "show the newest posts from the feeds you follow",
			ArgsUsage: "[LIMIT]",
			Action:    withEnv(requireUser(Browse)),
		},
		{
			Name:      "import",
			Usage:     "follow every feed in an OPML file",
			ArgsUsage: "FILE",
			Action:    withEnv(requireUser(ImportOPML)),
		},
		{
			Name:   "export",
			Usage:  "print the feeds you follow as OPML",
			Action: withEnv(requireUser(ExportOPML)),
		},
	}

	return app
}

func main() {
	err := newApp().Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
