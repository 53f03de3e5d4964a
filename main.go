package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/utilitywarehouse/repo-zoek/config"
	"github.com/utilitywarehouse/repo-zoek/index"
	"github.com/utilitywarehouse/repo-zoek/mirror"
	"github.com/utilitywarehouse/repo-zoek/repolist"
)

var (
	loggerLevel = new(slog.LevelVar)
	logger      *slog.Logger

	levelStrings = map[string]slog.Level{
		"trace": slog.Level(-8),
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	gitExecutablePath = exec.Command("git").String()

	metricsOnce sync.Once
)

func init() {
	loggerLevel.Set(slog.LevelInfo)
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loggerLevel,
	}))
}

func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "dir",
			Aliases: []string{"d"},
			Sources: cli.EnvVars(config.EnvDir),
			Usage:   "repo-zoek project dir",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Sources: cli.EnvVars("LOG_LEVEL"),
			Value:   "info",
			Usage:   "Log level (trace, debug, info, warn or error)",
		},
		&cli.StringFlag{
			Name:    "metrics-textfile",
			Sources: cli.EnvVars("REPO_ZOEK_METRICS_TEXTFILE"),
			Usage:   "Path of a prometheus textfile collector file to write metrics to after a sync",
		},
	}
}

func fullFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "full",
		Aliases: []string{"f"},
		Usage:   "does a full (with all history & branches) clone/pull instead of only the newest commit",
	}
}

func enableMetrics() {
	metricsOnce.Do(func() {
		mirror.EnableMetrics("", prometheus.DefaultRegisterer)
		index.EnableMetrics("", prometheus.DefaultRegisterer)
	})
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "repo-zoek",
		Usage: "Lists, mirrors and indexes the repositories of a GitHub organisation",
		Flags: rootFlags(),
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// set log level according to argument
			if v, ok := levelStrings[strings.ToLower(c.String("log-level"))]; ok {
				loggerLevel.Set(v)
			}
			enableMetrics()
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			path := c.String("metrics-textfile")
			if path == "" {
				return nil
			}
			if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
				logger.Error("unable to write metrics textfile", "path", path, "err", err)
			}
			return nil
		},
		Commands: []*cli.Command{
			initCommand(),
			orgCommand(),
			syncCommand(),
			serveCommand(),
		},
		Description: `Zoekt resources:
   https://github.com/sourcegraph/zoekt/blob/main/doc/design.md
   https://github.com/sourcegraph/zoekt/blob/main/doc/faq.md`,
	}
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "init repo-zoek project dir",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "org", Usage: "login name of the organisation, can be set later with 'org set'"},
			&cli.StringFlag{Name: "graphql-url", Value: config.DefaultGraphQLURL, Usage: "GitHub GraphQL API url, change for GitHub Enterprise"},
			&cli.StringFlag{Name: "clone-url-field", Value: repolist.CloneURLFieldSSH, Usage: "record field used as clone url ('sshUrl' or 'url')"},
			&cli.Int64Flag{Name: "max-disk-usage-kb", Usage: "skip repositories larger than this size, 0 means no limit"},
			&cli.StringSliceFlag{Name: "blacklist", Usage: "names of repositories which are never mirrored"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			dir := c.Args().First()
			if dir == "" {
				dir = c.String("dir")
			}
			if dir == "" {
				dir = "~/repo-search"
			}

			conf := config.Config{
				GithubGraphQLURL: c.String("graphql-url"),
				OrgLogin:         c.String("org"),
				CloneURLField:    c.String("clone-url-field"),
				Blacklist:        c.StringSlice("blacklist"),
			}
			if v := c.Int64("max-disk-usage-kb"); v > 0 {
				conf.MaxDiskUsageKB = &v
			}

			created, err := config.Init(dir, conf)
			if err != nil {
				return err
			}
			logger.Info("project created", "config", created.Path())
			fmt.Fprintf(c.Root().Writer, "add \"%s=%s\" to your env or use --dir %s\n", config.EnvDir, created.Base(), created.Base())
			return nil
		},
	}
}

func orgCommand() *cli.Command {
	return &cli.Command{
		Name:  "org",
		Usage: "organisation related commands",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list organisations of the token owner",
				Action: func(ctx context.Context, c *cli.Command) error {
					p, err := loadProject(c)
					if err != nil {
						return err
					}
					orgs, err := p.organisations(ctx)
					if err != nil {
						return err
					}
					for _, o := range orgs {
						fmt.Fprintf(c.Root().Writer, "%s\t%d repositories\n", o.Login, o.RepositoryCount)
					}
					return nil
				},
			},
			{
				Name:      "set",
				Usage:     "set the organisation",
				ArgsUsage: "<login>",
				Action: func(ctx context.Context, c *cli.Command) error {
					login := c.Args().First()
					if login == "" {
						return fmt.Errorf("organisation login name is required")
					}
					p, err := loadProject(c)
					if err != nil {
						return err
					}
					logger.Info("changing organisation", "current", p.conf.OrgLogin, "new", login)
					p.conf.OrgLogin = login
					return p.conf.Save()
				},
			},
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "sync repo list, repos and index",
		Commands: []*cli.Command{
			{
				Name:  "repolist",
				Usage: "query GitHub API and cache the repo list",
				Action: func(ctx context.Context, c *cli.Command) error {
					p, err := loadProject(c)
					if err != nil {
						return err
					}
					_, err = p.syncRepoList(ctx)
					return err
				},
			},
			{
				Name:  "repos",
				Usage: "clone or update repos from the cached repo list",
				Flags: []cli.Flag{
					fullFlag(),
					&cli.BoolFlag{
						Name:  "prune",
						Usage: "remove mirrors of repositories which are no longer in the repo list",
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					p, err := loadProject(c)
					if err != nil {
						return err
					}
					_, err = p.syncRepos(ctx, c.Bool("full"), c.Bool("prune"))
					return err
				},
			},
			{
				Name:  "index",
				Usage: "update the zoekt index",
				Action: func(ctx context.Context, c *cli.Command) error {
					p, err := loadProject(c)
					if err != nil {
						return err
					}
					_, err = p.syncIndex(ctx)
					return err
				},
			},
			{
				Name:  "all",
				Usage: "run sync repolist, repos & index",
				Flags: []cli.Flag{fullFlag()},
				Action: func(ctx context.Context, c *cli.Command) error {
					p, err := loadProject(c)
					if err != nil {
						return err
					}
					return p.syncAll(ctx, c.Bool("full"))
				},
			},
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "periodically run sync all and serve metrics and GitHub webhook",
		Flags: []cli.Flag{
			fullFlag(),
			&cli.DurationFlag{
				Name:    "interval",
				Sources: cli.EnvVars("REPO_ZOEK_INTERVAL"),
				Value:   time.Hour,
				Usage:   "time to wait between two sync runs",
			},
			&cli.StringFlag{
				Name:    "listen",
				Sources: cli.EnvVars("REPO_ZOEK_LISTEN"),
				Value:   ":9001",
				Usage:   "address the http server listens on",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("GITHUB_WEBHOOK_SECRET"),
				Usage:   "secret of the GitHub webhook, webhook endpoint is disabled if empty",
			},
			&cli.StringFlag{
				Name:  "webhook-path",
				Value: "/github-webhook",
				Usage: "path of the GitHub webhook endpoint",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			p, err := loadProject(c)
			if err != nil {
				return err
			}
			return p.serve(ctx, serveOptions{
				interval:      c.Duration("interval"),
				listen:        c.String("listen"),
				webhookSecret: c.String("webhook-secret"),
				webhookPath:   c.String("webhook-path"),
				withHistory:   c.Bool("full"),
			})
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		logger.Error("failed to run app", "err", err)
		stop()
		os.Exit(1)
	}
}
