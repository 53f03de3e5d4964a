package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/utilitywarehouse/repo-zoek/auth"
	"github.com/utilitywarehouse/repo-zoek/config"
	"github.com/utilitywarehouse/repo-zoek/githubapi"
	"github.com/utilitywarehouse/repo-zoek/index"
	"github.com/utilitywarehouse/repo-zoek/internal/lock"
	"github.com/utilitywarehouse/repo-zoek/mirror"
	"github.com/utilitywarehouse/repo-zoek/repolist"
)

const envGithubToken = "GITHUB_PAT"

var errNotCached = errors.New("repository is not in the repo list")

// project ties the loaded config to the mirror engine and the indexer
type project struct {
	conf    *config.Config
	log     *slog.Logger
	engine  *mirror.Engine
	indexer *index.Indexer

	// zoekt-index shards are shared between repos so index runs are serialised
	indexMu lock.Mutex
}

func loadProject(c *cli.Command) (*project, error) {
	conf, err := config.Load(c.String("dir"))
	if err != nil {
		return nil, err
	}
	return newProject(conf, logger), nil
}

func newProject(conf *config.Config, log *slog.Logger) *project {
	return &project{
		conf: conf,
		log:  log,
		engine: &mirror.Engine{
			Executor:   mirror.NewGitExecutor(mirror.GitExecutorConfig{Auth: conf.GitAuth()}, log),
			Inspector:  mirror.NewGoGitInspector(log),
			Log:        log,
			GitTimeout: conf.GitTimeout,
		},
		indexer: &index.Indexer{
			Bin:     conf.ZoektIndexBin,
			Timeout: conf.ZoektIndexTimeout,
			Log:     log,
		},
	}
}

func (p *project) newAPIClient(ctx context.Context) (*githubapi.Client, error) {
	opts := githubapi.Options{
		GraphQLURL:   p.conf.GithubGraphQLURL,
		PageSize:     p.conf.PageSize,
		PageInterval: p.conf.PageInterval,
	}

	if app, ok := p.conf.GithubApp(); ok {
		p.log.Debug("using github app auth", "app-id", app.AppID)
		opts.TokenSource = auth.NewAppTokenSource(ctx, app)
	} else {
		opts.Token = os.Getenv(envGithubToken)
	}

	client, err := githubapi.NewClient(ctx, opts, p.log)
	if errors.Is(err, githubapi.ErrNoToken) {
		return nil, fmt.Errorf("%w, set %s or configure github app auth", err, envGithubToken)
	}
	return client, err
}

func (p *project) organisations(ctx context.Context) ([]githubapi.Organisation, error) {
	client, err := p.newAPIClient(ctx)
	if err != nil {
		return nil, err
	}
	return client.Organisations(ctx)
}

// syncRepoList queries all repositories of the configured organisation and
// replaces the cached repo list. The cache is untouched if any page fails.
func (p *project) syncRepoList(ctx context.Context) (int, error) {
	if p.conf.OrgLogin == "" {
		return 0, fmt.Errorf("organisation is not set, use 'org set <login>'")
	}

	client, err := p.newAPIClient(ctx)
	if err != nil {
		return 0, err
	}

	w, err := repolist.Create(p.conf.RepoListPath())
	if err != nil {
		return 0, err
	}

	start := time.Now()
	for page, err := range client.Repositories(ctx, p.conf.OrgLogin) {
		if err != nil {
			w.Abort()
			return 0, fmt.Errorf("unable to list repositories of %s err:%w", p.conf.OrgLogin, err)
		}
		for _, r := range page.Records {
			if err := w.Write(r); err != nil {
				w.Abort()
				return 0, err
			}
		}
		p.log.Info("fetched repositories", "org", page.OrgLogin, "count", w.Count(), "total", page.TotalCount)
	}

	if err := w.Commit(); err != nil {
		return 0, err
	}
	p.log.Info("repo list updated", "path", p.conf.RepoListPath(), "repos", w.Count(), "duration", time.Since(start))
	return w.Count(), nil
}

// syncRepos reconciles the mirror root with the cached repo list. Failures
// of single repositories are only reported, the returned error is set when
// the run itself could not complete.
func (p *project) syncRepos(ctx context.Context, withHistory, prune bool) (mirror.Summary, error) {
	var summary mirror.Summary

	outcomes, err := p.engine.Reconcile(ctx,
		repolist.Read(p.conf.RepoListPath(), p.conf.CloneURLField),
		p.conf.Policy(withHistory),
		p.conf.ReposPath(),
	)
	if err != nil {
		return summary, err
	}

	var runErr error
	for o, err := range outcomes {
		if err != nil {
			runErr = err
			break
		}
		summary.Add(o)
	}

	p.logSummary(summary)

	if runErr != nil {
		return summary, runErr
	}

	if prune {
		known, err := repolist.Names(p.conf.RepoListPath())
		if err != nil {
			return summary, err
		}
		cleanupOrphanedRepos(ctx, p.conf.ReposPath(), known)
	}

	return summary, nil
}

func (p *project) logSummary(s mirror.Summary) {
	args := []any{"total", s.Total()}
	for _, a := range mirror.Actions {
		if n := s.Counts[a]; n > 0 {
			args = append(args, string(a), n)
		}
	}
	p.log.Info("repos synced", args...)

	for _, o := range s.Failed {
		p.log.Error("repo sync failed", "repo", o.Name, "step", o.Step, "exit-code", o.ExitCode, "detail", o.Detail)
	}
}

func (p *project) syncIndex(ctx context.Context) (index.Summary, error) {
	p.indexMu.Lock()
	defer p.indexMu.Unlock()

	s, err := p.indexer.IndexAll(ctx, p.conf.ReposPath(), p.conf.IndexPath(), p.conf.Blacklist)
	if err != nil {
		return s, err
	}
	p.log.Info("index updated", "indexed", len(s.Indexed), "skipped", len(s.Skipped), "failed", len(s.Failed))
	return s, nil
}

func (p *project) syncAll(ctx context.Context, withHistory bool) error {
	if _, err := p.syncRepoList(ctx); err != nil {
		return err
	}
	if _, err := p.syncRepos(ctx, withHistory, false); err != nil {
		return err
	}
	_, err := p.syncIndex(ctx)
	return err
}

// syncOne mirrors and indexes a single cached repository
func (p *project) syncOne(ctx context.Context, name string, withHistory bool) error {
	d, ok, err := repolist.Lookup(p.conf.RepoListPath(), p.conf.CloneURLField, name)
	if err != nil {
		return err
	}
	if !ok {
		return errNotCached
	}

	o, err := p.engine.ReconcileOne(ctx, d, p.conf.Policy(withHistory), p.conf.ReposPath())
	if err != nil {
		return err
	}
	switch {
	case o.Action.Skipped():
		p.log.Info("repo skipped", "repo", name, "action", o.Action, "detail", o.Detail)
		return nil
	case !o.Action.Succeeded():
		return fmt.Errorf("%s: %s", o.Action, o.Detail)
	}

	p.indexMu.Lock()
	defer p.indexMu.Unlock()
	return p.indexer.IndexOne(ctx, p.conf.ReposPath(), p.conf.IndexPath(), name)
}
