// Package githubapi lists the organisations and repositories visible to the
// configured credentials using the GitHub GraphQL API.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/utilitywarehouse/repo-zoek/repolist"
)

const (
	DefaultPageSize     = 80
	DefaultPageInterval = 3 * time.Second

	// DefaultTimeout is the HTTP request timeout of a single page
	DefaultTimeout = 30 * time.Second
)

var ErrNoToken = errors.New("no API token configured")

// Options configures Client
type Options struct {
	// GraphQLURL of the API, empty for github.com
	GraphQLURL string
	// Token is a static personal access token, ignored if TokenSource is set
	Token       string
	TokenSource oauth2.TokenSource
	// PageSize is the number of repositories requested per page
	PageSize int
	// PageInterval is the minimum time between two page requests
	PageInterval time.Duration
}

// Client is a GitHub GraphQL API client
type Client struct {
	gql          *githubv4.Client
	pageSize     int
	pageInterval time.Duration
	log          *slog.Logger
}

// Organisation is an organisation the viewer is a member of
type Organisation struct {
	Login           string
	RepositoryCount int
}

// Page is a single page of organisation repositories
type Page struct {
	OrgName    string
	OrgLogin   string
	TotalCount int
	Records    []repolist.Record
}

// NewClient creates a client authenticated with the configured token
func NewClient(ctx context.Context, opts Options, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}

	ts := opts.TokenSource
	if ts == nil {
		if opts.Token == "" {
			return nil, ErrNoToken
		}
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	}

	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = DefaultTimeout

	c := &Client{
		pageSize:     opts.PageSize,
		pageInterval: opts.PageInterval,
		log:          log,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.pageInterval < 0 {
		c.pageInterval = 0
	}

	if opts.GraphQLURL == "" {
		c.gql = githubv4.NewClient(httpClient)
	} else {
		c.gql = githubv4.NewEnterpriseClient(opts.GraphQLURL, httpClient)
	}
	return c, nil
}

// Organisations returns the first 10 organisations of the viewer
func (c *Client) Organisations(ctx context.Context) ([]Organisation, error) {
	var q orgsQuery
	if err := c.gql.Query(ctx, &q, nil); err != nil {
		return nil, fmt.Errorf("unable to query organisations err:%w", err)
	}

	var orgs []Organisation
	for _, n := range q.Viewer.Organizations.Nodes {
		orgs = append(orgs, Organisation{
			Login:           string(n.Login),
			RepositoryCount: int(n.Repositories.TotalCount),
		})
	}
	return orgs, nil
}

// Repositories returns a lazy sequence of repository pages of given
// organisation. Requests are paced so that two pages are never requested
// within the configured page interval. The sequence ends after the last page
// or with the first error.
func (c *Client) Repositories(ctx context.Context, orgLogin string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if orgLogin == "" {
			yield(Page{}, fmt.Errorf("organisation login name is required"))
			return
		}

		limit := rate.Inf
		if c.pageInterval > 0 {
			limit = rate.Every(c.pageInterval)
		}
		limiter := rate.NewLimiter(limit, 1)

		variables := map[string]interface{}{
			"orgLogin": githubv4.String(orgLogin),
			"first":    githubv4.Int(c.pageSize),
			"after":    (*githubv4.String)(nil),
		}

		for pageNo := 1; ; pageNo++ {
			if err := limiter.Wait(ctx); err != nil {
				yield(Page{}, err)
				return
			}

			var q reposQuery
			start := time.Now()
			if err := c.gql.Query(ctx, &q, variables); err != nil {
				yield(Page{}, fmt.Errorf("unable to query repositories of %s page %d err:%w", orgLogin, pageNo, err))
				return
			}

			repos := q.Organization.Repositories
			c.log.Debug("repository page received", "org", orgLogin, "page", pageNo,
				"count", len(repos.Nodes), "total", repos.TotalCount, "duration", time.Since(start))

			page := Page{
				OrgName:    string(q.Organization.Name),
				OrgLogin:   string(q.Organization.Login),
				TotalCount: int(repos.TotalCount),
			}
			for _, n := range repos.Nodes {
				page.Records = append(page.Records, n.record())
			}
			if !yield(page, nil) {
				return
			}

			if !repos.PageInfo.HasNextPage {
				return
			}
			if repos.PageInfo.EndCursor == "" {
				yield(Page{}, fmt.Errorf("page %d of %s has next page but no end cursor", pageNo, orgLogin))
				return
			}
			variables["after"] = githubv4.NewString(repos.PageInfo.EndCursor)
		}
	}
}
