package githubapi

import (
	"github.com/shurcooL/githubv4"

	"github.com/utilitywarehouse/repo-zoek/repolist"
)

// query orgs {
//   viewer {
//     login
//     organizations(first: 10) { nodes { login repositories { totalCount } } }
//   }
// }
type orgsQuery struct {
	Viewer struct {
		Login         githubv4.String
		Organizations struct {
			Nodes []struct {
				Login        githubv4.String
				Repositories struct {
					TotalCount githubv4.Int
				}
			}
		} `graphql:"organizations(first: 10)"`
	}
}

type reposQuery struct {
	Organization struct {
		Name         githubv4.String
		Login        githubv4.String
		Repositories struct {
			Nodes    []repositoryNode
			PageInfo struct {
				EndCursor   githubv4.String
				HasNextPage githubv4.Boolean
			}
			TotalCount githubv4.Int
		} `graphql:"repositories(first: $first, after: $after)"`
	} `graphql:"organization(login: $orgLogin)"`
}

type repositoryNode struct {
	Name       githubv4.String
	CreatedAt  githubv4.DateTime
	DiskUsage  *githubv4.Int
	IsDisabled githubv4.Boolean
	IsEmpty    githubv4.Boolean
	Labels     struct {
		Nodes []struct {
			Name githubv4.String
		}
	} `graphql:"labels(first: 10)"`
	PrimaryLanguage *struct {
		Name githubv4.String
	}
	SSHURL githubv4.String `graphql:"sshUrl"`
	URL    githubv4.String `graphql:"url"`
}

func (n repositoryNode) record() repolist.Record {
	r := repolist.Record{
		Name:       string(n.Name),
		CreatedAt:  n.CreatedAt.Time,
		IsDisabled: bool(n.IsDisabled),
		IsEmpty:    bool(n.IsEmpty),
		Labels:     repolist.Labels{Nodes: []repolist.Label{}},
		SSHURL:     string(n.SSHURL),
		URL:        string(n.URL),
	}
	if n.DiskUsage != nil {
		v := int64(*n.DiskUsage)
		r.DiskUsage = &v
	}
	for _, l := range n.Labels.Nodes {
		r.Labels.Nodes = append(r.Labels.Nodes, repolist.Label{Name: string(l.Name)})
	}
	if n.PrimaryLanguage != nil {
		r.PrimaryLanguage = &repolist.Language{Name: string(n.PrimaryLanguage.Name)}
	}
	return r
}
