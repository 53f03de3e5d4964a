package githubapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/utilitywarehouse/repo-zoek/repolist"
)

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// fakeAPI serves canned GraphQL responses and records received requests
type fakeAPI struct {
	mu       sync.Mutex
	requests []gqlRequest
	times    []time.Time
	respond  func(req gqlRequest) string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
		http.Error(w, "bad credentials "+got, http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.times = append(f.times, time.Now())
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, f.respond(req))
}

func newTestClient(t *testing.T, api *fakeAPI, interval time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	c, err := NewClient(context.TODO(), Options{
		GraphQLURL:   server.URL,
		Token:        "test-token",
		PageSize:     2,
		PageInterval: interval,
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func reposPage(cursor string, hasNext bool, nodes ...string) string {
	return fmt.Sprintf(`{"data":{"organization":{"name":"My Org","login":"my-org","repositories":{"nodes":[%s],"pageInfo":{"endCursor":%q,"hasNextPage":%v},"totalCount":3}}}}`,
		strings.Join(nodes, ","), cursor, hasNext)
}

const (
	nodeA = `{"name":"a","createdAt":"2020-01-02T03:04:05Z","diskUsage":120,"isDisabled":false,"isEmpty":false,"labels":{"nodes":[{"name":"l1"}]},"primaryLanguage":{"name":"Go"},"sshUrl":"git@github.com:my-org/a.git","url":"https://github.com/my-org/a"}`
	nodeB = `{"name":"b","createdAt":"2020-01-02T03:04:05Z","diskUsage":null,"isDisabled":true,"isEmpty":true,"labels":{"nodes":[]},"primaryLanguage":null,"sshUrl":"git@github.com:my-org/b.git","url":"https://github.com/my-org/b"}`
	nodeC = `{"name":"c","createdAt":"2021-01-02T03:04:05Z","diskUsage":7,"isDisabled":false,"isEmpty":false,"labels":{"nodes":[]},"primaryLanguage":null,"sshUrl":"git@github.com:my-org/c.git","url":"https://github.com/my-org/c"}`
)

func TestRepositories(t *testing.T) {
	api := &fakeAPI{respond: func(req gqlRequest) string {
		switch req.Variables["after"] {
		case nil:
			return reposPage("cursor-1", true, nodeA, nodeB)
		case "cursor-1":
			return reposPage("cursor-2", false, nodeC)
		}
		return `{"errors":[{"message":"unexpected cursor"}]}`
	}}
	interval := 100 * time.Millisecond
	c := newTestClient(t, api, interval)

	var got []string
	var pages int
	for page, err := range c.Repositories(context.TODO(), "my-org") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		pages++
		if page.OrgLogin != "my-org" || page.OrgName != "My Org" || page.TotalCount != 3 {
			t.Errorf("unexpected page metadata %+v", page)
		}
		for _, r := range page.Records {
			got = append(got, r.Name)
		}
	}

	if pages != 2 {
		t.Errorf("expected 2 pages got %d", pages)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	if len(api.requests) != 2 {
		t.Fatalf("expected 2 requests got %d", len(api.requests))
	}
	first := api.requests[0]
	if first.Variables["orgLogin"] != "my-org" || first.Variables["first"] != float64(2) {
		t.Errorf("unexpected variables %v", first.Variables)
	}
	if !strings.Contains(first.Query, "repositories(first: $first, after: $after)") {
		t.Errorf("unexpected query %s", first.Query)
	}
	if gap := api.times[1].Sub(api.times[0]); gap < interval-10*time.Millisecond {
		t.Errorf("pages requested %s apart, expected at least %s", gap, interval)
	}
}

func TestRepositories_records(t *testing.T) {
	api := &fakeAPI{respond: func(gqlRequest) string { return reposPage("", false, nodeA, nodeB) }}
	c := newTestClient(t, api, 0)

	var got []repolist.Record
	for page, err := range c.Repositories(context.TODO(), "my-org") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got = append(got, page.Records...)
	}

	size := int64(120)
	created := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	want := []repolist.Record{
		{
			Name:            "a",
			CreatedAt:       created,
			DiskUsage:       &size,
			Labels:          repolist.Labels{Nodes: []repolist.Label{{Name: "l1"}}},
			PrimaryLanguage: &repolist.Language{Name: "Go"},
			SSHURL:          "git@github.com:my-org/a.git",
			URL:             "https://github.com/my-org/a",
		},
		{
			Name:       "b",
			CreatedAt:  created,
			IsDisabled: true,
			IsEmpty:    true,
			Labels:     repolist.Labels{Nodes: []repolist.Label{}},
			SSHURL:     "git@github.com:my-org/b.git",
			URL:        "https://github.com/my-org/b",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestRepositories_errors(t *testing.T) {
	t.Run("empty org", func(t *testing.T) {
		api := &fakeAPI{respond: func(gqlRequest) string { return "" }}
		c := newTestClient(t, api, 0)
		for _, err := range c.Repositories(context.TODO(), "") {
			if err == nil {
				t.Errorf("expected error for empty org login")
			}
		}
		if len(api.requests) != 0 {
			t.Errorf("expected no requests got %d", len(api.requests))
		}
	})

	t.Run("graphql error stops sequence", func(t *testing.T) {
		api := &fakeAPI{respond: func(req gqlRequest) string {
			if req.Variables["after"] == nil {
				return reposPage("cursor-1", true, nodeA)
			}
			return `{"data":null,"errors":[{"message":"Could not resolve to an Organization"}]}`
		}}
		c := newTestClient(t, api, 0)

		var pages int
		var gotErr error
		for _, err := range c.Repositories(context.TODO(), "my-org") {
			if err != nil {
				gotErr = err
				continue
			}
			pages++
		}
		if pages != 1 || gotErr == nil || !strings.Contains(gotErr.Error(), "Could not resolve") {
			t.Errorf("expected 1 page and graphql error, got pages=%d err=%v", pages, gotErr)
		}
	})

	t.Run("missing cursor", func(t *testing.T) {
		api := &fakeAPI{respond: func(gqlRequest) string { return reposPage("", true, nodeA) }}
		c := newTestClient(t, api, 0)

		var gotErr error
		for _, err := range c.Repositories(context.TODO(), "my-org") {
			gotErr = err
		}
		if gotErr == nil || len(api.requests) != 1 {
			t.Errorf("expected end cursor error after 1 request, got err=%v requests=%d", gotErr, len(api.requests))
		}
	})

	t.Run("cancelled while pacing", func(t *testing.T) {
		api := &fakeAPI{respond: func(gqlRequest) string { return reposPage("cursor-1", true, nodeA) }}
		c := newTestClient(t, api, time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var gotErr error
		for _, err := range c.Repositories(ctx, "my-org") {
			if err != nil {
				gotErr = err
				break
			}
			cancel()
		}
		if !errors.Is(gotErr, context.Canceled) {
			t.Errorf("expected context.Canceled got %v", gotErr)
		}
	})
}

func TestOrganisations(t *testing.T) {
	api := &fakeAPI{respond: func(req gqlRequest) string {
		if !strings.Contains(req.Query, "organizations(first: 10)") {
			return `{"errors":[{"message":"unexpected query"}]}`
		}
		return `{"data":{"viewer":{"login":"me","organizations":{"nodes":[{"login":"org-1","repositories":{"totalCount":12}},{"login":"org-2","repositories":{"totalCount":0}}]}}}}`
	}}
	c := newTestClient(t, api, 0)

	got, err := c.Organisations(context.TODO())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Organisation{{Login: "org-1", RepositoryCount: 12}, {Login: "org-2"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Organisations() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewClient_noToken(t *testing.T) {
	if _, err := NewClient(context.TODO(), Options{}, nil); !errors.Is(err, ErrNoToken) {
		t.Errorf("expected ErrNoToken got %v", err)
	}
}
