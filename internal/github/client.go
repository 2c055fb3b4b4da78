// Package github reads commit history from the GitHub REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/devbrain/internal/config"
	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrNoToken is returned when no GitHub token is configured.
var ErrNoToken = errors.New("GitHub token required: set GITHUB_TOKEN or use --token")

// Commit is the subset of a commit the learner needs.
type Commit struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
}

// Repo identifies a repository.
type Repo struct {
	Owner    string
	Name     string
	FullName string
}

// Source is what the learner reads from.
type Source interface {
	ListCommits(ctx context.Context, owner, repo string, limit int) ([]Commit, error)
	CommitDiff(ctx context.Context, owner, repo, sha string) (string, error)
	ListUserRepos(ctx context.Context) ([]Repo, error)
}

// Client implements Source over go-github.
type Client struct {
	api    *gh.Client
	retry  RetryConfig
	logger *zap.Logger
}

var _ Source = (*Client)(nil)

// NewClient creates an authenticated client.
func NewClient(ctx context.Context, token config.Secret, logger *zap.Logger) (*Client, error) {
	if !token.IsSet() {
		return nil, ErrNoToken
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return newClient(gh.NewClient(oauth2.NewClient(ctx, ts)), logger), nil
}

// NewClientWithHTTP creates a client against baseURL using httpClient.
// It is used to point the client at GitHub Enterprise or a test server.
func NewClientWithHTTP(httpClient *http.Client, baseURL string, logger *zap.Logger) (*Client, error) {
	api := gh.NewClient(httpClient)
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		var err error
		api, err = api.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
	}
	return newClient(api, logger), nil
}

func newClient(api *gh.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, retry: DefaultRetryConfig(), logger: logger}
}

// ListCommits returns the latest commits of owner/repo, newest first.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 10
	}
	opts := &gh.CommitsListOptions{ListOptions: gh.ListOptions{PerPage: limit}}

	var raw []*gh.RepositoryCommit
	err := withRetry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		raw, resp, err = c.api.Repositories.ListCommits(ctx, owner, repo, opts)
		return resp, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commits for %s/%s: %w", owner, repo, err)
	}

	commits := make([]Commit, 0, len(raw))
	for _, rc := range raw {
		commits = append(commits, Commit{
			SHA:     rc.GetSHA(),
			Message: rc.GetCommit().GetMessage(),
			Author:  rc.GetCommit().GetAuthor().GetName(),
			Date:    rc.GetCommit().GetAuthor().GetDate().Time,
		})
		if len(commits) == limit {
			break
		}
	}
	return commits, nil
}

// CommitDiff returns the unified diff of one commit.
func (c *Client) CommitDiff(ctx context.Context, owner, repo, sha string) (string, error) {
	var diff string
	err := withRetry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
		var resp *gh.Response
		var err error
		diff, resp, err = c.api.Repositories.GetCommitRaw(ctx, owner, repo, sha, gh.RawOptions{Type: gh.Diff})
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch diff for %s: %w", sha, err)
	}
	return diff, nil
}

// ListUserRepos returns the authenticated user's repositories, most
// recently updated first.
func (c *Client) ListUserRepos(ctx context.Context) ([]Repo, error) {
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Sort:        "updated",
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var repos []Repo
	for {
		var page []*gh.Repository
		var next int
		err := withRetry(ctx, c.retry, c.logger, func() (*gh.Response, error) {
			var resp *gh.Response
			var err error
			page, resp, err = c.api.Repositories.ListByAuthenticatedUser(ctx, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		for _, r := range page {
			repos = append(repos, Repo{
				Owner:    r.GetOwner().GetLogin(),
				Name:     r.GetName(),
				FullName: r.GetFullName(),
			})
		}
		if next == 0 {
			return repos, nil
		}
		opts.Page = next
	}
}
