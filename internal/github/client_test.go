package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClientWithHTTP(srv.Client(), srv.URL, nil)
	require.NoError(t, err)
	c.retry = RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	return c
}

func TestListCommits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, `[
			{"sha": "abc123", "commit": {"message": "fix: nil map\n\nbody", "author": {"name": "Sam", "date": "2025-01-02T03:04:05Z"}}},
			{"sha": "def456", "commit": {"message": "chore", "author": {"name": "Kai", "date": "2025-01-01T00:00:00Z"}}}
		]`)
	})
	c := newTestClient(t, mux)

	commits, err := c.ListCommits(context.Background(), "acme", "api", 2)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "abc123", commits[0].SHA)
	assert.Equal(t, "fix: nil map\n\nbody", commits[0].Message)
	assert.Equal(t, "Sam", commits[0].Author)
	assert.Equal(t, 2025, commits[0].Date.Year())
}

func TestCommitDiff_RetriesServerErrors(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/commits/abc123", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Contains(t, r.Header.Get("Accept"), "diff")
		fmt.Fprint(w, "diff --git a/x.go b/x.go\n")
	})
	c := newTestClient(t, mux)

	diff, err := c.CommitDiff(context.Background(), "acme", "api", "abc123")
	require.NoError(t, err)
	assert.Equal(t, "diff --git a/x.go b/x.go\n", diff)
	assert.Equal(t, 2, calls)
}

func TestCommitDiff_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/repos/acme/api/commits/missing", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	_, err := c.CommitDiff(context.Background(), "acme", "api", "missing")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestListUserRepos(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/user/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name": "api", "full_name": "acme/api", "owner": {"login": "acme"}}]`)
	})
	c := newTestClient(t, mux)

	repos, err := c.ListUserRepos(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Repo{{Owner: "acme", Name: "api", FullName: "acme/api"}}, repos)
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestIsRetryable(t *testing.T) {
	resp := func(code int) *gh.Response {
		return &gh.Response{Response: &http.Response{StatusCode: code}}
	}
	tests := []struct {
		name string
		resp *gh.Response
		want bool
	}{
		{"network error", nil, true},
		{"429", resp(http.StatusTooManyRequests), true},
		{"503", resp(http.StatusServiceUnavailable), true},
		{"401", resp(http.StatusUnauthorized), false},
		{"403 without rate info", resp(http.StatusForbidden), false},
		{"404", resp(http.StatusNotFound), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryable(fmt.Errorf("boom"), tt.resp))
		})
	}
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, zap.NewNop(),
		func() (*gh.Response, error) {
			calls++
			return nil, fmt.Errorf("connection reset")
		})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}
