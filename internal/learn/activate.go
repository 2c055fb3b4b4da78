package learn

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
)

var (
	sshRemote   = regexp.MustCompile(`git@github\.com:([^/]+)/([^/.]+)`)
	httpsRemote = regexp.MustCompile(`github\.com/([^/]+)/([^/.]+)`)
)

// ParseGitHubRemote extracts owner and repository from a GitHub remote URL.
// Supports: git@github.com:owner/repo.git, https://github.com/owner/repo.git
func ParseGitHubRemote(url string) (owner, repo string, ok bool) {
	if m := sshRemote.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], true
	}
	if m := httpsRemote.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], true
	}
	return "", "", false
}

// OriginRemote returns the GitHub owner and repository of dir's origin
// remote. ok is false when dir is not a git repository or origin is not on
// GitHub.
func OriginRemote(dir string) (owner, repo string, ok bool, err error) {
	r, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to open repository: %w", err)
	}
	remote, err := r.Remote("origin")
	if errors.Is(err, git.ErrRemoteNotFound) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to read origin remote: %w", err)
	}
	for _, u := range remote.Config().URLs {
		if owner, repo, ok := ParseGitHubRemote(u); ok {
			return owner, repo, true, nil
		}
	}
	return "", "", false, nil
}

// ProjectRegistry records monitored project roots.
type ProjectRegistry interface {
	Add(path string) (bool, error)
}

// Activation is the outcome of Activate.
type Activation struct {
	Path   string
	Added  bool
	Owner  string
	Repo   string
	Report *Report
}

// Activate registers dir for monitoring and, when its origin is a GitHub
// repository and a source is available, learns from its recent history.
// Deep mode is used when an enricher is configured.
func (l *Learner) Activate(ctx context.Context, projects ProjectRegistry, dir string, limit int) (Activation, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Activation{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	act := Activation{Path: abs}

	act.Added, err = projects.Add(abs)
	if err != nil {
		return act, fmt.Errorf("failed to register project: %w", err)
	}

	owner, repo, ok, err := OriginRemote(abs)
	if err != nil {
		l.logger.Warn("git remote detection failed", zap.String("path", abs), zap.Error(err))
		return act, nil
	}
	if !ok {
		return act, nil
	}
	act.Owner, act.Repo = owner, repo
	if l.source == nil {
		return act, nil
	}

	report, err := l.LearnRepo(ctx, owner, repo, Options{Deep: l.enricher != nil, Limit: limit})
	if err != nil {
		return act, fmt.Errorf("discovery for %s/%s failed: %w", owner, repo, err)
	}
	act.Report = &report
	return act, nil
}
