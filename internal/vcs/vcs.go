// Package vcs defines the collaborator contract the orchestrator uses to
// stage, push, and open pull requests for completed tickets (spec §6 "VCS +
// code hosting interface"). Hosting-specific clients (GitHub, GitLab, …)
// are a documented extension point outside this repo's scope; the default
// implementation here covers the git-only surface and stubs PR creation.
package vcs

import (
	"context"
	"errors"

	"github.com/strongdm/promptwheel/internal/gitutil"
)

// PullRequest is the minimal shape the orchestrator needs back from PR
// creation/lookup.
type PullRequest struct {
	URL    string
	Number int
	Head   string
	Base   string
}

// DraftPR is what the caller supplies to open a pull request.
type DraftPR struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Collaborator is the VCS + code-hosting contract (spec §6).
type Collaborator interface {
	CreateBranchFromRemoteTip(ctx context.Context, branch, baseBranch string) error
	AddWorktree(ctx context.Context, worktreeDir, branch string) error
	RemoveWorktree(ctx context.Context, worktreeDir string) error
	Push(ctx context.Context, branch string) error
	CreateDraftPR(ctx context.Context, draft DraftPR) (*PullRequest, error)
	FindPRByHead(ctx context.Context, head string) (*PullRequest, error)
}

// ErrHostingNotConfigured is returned by the git-only collaborator's PR
// operations: creating and looking up pull requests needs a code-hosting
// client (GitHub/GitLab/…) this repo does not ship.
var ErrHostingNotConfigured = errors.New("vcs: no code-hosting client configured for pull request operations")

// GitCollaborator implements Collaborator over internal/gitutil against the
// local checkout plus a configured allowed_remote, per spec §4.C8's push
// safety rule.
type GitCollaborator struct {
	RepoDir       string
	Remote        string
	AllowedRemote string
}

// NewGitCollaborator builds a GitCollaborator bound to one repository.
func NewGitCollaborator(repoDir, remote, allowedRemote string) *GitCollaborator {
	return &GitCollaborator{RepoDir: repoDir, Remote: remote, AllowedRemote: allowedRemote}
}

func (g *GitCollaborator) CreateBranchFromRemoteTip(ctx context.Context, branch, baseBranch string) error {
	sha, err := gitutil.RevParse(g.RepoDir, baseBranch)
	if err != nil {
		return err
	}
	return gitutil.CreateBranchAt(g.RepoDir, branch, sha)
}

func (g *GitCollaborator) AddWorktree(ctx context.Context, worktreeDir, branch string) error {
	return gitutil.AddWorktree(g.RepoDir, worktreeDir, branch)
}

func (g *GitCollaborator) RemoveWorktree(ctx context.Context, worktreeDir string) error {
	return gitutil.RemoveWorktree(g.RepoDir, worktreeDir)
}

func (g *GitCollaborator) Push(ctx context.Context, branch string) error {
	return gitutil.PushBranch(g.RepoDir, g.Remote, branch, g.AllowedRemote)
}

func (g *GitCollaborator) CreateDraftPR(ctx context.Context, draft DraftPR) (*PullRequest, error) {
	return nil, ErrHostingNotConfigured
}

func (g *GitCollaborator) FindPRByHead(ctx context.Context, head string) (*PullRequest, error) {
	return nil, ErrHostingNotConfigured
}
