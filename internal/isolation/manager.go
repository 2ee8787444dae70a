// Package isolation implements spec component C8: per-ticket working
// copies, milestone-branch integration, AST-aware structural merge, and
// pre-merge conflict prediction.
package isolation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/strongdm/promptwheel/internal/gitutil"
)

// Manager owns the process-wide mutex that serializes worktree/branch
// mutations against one repo (spec §4.C8 "the underlying index operations
// are not safe to overlap"). Post-creation operations inside a working
// copy run freely in parallel across tickets.
type Manager struct {
	RepoDir       string
	MetadataDir   string // e.g. <repo>/.promptwheel/worktrees
	MilestoneName string
	AllowedRemote string

	mu sync.Mutex
}

// New creates a Manager rooted at repoDir, storing working copies under
// <repo>/.promptwheel/worktrees.
func New(repoDir, milestoneName, allowedRemote string) *Manager {
	return &Manager{
		RepoDir:       repoDir,
		MetadataDir:   filepath.Join(repoDir, ".promptwheel", "worktrees"),
		MilestoneName: milestoneName,
		AllowedRemote: allowedRemote,
	}
}

// WorkingCopy is one ticket's isolated checkout.
type WorkingCopy struct {
	TicketID string
	Dir      string
	Branch   string
	BaseSHA  string
}

// Acquire creates a fresh working copy for ticketID, branched from a clean
// checkout of baseBranch. Serialized via the manager's mutex.
func (m *Manager) Acquire(ticketID, baseBranch string) (*WorkingCopy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseSHA, err := gitutil.RevParse(m.RepoDir, baseBranch)
	if err != nil {
		return nil, fmt.Errorf("isolation: resolve base branch %q: %w", baseBranch, err)
	}
	branch := "ticket/" + ticketID
	if err := gitutil.CreateBranchAt(m.RepoDir, branch, baseSHA); err != nil {
		return nil, fmt.Errorf("isolation: create branch %q: %w", branch, err)
	}

	if err := os.MkdirAll(m.MetadataDir, 0o755); err != nil {
		return nil, fmt.Errorf("isolation: prepare metadata dir: %w", err)
	}
	dir := filepath.Join(m.MetadataDir, ticketID+"-"+ulid.Make().String())
	if err := gitutil.AddWorktree(m.RepoDir, dir, branch); err != nil {
		return nil, fmt.Errorf("isolation: add worktree for %q: %w", ticketID, err)
	}

	return &WorkingCopy{TicketID: ticketID, Dir: dir, Branch: branch, BaseSHA: baseSHA}, nil
}

// Release removes a ticket's working copy. Serialized via the manager's
// mutex.
func (m *Manager) Release(wc *WorkingCopy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wc == nil {
		return nil
	}
	return gitutil.RemoveWorktree(m.RepoDir, wc.Dir)
}

// MilestoneWorktreeDir returns the fixed location of the long-lived
// milestone worktree.
func (m *Manager) MilestoneWorktreeDir() string {
	return filepath.Join(m.MetadataDir, "_milestone")
}

// EnsureMilestoneWorktree creates the milestone branch at baseSHA (if it
// does not already exist) and adds a worktree for it (if not already
// checked out). Serialized via the manager's mutex.
func (m *Manager) EnsureMilestoneWorktree(baseSHA string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := gitutil.EnsureMilestoneBranch(m.RepoDir, m.MilestoneName, baseSHA); err != nil {
		return "", fmt.Errorf("isolation: ensure milestone branch: %w", err)
	}
	dir := m.MilestoneWorktreeDir()
	if _, err := os.Stat(dir); err == nil {
		return dir, nil
	}
	if err := os.MkdirAll(m.MetadataDir, 0o755); err != nil {
		return "", fmt.Errorf("isolation: prepare metadata dir: %w", err)
	}
	if err := gitutil.AddWorktree(m.RepoDir, dir, m.MilestoneName); err != nil {
		return "", fmt.Errorf("isolation: add milestone worktree: %w", err)
	}
	return dir, nil
}

// IntegrateMilestone ensures the milestone branch and its worktree exist,
// then merges wc's branch onto it, with the rebase fallback described in
// spec §4.C8. Serialized via the manager's mutex since it mutates the
// milestone's own working copy.
func (m *Manager) IntegrateMilestone(wc *WorkingCopy, message string) error {
	milestoneDir, err := m.EnsureMilestoneWorktree(wc.BaseSHA)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return gitutil.MergeTicketOntoMilestone(milestoneDir, wc.Dir, wc.Branch, message)
}

// Push pushes wc's branch to remote, enforcing push safety (spec §4.C8).
func (m *Manager) Push(wc *WorkingCopy, remote string) error {
	return gitutil.PushBranch(wc.Dir, remote, wc.Branch, m.AllowedRemote)
}
