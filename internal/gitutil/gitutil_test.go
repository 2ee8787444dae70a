package gitutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func gitEnv() []string {
	return append(os.Environ(),
		"GIT_AUTHOR_NAME=test",
		"GIT_AUTHOR_EMAIL=test@test",
		"GIT_COMMITTER_NAME=test",
		"GIT_COMMITTER_EMAIL=test@test",
	)
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = gitEnv()
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
}

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-b", "main")
	run(t, dir, "config", "user.name", "test")
	run(t, dir, "config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "initial.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", "initial")
	return dir
}

func writeAndCommit(t *testing.T, dir, name, content, message string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-m", message)
}

func TestDiffNameOnly(t *testing.T) {
	dir := initTestRepo(t)
	baseSHA, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeAndCommit(t, dir, "new.txt", "new", "add new file")

	files, err := DiffNameOnly(dir, baseSHA)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "new.txt" {
		t.Errorf("DiffNameOnly = %v, want [new.txt]", files)
	}
}

func TestDiffNameOnlyNoChanges(t *testing.T) {
	dir := initTestRepo(t)
	sha, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	files, err := DiffNameOnly(dir, sha)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 0 {
		t.Errorf("DiffNameOnly with no changes = %v, want []", files)
	}
}

func TestEnsureMilestoneBranchIsIdempotent(t *testing.T) {
	dir := initTestRepo(t)
	sha, _ := HeadSHA(dir)

	if err := EnsureMilestoneBranch(dir, "milestone", sha); err != nil {
		t.Fatal(err)
	}
	if !BranchExists(dir, "milestone") {
		t.Fatal("expected milestone branch to exist")
	}
	// Calling again with a different base must not error or move it.
	writeAndCommit(t, dir, "other.txt", "x", "advance main")
	newSHA, _ := HeadSHA(dir)
	if err := EnsureMilestoneBranch(dir, "milestone", newSHA); err != nil {
		t.Fatal(err)
	}
}

func TestMergeTicketOntoMilestoneCleanFastPath(t *testing.T) {
	dir := initTestRepo(t)
	baseSHA, _ := HeadSHA(dir)

	run(t, dir, "branch", "ticket-1", baseSHA)
	ticketDir := filepath.Join(t.TempDir(), "ticket-1")
	if err := AddWorktree(dir, ticketDir, "ticket-1"); err != nil {
		t.Fatal(err)
	}
	writeAndCommit(t, ticketDir, "feature.txt", "feature", "add feature")

	if err := EnsureMilestoneBranch(dir, "milestone", baseSHA); err != nil {
		t.Fatal(err)
	}
	milestoneDir := filepath.Join(t.TempDir(), "milestone")
	if err := AddWorktree(dir, milestoneDir, "milestone"); err != nil {
		t.Fatal(err)
	}

	if err := MergeTicketOntoMilestone(milestoneDir, ticketDir, "ticket-1", "merge ticket-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(milestoneDir, "feature.txt")); err != nil {
		t.Fatalf("expected feature.txt to be merged into milestone: %v", err)
	}
	clean, err := IsClean(milestoneDir)
	if err != nil {
		t.Fatal(err)
	}
	if !clean {
		t.Error("milestone worktree should be clean after a successful merge")
	}
}

func TestMergeTicketOntoMilestoneBothAttemptsFailLeavesMilestoneClean(t *testing.T) {
	dir := initTestRepo(t)
	writeAndCommit(t, dir, "shared.txt", "original\n", "seed shared.txt")
	baseSHA, _ := HeadSHA(dir)

	run(t, dir, "branch", "ticket-1", baseSHA)
	ticketDir := filepath.Join(t.TempDir(), "ticket-1")
	if err := AddWorktree(dir, ticketDir, "ticket-1"); err != nil {
		t.Fatal(err)
	}
	writeAndCommit(t, ticketDir, "shared.txt", "from ticket\n", "ticket edits shared.txt")

	if err := EnsureMilestoneBranch(dir, "milestone", baseSHA); err != nil {
		t.Fatal(err)
	}
	milestoneDir := filepath.Join(t.TempDir(), "milestone")
	if err := AddWorktree(dir, milestoneDir, "milestone"); err != nil {
		t.Fatal(err)
	}
	// Milestone edits the very same line differently: a genuine content
	// conflict that neither a plain merge nor a rebase-then-merge can
	// resolve automatically.
	writeAndCommit(t, milestoneDir, "shared.txt", "from milestone\n", "milestone edits shared.txt")

	err := MergeTicketOntoMilestone(milestoneDir, ticketDir, "ticket-1", "merge ticket-1")
	if err == nil {
		t.Fatal("expected a conflicting merge to fail")
	}
	clean, cerr := IsClean(milestoneDir)
	if cerr != nil {
		t.Fatal(cerr)
	}
	if !clean {
		t.Error("milestone worktree must be left clean after both attempts fail")
	}
	if _, _, statErr := runGit(milestoneDir, "rev-parse", "--verify", "MERGE_HEAD"); statErr == nil {
		t.Error("expected no in-progress merge to remain")
	}
}

func TestPushBranchRejectsRemoteMismatch(t *testing.T) {
	dir := initTestRepo(t)
	run(t, dir, "remote", "add", "origin", "git@example.com:real/repo.git")

	err := PushBranch(dir, "origin", "main", "git@example.com:other/repo.git")
	if err == nil {
		t.Fatal("expected push to be rejected on remote mismatch")
	}
	var mismatch *ErrRemoteMismatch
	if !matchesMismatch(err, &mismatch) {
		t.Fatalf("expected *ErrRemoteMismatch, got %v (%T)", err, err)
	}
}

func matchesMismatch(err error, target **ErrRemoteMismatch) bool {
	if m, ok := err.(*ErrRemoteMismatch); ok {
		*target = m
		return true
	}
	return false
}
