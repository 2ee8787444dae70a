package isolation

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "initial.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func TestAcquireAndReleaseWorkingCopy(t *testing.T) {
	repo := initTestRepo(t)
	m := New(repo, "milestone", "")

	wc, err := m.Acquire("ticket-123", "main")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(wc.Dir); err != nil {
		t.Fatalf("expected working copy dir to exist: %v", err)
	}
	if wc.Branch != "ticket/ticket-123" {
		t.Errorf("branch = %q, want ticket/ticket-123", wc.Branch)
	}

	if err := m.Release(wc); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(wc.Dir); !os.IsNotExist(err) {
		t.Errorf("expected working copy dir to be removed, stat err = %v", err)
	}
}

func TestIntegrateMilestoneMergesTicketBranch(t *testing.T) {
	repo := initTestRepo(t)
	m := New(repo, "milestone", "")

	wc, err := m.Acquire("ticket-1", "main")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wc.Dir, "feature.txt"), []byte("feature"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := exec.Command("git", "-C", wc.Dir, "add", "-A")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, out)
	}
	cmd = exec.Command("git", "-C", wc.Dir, "commit", "-m", "add feature")
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, out)
	}

	if err := m.IntegrateMilestone(wc, "integrate ticket-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(m.MilestoneWorktreeDir(), "feature.txt")); err != nil {
		t.Fatalf("expected feature.txt merged into milestone worktree: %v", err)
	}
}
