// Command promptwheel is the thin CLI entrypoint over the core packages
// (spec §6 "CLI shell, AMBIENT, thin"). Every subcommand parses flags,
// loads internal/config, and calls straight into the core — no business
// logic lives here, mirroring vsavkov-kilroy/cmd/kilroy's own
// thin-dispatcher main.go, reimplemented with cobra per the expanded
// spec's CLI-shell decision.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strongdm/promptwheel/internal/config"
	"github.com/strongdm/promptwheel/internal/logging"
	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/store"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "promptwheel",
	Short: "Autonomous code-improvement engine control plane",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "promptwheel.yaml", "path to promptwheel.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads promptwheel.yaml and installs the process-wide logger.
func loadConfig() (*config.RunConfig, error) {
	if _, err := logging.Init(logging.Options{Debug: verbose, Development: true}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	cfg, err := config.LoadRunConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", configPath, err)
	}
	return cfg, nil
}

// storeDBPath is the conventional location for a repo's local state.
func storeDBPath(repoPath string) string {
	return filepath.Join(repoPath, ".promptwheel", "state.db")
}

// openStore opens (and migrates) the state database for cfg's repo.
func openStore(cfg *config.RunConfig) (*store.Store, error) {
	return store.Open(storeDBPath(cfg.Repo.Path))
}

// ensureProject finds or creates the single project row backing cfg.Repo.Path.
func ensureProject(ctx context.Context, s *store.Store, cfg *config.RunConfig) (model.Project, error) {
	return s.EnsureProject(ctx, filepath.Base(cfg.Repo.Path), cfg.Repo.Path)
}

// signalCancelContext returns a context canceled on SIGINT/SIGTERM, the same
// shape as vsavkov-kilroy/cmd/kilroy/main.go's own helper.
func signalCancelContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if _, ok := <-sigCh; ok {
			cancel()
		}
	}()
	return ctx, func() {
		signal.Stop(sigCh)
		close(sigCh)
		cancel()
	}
}
