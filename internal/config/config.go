// Package config loads promptwheel's YAML configuration: the per-repo run
// configuration (promptwheel.yaml) and the optional external-integrations
// manifest (integrations.yaml). Both follow the teacher's own run-config
// loader shape (internal/attractor/engine/config.go): typed struct, strict
// decode, defaults applied after unmarshal, validated before use.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// GitConfig controls the isolation manager and push-safety check (spec
// §4.C8 "Push safety").
type GitConfig struct {
	BaseBranch      string `yaml:"base_branch"`
	MilestoneBranch string `yaml:"milestone_branch"`
	AllowedRemote   string `yaml:"allowed_remote"`
}

// ProposalConfig mirrors the proposal pipeline's session config (spec
// §4.C10 steps 3-4, 7).
type ProposalConfig struct {
	ConfidenceFloor      int      `yaml:"confidence_floor"`
	AllowedCategories    []string `yaml:"allowed_categories"`
	MaxProposalsPerScout int      `yaml:"max_proposals_per_scout"`
}

// LensConfig is the candidate-set input to spec §4.C13's rotation.
type LensConfig struct {
	Default  []string `yaml:"default"`
	Formulas []string `yaml:"formulas"`
	Excluded []string `yaml:"excluded"`
}

// AgentConfig names the coding agent child process the orchestrator execs
// for each ticket (spec §6 "Agent child-process contract").
type AgentConfig struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args,omitempty"`
	StepBudget  int      `yaml:"step_budget,omitempty"`
	TimeoutMS   int      `yaml:"timeout_ms,omitempty"`
	KillGraceMS int      `yaml:"kill_grace_ms,omitempty"`
	HeartbeatMS int      `yaml:"heartbeat_ms,omitempty"`
}

// RunConfig is the top-level promptwheel.yaml document.
type RunConfig struct {
	Version  int            `yaml:"version"`
	Parallel int            `yaml:"parallel"`
	Repo     struct {
		Path string `yaml:"path"`
	} `yaml:"repo"`
	Git      GitConfig      `yaml:"git"`
	Agent    AgentConfig    `yaml:"agent"`
	Proposal ProposalConfig `yaml:"proposal"`
	Lens     LensConfig     `yaml:"lens"`
	Verification struct {
		Commands []string `yaml:"commands"`
	} `yaml:"verification"`
}

// LoadRunConfig reads and validates promptwheel.yaml at path.
func LoadRunConfig(path string) (*RunConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RunConfig
	if err := decodeYAMLStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyRunConfigDefaults(&cfg)
	if err := validateRunConfig(&cfg); err != nil {
		return nil, fmt.Errorf("validate %s: %w", path, err)
	}
	return &cfg, nil
}

func decodeYAMLStrict(b []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyRunConfigDefaults(cfg *RunConfig) {
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.Git.BaseBranch == "" {
		cfg.Git.BaseBranch = "main"
	}
	if cfg.Git.MilestoneBranch == "" {
		cfg.Git.MilestoneBranch = "promptwheel/milestone"
	}
	if cfg.Proposal.MaxProposalsPerScout <= 0 {
		cfg.Proposal.MaxProposalsPerScout = 10
	}
	if len(cfg.Lens.Default) == 0 {
		cfg.Lens.Default = []string{"default"}
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "claude"
	}
	if cfg.Agent.KillGraceMS <= 0 {
		cfg.Agent.KillGraceMS = 10_000
	}
	if cfg.Agent.HeartbeatMS <= 0 {
		cfg.Agent.HeartbeatMS = 30_000
	}
}

func validateRunConfig(cfg *RunConfig) error {
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if strings.TrimSpace(cfg.Repo.Path) == "" {
		return fmt.Errorf("repo.path is required")
	}
	if strings.TrimSpace(cfg.Git.AllowedRemote) == "" {
		return fmt.Errorf("git.allowed_remote is required (spec §4.C8 push safety)")
	}
	if cfg.Proposal.ConfidenceFloor < 0 || cfg.Proposal.ConfidenceFloor > 100 {
		return fmt.Errorf("proposal.confidence_floor must be in [0,100]")
	}
	return nil
}

// IntegrationPhase enumerates when an integration provider runs (spec §6
// "integrations.yaml").
type IntegrationPhase string

const (
	PhasePreScout   IntegrationPhase = "pre-scout"
	PhasePostCycle  IntegrationPhase = "post-cycle"
)

// IntegrationFeed enumerates what an integration provider's output feeds
// into.
type IntegrationFeed string

const (
	FeedProposals IntegrationFeed = "proposals"
	FeedLearnings IntegrationFeed = "learnings"
	FeedNudges    IntegrationFeed = "nudges"
)

// IntegrationProvider is one external tool invocation entry (spec §6).
type IntegrationProvider struct {
	Name      string           `yaml:"name"`
	Command   string           `yaml:"command"`
	Tool      string           `yaml:"tool"`
	Args      []string         `yaml:"args,omitempty"`
	Every     string           `yaml:"every"`
	Phase     IntegrationPhase `yaml:"phase"`
	Feed      IntegrationFeed  `yaml:"feed"`
	TimeoutMS int              `yaml:"timeout,omitempty"`
}

// IntegrationsConfig is the top-level integrations.yaml document.
type IntegrationsConfig struct {
	Providers []IntegrationProvider `yaml:"providers"`
}

// LoadIntegrations reads the optional integrations.yaml; a missing file is
// not an error and returns an empty config.
func LoadIntegrations(path string) (*IntegrationsConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &IntegrationsConfig{}, nil
		}
		return nil, err
	}
	var cfg IntegrationsConfig
	if err := decodeYAMLStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i, p := range cfg.Providers {
		if p.Phase != PhasePreScout && p.Phase != PhasePostCycle {
			return nil, fmt.Errorf("providers[%d] %q: invalid phase %q", i, p.Name, p.Phase)
		}
		if p.Feed != FeedProposals && p.Feed != FeedLearnings && p.Feed != FeedNudges {
			return nil, fmt.Errorf("providers[%d] %q: invalid feed %q", i, p.Name, p.Feed)
		}
	}
	return &cfg, nil
}

// DefaultConfigPath returns the conventional promptwheel.yaml location for
// a repo root.
func DefaultConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, "promptwheel.yaml")
}

// DefaultIntegrationsPath returns the conventional integrations.yaml
// location for a repo root.
func DefaultIntegrationsPath(repoRoot string) string {
	return filepath.Join(repoRoot, "integrations.yaml")
}
