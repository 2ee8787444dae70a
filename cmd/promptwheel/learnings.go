package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var learningsCmd = &cobra.Command{
	Use:   "learnings",
	Short: "Inspect accumulated learnings",
}

var learningsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show learnings recorded for the configured project",
	RunE:  runLearningsShow,
}

func init() {
	rootCmd.AddCommand(learningsCmd)
	learningsCmd.AddCommand(learningsShowCmd)
}

func runLearningsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	project, err := ensureProject(ctx, s, cfg)
	if err != nil {
		return fmt.Errorf("ensure project: %w", err)
	}

	rows, err := s.ListLearnings(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("list learnings: %w", err)
	}
	if len(rows) == 0 {
		fmt.Println("no learnings recorded")
		return nil
	}
	for _, l := range rows {
		promoted := ""
		if l.Promoted {
			promoted = " [promoted]"
		}
		fmt.Printf("%-28s (%s)%s\n  %s\n", l.ID, l.Source, promoted, l.Content)
	}
	return nil
}
