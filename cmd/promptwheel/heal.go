package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healCmd = &cobra.Command{
	Use:   "heal <ticket-id>",
	Short: "Manually move a blocked ticket back to ready",
	Args:  cobra.ExactArgs(1),
	RunE:  runHeal,
}

func init() {
	rootCmd.AddCommand(healCmd)
}

func runHeal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer s.Close()

	ticket, err := s.TransitionTicket(cmd.Context(), args[0], "heal")
	if err != nil {
		return fmt.Errorf("heal ticket %s: %w", args[0], err)
	}
	fmt.Printf("ticket %s: %s\n", ticket.ID, ticket.Status)
	return nil
}
