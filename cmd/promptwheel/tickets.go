package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strongdm/promptwheel/internal/model"
)

var ticketsAll bool

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "Inspect the ticket backlog",
}

var ticketsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets for the configured project",
	RunE:  runTicketsList,
}

func init() {
	rootCmd.AddCommand(ticketsCmd)
	ticketsCmd.AddCommand(ticketsListCmd)
	ticketsListCmd.Flags().BoolVar(&ticketsAll, "all", false, "include tickets that are not ready to lease")
}

func runTicketsList(cmd *cobra.Command, args []string) error {
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

	var tickets []model.Ticket
	if ticketsAll {
		tickets, err = s.ListTicketsForProject(ctx, project.ID)
	} else {
		tickets, err = s.ListReadyTickets(ctx, project.ID)
	}
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}

	if len(tickets) == 0 {
		fmt.Println("no tickets")
		return nil
	}
	for _, t := range tickets {
		fmt.Printf("%-28s %-10s %-8s retries=%d/%d  %s\n", t.ID, t.Status, t.Category, t.RetryCount, t.MaxRetries, t.Title)
	}
	return nil
}
