package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strongdm/promptwheel/internal/model"
	"github.com/strongdm/promptwheel/internal/store"
)

var (
	statusFollow bool
	statusRunID  string
	statusJSON   bool
)

var statusCmd = &cobra.Command{
	Use:   "status [ticket-id]",
	Short: "Print (and optionally follow) a ticket's run history",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "poll for new events until the run reaches a terminal state")
	statusCmd.Flags().StringVar(&statusRunID, "run-id", "", "show a specific run instead of the ticket's latest")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print raw event JSON instead of formatted lines")
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	if ctx == nil {
		ctx = context.Background()
	}

	run, err := resolveRun(ctx, s, args, statusRunID)
	if err != nil {
		return err
	}

	printed := 0
	printed, err = printNewEvents(ctx, s, run.ID, printed)
	if err != nil {
		return err
	}

	run, err = s.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if !statusFollow || isTerminalRun(run.Status) {
		printRunSummary(run)
		return nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		printed, err = printNewEvents(ctx, s, run.ID, printed)
		if err != nil {
			return err
		}
		run, err = s.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if isTerminalRun(run.Status) {
			printRunSummary(run)
			return nil
		}
	}
	return nil
}

// resolveRun finds the run to display: an explicit --run-id, or the most
// recent run for the given ticket.
func resolveRun(ctx context.Context, s *store.Store, args []string, runID string) (model.Run, error) {
	if runID != "" {
		return s.GetRun(ctx, runID)
	}
	if len(args) == 0 {
		return model.Run{}, fmt.Errorf("either a ticket-id argument or --run-id is required")
	}
	runs, err := s.ListRunsForTicket(ctx, args[0])
	if err != nil {
		return model.Run{}, err
	}
	if len(runs) == 0 {
		return model.Run{}, fmt.Errorf("no runs found for ticket %s", args[0])
	}
	latest := runs[0]
	for _, r := range runs[1:] {
		if r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest, nil
}

// printNewEvents prints every event for runID past the already-printed
// count, mirroring vsavkov-kilroy/cmd/kilroy/attractor_status_follow.go's
// tailEvents, adapted from NDJSON offsets to a SQLite row cursor.
func printNewEvents(ctx context.Context, s *store.Store, runID string, alreadyPrinted int) (int, error) {
	events, err := s.ListRunEvents(ctx, runID)
	if err != nil {
		return alreadyPrinted, err
	}
	for _, ev := range events[min(alreadyPrinted, len(events)):] {
		printEvent(ev)
	}
	return len(events), nil
}

func printEvent(ev model.RunEvent) {
	if statusJSON {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%s | %-24s | %s\n", ev.CreatedAt.Format("15:04:05"), ev.Type, formatEventData(ev.Data))
}

func formatEventData(data map[string]any) string {
	if msg, ok := data["message"].(string); ok && msg != "" {
		return msg
	}
	b, err := json.Marshal(data)
	if err != nil || string(b) == "null" {
		return ""
	}
	return string(b)
}

func isTerminalRun(status model.RunStatus) bool {
	return status == model.RunSuccess || status == model.RunFailure
}

func printRunSummary(run model.Run) {
	fmt.Printf("\nrun %s: ticket %s: %s\n", run.ID, run.TicketID, run.Status)
	if run.Error != "" {
		fmt.Printf("error: %s\n", run.Error)
	}
	if run.PRURL != "" {
		fmt.Printf("pr: %s\n", run.PRURL)
	}
}
