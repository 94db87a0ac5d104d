package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"transmute/internal/clix"
	"transmute/internal/models"
	"transmute/internal/store"
	"transmute/internal/store/history"
)

// historyCmd represents the base command for job history operations
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View finished conversion jobs",
	Long:  `Displays jobs that reached a terminal state, as recorded in the history store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listHistoryCmd.RunE(cmd, args)
	},
}

var listHistoryCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent finished jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pagination, err := clix.ParsePagination(cmd.Flags())
		if err != nil {
			return err
		}
		status, err := clix.ParseStatus(cmd.Flags())
		if err != nil {
			return err
		}

		hs, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer hs.Close()

		entries, err := hs.List(cmd.Context(), store.HistoryFilter{
			Status: status,
			Limit:  pagination.Limit,
			Offset: pagination.Offset,
		})
		if err != nil {
			return fmt.Errorf("error listing job history: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No job history found.")
			return nil
		}
		renderHistory(entries)
		return nil
	},
}

var statsHistoryCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count finished jobs by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hs, err := openHistory(cmd)
		if err != nil {
			return err
		}
		defer hs.Close()

		counts, err := hs.CountByStatus(cmd.Context())
		if err != nil {
			return fmt.Errorf("error counting job history: %w", err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Status", "Jobs"})
		table.SetBorder(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		for _, s := range models.AllStatuses {
			if !s.Terminal() {
				continue
			}
			table.Append([]string{string(s), strconv.FormatInt(counts[s], 10)})
		}
		table.Render()
		return nil
	},
}

func openHistory(cmd *cobra.Command) (store.HistoryStore, error) {
	cfg, err := GetConfigFromContext(cmd.Context())
	if err != nil {
		return nil, err
	}
	if cfg.History.DSN == "" {
		return nil, fmt.Errorf("job history is disabled (history.dsn is empty)")
	}
	hs, err := history.Open(cmd.Context(), cfg.History.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}
	return hs, nil
}

func renderHistory(entries []*models.HistoryEntry) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Job ID", "Status", "Format", "Message", "Recorded At"})
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	for _, e := range entries {
		table.Append([]string{
			e.JobID,
			string(e.Status),
			e.OutputFormat,
			e.Message,
			e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
}

func init() {
	for _, c := range []*cobra.Command{historyCmd, listHistoryCmd} {
		c.Flags().IntP("limit", "n", 20, "Maximum number of history entries to show")
		c.Flags().Int("offset", 0, "Number of entries to skip")
		c.Flags().String("status", "", "Only show jobs with this status (completed, failed, cancelled)")
	}

	historyCmd.AddCommand(listHistoryCmd)
	historyCmd.AddCommand(statsHistoryCmd)
	rootCmd.AddCommand(historyCmd)
}
