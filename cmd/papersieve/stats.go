package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"PaperSieve/internal/domain"
)

var statsRecentDays int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print relevance cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		application, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer application.Close()

		stats, err := application.Stats(ctx)
		if err != nil {
			return err
		}
		writeStats(cmd.OutOrStdout(), stats)

		if statsRecentDays > 0 {
			entries, err := application.Recent(ctx, statsRecentDays)
			if err != nil {
				return err
			}
			writeRecent(cmd.OutOrStdout(), entries)
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsRecentDays, "recent", 0, "also list papers published in the last N days")
}

func writeStats(w io.Writer, s domain.CacheStats) {
	capacity := "unbounded"
	if s.Capacity > 0 {
		capacity = fmt.Sprintf("%d", s.Capacity)
	}
	fmt.Fprintf(w, "total: %d\nsent: %d\nunsent: %d\nnever accessed: %d\ncapacity: %s\n",
		s.Total, s.Sent, s.Unsent, s.NeverAccessed, capacity)

	if len(s.Oldest) == 0 {
		return
	}
	fmt.Fprintln(w, "\nnext to evict:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLAST ACCESSED\tCREATED\tTITLE")
	for _, c := range s.Oldest {
		accessed := "never"
		if c.LastAccessed != nil {
			accessed = c.LastAccessed.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ExternalID, accessed, c.CreatedAt.Format(time.RFC3339), c.Title)
	}
	_ = tw.Flush()
}

func writeRecent(w io.Writer, entries []domain.CacheEntry) {
	fmt.Fprintf(w, "\nrecent papers: %d\n", len(entries))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPUBLISHED\tSCORE\tSENT\tTITLE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%t\t%s\n",
			e.Paper.ExternalID, e.Paper.Published.Format("2006-01-02"), e.RelevanceScore, e.Notified(), e.Paper.Title)
	}
	_ = tw.Flush()
}
