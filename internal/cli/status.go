package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jc4p/mint-exchange-sub001/internal/control"
	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stream cursors, lag and anomaly counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return withComponents(ctx, func(c *control.Components) error {
		cursors, err := c.Store.Cursors().List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list cursors: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "STREAM\tBLOCK\tSAFE HEAD\tLAG\tUPDATED")
		for _, cur := range cursors {
			head, lag := "-", "-"
			if cur.StreamID == c.StreamID() {
				if st, err := c.Indexer.Status(ctx); err == nil {
					head = fmt.Sprint(st.SafeHead)
					lag = fmt.Sprint(st.Lag)
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				cur.StreamID, cur.LastProcessedBlock, head, lag, cur.UpdatedAt.Format(time.RFC3339))
		}
		_ = w.Flush()

		counts, err := c.Store.Anomalies().CountByKind(ctx)
		if err != nil {
			return fmt.Errorf("failed to count anomalies: %w", err)
		}
		kinds := make([]domain.AnomalyKind, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
		_, _ = fmt.Fprintln(w, "ANOMALY\tCOUNT")
		for _, k := range kinds {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", k, counts[k])
		}
		return w.Flush()
	})
}
