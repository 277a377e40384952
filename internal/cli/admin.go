package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jc4p/mint-exchange-sub001/internal/control"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/indexer"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/reconcile"
)

var (
	fromBlock     uint64
	limit         int
	cancelExpired bool
	dryRun        bool
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Move the stream cursor so the next pass starts at --from-block",
	RunE:  runReindex,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reconcile open listings and offers against contract state",
	RunE:  runSweep,
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Report drift between the projection and contract state without correcting it",
	RunE:  runDrift,
}

var repairHashesCmd = &cobra.Command{
	Use:   "repair-hashes",
	Short: "Recompute stored Seaport order hashes from their parameters",
	RunE:  runRepairHashes,
}

func init() {
	reindexCmd.Flags().Uint64Var(&fromBlock, "from-block", 0, "first block to index again")
	_ = reindexCmd.MarkFlagRequired("from-block")

	sweepCmd.Flags().IntVar(&limit, "limit", 0, "rows per table to check (default 100)")
	sweepCmd.Flags().BoolVar(&cancelExpired, "cancel-expired", false, "cancel open rows past their end time")
	sweepCmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify drift without writing")

	driftCmd.Flags().IntVar(&limit, "limit", 0, "rows per table to check (default 100)")
	repairHashesCmd.Flags().IntVar(&limit, "limit", 0, "rows to scan (default all)")

	rootCmd.AddCommand(reindexCmd, sweepCmd, driftCmd, repairHashesCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	return withComponents(ctx, func(c *control.Components) error {
		block, err := c.Indexer.Reindex(ctx, fromBlock)
		if errors.Is(err, indexer.ErrRunInProgress) {
			return fmt.Errorf("%w, retry once the current pass finishes", err)
		}
		if err != nil {
			return err
		}
		slog.Info("Cursor reset", "stream", c.StreamID(), "from_block", fromBlock, "last_processed_block", block)
		fmt.Printf("Successfully reset %s to re-index from block %d\n", c.StreamID(), fromBlock)
		return nil
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	return withComponents(ctx, func(c *control.Components) error {
		res, err := c.Reconciler.Sweep(ctx, reconcile.SweepOptions{
			Limit:         limit,
			DryRun:        dryRun,
			CancelExpired: cancelExpired,
		})
		if err != nil {
			return err
		}
		if res.Locked {
			return fmt.Errorf("another sweep holds the lock")
		}
		return printJSON(res)
	})
}

func runDrift(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	return withComponents(ctx, func(c *control.Components) error {
		res, err := c.Reconciler.DriftReport(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func runRepairHashes(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	return withComponents(ctx, func(c *control.Components) error {
		res, err := c.Reconciler.RepairOrderHashes(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
