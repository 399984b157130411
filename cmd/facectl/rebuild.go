package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/runlock"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild all face clusters from scratch",
	Long: `Delete every face cluster and match, then re-extract faces from every
active image of every owner and group them again.

Cluster names are lost. The run holds the batch lock, so a second rebuild
(from the CLI or the admin endpoint) is refused while this one is running.

Examples:
  # Rebuild with a progress bar
  facectl rebuild --yes

  # JSON output for scripting
  facectl rebuild --yes --json`,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().Bool("yes", false, "Confirm that existing clusters and names will be deleted")
	rebuildCmd.Flags().Bool("json", false, "Output as JSON instead of progress bar")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		return fmt.Errorf("rebuild deletes every cluster and name; pass --yes to continue")
	}
	jsonOutput := mustGetBool(cmd, "json")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := openDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		d.engine.OnProgress = func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Rebuilding clusters"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("images"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(done)
		}
	}

	var report *clustering.BatchReport
	err = runlock.DoBatch(ctx, d.locker, func(ctx context.Context) error {
		var err error
		report, err = d.engine.RunBatch(ctx)
		return err
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("Images:   %d (%d skipped)\n", report.Images, report.Skipped)
	fmt.Printf("Faces:    %d\n", report.Faces)
	fmt.Printf("Clusters: %d\n", report.Clusters)
	fmt.Printf("Took:     %s\n", report.Duration.Round(time.Millisecond))
	return nil
}
