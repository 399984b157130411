package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/your-org/facegroups/internal/clustering"
	"github.com/your-org/facegroups/internal/runlock"
	"github.com/your-org/facegroups/internal/scheduler"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster new faces incrementally",
	Long: `Assign unclustered face embeddings to existing clusters, creating new
clusters for faces that match nothing.

Examples:
  # One owner
  facectl cluster --owner 0b6d9d5c-3c1e-4b9b-9d7e-1f2a3b4c5d6e

  # Every owner with pending faces
  facectl cluster --all`,
	RunE: runCluster,
}

func init() {
	rootCmd.AddCommand(clusterCmd)

	clusterCmd.Flags().String("owner", "", "Owner id to cluster")
	clusterCmd.Flags().Bool("all", false, "Cluster every owner with pending faces")
	clusterCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCluster(cmd *cobra.Command, args []string) error {
	ownerFlag := mustGetString(cmd, "owner")
	all := mustGetBool(cmd, "all")
	jsonOutput := mustGetBool(cmd, "json")

	if (ownerFlag != "") == all {
		return errors.New("exactly one of --owner or --all is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := openDeps(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx := context.Background()

	if all {
		res, err := scheduler.NewSweeper(d.db, d.engine, d.locker, nil).Sweep(ctx)
		if err != nil {
			return err
		}
		return printResult(jsonOutput, res, func() {
			fmt.Printf("Owners: %d (ran %d, busy %d, failed %d)\n", res.Owners, res.Ran, res.Busy, res.Failed)
			fmt.Printf("Matched: %d, new clusters: %d\n", res.Matched, res.Created)
		})
	}

	owner, err := uuid.Parse(ownerFlag)
	if err != nil {
		return fmt.Errorf("invalid --owner: %w", err)
	}

	var report *clustering.IncrementalReport
	err = runlock.DoOwner(ctx, d.locker, owner, func(ctx context.Context) error {
		var err error
		report, err = d.engine.RunIncremental(ctx, owner)
		return err
	})
	if err != nil {
		return err
	}
	return printResult(jsonOutput, report, func() {
		fmt.Printf("Embeddings: %d\n", report.Embeddings)
		fmt.Printf("Matched:    %d\n", report.Matched)
		fmt.Printf("New:        %d\n", report.NewClusters)
		if report.ThumbnailFailures > 0 {
			fmt.Printf("Thumbnail failures: %d\n", report.ThumbnailFailures)
		}
	})
}

func printResult(jsonOutput bool, v any, human func()) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human()
	return nil
}
