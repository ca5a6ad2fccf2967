package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/katanaquant/ragkb/internal/config"
	"github.com/katanaquant/ragkb/internal/selfheal"
)

func newResumeCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume interrupted indexing and repair the ledger",
		Long: `Resume re-enqueues files left in_progress by an interrupted run,
repairs completed ledger rows whose document no longer exists, purges
documents with zero chunks, and reports any remaining index
inconsistencies.

This is the same self-heal pass 'ragkb serve' runs automatically at
startup, exposed standalone for cases where the server isn't running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(cmd.Context(), cmd, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (skip model download)")

	return cmd
}

func runResume(ctx context.Context, cmd *cobra.Command, offline bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		return fmt.Errorf("no ragkb project found: %w", err)
	}
	dataDir := filepath.Join(root, ".ragkb")

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	deps, err := buildServeDeps(ctx, cfg, root, dataDir, offline)
	if err != nil {
		return fmt.Errorf("failed to open project: %w", err)
	}
	defer deps.Close()

	runner, err := selfheal.NewRunner(selfheal.Dependencies{
		Ledger:      deps.Metadata,
		Metadata:    deps.Metadata,
		Vector:      deps.Vector,
		BM25:        deps.BM25,
		Embedder:    deps.Embedder,
		Coordinator: deps.Coordinator,
		Checker:     deps.Checker,
		ProjectID:   deps.ProjectID,
		RootPath:    root,
	})
	if err != nil {
		return fmt.Errorf("failed to build self-heal runner: %w", err)
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("resume failed: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "resumed %d in-progress file(s)\n", report.Resumed)
	_, _ = fmt.Fprintf(out, "repaired %d orphaned ledger row(s)\n", report.OrphansRepaired)
	_, _ = fmt.Fprintf(out, "purged %d empty document(s)\n", report.EmptyDocsPurged)
	if len(report.Inconsistencies) > 0 {
		_, _ = fmt.Fprintf(out, "%d index inconsistencies remain (run 'ragkb doctor' for detail)\n", len(report.Inconsistencies))
	}

	return nil
}
