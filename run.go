package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nharju/photobridge/internal/ingest"
	"github.com/nharju/photobridge/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		flagPhase   string
		flagDryRun  bool
		flagInspect bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Long: "Runs the phase graph (ingest, dedupe, compress, stage, upload, " +
			"verify, sort) over the current state and prints the report.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(loadedCfg)
			ctx := shutdownContext(cmd.Context(), logger)

			rt, err := buildRuntime(ctx, loadedCfg, logger, runOptions{
				only:    flagPhase,
				inspect: flagInspect,
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			if flagDryRun {
				return printDryRun(ctx, rt)
			}

			if rt.icloudAdapter != nil {
				go watch2FA(ctx, rt.icloudAdapter)
			}

			report, err := rt.orch.Run(ctx)

			if !flagQuiet {
				report.Render(os.Stdout)
			}

			if rt.mirror != nil {
				rt.mirror.Flush(context.Background())
			}

			return err
		},
	}

	cmd.Flags().StringVar(&flagPhase, "phase", "", "run a single phase only (ingest, dedupe, compress, stage, upload_icloud, sync_pixel, verify, sort)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "show what would run without changing anything")
	cmd.Flags().BoolVar(&flagInspect, "inspect", false, "list detected upload controls instead of uploading")

	return cmd
}

// printDryRun reports pending work per status and which phases would run.
func printDryRun(ctx context.Context, rt *runtime) error {
	counts, err := rt.store.CountFilesByStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Println("dry run: no changes will be made")
	fmt.Println("\npending files by status:")

	for _, status := range store.AllFileStatuses {
		fmt.Printf("  %-13s %d\n", status, counts[status])
	}

	fmt.Printf("\nbatch caps: %d files, %s\n",
		rt.cfg.Bridge.MaxBatchFiles, formatSize(rt.cfg.Bridge.MaxBatchBytes))

	fmt.Println("\nphases:")

	for _, ph := range rt.orch.Phases {
		state := "enabled"
		if !ph.Enabled() {
			state = "disabled"
		}

		fmt.Printf("  %-14s %s\n", ph.Name(), state)
	}

	return nil
}

// watch2FA bridges the cloud downloader's 2FA prompt to the terminal: when
// the child asks for a code, prompt on stderr and forward one line from
// stdin.
func watch2FA(ctx context.Context, adapter *ingest.ICloudAdapter) {
	select {
	case <-ctx.Done():
		return
	case <-adapter.Pending2FA():
	}

	fmt.Fprint(os.Stderr, "\nTwo-factor code required. Enter code: ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return
	}

	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		return
	}

	if err := adapter.ProvideCode(code); err != nil {
		fmt.Fprintf(os.Stderr, "could not forward code: %v\n", err)
	}
}
