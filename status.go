package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nharju/photobridge/internal/store"
)

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	Files      map[string]int64 `json:"files"`
	Duplicates int64            `json:"duplicates"`
	Batches    []batchStatusRow `json:"batches"`
	Mirror     *mirrorStatus    `json:"mirror,omitempty"`
	ErrorFiles []errorFileRow   `json:"errorFiles,omitempty"`
}

type batchStatusRow struct {
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Count       int64  `json:"count"`
}

type mirrorStatus struct {
	UnsyncedFiles   int64 `json:"unsyncedFiles"`
	UnsyncedBatches int64 `json:"unsyncedBatches"`
	UnsyncedLogs    int64 `json:"unsyncedLogs"`
}

type errorFileRow struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(loadedCfg)

			s, err := store.Open(loadedCfg.Stores.LocalDBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			out, err := collectStatus(cmd.Context(), s)
			if err != nil {
				return err
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(out)
			}

			renderStatus(out)

			return nil
		},
	}
}

func collectStatus(ctx context.Context, s *store.Store) (*statusOutput, error) {
	counts, err := s.CountFilesByStatus(ctx)
	if err != nil {
		return nil, err
	}

	dups, err := s.CountDuplicates(ctx)
	if err != nil {
		return nil, err
	}

	batches, err := s.CountBatches(ctx)
	if err != nil {
		return nil, err
	}

	errorFiles, err := s.ListErrorFiles(ctx)
	if err != nil {
		return nil, err
	}

	out := &statusOutput{
		Files:      make(map[string]int64, len(store.AllFileStatuses)),
		Duplicates: dups,
	}

	for _, status := range store.AllFileStatuses {
		out.Files[string(status)] = counts[status]
	}

	for _, bc := range batches {
		out.Batches = append(out.Batches, batchStatusRow{
			Destination: string(bc.Destination),
			Status:      string(bc.Status),
			Count:       bc.Count,
		})
	}

	for _, f := range errorFiles {
		out.ErrorFiles = append(out.ErrorFiles, errorFileRow{
			ID: f.ID, Filename: f.Filename, Error: f.ErrorMsg,
		})
	}

	if loadedCfg.MirrorEnabled() {
		files, batchCount, logs, err := s.UnsyncedCounts(ctx)
		if err != nil {
			return nil, err
		}

		out.Mirror = &mirrorStatus{
			UnsyncedFiles:   files,
			UnsyncedBatches: batchCount,
			UnsyncedLogs:    logs,
		}
	}

	return out, nil
}

func renderStatus(out *statusOutput) {
	fmt.Println("files:")

	rows := make([][]string, 0, len(store.AllFileStatuses))
	for _, status := range store.AllFileStatuses {
		rows = append(rows, []string{string(status), fmt.Sprint(out.Files[string(status)])})
	}

	printTable(os.Stdout, []string{"STATUS", "COUNT"}, rows)
	fmt.Printf("\nduplicates quarantined: %d\n", out.Duplicates)

	if len(out.Batches) > 0 {
		fmt.Println("\nbatches:")

		rows = rows[:0]
		for _, b := range out.Batches {
			rows = append(rows, []string{b.Destination, b.Status, fmt.Sprint(b.Count)})
		}

		printTable(os.Stdout, []string{"DESTINATION", "STATUS", "COUNT"}, rows)
	}

	if out.Mirror != nil {
		fmt.Printf("\nmirror backlog: %d files, %d batches, %d logs\n",
			out.Mirror.UnsyncedFiles, out.Mirror.UnsyncedBatches, out.Mirror.UnsyncedLogs)
	}

	if len(out.ErrorFiles) > 0 {
		fmt.Printf("\nfiles in error (%d):\n", len(out.ErrorFiles))

		rows = rows[:0]
		for _, f := range out.ErrorFiles {
			rows = append(rows, []string{f.ID, f.Filename, f.Error})
		}

		printTable(os.Stdout, []string{"ID", "FILE", "ERROR"}, rows)
		fmt.Println("\nuse 'photobridge reset-file <id>' to retry from scratch")
	}
}
