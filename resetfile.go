package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nharju/photobridge/internal/store"
)

func newResetFileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-file <id>",
		Short: "Reset an errored file back to downloaded",
		Long: "Clears a file's error state so the next run picks it up from the " +
			"beginning of the pipeline. Only files at status error can be reset.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := buildLogger(loadedCfg)

			s, err := store.Open(loadedCfg.Stores.LocalDBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			id := args[0]

			if err := s.ResetFile(cmd.Context(), id); err != nil {
				return err
			}

			statusf("file %s reset to downloaded\n", id)

			return nil
		},
	}
}

func newPruneLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-logs",
		Short: "Delete log rows older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := buildLogger(loadedCfg)

			s, err := store.Open(loadedCfg.Stores.LocalDBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			pruned, err := s.PruneLogs(cmd.Context(), loadedCfg.Logging.RetentionDays)
			if err != nil {
				return err
			}

			fmt.Printf("pruned %d log rows older than %d days\n",
				pruned, loadedCfg.Logging.RetentionDays)

			return nil
		},
	}
}
