package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nharju/photobridge/internal/mirror"
	"github.com/nharju/photobridge/internal/store"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Push every unmirrored row to the remote mirror",
		Long: "Walks the local store for rows the mirror has not confirmed and " +
			"re-pushes them, recovering from any length of remote outage.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !loadedCfg.MirrorEnabled() {
				return fmt.Errorf("no remote mirror configured (REMOTE_DB_URL is empty)")
			}

			logger := buildLogger(loadedCfg)

			s, err := store.Open(loadedCfg.Stores.LocalDBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			m := mirror.New(s, loadedCfg.Stores.RemoteDBURL, loadedCfg.Stores.RemoteDBKey,
				loadedCfg.Stores.MirrorQueueCap, loadedCfg.Stores.MirrorFlushInterval, logger)

			if err := m.Reconcile(cmd.Context()); err != nil {
				return err
			}

			statusf("mirror reconciled\n")

			return nil
		},
	}
}
