package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/lingotalk/internal/artifact"
)

var sweepTTL time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete temporary artifacts older than the configured lifetime",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, flush, err := loadRuntime()
		if err != nil {
			return err
		}
		defer flush()

		ttl := cfg.TempFilesLifetime
		if sweepTTL > 0 {
			ttl = sweepTTL
		}
		store, err := artifact.New(cfg.TempDir, artifact.WithLogger(logger))
		if err != nil {
			return err
		}
		n := store.Sweep(ttl)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d file(s) from %s\n", n, store.Dir())
		return nil
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", 0, "override TEMP_FILES_LIFETIME")
}
