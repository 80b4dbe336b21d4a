package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newCheckpointsCommand(rf *rootFlags) *cobra.Command {
	var clearKeys bool
	cmd := &cobra.Command{
		Use:   "checkpoints [KEY...]",
		Short: "List saved extraction checkpoints, or remove them with --clear",
		Long: `Checkpoints lists the runs that stopped before finishing and can be resumed.
With --clear it deletes the named checkpoints, or all of them when no key is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			store, closeStore, err := openCheckpoints(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			if store == nil {
				return errors.New("checkpoints are disabled (CHECKPOINT_BACKEND=none)")
			}

			keys := args
			if len(keys) == 0 {
				if keys, err = store.Keys(); err != nil {
					return err
				}
			}

			if clearKeys {
				for _, k := range keys {
					if err := store.Delete(k); err != nil {
						return fmt.Errorf("delete %s: %w", k, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d checkpoint(s)\n", len(keys))
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Key", "Completed", "Chunks", "Saved")
			for _, k := range keys {
				cp, err := store.Load(k)
				if err != nil {
					return fmt.Errorf("load %s: %w", k, err)
				}
				table.Append(k,
					strconv.Itoa(cp.LastCompletedIndex+1),
					strconv.Itoa(cp.TotalChunks),
					cp.Timestamp.Format(time.RFC3339))
			}
			return table.Render()
		},
	}
	cmd.Flags().BoolVar(&clearKeys, "clear", false, "delete instead of listing")
	return cmd
}
