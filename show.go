package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phobologic/apdev/internal/artifact"
	"github.com/phobologic/apdev/internal/toon"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME [TIMESTAMP]",
		Short: "Print a stored artifact",
		Long: `Show prints the artifact generated for NAME at TIMESTAMP: a TOON header
followed by the merged source. Without TIMESTAMP it lists the stored runs
for NAME.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := artifact.Open(ctx, a.cfg.Artifacts)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				records, err := store.List(ctx, args[0])
				if err != nil {
					return err
				}
				if len(records) == 0 {
					return fmt.Errorf("%s: %w", args[0], artifact.ErrNotFound)
				}
				_, _ = fmt.Fprintln(a.stdout, toon.EncodeRecords(records))
				return nil
			}

			r, err := store.Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "%s\n\n%s", toon.EncodeRecord(r), r.FunctionCode)
			return nil
		},
	}
}
