package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phobologic/apdev/internal/merge"
)

func newMergeCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "merge FILE...",
		Short: "Merge Python files into one module",
		Long: `Merge combines Python sources the way generated fragments are combined:
imports are deduplicated keeping the first alias, the last definition of each
function wins at the position of the first, and other statements keep their
order. If any file fails to parse, the files are concatenated instead and a
warning is printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fragments := make([]string, len(args))
			for i, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				fragments[i] = string(data)
			}

			m, err := a.merger()
			if err != nil {
				return err
			}
			res, err := m.Merge(cmd.Context(), fragments)
			if err != nil {
				return err
			}
			var de *merge.DegradationError
			if errors.As(res.Err, &de) {
				_, _ = fmt.Fprintf(a.stderr, "warning: %s: %v\n", args[de.Fragment], de.Err)
			}

			if out != "" {
				return os.WriteFile(out, []byte(res.Source), 0o644)
			}
			_, _ = fmt.Fprint(a.stdout, res.Source)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the merged source to this file")
	return cmd
}
