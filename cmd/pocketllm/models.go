package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pocketllm/internal/registry"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List model artifacts in the models directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arts, err := registry.LoadDir(a.cfg.ModelsDir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tSTATUS")
			for _, m := range arts {
				status := "complete"
				if !m.Complete {
					status = "partial"
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\n", m.Name, m.Size, status)
			}
			return tw.Flush()
		},
	}
}
