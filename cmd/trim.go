package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/campus-crawler/internal/projection"
)

func newTrimCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Project a crawl output file down to domain, url, title and extraction method",
		Args:  cobra.NoArgs,
		// trim works offline and needs no service configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("open input: %w", err)
			}
			defer src.Close()
			dst, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create output: %w", err)
			}
			n, err := projection.Trim(src, dst)
			if closeErr := dst.Close(); err == nil && closeErr != nil {
				err = fmt.Errorf("close output: %w", closeErr)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d records from %s into %s\n", n, in, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "output.json", "crawl output file (JSON array of records)")
	cmd.Flags().StringVar(&out, "out", "output.small.json", "projected output file")
	return cmd
}
