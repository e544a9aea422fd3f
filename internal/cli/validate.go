package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/spf13/cobra"
)

var errValidationFailed = errors.New("registry validation failed")

func newValidateCmd(g *globals) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load a registry and report markers per layer, failed patterns and invalid references",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				g.registryPath = args[0]
			}
			_, stats, err := g.loadEngine()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.output != outputTable {
				if err := writeStructured(out, g.output, stats); err != nil {
					return err
				}
			} else if err := writeStats(out, stats); err != nil {
				return err
			}

			if strict && (stats.PatternsFailed > 0 || len(stats.InvalidEntries) > 0 || len(stats.InvalidReferences) > 0) {
				return errValidationFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero on failed patterns, invalid entries or invalid references")
	return cmd
}

func writeStats(w io.Writer, s *registry.LoadStats) error {
	fmt.Fprintf(w, "registry: %s\n", s.Source)
	fmt.Fprintf(w, "markers:  %d\n\n", s.Markers)

	tw := newTable(w, "LAYER", "MARKERS")
	for _, l := range domain.AllLayers() {
		fmt.Fprintf(tw, "%s\t%d\n", l, s.PerLayer[string(l)])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\npatterns: %d compiled, %d failed, %d skipped\n",
		s.PatternsTotal-s.PatternsFailed, s.PatternsFailed, s.PatternsSkipped)
	writeList(w, "invalid entries", s.InvalidEntries)
	writeList(w, "invalid references", s.InvalidReferences)
	return nil
}

func writeList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s (%d):\n", title, len(items))
	for _, it := range items {
		fmt.Fprintf(w, "  %s\n", it)
	}
}
