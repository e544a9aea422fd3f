package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/leandeep/internal/registry"
	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/spf13/cobra"
)

func newMarkersCmd(g *globals) *cobra.Command {
	var q registry.SearchQuery
	cmd := &cobra.Command{
		Use:   "markers [id]",
		Short: "List registry markers, or show one marker in full",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, _, err := g.loadEngine()
			if err != nil {
				return err
			}
			svc := service.NewMarkerService(e, g.logger())
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				d, err := svc.Get(args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				format := g.output
				if format == outputTable {
					format = outputYAML
				}
				return writeStructured(out, format, d)
			}

			list, err := svc.List(q)
			if err != nil {
				return err
			}
			if g.output != outputTable {
				return writeStructured(out, g.output, list)
			}

			tw := newTable(out, "ID", "LAYER", "FAMILY", "RATING", "PATTERNS", "TAGS")
			for _, m := range list.Markers {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					m.ID, m.Layer, dash(m.Family), strconv.Itoa(m.Rating), m.Patterns, strings.Join(m.Tags, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "\nshowing %d of %d\n", len(list.Markers), list.Total)
			return err
		},
	}
	cmd.Flags().StringVar(&q.Layer, "layer", "", "filter by layer (ATO, SEM, CLU, MEMA)")
	cmd.Flags().StringVar(&q.Family, "family", "", "filter by family")
	cmd.Flags().StringVar(&q.Tag, "tag", "", "filter by tag")
	cmd.Flags().StringVar(&q.Text, "search", "", "substring of id or description")
	cmd.Flags().IntVar(&q.Limit, "limit", service.MaxMarkerPage, "page size")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "page offset")
	return cmd
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
