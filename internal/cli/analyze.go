package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/spf13/cobra"
)

type analyzeOptions struct {
	layers    []string
	threshold float64
}

func newAnalyzeCmd(g *globals) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [text]",
		Short: "Detect markers in a single text (reads stdin when no text or - is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, args)
			if err != nil {
				return err
			}
			svc, err := g.analysisService()
			if err != nil {
				return err
			}

			req := service.TextRequest{Text: text, Layers: opts.layers}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &opts.threshold
			}
			res, err := svc.AnalyzeText(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if g.output != outputTable {
				return writeStructured(out, g.output, res)
			}
			if err := writeDetections(out, res.Markers, false); err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "\n%d markers, layers %s, %.1f ms\n",
				res.Meta.MarkersDetected, strings.Join(res.Meta.LayersScanned, "+"), res.Meta.ProcessingMS)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&opts.layers, "layers", nil, "layers to report (default ATO,SEM)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0.5, "minimum confidence")
	return cmd
}

func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}
