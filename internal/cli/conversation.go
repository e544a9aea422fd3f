package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"github.com/Harshitk-cp/leandeep/internal/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// conversationFile is the on-disk form: either this object or a bare list
// of messages.
type conversationFile struct {
	Messages  []domain.Message      `json:"messages" yaml:"messages"`
	WarmStart map[string]domain.VAD `json:"warm_start,omitempty" yaml:"warm_start,omitempty"`
}

type conversationOptions struct {
	file      string
	layers    []string
	threshold float64
	dynamics  bool
}

func newConversationCmd(g *globals) *cobra.Command {
	opts := &conversationOptions{}
	cmd := &cobra.Command{
		Use:   "conversation --file <path>",
		Short: "Analyze a conversation stored as JSON or YAML (- reads stdin as YAML)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := readConversation(cmd.InOrStdin(), opts.file)
			if err != nil {
				return err
			}
			svc, err := g.analysisService()
			if err != nil {
				return err
			}

			req := service.ConversationRequest{Messages: conv.Messages, Layers: opts.layers, WarmStart: conv.WarmStart}
			if cmd.Flags().Changed("threshold") {
				req.Threshold = &opts.threshold
			}

			out := cmd.OutOrStdout()
			if opts.dynamics {
				res, err := svc.AnalyzeDynamics(cmd.Context(), req)
				if err != nil {
					return err
				}
				if g.output != outputTable {
					return writeStructured(out, g.output, res)
				}
				return writeDynamics(out, res)
			}

			res, err := svc.AnalyzeConversation(cmd.Context(), req)
			if err != nil {
				return err
			}
			if g.output != outputTable {
				return writeStructured(out, g.output, res)
			}
			if err := writeDetections(out, res.Markers, true); err != nil {
				return err
			}
			return writePatterns(out, res.TemporalPatterns)
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "conversation file (.json, .yaml or .yml)")
	cmd.Flags().StringSliceVar(&opts.layers, "layers", nil, "layers to report (default all)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0.5, "minimum confidence")
	cmd.Flags().BoolVar(&opts.dynamics, "dynamics", false, "add UED metrics, state indices and speaker baselines")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readConversation(stdin io.Reader, path string) (*conversationFile, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}

	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".json") {
		unmarshal = json.Unmarshal
	}

	var conv conversationFile
	if err := unmarshal(data, &conv); err != nil {
		var msgs []domain.Message
		if errList := unmarshal(data, &msgs); errList != nil {
			return nil, fmt.Errorf("parse conversation %s: %w", path, err)
		}
		conv.Messages = msgs
	}
	return &conv, nil
}

func writePatterns(w io.Writer, patterns []domain.TemporalPattern) error {
	if len(patterns) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := newTable(w, "RECURRING MARKER", "FIRST", "LAST", "FREQUENCY", "TREND")
	for _, p := range patterns {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", p.MarkerID, p.FirstSeen, p.LastSeen, p.Frequency, p.Trend)
	}
	return tw.Flush()
}

func writeDynamics(w io.Writer, res *service.DynamicsAnalysis) error {
	if err := writeDetections(w, res.Markers, true); err != nil {
		return err
	}
	if err := writePatterns(w, res.TemporalPatterns); err != nil {
		return err
	}

	si := res.StateIndices
	fmt.Fprintf(w, "\nstate: trust %.3f  conflict %.3f  deesc %.3f  (%d markers)\n",
		si.Trust, si.Conflict, si.Deesc, si.ContributingMarkers)

	if u := res.UEDMetrics; u != nil {
		fmt.Fprintf(w, "ued: home base v=%.3f a=%.3f d=%.3f  rise %.3f  recovery %.3f  density %.3f\n",
			u.HomeBase.Valence, u.HomeBase.Arousal, u.HomeBase.Dominance, u.RiseRate, u.RecoveryRate, u.Density)
	} else {
		fmt.Fprintln(w, "ued: needs at least 3 messages")
	}

	fmt.Fprintln(w)
	tw := newTable(w, "MSG", "SPEAKER", "VALENCE", "AROUSAL", "SHIFT")
	for i, d := range res.SpeakerBaselines.PerMessageDelta {
		if d == nil {
			continue
		}
		shift := "-"
		if d.Shift != nil {
			shift = string(*d.Shift)
		}
		fmt.Fprintf(tw, "%s\t%s\t%+.3f\t%+.3f\t%s\n", strconv.Itoa(i), d.Speaker, d.DeltaV, d.DeltaA, shift)
	}
	return tw.Flush()
}
