package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/Harshitk-cp/leandeep/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

// writeStructured renders v as JSON or YAML. YAML goes through the JSON form
// so field names match the HTTP API.
func writeStructured(w io.Writer, format string, v any) error {
	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func newTable(w io.Writer, headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	seps := make([]string, len(headers))
	for i, h := range headers {
		seps[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(seps, "\t"))
	return tw
}

func writeDetections(w io.Writer, dets []domain.Detection, withMessages bool) error {
	if len(dets) == 0 {
		_, err := fmt.Fprintln(w, "no markers detected")
		return err
	}

	headers := []string{"MARKER", "LAYER", "CONFIDENCE", "MATCHES"}
	if withMessages {
		headers = append(headers, "MESSAGES")
	}
	tw := newTable(w, headers...)
	for _, d := range dets {
		row := []string{d.MarkerID, string(d.Layer), strconv.FormatFloat(d.Confidence, 'f', 3, 64), matchSummary(d.Matches)}
		if withMessages {
			row = append(row, joinInts(d.MessageIndices))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// matchSummary shows the first matched span and how many more there are.
func matchSummary(ms []domain.Match) string {
	if len(ms) == 0 {
		return "-"
	}
	s := strconv.Quote(truncate(ms[0].MatchedText, 32))
	if len(ms) > 1 {
		s += fmt.Sprintf(" +%d", len(ms)-1)
	}
	return s
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
