package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/csvlens/internal/analysis"
	"github.com/KaramelBytes/csvlens/internal/chart"
	"github.com/KaramelBytes/csvlens/internal/insight"
	"github.com/KaramelBytes/csvlens/internal/session"
	"github.com/KaramelBytes/csvlens/internal/utils"
)

var (
	anaMetric    string
	anaLabel     string
	anaLimit     int
	anaBins      int
	anaRoles     bool
	anaSummary   bool
	anaChartsDir string
	anaFormat    string
	anaSheet     string
	anaDelimiter string
	anaDecimal   string
	anaMaxRows   int
)

// analyzeOutput is the --format json document.
type analyzeOutput struct {
	*analysis.Report
	Roles   *insight.Resolution `json:"roles,omitempty"`
	RawRole string              `json:"roles_raw,omitempty"`
	Summary string              `json:"summary,omitempty"`
	Charts  []string            `json:"charts,omitempty"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a CSV/TSV/XLSX file: schema, top factors and distribution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := currentConfig()
		if err != nil {
			return err
		}
		out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
		format := strings.ToLower(anaFormat)
		if format != "md" && format != "json" {
			return fmt.Errorf("unsupported --format: %s (use md|json)", anaFormat)
		}

		opt := analysis.DefaultOptions()
		opt.Sheet = anaSheet
		opt.MaxRows = c.MaxRows
		if cmd.Flags().Changed("max-rows") {
			opt.MaxRows = anaMaxRows
		}
		switch anaDelimiter {
		case "":
		case ",":
			opt.Delimiter = ','
		case "\t", "tab":
			opt.Delimiter = '\t'
		case ";":
			opt.Delimiter = ';'
		case "|", "pipe":
			opt.Delimiter = '|'
		default:
			return fmt.Errorf("unsupported --delimiter: %s", anaDelimiter)
		}
		switch strings.ToLower(strings.TrimSpace(anaDecimal)) {
		case ",", "comma":
			opt.DecimalSeparator = ','
		case "", ".", "dot":
		default:
			return fmt.Errorf("unsupported --decimal: %s (use '.'|'comma')", anaDecimal)
		}

		t, err := analysis.LoadFile(args[0], opt)
		if err != nil {
			return err
		}
		schema := analysis.Classify(t)
		debugf(errOut, "loaded %s: %d rows, numeric=%v non-numeric=%v", t.Name, t.Rows(), schema.Numeric, schema.NonNumeric)

		var (
			mapper     *insight.RoleMapper
			summarizer *insight.Summarizer
		)
		if anaRoles || anaSummary {
			if mapper, summarizer, err = buildInsight(c); err != nil {
				return err
			}
		}

		doc := analyzeOutput{}
		var res insight.Resolution
		if anaRoles {
			ra, err := mapper.Infer(cmd.Context(), schema.All(), c.APIKey)
			if err != nil {
				warnf(errOut, "role mapping unavailable: %v", err)
			} else {
				res = ra.Resolve(schema.All())
				doc.Roles = &res
				doc.RawRole = ra.Raw
				for _, rj := range res.Rejected {
					warnf(errOut, "ignored role %s=%s: %s", rj.Role, rj.Value, rj.Reason)
				}
			}
		}

		sel := session.Selection{Metric: anaMetric, Label: anaLabel}.WithDefaults(session.DefaultSelection(schema, res))
		if len(schema.All()) > 0 {
			if err := sel.Validate(schema); err != nil {
				return fmt.Errorf("%w (columns: %s)", err, strings.Join(schema.All(), ", "))
			}
		}
		limit := c.TopN
		if cmd.Flags().Changed("limit") {
			limit = anaLimit
		}
		bins := c.HistogramBins
		if cmd.Flags().Changed("bins") {
			bins = anaBins
		}
		doc.Report = analysis.BuildReport(t, analysis.ReportOptions{
			Metric:     sel.Metric,
			Label:      sel.Label,
			Limit:      limit,
			Bins:       bins,
			SampleRows: c.SampleRows,
		})

		if anaSummary {
			text, err := summarizer.Summarize(cmd.Context(), t, t.Name, c.APIKey)
			if err != nil {
				warnf(errOut, "summary unavailable: %v", err)
			} else {
				doc.Summary = text
			}
		}

		if anaChartsDir != "" {
			files, err := writeCharts(anaChartsDir, doc.Report)
			if err != nil {
				return err
			}
			doc.Charts = files
			for _, f := range files {
				okf(errOut, "Wrote %s", f)
			}
		}

		if format == "json" {
			b, err := utils.PrettyJSON(doc)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(b))
			return nil
		}
		fmt.Fprint(out, renderMarkdown(doc))
		return nil
	},
}

func renderMarkdown(doc analyzeOutput) string {
	var b strings.Builder
	b.WriteString(doc.Report.Markdown())
	if doc.Roles != nil {
		b.WriteString("\n[ROLES]\n")
		if len(doc.Roles.Roles) == 0 {
			b.WriteString("(none)\n")
		}
		for _, r := range insight.Roles {
			if col, ok := doc.Roles.Column(r); ok {
				fmt.Fprintf(&b, "- %s: %s\n", r, col)
			}
		}
	}
	if doc.Summary != "" {
		b.WriteString("\n[SUMMARY]\n")
		b.WriteString(strings.TrimRight(doc.Summary, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func writeCharts(dir string, rep *analysis.Report) ([]string, error) {
	var files []string
	for _, c := range []struct {
		name string
		draw func(*bytes.Buffer) error
	}{
		{"histogram.svg", func(b *bytes.Buffer) error { return chart.RenderHistogram(b, rep.Dist, chart.SVG) }},
		{"top-factors.svg", func(b *bytes.Buffer) error { return chart.RenderTopFactors(b, rep.Top, chart.SVG) }},
	} {
		var buf bytes.Buffer
		if err := c.draw(&buf); err != nil {
			return files, err
		}
		p := filepath.Join(dir, c.name)
		if err := utils.SafeWriteFile(p, buf.Bytes()); err != nil {
			return files, fmt.Errorf("write chart: %w", err)
		}
		files = append(files, p)
	}
	return files, nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&anaMetric, "metric", "", "numeric column to average and bin (default: first numeric column)")
	analyzeCmd.Flags().StringVar(&anaLabel, "label", "", "column to group by (default: first non-numeric column)")
	analyzeCmd.Flags().IntVar(&anaLimit, "limit", analysis.DefaultTopN, "number of top factors to show")
	analyzeCmd.Flags().IntVar(&anaBins, "bins", 0, "histogram bins (0 = Sturges' rule)")
	analyzeCmd.Flags().BoolVar(&anaRoles, "roles", false, "ask the model to map columns to RATING/MOTIVATOR/METRIC/CATEGORY")
	analyzeCmd.Flags().BoolVar(&anaSummary, "summary", false, "ask the model for a short summary of the first rows")
	analyzeCmd.Flags().StringVar(&anaChartsDir, "charts-dir", "", "write histogram.svg and top-factors.svg into this directory")
	analyzeCmd.Flags().StringVar(&anaFormat, "format", "md", "output format: md | json")
	analyzeCmd.Flags().StringVar(&anaSheet, "sheet", "", "XLSX: sheet name (default: first sheet)")
	analyzeCmd.Flags().StringVar(&anaDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab' | 'pipe'")
	analyzeCmd.Flags().StringVar(&anaDecimal, "decimal", "", "decimal separator for numbers: '.' | 'comma'")
	analyzeCmd.Flags().IntVar(&anaMaxRows, "max-rows", 0, "maximum rows to load (0 = unlimited)")
}
