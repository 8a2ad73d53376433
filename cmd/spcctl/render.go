package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/chosenoffset/spcwatch/pkg/spcwatch/capability"
	"github.com/chosenoffset/spcwatch/pkg/spcwatch/rules"
)

var (
	colorOK       = lipgloss.Color("#2ECC71")
	colorCritical = lipgloss.Color("#E74C3C")
	colorHigh     = lipgloss.Color("#E67E22")
	colorMedium   = lipgloss.Color("#F4D03F")
	colorLow      = lipgloss.Color("#5DADE2")
	colorMuted    = lipgloss.Color("#7F8C8D")
)

var styles = struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	OK      lipgloss.Style
	Box     lipgloss.Style
	Section lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true),
	Label:   lipgloss.NewStyle().Width(22),
	Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	OK:      lipgloss.NewStyle().Foreground(colorOK).Bold(true),
	Box:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
	Section: lipgloss.NewStyle().Bold(true).MarginTop(1),
}

func severityStyle(s rules.Severity) lipgloss.Style {
	st := lipgloss.NewStyle().Bold(true)
	switch s {
	case rules.SeverityCritical:
		return st.Foreground(colorCritical)
	case rules.SeverityHigh:
		return st.Foreground(colorHigh)
	case rules.SeverityMedium:
		return st.Foreground(colorMedium)
	}
	return st.Foreground(colorLow)
}

func row(label, value string) string {
	return styles.Label.Render(label) + value
}

func renderLimits(w io.Writer, title string, l rules.ControlLimits, extra ...string) {
	lines := []string{
		styles.Title.Render(title),
		row("Center line", fmt.Sprintf("%.4f", l.CenterLine)),
		row("UCL", fmt.Sprintf("%.4f", l.UCL)),
		row("LCL", fmt.Sprintf("%.4f", l.LCL)),
		row("Sigma", fmt.Sprintf("%.4f", l.Sigma())),
	}
	lines = append(lines, extra...)
	fmt.Fprintln(w, styles.Box.Render(strings.Join(lines, "\n")))
}

func renderReport(w io.Writer, n int, report *rules.EvaluationReport, recommendations []string) {
	if !report.HasViolations {
		fmt.Fprintf(w, "%s %d points, no rule violations\n", styles.OK.Render("IN CONTROL"), n)
	} else {
		s := report.Summary
		fmt.Fprintf(w, "%s %d violations in %d points (%s critical, %s high, %s medium, %s low)\n",
			severityStyle(rules.SeverityCritical).Render("OUT OF CONTROL"),
			report.TotalViolations, n,
			severityStyle(rules.SeverityCritical).Render(fmt.Sprint(s.TotalCritical)),
			severityStyle(rules.SeverityHigh).Render(fmt.Sprint(s.TotalHigh)),
			severityStyle(rules.SeverityMedium).Render(fmt.Sprint(s.TotalMedium)),
			severityStyle(rules.SeverityLow).Render(fmt.Sprint(s.TotalLow)))
	}

	for _, res := range report.Results() {
		if res.Passed {
			fmt.Fprintf(w, "  %s %s\n", styles.OK.Render("✓"), styles.Muted.Render(res.Rule+": "+res.Description))
			continue
		}
		sev := res.Violations[0].Severity
		fmt.Fprintf(w, "  %s %s: %s\n", severityStyle(sev).Render("✗"), res.Rule, res.Description)
		for _, span := range res.Spans() {
			where := fmt.Sprintf("point %d", span.Start)
			if span.End != span.Start {
				where = fmt.Sprintf("points %d-%d", span.Start, span.End)
			}
			fmt.Fprintf(w, "      %s %s: %s (%d windows)\n", severityStyle(span.Severity).Render(string(span.Severity)),
				where, span.Message, span.Count)
		}
	}

	if len(recommendations) > 0 {
		fmt.Fprintln(w, styles.Section.Render("Recommended actions"))
		for _, r := range recommendations {
			fmt.Fprintf(w, "  • %s\n", r)
		}
	}
}

func renderCapability(w io.Writer, r capability.Result, ci *capability.Interval) {
	lines := []string{
		styles.Title.Render("Process capability"),
		row("Samples", fmt.Sprint(r.N)),
		row("Mean / StdDev", fmt.Sprintf("%.4f / %.4f", r.Mean, r.StdDev)),
		row("Cp / Cpk", fmt.Sprintf("%.3f / %.3f", r.Cp, r.Cpk)),
		row("Pp / Ppk", fmt.Sprintf("%.3f / %.3f", r.Pp, r.Ppk)),
		row("Cpm", fmt.Sprintf("%.3f", r.Cpm)),
		row("Sigma level", fmt.Sprintf("%.2f (%s)", r.SigmaLevel, r.Interpretation.SigmaQuality)),
		row("DPMO / Yield", fmt.Sprintf("%.1f / %.4f%%", r.DPMO, r.Yield)),
	}
	if ci != nil {
		lines = append(lines, row(fmt.Sprintf("Cpk %.0f%% CI", ci.Confidence*100), fmt.Sprintf("%.3f to %.3f", ci.Lower, ci.Upper)))
	}
	fmt.Fprintln(w, styles.Box.Render(strings.Join(lines, "\n")))
	fmt.Fprintln(w, r.Interpretation.Overall)
	if r.Interpretation.Recommendation != "" {
		fmt.Fprintln(w, styles.Muted.Render(r.Interpretation.Recommendation))
	}
}
